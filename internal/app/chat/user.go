/*
Package chat holds the in-memory entities (User, Room), the State Registry
that owns them under an explicit lock-ordering discipline, the broadcast
primitives, and the command engine that implements every client-facing
operation.
*/
package chat

import (
	"hzchat-tcp/internal/pkg/protocol"
)

// Conn is the narrow interface the registry and command engine need from a
// session in order to deliver packets to it. internal/app/session.Session
// implements this; keeping the dependency this way round (chat does not
// import session) avoids an import cycle between the per-connection
// handler and the state it reads and mutates.
type Conn interface {
	Send(typ protocol.Type, payload []byte) error
	RemoteAddr() string
	Close() error
}

// User is the in-memory representation of a connected chat participant.
// A disconnected user has no live entry in the registry; its durable
// identity is the corresponding row in the user table.
type User struct {
	// Nickname is this user's current display name, 2-20 characters, unique
	// among connected users and persisted rows (invariant I4).
	Nickname string

	// Conn is the live connection used to deliver packets to this user.
	Conn Conn

	// Room is the room this user currently belongs to, or nil while in the lobby (invariant I1).
	Room *Room

	// PendingDelete is set by the first delete_account call and cleared by
	// any other command; a second delete_account while set completes the
	// two-phase account deletion.
	PendingDelete bool
}
