/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific protocol and business errors, both
internally within the server and in the ERROR packets and ambient HTTP
responses sent to clients.
*/
package errs

// 1xxx: Wire protocol framing errors
const (
	// ErrBadMagic indicates a packet header carried an unrecognized magic value.
	ErrBadMagic = 1001

	// ErrOversizeLength indicates a packet's data_len exceeded the payload ceiling.
	ErrOversizeLength = 1002

	// ErrChecksumMismatch indicates a packet failed its trailing XOR checksum.
	ErrChecksumMismatch = 1003

	// ErrUnexpectedPacketType indicates a packet type was received out of
	// sequence (e.g. anything but SET_ID during the handshake).
	ErrUnexpectedPacketType = 1004
)

// 2xxx: Nickname and account errors
const (
	// ErrInvalidNickname indicates a nickname failed the 2-20 character check.
	ErrInvalidNickname = 2001

	// ErrNicknameTaken indicates the nickname is already in use (memory or store).
	ErrNicknameTaken = 2002

	// ErrAccountDeletePending indicates a repeat delete_account call is required to confirm.
	ErrAccountDeletePending = 2003
)

// 3xxx: Room and membership errors
const (
	// ErrInvalidRoomName indicates a room name failed the 1-31 character check.
	ErrInvalidRoomName = 3001

	// ErrRoomNameTaken indicates the room name is already in use.
	ErrRoomNameTaken = 3002

	// ErrRoomNotFound indicates the referenced room id does not exist.
	ErrRoomNotFound = 3003

	// ErrRoomFull indicates the room has reached its membership capacity.
	ErrRoomFull = 3004

	// ErrAlreadyInRoom indicates the user must leave their current room first.
	ErrAlreadyInRoom = 3005

	// ErrNotInRoom indicates the command requires current room membership.
	ErrNotInRoom = 3006

	// ErrNotManager indicates the command requires room-manager privilege.
	ErrNotManager = 3007

	// ErrSelfTarget indicates the user targeted themselves where another user was required.
	ErrSelfTarget = 3008

	// ErrUserNotFound indicates the referenced nickname does not exist or is not in the room.
	ErrUserNotFound = 3009
)

// 4xxx: Message errors
const (
	// ErrEmptyMessage indicates an empty MESSAGE payload was rejected.
	ErrEmptyMessage = 4001

	// ErrMessageNotFound indicates the referenced message id does not exist.
	ErrMessageNotFound = 4002
)

// 6xxx: Resource exhaustion
const (
	// ErrServerFull indicates the server's connected-user cap has been reached.
	ErrServerFull = 6001
)

// 5xxx: Internal system errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPersistenceFailed indicates a durable-store write failed.
	ErrPersistenceFailed = 5001
)
