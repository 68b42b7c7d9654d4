package chat

import (
	"context"
	"fmt"

	"hzchat-tcp/internal/pkg/errs"
	"hzchat-tcp/internal/pkg/protocol"
)

// RoomBroadcast delivers a packet to every member of room except (optionally)
// the sender. It holds the rooms lock for the duration of the fan-out so
// that, per spec.md §5, every member observes broadcasts to a room in the
// same total order in which the broadcast calls acquired the lock. A failed
// write to one member does not abort delivery to the rest.
func (reg *Registry) RoomBroadcast(room *Room, except *User, typ protocol.Type, payload []byte) {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	reg.roomBroadcastLocked(room, except, typ, payload)
}

// roomBroadcastLocked is RoomBroadcast's body for callers that already hold
// roomsMu, such as SendRoomMessage.
func (reg *Registry) roomBroadcastLocked(room *Room, except *User, typ protocol.Type, payload []byte) {
	for _, member := range room.Members {
		if member == except {
			continue
		}
		if err := member.Conn.Send(typ, payload); err != nil {
			reg.logger.Warn().Err(err).Str("nickname", member.Nickname).Msg("room broadcast write failed")
		}
	}
}

// SendRoomMessage persists body as a message from sender in room and fans it
// out to every member, insert and broadcast performed under one roomsMu
// acquisition. This is required by spec.md §5's ordering guarantee: two
// concurrent senders to the same room must insert and broadcast in the same
// relative order, which a separate lock acquisition for each step cannot
// promise.
func (reg *Registry) SendRoomMessage(ctx context.Context, room *Room, sender *User, body string) *errs.CustomError {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	if _, err := reg.store.InsertMessage(ctx, int64(room.ID), sender.Nickname, body); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to persist message")
		return errs.NewError(errs.ErrPersistenceFailed)
	}

	text := fmt.Sprintf("[%s] %s", sender.Nickname, body)
	reg.roomBroadcastLocked(room, sender, protocol.TypeMessage, []byte(text))
	if err := sender.Conn.Send(protocol.TypeMessage, []byte(text)); err != nil {
		reg.logger.Warn().Err(err).Str("nickname", sender.Nickname).Msg("room broadcast write failed")
	}

	return nil
}

// LobbyBroadcast delivers a packet to every connected user currently in the
// lobby (no room), except (optionally) the sender. Used for nickname-change
// announcements.
func (reg *Registry) LobbyBroadcast(except *User, typ protocol.Type, payload []byte) {
	reg.usersMu.RLock()
	defer reg.usersMu.RUnlock()

	for _, user := range reg.users {
		if user == except || user.Room != nil {
			continue
		}
		if err := user.Conn.Send(typ, payload); err != nil {
			reg.logger.Warn().Err(err).Str("nickname", user.Nickname).Msg("lobby broadcast write failed")
		}
	}
}
