package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"hzchat-tcp/internal/app/store"
	"hzchat-tcp/internal/pkg/errs"
	"hzchat-tcp/internal/pkg/logx"
	"hzchat-tcp/internal/pkg/protocol"
)

// Engine is the Command Engine (C4): one handler per packet type, each
// operating on the session's User and the registry (C3), persisting
// through the store (C5) where spec.md requires it.
type Engine struct {
	registry *Registry
	store    *store.Store
	logger   zerolog.Logger
}

// NewEngine constructs an Engine over reg and st.
func NewEngine(reg *Registry, st *store.Store) *Engine {
	return &Engine{
		registry: reg,
		store:    st,
		logger:   logx.Logger().With().Str("component", "engine").Logger(),
	}
}

// Dispatch routes one decoded packet to its handler. It reports whether the
// session should terminate after this call (QUIT, or the confirming
// delete_account).
func (e *Engine) Dispatch(ctx context.Context, user *User, pkt protocol.Packet) bool {
	if pkt.Type != protocol.TypeDeleteAccount {
		user.PendingDelete = false
	}

	switch pkt.Type {
	case protocol.TypeSetID:
		e.handleSetID(ctx, user, pkt.Payload)
	case protocol.TypeCreateRoom:
		e.handleCreateRoom(ctx, user, pkt.Payload)
	case protocol.TypeJoinRoom:
		e.handleJoinRoom(ctx, user, pkt.Payload)
	case protocol.TypeLeaveRoom:
		e.handleLeaveRoom(ctx, user)
	case protocol.TypeKickUser:
		e.handleKickUser(ctx, user, pkt.Payload)
	case protocol.TypeChangeRoomManager:
		e.handleChangeRoomManager(ctx, user, pkt.Payload)
	case protocol.TypeChangeRoomName:
		e.handleChangeRoomName(ctx, user, pkt.Payload)
	case protocol.TypeDeleteAccount:
		return e.handleDeleteAccount(ctx, user)
	case protocol.TypeDeleteMessage:
		e.handleDeleteMessage(ctx, user, pkt.Payload)
	case protocol.TypeListUsers:
		e.handleListUsers(user)
	case protocol.TypeListRooms:
		e.handleListRooms(user)
	case protocol.TypeHelp:
		e.handleHelp(user)
	case protocol.TypeQuit:
		e.handleQuit(user)
		return true
	case protocol.TypeMessage:
		e.handleMessage(ctx, user, pkt.Payload)
	default:
		e.sendError(user, errs.ErrUnexpectedPacketType)
	}

	return false
}

// ---- validation -----------------------------------------------------------

// ValidNickname reports whether s satisfies the 2-20 character nickname
// constraint (invariant I4), with no whitespace or control characters.
func ValidNickname(s string) bool {
	n := 0
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
		n++
	}
	return n >= 2 && n <= 20
}

func validRoomName(s string) bool {
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
		n++
	}
	return n >= 1 && n <= 31
}

func (e *Engine) sendError(user *User, code int) {
	ce := errs.NewError(code)
	if err := user.Conn.Send(protocol.TypeError, []byte(ce.Message)); err != nil {
		e.logger.Warn().Err(err).Str("nickname", user.Nickname).Msg("failed to deliver error packet")
	}
}

func (e *Engine) notify(user *User, typ protocol.Type, text string) {
	if err := user.Conn.Send(typ, []byte(text)); err != nil {
		e.logger.Warn().Err(err).Str("nickname", user.Nickname).Msg("failed to deliver response packet")
	}
}

// ---- id(new_id) -------------------------------------------------------

func (e *Engine) handleSetID(ctx context.Context, user *User, payload []byte) {
	newNick := string(payload)
	if !ValidNickname(newNick) {
		e.sendError(user, errs.ErrInvalidNickname)
		return
	}

	oldNick := user.Nickname
	if ce := e.registry.RenameUser(ctx, user, newNick); ce != nil {
		e.notify(user, protocol.TypeError, ce.Message)
		return
	}

	e.notify(user, protocol.TypeIDChange, fmt.Sprintf("Nickname changed to '%s'.", newNick))
	e.registry.LobbyBroadcast(user, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s is now known as %s.", oldNick, newNick)))
}

// ---- create(name) -------------------------------------------------------

func (e *Engine) handleCreateRoom(ctx context.Context, user *User, payload []byte) {
	if user.Room != nil {
		e.sendError(user, errs.ErrAlreadyInRoom)
		return
	}

	name := string(payload)
	if !validRoomName(name) {
		e.sendError(user, errs.ErrInvalidRoomName)
		return
	}

	room, ce := e.registry.AddRoom(ctx, name, user)
	if ce != nil {
		e.notify(user, protocol.TypeError, ce.Message)
		return
	}

	if ce := e.registry.AddMemberToRoom(ctx, room, user); ce != nil {
		e.logger.Error().Str("room", room.Name).Str("nickname", user.Nickname).Msg("failed to add room creator as member")
	}

	e.notify(user, protocol.TypeCreateRoom, fmt.Sprintf("Room '%s' (ID: %d) created and joined.", room.Name, room.ID))
}

// ---- join(id) -----------------------------------------------------------

func (e *Engine) handleJoinRoom(ctx context.Context, user *User, payload []byte) {
	if user.Room != nil {
		e.sendError(user, errs.ErrAlreadyInRoom)
		return
	}

	id, err := protocol.DecodeRoomID(payload)
	if err != nil || id == 0 {
		e.sendError(user, errs.ErrRoomNotFound)
		return
	}

	room := e.registry.FindRoomByID(id)
	if room == nil {
		e.sendError(user, errs.ErrRoomNotFound)
		return
	}

	if ce := e.registry.AddMemberToRoom(ctx, room, user); ce != nil {
		e.notify(user, protocol.TypeError, ce.Message)
		return
	}

	e.notify(user, protocol.TypeJoinRoom, fmt.Sprintf("Joined room '%s' (ID: %d).", room.Name, room.ID))

	earliest, err := e.store.EarliestJoinTime(ctx, int64(room.ID), user.Nickname)
	if err != nil {
		e.logger.Error().Err(err).Uint64("room_id", room.ID).Str("nickname", user.Nickname).Msg("failed to resolve earliest join time for history replay")
	} else {
		history, err := e.store.MessagesSince(ctx, int64(room.ID), earliest)
		if err != nil {
			e.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to load room history")
		}
		for _, m := range history {
			e.notify(user, protocol.TypeMessage, fmt.Sprintf("[%s] %s", m.SenderID, m.Context))
		}
	}

	e.registry.RoomBroadcast(room, user, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s joined the room.", user.Nickname)))
}

// ---- leave() --------------------------------------------------------------

func (e *Engine) handleLeaveRoom(ctx context.Context, user *User) {
	if user.Room == nil {
		e.sendError(user, errs.ErrNotInRoom)
		return
	}

	room := user.Room
	destroyed := e.registry.RemoveMemberFromRoom(ctx, room, user)

	e.notify(user, protocol.TypeLeaveRoom, fmt.Sprintf("Left room '%s'.", room.Name))

	if !destroyed {
		e.registry.RoomBroadcast(room, nil, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s left the room.", user.Nickname)))
	}
}

// ---- kick(target_id) ------------------------------------------------------

func (e *Engine) handleKickUser(ctx context.Context, user *User, payload []byte) {
	if user.Room == nil {
		e.sendError(user, errs.ErrNotInRoom)
		return
	}

	room := user.Room
	if room.Manager != user {
		e.sendError(user, errs.ErrNotManager)
		return
	}

	targetNick := string(payload)
	if targetNick == user.Nickname {
		e.sendError(user, errs.ErrSelfTarget)
		return
	}

	target := e.registry.FindUserByNickname(targetNick)
	if target == nil || target.Room != room {
		e.sendError(user, errs.ErrUserNotFound)
		return
	}

	destroyed := e.registry.RemoveMemberFromRoom(ctx, room, target)

	e.notify(target, protocol.TypeKickUser, fmt.Sprintf("You were removed from room '%s' by the manager.", room.Name))
	target.Conn.Close()

	if !destroyed {
		e.registry.RoomBroadcast(room, nil, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s was removed from the room.", target.Nickname)))
	}

	e.notify(user, protocol.TypeKickUser, fmt.Sprintf("Removed %s from the room.", target.Nickname))
}

// ---- manager(target_id) -----------------------------------------------

func (e *Engine) handleChangeRoomManager(ctx context.Context, user *User, payload []byte) {
	if user.Room == nil {
		e.sendError(user, errs.ErrNotInRoom)
		return
	}

	room := user.Room
	if room.Manager != user {
		e.sendError(user, errs.ErrNotManager)
		return
	}

	targetNick := string(payload)
	if targetNick == user.Nickname {
		e.sendError(user, errs.ErrSelfTarget)
		return
	}

	target := e.registry.FindUserByNickname(targetNick)
	if target == nil || target.Room != room {
		e.sendError(user, errs.ErrUserNotFound)
		return
	}

	if ce := e.registry.ReassignManager(ctx, room, target); ce != nil {
		e.notify(user, protocol.TypeError, ce.Message)
		return
	}

	e.registry.RoomBroadcast(room, nil, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s is now the manager of '%s'.", target.Nickname, room.Name)))
	e.notify(user, protocol.TypeChangeRoomManager, fmt.Sprintf("%s is now the manager.", target.Nickname))
}

// ---- change(new_name) -------------------------------------------------

func (e *Engine) handleChangeRoomName(ctx context.Context, user *User, payload []byte) {
	if user.Room == nil {
		e.sendError(user, errs.ErrNotInRoom)
		return
	}

	room := user.Room
	if room.Manager != user {
		e.sendError(user, errs.ErrNotManager)
		return
	}

	newName := string(payload)
	if !validRoomName(newName) {
		e.sendError(user, errs.ErrInvalidRoomName)
		return
	}

	if ce := e.registry.RenameRoom(ctx, room, newName); ce != nil {
		e.notify(user, protocol.TypeError, ce.Message)
		return
	}

	e.registry.RoomBroadcast(room, nil, protocol.TypeServerNotice, []byte(fmt.Sprintf("Room renamed to '%s'.", newName)))
	e.notify(user, protocol.TypeChangeRoomName, fmt.Sprintf("Room renamed to '%s'.", newName))
}

// ---- delete_account() -------------------------------------------------

func (e *Engine) handleDeleteAccount(ctx context.Context, user *User) bool {
	if !user.PendingDelete {
		user.PendingDelete = true
		e.notify(user, protocol.TypeDeleteAccount, "Send delete_account again to confirm permanent account deletion.")
		return false
	}

	if user.Room != nil {
		room := user.Room
		destroyed := e.registry.RemoveMemberFromRoom(ctx, room, user)
		if !destroyed {
			e.registry.RoomBroadcast(room, nil, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s left the room.", user.Nickname)))
		}
	}

	if err := e.store.DeleteUser(ctx, user.Nickname); err != nil {
		e.logger.Error().Err(err).Str("nickname", user.Nickname).Msg("failed to delete user row")
	}

	e.notify(user, protocol.TypeServerNotice, "Your account has been deleted. Goodbye.")
	e.registry.RemoveUser(ctx, user, true)
	user.Conn.Close()

	return true
}

// ---- delete_message(id) -------------------------------------------------

func (e *Engine) handleDeleteMessage(ctx context.Context, user *User, payload []byte) {
	id, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil || id == 0 {
		e.sendError(user, errs.ErrMessageNotFound)
		return
	}

	msg, err := e.store.GetMessage(ctx, int64(id))
	if errors.Is(err, store.ErrNotFound) {
		e.sendError(user, errs.ErrMessageNotFound)
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Uint64("message_id", id).Msg("failed to look up message")
		e.sendError(user, errs.ErrPersistenceFailed)
		return
	}

	room := e.registry.FindRoomByID(uint64(msg.RoomNo))
	if room == nil || user.Room != room {
		e.sendError(user, errs.ErrNotInRoom)
		return
	}

	if msg.SenderID != user.Nickname && room.Manager != user {
		e.sendError(user, errs.ErrNotManager)
		return
	}

	if err := e.store.DeleteMessageByID(ctx, int64(id)); err != nil {
		e.logger.Error().Err(err).Uint64("message_id", id).Msg("failed to delete message")
		e.sendError(user, errs.ErrPersistenceFailed)
		return
	}

	e.notify(user, protocol.TypeDeleteMessage, fmt.Sprintf("Message %d deleted.", id))
}

// ---- list_users() ---------------------------------------------------------

func (e *Engine) handleListUsers(user *User) {
	var names []string

	if user.Room != nil {
		names = e.registry.RoomMemberNicknames(user.Room)
	} else {
		for _, u := range e.registry.EnumerateConnectedUsers() {
			names = append(names, u.Nickname)
		}
	}

	e.notify(user, protocol.TypeListUsers, strings.Join(names, ", ")+"\n")
}

// ---- list_rooms() ---------------------------------------------------------

func (e *Engine) handleListRooms(user *User) {
	snaps := e.registry.EnumerateRooms()
	if len(snaps) == 0 {
		e.notify(user, protocol.TypeListRooms, "No rooms available.")
		return
	}

	parts := make([]string, len(snaps))
	for i, r := range snaps {
		parts[i] = fmt.Sprintf("ID %d: '%s' (%d members)", r.ID, r.Name, r.MemberCount)
	}
	e.notify(user, protocol.TypeListRooms, strings.Join(parts, ", "))
}

// ---- help() -----------------------------------------------------------

const helpText = "" +
	"id <nickname>: change your nickname\n" +
	"create <name>: create and join a new room\n" +
	"join <id>: join an existing room\n" +
	"leave: leave your current room\n" +
	"kick <nickname>: remove a user from your room (manager only)\n" +
	"manager <nickname>: transfer room management (manager only)\n" +
	"change <name>: rename your room (manager only)\n" +
	"delete_message <id>: delete a message you sent, or any in a room you manage\n" +
	"delete_account: delete your account (send twice to confirm)\n" +
	"list_users: list users in your room, or everyone if you are in the lobby\n" +
	"list_rooms: list every room and its member count\n" +
	"quit: disconnect\n"

func (e *Engine) handleHelp(user *User) {
	e.notify(user, protocol.TypeHelp, helpText)
}

// ---- plain text MESSAGE -------------------------------------------------

func (e *Engine) handleMessage(ctx context.Context, user *User, payload []byte) {
	if user.Room == nil {
		e.sendError(user, errs.ErrNotInRoom)
		return
	}

	if len(payload) == 0 {
		e.sendError(user, errs.ErrEmptyMessage)
		return
	}

	body := string(payload)
	if ce := e.registry.SendRoomMessage(ctx, user.Room, user, body); ce != nil {
		e.notify(user, protocol.TypeError, ce.Message)
		return
	}
}

// ---- QUIT ---------------------------------------------------------------

func (e *Engine) handleQuit(user *User) {
	e.notify(user, protocol.TypeQuit, "Goodbye.")
}
