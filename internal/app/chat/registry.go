package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hzchat-tcp/internal/app/store"
	"hzchat-tcp/internal/pkg/errs"
	"hzchat-tcp/internal/pkg/logx"
)

// Registry is the State Registry (C3): the in-memory authoritative catalog
// of users and rooms, with membership links, guarded by usersMu and roomsMu
// plus the store package's own internal mutex, whose acquisition order is
// fixed top-to-bottom: users -> rooms -> store. A caller holding the users
// lock must never acquire rooms; the store's mutex sits at the bottom of the
// order, so store calls are made while holding either lock. Compound operations that touch
// both memory and the durable store acquire rooms, mutate memory, persist,
// then release.
type Registry struct {
	usersMu sync.RWMutex
	users   map[string]*User

	roomsMu     sync.RWMutex
	rooms       map[uint64]*Room
	roomsByName map[string]*Room
	nextRoomID  uint64

	store *store.Store

	maxRoomMembers int

	logger zerolog.Logger
}

// NewRegistry constructs a Registry backed by st. It resets every
// persisted user's connected flag to zero (stale state from a prior run)
// and seeds the room-id counter to one greater than the highest persisted
// room_no, per spec.md §3's room-id lifecycle rule.
func NewRegistry(ctx context.Context, st *store.Store, maxRoomMembers int) (*Registry, error) {
	if err := st.ResetConnectedFlags(ctx); err != nil {
		return nil, fmt.Errorf("registry: reset connected flags: %w", err)
	}

	maxNo, err := st.MaxRoomNo(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: seed room counter: %w", err)
	}

	return &Registry{
		users:          make(map[string]*User),
		rooms:          make(map[uint64]*Room),
		roomsByName:    make(map[string]*Room),
		nextRoomID:     maxNo + 1,
		store:          st,
		maxRoomMembers: maxRoomMembers,
		logger:         logx.Logger().With().Str("component", "registry").Logger(),
	}, nil
}

// ConnectedUserCount returns the number of currently connected users, used
// by the listener's accept-time server-full check.
func (reg *Registry) ConnectedUserCount() int {
	reg.usersMu.RLock()
	defer reg.usersMu.RUnlock()
	return len(reg.users)
}

// AddUser registers a new connected user under nickname, checking
// uniqueness against both the live registry and the durable store under a
// single acquisition of the users lock (so the check-then-insert is
// atomic). A persisted row that is marked disconnected does not block the
// nickname: the user reconnects and the row is marked connected again.
func (reg *Registry) AddUser(ctx context.Context, user *User) *errs.CustomError {
	reg.usersMu.Lock()
	defer reg.usersMu.Unlock()

	if _, exists := reg.users[user.Nickname]; exists {
		return errs.NewError(errs.ErrNicknameTaken)
	}

	row, err := reg.store.GetUserInfo(ctx, user.Nickname)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		reg.logger.Error().Err(err).Str("nickname", user.Nickname).Msg("failed to check nickname existence")
		return errs.NewError(errs.ErrPersistenceFailed)
	}
	if err == nil && row.Connected {
		return errs.NewError(errs.ErrNicknameTaken)
	}

	if err := reg.store.UpsertUser(ctx, user.Nickname); err != nil {
		reg.logger.Error().Err(err).Str("nickname", user.Nickname).Msg("failed to persist new user")
		return errs.NewError(errs.ErrPersistenceFailed)
	}

	reg.users[user.Nickname] = user
	return nil
}

// RemoveUser unregisters a connected user. Unless accountDeleted is set (the
// account was just deleted, so there is no row left to update), it marks
// the user disconnected in the store.
func (reg *Registry) RemoveUser(ctx context.Context, user *User, accountDeleted bool) {
	reg.usersMu.Lock()
	if current, ok := reg.users[user.Nickname]; ok && current == user {
		delete(reg.users, user.Nickname)
	}
	reg.usersMu.Unlock()

	if accountDeleted {
		return
	}

	if err := reg.store.SetConnected(ctx, user.Nickname, false); err != nil {
		reg.logger.Error().Err(err).Str("nickname", user.Nickname).Msg("failed to persist disconnect")
	}
}

// FindUserByNickname returns the connected user with this nickname, or nil.
func (reg *Registry) FindUserByNickname(nickname string) *User {
	reg.usersMu.RLock()
	defer reg.usersMu.RUnlock()
	return reg.users[nickname]
}

// RenameUser validates newNick's uniqueness and renames user in both the
// registry and the store.
func (reg *Registry) RenameUser(ctx context.Context, user *User, newNick string) *errs.CustomError {
	reg.usersMu.Lock()
	defer reg.usersMu.Unlock()

	if _, exists := reg.users[newNick]; exists {
		return errs.NewError(errs.ErrNicknameTaken)
	}

	taken, err := reg.store.UserExists(ctx, newNick)
	if err != nil {
		reg.logger.Error().Err(err).Str("nickname", newNick).Msg("failed to check nickname existence")
		return errs.NewError(errs.ErrPersistenceFailed)
	}
	if taken {
		return errs.NewError(errs.ErrNicknameTaken)
	}

	if err := reg.store.RenameUser(ctx, user.Nickname, newNick); err != nil {
		reg.logger.Error().Err(err).Str("old", user.Nickname).Str("new", newNick).Msg("failed to persist rename")
		return errs.NewError(errs.ErrPersistenceFailed)
	}

	delete(reg.users, user.Nickname)
	user.Nickname = newNick
	reg.users[newNick] = user
	return nil
}

// UserSnapshot is an immutable view of a connected user, safe to hand to callers outside the registry.
type UserSnapshot struct {
	Nickname string
	InRoom   bool
}

// EnumerateConnectedUsers returns a snapshot of every currently connected user.
func (reg *Registry) EnumerateConnectedUsers() []UserSnapshot {
	reg.usersMu.RLock()
	defer reg.usersMu.RUnlock()

	out := make([]UserSnapshot, 0, len(reg.users))
	for _, u := range reg.users {
		out = append(out, UserSnapshot{Nickname: u.Nickname, InRoom: u.Room != nil})
	}
	return out
}

// ---- Rooms ------------------------------------------------------------

// AddRoom creates and persists a new room managed by creator. On a
// persistence failure the in-memory insertion is rolled back.
func (reg *Registry) AddRoom(ctx context.Context, name string, creator *User) (*Room, *errs.CustomError) {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	if _, exists := reg.roomsByName[name]; exists {
		return nil, errs.NewError(errs.ErrRoomNameTaken)
	}

	taken, err := reg.store.RoomNameExists(ctx, name)
	if err != nil {
		reg.logger.Error().Err(err).Str("name", name).Msg("failed to check room name existence")
		return nil, errs.NewError(errs.ErrPersistenceFailed)
	}
	if taken {
		return nil, errs.NewError(errs.ErrRoomNameTaken)
	}

	id := reg.nextRoomID
	room := &Room{
		ID:        id,
		Name:      name,
		Manager:   creator,
		CreatedAt: time.Now(),
	}

	reg.rooms[id] = room
	reg.roomsByName[name] = room

	if err := reg.store.InsertRoom(ctx, int64(id), name, creator.Nickname); err != nil {
		delete(reg.rooms, id)
		delete(reg.roomsByName, name)
		reg.logger.Error().Err(err).Str("name", name).Msg("failed to persist new room")
		return nil, errs.NewError(errs.ErrPersistenceFailed)
	}

	reg.nextRoomID++
	return room, nil
}

// FindRoomByID returns the room with this id, or nil.
func (reg *Registry) FindRoomByID(id uint64) *Room {
	reg.roomsMu.RLock()
	defer reg.roomsMu.RUnlock()
	return reg.rooms[id]
}

// FindRoomByName returns the room with this name, or nil.
func (reg *Registry) FindRoomByName(name string) *Room {
	reg.roomsMu.RLock()
	defer reg.roomsMu.RUnlock()
	return reg.roomsByName[name]
}

// AddMemberToRoom appends user to room's membership, rejecting if the user
// is already a member or the room is at capacity.
func (reg *Registry) AddMemberToRoom(ctx context.Context, room *Room, user *User) *errs.CustomError {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	if room.IsMember(user) {
		return errs.NewError(errs.ErrAlreadyInRoom)
	}

	if reg.maxRoomMembers > 0 && len(room.Members) >= reg.maxRoomMembers {
		return errs.NewError(errs.ErrRoomFull)
	}

	room.Members = append(room.Members, user)
	user.Room = room

	if err := reg.store.InsertRoomUser(ctx, int64(room.ID), user.Nickname); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Str("nickname", user.Nickname).Msg("failed to persist room membership")
	}
	if err := reg.store.UpdateMemberCount(ctx, int64(room.ID), len(room.Members)); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to persist member count")
	}

	return nil
}

// RemoveMemberFromRoom unlinks user from room. If that empties the room, the
// room is destroyed and destroyed reports true.
func (reg *Registry) RemoveMemberFromRoom(ctx context.Context, room *Room, user *User) (destroyed bool) {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	idx := -1
	for i, m := range room.Members {
		if m == user {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	room.Members = append(room.Members[:idx], room.Members[idx+1:]...)
	user.Room = nil

	if err := reg.store.DeleteRoomUser(ctx, int64(room.ID), user.Nickname); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Str("nickname", user.Nickname).Msg("failed to persist room_user removal")
	}

	if len(room.Members) == 0 {
		reg.destroyRoomLocked(ctx, room)
		return true
	}

	if err := reg.store.UpdateMemberCount(ctx, int64(room.ID), len(room.Members)); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to persist member count")
	}
	return false
}

// destroyRoomLocked removes room from the registry and the store. Callers
// must already hold roomsMu.
func (reg *Registry) destroyRoomLocked(ctx context.Context, room *Room) {
	delete(reg.rooms, room.ID)
	delete(reg.roomsByName, room.Name)

	if err := reg.store.DeleteRoom(ctx, int64(room.ID)); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to persist room destruction")
	}
}

// ReassignManager changes room's manager to newManager and persists the change.
func (reg *Registry) ReassignManager(ctx context.Context, room *Room, newManager *User) *errs.CustomError {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	room.Manager = newManager

	if err := reg.store.ReassignManager(ctx, int64(room.ID), newManager.Nickname); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to persist manager reassignment")
		return errs.NewError(errs.ErrPersistenceFailed)
	}
	return nil
}

// RenameRoom validates newName's uniqueness and renames room in both the
// registry and the store.
func (reg *Registry) RenameRoom(ctx context.Context, room *Room, newName string) *errs.CustomError {
	reg.roomsMu.Lock()
	defer reg.roomsMu.Unlock()

	if _, exists := reg.roomsByName[newName]; exists {
		return errs.NewError(errs.ErrRoomNameTaken)
	}

	taken, err := reg.store.RoomNameExists(ctx, newName)
	if err != nil {
		reg.logger.Error().Err(err).Str("name", newName).Msg("failed to check room name existence")
		return errs.NewError(errs.ErrPersistenceFailed)
	}
	if taken {
		return errs.NewError(errs.ErrRoomNameTaken)
	}

	if err := reg.store.RenameRoom(ctx, int64(room.ID), newName); err != nil {
		reg.logger.Error().Err(err).Uint64("room_id", room.ID).Msg("failed to persist room rename")
		return errs.NewError(errs.ErrPersistenceFailed)
	}

	delete(reg.roomsByName, room.Name)
	room.Name = newName
	reg.roomsByName[newName] = room
	return nil
}

// RoomMemberNicknames returns a snapshot of room's current member nicknames.
func (reg *Registry) RoomMemberNicknames(room *Room) []string {
	reg.roomsMu.RLock()
	defer reg.roomsMu.RUnlock()
	return room.MemberNicknames()
}

// RoomSnapshot is an immutable view of a room, safe to hand to callers outside the registry.
type RoomSnapshot struct {
	ID          uint64
	Name        string
	MemberCount int
}

// CloseAllConnections closes every currently connected user's socket, used
// during server shutdown (spec.md §4.2's "closes every user socket" step).
func (reg *Registry) CloseAllConnections() {
	reg.usersMu.RLock()
	defer reg.usersMu.RUnlock()

	for _, u := range reg.users {
		u.Conn.Close()
	}
}

// EnumerateRooms returns a snapshot of every currently registered room.
func (reg *Registry) EnumerateRooms() []RoomSnapshot {
	reg.roomsMu.RLock()
	defer reg.roomsMu.RUnlock()

	out := make([]RoomSnapshot, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, RoomSnapshot{ID: r.ID, Name: r.Name, MemberCount: len(r.Members)})
	}
	return out
}
