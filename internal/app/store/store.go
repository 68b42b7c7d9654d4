/*
Package store is the persistence layer (C5): a thin, mutex-guarded wrapper
over the sqlite-backed relational store. It exposes exactly the operation
set spec.md's persistence layer calls for — no query composition or
business-rule enforcement lives here, that belongs to the registry and
command engine above it.
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hzchat-tcp/internal/app/db"
	"hzchat-tcp/internal/pkg/logx"
)

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// User mirrors a row of the user table.
type User struct {
	ID        int64
	UserID    string
	Connected bool
	Timestamp time.Time
}

// Room mirrors a row of the room table.
type Room struct {
	ID          int64
	RoomNo      int64
	RoomName    string
	ManagerID   string
	MemberCount int
	CreatedTime time.Time
}

// Message mirrors a row of the message table.
type Message struct {
	ID        int64
	RoomNo    int64
	SenderID  string
	Context   string
	Timestamp time.Time
}

// Store serializes every access to the underlying *sql.DB behind a single
// mutex, matching spec.md §4.4's "store mutex" and §4.7's "each operation
// acquires the store mutex for the duration of a prepared-statement cycle".
type Store struct {
	mu     sync.Mutex
	sqlDB  *sql.DB
	logger zerolog.Logger
}

// Open opens the sqlite file at path (applying pragmas and migrations via
// the db package) and returns a ready Store.
func Open(path string) (*Store, error) {
	sqlDB, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		sqlDB:  sqlDB,
		logger: logx.Logger().With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// ---- Users ----------------------------------------------------------------

// UpsertUser inserts a new user row, or marks an existing one connected,
// matching add_user's "insert-or-update-connected" contract.
func (s *Store) UpsertUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO user (user_id, connected) VALUES (?, 1)
		ON CONFLICT(user_id) DO UPDATE SET connected = 1
	`, userID)
	if err != nil {
		return fmt.Errorf("store: upsert user %q: %w", userID, err)
	}
	return nil
}

// DeleteUser removes a user row (cascading room_user rows).
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM user WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("store: delete user %q: %w", userID, err)
	}
	return nil
}

// RenameUser changes a user's nickname in place.
func (s *Store) RenameUser(ctx context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `UPDATE user SET user_id = ? WHERE user_id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("store: rename user %q -> %q: %w", oldID, newID, err)
	}
	return nil
}

// SetConnected updates a user's connected flag.
func (s *Store) SetConnected(ctx context.Context, userID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `UPDATE user SET connected = ? WHERE user_id = ?`, boolToInt(connected), userID)
	if err != nil {
		return fmt.Errorf("store: set connected for %q: %w", userID, err)
	}
	return nil
}

// UserExists reports whether userID has a row in the user table.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.sqlDB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM user WHERE user_id = ?)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check user exists %q: %w", userID, err)
	}
	return exists, nil
}

// GetUserInfo returns the full row for userID.
func (s *Store) GetUserInfo(ctx context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u User
	var connected int
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT id, user_id, connected, timestamp FROM user WHERE user_id = ?
	`, userID).Scan(&u.ID, &u.UserID, &connected, &u.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user info %q: %w", userID, err)
	}
	u.Connected = connected != 0
	return u, nil
}

// EnumerateUsers returns every persisted user row.
func (s *Store) EnumerateUsers(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, user_id, connected, timestamp FROM user ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: enumerate users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// RecentUsers returns the most recently created limit users, most recent first.
func (s *Store) RecentUsers(ctx context.Context, limit int) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, user_id, connected, timestamp FROM user ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ResetConnectedFlags zeroes every user's connected flag; called once at startup.
func (s *Store) ResetConnectedFlags(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `UPDATE user SET connected = 0`)
	if err != nil {
		return fmt.Errorf("store: reset connected flags: %w", err)
	}
	return nil
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	var out []User
	for rows.Next() {
		var u User
		var connected int
		if err := rows.Scan(&u.ID, &u.UserID, &connected, &u.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.Connected = connected != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---- Rooms ------------------------------------------------------------

// InsertRoom persists a new room row.
func (s *Store) InsertRoom(ctx context.Context, roomNo int64, name, managerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO room (room_no, room_name, manager_id, member_count) VALUES (?, ?, ?, 0)
	`, roomNo, name, managerID)
	if err != nil {
		return fmt.Errorf("store: insert room %q: %w", name, err)
	}
	return nil
}

// DeleteRoom removes a room row (cascading room_user and message rows).
func (s *Store) DeleteRoom(ctx context.Context, roomNo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM room WHERE room_no = ?`, roomNo)
	if err != nil {
		return fmt.Errorf("store: delete room %d: %w", roomNo, err)
	}
	return nil
}

// RenameRoom changes a room's name.
func (s *Store) RenameRoom(ctx context.Context, roomNo int64, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `UPDATE room SET room_name = ? WHERE room_no = ?`, newName, roomNo)
	if err != nil {
		return fmt.Errorf("store: rename room %d: %w", roomNo, err)
	}
	return nil
}

// ReassignManager updates a room's manager_id.
func (s *Store) ReassignManager(ctx context.Context, roomNo int64, newManagerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `UPDATE room SET manager_id = ? WHERE room_no = ?`, newManagerID, roomNo)
	if err != nil {
		return fmt.Errorf("store: reassign manager for room %d: %w", roomNo, err)
	}
	return nil
}

// UpdateMemberCount overwrites a room's persisted member_count.
func (s *Store) UpdateMemberCount(ctx context.Context, roomNo int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `UPDATE room SET member_count = ? WHERE room_no = ?`, count, roomNo)
	if err != nil {
		return fmt.Errorf("store: update member count for room %d: %w", roomNo, err)
	}
	return nil
}

// GetRoomByNo returns the row for roomNo.
func (s *Store) GetRoomByNo(ctx context.Context, roomNo int64) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scanRoomRow(s.sqlDB.QueryRowContext(ctx, `
		SELECT id, room_no, room_name, COALESCE(manager_id, ''), member_count, created_time
		FROM room WHERE room_no = ?
	`, roomNo))
}

// GetRoomByName returns the row for a given room name.
func (s *Store) GetRoomByName(ctx context.Context, name string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scanRoomRow(s.sqlDB.QueryRowContext(ctx, `
		SELECT id, room_no, room_name, COALESCE(manager_id, ''), member_count, created_time
		FROM room WHERE room_name = ?
	`, name))
}

func (s *Store) scanRoomRow(row *sql.Row) (Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.RoomNo, &r.RoomName, &r.ManagerID, &r.MemberCount, &r.CreatedTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("store: scan room: %w", err)
	}
	return r, nil
}

// RoomNameExists reports whether a room with this name is already persisted.
func (s *Store) RoomNameExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.sqlDB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM room WHERE room_name = ?)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check room name exists %q: %w", name, err)
	}
	return exists, nil
}

// EnumerateRooms returns every persisted room row.
func (s *Store) EnumerateRooms(ctx context.Context) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, room_no, room_name, COALESCE(manager_id, ''), member_count, created_time
		FROM room ORDER BY room_no
	`)
	if err != nil {
		return nil, fmt.Errorf("store: enumerate rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.RoomNo, &r.RoomName, &r.ManagerID, &r.MemberCount, &r.CreatedTime); err != nil {
			return nil, fmt.Errorf("store: scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxRoomNo returns the largest persisted room_no, or 0 if no room has ever been created.
func (s *Store) MaxRoomNo(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(room_no) FROM room`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: max room_no: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// ---- RoomUser -----------------------------------------------------------

// InsertRoomUser records a join, ignoring the call if the (room, user) pair already exists.
func (s *Store) InsertRoomUser(ctx context.Context, roomNo int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_user (room_no, user_id) VALUES (?, ?)
	`, roomNo, userID)
	if err != nil {
		return fmt.Errorf("store: insert room_user (%d, %q): %w", roomNo, userID, err)
	}
	return nil
}

// DeleteRoomUser removes a membership row.
func (s *Store) DeleteRoomUser(ctx context.Context, roomNo int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `
		DELETE FROM room_user WHERE room_no = ? AND user_id = ?
	`, roomNo, userID)
	if err != nil {
		return fmt.Errorf("store: delete room_user (%d, %q): %w", roomNo, userID, err)
	}
	return nil
}

// EarliestJoinTime returns the join_time recorded for (roomNo, userID).
func (s *Store) EarliestJoinTime(ctx context.Context, roomNo int64, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t time.Time
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT join_time FROM room_user WHERE room_no = ? AND user_id = ?
	`, roomNo, userID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: earliest join time (%d, %q): %w", roomNo, userID, err)
	}
	return t, nil
}

// ---- Messages -----------------------------------------------------------

// InsertMessage persists a chat message and returns its auto-assigned id and timestamp.
func (s *Store) InsertMessage(ctx context.Context, roomNo int64, senderID, body string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO message (room_no, sender_id, context) VALUES (?, ?, ?)
	`, roomNo, senderID, body)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}

	var m Message
	err = s.sqlDB.QueryRowContext(ctx, `
		SELECT id, room_no, sender_id, context, timestamp FROM message WHERE id = ?
	`, id).Scan(&m.ID, &m.RoomNo, &m.SenderID, &m.Context, &m.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("store: reload inserted message: %w", err)
	}
	return m, nil
}

// GetMessage looks up a message by id, for the command engine to check sender/manager authorization before deleting.
func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m Message
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT id, room_no, sender_id, context, timestamp FROM message WHERE id = ?
	`, id).Scan(&m.ID, &m.RoomNo, &m.SenderID, &m.Context, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("store: get message %d: %w", id, err)
	}
	return m, nil
}

// DeleteMessageByID removes a message row.
func (s *Store) DeleteMessageByID(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete message %d: %w", id, err)
	}
	return nil
}

// MessagesSince streams every message of roomNo with timestamp >= since, oldest first.
func (s *Store) MessagesSince(ctx context.Context, roomNo int64, since time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, room_no, sender_id, context, timestamp FROM message
		WHERE room_no = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, roomNo, since)
	if err != nil {
		return nil, fmt.Errorf("store: messages since for room %d: %w", roomNo, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomNo, &m.SenderID, &m.Context, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
