package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzchat-tcp/internal/app/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertUserThenUserExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	exists, err := st.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, st.UpsertUser(ctx, "alice"))

	exists, err = st.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRenameUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.RenameUser(ctx, "alice", "alicia"))

	exists, err := st.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = st.UserExists(ctx, "alicia")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteUserCascadesRoomUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.UpsertUser(ctx, "bob"))
	require.NoError(t, st.InsertRoom(ctx, 1, "lounge", "bob"))
	require.NoError(t, st.InsertRoomUser(ctx, 1, "alice"))

	require.NoError(t, st.DeleteUser(ctx, "alice"))

	_, err := st.EarliestJoinTime(ctx, 1, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetConnectedFlags(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.ResetConnectedFlags(ctx))

	info, err := st.GetUserInfo(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, info.Connected)
}

func TestRoomNameExistsAndMaxRoomNo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	maxNo, err := st.MaxRoomNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxNo)

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.InsertRoom(ctx, 7, "lounge", "alice"))

	exists, err := st.RoomNameExists(ctx, "lounge")
	require.NoError(t, err)
	assert.True(t, exists)

	maxNo, err = st.MaxRoomNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), maxNo)
}

func TestDeleteRoomCascadesMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.InsertRoom(ctx, 1, "lounge", "alice"))

	msg, err := st.InsertMessage(ctx, 1, "alice", "hello")
	require.NoError(t, err)

	require.NoError(t, st.DeleteRoom(ctx, 1))

	_, err = st.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessagesSinceOrdersByTime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.InsertRoom(ctx, 1, "lounge", "alice"))

	first, err := st.InsertMessage(ctx, 1, "alice", "first")
	require.NoError(t, err)
	_, err = st.InsertMessage(ctx, 1, "alice", "second")
	require.NoError(t, err)

	msgs, err := st.MessagesSince(ctx, 1, first.Timestamp.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Context)
	assert.Equal(t, "second", msgs[1].Context)
}

func TestEarliestJoinTime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.InsertRoom(ctx, 1, "lounge", "alice"))
	require.NoError(t, st.InsertRoomUser(ctx, 1, "alice"))

	// Re-inserting must not move the join time forward (INSERT OR IGNORE).
	require.NoError(t, st.InsertRoomUser(ctx, 1, "alice"))

	joinTime, err := st.EarliestJoinTime(ctx, 1, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), joinTime, 5*time.Second)
}

func TestDeleteMessageByID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, "alice"))
	require.NoError(t, st.InsertRoom(ctx, 1, "lounge", "alice"))

	msg, err := st.InsertMessage(ctx, 1, "alice", "hello")
	require.NoError(t, err)

	require.NoError(t, st.DeleteMessageByID(ctx, msg.ID))

	_, err = st.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
