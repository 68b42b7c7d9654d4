package admin_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzchat-tcp/internal/app/admin"
	"hzchat-tcp/internal/app/store"
)

func newTestConsole(t *testing.T) *admin.Console {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return admin.New(st)
}

func TestUsersAndUserInfo(t *testing.T) {
	console := newTestConsole(t)
	ctx := context.Background()

	out, shutdown := console.Handle(ctx, "users")
	assert.False(t, shutdown)
	assert.Equal(t, "no users", out)

	out, _ = console.Handle(ctx, "user_info alice")
	assert.Equal(t, "not found: alice", out)
}

func TestUnknownCommandPrintsUsage(t *testing.T) {
	console := newTestConsole(t)
	out, shutdown := console.Handle(context.Background(), "bogus")
	assert.False(t, shutdown)
	assert.Contains(t, out, "usage:")
}

func TestQuitRequestsShutdown(t *testing.T) {
	console := newTestConsole(t)
	_, shutdown := console.Handle(context.Background(), "quit")
	assert.True(t, shutdown)
}

func TestRecentUsersRejectsNonPositiveN(t *testing.T) {
	console := newTestConsole(t)
	out, shutdown := console.Handle(context.Background(), "recent_users 0")
	assert.False(t, shutdown)
	assert.Contains(t, out, "usage:")
}
