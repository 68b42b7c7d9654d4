package chat_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzchat-tcp/internal/app/chat"
	"hzchat-tcp/internal/app/store"
	"hzchat-tcp/internal/pkg/errs"
	"hzchat-tcp/internal/pkg/protocol"
)

// stubConn is a minimal chat.Conn used to exercise the registry and
// command engine without a real net.Conn.
type stubConn struct {
	sent []sentPacket
}

type sentPacket struct {
	typ     protocol.Type
	payload string
}

func (c *stubConn) Send(typ protocol.Type, payload []byte) error {
	c.sent = append(c.sent, sentPacket{typ: typ, payload: string(payload)})
	return nil
}

func (c *stubConn) RemoteAddr() string { return "stub:0" }
func (c *stubConn) Close() error       { return nil }

// failingConn is a chat.Conn whose every write fails.
type failingConn struct{ stubConn }

func (c *failingConn) Send(protocol.Type, []byte) error { return errors.New("write failed") }

func newTestRegistry(t *testing.T) *chat.Registry {
	t.Helper()
	reg, _ := newTestRegistryAndStore(t)
	return reg
}

func newTestRegistryAndStore(t *testing.T) (*chat.Registry, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := chat.NewRegistry(context.Background(), st, 3)
	require.NoError(t, err)
	return reg, st
}

func newTestUser(nickname string) *chat.User {
	return &chat.User{Nickname: nickname, Conn: &stubConn{}}
}

func TestAddUserRejectsDuplicateNickname(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	u1 := newTestUser("alice")
	require.Nil(t, reg.AddUser(ctx, u1))

	u2 := newTestUser("alice")
	ce := reg.AddUser(ctx, u2)
	require.NotNil(t, ce)
	assert.Equal(t, errs.ErrNicknameTaken, ce.Code)
}

func TestRemoveUserThenReAddSameNicknameSucceeds(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	u1 := newTestUser("bob")
	require.Nil(t, reg.AddUser(ctx, u1))

	reg.RemoveUser(ctx, u1, false)
	assert.Nil(t, reg.FindUserByNickname("bob"))

	u2 := newTestUser("bob")
	assert.Nil(t, reg.AddUser(ctx, u2))
}

func TestAddRoomAndJoinRoomCapacity(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	creator := newTestUser("creator")
	require.Nil(t, reg.AddUser(ctx, creator))

	room, ce := reg.AddRoom(ctx, "lounge", creator)
	require.Nil(t, ce)
	require.Nil(t, reg.AddMemberToRoom(ctx, room, creator))

	assert.Equal(t, creator, room.Manager)

	for i := 0; i < 2; i++ {
		u := newTestUser("member" + string(rune('a'+i)))
		require.Nil(t, reg.AddUser(ctx, u))
		require.Nil(t, reg.AddMemberToRoom(ctx, room, u))
	}

	overflow := newTestUser("overflow")
	require.Nil(t, reg.AddUser(ctx, overflow))
	ce = reg.AddMemberToRoom(ctx, room, overflow)
	require.NotNil(t, ce)
	assert.Equal(t, errs.ErrRoomFull, ce.Code)
}

func TestAddMemberToRoomRejectsDoubleJoin(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	creator := newTestUser("creator")
	require.Nil(t, reg.AddUser(ctx, creator))

	room, ce := reg.AddRoom(ctx, "lounge", creator)
	require.Nil(t, ce)
	require.Nil(t, reg.AddMemberToRoom(ctx, room, creator))

	ce = reg.AddMemberToRoom(ctx, room, creator)
	require.NotNil(t, ce)
	assert.Equal(t, errs.ErrAlreadyInRoom, ce.Code)
}

func TestRemoveLastMemberDestroysRoom(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	creator := newTestUser("creator")
	require.Nil(t, reg.AddUser(ctx, creator))

	room, ce := reg.AddRoom(ctx, "lounge", creator)
	require.Nil(t, ce)
	require.Nil(t, reg.AddMemberToRoom(ctx, room, creator))

	destroyed := reg.RemoveMemberFromRoom(ctx, room, creator)
	assert.True(t, destroyed)
	assert.Nil(t, reg.FindRoomByID(room.ID))
	assert.Nil(t, reg.FindRoomByName("lounge"))
}

func TestRemoveMemberKeepsRoomAliveWhileOthersRemain(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	creator := newTestUser("creator")
	require.Nil(t, reg.AddUser(ctx, creator))
	room, ce := reg.AddRoom(ctx, "lounge", creator)
	require.Nil(t, ce)
	require.Nil(t, reg.AddMemberToRoom(ctx, room, creator))

	second := newTestUser("second")
	require.Nil(t, reg.AddUser(ctx, second))
	require.Nil(t, reg.AddMemberToRoom(ctx, room, second))

	destroyed := reg.RemoveMemberFromRoom(ctx, room, creator)
	assert.False(t, destroyed)
	assert.NotNil(t, reg.FindRoomByID(room.ID))
}

func TestRoomBroadcastSkipsSenderAndTolerantOfWriteFailure(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	creator := newTestUser("creator")
	require.Nil(t, reg.AddUser(ctx, creator))
	room, ce := reg.AddRoom(ctx, "lounge", creator)
	require.Nil(t, ce)
	require.Nil(t, reg.AddMemberToRoom(ctx, room, creator))

	// broken joins before listener, so its failed write comes first.
	broken := &chat.User{Nickname: "broken", Conn: &failingConn{}}
	require.Nil(t, reg.AddUser(ctx, broken))
	require.Nil(t, reg.AddMemberToRoom(ctx, room, broken))

	listener := newTestUser("listener")
	require.Nil(t, reg.AddUser(ctx, listener))
	require.Nil(t, reg.AddMemberToRoom(ctx, room, listener))

	reg.RoomBroadcast(room, creator, protocol.TypeMessage, []byte("hello"))

	listenerConn := listener.Conn.(*stubConn)
	require.Len(t, listenerConn.sent, 1)
	assert.Equal(t, "hello", listenerConn.sent[0].payload)

	creatorConn := creator.Conn.(*stubConn)
	assert.Empty(t, creatorConn.sent)
}

func TestLobbyBroadcastOnlyReachesUsersWithoutARoom(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	inRoom := newTestUser("inroom")
	require.Nil(t, reg.AddUser(ctx, inRoom))
	room, ce := reg.AddRoom(ctx, "lounge", inRoom)
	require.Nil(t, ce)
	require.Nil(t, reg.AddMemberToRoom(ctx, room, inRoom))

	inLobby := newTestUser("inlobby")
	require.Nil(t, reg.AddUser(ctx, inLobby))

	reg.LobbyBroadcast(nil, protocol.TypeServerNotice, []byte("notice"))

	assert.Empty(t, inRoom.Conn.(*stubConn).sent)
	require.Len(t, inLobby.Conn.(*stubConn).sent, 1)
}
