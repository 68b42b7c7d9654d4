package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzchat-tcp/internal/app/chat"
	"hzchat-tcp/internal/pkg/protocol"
)

func newTestEngine(t *testing.T) (*chat.Engine, *chat.Registry) {
	t.Helper()
	reg, st := newTestRegistryAndStore(t)
	return chat.NewEngine(reg, st), reg
}

func TestCreateRoomThenMessageRoundTrip(t *testing.T) {
	engine, reg := newTestEngine(t)
	ctx := context.Background()

	alice := newTestUser("alice")
	require.Nil(t, reg.AddUser(ctx, alice))

	terminate := engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeCreateRoom, Payload: []byte("lounge")})
	assert.False(t, terminate)
	require.NotNil(t, alice.Room)
	assert.Equal(t, "lounge", alice.Room.Name)

	terminate = engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeMessage, Payload: []byte("hi there")})
	assert.False(t, terminate)

	aliceConn := alice.Conn.(*stubConn)
	require.NotEmpty(t, aliceConn.sent)
	last := aliceConn.sent[len(aliceConn.sent)-1]
	assert.Equal(t, protocol.TypeMessage, last.typ)
	assert.Contains(t, last.payload, "hi there")
}

func TestMessageOutsideRoomIsRejected(t *testing.T) {
	engine, reg := newTestEngine(t)
	ctx := context.Background()

	alice := newTestUser("alice")
	require.Nil(t, reg.AddUser(ctx, alice))

	engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeMessage, Payload: []byte("hi")})

	aliceConn := alice.Conn.(*stubConn)
	require.Len(t, aliceConn.sent, 1)
	assert.Equal(t, protocol.TypeError, aliceConn.sent[0].typ)
}

func TestKickRequiresManager(t *testing.T) {
	engine, reg := newTestEngine(t)
	ctx := context.Background()

	manager := newTestUser("manager")
	require.Nil(t, reg.AddUser(ctx, manager))
	engine.Dispatch(ctx, manager, protocol.Packet{Type: protocol.TypeCreateRoom, Payload: []byte("lounge")})
	room := manager.Room

	member := newTestUser("member")
	require.Nil(t, reg.AddUser(ctx, member))
	require.Nil(t, reg.AddMemberToRoom(ctx, room, member))

	bystander := newTestUser("bystander")
	require.Nil(t, reg.AddUser(ctx, bystander))
	require.Nil(t, reg.AddMemberToRoom(ctx, room, bystander))

	// A non-manager member may not kick.
	engine.Dispatch(ctx, member, protocol.Packet{Type: protocol.TypeKickUser, Payload: []byte("bystander")})
	memberConn := member.Conn.(*stubConn)
	require.NotEmpty(t, memberConn.sent)
	assert.Equal(t, protocol.TypeError, memberConn.sent[len(memberConn.sent)-1].typ)
	assert.NotNil(t, bystander.Room)

	// The manager can.
	engine.Dispatch(ctx, manager, protocol.Packet{Type: protocol.TypeKickUser, Payload: []byte("bystander")})
	assert.Nil(t, bystander.Room)
}

func TestDeleteAccountIsTwoPhase(t *testing.T) {
	engine, reg := newTestEngine(t)
	ctx := context.Background()

	alice := newTestUser("alice")
	require.Nil(t, reg.AddUser(ctx, alice))

	terminate := engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeDeleteAccount})
	assert.False(t, terminate)
	assert.True(t, alice.PendingDelete)
	assert.NotNil(t, reg.FindUserByNickname("alice"))

	// Any other command clears the pending flag.
	engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeListRooms})
	assert.False(t, alice.PendingDelete)

	engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeDeleteAccount})
	terminate = engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeDeleteAccount})
	assert.True(t, terminate)
	assert.Nil(t, reg.FindUserByNickname("alice"))
}

func TestListUsersScopesToRoomMembership(t *testing.T) {
	engine, reg := newTestEngine(t)
	ctx := context.Background()

	alice := newTestUser("alice")
	require.Nil(t, reg.AddUser(ctx, alice))
	bob := newTestUser("bob")
	require.Nil(t, reg.AddUser(ctx, bob))

	engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeListUsers})
	aliceConn := alice.Conn.(*stubConn)
	last := aliceConn.sent[len(aliceConn.sent)-1]
	assert.Contains(t, last.payload, "bob")

	engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeCreateRoom, Payload: []byte("lounge")})
	engine.Dispatch(ctx, alice, protocol.Packet{Type: protocol.TypeListUsers})
	aliceConn = alice.Conn.(*stubConn)
	last = aliceConn.sent[len(aliceConn.sent)-1]
	assert.Equal(t, "alice", last.payload[:len(last.payload)-1])
}
