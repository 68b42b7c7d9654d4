package session_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzchat-tcp/internal/app/chat"
	"hzchat-tcp/internal/app/session"
	"hzchat-tcp/internal/app/store"
	"hzchat-tcp/internal/pkg/protocol"
)

func newTestEngineAndRegistry(t *testing.T) (*chat.Engine, *chat.Registry) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := chat.NewRegistry(context.Background(), st, 10)
	require.NoError(t, err)

	return chat.NewEngine(reg, st), reg
}

func readResponse(t *testing.T, conn net.Conn) protocol.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := protocol.ReadPacket(conn, protocol.RespMagic)
	require.NoError(t, err)
	return pkt
}

func TestHandshakeWithChosenNickname(t *testing.T) {
	engine, reg := newTestEngineAndRegistry(t)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	sess := session.New(serverConn, reg, engine)
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	prompt := readResponse(t, clientConn)
	assert.Equal(t, protocol.TypeServerNotice, prompt.Type)

	require.NoError(t, protocol.WritePacket(clientConn, protocol.ReqMagic, protocol.TypeSetID, []byte("tester")))

	welcome := readResponse(t, clientConn)
	assert.Equal(t, protocol.TypeServerNotice, welcome.Type)
	assert.Contains(t, string(welcome.Payload), "tester")

	assert.NotNil(t, reg.FindUserByNickname("tester"))

	require.NoError(t, protocol.WritePacket(clientConn, protocol.ReqMagic, protocol.TypeQuit, nil))
	farewell := readResponse(t, clientConn)
	assert.Equal(t, protocol.TypeQuit, farewell.Type)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after QUIT")
	}

	assert.Nil(t, reg.FindUserByNickname("tester"))
}

func TestHandshakeRejectsNonSetIDPacket(t *testing.T) {
	engine, reg := newTestEngineAndRegistry(t)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	sess := session.New(serverConn, reg, engine)
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	readResponse(t, clientConn) // handshake prompt

	require.NoError(t, protocol.WritePacket(clientConn, protocol.ReqMagic, protocol.TypeMessage, []byte("not a nickname")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after non-SET_ID packet during handshake")
	}
}

func TestEmptyNicknameAssignsRandomName(t *testing.T) {
	engine, reg := newTestEngineAndRegistry(t)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	sess := session.New(serverConn, reg, engine)
	go sess.Run(context.Background())

	readResponse(t, clientConn) // handshake prompt

	require.NoError(t, protocol.WritePacket(clientConn, protocol.ReqMagic, protocol.TypeSetID, nil))

	welcome := readResponse(t, clientConn)
	assert.Equal(t, protocol.TypeServerNotice, welcome.Type)
	assert.Contains(t, string(welcome.Payload), "Welcome")
}
