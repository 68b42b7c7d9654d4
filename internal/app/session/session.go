/*
Package session implements the Session Handler (C2): one goroutine per
accepted connection, running the nickname handshake and then the main
packet-dispatch loop, per spec.md §4.3 and §4.6.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hzchat-tcp/internal/app/chat"
	"hzchat-tcp/internal/pkg/logx"
	"hzchat-tcp/internal/pkg/protocol"
	"hzchat-tcp/internal/pkg/randx"
)

// maxNicknameAttempts bounds how many random candidates are tried before
// falling back to a guest nickname, per spec.md §4.3.
const maxNicknameAttempts = 10

// Session owns one accepted net.Conn for its lifetime: handshake, main
// loop, and cleanup. It implements chat.Conn so the registry and command
// engine can deliver packets to it without importing this package.
type Session struct {
	conn     net.Conn
	registry *chat.Registry
	engine   *chat.Engine
	logger   zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	toleratedBadChecksum bool
}

// New constructs a Session for an accepted connection.
func New(conn net.Conn, registry *chat.Registry, engine *chat.Engine) *Session {
	return &Session{
		conn:     conn,
		registry: registry,
		engine:   engine,
		logger: logx.Logger().With().
			Str("component", "session").
			Str("session_id", uuid.NewString()).
			Str("remote_addr", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Send implements chat.Conn. Writes are serialized per connection so that
// concurrent senders (this session's own loop, a broadcast from another
// session's command handler, the admin console) never interleave frames.
func (s *Session) Send(typ protocol.Type, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WritePacket(s.conn, protocol.RespMagic, typ, payload)
}

// RemoteAddr implements chat.Conn.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Close implements chat.Conn. Idempotent: additional calls after the first
// are no-ops, since both the kick path and an ordinary read failure can
// each try to close the same connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Run drives the session to completion: handshake, main loop, cleanup.
// It blocks until the connection ends and always returns after cleanup has
// run, so the caller's accept loop just needs to `go session.Run(ctx)`.
func (s *Session) Run(ctx context.Context) {
	user, err := s.handshake(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("handshake did not complete")
		s.Close()
		return
	}

	s.notify(user, protocol.TypeServerNotice, fmt.Sprintf("Welcome, %s! Type 'help' for a list of commands.", user.Nickname))
	s.mainLoop(ctx, user)
	s.cleanup(ctx, user)
}

// readPacket reads one client packet, tolerating exactly one
// checksum-mismatched packet per session (spec.md §2): the first is
// dropped and the next one read in its place; a second is fatal. Bad
// magic and oversize data_len are always fatal.
func (s *Session) readPacket() (protocol.Packet, error) {
	for {
		pkt, err := protocol.ReadPacket(s.conn, protocol.ReqMagic)
		if err == nil {
			return pkt, nil
		}

		if errors.Is(err, protocol.ErrChecksumMismatch) {
			if !s.toleratedBadChecksum {
				s.toleratedBadChecksum = true
				s.logger.Warn().Msg("dropping first malformed packet of session, tolerated once")
				continue
			}
			s.logger.Warn().Msg("second malformed packet in session, terminating")
			return protocol.Packet{}, err
		}

		return protocol.Packet{}, err
	}
}

// handshake implements spec.md §4.3's two-phase nickname negotiation. It
// returns a registered *chat.User on success, or an error if the
// connection ended, sent a malformed packet, or sent a non-SET_ID packet
// before completing it.
func (s *Session) handshake(ctx context.Context) (*chat.User, error) {
	for {
		if err := s.sendNotice("Enter a nickname (2-20 characters), or press Enter for a random one."); err != nil {
			return nil, err
		}

		pkt, err := s.readPacket()
		if err != nil {
			return nil, err
		}

		if pkt.Type != protocol.TypeSetID {
			return nil, fmt.Errorf("session: expected SET_ID during handshake, got %s", pkt.Type)
		}

		nick := strings.TrimSpace(string(pkt.Payload))

		if nick == "" {
			user, err := s.assignRandomNickname(ctx)
			if err != nil {
				return nil, err
			}
			return user, nil
		}

		if !chat.ValidNickname(nick) {
			if err := s.Send(protocol.TypeError, []byte("Nickname must be 2-20 characters with no whitespace.")); err != nil {
				return nil, err
			}
			continue
		}

		user := &chat.User{Nickname: nick, Conn: s}
		if ce := s.registry.AddUser(ctx, user); ce != nil {
			if err := s.Send(protocol.TypeError, []byte(ce.Message)); err != nil {
				return nil, err
			}
			continue
		}

		return user, nil
	}
}

// assignRandomNickname implements the random-nickname fallback: up to
// maxNicknameAttempts candidates of the form User<n>, then a
// time-and-randomness-derived Guest<suffix> if they all collide.
func (s *Session) assignRandomNickname(ctx context.Context) (*chat.User, error) {
	for i := 0; i < maxNicknameAttempts; i++ {
		candidate, err := randx.RandomNicknameCandidate()
		if err != nil {
			return nil, fmt.Errorf("session: generate random nickname: %w", err)
		}

		user := &chat.User{Nickname: candidate, Conn: s}
		if ce := s.registry.AddUser(ctx, user); ce == nil {
			return user, nil
		}
	}

	guest, err := randx.GuestNickname()
	if err != nil {
		return nil, fmt.Errorf("session: generate guest nickname: %w", err)
	}

	user := &chat.User{Nickname: guest, Conn: s}
	if ce := s.registry.AddUser(ctx, user); ce != nil {
		return nil, fmt.Errorf("session: guest nickname collided: %s", ce.Message)
	}
	return user, nil
}

// mainLoop reads and dispatches packets until a read fails or a handler
// reports the session should end, per spec.md §4.3's exit conditions.
func (s *Session) mainLoop(ctx context.Context, user *chat.User) {
	for {
		pkt, err := s.readPacket()
		if err != nil {
			return
		}

		if s.engine.Dispatch(ctx, user, pkt) {
			return
		}
	}
}

// cleanup runs the teardown sequence of spec.md §4.6. It is safe to call
// after delete_account has already torn the session down itself: removing
// an absent room member or registry entry, or persisting a disconnect for
// a user row that no longer exists, are all no-ops.
func (s *Session) cleanup(ctx context.Context, user *chat.User) {
	if user.Room != nil {
		room := user.Room
		destroyed := s.registry.RemoveMemberFromRoom(ctx, room, user)
		if !destroyed {
			s.registry.RoomBroadcast(room, nil, protocol.TypeServerNotice, []byte(fmt.Sprintf("%s has disconnected.", user.Nickname)))
		}
	}

	s.registry.RemoveUser(ctx, user, false)
	s.Close()
}

func (s *Session) notify(user *chat.User, typ protocol.Type, text string) {
	if err := user.Conn.Send(typ, []byte(text)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to deliver packet")
	}
}

func (s *Session) sendNotice(text string) error {
	return s.Send(protocol.TypeServerNotice, []byte(text))
}
