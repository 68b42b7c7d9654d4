/*
Package main is the entry point for the chat server.

It loads configuration, initializes structured logging, opens the
persistence layer and seeds the state registry from it, starts the TCP
chat listener and the ambient HTTP sidecar, and runs the operator admin
loop until `quit`, stdin EOF, or an OS interrupt signal.
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"hzchat-tcp/internal/app/admin"
	"hzchat-tcp/internal/app/chat"
	"hzchat-tcp/internal/app/session"
	"hzchat-tcp/internal/app/store"
	"hzchat-tcp/internal/configs"
	"hzchat-tcp/internal/handler"
	"hzchat-tcp/internal/pkg/limiter"
	"hzchat-tcp/internal/pkg/logx"
	"hzchat-tcp/internal/pkg/protocol"
)

// AcceptRate and AcceptBurst bound how fast a single source IP may open
// new connections to the chat listener.
const (
	AcceptRate  = 2.0
	AcceptBurst = 10
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("db_file", cfg.DBFile).
		Msg("configuration loaded")

	st, err := store.Open(cfg.DBFile)
	if err != nil {
		logx.Fatal(err, "failed to open persistence layer")
	}
	defer st.Close()

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	registry, err := chat.NewRegistry(ctx, st, cfg.MaxRoomMembers)
	if err != nil {
		logx.Fatal(err, "failed to seed state registry")
	}
	engine := chat.NewEngine(registry, st)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logx.Fatal(err, "failed to bind chat listener")
	}
	logx.Info(fmt.Sprintf("chat server listening on :%d", cfg.Port))

	acceptLimiter := limiter.NewIPRateLimiter(rate.Limit(AcceptRate), AcceptBurst)

	httpServer := startSidecar(registry, cfg)

	connCh := acceptLoop(listener)
	lineCh := adminInputLoop()
	console := admin.New(st)

	for {
		select {
		case <-ctx.Done():
			logx.Info("received interrupt, shutting down")
			shutdown(listener, registry, httpServer)
			return

		case conn, ok := <-connCh:
			if !ok {
				shutdown(listener, registry, httpServer)
				return
			}
			acceptConnection(ctx, conn, registry, engine, cfg, acceptLimiter)

		case line, ok := <-lineCh:
			if !ok {
				logx.Info("admin input closed (EOF), shutting down")
				shutdown(listener, registry, httpServer)
				return
			}
			output, wantShutdown := console.Handle(ctx, line)
			fmt.Println(output)
			if wantShutdown {
				shutdown(listener, registry, httpServer)
				return
			}
		}
	}
}

// acceptConnection applies the accept-rate guard and the server-full check
// of spec.md §4.2 before spawning a session.
func acceptConnection(ctx context.Context, conn net.Conn, registry *chat.Registry, engine *chat.Engine, cfg *configs.AppConfig, acceptLimiter *limiter.IPRateLimiter) {
	if !acceptLimiter.Allow(conn.RemoteAddr()) {
		conn.Close()
		return
	}

	if registry.ConnectedUserCount() >= cfg.MaxUsers {
		protocol.WritePacket(conn, protocol.RespMagic, protocol.TypeServerNotice, []byte("Server is full. Try again later.\n"))
		conn.Close()
		return
	}

	sess := session.New(conn, registry, engine)
	go sess.Run(ctx)
}

// acceptLoop runs the listener's Accept loop on its own goroutine,
// forwarding connections to the returned channel. It exits (closing the
// channel) once the listener itself is closed.
func acceptLoop(listener net.Listener) <-chan net.Conn {
	ch := make(chan net.Conn)
	go func() {
		defer close(ch)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			ch <- conn
		}
	}()
	return ch
}

// adminInputLoop scans the operator's stdin line by line, closing the
// returned channel on EOF.
func adminInputLoop() <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// startSidecar starts the ambient HTTP sidecar (/health, /stats) on its own
// goroutine and returns the server so the shutdown sequence can stop it.
func startSidecar(registry *chat.Registry, cfg *configs.AppConfig) *http.Server {
	deps := &handler.AppDeps{Registry: registry, Config: cfg}
	router := handler.Router(deps)

	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error(err, "ambient HTTP sidecar failed")
		}
	}()

	return server
}

// shutdown runs spec.md §4.2's quit sequence: stop accepting new
// connections, close every live session, stop the sidecar.
func shutdown(listener net.Listener, registry *chat.Registry, httpServer *http.Server) {
	listener.Close()
	registry.CloseAllConnections()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	logx.Info("server stopped")
}
