// ABOUTME: HTTP/WebSocket server wiring for thread-relay
// ABOUTME: Owns the store, hub and reply generator; routes API and /ws endpoints

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/thread-relay/internal/config"
	"github.com/2389/thread-relay/internal/hub"
	"github.com/2389/thread-relay/internal/reply"
	"github.com/2389/thread-relay/internal/store"
)

// Server owns the relay's long-lived components and serves the HTTP API
// and the per-thread WebSocket endpoint.
type Server struct {
	cfg        *config.Config
	store      store.Store
	hub        *hub.Hub
	generator  reply.Generator
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	sessCfg    sessionConfig
	httpServer *http.Server
}

// New creates a Server backed by a SQLite store and the canned reply
// generator.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return NewWithStore(cfg, st, reply.NewCanned(), logger), nil
}

// NewWithStore creates a Server with injected collaborators. Used by New
// and by tests that need a mock store or a deterministic generator.
func NewWithStore(cfg *config.Config, st store.Store, gen reply.Generator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		hub:       hub.New(cfg.Gateway.SendTimeout, logger),
		generator: gen,
		logger:    logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessCfg: sessionConfig{
			writeTimeout: cfg.Gateway.WriteTimeout,
			readLimit:    cfg.Gateway.ReadLimit,
		},
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler. Exposed so tests can mount it
// on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/users/", s.handleUserRoutes)
	mux.HandleFunc("/api/threads", s.handleThreads)
	mux.HandleFunc("/api/threads/", s.handleThreadRoutes)
	mux.HandleFunc("/ws/", s.handleWS)
	return mux
}

// handleWS upgrades /ws/{thread_id} requests and runs a session for the
// accepted connection. The connection is bound to that one thread for its
// whole lifetime.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	threadID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		http.Error(w, "invalid thread id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "thread_id", threadID)
		return
	}

	s.logger.Info("websocket connection accepted", "thread_id", threadID)
	sess := newSession(conn, threadID, s.store, s.hub, s.generator, s.sessCfg, s.logger)
	sess.run(r.Context())
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.HTTPAddr, err)
	}

	s.logger.Info("server listening", "http_addr", s.cfg.Server.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving HTTP: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown did not complete cleanly", "error", err)
	}

	s.hub.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
