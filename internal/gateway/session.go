// ABOUTME: Per-connection WebSocket session handler for thread subscriptions
// ABOUTME: Validates the thread, ingests messages, persists, generates replies, broadcasts

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/thread-relay/internal/hub"
	"github.com/2389/thread-relay/internal/reply"
	"github.com/2389/thread-relay/internal/store"
	"github.com/2389/thread-relay/internal/wire"
)

// SessionState tracks a connection through its lifecycle.
type SessionState int

const (
	StateAccepting SessionState = iota
	StateValidating
	StateActive
	StateClosing
	StateClosed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateValidating:
		return "validating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session handles one accepted WebSocket connection bound to a single
// thread for its whole lifetime.
type session struct {
	conn         *websocket.Conn
	threadID     int64
	store        store.Store
	hub          *hub.Hub
	generator    reply.Generator
	logger       *slog.Logger
	writeTimeout time.Duration
	readLimit    int64

	// outbound carries sender-only envelopes (error reports) into the
	// write pump so hub broadcasts and error frames never interleave
	// mid-write on the socket.
	outbound chan *wire.Envelope
	events   <-chan *store.Message
	subID    string
	done     chan struct{}

	mu        sync.Mutex
	state     SessionState
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, threadID int64, st store.Store, h *hub.Hub, gen reply.Generator, cfg sessionConfig, logger *slog.Logger) *session {
	return &session{
		conn:         conn,
		threadID:     threadID,
		store:        st,
		hub:          h,
		generator:    gen,
		logger:       logger.With("component", "session", "thread_id", threadID),
		writeTimeout: cfg.writeTimeout,
		readLimit:    cfg.readLimit,
		outbound:     make(chan *wire.Envelope, 8),
		done:         make(chan struct{}),
		state:        StateAccepting,
	}
}

// sessionConfig carries per-connection tuning from the server config.
type sessionConfig struct {
	writeTimeout time.Duration
	readLimit    int64
}

func (s *session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("session state changed", "state", state.String())
}

// State returns the current lifecycle state.
func (s *session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run drives the session from validation through the message loop to close.
// It returns when the connection is fully released.
func (s *session) run(ctx context.Context) {
	s.setState(StateValidating)

	if code, reason := s.validate(ctx); code != 0 {
		s.logger.Warn("session validation failed", "code", code, "reason", reason)
		s.closeWithCode(code, reason)
		s.setState(StateClosed)
		return
	}

	s.events, s.subID = s.hub.Subscribe(s.threadID)
	s.setState(StateActive)
	s.logger.Info("session active")

	go s.writePump()
	s.readLoop(ctx)
	s.close()
}

// validate checks that the store is usable and the thread exists.
// Returns a non-zero close code on failure; the session is never
// subscribed when validation fails.
func (s *session) validate(ctx context.Context) (code int, reason string) {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("store unusable", "error", err)
		return wire.CloseStoreUnusable, "store session unusable"
	}

	exists, err := s.store.ThreadExists(ctx, s.threadID)
	if err != nil {
		s.logger.Error("thread existence check failed", "error", err)
		return wire.CloseInternalError, "internal error"
	}
	if !exists {
		return wire.CloseThreadNotFound, "thread not found"
	}
	return 0, ""
}

// readLoop ingests inbound payloads until the transport closes.
// A malformed payload is dropped and logged; the connection stays open.
func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(s.readLimit)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("transport closed unexpectedly", "error", err)
			} else {
				s.logger.Debug("transport closed", "error", err)
			}
			return
		}

		var payload wire.ClientPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			s.logger.Warn("dropping malformed payload", "error", err)
			continue
		}
		if payload.Content == "" {
			s.logger.Warn("dropping payload with empty content")
			continue
		}

		s.handleContent(ctx, payload.Content)
	}
}

// handleContent persists the user message, broadcasts it, then generates,
// persists and broadcasts the assistant reply. A persistence failure for
// the user message is reported to the sender only and does not close the
// connection: it is a recoverable per-message condition, not a transport
// failure.
func (s *session) handleContent(ctx context.Context, content string) {
	userMsg, err := s.store.AppendMessage(ctx, s.threadID, store.RoleUser, content)
	if err != nil {
		s.logger.Error("failed to persist user message", "error", err)
		s.reportError("failed to save message")
		return
	}
	s.hub.Broadcast(s.threadID, userMsg)

	history, err := s.store.ListMessages(ctx, s.threadID)
	if err != nil {
		s.logger.Error("failed to load thread history", "error", err)
		return
	}

	replyContent, err := s.generator.Generate(ctx, history)
	if err != nil {
		s.logger.Error("reply generation failed", "error", err)
		return
	}

	botMsg, err := s.store.AppendMessage(ctx, s.threadID, store.RoleAssistant, replyContent)
	if err != nil {
		s.logger.Error("failed to persist assistant message", "error", err)
		return
	}
	s.hub.Broadcast(s.threadID, botMsg)
}

// reportError queues an error envelope for the sender only. The report is
// dropped if the session is closing or the outbound buffer is full.
func (s *session) reportError(message string) {
	env, err := wire.NewErrorEnvelope(message)
	if err != nil {
		s.logger.Error("failed to build error envelope", "error", err)
		return
	}
	select {
	case s.outbound <- env:
	case <-s.done:
	default:
		s.logger.Warn("outbound buffer full, dropping error report")
	}
}

// writePump serializes all socket writes: hub broadcasts and sender-only
// error reports. It exits when the subscription channel is closed (the hub
// dropped us), a write fails, or the session closes.
func (s *session) writePump() {
	for {
		select {
		case msg, ok := <-s.events:
			if !ok {
				// Dropped by the hub as a slow consumer
				s.logger.Warn("subscription closed by hub")
				s.close()
				return
			}
			env, err := wire.NewMessageEnvelope(msg)
			if err != nil {
				s.logger.Error("failed to build message envelope", "error", err)
				continue
			}
			if !s.write(env) {
				return
			}
		case env := <-s.outbound:
			if !s.write(env) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// write sends one envelope with a bounded deadline. On failure the session
// is closed and false is returned.
func (s *session) write(env *wire.Envelope) bool {
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(env); err != nil {
		s.logger.Warn("write failed", "error", err)
		s.close()
		return false
	}
	return true
}

// closeWithCode sends a close control frame with the given code before
// tearing down the transport. Used for validation failures, where the
// session was never subscribed.
func (s *session) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(s.writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.logger.Debug("failed to write close frame", "error", err)
	}
	s.conn.Close()
}

// close unsubscribes and releases the connection. Idempotent: safe to
// invoke from the read loop, the write pump, and the server shutdown path.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if s.subID != "" {
			s.hub.Unsubscribe(s.threadID, s.subID)
		}
		close(s.done)
		s.conn.Close()
		s.setState(StateClosed)
		s.logger.Info("session closed")
	})
}
