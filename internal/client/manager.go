// ABOUTME: Client session manager owning at most one live thread connection
// ABOUTME: Handles single-flight connects, optimistic sends, reconciliation and reconnection

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/thread-relay/internal/store"
	"github.com/2389/thread-relay/internal/wire"
)

// Manager presents a stable connect/send/disconnect surface over a flaky
// transport and reconciles optimistic local state with server truth.
//
// A process should own exactly one Manager per logical client, threaded
// through its composition boundary rather than held in a global: the
// at-most-one-live-connection invariant is per instance.
type Manager struct {
	cfg     Config
	baseURL string // e.g. "ws://localhost:8080"
	dialer  *websocket.Dialer
	logger  *slog.Logger

	// writeMu serializes socket writes, which happen outside mu so a
	// stalled peer cannot freeze the rest of the manager.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	desired    bool  // a thread is currently wanted
	threadID   int64 // valid when desired
	onMessage  OnMessage
	conn       *websocket.Conn
	gen        int // connection generation, guards stale reader callbacks
	readerDone chan struct{}
	inflight   *connectAttempt
	attempts   int
	retryTimer *time.Timer
	pending    map[string]*PendingMessage
	timeline   []Entry
}

// connectAttempt is shared by concurrent Connect callers: whoever finds it
// in flight waits on done and observes the same outcome.
type connectAttempt struct {
	threadID int64
	done     chan struct{}
	err      error
}

// errDialSuperseded reports that a dial finished after its connection was
// no longer wanted; the freshly dialed transport has been discarded.
var errDialSuperseded = errors.New("connection attempt superseded")

// New creates a Manager targeting the given base URL (scheme ws or wss,
// no trailing slash). Pass nil logger for default.
func New(baseURL string, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		logger:  logger.With("component", "client"),
		state:   StateIdle,
		pending: make(map[string]*PendingMessage),
	}
}

// Connect establishes the live connection for a thread and registers the
// message callback. It is a no-op when already connected to that thread.
// When connected to a different thread, the old transport is fully torn
// down before the new attempt begins. Concurrent calls for the same thread
// share a single in-flight attempt and its outcome.
func (m *Manager) Connect(ctx context.Context, threadID int64, onMessage OnMessage) error {
	for {
		m.mu.Lock()
		if m.conn != nil && m.threadID == threadID {
			m.mu.Unlock()
			return nil
		}
		att := m.inflight
		if att == nil {
			break // still holding the lock
		}
		m.mu.Unlock()
		<-att.done
		if att.threadID == threadID && !errors.Is(att.err, errDialSuperseded) {
			return att.err
		}
		// A superseded attempt or one for another thread settled;
		// re-evaluate.
	}

	att := &connectAttempt{threadID: threadID, done: make(chan struct{})}
	m.inflight = att
	m.state = StateConnecting
	m.stopRetryLocked() // an explicit Connect supersedes any scheduled reconnect
	m.desired = true
	m.threadID = threadID
	if onMessage != nil {
		m.onMessage = onMessage
	}
	waitClose := m.closeConnLocked("switching thread")
	gen := m.gen
	m.mu.Unlock()

	// Ordered teardown: the old transport close completes before the new
	// connection begins, so two live subscriptions never overlap.
	if waitClose != nil {
		<-waitClose
	}

	err := m.dial(ctx, threadID, gen)

	m.mu.Lock()
	m.inflight = nil
	att.err = err
	if err != nil && m.state == StateConnecting {
		m.state = StateIdle
		m.desired = false
	}
	m.mu.Unlock()
	close(att.done)
	return err
}

// dial performs one bounded connection attempt and installs the resulting
// transport. gen is the connection generation observed when the attempt was
// authorized: if the generation moved on while the dial was in flight, a
// Disconnect or competing Connect already tore the session down, and the
// fresh transport is discarded instead of resurrecting it. No state is left
// half-initialized on failure.
func (m *Manager) dial(ctx context.Context, threadID int64, gen int) error {
	url := fmt.Sprintf("%s/ws/%d", m.baseURL, threadID)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := m.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("connecting to thread %d: %w", threadID, err)
	}

	m.mu.Lock()
	if gen != m.gen || !m.desired || m.threadID != threadID {
		m.mu.Unlock()
		conn.Close()
		return errDialSuperseded
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.gen++
	readerGen := m.gen
	done := make(chan struct{})
	m.readerDone = done
	m.mu.Unlock()

	go m.readLoop(conn, readerGen, done)
	m.logger.Info("connected", "thread_id", threadID)
	return nil
}

// Send transmits content as a user message over the live connection. It
// synthesizes an optimistic pending entry first; a transmission failure
// rolls back exactly that entry and surfaces the error. The socket write
// runs outside the manager lock under a bounded deadline, so a stalled
// peer blocks neither the reconciliation path nor Disconnect.
func (m *Manager) Send(content string) error {
	m.mu.Lock()
	if m.conn == nil || m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn

	pm := &PendingMessage{
		TempID:    "pending-" + uuid.New().String(),
		ThreadID:  m.threadID,
		Content:   content,
		Role:      store.RoleUser,
		CreatedAt: time.Now().UTC(),
	}
	m.timeline = append(m.timeline, Entry{Pending: pm})
	m.pending[pm.TempID] = pm
	threadID := m.threadID
	m.mu.Unlock()

	m.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	err := conn.WriteJSON(wire.ClientPayload{Content: content})
	m.writeMu.Unlock()

	if err != nil {
		m.mu.Lock()
		m.rollbackLocked(pm.TempID)
		m.mu.Unlock()
		return fmt.Errorf("sending message: %w", err)
	}

	m.logger.Debug("message sent", "temp_id", pm.TempID, "thread_id", threadID)
	return nil
}

// rollbackLocked removes the pending entry with the given temp ID from
// both the pending set and the timeline, leaving everything else intact.
func (m *Manager) rollbackLocked(tempID string) {
	delete(m.pending, tempID)
	for i, e := range m.timeline {
		if e.Pending != nil && e.Pending.TempID == tempID {
			m.timeline = append(m.timeline[:i], m.timeline[i+1:]...)
			return
		}
	}
}

// Disconnect deliberately tears the session down: it cancels any scheduled
// reconnect, clears the pending set and desired thread, closes the
// transport, and returns only after the reader has exited, so no message
// callback fires afterwards. It must not be called from inside the
// OnMessage callback.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	m.desired = false
	m.attempts = 0
	m.pending = make(map[string]*PendingMessage)

	// Drop unconfirmed entries; they can never be matched now.
	confirmed := m.timeline[:0]
	for _, e := range m.timeline {
		if e.Confirmed() {
			confirmed = append(confirmed, e)
		}
	}
	m.timeline = confirmed

	done := m.closeConnLocked("client disconnect")
	m.state = StateIdle
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	m.logger.Info("disconnected")
}

// closeConnLocked bumps the connection generation, closes the transport if
// one is open, and returns the reader's done channel for the caller to
// wait on outside the lock. Returns nil when no reader is running.
func (m *Manager) closeConnLocked(reason string) chan struct{} {
	m.gen++
	if m.conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := m.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		m.logger.Debug("failed to write close frame", "error", err)
	}
	m.conn.Close()
	m.conn = nil
	return m.readerDone
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// readLoop consumes frames until the transport closes, then routes the
// close through the reconnection state machine.
func (m *Manager) readLoop(conn *websocket.Conn, gen int, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleFrame(gen, data)
	}
}

// handleFrame parses one server envelope. Malformed frames are dropped and
// logged; the connection stays open.
func (m *Manager) handleFrame(gen int, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case wire.TypeMessage:
		var payload wire.MessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			m.logger.Warn("dropping malformed message payload", "error", err)
			return
		}
		msg := payload.Message()

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return // stale reader, connection superseded
		}
		m.reconcileLocked(msg)
		cb := m.onMessage
		m.mu.Unlock()

		if cb != nil {
			cb(msg)
		}

	case wire.TypeError:
		var payload wire.ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			m.logger.Warn("dropping malformed error payload", "error", err)
			return
		}
		m.logger.Warn("server reported error", "message", payload.Message)

	default:
		m.logger.Warn("dropping frame with unknown type", "type", env.Type)
	}
}

// reconcileLocked folds a confirmed message into the observed timeline.
// A confirmed user message matching a pending entry's content replaces
// that entry in place and retires its temp ID; any other role is always
// appended. Only user-authored content is ever speculatively inserted, so
// only user messages need deduplication.
func (m *Manager) reconcileLocked(msg *store.Message) {
	if msg.Role == store.RoleUser {
		for i, e := range m.timeline {
			if e.Pending != nil && e.Pending.Content == msg.Content {
				delete(m.pending, e.Pending.TempID)
				m.timeline[i] = Entry{Message: msg}
				return
			}
		}
	}
	m.timeline = append(m.timeline, Entry{Message: msg})
}

// handleClose runs the reconnection state machine for an unexpected
// transport close. Validation close codes are terminal and never retried;
// anything else schedules a backoff retry while the thread is still
// desired and the attempt ceiling has not been reached.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return // deliberate teardown already superseded this connection
	}
	m.conn = nil
	m.gen++

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && wire.IsValidationClose(closeErr.Code) {
		m.state = StateDisconnected
		m.desired = false
		m.mu.Unlock()
		m.logger.Error("connection rejected by server",
			"code", closeErr.Code,
			"reason", closeErr.Text)
		return
	}

	if m.desired && m.attempts < m.cfg.MaxReconnectAttempts {
		m.attempts++
		delay := m.backoffDelay(m.attempts)
		m.state = StateReconnecting
		threadID := m.threadID
		m.retryTimer = time.AfterFunc(delay, func() { m.retry(threadID) })
		attempt := m.attempts
		m.mu.Unlock()
		m.logger.Warn("connection lost, reconnect scheduled",
			"attempt", attempt,
			"delay", delay,
			"error", err)
		return
	}

	m.state = StateDisconnected
	m.mu.Unlock()
	m.logger.Error("connection lost, retry ceiling reached", "error", err)
}

// retry is the scheduled reconnect attempt. It re-dials the desired thread
// unless the desire was withdrawn or a connection already exists.
func (m *Manager) retry(threadID int64) {
	m.mu.Lock()
	if !m.desired || m.threadID != threadID || m.conn != nil || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.state = StateConnecting
	gen := m.gen
	// Register as the in-flight attempt so a concurrent Connect call
	// shares this outcome instead of dialing in parallel.
	att := &connectAttempt{threadID: threadID, done: make(chan struct{})}
	m.inflight = att
	m.mu.Unlock()

	err := m.dial(context.Background(), threadID, gen)

	m.mu.Lock()
	m.inflight = nil
	att.err = err
	m.mu.Unlock()
	close(att.done)

	if err == nil || errors.Is(err, errDialSuperseded) {
		// Connected, or a deliberate teardown already discarded the
		// attempt; either way the state machine has moved on.
		return
	}

	m.mu.Lock()
	switch {
	case m.desired && m.threadID == threadID && m.attempts < m.cfg.MaxReconnectAttempts:
		m.attempts++
		delay := m.backoffDelay(m.attempts)
		m.state = StateReconnecting
		m.retryTimer = time.AfterFunc(delay, func() { m.retry(threadID) })
		attempt := m.attempts
		m.mu.Unlock()
		m.logger.Warn("reconnect failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)
	case m.state == StateConnecting:
		m.state = StateDisconnected
		m.mu.Unlock()
		m.logger.Error("reconnect failed, retry ceiling reached", "error", err)
	default:
		// The desire was withdrawn while the dial was failing; leave the
		// state the teardown chose.
		m.mu.Unlock()
	}
}

// backoffDelay returns the delay before the given 1-based attempt: the
// base doubling per attempt, capped at the configured maximum.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if delay > m.cfg.MaxBackoff {
		return m.cfg.MaxBackoff
	}
	return delay
}

// Messages returns a snapshot of the observed timeline: confirmed messages
// plus still-pending optimistic entries, in observed order.
func (m *Manager) Messages() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.timeline))
	copy(out, m.timeline)
	return out
}

// PendingCount returns the number of optimistic entries awaiting
// confirmation.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ThreadID returns the currently desired thread, if any.
func (m *Manager) ThreadID() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.desired {
		return 0, false
	}
	return m.threadID, true
}
