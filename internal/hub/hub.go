// ABOUTME: In-memory per-thread subscriber registry with best-effort broadcast
// ABOUTME: Delivers committed messages to every live connection subscribed to a thread

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/thread-relay/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// DefaultSendTimeout bounds how long Broadcast waits on a subscriber
	// whose buffer is full before dropping it.
	DefaultSendTimeout = time.Second
)

// subscriber owns one delivery channel. Its mutex serializes sends against
// close, so a concurrent unsubscribe never closes a channel mid-send.
type subscriber struct {
	mu     sync.Mutex
	ch     chan *store.Message
	closed bool
}

// send delivers one message, waiting up to timeout when the buffer is full.
// Returns false when the subscriber should be dropped as a slow consumer.
func (s *subscriber) send(msg *store.Message, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true // already gone, nothing to drop
	}

	select {
	case s.ch <- msg:
		return true
	default:
	}

	// Buffer full: give the subscriber a bounded grace period
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

// close closes the delivery channel. Idempotent.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub tracks, per thread ID, the set of live subscribers and fans committed
// messages out to them. It is an explicitly owned component, not a process
// global, so tests can instantiate isolated instances.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int64]map[string]*subscriber // threadID -> subID -> sub
	sendTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Hub. Pass nil logger for default; sendTimeout <= 0 selects
// DefaultSendTimeout.
func New(sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Hub{
		subscribers: make(map[int64]map[string]*subscriber),
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for committed messages on the given
// thread. Returns the receive channel and a subscription ID for later
// unsubscription. The channel is closed when the subscription ends, whether
// by Unsubscribe, by being dropped as a slow consumer, or by Close.
func (h *Hub) Subscribe(threadID int64) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	sub := &subscriber{ch: make(chan *store.Message, subscriberBufferSize)}

	h.mu.Lock()
	if _, ok := h.subscribers[threadID]; !ok {
		h.subscribers[threadID] = make(map[string]*subscriber)
	}
	h.subscribers[threadID][subID] = sub
	total := len(h.subscribers[threadID])
	h.mu.Unlock()

	h.logger.Debug("subscriber added",
		"thread_id", threadID,
		"sub_id", subID,
		"total_subscribers", total)

	return sub.ch, subID
}

// Unsubscribe removes a subscription and closes its channel. Idempotent:
// unsubscribing an unknown or already-removed subscription is a no-op.
func (h *Hub) Unsubscribe(threadID int64, subID string) {
	h.mu.Lock()
	sub := h.removeLocked(threadID, subID)
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// removeLocked deletes a subscription and prunes empty thread entries,
// returning the removed subscriber for the caller to close outside the
// lock. Caller must hold h.mu.
func (h *Hub) removeLocked(threadID int64, subID string) *subscriber {
	subs, ok := h.subscribers[threadID]
	if !ok {
		return nil
	}

	sub, exists := subs[subID]
	if !exists {
		return nil
	}

	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.subscribers, threadID)
	}

	h.logger.Debug("subscriber removed",
		"thread_id", threadID,
		"sub_id", subID)
	return sub
}

// Broadcast delivers a committed message to every current subscriber of the
// thread, best-effort. The subscriber set is snapshotted under the lock and
// delivery happens outside it, so a slow consumer stalls neither the
// registry nor broadcasts for other threads. A subscriber that cannot
// accept the message within the send timeout is unsubscribed and its
// channel closed; the remaining subscribers are unaffected. Within one
// thread, messages are delivered in the order they were committed because
// persistence happens strictly before Broadcast is called.
func (h *Hub) Broadcast(threadID int64, msg *store.Message) {
	h.mu.Lock()
	subs, ok := h.subscribers[threadID]
	if !ok || len(subs) == 0 {
		h.mu.Unlock()
		return
	}
	type target struct {
		subID string
		sub   *subscriber
	}
	targets := make([]target, 0, len(subs))
	for subID, sub := range subs {
		targets = append(targets, target{subID, sub})
	}
	h.mu.Unlock()

	var dropped []string
	for _, t := range targets {
		if !t.sub.send(msg, h.sendTimeout) {
			dropped = append(dropped, t.subID)
		}
	}
	if len(dropped) == 0 {
		return
	}

	var toClose []*subscriber
	h.mu.Lock()
	for _, subID := range dropped {
		h.logger.Warn("dropping slow subscriber",
			"thread_id", threadID,
			"sub_id", subID,
			"message_id", msg.ID)
		if sub := h.removeLocked(threadID, subID); sub != nil {
			toClose = append(toClose, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range toClose {
		sub.close()
	}
}

// SubscriberCount returns the number of live subscriptions for a thread.
func (h *Hub) SubscriberCount(threadID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[threadID])
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscriber
	for threadID, subs := range h.subscribers {
		for subID, sub := range subs {
			all = append(all, sub)
			delete(subs, subID)
		}
		delete(h.subscribers, threadID)
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	h.logger.Debug("hub closed")
}
