// ABOUTME: Types for the client session manager: config, states, optimistic entries
// ABOUTME: Defines the observed timeline entry and pending placeholder structures

package client

import (
	"errors"
	"time"

	"github.com/2389/thread-relay/internal/store"
)

// ErrNotConnected is returned by Send when no active connection exists.
var ErrNotConnected = errors.New("not connected")

// Config holds reconnection and dial tuning. Zero values select defaults.
type Config struct {
	MaxReconnectAttempts int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
}

// DefaultConfig returns the default client tuning.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		BaseBackoff:          500 * time.Millisecond,
		MaxBackoff:           10 * time.Second,
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// State is the connection state of the session manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PendingMessage is a locally fabricated placeholder for content sent but
// not yet confirmed by the server. Its temp ID is namespaced so it can
// never collide with a server-assigned numeric message ID. It is never
// persisted: it lives only in the manager's pending set and timeline.
type PendingMessage struct {
	TempID    string
	ThreadID  int64
	Content   string
	Role      string
	CreatedAt time.Time
}

// Entry is one slot in the observed timeline: either a confirmed server
// message or a pending optimistic placeholder, never both.
type Entry struct {
	Message *store.Message
	Pending *PendingMessage
}

// Confirmed reports whether the entry holds a server-confirmed message.
func (e Entry) Confirmed() bool {
	return e.Message != nil
}

// OnMessage is invoked for every confirmed message received on the live
// connection, after it has been reconciled into the timeline.
type OnMessage func(*store.Message)
