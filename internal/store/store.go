// ABOUTME: Store interface and data types for thread-relay persistence
// ABOUTME: Defines User, Thread, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when trying to create a user whose name is taken
var ErrDuplicateUser = errors.New("user already exists")

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User represents a registered user owning threads
type User struct {
	ID   int64
	Name string
}

// Thread represents a conversation thread: an append-only log of messages
type Thread struct {
	ID        int64
	Title     string
	UserID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message represents a single committed message within a thread.
// IDs are store-assigned, monotonically increasing, and never reused;
// clients never assign final order.
type Message struct {
	ID        int64
	ThreadID  int64
	Content   string
	Role      string // "user" or "assistant"
	CreatedAt time.Time
}

// Store defines the interface for user, thread and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, name string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByName(ctx context.Context, name string) (*User, error)

	// Threads
	CreateThread(ctx context.Context, title string, userID int64) (*Thread, error)
	GetThread(ctx context.Context, id int64) (*Thread, error)
	ThreadExists(ctx context.Context, id int64) (bool, error)
	ListUserThreads(ctx context.Context, userID int64) ([]*Thread, error)

	// Messages. AppendMessage commits a message at the tail of the thread's
	// log and returns it with its assigned ID and timestamp. ListMessages
	// returns the full log in commit order.
	AppendMessage(ctx context.Context, threadID int64, role, content string) (*Message, error)
	ListMessages(ctx context.Context, threadID int64) ([]*Message, error)

	// Ping reports whether the underlying store is usable.
	Ping(ctx context.Context) error

	Close() error
}
