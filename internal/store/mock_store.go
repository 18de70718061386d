// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// The Set*Err methods let tests force specific operations to fail,
// including while server goroutines are using the store.
type MockStore struct {
	mu       sync.RWMutex
	users    map[int64]*User
	threads  map[int64]*Thread
	messages map[int64][]*Message // keyed by thread ID
	nextUser int64
	nextThr  int64
	nextMsg  int64

	appendMessageErr error
	listMessagesErr  error
	pingErr          error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[int64]*User),
		threads:  make(map[int64]*Thread),
		messages: make(map[int64][]*Message),
	}
}

// SetAppendMessageErr forces subsequent AppendMessage calls to fail.
// Pass nil to clear the failure.
func (m *MockStore) SetAppendMessageErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendMessageErr = err
}

// SetListMessagesErr forces subsequent ListMessages calls to fail.
func (m *MockStore) SetListMessagesErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listMessagesErr = err
}

// SetPingErr forces subsequent Ping calls to fail.
func (m *MockStore) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// CreateUser stores a new user with the next available ID.
func (m *MockStore) CreateUser(ctx context.Context, name string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Name == name {
			return nil, ErrDuplicateUser
		}
	}

	m.nextUser++
	u := &User{ID: m.nextUser, Name: name}
	m.users[u.ID] = u
	return &User{ID: u.ID, Name: u.Name}, nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByName retrieves a user by name.
func (m *MockStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Name == name {
			result := *u
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// CreateThread stores a new thread with the next available ID.
func (m *MockStore) CreateThread(ctx context.Context, title string, userID int64) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.nextThr++
	t := &Thread{ID: m.nextThr, Title: title, UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.threads[t.ID] = t
	result := *t
	return &result, nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id int64) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ThreadExists reports whether a thread with the given ID exists.
func (m *MockStore) ThreadExists(ctx context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.threads[id]
	return ok, nil
}

// ListUserThreads retrieves all threads owned by a user.
func (m *MockStore) ListUserThreads(ctx context.Context, userID int64) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var threads []*Thread
	for id := int64(1); id <= m.nextThr; id++ {
		if t, ok := m.threads[id]; ok && t.UserID == userID {
			result := *t
			threads = append(threads, &result)
		}
	}
	return threads, nil
}

// AppendMessage commits a message with the next available ID.
func (m *MockStore) AppendMessage(ctx context.Context, threadID int64, role, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendMessageErr != nil {
		return nil, m.appendMessageErr
	}

	if _, ok := m.threads[threadID]; !ok {
		return nil, ErrNotFound
	}

	m.nextMsg++
	msg := &Message{
		ID:        m.nextMsg,
		ThreadID:  threadID,
		Content:   content,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	m.messages[threadID] = append(m.messages[threadID], msg)
	result := *msg
	return &result, nil
}

// ListMessages retrieves the message log for a thread in commit order.
func (m *MockStore) ListMessages(ctx context.Context, threadID int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listMessagesErr != nil {
		return nil, m.listMessagesErr
	}

	msgs := m.messages[threadID]
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		copied := *msg
		result[i] = &copied
	}
	return result, nil
}

// Ping returns the injected ping error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
