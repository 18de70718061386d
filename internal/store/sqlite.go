// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/thread/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Message and thread IDs use AUTOINCREMENT so they are monotonically
// increasing for the lifetime of the store and never reused.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS threads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id INTEGER NOT NULL REFERENCES threads(id),
			content TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// CreateUser creates a new user with the given name.
// Returns ErrDuplicateUser if the name is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (name) VALUES (?)`, name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	s.logger.Debug("created user", "id", id, "name", name)
	return &User{ID: id, Name: name}, nil
}

// GetUser retrieves a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// GetUserByName retrieves a user by name
func (s *SQLiteStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE name = ?`, name).
		Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by name: %w", err)
	}
	return &u, nil
}

// CreateThread creates a new thread owned by the given user
func (s *SQLiteStore) CreateThread(ctx context.Context, title string, userID int64) (*Thread, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (title, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, userID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting thread: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting thread id: %w", err)
	}

	s.logger.Debug("created thread", "id", id, "user_id", userID)
	return &Thread{ID: id, Title: title, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// GetThread retrieves a thread by ID
func (s *SQLiteStore) GetThread(ctx context.Context, id int64) (*Thread, error) {
	var t Thread
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, user_id, created_at, updated_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &t.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing thread created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing thread updated_at: %w", err)
	}
	return &t, nil
}

// ThreadExists reports whether a thread with the given ID exists
func (s *SQLiteStore) ThreadExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying thread existence: %w", err)
	}
	return true, nil
}

// ListUserThreads retrieves all threads owned by a user, oldest first
func (s *SQLiteStore) ListUserThreads(ctx context.Context, userID int64) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, user_id, created_at, updated_at FROM threads WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying user threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var t Thread
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Title, &t.UserID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing thread created_at: %w", err)
		}
		if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing thread updated_at: %w", err)
		}
		threads = append(threads, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	return threads, nil
}

// AppendMessage commits a message at the tail of the thread's log.
// The assigned ID determines the final order; persistence happens strictly
// before any broadcast, so subscribers observe commit order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID int64, role, content string) (*Message, error) {
	exists, err := s.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (thread_id, content, role, created_at) VALUES (?, ?, ?, ?)`,
		threadID, content, role, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting message id: %w", err)
	}

	// Touch the thread so listings reflect recent activity
	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), threadID,
	); err != nil {
		return nil, fmt.Errorf("updating thread timestamp: %w", err)
	}

	s.logger.Debug("appended message", "id", id, "thread_id", threadID, "role", role)
	return &Message{ID: id, ThreadID: threadID, Content: content, Role: role, CreatedAt: now}, nil
}

// ListMessages retrieves the full message log for a thread in commit order
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID int64) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, content, role, created_at FROM messages WHERE thread_id = ? ORDER BY id ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Content, &msg.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// Ping reports whether the database connection is usable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
