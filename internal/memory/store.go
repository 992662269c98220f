// ABOUTME: SQLite-backed conversation memory keyed by thread id, using modernc.org/sqlite
// ABOUTME: Also stores the mailbox rows backing the builtin tool pack

package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Roles for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a thread's conversation history.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Mail is one mailbox entry, the substrate for the mailbox tool pack.
type Mail struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation history partitioned by thread id. Histories for
// distinct threads never intermix; SQLite serializes concurrent writers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) a store at the given path. Use ":memory:" for a
// process-lifetime store. The schema is created automatically.
func New(path string) (*Store, error) {
	logger := slog.Default().With("component", "memory")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each pool connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("conversation store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at);

		CREATE TABLE IF NOT EXISTS mail (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mail_recipient ON mail(recipient, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a message to a thread's history.
func (s *Store) Append(ctx context.Context, threadID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), threadID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// History returns a thread's messages in insertion order. A zero limit
// returns the full history.
func (s *Store) History(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	query := `SELECT id, thread_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY created_at, rowid`
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// SaveMail stores a mailbox entry, generating its id.
func (s *Store) SaveMail(ctx context.Context, m *Mail) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mail (id, sender, recipient, subject, body, read, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		m.ID, m.Sender, m.Recipient, m.Subject, m.Body, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving mail: %w", err)
	}
	return nil
}

// SearchMail returns mailbox entries whose subject or body match the query
// substring, newest first.
func (s *Store) SearchMail(ctx context.Context, query string, unreadOnly bool, limit int) ([]*Mail, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, sender, recipient, subject, body, read, created_at FROM mail
		WHERE (subject LIKE ? OR body LIKE ?)`
	args := []any{"%" + query + "%", "%" + query + "%"}
	if unreadOnly {
		q += " AND read = 0"
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching mail: %w", err)
	}
	defer rows.Close()

	var results []*Mail
	for rows.Next() {
		var m Mail
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Subject, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mail: %w", err)
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

// GetMail returns a mailbox entry by id.
func (s *Store) GetMail(ctx context.Context, id string) (*Mail, error) {
	var m Mail
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sender, recipient, subject, body, read, created_at FROM mail WHERE id = ?`, id).
		Scan(&m.ID, &m.Sender, &m.Recipient, &m.Subject, &m.Body, &m.Read, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting mail: %w", err)
	}
	return &m, nil
}

// MarkMailRead marks a mailbox entry as read. Idempotent.
func (s *Store) MarkMailRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE mail SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking mail read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
