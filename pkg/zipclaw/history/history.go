// Package history records completed uploads and downloads in a local
// SQLite database. It is an audit trail only: recording is best effort
// and never blocks or fails a user flow.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Action identifies what happened to an artifact.
type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

// Entry is one recorded artifact operation.
type Entry struct {
	ID        string
	UserID    string
	Action    Action
	Namespace string
	Name      string
	Files     int
	Size      int64
	CreatedAt time.Time
}

// Store persists history entries in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and creates if needed) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			action     TEXT NOT NULL,
			namespace  TEXT NOT NULL,
			name       TEXT NOT NULL,
			files      INTEGER NOT NULL DEFAULT 0,
			size       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_created
			ON history (created_at DESC);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "history"),
	}, nil
}

// Record inserts a history entry. ID and CreatedAt are filled in.
func (s *Store) Record(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO history (id, user_id, action, namespace, name, files, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Action), e.Namespace, e.Name,
		e.Files, e.Size, e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, action, namespace, name, files, size, created_at
		FROM history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			action    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Namespace,
			&e.Name, &e.Files, &e.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Action = Action(action)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of history entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
