// Package store persists view state and the mutation journal in a local
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/interact"
)

const schemaVersion = 1

// timeLayout is fixed width so text comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS view_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mutations (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS mutations_event_id ON mutations(event_id)`,
	`CREATE INDEX IF NOT EXISTS mutations_created_at ON mutations(created_at)`,
}

type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath is the state database under the user's state directory.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); v != "" {
		return filepath.Join(v, "tcal", "state.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tcal", "state.db")
	}
	return filepath.Join(home, ".local", "state", "tcal", "state.db")
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open creates the database file and schema when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate state db: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) LoadState(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM view_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *Store) SaveState(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO view_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM view_state WHERE key = ?`, key)
	return err
}

// Record appends a dispatched change to the journal.
func (s *Store) Record(ctx context.Context, e dispatch.Entry) error {
	body, err := json.Marshal(e.Body)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mutations (id, event_id, event_type, kind, method, path, body, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventID, string(e.EventType), string(e.Kind), e.Method, e.Path, string(body), e.Status, e.Error,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

type MutationFilter struct {
	EventID string
	Since   time.Time
	Limit   int
}

// ListMutations returns journal entries, newest first.
func (s *Store) ListMutations(ctx context.Context, f MutationFilter) ([]dispatch.Entry, error) {
	query := `SELECT id, event_id, event_type, kind, method, path, body, status, error, created_at FROM mutations WHERE 1=1`
	args := []any{}
	if f.EventID != "" {
		query += ` AND event_id = ?`
		args = append(args, f.EventID)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []dispatch.Entry{}
	for rows.Next() {
		var (
			e                     dispatch.Entry
			eventType, kind, body string
			createdAt             string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &eventType, &kind, &e.Method, &e.Path, &body, &e.Status, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.EventType = contract.EventType(eventType)
		e.Kind = interact.Kind(kind)
		if err := json.Unmarshal([]byte(body), &e.Body); err != nil {
			return nil, fmt.Errorf("decode journal body %s: %w", e.ID, err)
		}
		if ts, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
