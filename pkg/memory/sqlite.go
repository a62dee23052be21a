package memory

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite stores memories in a single-file database.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "memory.sqlite")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
		CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create memory schema: %w", err)
	}

	log.Debug("Memory store opened", "path", path)
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Name() string {
	return "sqlite"
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Store(ctx context.Context, key, content string, category Category, sessionID string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("memory key is required")
	}
	if category == "" {
		category = CategoryCore
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, key, content, category, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		uuid.NewString(), key, content, string(category), sessionID, now, now)
	if err != nil {
		return fmt.Errorf("store memory %q: %w", key, err)
	}
	return nil
}

// Recall prefilters rows containing any query keyword and ranks them in Go.
func (s *SQLite) Recall(ctx context.Context, query string, limit int, sessionID string) ([]Entry, error) {
	terms := keywords(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var (
		where []string
		args  []any
	)
	for _, term := range terms {
		where = append(where, "(lower(key) LIKE ? OR lower(content) LIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	q := "SELECT id, key, content, category, session_id, updated_at FROM memories WHERE (" + strings.Join(where, " OR ") + ")"
	if sessionID != "" {
		q += " AND session_id = ?"
		args = append(args, sessionID)
	}

	candidates, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}
	return rank(query, candidates, limit), nil
}

func (s *SQLite) Get(ctx context.Context, key string) (*Entry, error) {
	entries, err := s.query(ctx, "SELECT id, key, content, category, session_id, updated_at FROM memories WHERE key = ?", strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("get memory %q: %w", key, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *SQLite) List(ctx context.Context, category Category, sessionID string) ([]Entry, error) {
	q := "SELECT id, key, content, category, session_id, updated_at FROM memories WHERE 1=1"
	var args []any
	if category != "" {
		q += " AND category = ?"
		args = append(args, string(category))
	}
	if sessionID != "" {
		q += " AND session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY updated_at DESC"

	entries, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return entries, nil
}

func (s *SQLite) Forget(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE key = ?", strings.TrimSpace(key))
	if err != nil {
		return false, fmt.Errorf("forget memory %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (s *SQLite) HealthCheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			category string
		)
		if err := rows.Scan(&e.ID, &e.Key, &e.Content, &category, &e.SessionID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Category = Category(category)
		out = append(out, e)
	}
	return out, rows.Err()
}
