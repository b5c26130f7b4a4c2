// Package knowledge implements the durable knowledge store: entities,
// relationships, conversations, watchers, goals, background tasks,
// preferences, the action log, and usage records, plus a full-text
// index over entities.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// Store is the durable backing store for all long-lived runtime state.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns ~/.meepo/knowledge.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".meepo", "knowledge.db")
}

// Open creates or opens the SQLite-backed knowledge store at path,
// applying pragmas and running schema migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w\n%s", err, stmt)
		}
	}
	return tx.Commit()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES entities(id),
		target_id TEXT NOT NULL REFERENCES entities(id),
		relation_type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_channel_created
		ON conversations(channel, created_at);`,
	`CREATE TABLE IF NOT EXISTS watchers (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		reply_channel TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		next_check_at TEXT NOT NULL,
		last_checked_at TEXT,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS background_tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		reply_channel TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		result TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS preferences (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		source TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);`,
	`CREATE TABLE IF NOT EXISTS action_log (
		id TEXT PRIMARY KEY,
		goal_id TEXT,
		action_type TEXT NOT NULL,
		description TEXT NOT NULL,
		outcome TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		source TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost_usd REAL NOT NULL DEFAULT 0,
		tool_calls INTEGER NOT NULL DEFAULT 0,
		api_calls INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_date ON usage_records(date);`,
	// FTS5 virtual table over entities; kept in lockstep by entities.go.
	`CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
		id UNINDEXED, text
	);`,
	`CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS skill_registry (
		skill_id TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'active',
		fault_count INTEGER NOT NULL DEFAULT 0,
		last_fault_at TEXT,
		updated_at TEXT NOT NULL
	);`,
}

// retryOnBusy retries f when SQLite reports BUSY/LOCKED, using jittered
// exponential backoff, the same shape the rest of the runtime uses for
// any operation that can race another writer.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
