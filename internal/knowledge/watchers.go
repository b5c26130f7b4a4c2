package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
)

// Watcher is persisted with its kind as opaque JSON (a tagged union per
// the scheduler package's WatcherKind); the knowledge store does not need
// to understand watcher-kind semantics to store and list watchers.
type Watcher struct {
	ID           string
	KindJSON     string
	Action       string
	ReplyChannel string
	Active       bool
	CreatedAt    time.Time
}

func (s *Store) InsertWatcher(ctx context.Context, kindJSON, action, replyChannel string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Format(timeLayout)
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO watchers (id, kind, action, reply_channel, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
			id, kindJSON, action, replyChannel, now)
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert watcher", err)
	}
	return id, nil
}

func (s *Store) GetWatcher(ctx context.Context, id string) (*Watcher, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, action, reply_channel, active, created_at FROM watchers WHERE id = ?`, id)
	w, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "get watcher", err)
	}
	return w, nil
}

// GetActiveWatchers returns all watchers with active=true.
func (s *Store) GetActiveWatchers(ctx context.Context) ([]Watcher, error) {
	return s.listWatchers(ctx, `WHERE active = 1`)
}

// ListWatchers returns every watcher, active or not.
func (s *Store) ListWatchers(ctx context.Context) ([]Watcher, error) {
	return s.listWatchers(ctx, ``)
}

func (s *Store) listWatchers(ctx context.Context, where string) ([]Watcher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, action, reply_channel, active, created_at FROM watchers `+where+` ORDER BY created_at`)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "list watchers", err)
	}
	defer rows.Close()

	var out []Watcher
	for rows.Next() {
		w, err := scanWatcherRows(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan watcher", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWatcherActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE watchers SET active = ? WHERE id = ?`, v, id)
	if err != nil {
		return apperr.Wrap(apperr.IO, "update watcher active", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "watcher not found")
	}
	return nil
}

func (s *Store) DeleteWatcher(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchers WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.IO, "delete watcher", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "watcher not found")
	}
	return nil
}

func scanWatcher(row *sql.Row) (*Watcher, error) {
	var w Watcher
	var activeInt int
	var createdStr string
	if err := row.Scan(&w.ID, &w.KindJSON, &w.Action, &w.ReplyChannel, &activeInt, &createdStr); err != nil {
		return nil, err
	}
	w.Active = activeInt != 0
	w.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return &w, nil
}

func scanWatcherRows(rows *sql.Rows) (*Watcher, error) {
	var w Watcher
	var activeInt int
	var createdStr string
	if err := rows.Scan(&w.ID, &w.KindJSON, &w.Action, &w.ReplyChannel, &activeInt, &createdStr); err != nil {
		return nil, err
	}
	w.Active = activeInt != 0
	w.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return &w, nil
}
