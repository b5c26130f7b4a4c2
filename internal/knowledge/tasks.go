package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
)

// BackgroundTask tracks a long-running tool invocation spawned outside the
// request/response cycle (spawn_background_task).
type BackgroundTask struct {
	ID           string
	Description  string
	ReplyChannel string
	Status       string // pending, running, done, failed
	Result       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Store) InsertBackgroundTask(ctx context.Context, description, replyChannel string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Format(timeLayout)
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO background_tasks (id, description, reply_channel, status, created_at, updated_at)
			 VALUES (?, ?, ?, 'pending', ?, ?)`,
			id, description, replyChannel, now, now)
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert background task", err)
	}
	return id, nil
}

func (s *Store) GetBackgroundTask(ctx context.Context, id string) (*BackgroundTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, reply_channel, status, result, created_at, updated_at
		 FROM background_tasks WHERE id = ?`, id)
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "get background task", err)
	}
	return t, nil
}

// UpdateBackgroundTask transitions status and records a result, bumping
// updated_at.
func (s *Store) UpdateBackgroundTask(ctx context.Context, id, status, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		status, sql.NullString{String: result, Valid: result != ""}, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return apperr.Wrap(apperr.IO, "update background task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "background task not found")
	}
	return nil
}

// GetActiveBackgroundTasks returns tasks not yet in a terminal state.
func (s *Store) GetActiveBackgroundTasks(ctx context.Context) ([]BackgroundTask, error) {
	return s.queryTasks(ctx,
		`WHERE status IN ('pending', 'running') ORDER BY created_at`)
}

// GetRecentBackgroundTasks returns the most recently updated tasks,
// regardless of status.
func (s *Store) GetRecentBackgroundTasks(ctx context.Context, limit int) ([]BackgroundTask, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, reply_channel, status, result, created_at, updated_at
		 FROM background_tasks ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query recent background tasks", err)
	}
	return collectTasks(rows)
}

func (s *Store) queryTasks(ctx context.Context, where string) ([]BackgroundTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, reply_channel, status, result, created_at, updated_at FROM background_tasks `+where)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query background tasks", err)
	}
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]BackgroundTask, error) {
	defer rows.Close()
	var out []BackgroundTask
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan background task", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTaskRow(row *sql.Row) (*BackgroundTask, error) {
	var t BackgroundTask
	var result sql.NullString
	var createdStr, updatedStr string
	if err := row.Scan(&t.ID, &t.Description, &t.ReplyChannel, &t.Status, &result, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	return finishTaskScan(&t, result, createdStr, updatedStr)
}

func scanTaskRows(rows *sql.Rows) (*BackgroundTask, error) {
	var t BackgroundTask
	var result sql.NullString
	var createdStr, updatedStr string
	if err := rows.Scan(&t.ID, &t.Description, &t.ReplyChannel, &t.Status, &result, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	return finishTaskScan(&t, result, createdStr, updatedStr)
}

func finishTaskScan(t *BackgroundTask, result sql.NullString, createdStr, updatedStr string) (*BackgroundTask, error) {
	if result.Valid {
		t.Result = result.String
	}
	t.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	t.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
	return t, nil
}
