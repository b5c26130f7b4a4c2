package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
)

// Goal is a standing objective the autonomous loop checks on periodically.
type Goal struct {
	ID            string
	Description   string
	Status        string // active, paused, done
	NextCheckAt   time.Time
	LastCheckedAt *time.Time
	CreatedAt     time.Time
}

func (s *Store) InsertGoal(ctx context.Context, description string, nextCheckAt time.Time) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO goals (id, description, status, next_check_at, created_at) VALUES (?, ?, 'active', ?, ?)`,
			id, description, nextCheckAt.UTC().Format(timeLayout), now.Format(timeLayout))
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert goal", err)
	}
	return id, nil
}

// GetDueGoals returns every active goal whose next_check_at has passed.
func (s *Store) GetDueGoals(ctx context.Context, asOf time.Time) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, status, next_check_at, last_checked_at, created_at
		 FROM goals WHERE status = 'active' AND next_check_at <= ? ORDER BY next_check_at`,
		asOf.UTC().Format(timeLayout))
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query due goals", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan goal", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) GetGoal(ctx context.Context, id string) (*Goal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, status, next_check_at, last_checked_at, created_at FROM goals WHERE id = ?`, id)
	g, err := scanGoalRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "get goal", err)
	}
	return g, nil
}

// UpdateGoalChecked records that a goal was just checked and schedules the
// next check.
func (s *Store) UpdateGoalChecked(ctx context.Context, id string, checkedAt, nextCheckAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET last_checked_at = ?, next_check_at = ? WHERE id = ?`,
		checkedAt.UTC().Format(timeLayout), nextCheckAt.UTC().Format(timeLayout), id)
	if err != nil {
		return apperr.Wrap(apperr.IO, "update goal checked", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "goal not found")
	}
	return nil
}

func (s *Store) UpdateGoalStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE goals SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return apperr.Wrap(apperr.IO, "update goal status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "goal not found")
	}
	return nil
}

func scanGoal(rows *sql.Rows) (*Goal, error) {
	var g Goal
	var nextStr, createdStr string
	var lastStr sql.NullString
	if err := rows.Scan(&g.ID, &g.Description, &g.Status, &nextStr, &lastStr, &createdStr); err != nil {
		return nil, err
	}
	return finishGoalScan(&g, nextStr, lastStr, createdStr)
}

func scanGoalRow(row *sql.Row) (*Goal, error) {
	var g Goal
	var nextStr, createdStr string
	var lastStr sql.NullString
	if err := row.Scan(&g.ID, &g.Description, &g.Status, &nextStr, &lastStr, &createdStr); err != nil {
		return nil, err
	}
	return finishGoalScan(&g, nextStr, lastStr, createdStr)
}

func finishGoalScan(g *Goal, nextStr string, lastStr sql.NullString, createdStr string) (*Goal, error) {
	g.NextCheckAt, _ = time.Parse(timeLayout, nextStr)
	g.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	if lastStr.Valid {
		if t, err := time.Parse(timeLayout, lastStr.String); err == nil {
			g.LastCheckedAt = &t
		}
	}
	return g, nil
}
