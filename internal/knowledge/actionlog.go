package knowledge

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
	"github.com/kavyleancoder/meepo/internal/shared"
)

// ActionLogEntry records one autonomous action the agent took, independent
// of the policy-decision audit trail in internal/audit.
type ActionLogEntry struct {
	ID          string
	GoalID      string
	ActionType  string
	Description string
	Outcome     string
	Timestamp   time.Time
}

// InsertActionLog appends an entry to the action log. Description and
// outcome are redacted before persistence, same as the policy audit trail.
func (s *Store) InsertActionLog(ctx context.Context, goalID, actionType, description, outcome string) (string, error) {
	description = shared.Redact(description)
	outcome = shared.Redact(outcome)

	id := uuid.New().String()
	now := time.Now().UTC().Format(timeLayout)
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO action_log (id, goal_id, action_type, description, outcome, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
			id, sql.NullString{String: goalID, Valid: goalID != ""}, actionType, description, outcome, now)
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert action log", err)
	}
	return id, nil
}

// GetRecentActions returns the most recent action log entries, newest first.
func (s *Store) GetRecentActions(ctx context.Context, limit int) ([]ActionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, goal_id, action_type, description, outcome, timestamp FROM action_log ORDER BY timestamp DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query action log", err)
	}
	defer rows.Close()

	var out []ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		var goalID sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &goalID, &e.ActionType, &e.Description, &e.Outcome, &ts); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan action log entry", err)
		}
		if goalID.Valid {
			e.GoalID = goalID.String
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ActionsForGoal returns the action log entries recorded against a goal,
// oldest first.
func (s *Store) ActionsForGoal(ctx context.Context, goalID string) ([]ActionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, goal_id, action_type, description, outcome, timestamp FROM action_log WHERE goal_id = ? ORDER BY timestamp`,
		goalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query actions for goal", err)
	}
	defer rows.Close()

	var out []ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		var gID sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &gID, &e.ActionType, &e.Description, &e.Outcome, &ts); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan action log entry", err)
		}
		if gID.Valid {
			e.GoalID = gID.String
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
