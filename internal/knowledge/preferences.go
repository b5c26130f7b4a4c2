package knowledge

import (
	"context"
	"database/sql"
	"time"

	"github.com/kavyleancoder/meepo/internal/apperr"
)

// Preference is a learned or declared user preference, namespaced so
// different tools and agents don't collide on key names.
type Preference struct {
	Namespace  string
	Key        string
	Value      string
	Confidence float64
	Source     string
	UpdatedAt  time.Time
}

// UpsertPreference writes or overwrites a preference. A higher-confidence
// write always replaces a lower-confidence one; ties are last-write-wins.
func (s *Store) UpsertPreference(ctx context.Context, namespace, key, value string, confidence float64, source string) error {
	now := time.Now().UTC().Format(timeLayout)
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO preferences (namespace, key, value, confidence, source, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(namespace, key) DO UPDATE SET
			   value = excluded.value,
			   confidence = excluded.confidence,
			   source = excluded.source,
			   updated_at = excluded.updated_at
			 WHERE excluded.confidence >= preferences.confidence`,
			namespace, key, value, confidence, sql.NullString{String: source, Valid: source != ""}, now)
		return execErr
	})
	if err != nil {
		return apperr.Wrap(apperr.IO, "upsert preference", err)
	}
	return nil
}

// GetPreferences returns every preference in a namespace.
func (s *Store) GetPreferences(ctx context.Context, namespace string) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, key, value, confidence, source, updated_at FROM preferences WHERE namespace = ? ORDER BY key`,
		namespace)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query preferences", err)
	}
	defer rows.Close()

	var out []Preference
	for rows.Next() {
		var p Preference
		var source sql.NullString
		var updatedStr string
		if err := rows.Scan(&p.Namespace, &p.Key, &p.Value, &p.Confidence, &source, &updatedStr); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan preference", err)
		}
		if source.Valid {
			p.Source = source.String
		}
		p.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPreference returns a single preference, or nil if unset.
func (s *Store) GetPreference(ctx context.Context, namespace, key string) (*Preference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, key, value, confidence, source, updated_at FROM preferences WHERE namespace = ? AND key = ?`,
		namespace, key)
	var p Preference
	var source sql.NullString
	var updatedStr string
	if err := row.Scan(&p.Namespace, &p.Key, &p.Value, &p.Confidence, &source, &updatedStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.IO, "get preference", err)
	}
	if source.Valid {
		p.Source = source.String
	}
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
	return &p, nil
}
