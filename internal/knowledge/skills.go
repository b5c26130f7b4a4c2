package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kavyleancoder/meepo/internal/apperr"
)

// DefaultSkillQuarantineThreshold is the fault count that auto-quarantines a
// WASM skill module, matching the teacher's own skill_registry default.
const DefaultSkillQuarantineThreshold = 5

// KVSet stores an opaque value the WASM skill host uses to hand results back
// to a guest module that doesn't export its own memory allocator.
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(timeLayout)
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now)
		return execErr
	})
	if err != nil {
		return apperr.Wrap(apperr.IO, "kv set", err)
	}
	return nil
}

// KVGet retrieves a value stored by KVSet. ok is false if the key is unset.
func (s *Store) KVGet(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.IO, "kv get", err)
	}
	return value, true, nil
}

// IsSkillQuarantined reports whether a WASM skill module has been
// auto-quarantined after repeated execution faults. Unknown modules are
// reported as not quarantined.
func (s *Store) IsSkillQuarantined(ctx context.Context, skillID string) (bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM skill_registry WHERE skill_id = ?`, skillID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.IO, "check skill quarantine", err)
	}
	return state == "quarantined", nil
}

// IncrementSkillFault records a WASM skill module fault and quarantines it
// once fault_count crosses threshold (DefaultSkillQuarantineThreshold when
// threshold <= 0).
func (s *Store) IncrementSkillFault(ctx context.Context, skillID string, threshold int) (quarantined bool, err error) {
	if threshold <= 0 {
		threshold = DefaultSkillQuarantineThreshold
	}
	now := time.Now().UTC().Format(timeLayout)

	err = retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO skill_registry (skill_id, state, fault_count, last_fault_at, updated_at)
			 VALUES (?, 'active', 1, ?, ?)
			 ON CONFLICT(skill_id) DO UPDATE SET
				fault_count = fault_count + 1,
				last_fault_at = excluded.last_fault_at,
				updated_at = excluded.updated_at`,
			skillID, now, now)
		return execErr
	})
	if err != nil {
		return false, apperr.Wrap(apperr.IO, "increment skill fault", err)
	}

	var faultCount int
	var state string
	if err := s.db.QueryRowContext(ctx,
		`SELECT fault_count, state FROM skill_registry WHERE skill_id = ?`, skillID,
	).Scan(&faultCount, &state); err != nil {
		return false, apperr.Wrap(apperr.IO, "read skill fault count", err)
	}

	if faultCount >= threshold && state != "quarantined" {
		err = retryOnBusy(ctx, 5, func() error {
			_, execErr := s.db.ExecContext(ctx,
				`UPDATE skill_registry SET state = 'quarantined', updated_at = ? WHERE skill_id = ?`,
				now, skillID)
			return execErr
		})
		if err != nil {
			return false, apperr.Wrap(apperr.IO, "quarantine skill", err)
		}
		return true, nil
	}
	return state == "quarantined", nil
}
