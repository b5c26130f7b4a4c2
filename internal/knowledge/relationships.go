package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
)

// Relationship is a directed edge between two Entities.
type Relationship struct {
	ID           string
	SourceID     string
	TargetID     string
	RelationType string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// InsertRelationship fails with a NotFound-classified error if either
// endpoint does not exist; no row is written in that case.
func (s *Store) InsertRelationship(ctx context.Context, sourceID, targetID, relType string, metadata map[string]any) (string, error) {
	src, err := s.GetEntity(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if src == nil {
		return "", apperr.New(apperr.NotFound, fmt.Sprintf("relationship source entity %s not found", sourceID))
	}
	dst, err := s.GetEntity(ctx, targetID)
	if err != nil {
		return "", err
	}
	if dst == nil {
		return "", apperr.New(apperr.NotFound, fmt.Sprintf("relationship target entity %s not found", targetID))
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "marshal relationship metadata", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(timeLayout)
	err = retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO relationships (id, source_id, target_id, relation_type, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, sourceID, targetID, relType, string(raw), now)
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert relationship", err)
	}
	return id, nil
}

// RelationshipsFrom returns all relationships whose source is entityID.
func (s *Store) RelationshipsFrom(ctx context.Context, entityID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relation_type, metadata, created_at FROM relationships WHERE source_id = ? ORDER BY created_at`,
		entityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query relationships", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		var metaRaw, createdStr string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelationType, &metaRaw, &createdStr); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan relationship", err)
		}
		meta := map[string]any{}
		_ = json.Unmarshal([]byte(metaRaw), &meta)
		r.Metadata = meta
		r.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		out = append(out, r)
	}
	return out, rows.Err()
}
