package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kavyleancoder/meepo/internal/apperr"
)

// SearchHit is a scored full-text match, re-looked-up against the primary
// entities table by the caller.
type SearchHit struct {
	ID    string
	Score float64
}

// indexEntity maintains the FTS index in lockstep with an entity insert.
func (s *Store) indexEntity(ctx context.Context, id, name, entityType, metadataJSON string) error {
	text := strings.Join([]string{name, entityType, metadataJSON}, " ")
	_, err := s.db.ExecContext(ctx, `INSERT INTO entities_fts (id, text) VALUES (?, ?)`, id, text)
	if err != nil {
		return apperr.Wrap(apperr.IO, "index entity", err)
	}
	return nil
}

// reindexEntity refreshes a single entity's FTS row after a metadata update.
func (s *Store) reindexEntity(ctx context.Context, id string) error {
	e, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return apperr.New(apperr.NotFound, fmt.Sprintf("entity %s not found", id))
	}
	metaRaw, _ := marshalForIndex(e.Metadata)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities_fts WHERE id = ?`, id); err != nil {
		return apperr.Wrap(apperr.IO, "delete fts row", err)
	}
	return s.indexEntity(ctx, e.ID, e.Name, e.EntityType, metaRaw)
}

// ReindexAll rebuilds the FTS index from the primary entities table. Used
// after schema migrations or to repair drift.
func (s *Store) ReindexAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities_fts`); err != nil {
		return apperr.Wrap(apperr.IO, "clear fts index", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, entity_type, metadata FROM entities`)
	if err != nil {
		return apperr.Wrap(apperr.IO, "scan entities for reindex", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name, entityType, metaRaw string
		if err := rows.Scan(&id, &name, &entityType, &metaRaw); err != nil {
			return apperr.Wrap(apperr.IO, "scan entity for reindex", err)
		}
		if err := s.indexEntity(ctx, id, name, entityType, metaRaw); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Search runs a full-text query over indexed entities and returns scored
// hits ordered by relevance (best match first).
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bm25(entities_fts) FROM entities_fts WHERE entities_fts MATCH ? ORDER BY bm25(entities_fts) LIMIT ?`,
		ftsQuery(query), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "fts search", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan fts hit", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery escapes a free-text query into an FTS5 prefix-match expression.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		fields[i] = `"` + f + `"*`
	}
	return strings.Join(fields, " OR ")
}

func marshalForIndex(metadata map[string]any) (string, error) {
	b, err := json.Marshal(metadata)
	return string(b), err
}
