package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
)

// Entity is a named, typed node in the knowledge graph.
type Entity struct {
	ID         string
	Name       string
	EntityType string
	Metadata   map[string]any
	CreatedAt  time.Time
}

func (s *Store) InsertEntity(ctx context.Context, name, entityType string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "marshal entity metadata", err)
	}
	id := uuid.New().String()
	now := time.Now().UTC().Format(timeLayout)

	err = retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO entities (id, name, entity_type, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, name, entityType, string(raw), now)
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert entity", err)
	}

	if err := s.indexEntity(ctx, id, name, entityType, string(raw)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, entity_type, metadata, created_at FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "get entity", err)
	}
	return e, nil
}

// SearchEntities performs a substring match on name/type (case-insensitive),
// optionally filtered by entity_type.
func (s *Store) SearchEntities(ctx context.Context, query, entityType string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	var rows *sql.Rows
	var err error
	if entityType != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, entity_type, metadata, created_at FROM entities
			 WHERE (name LIKE ? COLLATE NOCASE OR entity_type LIKE ? COLLATE NOCASE) AND entity_type = ?
			 ORDER BY created_at DESC LIMIT ?`, like, like, entityType, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, entity_type, metadata, created_at FROM entities
			 WHERE name LIKE ? COLLATE NOCASE OR entity_type LIKE ? COLLATE NOCASE
			 ORDER BY created_at DESC LIMIT ?`, like, like, limit)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "search entities", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntityRow(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan entity row", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEntityMetadata(ctx context.Context, id string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "marshal entity metadata", err)
	}
	res, execErr := s.db.ExecContext(ctx, `UPDATE entities SET metadata = ? WHERE id = ?`, string(raw), id)
	if execErr != nil {
		return apperr.Wrap(apperr.IO, "update entity metadata", execErr)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, fmt.Sprintf("entity %s not found", id))
	}
	return s.reindexEntity(ctx, id)
}

func scanEntity(row *sql.Row) (*Entity, error) {
	var e Entity
	var metaRaw, createdStr string
	if err := row.Scan(&e.ID, &e.Name, &e.EntityType, &metaRaw, &createdStr); err != nil {
		return nil, err
	}
	return finishEntityScan(&e, metaRaw, createdStr)
}

func scanEntityRow(rows *sql.Rows) (*Entity, error) {
	var e Entity
	var metaRaw, createdStr string
	if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &metaRaw, &createdStr); err != nil {
		return nil, err
	}
	return finishEntityScan(&e, metaRaw, createdStr)
}

func finishEntityScan(e *Entity, metaRaw, createdStr string) (*Entity, error) {
	meta := map[string]any{}
	if metaRaw != "" {
		_ = json.Unmarshal([]byte(metaRaw), &meta)
	}
	e.Metadata = meta
	if t, err := time.Parse(timeLayout, createdStr); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}
