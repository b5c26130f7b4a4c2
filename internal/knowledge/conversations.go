package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kavyleancoder/meepo/internal/apperr"
)

// Conversation is an append-only log entry. Conversations are never
// mutated after insertion.
type Conversation struct {
	ID        string
	Channel   string
	Sender    string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

func (s *Store) InsertConversation(ctx context.Context, channel, sender, content string, metadata map[string]any) (string, error) {
	var metaRaw sql.NullString
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", apperr.Wrap(apperr.InvalidInput, "marshal conversation metadata", err)
		}
		metaRaw = sql.NullString{String: string(raw), Valid: true}
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(timeLayout)
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO conversations (id, channel, sender, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, channel, sender, content, metaRaw, now)
		return execErr
	})
	if err != nil {
		return "", apperr.Wrap(apperr.IO, "insert conversation", err)
	}
	return id, nil
}

// GetRecentConversations returns up to limit conversations, newest first,
// optionally filtered by channel.
func (s *Store) GetRecentConversations(ctx context.Context, channel string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if channel != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, channel, sender, content, metadata, created_at FROM conversations
			 WHERE channel = ? ORDER BY created_at DESC LIMIT ?`, channel, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, channel, sender, content, metadata, created_at FROM conversations
			 ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query recent conversations", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var metaRaw sql.NullString
		var createdStr string
		if err := rows.Scan(&c.ID, &c.Channel, &c.Sender, &c.Content, &metaRaw, &createdStr); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan conversation", err)
		}
		if metaRaw.Valid {
			meta := map[string]any{}
			_ = json.Unmarshal([]byte(metaRaw.String), &meta)
			c.Metadata = meta
		}
		c.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CleanupOldConversations deletes conversations older than retainDays and
// returns the number of rows removed.
func (s *Store) CleanupOldConversations(ctx context.Context, retainDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retainDays).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.IO, "cleanup old conversations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
