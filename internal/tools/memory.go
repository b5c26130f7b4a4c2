package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kavyleancoder/meepo/internal/knowledge"
)

// KnowledgeStore is the subset of the knowledge store the memory tools need.
type KnowledgeStore interface {
	InsertEntity(ctx context.Context, name, entityType string, metadata map[string]any) (string, error)
	SearchEntities(ctx context.Context, query, entityType string, limit int) ([]knowledge.Entity, error)
	InsertRelationship(ctx context.Context, sourceID, targetID, relType string, metadata map[string]any) (string, error)
	Search(ctx context.Context, query string, limit int) ([]knowledge.SearchHit, error)
	GetEntity(ctx context.Context, id string) (*knowledge.Entity, error)
}

// RememberTool stores a named, typed entity in the knowledge graph. Write tier.
type RememberTool struct {
	Store KnowledgeStore
}

func (RememberTool) Name() string { return "remember" }
func (RememberTool) Description() string {
	return "Remember important information by storing it in the knowledge graph. " +
		"Creates an entity with a name, type, and optional metadata."
}
func (RememberTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"name":        map[string]any{"type": "string", "description": "Name or identifier for this piece of knowledge"},
		"entity_type": map[string]any{"type": "string", "description": "Type of entity (e.g., 'person', 'concept', 'fact', 'preference')"},
		"metadata":    map[string]any{"type": "object", "description": "Additional structured information about this entity"},
	}, []string{"name", "entity_type"})
}

func (t RememberTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Name       string         `json:"name"`
		EntityType string         `json:"entity_type"`
		Metadata   map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	id, err := t.Store.InsertEntity(ctx, in.Name, in.EntityType, in.Metadata)
	if err != nil {
		return "", fmt.Errorf("insert entity: %w", err)
	}
	return fmt.Sprintf("Remembered %q with ID: %s", in.Name, id), nil
}

// RecallTool searches the knowledge graph by name/type substring. ReadOnly tier.
type RecallTool struct {
	Store KnowledgeStore
}

func (RecallTool) Name() string { return "recall" }
func (RecallTool) Description() string {
	return "Search the knowledge graph for previously stored information. " +
		"Returns matching entities based on name or type."
}
func (RecallTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"query":       map[string]any{"type": "string", "description": "Search query (searches in name and type)"},
		"entity_type": map[string]any{"type": "string", "description": "Optional: filter by entity type"},
	}, []string{"query"})
}

func (t RecallTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Query      string `json:"query"`
		EntityType string `json:"entity_type"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	results, err := t.Store.SearchEntities(ctx, in.Query, in.EntityType, 10)
	if err != nil {
		return "", fmt.Errorf("search entities: %w", err)
	}
	if len(results) == 0 {
		return "No matching information found.", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Found %d result(s):\n\n", len(results))
	for _, e := range results {
		fmt.Fprintf(&out, "- %s (%s)", e.Name, e.EntityType)
		if len(e.Metadata) > 0 {
			raw, _ := json.Marshal(e.Metadata)
			fmt.Fprintf(&out, "\n  Metadata: %s", raw)
		}
		out.WriteString("\n")
	}
	return out.String(), nil
}

// LinkEntitiesTool creates a relationship between two entities. Write tier.
type LinkEntitiesTool struct {
	Store KnowledgeStore
}

func (LinkEntitiesTool) Name() string { return "link_entities" }
func (LinkEntitiesTool) Description() string {
	return "Create a relationship between two entities in the knowledge graph. " +
		"Useful for building connections between concepts, people, facts, etc."
}
func (LinkEntitiesTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"source_id":     map[string]any{"type": "string", "description": "ID of the source entity"},
		"target_id":     map[string]any{"type": "string", "description": "ID of the target entity"},
		"relation_type": map[string]any{"type": "string", "description": "Type of relationship (e.g., 'related_to', 'works_with', 'part_of')"},
		"metadata":      map[string]any{"type": "object", "description": "Optional metadata about the relationship"},
	}, []string{"source_id", "target_id", "relation_type"})
}

func (t LinkEntitiesTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		SourceID     string         `json:"source_id"`
		TargetID     string         `json:"target_id"`
		RelationType string         `json:"relation_type"`
		Metadata     map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	relID, err := t.Store.InsertRelationship(ctx, in.SourceID, in.TargetID, in.RelationType, in.Metadata)
	if err != nil {
		return "", fmt.Errorf("create relationship: %w", err)
	}
	return fmt.Sprintf("Created relationship with ID: %s", relID), nil
}

// SearchKnowledgeTool runs the FTS5 full-text index across stored entities,
// ranked by relevance. More powerful than recall's plain substring match.
type SearchKnowledgeTool struct {
	Store KnowledgeStore
}

func (SearchKnowledgeTool) Name() string { return "search_knowledge" }
func (SearchKnowledgeTool) Description() string {
	return "Perform a full-text search across all stored knowledge. " +
		"More powerful than recall for finding relevant information."
}
func (SearchKnowledgeTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"query": map[string]any{"type": "string", "description": "Search query"},
		"limit": map[string]any{"type": "number", "description": "Maximum number of results (default: 10)"},
	}, []string{"query"})
}

func (t SearchKnowledgeTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	hits, err := t.Store.Search(ctx, in.Query, limit)
	if err != nil {
		return "", fmt.Errorf("search knowledge: %w", err)
	}
	if len(hits) == 0 {
		return "No results found.", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Found %d result(s):\n\n", len(hits))
	for _, h := range hits {
		e, err := t.Store.GetEntity(ctx, h.ID)
		if err != nil || e == nil {
			continue
		}
		fmt.Fprintf(&out, "- %s (%s)\n", e.Name, e.EntityType)
		if len(e.Metadata) > 0 {
			raw, _ := json.Marshal(e.Metadata)
			fmt.Fprintf(&out, "  %s\n", raw)
		}
	}
	return out.String(), nil
}
