package autonomy

import (
	"context"
	"fmt"
	"strings"

	"github.com/kavyleancoder/meepo/internal/knowledge"
)

// maxContextBytes bounds the assembled context string; when exceeded the
// string is truncated with a trailing marker rather than fed whole to the
// model.
const maxContextBytes = 100_000

const instructionsText = "You are an autonomous agent with access to powerful tools. " +
	"Use your tools proactively to help the user. When you learn something important, " +
	"use the Remember tool to store it. Be concise but thorough. Always think step-by-step " +
	"about complex tasks."

// BuildSystemPrompt assembles the fixed-order system prompt: IDENTITY,
// MEMORY, CONTEXT, CURRENT TIME, INSTRUCTIONS. Sections whose input is
// empty are omitted entirely; CURRENT TIME and INSTRUCTIONS are always
// present.
func BuildSystemPrompt(soul, memory, extraContext, currentTime string) string {
	var b strings.Builder
	if soul != "" {
		b.WriteString("# IDENTITY\n")
		b.WriteString(soul)
		b.WriteString("\n\n")
	}
	if memory != "" {
		b.WriteString("# MEMORY\n")
		b.WriteString(memory)
		b.WriteString("\n\n")
	}
	if extraContext != "" {
		b.WriteString("# CONTEXT\n")
		b.WriteString(extraContext)
		b.WriteString("\n\n")
	}
	b.WriteString("# CURRENT TIME\n")
	b.WriteString(currentTime)
	b.WriteString("\n\n")
	b.WriteString("# INSTRUCTIONS\n")
	b.WriteString(instructionsText)
	return b.String()
}

// ContextStore is the subset of the knowledge store context assembly needs.
type ContextStore interface {
	GetRecentConversations(ctx context.Context, channel string, limit int) ([]knowledge.Conversation, error)
	SearchEntities(ctx context.Context, query, entityType string, limit int) ([]knowledge.Entity, error)
}

// AssembleContext reproduces the original agent's context-loading
// algorithm: up to 10 recent conversations on the channel, up to 3
// knowledge-entity hits per distinct long keyword (first 5 words longer
// than 3 characters) extracted from the incoming message, an
// about-the-sender lookup, and a learned user-interaction-patterns
// summary, all capped at maxContextBytes with a trailing truncation
// marker if exceeded.
func AssembleContext(ctx context.Context, store ContextStore, channel, sender, message string) string {
	if store == nil {
		return ""
	}
	var b strings.Builder

	if convs, err := store.GetRecentConversations(ctx, channel, 10); err == nil && len(convs) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, c := range convs {
			line := fmt.Sprintf("%s: %s\n", c.Sender, c.Content)
			if b.Len()+len(line) > maxContextBytes {
				return truncate(b.String())
			}
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	keywords := extractKeywords(message, 5)
	var knowledgeHits []knowledge.Entity
	for _, kw := range keywords {
		hits, err := store.SearchEntities(ctx, kw, "", 3)
		if err != nil {
			continue
		}
		knowledgeHits = append(knowledgeHits, hits...)
	}
	if len(knowledgeHits) > 0 {
		section := "Relevant knowledge:\n"
		if b.Len()+len(section) > maxContextBytes {
			return truncate(b.String())
		}
		b.WriteString(section)
		for _, e := range knowledgeHits {
			line := fmt.Sprintf("- %s (%s)\n", e.Name, e.EntityType)
			if b.Len()+len(line) > maxContextBytes {
				return truncate(b.String())
			}
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	if sender != "" {
		if about, err := store.SearchEntities(ctx, sender, "person", 1); err == nil && len(about) > 0 {
			section := fmt.Sprintf("About %s: known as a %s\n", about[0].Name, about[0].EntityType)
			if b.Len()+len(section) <= maxContextBytes {
				b.WriteString(section)
			}
		}
	}

	if patterns, err := SummarizeUserPatterns(ctx, store); err == nil && patterns != "" {
		if b.Len()+len(patterns)+1 <= maxContextBytes {
			b.WriteString(patterns)
			b.WriteString("\n")
		}
	}

	return truncate(b.String())
}

func truncate(s string) string {
	if len(s) <= maxContextBytes {
		return s
	}
	return s[:maxContextBytes] + "\n...[context truncated]"
}

// extractKeywords mirrors the original's split_whitespace().filter(len>3).take(n).
func extractKeywords(message string, n int) []string {
	var out []string
	for _, word := range strings.Fields(message) {
		if len(word) > 3 {
			out = append(out, word)
			if len(out) >= n {
				break
			}
		}
	}
	return out
}
