package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmailItem is one message surfaced by an EmailProvider poll.
type EmailItem struct {
	ID      string
	From    string
	Subject string
	Body    string
}

// EmailProvider fetches new mail since cursor (an opaque provider-specific
// position, e.g. a UID or timestamp) and returns the cursor to resume from
// next time. No concrete IMAP/Gmail client ships in this module — wiring
// one in is a deployment-time concern, same as the search providers in
// internal/tools/search.go.
type EmailProvider interface {
	FetchNew(ctx context.Context, from, subjectContains, cursor string) (items []EmailItem, nextCursor string, err error)
}

// CalendarItem is one upcoming event surfaced by a CalendarProvider poll.
type CalendarItem struct {
	Title string
	At    time.Time
}

// CalendarProvider fetches events starting within lookahead of now.
type CalendarProvider interface {
	FetchUpcoming(ctx context.Context, lookahead time.Duration) ([]CalendarItem, error)
}

// GitHubPoller fetches events for a repository since the given cursor (the
// most recent event ID already seen), filtered to eventTypes. Implemented
// directly against the public Events API with net/http since no GitHub
// client library appears anywhere in the example pack.
type GitHubPoller struct {
	Client *http.Client
}

type githubEventPayload struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload json.RawMessage `json:"payload"`
}

// FetchNew returns events newer than sinceID (exclusive), newest-first input
// reversed to oldest-first so callers emit in chronological order.
func (p *GitHubPoller) FetchNew(ctx context.Context, repo string, eventTypes []string, token, sinceID string) ([]githubEventPayload, string, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/events", repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, sinceID, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, sinceID, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, sinceID, fmt.Errorf("github events: unexpected status %d", resp.StatusCode)
	}

	var events []githubEventPayload
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, sinceID, err
	}

	allowed := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		allowed[t] = true
	}

	var fresh []githubEventPayload
	nextCursor := sinceID
	for i, ev := range events {
		if ev.ID == sinceID {
			break
		}
		if len(allowed) > 0 && !allowed[ev.Type] {
			continue
		}
		fresh = append(fresh, ev)
		if i == 0 {
			nextCursor = ev.ID
		}
	}
	// events arrive newest-first; emit oldest-first for chronological order
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh, nextCursor, nil
}
