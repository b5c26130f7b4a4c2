// Package scheduler owns the watcher set and multiplexes polling,
// filesystem, and cron/one-shot triggers into a single stream of
// WatcherEvents consumed by the autonomous loop.
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"
)

// WatcherKindType discriminates the Kind tagged union, matching the JSON
// "type" field persisted alongside each watcher.
type WatcherKindType string

const (
	KindEmailWatch    WatcherKindType = "EmailWatch"
	KindCalendarWatch WatcherKindType = "CalendarWatch"
	KindGitHubWatch   WatcherKindType = "GitHubWatch"
	KindFileWatch     WatcherKindType = "FileWatch"
	KindMessageWatch  WatcherKindType = "MessageWatch"
	KindScheduled     WatcherKindType = "Scheduled"
	KindOneShot       WatcherKindType = "OneShot"
)

// WatcherKind is the tagged union of every watcher variant. Go has no sum
// type, so (as in providers.ChatBlock) one struct carries a Type tag plus
// the fields relevant to that tag; only the fields for Type are populated.
type WatcherKind struct {
	Type WatcherKindType `json:"type"`

	// EmailWatch
	From            string `json:"from,omitempty"`
	SubjectContains string `json:"subject_contains,omitempty"`
	IntervalSecs    uint64 `json:"interval_secs,omitempty"`

	// CalendarWatch
	LookaheadHours uint64 `json:"lookahead_hours,omitempty"`

	// GitHubWatch
	Repo        string   `json:"repo,omitempty"`
	Events      []string `json:"events,omitempty"`
	GitHubToken string   `json:"github_token,omitempty"`

	// FileWatch
	Path string `json:"path,omitempty"`

	// MessageWatch
	Keyword string `json:"keyword,omitempty"`

	// Scheduled
	CronExpr string `json:"cron_expr,omitempty"`
	Task     string `json:"task,omitempty"`

	// OneShot
	At time.Time `json:"at,omitempty"`
}

// MinIntervalSecs returns the minimum safe polling interval for this
// watcher type. Configured intervals below this are raised silently by the
// scheduler (see Scheduler.effectiveInterval).
func (k WatcherKind) MinIntervalSecs() uint64 {
	switch k.Type {
	case KindEmailWatch:
		return 60
	case KindCalendarWatch:
		return 300
	case KindGitHubWatch:
		return 30
	default:
		return 0
	}
}

func (k WatcherKind) IsPolling() bool {
	switch k.Type {
	case KindEmailWatch, KindCalendarWatch, KindGitHubWatch:
		return true
	default:
		return false
	}
}

func (k WatcherKind) IsEventDriven() bool {
	return k.Type == KindFileWatch || k.Type == KindMessageWatch
}

func (k WatcherKind) IsScheduled() bool {
	return k.Type == KindScheduled || k.Type == KindOneShot
}

// Description renders a human-readable summary, used by AgentStatusTool and
// watcher listings.
func (k WatcherKind) Description() string {
	switch k.Type {
	case KindEmailWatch:
		desc := fmt.Sprintf("Email watcher (every %ds)", k.IntervalSecs)
		if k.From != "" {
			desc += " from: " + k.From
		}
		if k.SubjectContains != "" {
			desc += " subject contains: " + k.SubjectContains
		}
		return desc
	case KindCalendarWatch:
		return fmt.Sprintf("Calendar watcher (%dh lookahead, every %ds)", k.LookaheadHours, k.IntervalSecs)
	case KindGitHubWatch:
		return fmt.Sprintf("GitHub watcher for %s (events: %v, every %ds)", k.Repo, k.Events, k.IntervalSecs)
	case KindFileWatch:
		return "File watcher for " + k.Path
	case KindMessageWatch:
		return "Message watcher for keyword: " + k.Keyword
	case KindScheduled:
		return fmt.Sprintf("Scheduled task %q (cron: %s)", k.Task, k.CronExpr)
	case KindOneShot:
		return fmt.Sprintf("One-shot task %q at %s", k.Task, k.At.Format(time.RFC3339))
	default:
		return "unknown watcher"
	}
}

// Watcher is the scheduler's in-memory view of a persisted watcher row.
type Watcher struct {
	ID           string
	Kind         WatcherKind
	Action       string
	ReplyChannel string
	Active       bool
	CreatedAt    time.Time
}

// ParseWatcherKind decodes a persisted kind JSON document (knowledge.Watcher.KindJSON).
func ParseWatcherKind(raw string) (WatcherKind, error) {
	var k WatcherKind
	if err := json.Unmarshal([]byte(raw), &k); err != nil {
		return WatcherKind{}, fmt.Errorf("parse watcher kind: %w", err)
	}
	return k, nil
}

// EncodeWatcherKind serializes a WatcherKind to the JSON form persisted in
// knowledge.Watcher.KindJSON.
func EncodeWatcherKind(k WatcherKind) (string, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("encode watcher kind: %w", err)
	}
	return string(b), nil
}

// WatcherEvent is an ephemeral firing, transmitted over the scheduler→loop
// channel and never persisted.
type WatcherEvent struct {
	WatcherID string
	Kind      string // "email_received" | "file_changed" | "github_*" | "calendar_event" | "task_triggered" | ...
	Payload   map[string]any
	Timestamp time.Time
}

func newEvent(watcherID, kind string, payload map[string]any) WatcherEvent {
	return WatcherEvent{WatcherID: watcherID, Kind: kind, Payload: payload, Timestamp: time.Now()}
}

func emailEvent(watcherID, from, subject, body string) WatcherEvent {
	return newEvent(watcherID, "email_received", map[string]any{"from": from, "subject": subject, "body": body})
}

func calendarEvent(watcherID, title string, at time.Time) WatcherEvent {
	return newEvent(watcherID, "calendar_event", map[string]any{"title": title, "time": at})
}

func fileChangedEvent(watcherID, path, changeType string) WatcherEvent {
	return newEvent(watcherID, "file_changed", map[string]any{"path": path, "change_type": changeType})
}

func githubEvent(watcherID, eventType string, data map[string]any) WatcherEvent {
	return newEvent(watcherID, "github_"+eventType, data)
}

func taskEvent(watcherID, task string) WatcherEvent {
	return newEvent(watcherID, "task_triggered", map[string]any{"task": task})
}
