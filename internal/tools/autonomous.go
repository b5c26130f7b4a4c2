package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kavyleancoder/meepo/internal/knowledge"
)

const maxSpawnDescriptionLen = 10_000

// BackgroundTaskCommand notifies the autonomy loop of a spawn or cancel
// requested through the tool-calling path, mirroring the watcher scheduler's
// own command channel.
type BackgroundTaskCommand struct {
	Kind        string // "spawn" or "cancel"
	ID          string
	Description string
	ReplyChan   string
}

// WatcherCommand notifies the scheduler to cancel a running watcher.
type WatcherCommand struct {
	Kind string // "cancel"
	ID   string
}

// TaskStore is the subset of the knowledge store the autonomous-management
// tools need.
type TaskStore interface {
	InsertBackgroundTask(ctx context.Context, description, replyChannel string) (string, error)
	UpdateBackgroundTask(ctx context.Context, id, status, result string) error
	GetActiveBackgroundTasks(ctx context.Context) ([]knowledge.BackgroundTask, error)
	GetRecentBackgroundTasks(ctx context.Context, limit int) ([]knowledge.BackgroundTask, error)
	GetActiveWatchers(ctx context.Context) ([]knowledge.Watcher, error)
	UpdateWatcherActive(ctx context.Context, id string, active bool) error
}

// SpawnBackgroundTaskTool lets the agent start an autonomous sub-task that
// runs independently of the current conversation turn. Write tier.
type SpawnBackgroundTaskTool struct {
	Store    TaskStore
	Commands chan<- BackgroundTaskCommand
}

func (SpawnBackgroundTaskTool) Name() string { return "spawn_background_task" }
func (SpawnBackgroundTaskTool) Description() string {
	return "Spawn an autonomous background task (sub-agent) to work on something independently. " +
		"The task runs in the background and results are reported to the specified channel when done."
}
func (SpawnBackgroundTaskTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"description":   map[string]any{"type": "string", "description": "What the background task should accomplish"},
		"reply_channel": map[string]any{"type": "string", "description": "Channel to report results to (e.g. 'discord', 'telegram'). Defaults to 'internal'."},
	}, []string{"description"})
}

func (t SpawnBackgroundTaskTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Description  string `json:"description"`
		ReplyChannel string `json:"reply_channel"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if in.Description == "" {
		return "", fmt.Errorf("missing 'description' parameter")
	}
	if len(in.Description) > maxSpawnDescriptionLen {
		return "", fmt.Errorf("description too long (%d chars, max %d)", len(in.Description), maxSpawnDescriptionLen)
	}
	replyChannel := in.ReplyChannel
	if replyChannel == "" {
		replyChannel = "internal"
	}

	taskID, err := t.Store.InsertBackgroundTask(ctx, in.Description, replyChannel)
	if err != nil {
		return "", fmt.Errorf("create background task: %w", err)
	}

	if t.Commands != nil {
		select {
		case t.Commands <- BackgroundTaskCommand{Kind: "spawn", ID: taskID, Description: in.Description, ReplyChan: replyChannel}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return fmt.Sprintf("Spawned background task [%s]: %s", taskID, in.Description), nil
}

// AgentStatusTool reports active watchers, running background tasks, and
// recently completed tasks. ReadOnly tier.
type AgentStatusTool struct {
	Store TaskStore
}

func (AgentStatusTool) Name() string { return "agent_status" }
func (AgentStatusTool) Description() string {
	return "Show everything the agent is currently managing: active watchers, running background tasks, " +
		"and recently completed tasks. Use this when the user asks 'what are you doing?' or 'what are you watching?'"
}
func (AgentStatusTool) InputSchema() map[string]any {
	return Schema(map[string]any{}, []string{})
}

func (t AgentStatusTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	var out strings.Builder

	watchers, err := t.Store.GetActiveWatchers(ctx)
	if err != nil {
		return "", fmt.Errorf("get active watchers: %w", err)
	}
	if len(watchers) == 0 {
		out.WriteString("## Active Watchers\nNone\n\n")
	} else {
		fmt.Fprintf(&out, "## Active Watchers (%d)\n", len(watchers))
		for _, w := range watchers {
			fmt.Fprintf(&out, "- [%s] %s → %s (%s)\n  Action: %s\n",
				w.ID, w.KindJSON, w.ReplyChannel, formatAge(w.CreatedAt), w.Action)
		}
		out.WriteString("\n")
	}

	tasks, err := t.Store.GetActiveBackgroundTasks(ctx)
	if err != nil {
		return "", fmt.Errorf("get active background tasks: %w", err)
	}
	if len(tasks) == 0 {
		out.WriteString("## Running Tasks\nNone\n\n")
	} else {
		fmt.Fprintf(&out, "## Running Tasks (%d)\n", len(tasks))
		for _, task := range tasks {
			fmt.Fprintf(&out, "- [%s] %s → %s (%s, %s)\n",
				task.ID, task.Description, task.ReplyChannel, task.Status, formatAge(task.CreatedAt))
		}
		out.WriteString("\n")
	}

	recent, err := t.Store.GetRecentBackgroundTasks(ctx, 5)
	if err != nil {
		return "", fmt.Errorf("get recent background tasks: %w", err)
	}
	if len(recent) > 0 {
		fmt.Fprintf(&out, "## Recently Completed (%d)\n", len(recent))
		for _, task := range recent {
			resultPreview := task.Result
			if len(resultPreview) > 80 {
				resultPreview = resultPreview[:80] + "..."
			}
			fmt.Fprintf(&out, "- [%s] %s — %s %s", task.ID, task.Description, task.Status, formatAge(task.UpdatedAt))
			if resultPreview != "" {
				fmt.Fprintf(&out, "\n  Result: %s", resultPreview)
			}
			out.WriteString("\n")
		}
	}

	if strings.TrimSpace(out.String()) == "" {
		return "No active watchers or background tasks.", nil
	}
	return out.String(), nil
}

// StopTaskTool cancels any watcher or background task by ID, dispatching on
// the w-/t- ID prefix. Write tier.
type StopTaskTool struct {
	Store           TaskStore
	WatcherCommands chan<- WatcherCommand
	TaskCommands    chan<- BackgroundTaskCommand
}

func (StopTaskTool) Name() string { return "stop_task" }
func (StopTaskTool) Description() string {
	return "Stop/cancel any active watcher or background task by its ID. " +
		"Watcher IDs start with 'w-', background task IDs start with 't-'. " +
		"Use agent_status to see all active items and their IDs."
}
func (StopTaskTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"task_id": map[string]any{"type": "string", "description": "ID of the watcher (w-...) or background task (t-...) to stop"},
	}, []string{"task_id"})
}

func (t StopTaskTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}

	switch {
	case strings.HasPrefix(in.TaskID, "w-"):
		if err := t.Store.UpdateWatcherActive(ctx, in.TaskID, false); err != nil {
			return "", fmt.Errorf("deactivate watcher: %w", err)
		}
		if t.WatcherCommands != nil {
			select {
			case t.WatcherCommands <- WatcherCommand{Kind: "cancel", ID: in.TaskID}:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return fmt.Sprintf("Stopped watcher [%s]", in.TaskID), nil

	case strings.HasPrefix(in.TaskID, "t-"):
		if err := t.Store.UpdateBackgroundTask(ctx, in.TaskID, "cancelled", ""); err != nil {
			return "", fmt.Errorf("cancel background task: %w", err)
		}
		if t.TaskCommands != nil {
			select {
			case t.TaskCommands <- BackgroundTaskCommand{Kind: "cancel", ID: in.TaskID}:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return fmt.Sprintf("Stopped background task [%s]", in.TaskID), nil

	default:
		return "", fmt.Errorf("invalid task ID %q: must start with 'w-' (watcher) or 't-' (background task)", in.TaskID)
	}
}

func formatAge(t time.Time) string {
	elapsed := time.Since(t)
	switch {
	case elapsed >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(elapsed.Hours()/24))
	case elapsed >= time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed.Hours()))
	case elapsed >= time.Minute:
		return fmt.Sprintf("%dm ago", int(elapsed.Minutes()))
	default:
		return "just now"
	}
}
