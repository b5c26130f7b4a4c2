package knowledge_test

import (
	"context"
	"testing"
	"time"

	"github.com/kavyleancoder/meepo/internal/knowledge"
)

func openTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	store, err := knowledge.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_OpenConfiguresWALAndSchema(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", foreignKeys)
	}

	for _, table := range []string{"entities", "relationships", "conversations", "watchers", "goals",
		"background_tasks", "preferences", "action_log", "usage_records"} {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestStore_EntityInsertGetSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertEntity(ctx, "Alice", "person", map[string]any{"role": "friend"})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	got, err := store.GetEntity(ctx, id)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if got == nil || got.Name != "Alice" {
		t.Fatalf("unexpected entity: %#v", got)
	}

	hits, err := store.SearchEntities(ctx, "Ali", "", 10)
	if err != nil {
		t.Fatalf("search entities: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != id {
		t.Fatalf("expected 1 hit for %s, got %#v", id, hits)
	}

	if err := store.UpdateEntityMetadata(ctx, id, map[string]any{"role": "coworker"}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	got, _ = store.GetEntity(ctx, id)
	if got.Metadata["role"] != "coworker" {
		t.Fatalf("expected updated metadata, got %#v", got.Metadata)
	}
}

func TestStore_RelationshipRequiresExistingEndpoints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, _ := store.InsertEntity(ctx, "Alice", "person", nil)
	_, err := store.InsertRelationship(ctx, a, "missing-id", "knows", nil)
	if err == nil {
		t.Fatal("expected error for missing target entity")
	}

	b, _ := store.InsertEntity(ctx, "Bob", "person", nil)
	relID, err := store.InsertRelationship(ctx, a, b, "knows", nil)
	if err != nil {
		t.Fatalf("insert relationship: %v", err)
	}
	rels, err := store.RelationshipsFrom(ctx, a)
	if err != nil {
		t.Fatalf("relationships from: %v", err)
	}
	if len(rels) != 1 || rels[0].ID != relID {
		t.Fatalf("unexpected relationships: %#v", rels)
	}
}

func TestStore_FullTextSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertEntity(ctx, "Rocket Launch", "event", nil); err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	if _, err := store.InsertEntity(ctx, "Grocery Run", "task", nil); err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	hits, err := store.Search(ctx, "Rocket", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 fts hit, got %d", len(hits))
	}
}

func TestStore_ConversationsAppendOnlyAndCleanup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertConversation(ctx, "telegram", "bob", "hello", nil); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if _, err := store.InsertConversation(ctx, "telegram", "bob", "world", nil); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	recent, err := store.GetRecentConversations(ctx, "telegram", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "world" {
		t.Fatalf("expected newest-first, got %#v", recent)
	}

	n, err := store.CleanupOldConversations(ctx, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged at 0-day retention, got %d", n)
	}
}

func TestStore_WatcherLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertWatcher(ctx, `{"type":"file_watch","path":"/tmp"}`, "notify", "telegram:123")
	if err != nil {
		t.Fatalf("insert watcher: %v", err)
	}
	active, err := store.GetActiveWatchers(ctx)
	if err != nil {
		t.Fatalf("get active watchers: %v", err)
	}
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("unexpected active watchers: %#v", active)
	}

	if err := store.UpdateWatcherActive(ctx, id, false); err != nil {
		t.Fatalf("deactivate watcher: %v", err)
	}
	active, _ = store.GetActiveWatchers(ctx)
	if len(active) != 0 {
		t.Fatalf("expected 0 active watchers after deactivate, got %d", len(active))
	}

	if err := store.DeleteWatcher(ctx, id); err != nil {
		t.Fatalf("delete watcher: %v", err)
	}
	if err := store.DeleteWatcher(ctx, id); err == nil {
		t.Fatal("expected error deleting already-deleted watcher")
	}
}

func TestStore_GoalDueAndChecked(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	dueID, err := store.InsertGoal(ctx, "check inbox", past)
	if err != nil {
		t.Fatalf("insert goal: %v", err)
	}
	if _, err := store.InsertGoal(ctx, "check calendar", future); err != nil {
		t.Fatalf("insert goal: %v", err)
	}

	due, err := store.GetDueGoals(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("get due goals: %v", err)
	}
	if len(due) != 1 || due[0].ID != dueID {
		t.Fatalf("expected 1 due goal, got %#v", due)
	}

	nextCheck := time.Now().UTC().Add(24 * time.Hour)
	if err := store.UpdateGoalChecked(ctx, dueID, time.Now().UTC(), nextCheck); err != nil {
		t.Fatalf("update goal checked: %v", err)
	}
	due, _ = store.GetDueGoals(ctx, time.Now().UTC())
	if len(due) != 0 {
		t.Fatalf("expected 0 due goals after rescheduling, got %d", len(due))
	}
}

func TestStore_BackgroundTaskLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertBackgroundTask(ctx, "summarize report", "discord:general")
	if err != nil {
		t.Fatalf("insert background task: %v", err)
	}
	active, err := store.GetActiveBackgroundTasks(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("unexpected active tasks: %#v", active)
	}

	if err := store.UpdateBackgroundTask(ctx, id, "done", "report ready"); err != nil {
		t.Fatalf("update task: %v", err)
	}
	active, _ = store.GetActiveBackgroundTasks(ctx)
	if len(active) != 0 {
		t.Fatalf("expected 0 active tasks after completion, got %d", len(active))
	}

	recent, err := store.GetRecentBackgroundTasks(ctx, 5)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Result != "report ready" {
		t.Fatalf("unexpected recent tasks: %#v", recent)
	}
}

func TestStore_PreferenceConfidenceWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertPreference(ctx, "scheduling", "timezone", "UTC", 0.5, "inferred"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Lower confidence write must not overwrite.
	if err := store.UpsertPreference(ctx, "scheduling", "timezone", "PST", 0.2, "guess"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, err := store.GetPreference(ctx, "scheduling", "timezone")
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if p.Value != "UTC" {
		t.Fatalf("expected higher-confidence value to win, got %q", p.Value)
	}

	if err := store.UpsertPreference(ctx, "scheduling", "timezone", "EST", 0.9, "stated"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, _ = store.GetPreference(ctx, "scheduling", "timezone")
	if p.Value != "EST" {
		t.Fatalf("expected higher-confidence write to win, got %q", p.Value)
	}
}

func TestStore_ActionLogRedactsAndFiltersByGoal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	goalID, _ := store.InsertGoal(ctx, "monitor repo", time.Now().UTC())
	if _, err := store.InsertActionLog(ctx, goalID, "tool_call", "ran read_file", "success"); err != nil {
		t.Fatalf("insert action log: %v", err)
	}
	if _, err := store.InsertActionLog(ctx, "", "watcher_fire", "file watch triggered", "success"); err != nil {
		t.Fatalf("insert action log: %v", err)
	}

	forGoal, err := store.ActionsForGoal(ctx, goalID)
	if err != nil {
		t.Fatalf("actions for goal: %v", err)
	}
	if len(forGoal) != 1 {
		t.Fatalf("expected 1 action for goal, got %d", len(forGoal))
	}

	recent, err := store.GetRecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("recent actions: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent actions, got %d", len(recent))
	}
}

func TestStore_UsageSummaryAggregatesByModel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.RecordUsage(ctx, "router", "claude-sonnet-4-5", 1000, 500, 1, 1); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := store.RecordUsage(ctx, "router", "claude-sonnet-4-5", 2000, 1000, 0, 1); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := store.RecordUsage(ctx, "router", "gpt-4o-mini", 500, 200, 0, 1); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	summary, err := store.GetSummary(ctx, 7)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.InputTokens != 3500 || summary.OutputTokens != 1700 {
		t.Fatalf("unexpected totals: %#v", summary)
	}
	if summary.APICalls != 3 {
		t.Fatalf("expected 3 api calls, got %d", summary.APICalls)
	}
	claude := summary.ByModel["claude-sonnet-4-5"]
	if claude.InputTokens != 3000 || claude.ToolCalls != 1 {
		t.Fatalf("unexpected per-model summary: %#v", claude)
	}
}
