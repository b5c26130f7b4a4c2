package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/kavyleancoder/meepo/internal/config"
	"github.com/kavyleancoder/meepo/internal/knowledge"
)

func openMemStore(t *testing.T) *knowledge.Store {
	t.Helper()
	store, err := knowledge.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildSearchProviders_AlwaysIncludesDDG(t *testing.T) {
	cfg := config.Config{}
	provs := buildSearchProviders(cfg)

	found := false
	for _, p := range provs {
		if p.Name() == "duckduckgo" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected duckduckgo provider present with no API keys configured")
	}
	if len(provs) != 1 {
		t.Fatalf("expected only duckduckgo with no keys configured, got %d providers", len(provs))
	}
}

func TestBuildProviders_NoKeysConfigured(t *testing.T) {
	cfg := config.Config{}
	if _, err := buildProviders(cfg); err == nil {
		t.Fatal("expected error when no LLM provider credentials are configured")
	}
}

func TestNewProvider_UnknownName(t *testing.T) {
	cfg := config.Config{}
	if _, err := newProvider("not-a-real-provider", "some-model", "key", cfg); err == nil {
		t.Fatal("expected error for unknown provider name")
	}
}

func TestBuildToolRegistry_RegistersCoreTools(t *testing.T) {
	store := openMemStore(t)
	cfg := config.Config{}

	registry, watcherCmds, taskCmds := buildToolRegistry(cfg, store, noopPolicy{}, testLogger())
	defer close(watcherCmds)
	defer close(taskCmds)

	specs := registry.List()
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		names[s.Name] = true
	}
	for _, want := range []string{"run_command", "read_file", "write_file", "web_search", "remember", "recall", "spawn_background_task", "agent_status", "stop_task"} {
		if !names[want] {
			t.Errorf("tool registry missing %q", want)
		}
	}
}

type noopPolicy struct{}

func (noopPolicy) AllowHTTPURL(string) bool    { return true }
func (noopPolicy) AllowCapability(string) bool { return true }
func (noopPolicy) AllowPath(string) bool       { return true }
func (noopPolicy) PolicyVersion() string       { return "test" }
