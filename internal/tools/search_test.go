package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/kavyleancoder/meepo/internal/policy"
)

type fakeSearchProvider struct {
	name      string
	available bool
	results   []SearchResult
	err       error
}

func (p fakeSearchProvider) Name() string           { return p.name }
func (p fakeSearchProvider) Description() string    { return "fake" }
func (p fakeSearchProvider) Domains() []string      { return nil }
func (p fakeSearchProvider) APIKeyReqs() []APIKeyReq { return nil }
func (p fakeSearchProvider) Available() bool        { return p.available }
func (p fakeSearchProvider) Search(ctx context.Context, query string, pol policy.Checker) ([]SearchResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

func TestWebSearchTool_FirstAvailableProviderWins(t *testing.T) {
	providers := []SearchProvider{
		fakeSearchProvider{name: "unavailable", available: false},
		fakeSearchProvider{name: "good", available: true, results: []SearchResult{{Title: "hit", URL: "http://x", Snippet: "s"}}},
	}
	tool := WebSearchTool{Policy: allowAll("tools.web_search"), Providers: providers}
	input := mustJSON(map[string]string{"query": "golang"})
	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "good") || !strings.Contains(result, "hit") {
		t.Errorf("expected result from 'good' provider, got %q", result)
	}
}

func TestWebSearchTool_FallsThroughOnProviderError(t *testing.T) {
	providers := []SearchProvider{
		fakeSearchProvider{name: "broken", available: true, err: errTaskNotFound},
		fakeSearchProvider{name: "good", available: true, results: []SearchResult{{Title: "hit"}}},
	}
	tool := WebSearchTool{Policy: allowAll("tools.web_search"), Providers: providers}
	result, err := tool.Execute(context.Background(), mustJSON(map[string]string{"query": "q"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "good") {
		t.Errorf("expected fallthrough to 'good' provider, got %q", result)
	}
}

func TestWebSearchTool_CapabilityDenied(t *testing.T) {
	tool := WebSearchTool{Policy: fakePolicy{}}
	_, err := tool.Execute(context.Background(), mustJSON(map[string]string{"query": "q"}))
	if err == nil {
		t.Fatal("expected capability denial")
	}
}

func TestWebSearchTool_NoProvidersAvailable(t *testing.T) {
	tool := WebSearchTool{Policy: allowAll("tools.web_search")}
	result, err := tool.Execute(context.Background(), mustJSON(map[string]string{"query": "q"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "unavailable") {
		t.Errorf("expected 'unavailable' message, got %q", result)
	}
}
