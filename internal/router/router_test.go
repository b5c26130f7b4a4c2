package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kavyleancoder/meepo/internal/providers"
)

// mockProvider replays a scripted sequence of responses/errors, one per call,
// and records how many times it was invoked.
type mockProvider struct {
	name    string
	results []mockResult
	calls   int
}

type mockResult struct {
	resp providers.ChatResponse
	err  error
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if m.calls >= len(m.results) {
		return providers.ChatResponse{}, errors.New("mockProvider: no more scripted results")
	}
	r := m.results[m.calls]
	m.calls++
	return r.resp, r.err
}

func textResp(text string) providers.ChatResponse {
	return providers.ChatResponse{
		Blocks:     []providers.ChatBlock{providers.TextBlock(text)},
		StopReason: providers.StopEndTurn,
	}
}

func TestRouter_SingleProviderSuccess(t *testing.T) {
	p := &mockProvider{name: "primary", results: []mockResult{{resp: textResp("hi")}}}
	r := Single(p)

	resp, err := r.Chat(context.Background(), providers.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Blocks[0].Text != "hi" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", p.calls)
	}
}

func TestRouter_FailsOverOnRetryableError(t *testing.T) {
	primary := &mockProvider{name: "primary", results: []mockResult{
		{err: errors.New("server error 500")},
		{err: errors.New("server error 500")},
	}}
	fallback := &mockProvider{name: "fallback", results: []mockResult{{resp: textResp("ok")}}}

	r, err := New([]providers.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("unexpected error constructing router: %v", err)
	}
	r.WithBaseRetryDelay(time.Millisecond)

	resp, err := r.Chat(context.Background(), providers.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Blocks[0].Text != "ok" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if primary.calls != 2 {
		t.Fatalf("expected primary retried to exhaustion (2 calls), got %d", primary.calls)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback called once, got %d", fallback.calls)
	}
}

func TestRouter_AllProvidersFail(t *testing.T) {
	primary := &mockProvider{name: "primary", results: []mockResult{
		{err: errors.New("503")}, {err: errors.New("503")},
	}}
	fallback := &mockProvider{name: "fallback", results: []mockResult{
		{err: errors.New("504")}, {err: errors.New("504")},
	}}

	r, err := New([]providers.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.WithBaseRetryDelay(time.Millisecond)

	_, err = r.Chat(context.Background(), providers.ChatRequest{})
	if err == nil {
		t.Fatalf("expected error when all providers exhausted")
	}
}

func TestRouter_EmptyProvidersRejected(t *testing.T) {
	_, err := New(nil)
	if err == nil {
		t.Fatalf("expected error constructing router with no providers")
	}
}

func TestRouter_NonRetryableSkipsRetriesAndFailsOverImmediately(t *testing.T) {
	primary := &mockProvider{name: "primary", results: []mockResult{
		{err: errors.New("401 invalid api key")},
	}}
	fallback := &mockProvider{name: "fallback", results: []mockResult{{resp: textResp("ok")}}}

	r, err := New([]providers.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.WithBaseRetryDelay(time.Hour) // would time out the test if a retry sleep happened

	start := time.Now()
	resp, err := r.Chat(context.Background(), providers.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected immediate failover with no retry delay")
	}
	if resp.Blocks[0].Text != "ok" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if primary.calls != 1 {
		t.Fatalf("expected primary called exactly once (no retries on non-retryable error), got %d", primary.calls)
	}
}

func TestRouter_Accessors(t *testing.T) {
	primary := &mockProvider{name: "primary"}
	fallback := &mockProvider{name: "fallback"}
	r, err := New([]providers.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ProviderName() != "primary" {
		t.Fatalf("expected primary name, got %s", r.ProviderName())
	}
	if r.ProviderCount() != 2 {
		t.Fatalf("expected provider count 2, got %d", r.ProviderCount())
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		msg       string
		retryable bool
	}{
		{"429 too many requests", true},
		{"500 internal server error", true},
		{"request timeout", true},
		{"model overloaded", true},
		{"401 unauthorized", false},
		{"invalid api key", false},
		{"400 bad request: missing field", false},
	}
	for _, c := range cases {
		got := isRetryableError(errors.New(c.msg))
		if got != c.retryable {
			t.Errorf("isRetryableError(%q) = %v, want %v", c.msg, got, c.retryable)
		}
	}
}
