package inference

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kavyleancoder/meepo/internal/apperr"
	"github.com/kavyleancoder/meepo/internal/policy"
	"github.com/kavyleancoder/meepo/internal/providers"
	"github.com/kavyleancoder/meepo/internal/tools"
)

// scriptedRouter replays one ChatResponse per call, in order.
type scriptedRouter struct {
	responses []providers.ChatResponse
	calls     int
}

func (r *scriptedRouter) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if r.calls >= len(r.responses) {
		panic("scriptedRouter: ran out of scripted responses")
	}
	resp := r.responses[r.calls]
	r.calls++
	return resp, nil
}

type echoTool struct{ name string }

func (t echoTool) Name() string        { return t.name }
func (t echoTool) Description() string { return "echo" }
func (t echoTool) InputSchema() map[string]any {
	return tools.Schema(map[string]any{"value": map[string]any{"type": "string"}}, nil)
}
func (t echoTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Value string `json:"value"`
	}
	_ = json.Unmarshal(input, &in)
	return "echo:" + in.Value, nil
}

func newLoop(t *testing.T, router Router, tool tools.Tool) *Loop {
	t.Helper()
	registry := tools.NewRegistry()
	if tool != nil {
		registry.Register(tool)
	}
	executor := tools.NewExecutor(registry, policy.Default(), nil, nil)
	return New(router, registry, executor)
}

func TestLoop_EndTurnImmediately(t *testing.T) {
	router := &scriptedRouter{responses: []providers.ChatResponse{
		{Blocks: []providers.ChatBlock{providers.TextBlock("hello there")}, StopReason: providers.StopEndTurn},
	}}
	loop := newLoop(t, router, nil)

	result, err := loop.Run(context.Background(), "hi", "system", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hello there" {
		t.Errorf("unexpected result: %q", result)
	}
	if router.calls != 1 {
		t.Errorf("expected 1 router call, got %d", router.calls)
	}
}

func TestLoop_ExecutesToolThenEndsTurn(t *testing.T) {
	router := &scriptedRouter{responses: []providers.ChatResponse{
		{
			Blocks: []providers.ChatBlock{
				providers.ToolCallBlock("call-1", "echo", json.RawMessage(`{"value":"x"}`)),
			},
			StopReason: providers.StopToolUse,
		},
		{
			Blocks:     []providers.ChatBlock{providers.TextBlock("done")},
			StopReason: providers.StopEndTurn,
		},
	}}
	loop := newLoop(t, router, echoTool{name: "echo"})

	result, err := loop.Run(context.Background(), "do the thing", "system", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Errorf("unexpected result: %q", result)
	}
	if router.calls != 2 {
		t.Errorf("expected 2 router calls, got %d", router.calls)
	}
}

func TestLoop_MaxTokensReturnsLoopBound(t *testing.T) {
	router := &scriptedRouter{responses: []providers.ChatResponse{
		{Blocks: []providers.ChatBlock{providers.TextBlock("partial")}, StopReason: providers.StopMaxToken},
	}}
	loop := newLoop(t, router, nil)

	result, err := loop.Run(context.Background(), "hi", "system", Options{})
	if apperr.Of(err) != apperr.LoopBound {
		t.Fatalf("expected LoopBound error, got %v", err)
	}
	if result != "partial" {
		t.Errorf("expected partial text returned, got %q", result)
	}
}

func TestLoop_IterationBoundExceeded(t *testing.T) {
	var responses []providers.ChatResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, providers.ChatResponse{
			Blocks: []providers.ChatBlock{
				providers.ToolCallBlock("call", "echo", json.RawMessage(`{"value":"x"}`)),
			},
			StopReason: providers.StopToolUse,
		})
	}
	router := &scriptedRouter{responses: responses}
	loop := newLoop(t, router, echoTool{name: "echo"}).WithMaxIterations(3)

	_, err := loop.Run(context.Background(), "loop forever", "system", Options{})
	if apperr.Of(err) != apperr.LoopBound {
		t.Fatalf("expected LoopBound error, got %v", err)
	}
	if router.calls != 3 {
		t.Errorf("expected exactly 3 router calls (bound), got %d", router.calls)
	}
}

func TestLoop_ToolExecutionErrorFeedsBackAsToolResult(t *testing.T) {
	router := &scriptedRouter{responses: []providers.ChatResponse{
		{
			Blocks: []providers.ChatBlock{
				providers.ToolCallBlock("call-1", "unknown_tool", json.RawMessage(`{}`)),
			},
			StopReason: providers.StopToolUse,
		},
		{
			Blocks:     []providers.ChatBlock{providers.TextBlock("recovered")},
			StopReason: providers.StopEndTurn,
		},
	}}
	loop := newLoop(t, router, nil)

	result, err := loop.Run(context.Background(), "call a missing tool", "system", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("expected loop to continue after tool error, got %q", result)
	}
}
