// Package inference implements the tool-calling inference loop: seed a
// conversation with one user message, call the router, execute any tool
// calls the model requests, and feed results back until the model ends its
// turn or the iteration bound is hit.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kavyleancoder/meepo/internal/apperr"
	"github.com/kavyleancoder/meepo/internal/providers"
	"github.com/kavyleancoder/meepo/internal/telemetry"
	"github.com/kavyleancoder/meepo/internal/tools"
	"go.opentelemetry.io/otel/trace"
)

// defaultMaxIterations bounds the number of model round-trips in a single
// Run call. A tool-use turn that never reaches end_turn (a model stuck
// calling tools forever) must not run the loop unbounded.
const defaultMaxIterations = 25

// Router is the subset of router.ModelRouter the loop depends on, scoped to
// an interface so the loop is testable without a real provider chain.
type Router interface {
	Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error)
}

// Options carries the per-call context the confidence gate needs. Autonomous
// is false for user-initiated turns (the gate in tools.Executor is only
// enforced when true); Confidence is the caller's self-estimated confidence
// in the action it's about to let the model take, relevant only when
// Autonomous is true.
type Options struct {
	GoalID     string
	Autonomous bool
	Confidence float64

	// AllowedTools scopes which tools the model may see and call this turn,
	// e.g. a channel-routed agent profile's allowlist/denylist. Nil allows
	// every registered tool.
	AllowedTools func(toolName string) bool
}

// Loop drives one conversation turn to completion, possibly across several
// tool-use round-trips.
type Loop struct {
	router        Router
	registry      *tools.Registry
	executor      *tools.Executor
	maxIterations int
	logger        *slog.Logger
	tracer        trace.Tracer
	metrics       *telemetry.Metrics
}

func New(router Router, registry *tools.Registry, executor *tools.Executor) *Loop {
	return &Loop{
		router:        router,
		registry:      registry,
		executor:      executor,
		maxIterations: defaultMaxIterations,
		logger:        slog.Default(),
	}
}

func (l *Loop) WithMaxIterations(n int) *Loop {
	if n > 0 {
		l.maxIterations = n
	}
	return l
}

func (l *Loop) WithLogger(logger *slog.Logger) *Loop {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// WithTelemetry attaches a tracer and metric instruments. Both are optional;
// a nil tracer leaves spans unstarted and a nil metrics leaves counters
// untouched, so a loop built without this call behaves exactly as before.
func (l *Loop) WithTelemetry(tracer trace.Tracer, metrics *telemetry.Metrics) *Loop {
	l.tracer = tracer
	l.metrics = metrics
	return l
}

// Run executes the tool-calling loop for one initial user message and
// returns the model's final text response. On a LoopBound error the
// transcript accumulated so far is attached via apperr so the caller can
// still inspect (or surface) partial progress.
func (l *Loop) Run(ctx context.Context, initialMessage, system string, opts Options) (string, error) {
	messages := []providers.ChatMessage{
		{Role: providers.RoleUser, Blocks: []providers.ChatBlock{providers.TextBlock(initialMessage)}},
	}
	toolSpecs := l.registry.List()
	if opts.AllowedTools != nil {
		filtered := toolSpecs[:0:0]
		for _, spec := range toolSpecs {
			if opts.AllowedTools(spec.Name) {
				filtered = append(filtered, spec)
			}
		}
		toolSpecs = filtered
	}

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		req := providers.ChatRequest{
			System:   system,
			Messages: messages,
			Tools:    toolSpecs,
		}

		resp, err := l.chat(ctx, req, iteration)
		if err != nil {
			return "", apperr.Wrap(apperr.Provider, "router chat failed", err)
		}
		if l.metrics != nil {
			l.metrics.LoopStepsTotal.Add(ctx, 1)
		}

		switch resp.StopReason {
		case providers.StopEndTurn, providers.StopUnknown:
			return concatText(resp.Blocks), nil

		case providers.StopMaxToken:
			outcome := fmt.Sprintf("response truncated at max_tokens after %d iteration(s)", iteration+1)
			l.logger.Warn("inference loop hit max_tokens", "iterations", iteration+1)
			return concatText(resp.Blocks), apperr.New(apperr.LoopBound, outcome)

		case providers.StopToolUse:
			assistantMsg := providers.ChatMessage{Role: providers.RoleAssistant, Blocks: resp.Blocks}
			messages = append(messages, assistantMsg)

			toolCalls := filterToolCalls(resp.Blocks)
			if len(toolCalls) == 0 {
				// Model signaled tool_use but offered nothing to execute; treat
				// as done rather than spin on an empty round-trip.
				return concatText(resp.Blocks), nil
			}

			resultBlocks := make([]providers.ChatBlock, 0, len(toolCalls))
			for _, call := range toolCalls {
				resultBlocks = append(resultBlocks, l.executeCall(ctx, call, opts))
			}
			messages = append(messages, providers.ChatMessage{Role: providers.RoleUser, Blocks: resultBlocks})

		default:
			return concatText(resp.Blocks), nil
		}
	}

	outcome := fmt.Sprintf("exceeded max iterations (%d) without reaching end_turn", l.maxIterations)
	l.logger.Warn("inference loop exceeded iteration bound", "max_iterations", l.maxIterations)
	return transcriptText(messages), apperr.New(apperr.LoopBound, outcome)
}

// chat wraps one router round-trip with a client span and duration metric,
// both no-ops when telemetry wasn't attached via WithTelemetry.
func (l *Loop) chat(ctx context.Context, req providers.ChatRequest, iteration int) (providers.ChatResponse, error) {
	if l.tracer != nil {
		var span trace.Span
		ctx, span = telemetry.StartClientSpan(ctx, l.tracer, "inference.chat",
			telemetry.AttrLoopStep.Int(iteration),
		)
		defer span.End()
	}

	start := time.Now()
	resp, err := l.router.Chat(ctx, req)
	if l.metrics != nil {
		l.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds())
	}
	return resp, err
}

func (l *Loop) executeCall(ctx context.Context, call providers.ChatBlock, opts Options) providers.ChatBlock {
	if opts.AllowedTools != nil && !opts.AllowedTools(call.ToolName) {
		return providers.ToolResultBlock(call.ToolCallID, fmt.Sprintf("tool %q is not permitted for this agent profile", call.ToolName), true)
	}

	execOpts := tools.ExecuteOptions{
		GoalID:     opts.GoalID,
		Autonomous: opts.Autonomous,
		Confidence: opts.Confidence,
	}

	result, err := l.executor.Execute(ctx, call.ToolName, json.RawMessage(call.ToolInputRaw), execOpts)
	if err != nil {
		if result == "" {
			result = err.Error()
		}
		l.logger.Warn("tool call failed", "tool", call.ToolName, "error", err)
		return providers.ToolResultBlock(call.ToolCallID, result, true)
	}
	return providers.ToolResultBlock(call.ToolCallID, result, false)
}

func filterToolCalls(blocks []providers.ChatBlock) []providers.ChatBlock {
	var calls []providers.ChatBlock
	for _, b := range blocks {
		if b.Kind == providers.BlockToolCall {
			calls = append(calls, b)
		}
	}
	return calls
}

func concatText(blocks []providers.ChatBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Kind == providers.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// transcriptText renders the accumulated messages as plain text, used only
// when the loop bound is hit and there's no final assistant text block to
// return — callers that care about partial progress get something readable
// instead of an empty string.
func transcriptText(messages []providers.ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		for _, b := range m.Blocks {
			switch b.Kind {
			case providers.BlockText:
				sb.WriteString(string(m.Role))
				sb.WriteString(": ")
				sb.WriteString(b.Text)
				sb.WriteString("\n")
			case providers.BlockToolResult:
				sb.WriteString("tool_result: ")
				sb.WriteString(b.ToolResultText)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
