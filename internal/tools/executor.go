package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kavyleancoder/meepo/internal/apperr"
	"github.com/kavyleancoder/meepo/internal/audit"
	"github.com/kavyleancoder/meepo/internal/policy"
	"github.com/kavyleancoder/meepo/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// ActionLogger is the subset of the knowledge store the executor needs to
// record autonomous actions. Scoped to an interface so the executor doesn't
// import the knowledge package directly and stays testable with a fake.
type ActionLogger interface {
	InsertActionLog(ctx context.Context, goalID, actionType, description, outcome string) (string, error)
}

// ExecuteOptions carries the per-call context the confidence gate and
// action log need. Confidence is only enforced when Autonomous is true —
// user-initiated calls are never gated.
type ExecuteOptions struct {
	GoalID     string
	Autonomous bool
	Confidence float64
}

// Executor runs a named tool call after clearing policy, schema validation,
// the confidence gate (autonomous calls only), and a per-tool timeout; every
// attempt is recorded in the action log with its risk tag and outcome.
type Executor struct {
	registry *Registry
	policy   policy.Checker
	log      ActionLogger
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics

	validators map[string]*SchemaValidator
}

func NewExecutor(registry *Registry, pol policy.Checker, log ActionLogger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		policy:     pol,
		log:        log,
		logger:     logger,
		validators: make(map[string]*SchemaValidator),
	}
}

// WithTelemetry attaches a tracer and metric instruments used to record a
// client span and duration/error counters around every Execute call. Both
// are optional; leaving them nil keeps Execute exactly as before.
func (e *Executor) WithTelemetry(tracer trace.Tracer, metrics *telemetry.Metrics) *Executor {
	e.tracer = tracer
	e.metrics = metrics
	return e
}

// Execute validates, gates, and runs one tool call. The returned string is
// always safe to feed back to the model as a ToolResult — refusals and
// failures are returned as text, not Go errors, except for ToolError /
// ConfidenceGated / InvalidInput cases the inference loop needs to
// distinguish from a successful result.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage, opts ExecuteOptions) (string, error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = telemetry.StartClientSpan(ctx, e.tracer, "tools.execute", telemetry.AttrToolName.String(name))
		defer span.End()
	}
	start := time.Now()
	result, err := e.execute(ctx, name, input, opts)
	if e.metrics != nil {
		e.metrics.ToolCallDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			e.metrics.ToolCallErrors.Add(ctx, 1)
			if apperr.Of(err) == apperr.ConfidenceGated {
				e.metrics.ConfidenceGateTrips.Add(ctx, 1)
			}
		}
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, name string, input json.RawMessage, opts ExecuteOptions) (string, error) {
	tier := Classify(name)
	capability := "tools." + name

	if e.policy != nil && !e.policy.AllowCapability(capability) {
		pv := e.policy.PolicyVersion()
		audit.Record("deny", capability, "missing_capability", pv, name)
		outcome := fmt.Sprintf("err:policy denied capability %q", capability)
		e.recordAction(ctx, opts.GoalID, name, tier, outcome)
		return "", apperr.New(apperr.Unauthorized, outcome)
	}
	if e.policy != nil {
		audit.Record("allow", capability, "capability_granted", e.policy.PolicyVersion(), name)
	}

	if opts.Autonomous {
		threshold := Threshold(tier)
		if opts.Confidence < threshold {
			outcome := fmt.Sprintf("refused: confidence %.2f < required %.2f for risk %s", opts.Confidence, threshold, tier)
			e.recordAction(ctx, opts.GoalID, name, tier, outcome)
			return outcome, apperr.New(apperr.ConfidenceGated, outcome)
		}
	}

	tool, ok := e.registry.Get(name)
	if !ok {
		outcome := fmt.Sprintf("err:unknown tool %q", name)
		e.recordAction(ctx, opts.GoalID, name, tier, outcome)
		return "", apperr.New(apperr.ToolError, outcome)
	}

	validator, err := e.validatorFor(tool)
	if err != nil {
		outcome := fmt.Sprintf("err:invalid schema: %v", err)
		e.recordAction(ctx, opts.GoalID, name, tier, outcome)
		return "", apperr.Wrap(apperr.Internal, outcome, err)
	}
	if err := validator.Validate(input); err != nil {
		outcome := fmt.Sprintf("err:invalid input: %v", err)
		e.recordAction(ctx, opts.GoalID, name, tier, outcome)
		return "", apperr.Wrap(apperr.InvalidInput, outcome, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, Timeout(tier))
	defer cancel()

	result, err := tool.Execute(execCtx, input)
	if err != nil {
		outcome := fmt.Sprintf("err:%v", err)
		e.recordAction(ctx, opts.GoalID, name, tier, outcome)
		e.logger.Warn("tool execution failed", "tool", name, "risk", tier, "error", err)
		return "", apperr.Wrap(apperr.ToolError, outcome, err)
	}

	outcome := "ok:" + truncateOutcome(result)
	e.recordAction(ctx, opts.GoalID, name, tier, outcome)
	return result, nil
}

func (e *Executor) validatorFor(tool Tool) (*SchemaValidator, error) {
	if v, ok := e.validators[tool.Name()]; ok {
		return v, nil
	}
	v, err := NewSchemaValidator(tool.InputSchema())
	if err != nil {
		return nil, err
	}
	e.validators[tool.Name()] = v
	return v, nil
}

func (e *Executor) recordAction(ctx context.Context, goalID, name string, tier RiskTier, outcome string) {
	if e.log == nil {
		return
	}
	description := fmt.Sprintf("executed %s (risk=%s)", name, tier)
	if _, err := e.log.InsertActionLog(ctx, goalID, "tool_call", description, outcome); err != nil {
		e.logger.Warn("failed to record action log entry", "tool", name, "error", err)
	}
}

func truncateOutcome(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
