package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds all runtime metric instruments.
type Metrics struct {
	WatcherPollDuration metric.Float64Histogram
	WatcherFailures     metric.Int64Counter
	LLMCallDuration     metric.Float64Histogram
	TokensUsed          metric.Int64Counter
	ProviderFailovers   metric.Int64Counter
	ToolCallDuration    metric.Float64Histogram
	ToolCallErrors      metric.Int64Counter
	ActiveLoops         metric.Int64UpDownCounter
	LoopStepsTotal      metric.Int64Counter
	ConfidenceGateTrips metric.Int64Counter
	RateLimitRejects    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.WatcherPollDuration, err = meter.Float64Histogram("meepo.watcher.poll.duration",
		metric.WithDescription("Watcher poll duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WatcherFailures, err = meter.Int64Counter("meepo.watcher.failures",
		metric.WithDescription("Consecutive watcher poll failures"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("meepo.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("meepo.llm.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.ProviderFailovers, err = meter.Int64Counter("meepo.llm.failovers",
		metric.WithDescription("Router failovers to a fallback provider"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("meepo.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("meepo.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveLoops, err = meter.Int64UpDownCounter("meepo.loop.active",
		metric.WithDescription("Number of currently active inference loops"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopStepsTotal, err = meter.Int64Counter("meepo.loop.steps",
		metric.WithDescription("Total loop steps executed"),
	)
	if err != nil {
		return nil, err
	}

	m.ConfidenceGateTrips, err = meter.Int64Counter("meepo.confidence.gate.trips",
		metric.WithDescription("Times the confidence gate deferred to a human"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("meepo.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
