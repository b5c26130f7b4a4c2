package knowledge

import (
	"context"
	"time"

	"github.com/kavyleancoder/meepo/internal/apperr"
	"github.com/kavyleancoder/meepo/internal/pricing"
)

// UsageRecord is one row of token/cost accounting, aggregated per call.
type UsageRecord struct {
	Date             string
	Source           string
	Model            string
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
	ToolCalls        int
	APICalls         int
}

// UsageSummary aggregates usage across a window of days.
type UsageSummary struct {
	InputTokens      int64
	OutputTokens     int64
	EstimatedCostUSD float64
	ToolCalls        int64
	APICalls         int64
	ByModel          map[string]UsageSummary
}

// RecordUsage appends one usage record, estimating cost via the pricing
// package when the caller doesn't already know it.
func (s *Store) RecordUsage(ctx context.Context, source, model string, inputTokens, outputTokens, toolCalls, apiCalls int) error {
	cost := pricing.EstimateCost(model, inputTokens, outputTokens)
	date := time.Now().UTC().Format("2006-01-02")
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO usage_records (date, source, model, input_tokens, output_tokens, estimated_cost_usd, tool_calls, api_calls)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			date, source, model, inputTokens, outputTokens, cost, toolCalls, apiCalls)
		return execErr
	})
	if err != nil {
		return apperr.Wrap(apperr.IO, "record usage", err)
	}
	return nil
}

// GetSummary aggregates usage records for the last sinceDays days, broken
// down by model.
func (s *Store) GetSummary(ctx context.Context, sinceDays int) (*UsageSummary, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -sinceDays).Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, input_tokens, output_tokens, estimated_cost_usd, tool_calls, api_calls
		 FROM usage_records WHERE date >= ?`, cutoff)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "query usage summary", err)
	}
	defer rows.Close()

	summary := &UsageSummary{ByModel: map[string]UsageSummary{}}
	for rows.Next() {
		var model string
		var input, output, toolCalls, apiCalls int64
		var cost float64
		if err := rows.Scan(&model, &input, &output, &cost, &toolCalls, &apiCalls); err != nil {
			return nil, apperr.Wrap(apperr.IO, "scan usage record", err)
		}
		summary.InputTokens += input
		summary.OutputTokens += output
		summary.EstimatedCostUSD += cost
		summary.ToolCalls += toolCalls
		summary.APICalls += apiCalls

		m := summary.ByModel[model]
		m.InputTokens += input
		m.OutputTokens += output
		m.EstimatedCostUSD += cost
		m.ToolCalls += toolCalls
		m.APICalls += apiCalls
		summary.ByModel[model] = m
	}
	return summary, rows.Err()
}
