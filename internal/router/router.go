// Package router implements the multi-provider LLM router: an ordered
// provider list with per-provider retry and automatic cross-provider
// failover, so a single flaky or rate-limited provider never stalls a turn.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kavyleancoder/meepo/internal/providers"
)

// ModelRouter routes a chat request across providers in failover order.
type ModelRouter struct {
	providers             []providers.Provider
	maxRetriesPerProvider int
	baseRetryDelay        time.Duration
}

// New creates a router with providers in failover order (index 0 = primary).
func New(provs []providers.Provider) (*ModelRouter, error) {
	if len(provs) == 0 {
		return nil, fmt.Errorf("router requires at least one provider")
	}
	return &ModelRouter{
		providers:             provs,
		maxRetriesPerProvider: 2,
		baseRetryDelay:        500 * time.Millisecond,
	}, nil
}

// Single creates a router with exactly one provider and no retries.
func Single(provider providers.Provider) *ModelRouter {
	return &ModelRouter{
		providers:             []providers.Provider{provider},
		maxRetriesPerProvider: 1,
		baseRetryDelay:        500 * time.Millisecond,
	}
}

func (r *ModelRouter) WithMaxRetries(n int) *ModelRouter {
	r.maxRetriesPerProvider = n
	return r
}

func (r *ModelRouter) WithBaseRetryDelay(d time.Duration) *ModelRouter {
	r.baseRetryDelay = d
	return r
}

// Chat sends req to the first provider, retrying retryable errors with
// exponential backoff up to maxRetriesPerProvider times, then failing over
// to the next provider in order. Returns the last error if every provider
// is exhausted.
func (r *ModelRouter) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	var lastErr error

	for idx, provider := range r.providers {
		for attempt := 0; attempt < r.maxRetriesPerProvider; attempt++ {
			slog.Debug("router trying provider",
				"provider", provider.Name(), "index", idx+1, "attempt", attempt+1, "max_attempts", r.maxRetriesPerProvider)

			resp, err := provider.Chat(ctx, req)
			if err == nil {
				if idx > 0 {
					slog.Info("router request succeeded on failover provider", "provider", provider.Name())
				}
				return resp, nil
			}

			retryable := isRetryableError(err)
			slog.Warn("router provider failed",
				"provider", provider.Name(), "attempt", attempt+1, "retryable", retryable, "error", err)
			lastErr = err

			if !retryable {
				break
			}
			if attempt+1 < r.maxRetriesPerProvider {
				delay := r.baseRetryDelay * time.Duration(1<<uint(attempt))
				select {
				case <-ctx.Done():
					return providers.ChatResponse{}, ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		if idx+1 < len(r.providers) {
			slog.Info("router failing over", "from", provider.Name(), "to", r.providers[idx+1].Name())
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all providers failed")
	}
	return providers.ChatResponse{}, lastErr
}

// Model returns the primary provider's name, for logging/telemetry.
func (r *ModelRouter) ProviderName() string {
	if len(r.providers) == 0 {
		return "unknown"
	}
	return r.providers[0].Name()
}

// ProviderCount returns the number of configured providers.
func (r *ModelRouter) ProviderCount() int {
	return len(r.providers)
}

var retryablePatterns = []string{
	"429", "500", "502", "503", "504",
	"rate limit", "rate_limit", "overloaded",
	"timeout", "timed out",
	"connection reset", "connection refused",
	"temporarily unavailable",
}

// isRetryableError reports whether an error looks transient (rate limit,
// server error, timeout) rather than permanent (auth, invalid request).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
