package channels

import (
	"context"
	"fmt"
	"log/slog"
)

// Hub fans a single outgoing stream out to whichever adapter an
// autonomy.OutgoingMessage's Channel (or a watcher's ReplyChannel) names,
// by its "name:target" prefix.
type Hub struct {
	adapters map[string]Channel
	logger   *slog.Logger
}

// NewHub builds a Hub over a fixed set of adapters, keyed by Name().
func NewHub(logger *slog.Logger, adapters ...Channel) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Channel, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Hub{adapters: m, logger: logger}
}

// Send routes content to routing (an opaque "name:target" string) through
// the matching adapter.
func (h *Hub) Send(ctx context.Context, routing, content string) error {
	name, target, ok := splitTarget(routing)
	if !ok {
		return fmt.Errorf("malformed routing string %q, expected \"name:target\"", routing)
	}
	adapter, ok := h.adapters[name]
	if !ok {
		return fmt.Errorf("no channel adapter registered for %q", name)
	}
	if err := adapter.Send(ctx, target, content); err != nil {
		return fmt.Errorf("send via %s: %w", name, err)
	}
	return nil
}

// Start launches every registered adapter's Start loop and blocks until ctx
// is canceled or one of them returns a fatal error.
func (h *Hub) Start(ctx context.Context) error {
	errCh := make(chan error, len(h.adapters))
	for _, a := range h.adapters {
		a := a
		go func() {
			if err := a.Start(ctx); err != nil {
				h.logger.Error("channel adapter stopped", "channel", a.Name(), "error", err)
				errCh <- fmt.Errorf("%s: %w", a.Name(), err)
				return
			}
			errCh <- nil
		}()
	}

	var firstErr error
	for range h.adapters {
		select {
		case err := <-errCh:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return nil
		}
	}
	return firstErr
}
