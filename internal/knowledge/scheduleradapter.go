package knowledge

import (
	"context"

	"github.com/kavyleancoder/meepo/internal/scheduler"
)

// SchedulerStore adapts *Store to scheduler.Store, translating between the
// knowledge package's Watcher rows and the scheduler's decoupled WatcherRow
// so the scheduler never has to import this package.
type SchedulerStore struct {
	store *Store
}

// NewSchedulerStore wraps a knowledge Store for use as a scheduler.Store.
func NewSchedulerStore(store *Store) *SchedulerStore {
	return &SchedulerStore{store: store}
}

func (a *SchedulerStore) GetActiveWatchers(ctx context.Context) ([]scheduler.WatcherRow, error) {
	watchers, err := a.store.GetActiveWatchers(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]scheduler.WatcherRow, len(watchers))
	for i, w := range watchers {
		rows[i] = scheduler.WatcherRow{
			ID:           w.ID,
			KindJSON:     w.KindJSON,
			Action:       w.Action,
			ReplyChannel: w.ReplyChannel,
			Active:       w.Active,
			CreatedAt:    w.CreatedAt,
		}
	}
	return rows, nil
}

func (a *SchedulerStore) UpdateWatcherActive(ctx context.Context, id string, active bool) error {
	return a.store.UpdateWatcherActive(ctx, id, active)
}
