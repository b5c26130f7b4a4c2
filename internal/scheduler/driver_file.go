package scheduler

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// runFileDriver registers a filesystem notification on w.Kind.Path and
// emits one event per change, grounded on the teacher's
// internal/config/watcher.go fsnotify.NewWatcher + event-loop shape.
func runFileDriver(ctx context.Context, s *Scheduler, w Watcher) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("scheduler: fsnotify init failed, deactivating watcher", "watcher_id", w.ID, "error", err)
		_ = s.store.UpdateWatcherActive(context.Background(), w.ID, false)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.Kind.Path); err != nil {
		s.logger.Error("scheduler: fsnotify add failed, deactivating watcher", "watcher_id", w.ID, "path", w.Kind.Path, "error", err)
		_ = s.store.UpdateWatcherActive(context.Background(), w.ID, false)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.emit(fileChangedEvent(w.ID, ev.Name, changeType(ev.Op)), false)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("scheduler: fsnotify error", "watcher_id", w.ID, "error", err)
		}
	}
}

func changeType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "created"
	case op&fsnotify.Write != 0:
		return "modified"
	case op&fsnotify.Remove != 0:
		return "removed"
	case op&fsnotify.Rename != 0:
		return "renamed"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
