package scheduler

import (
	"context"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// runPollDriver drives EmailWatch / CalendarWatch / GitHubWatch: a
// long-lived ticker at the effective interval, delegating to the
// configured external provider on each tick. Consecutive provider errors
// past the configured threshold deactivate the watcher rather than retry
// forever.
func runPollDriver(ctx context.Context, s *Scheduler, w Watcher) {
	interval := effectiveInterval(w.Kind.IntervalSecs, w.Kind.MinIntervalSecs(), s.cfg.MinPollIntervalSecs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cursor := ""
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			next, err := pollOnce(ctx, s, w, cursor)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.WatcherPollDuration.Record(ctx, time.Since(start).Seconds())
			}
			if err != nil {
				consecutiveFailures++
				if s.cfg.Metrics != nil {
					s.cfg.Metrics.WatcherFailures.Add(ctx, 1)
				}
				s.logger.Warn("scheduler: poll driver error", "watcher_id", w.ID, "error", err, "consecutive_failures", consecutiveFailures)
				if consecutiveFailures >= s.cfg.ConsecutiveFailureThreshold {
					s.logger.Error("scheduler: deactivating watcher after repeated failures", "watcher_id", w.ID)
					_ = s.store.UpdateWatcherActive(context.Background(), w.ID, false)
					return
				}
				continue
			}
			consecutiveFailures = 0
			cursor = next
		}
	}
}

func pollOnce(ctx context.Context, s *Scheduler, w Watcher, cursor string) (nextCursor string, err error) {
	switch w.Kind.Type {
	case KindEmailWatch:
		if s.cfg.EmailProvider == nil {
			return cursor, nil
		}
		items, next, err := s.cfg.EmailProvider.FetchNew(ctx, w.Kind.From, w.Kind.SubjectContains, cursor)
		if err != nil {
			return cursor, err
		}
		for _, it := range items {
			s.emit(emailEvent(w.ID, it.From, it.Subject, it.Body), false)
		}
		return next, nil

	case KindCalendarWatch:
		if s.cfg.CalendarProvider == nil {
			return cursor, nil
		}
		items, err := s.cfg.CalendarProvider.FetchUpcoming(ctx, time.Duration(w.Kind.LookaheadHours)*time.Hour)
		if err != nil {
			return cursor, err
		}
		for _, it := range items {
			s.emit(calendarEvent(w.ID, it.Title, it.At), false)
		}
		return cursor, nil

	case KindGitHubWatch:
		if s.cfg.GitHub == nil {
			return cursor, nil
		}
		events, next, err := s.cfg.GitHub.FetchNew(ctx, w.Kind.Repo, w.Kind.Events, w.Kind.GitHubToken, cursor)
		if err != nil {
			return cursor, err
		}
		for _, ev := range events {
			s.emit(githubEvent(w.ID, ev.Type, map[string]any{"id": ev.ID, "repo": ev.Repo.Name}), false)
		}
		return next, nil

	default:
		return cursor, nil
	}
}

// runScheduledDriver parses cron_expr, sleeps until the next fire time,
// emits, and recomputes.
func runScheduledDriver(ctx context.Context, s *Scheduler, w Watcher) {
	sched, err := cronParser.Parse(w.Kind.CronExpr)
	if err != nil {
		s.logger.Error("scheduler: invalid cron expression, deactivating", "watcher_id", w.ID, "cron_expr", w.Kind.CronExpr, "error", err)
		_ = s.store.UpdateWatcherActive(context.Background(), w.ID, false)
		return
	}

	for {
		now := time.Now()
		next := sched.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.emit(taskEvent(w.ID, w.Kind.Task), false)
		}
	}
}

// runOneShotDriver sleeps until At, emits once, and self-terminates.
func runOneShotDriver(ctx context.Context, s *Scheduler, w Watcher) {
	delay := time.Until(w.Kind.At)
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.emit(taskEvent(w.ID, w.Kind.Task), true)
	}
}
