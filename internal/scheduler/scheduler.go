package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kavyleancoder/meepo/internal/telemetry"
)

// maxBackoff caps the exponential restart delay after a driver panic.
const maxBackoff = 60 * time.Second

// Store is the subset of knowledge.Store the scheduler needs.
type Store interface {
	GetActiveWatchers(ctx context.Context) ([]WatcherRow, error)
	UpdateWatcherActive(ctx context.Context, id string, active bool) error
}

// WatcherRow mirrors knowledge.Watcher's persisted shape without importing
// the knowledge package directly, keeping the scheduler independently
// testable with a fake Store.
type WatcherRow struct {
	ID           string
	KindJSON     string
	Action       string
	ReplyChannel string
	Active       bool
	CreatedAt    time.Time
}

// CommandKind discriminates Command.
type CommandKind string

const (
	CmdCreate CommandKind = "create"
	CmdCancel CommandKind = "cancel"
	CmdList   CommandKind = "list"
)

// Command is sent on the scheduler's command channel. Reply, when non-nil,
// receives the result of a List command (a snapshot of Watcher).
type Command struct {
	Kind    CommandKind
	Watcher Watcher // for Create
	ID      string  // for Cancel
	Reply   chan []Watcher
}

// Config holds the scheduler's tunables.
type Config struct {
	Store  Store
	Events chan<- WatcherEvent // unbounded in practice: caller should size generously or use an unbounded wrapper
	Logger *slog.Logger

	// Metrics records per-poll duration and failure counts. Nil disables
	// metric recording entirely.
	Metrics *telemetry.Metrics

	MaxConcurrent               int
	MinPollIntervalSecs         uint64
	ActiveHoursStart            string // "HH:MM" local time, empty disables quiet hours
	ActiveHoursEnd              string
	ConsecutiveFailureThreshold int

	EmailProvider    EmailProvider
	CalendarProvider CalendarProvider
	GitHub           *GitHubPoller
}

type driverHandle struct {
	watcher Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Scheduler dispatches one driver goroutine per active watcher and
// multiplexes their output onto a single WatcherEvent channel.
type Scheduler struct {
	store   Store
	events  chan<- WatcherEvent
	logger  *slog.Logger
	cfg     Config

	mu       sync.Mutex
	running  map[string]*driverHandle
	deferred []Watcher // watchers waiting for a free concurrency slot

	quiet   *quietHoursGate
	cmds    chan Command
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = 5
	}
	return &Scheduler{
		store:   cfg.Store,
		events:  cfg.Events,
		logger:  cfg.Logger,
		cfg:     cfg,
		running: make(map[string]*driverHandle),
		quiet:   newQuietHoursGate(cfg.ActiveHoursStart, cfg.ActiveHoursEnd),
		cmds:    make(chan Command, 64),
	}
}

// Commands returns the channel Create/Cancel/List commands are sent on.
func (s *Scheduler) Commands() chan<- Command { return s.cmds }

// Start loads active watchers and spawns one driver per watcher (subject to
// the concurrency cap), then serves the command channel until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.rootCtx = ctx

	rows, err := s.store.GetActiveWatchers(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		kind, err := ParseWatcherKind(row.KindJSON)
		if err != nil {
			s.logger.Warn("scheduler: skipping watcher with unparseable kind", "watcher_id", row.ID, "error", err)
			continue
		}
		w := Watcher{ID: row.ID, Kind: kind, Action: row.Action, ReplyChannel: row.ReplyChannel, Active: row.Active, CreatedAt: row.CreatedAt}
		s.admit(ctx, w)
	}

	s.wg.Add(1)
	go s.serveCommands(ctx)

	s.logger.Info("scheduler started", "watchers", len(rows), "max_concurrent", s.cfg.MaxConcurrent)
	return nil
}

// Stop cancels every running driver and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) serveCommands(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.handleCommand(ctx, cmd)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdCreate:
		s.admit(ctx, cmd.Watcher)
	case CmdCancel:
		s.cancelWatcher(cmd.ID)
	case CmdList:
		if cmd.Reply != nil {
			cmd.Reply <- s.snapshot()
		}
	}
}

// admit starts a driver immediately if a concurrency slot is free, otherwise
// defers it: the watcher stays persisted with active=true but does not run
// until Release frees a slot.
func (s *Scheduler) admit(ctx context.Context, w Watcher) {
	s.mu.Lock()
	if len(s.running) >= s.cfg.MaxConcurrent {
		s.deferred = append(s.deferred, w)
		s.mu.Unlock()
		s.logger.Info("scheduler: deferring watcher, at concurrency cap", "watcher_id", w.ID)
		return
	}
	s.mu.Unlock()
	s.spawn(ctx, w)
}

func (s *Scheduler) spawn(ctx context.Context, w Watcher) {
	driverCtx, cancel := context.WithCancel(ctx)
	handle := &driverHandle{watcher: w, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[w.ID] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runWithRestart(driverCtx, handle)
}

// runWithRestart isolates driver panics: a recovered panic logs and
// restarts the driver after an exponential backoff capped at maxBackoff,
// resetting on every clean (non-panicking) return.
func (s *Scheduler) runWithRestart(ctx context.Context, handle *driverHandle) {
	defer s.wg.Done()
	defer s.release(handle.watcher.ID)
	defer close(handle.done)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		exited := s.runOnce(ctx, handle.watcher)
		if ctx.Err() != nil {
			return
		}
		if exited == exitSelfTerminate {
			return
		}

		s.logger.Warn("scheduler: driver restarting after failure", "watcher_id", handle.watcher.ID, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type driverExit int

const (
	exitRestart driverExit = iota
	exitSelfTerminate
)

// runOnce runs one driver invocation with panic recovery, returning whether
// the driver should self-terminate (OneShot firing) or be restarted.
func (s *Scheduler) runOnce(ctx context.Context, w Watcher) (exit driverExit) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: driver panicked, isolating", "watcher_id", w.ID, "panic", r)
			exit = exitRestart
		}
	}()
	return s.dispatch(ctx, w)
}

func (s *Scheduler) dispatch(ctx context.Context, w Watcher) driverExit {
	switch {
	case w.Kind.IsPolling():
		runPollDriver(ctx, s, w)
		return exitRestart
	case w.Kind.Type == KindFileWatch:
		runFileDriver(ctx, s, w)
		return exitRestart
	case w.Kind.Type == KindScheduled:
		runScheduledDriver(ctx, s, w)
		return exitRestart
	case w.Kind.Type == KindOneShot:
		runOneShotDriver(ctx, s, w)
		return exitSelfTerminate
	default:
		// MessageWatch is passive — the autonomous loop matches user
		// messages against the keyword directly; nothing to run here.
		<-ctx.Done()
		return exitSelfTerminate
	}
}

func (s *Scheduler) cancelWatcher(id string) {
	s.mu.Lock()
	handle, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return // idempotent: already stopped or never started
	}
	handle.cancel()
	<-handle.done
}

// release frees a concurrency slot and promotes the oldest deferred watcher,
// if any.
func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	var next *Watcher
	if len(s.deferred) > 0 && len(s.running) < s.cfg.MaxConcurrent {
		w := s.deferred[0]
		s.deferred = s.deferred[1:]
		next = &w
	}
	s.mu.Unlock()

	if next != nil {
		s.spawn(s.rootCtx, *next)
	}
}

func (s *Scheduler) snapshot() []Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Watcher, 0, len(s.running)+len(s.deferred))
	for _, h := range s.running {
		out = append(out, h.watcher)
	}
	out = append(out, s.deferred...)
	return out
}

// emit sends an event, applying the quiet-hours buffering policy: during
// the configured quiet window the event is buffered instead of sent, and
// released on window exit. OneShot firings always pass through immediately
// regardless of quiet hours.
func (s *Scheduler) emit(ev WatcherEvent, isOneShot bool) {
	if isOneShot {
		s.send(ev)
		return
	}
	quiet, flushed := s.quiet.check(time.Now(), ev)
	for _, e := range flushed {
		s.send(e)
	}
	if !quiet {
		s.send(ev)
	}
}

func (s *Scheduler) send(ev WatcherEvent) {
	select {
	case s.events <- ev:
	default:
		// The events channel is meant to be unbounded; a full channel here
		// is a caller sizing bug, not a normal backpressure case.
		s.logger.Error("scheduler: events channel full, dropping event", "watcher_id", ev.WatcherID, "kind", ev.Kind)
	}
}

// effectiveInterval applies the "raise silently" rule: the configured
// interval is floored by the watcher kind's own minimum and the scheduler's
// global minimum poll interval.
func effectiveInterval(configuredSecs, kindMinSecs, globalMinSecs uint64) time.Duration {
	effective := configuredSecs
	if kindMinSecs > effective {
		effective = kindMinSecs
	}
	if globalMinSecs > effective {
		effective = globalMinSecs
	}
	if effective == 0 {
		effective = 1
	}
	return time.Duration(effective) * time.Second
}
