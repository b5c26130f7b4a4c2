package autonomy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kavyleancoder/meepo/internal/agent"
	"github.com/kavyleancoder/meepo/internal/inference"
	"github.com/kavyleancoder/meepo/internal/knowledge"
	"github.com/kavyleancoder/meepo/internal/safety"
	"github.com/kavyleancoder/meepo/internal/scheduler"
)

const defaultTickInterval = 30 * time.Second

// Store is the subset of the knowledge store the autonomous loop needs. It
// embeds ContextStore so every caller that can drive goals and watchers can
// also feed the context-assembly section of the system prompt.
type Store interface {
	ContextStore
	PreferenceStore
	GetDueGoals(ctx context.Context, asOf time.Time) ([]knowledge.Goal, error)
	UpdateGoalChecked(ctx context.Context, id string, checkedAt, nextCheckAt time.Time) error
	GetWatcher(ctx context.Context, id string) (*knowledge.Watcher, error)
	InsertConversation(ctx context.Context, channel, sender, content string, metadata map[string]any) (string, error)
}

// Runner drives one inference turn. *inference.Loop satisfies this
// directly.
type Runner interface {
	Run(ctx context.Context, initialMessage, system string, opts inference.Options) (string, error)
}

// SystemPromptBuilder supplies the soul/memory text fed into
// BuildSystemPrompt; split out so the loop doesn't need to know how those
// strings are sourced (static config vs. a live file).
type SystemPromptBuilder interface {
	Soul() string
	Memory() string
}

// Loop is the autonomous tick loop: on a timer, on an explicit wake, or on
// cancellation, it drains any pending user messages and watcher events,
// checks for due goals, and drives each through the inference runner,
// routing responses back to their originating channel.
type Loop struct {
	store         Store
	runner        Runner
	prompts       SystemPromptBuilder
	profiles      *agent.Registry
	userMsgs      <-chan IncomingMessage
	watcherEvents <-chan scheduler.WatcherEvent
	outgoing      chan<- OutgoingMessage

	cfg    Config
	logger *slog.Logger

	sanitizer    *safety.Sanitizer
	leakDetector *safety.LeakDetector

	wake chan struct{}
}

// Config bundles everything New needs beyond the channels themselves.
type LoopConfig struct {
	Store         Store
	Runner        Runner
	Prompts       SystemPromptBuilder
	// Profiles routes each turn's channel/sender to an agent.Profile whose
	// tool allowlist/denylist scopes that turn. Nil means every tool is
	// permitted on every channel.
	Profiles      *agent.Registry
	UserMessages  <-chan IncomingMessage
	WatcherEvents <-chan scheduler.WatcherEvent
	Outgoing      chan<- OutgoingMessage
	Autonomy      Config
	Logger        *slog.Logger
}

func New(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Autonomy.TickInterval <= 0 {
		cfg.Autonomy.TickInterval = defaultTickInterval
	}
	if cfg.Autonomy.MaxGoals <= 0 {
		cfg.Autonomy.MaxGoals = 20
	}
	return &Loop{
		store:         cfg.Store,
		runner:        cfg.Runner,
		prompts:       cfg.Prompts,
		profiles:      cfg.Profiles,
		userMsgs:      cfg.UserMessages,
		watcherEvents: cfg.WatcherEvents,
		outgoing:      cfg.Outgoing,
		cfg:           cfg.Autonomy,
		logger:        cfg.Logger,
		sanitizer:     safety.NewSanitizer(),
		leakDetector:  safety.NewLeakDetector(),
		wake:          make(chan struct{}, 1),
	}
}

// Wake nudges the loop to run a tick immediately instead of waiting for the
// next timer firing. Non-blocking: a wake already pending is not doubled up.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives ticks until ctx is cancelled. If autonomy is disabled, Run
// returns immediately: the loop is a no-op rather than an error, since an
// operator can disable autonomy without removing the wiring.
func (l *Loop) Run(ctx context.Context) {
	if !l.cfg.Enabled {
		l.logger.Info("autonomy: disabled, loop not starting")
		return
	}
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case <-l.wake:
			l.tick(ctx)
		}
	}
}

// tick drains every pending input once, runs each through dispatch, and
// checks for due goals. A tick with nothing to do is a no-op: it neither
// calls the runner nor touches the store beyond the due-goals query.
func (l *Loop) tick(ctx context.Context) {
	inputs := l.drainInputs()

	dueGoals, err := l.store.GetDueGoals(ctx, time.Now())
	if err != nil {
		l.logger.Warn("autonomy: get due goals failed", "error", err)
		dueGoals = nil
	}
	if len(dueGoals) > l.cfg.MaxGoals {
		dueGoals = dueGoals[:l.cfg.MaxGoals]
	}

	if len(inputs) == 0 && len(dueGoals) == 0 {
		return
	}

	for _, in := range inputs {
		switch {
		case in.userMessage != nil:
			l.handleUserMessage(ctx, *in.userMessage)
		case in.watcherEvent != nil:
			l.handleWatcherEvent(ctx, *in.watcherEvent)
		}
	}

	for _, g := range dueGoals {
		l.handleDueGoal(ctx, g)
	}
}

// drainInputs non-blockingly empties both input channels. Reading stops the
// instant either channel has nothing ready, so a tick never blocks waiting
// for more input to arrive mid-drain.
func (l *Loop) drainInputs() []loopInput {
	var inputs []loopInput
	for {
		select {
		case msg, ok := <-l.userMsgs:
			if !ok {
				l.userMsgs = nil
				continue
			}
			m := msg
			inputs = append(inputs, loopInput{userMessage: &m})
			continue
		default:
		}
		select {
		case ev, ok := <-l.watcherEvents:
			if !ok {
				l.watcherEvents = nil
				continue
			}
			e := ev
			inputs = append(inputs, loopInput{watcherEvent: &e})
			continue
		default:
		}
		return inputs
	}
}

func (l *Loop) handleUserMessage(ctx context.Context, msg IncomingMessage) {
	if err := RecordInteraction(ctx, l.store, msg.Channel); err != nil {
		l.logger.Warn("autonomy: record interaction failed", "channel", msg.Channel, "error", err)
	}

	if check := l.sanitizer.Check(msg.Content); check.Action == safety.ActionBlock {
		l.logger.Warn("autonomy: blocked suspected prompt injection", "channel", msg.Channel, "sender", msg.Sender, "reason", check.Reason)
		l.recordConversation(ctx, msg.Channel, msg.Sender, msg.Content)
		l.send(OutgoingMessage{Channel: msg.Channel, Content: "I can't act on that message — it looks like an attempt to override my instructions.", Kind: MessageReply})
		return
	} else if check.Action == safety.ActionWarn {
		l.logger.Warn("autonomy: suspicious message passed through", "channel", msg.Channel, "sender", msg.Sender, "reason", check.Reason)
	}

	if l.cfg.SendAcknowledgments {
		l.send(OutgoingMessage{Channel: msg.Channel, Content: "", Kind: MessageAcknowledgment})
	}

	system := l.buildSystemPrompt(ctx, msg.Channel, msg.Sender, msg.Content)
	response, err := l.runner.Run(ctx, msg.Content, system, inference.Options{
		Autonomous:   false,
		Confidence:   defaultConfidence(false),
		AllowedTools: l.allowedTools(msg.Channel, msg.Sender),
	})
	if err != nil {
		l.logger.Warn("autonomy: user message turn failed", "channel", msg.Channel, "error", err)
	}
	if response == "" {
		return
	}
	l.recordConversation(ctx, msg.Channel, "agent", response)
	l.send(OutgoingMessage{Channel: msg.Channel, Content: response, Kind: MessageReply})
}

func (l *Loop) handleWatcherEvent(ctx context.Context, ev scheduler.WatcherEvent) {
	info, err := l.store.GetWatcher(ctx, ev.WatcherID)
	if err != nil || info == nil {
		l.logger.Warn("autonomy: watcher lookup failed, dropping event", "watcher_id", ev.WatcherID, "error", err)
		return
	}

	content := fmt.Sprintf("Watcher %s triggered: %v", ev.WatcherID, ev.Payload)
	if info.Action != "" {
		content += "\nYour requested action: " + info.Action
	}

	system := l.buildSystemPrompt(ctx, info.ReplyChannel, "watcher", content)
	response, err := l.runner.Run(ctx, content, system, inference.Options{
		Autonomous:   true,
		Confidence:   defaultConfidence(true),
		AllowedTools: l.allowedTools(info.ReplyChannel, "watcher"),
	})
	if err != nil {
		l.logger.Warn("autonomy: watcher event turn failed", "watcher_id", ev.WatcherID, "error", err)
	}
	if response == "" {
		return
	}
	l.recordConversation(ctx, info.ReplyChannel, "agent", response)
	l.send(OutgoingMessage{Channel: info.ReplyChannel, Content: response, Kind: MessageReply})
}

func (l *Loop) handleDueGoal(ctx context.Context, g knowledge.Goal) {
	content := fmt.Sprintf("Check on standing goal: %s", g.Description)
	system := l.buildSystemPrompt(ctx, "", "goal", content)
	_, err := l.runner.Run(ctx, content, system, inference.Options{
		Autonomous: true,
		Confidence: defaultConfidence(true),
	})
	if err != nil {
		l.logger.Warn("autonomy: goal check turn failed", "goal_id", g.ID, "error", err)
	}

	now := time.Now()
	if err := l.store.UpdateGoalChecked(ctx, g.ID, now, now.Add(l.cfg.TickInterval*10)); err != nil {
		l.logger.Warn("autonomy: failed to mark goal checked", "goal_id", g.ID, "error", err)
	}
}

// allowedTools routes channel/sender to an agent profile and returns its
// tool filter, or nil if no profile registry is wired or the routed profile
// has no restrictions (every tool allowed, same as nil).
func (l *Loop) allowedTools(channel, sender string) func(string) bool {
	if l.profiles == nil {
		return nil
	}
	profile := l.profiles.Route(channel, sender)
	if len(profile.Tools) == 0 && len(profile.DeniedTools) == 0 {
		return nil
	}
	return profile.IsToolAllowed
}

func (l *Loop) buildSystemPrompt(ctx context.Context, channel, sender, message string) string {
	var soul, memory string
	if l.prompts != nil {
		soul = l.prompts.Soul()
		memory = l.prompts.Memory()
	}
	extra := AssembleContext(ctx, l.store, channel, sender, message)
	return BuildSystemPrompt(soul, memory, extra, time.Now().Format(time.RFC3339))
}

func (l *Loop) recordConversation(ctx context.Context, channel, sender, content string) {
	if _, err := l.store.InsertConversation(ctx, channel, sender, content, nil); err != nil {
		l.logger.Warn("autonomy: failed to record conversation", "channel", channel, "error", err)
	}
}

func (l *Loop) send(msg OutgoingMessage) {
	for _, w := range l.leakDetector.Scan(msg.Content) {
		l.logger.Warn("autonomy: possible secret in outgoing message", "channel", msg.Channel, "pattern", w.Pattern, "sample", w.Sample)
	}

	select {
	case l.outgoing <- msg:
	default:
		l.logger.Warn("autonomy: outgoing channel full, dropping message", "channel", msg.Channel)
	}
}
