// Package autonomy drives the tick-based loop that lets an agent act
// without a human turn: standing goals that come due, watcher events that
// fire, and (optionally) live user messages, all funneled through the
// same inference loop the chat path uses.
package autonomy

import (
	"time"

	"github.com/kavyleancoder/meepo/internal/scheduler"
)

// MessageKind discriminates OutgoingMessage.
type MessageKind string

const (
	MessageReply          MessageKind = "reply"
	MessageAcknowledgment MessageKind = "acknowledgment"
)

// IncomingMessage is a live user turn queued for the autonomous loop to
// pick up on its next tick.
type IncomingMessage struct {
	Sender    string
	Channel   string
	Content   string
	Timestamp time.Time
}

// OutgoingMessage is the loop's response, routed back to whichever
// channel originated the input (a user message's channel, or a fired
// watcher's reply channel).
type OutgoingMessage struct {
	Channel string
	Content string
	Kind    MessageKind
}

// Config holds the loop's tunables, mirroring the autonomy section of
// agent configuration.
type Config struct {
	Enabled             bool
	TickInterval        time.Duration
	MaxGoals            int
	SendAcknowledgments bool
}

// loopInput is the internal discriminated union fed to dispatch: either a
// live user message or a fired watcher event, drained non-blockingly once
// per tick.
type loopInput struct {
	userMessage  *IncomingMessage
	watcherEvent *scheduler.WatcherEvent
}
