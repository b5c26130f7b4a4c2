package scheduler

import (
	"sync"
	"time"
)

// quietHoursGate buffers emissions during a configured local-time window and
// releases them for flushing on window exit. An empty start/end disables
// the gate (every emission passes straight through).
type quietHoursGate struct {
	start, end string // "HH:MM", empty disables

	mu       sync.Mutex
	buffered []WatcherEvent
	wasQuiet bool
}

func newQuietHoursGate(start, end string) *quietHoursGate {
	return &quietHoursGate{start: start, end: end}
}

func (g *quietHoursGate) enabled() bool {
	return g.start != "" && g.end != ""
}

// check evaluates the window at time t, buffers the event if currently
// inside quiet hours, and returns the events to flush if the window just
// closed (nil otherwise). Exactly one of (buffered ev) / (flush slice) ever
// happens per call.
func (g *quietHoursGate) check(t time.Time, ev WatcherEvent) (quiet bool, flush []WatcherEvent) {
	if !g.enabled() {
		return false, nil
	}
	start, errS := parseClock(g.start)
	end, errE := parseClock(g.end)
	if errS != nil || errE != nil {
		return false, nil
	}
	now := t.Hour()*60 + t.Minute()

	var nowQuiet bool
	if start <= end {
		nowQuiet = now >= start && now < end
	} else {
		nowQuiet = now >= start || now < end
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	wasQuiet := g.wasQuiet
	g.wasQuiet = nowQuiet

	if wasQuiet && !nowQuiet {
		flush = g.buffered
		g.buffered = nil
	}
	if nowQuiet {
		g.buffered = append(g.buffered, ev)
	}
	return nowQuiet, flush
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
