package autonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// agentSender is the sender name recordConversation uses for the agent's
// own replies; user-pattern tracking excludes it so a busy autonomous loop
// doesn't learn its own reply cadence as if it were the user's.
const agentSender = "agent"

var dayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// UserProfile is an aggregated interaction-pattern histogram built from
// conversation history: which hours and days of the week the user tends to
// message in, and which channel they use most.
type UserProfile struct {
	ActiveHours       [24]int
	ActiveDays        [7]int
	ChannelUsage      map[string]int
	TotalInteractions int
}

// PeakHour returns the most active hour (0-23), defaulting to 9 with no data.
func (p UserProfile) PeakHour() int {
	if p.TotalInteractions == 0 {
		return 9
	}
	best, bestCount := 9, -1
	for hour, count := range p.ActiveHours {
		if count > bestCount {
			best, bestCount = hour, count
		}
	}
	return best
}

// PeakDay returns the most active day of the week (0=Monday, 6=Sunday),
// defaulting to Monday with no data.
func (p UserProfile) PeakDay() int {
	if p.TotalInteractions == 0 {
		return 0
	}
	best, bestCount := 0, -1
	for day, count := range p.ActiveDays {
		if count > bestCount {
			best, bestCount = day, count
		}
	}
	return best
}

// PreferredChannel returns the most-used channel, or "" if none recorded.
func (p UserProfile) PreferredChannel() string {
	best, bestCount := "", -1
	for channel, count := range p.ChannelUsage {
		if count > bestCount {
			best, bestCount = channel, count
		}
	}
	return best
}

// IsLikelyActive reports whether the user is likely active at the given
// instant based on their historical hourly pattern. With fewer than 10
// recorded interactions there isn't enough signal, so it assumes active.
func (p UserProfile) IsLikelyActive(now time.Time) bool {
	if p.TotalInteractions < 10 {
		return true
	}
	avg := float64(p.TotalInteractions) / 24.0
	return float64(p.ActiveHours[now.Hour()]) > avg*0.5
}

// weekdayIndex converts Go's time.Weekday (Sunday=0) to a Monday=0 index.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// PreferenceStore is the subset of the knowledge store RecordInteraction
// needs to persist the last-seen interaction as a learned preference.
type PreferenceStore interface {
	UpsertPreference(ctx context.Context, namespace, key, value string, confidence float64, source string) error
}

// RecordInteraction stamps the current hour/day/channel as the user's most
// recent interaction. It is fire-and-forget bookkeeping, not the profile
// itself — BuildUserProfile rebuilds the histogram from conversation
// history on demand instead of reading this back.
func RecordInteraction(ctx context.Context, store PreferenceStore, channel string) error {
	now := time.Now().UTC()
	value, err := json.Marshal(map[string]any{
		"hour":      now.Hour(),
		"day":       weekdayIndex(now),
		"channel":   channel,
		"timestamp": now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return store.UpsertPreference(ctx, "user_model", "last_interaction", string(value), 1.0, "auto")
}

// BuildUserProfile scans up to 500 recent conversations across every
// channel and tallies hour, day-of-week, and channel usage for every
// message that didn't come from the agent itself.
func BuildUserProfile(ctx context.Context, store ContextStore) (UserProfile, error) {
	profile := UserProfile{ChannelUsage: map[string]int{}}
	convs, err := store.GetRecentConversations(ctx, "", 500)
	if err != nil {
		return profile, err
	}
	for _, c := range convs {
		if c.Sender == agentSender {
			continue
		}
		profile.ActiveHours[c.CreatedAt.Hour()]++
		profile.ActiveDays[weekdayIndex(c.CreatedAt)]++
		profile.ChannelUsage[c.Channel]++
		profile.TotalInteractions++
	}
	return profile, nil
}

// SummarizeUserPatterns renders a short markdown section describing the
// user's interaction patterns, for inclusion in the agent's context. With
// fewer than 5 tracked interactions it reports that there isn't enough data
// yet instead of a misleadingly confident summary.
func SummarizeUserPatterns(ctx context.Context, store ContextStore) (string, error) {
	profile, err := BuildUserProfile(ctx, store)
	if err != nil {
		return "", err
	}
	if profile.TotalInteractions < 5 {
		return "Not enough interaction data to build a user profile yet.", nil
	}

	var b []byte
	b = append(b, "User patterns:\n"...)
	b = append(b, fmt.Sprintf("- Most active around %d:00\n", profile.PeakHour())...)
	b = append(b, fmt.Sprintf("- Most active on %s\n", dayNames[profile.PeakDay()])...)
	if channel := profile.PreferredChannel(); channel != "" {
		b = append(b, fmt.Sprintf("- Preferred channel: %s\n", channel)...)
	}
	b = append(b, fmt.Sprintf("- Total interactions tracked: %d\n", profile.TotalInteractions)...)
	return string(b), nil
}
