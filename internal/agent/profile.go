// Package agent defines agent profiles — distinct personas with their own
// model, system prompt, tool allowlist, and channel routes — and the
// registry that routes an incoming message to the right one.
package agent

// ChannelRoute maps messages on a channel type to this profile, optionally
// narrowed to a sender allowlist.
type ChannelRoute struct {
	ChannelType     string
	SenderAllowlist []string
}

// matches reports whether a message from sender on this route's channel
// type should be routed here. An empty allowlist matches every sender on
// the channel.
func (r ChannelRoute) matches(channelType, sender string) bool {
	if r.ChannelType != channelType {
		return false
	}
	if len(r.SenderAllowlist) == 0 {
		return true
	}
	for _, s := range r.SenderAllowlist {
		if s == sender {
			return true
		}
	}
	return false
}

// Profile is a distinct agent persona: its own model, soul (system prompt
// identity text), memory file, tool allowlist/denylist, and the channel
// routes that select it.
type Profile struct {
	ID          string
	Name        string
	Model       string
	SoulFile    string
	MemoryFile  string
	Workspace   string
	Tools       []string // empty = every tool allowed, subject to DeniedTools
	DeniedTools []string
	Channels    []ChannelRoute
	MaxTokens   int
}

// NewProfile builds a Profile with empty tool lists and no routes — the
// caller fills in whatever it needs beyond id/name.
func NewProfile(id, name string) Profile {
	return Profile{ID: id, Name: name}
}

// IsToolAllowed applies deny-wins-then-allowlist: a tool on DeniedTools is
// never allowed regardless of Tools; an empty Tools allowlist permits every
// tool not denied.
func (p Profile) IsToolAllowed(toolName string) bool {
	for _, d := range p.DeniedTools {
		if d == toolName {
			return false
		}
	}
	if len(p.Tools) == 0 {
		return true
	}
	for _, t := range p.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

// MatchesRoute reports whether this profile should handle a message from
// sender on channelType. A profile with no routes never matches — it can
// only be reached as the registry's default.
func (p Profile) MatchesRoute(channelType, sender string) bool {
	if len(p.Channels) == 0 {
		return false
	}
	for _, route := range p.Channels {
		if route.matches(channelType, sender) {
			return true
		}
	}
	return false
}
