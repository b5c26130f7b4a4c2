package agent

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry manages a set of profiles and routes incoming messages to the
// right one, falling back to a fixed default. Grounded on the teacher's
// internal/agent.Registry shape (a map guarded by a mutex), restyled
// around the lighter-weight Profile/routing model this system needs
// instead of the teacher's full per-agent engine lifecycle.
type Registry struct {
	mu             sync.RWMutex
	profiles       map[string]Profile
	defaultAgentID string
	logger         *slog.Logger
}

// NewRegistry creates a Registry seeded with defaultProfile, which every
// route falls back to and can never be removed.
func NewRegistry(defaultProfile Profile, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		profiles:       map[string]Profile{defaultProfile.ID: defaultProfile},
		defaultAgentID: defaultProfile.ID,
		logger:         logger,
	}
	r.logger.Info("agent registry initialized", "default_agent_id", defaultProfile.ID)
	return r
}

// AddProfile registers or replaces a non-default profile.
func (r *Registry) AddProfile(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	r.logger.Info("agent profile added", "agent_id", p.ID, "name", p.Name, "routes", len(p.Channels))
}

// GetProfile returns a profile by ID.
func (r *Registry) GetProfile(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// DefaultProfile returns the registry's fallback profile.
func (r *Registry) DefaultProfile() Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[r.defaultAgentID]
}

// Route picks the profile that should handle a message from sender on
// channelType: the first non-default profile whose routes match, or the
// default profile if none do. Iteration order over non-default profiles is
// unspecified when more than one route matches the same channel/sender —
// callers relying on priority between overlapping routes should keep
// routes mutually exclusive.
func (r *Registry) Route(channelType, sender string) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.profiles {
		if id == r.defaultAgentID {
			continue
		}
		if p.MatchesRoute(channelType, sender) {
			r.logger.Debug("agent routed", "channel_type", channelType, "sender", sender, "agent_id", id)
			return p
		}
	}
	r.logger.Debug("agent routed to default", "channel_type", channelType, "sender", sender, "agent_id", r.defaultAgentID)
	return r.profiles[r.defaultAgentID]
}

// ListAgents returns every registered profile ID.
func (r *Registry) ListAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered profiles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// RemoveProfile removes a non-default profile. Removing the default agent
// is always refused.
func (r *Registry) RemoveProfile(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.defaultAgentID {
		return fmt.Errorf("cannot remove default agent %q", id)
	}
	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	delete(r.profiles, id)
	r.logger.Info("agent profile removed", "agent_id", id)
	return nil
}
