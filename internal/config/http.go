package config

// AuthConfig controls the per-key API authentication layer the gateway and
// A2A HTTP servers wrap around their handlers.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []APIKeyEntry `yaml:"keys"`
}

// APIKeyEntry is one registered API key and the agent(s) it's scoped to.
type APIKeyEntry struct {
	Key         string   `yaml:"key"`
	Description string   `yaml:"description,omitempty"`
	AgentIDs    []string `yaml:"agent_ids,omitempty"`
}

// CORSConfig controls the Access-Control-* headers the gateway emits for
// browser clients.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig controls the per-key token bucket rate limiter.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}
