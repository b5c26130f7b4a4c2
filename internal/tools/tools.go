// Package tools implements the tool registry, fixed risk-tier
// classification, input-schema validation, and the executor that wires
// both together with policy checks and action logging.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/kavyleancoder/meepo/internal/providers"
)

// Tool is implemented once per capability the agent can invoke. Name/
// Description/InputSchema feed the provider-neutral ToolSpec offered to the
// model; Execute runs the call once the executor has cleared policy, the
// confidence gate, and schema validation.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry is a name-addressable map of tools. Registration is by name;
// registering a duplicate name overwrites the previous definition.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns every registered tool's spec, sorted by name for stable
// output across calls.
func (r *Registry) List() []providers.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]providers.ToolSpec, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		specs = append(specs, providers.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return specs
}

// FilterTools returns specs for only the named tools, honoring per-agent-
// profile allowlists. Unknown names are silently skipped.
func (r *Registry) FilterTools(allowedNames []string) []providers.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var specs []providers.ToolSpec
	for _, name := range allowedNames {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, providers.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return specs
}

// Schema builds a JSON-Schema-shaped input_schema document from a
// properties map and a required-field list, mirroring every built-in
// tool's InputSchema().
func Schema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
