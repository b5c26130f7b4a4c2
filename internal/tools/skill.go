package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kavyleancoder/meepo/internal/sandbox/wasm"
)

// SkillHost is the subset of *wasm.Host the invoke_skill tool needs, kept
// narrow so tests can fake it without spinning up a real wazero runtime.
type SkillHost interface {
	HasModule(name string) bool
	InvokeModuleRandom(ctx context.Context, moduleName string) (int32, error)
}

// InvokeSkillTool lets the agent call a user-installed WASM skill module
// loaded into the sandboxed wazero host. Skills are dropped as .wasm files
// into the skills directory and hot-reloaded by wasm.Watcher; this tool only
// knows how to invoke one by name and report its numeric result. Write tier:
// skill modules run inside the wazero sandbox but can reach host.http.get
// and host.kv.set, both policy-gated.
type InvokeSkillTool struct {
	Host SkillHost
}

func (InvokeSkillTool) Name() string { return "invoke_skill" }
func (InvokeSkillTool) Description() string {
	return "Invoke a user-installed WASM skill module by name, sandboxed via wazero. " +
		"Skills are narrow, single-purpose plugins (e.g. a dice roller, a scoring function) " +
		"that return one integer result."
}
func (InvokeSkillTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"skill": map[string]any{"type": "string", "description": "Name of the installed skill module to invoke"},
	}, []string{"skill"})
}

func (t InvokeSkillTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Skill string `json:"skill"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if in.Skill == "" {
		return "", fmt.Errorf("missing 'skill' parameter")
	}
	if t.Host == nil || !t.Host.HasModule(in.Skill) {
		return "", fmt.Errorf("skill %q is not installed", in.Skill)
	}

	result, err := t.Host.InvokeModuleRandom(ctx, in.Skill)
	if err != nil {
		if fault, ok := err.(*wasm.SkillFault); ok {
			return "", fmt.Errorf("skill %q fault: %s (%s)", in.Skill, fault.Reason, fault.Detail)
		}
		return "", fmt.Errorf("invoke skill %q: %w", in.Skill, err)
	}
	return fmt.Sprintf("%d", result), nil
}
