package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kavyleancoder/meepo/internal/shared"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 120 * time.Second
	maxShellOutput      = 8 * 1024 // 8KB
)

// ShellExecutor defines the interface for running shell commands.
// RunCommandTool defaults to HostExecutor; a sandboxed executor (e.g.
// Docker) can be injected for the Destructive tier without changing the
// tool's contract.
type ShellExecutor interface {
	Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error)
}

// HostExecutor runs commands directly on the host.
type HostExecutor struct{}

func (h *HostExecutor) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd)
	if workDir != "" {
		execCmd.Dir = workDir
	}

	var outBuf, errBuf bytes.Buffer
	execCmd.Stdout = &outBuf
	execCmd.Stderr = &errBuf

	runErr := execCmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			err = runErr
		}
	} else {
		exitCode = 0
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}

// denyList contains commands that are never allowed, regardless of executor.
var denyList = map[string]struct{}{
	"rm":       {},
	"rmdir":    {},
	"mkfs":     {},
	"dd":       {},
	"shutdown": {},
	"reboot":   {},
	"halt":     {},
	"poweroff": {},
	"kill":     {},
	"killall":  {},
	"pkill":    {},
	"sudo":     {},
	"su":       {},
	"chmod":    {},
	"chown":    {},
}

type ShellOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// RunCommandTool executes a shell command through Executor. Destructive tier:
// the executor is expected to run inside an isolated sandbox in production
// deployments rather than HostExecutor directly.
type RunCommandTool struct {
	Executor ShellExecutor
}

func (RunCommandTool) Name() string { return "run_command" }
func (RunCommandTool) Description() string {
	return "Execute a shell command and return its output. Commands on the deny list (rm, sudo, kill, etc.) are blocked. Output is truncated to 8KB and secrets are redacted."
}
func (RunCommandTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"command":     map[string]any{"type": "string", "description": "Shell command to execute"},
		"working_dir": map[string]any{"type": "string", "description": "Working directory for the command"},
		"timeout_sec": map[string]any{"type": "number", "description": "Timeout in seconds, capped at 120"},
	}, []string{"command"})
}

func (t RunCommandTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Command    string `json:"command"`
		WorkingDir string `json:"working_dir"`
		TimeoutSec int    `json:"timeout_sec"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}

	parts := strings.Fields(strings.TrimSpace(in.Command))
	if len(parts) == 0 {
		return "", fmt.Errorf("empty command")
	}
	for _, op := range []string{";", "$(", "`"} {
		if strings.Contains(in.Command, op) {
			return "", fmt.Errorf("command contains disallowed operator %q", op)
		}
	}
	segments := splitCommandSegments(in.Command)
	for _, seg := range segments {
		segParts := strings.Fields(strings.TrimSpace(seg))
		for _, tok := range segParts {
			if _, blocked := denyList[tok]; blocked {
				return "", fmt.Errorf("command %q is on the deny list", tok)
			}
		}
	}

	timeout := defaultShellTimeout
	if in.TimeoutSec > 0 {
		timeout = time.Duration(in.TimeoutSec) * time.Second
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	executor := t.Executor
	if executor == nil {
		executor = &HostExecutor{}
	}

	stdout, stderr, exitCode, err := executor.Exec(execCtx, in.Command, in.WorkingDir)
	if err != nil && exitCode == 0 {
		if execCtx.Err() == context.DeadlineExceeded {
			out := ShellOutput{Stderr: "command timed out", ExitCode: -1}
			raw, _ := json.Marshal(out)
			return string(raw), nil
		}
		return "", fmt.Errorf("exec: %w", err)
	}

	outStr := shared.Redact(truncateOutput(stdout, maxShellOutput))
	errStr := shared.Redact(truncateOutput(stderr, maxShellOutput))

	raw, err := json.Marshal(ShellOutput{Stdout: outStr, Stderr: errStr, ExitCode: exitCode})
	if err != nil {
		return "", fmt.Errorf("marshal shell output: %w", err)
	}
	return string(raw), nil
}

func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}

// splitCommandSegments splits a command at pipe and logical operators,
// returning the individual command segments for deny-list checking.
func splitCommandSegments(cmd string) []string {
	var segments []string
	current := cmd
	for current != "" {
		minIdx := len(current)
		matchLen := 0
		for _, op := range []string{"||", "&&", "|"} {
			if idx := strings.Index(current, op); idx >= 0 && idx < minIdx {
				minIdx = idx
				matchLen = len(op)
			}
		}
		if matchLen > 0 {
			seg := strings.TrimSpace(current[:minIdx])
			if seg != "" {
				segments = append(segments, seg)
			}
			current = current[minIdx+matchLen:]
		} else {
			seg := strings.TrimSpace(current)
			if seg != "" {
				segments = append(segments, seg)
			}
			break
		}
	}
	return segments
}
