package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kavyleancoder/meepo/internal/policy"
)

const (
	maxReadBytes   = 100 * 1024 // 100KB
	maxListEntries = 200
)

// isPathAllowed resolves rawPath to an absolute path, rejecting symlink-
// based traversal by resolving the parent directory first.
func isPathAllowed(rawPath string) (string, error) {
	if rawPath == "" {
		return "", fmt.Errorf("empty path")
	}
	resolved, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	evaluated, err := filepath.EvalSymlinks(filepath.Dir(resolved))
	if err != nil {
		evaluated = filepath.Dir(resolved) // parent doesn't exist yet: fine for write_file
	}
	return filepath.Join(evaluated, filepath.Base(resolved)), nil
}

// ListDirectoryTool lists files and directories at a path. ReadOnly tier.
type ListDirectoryTool struct {
	Policy policy.Checker
}

func (ListDirectoryTool) Name() string { return "list_directory" }
func (ListDirectoryTool) Description() string {
	return "List the contents of a directory. Returns file names, types, and sizes. Maximum 200 entries."
}
func (ListDirectoryTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Directory path to list"},
	}, []string{"path"})
}

func (t ListDirectoryTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	resolved, err := isPathAllowed(in.Path)
	if err != nil {
		return "", err
	}
	if t.Policy != nil && !t.Policy.AllowPath(resolved) {
		return "", fmt.Errorf("policy denied path %q", resolved)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("read dir: %w", err)
	}

	var out []string
	for i, entry := range entries {
		if i >= maxListEntries {
			break
		}
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		if entry.IsDir() {
			out = append(out, fmt.Sprintf("%s/ (dir)", entry.Name()))
		} else {
			out = append(out, fmt.Sprintf("%s (%d bytes)", entry.Name(), size))
		}
	}
	if len(out) == 0 {
		return "Directory is empty.", nil
	}
	return strings.Join(out, "\n"), nil
}

// ReadFileTool reads a file's contents. ReadOnly tier.
type ReadFileTool struct {
	Policy policy.Checker
}

func (ReadFileTool) Name() string { return "read_file" }
func (ReadFileTool) Description() string {
	return "Read the contents of a file at the given path. Returns the file content as text. Maximum 100KB."
}
func (ReadFileTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"path": map[string]any{"type": "string", "description": "File path to read"},
	}, []string{"path"})
}

func (t ReadFileTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	resolved, err := isPathAllowed(in.Path)
	if err != nil {
		return "", err
	}
	if t.Policy != nil && !t.Policy.AllowPath(resolved) {
		return "", fmt.Errorf("policy denied path %q", resolved)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory, use list_directory instead")
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxReadBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return string(data), nil
}

// WriteFileTool writes content to a file, atomically. Write tier.
type WriteFileTool struct {
	Policy policy.Checker
}

func (WriteFileTool) Name() string { return "write_file" }
func (WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed. Uses atomic write."
}
func (WriteFileTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"path":    map[string]any{"type": "string", "description": "File path to write"},
		"content": map[string]any{"type": "string", "description": "Content to write"},
	}, []string{"path", "content"})
}

func (t WriteFileTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	resolved, err := isPathAllowed(in.Path)
	if err != nil {
		return "", err
	}
	if t.Policy != nil && !t.Policy.AllowPath(resolved) {
		return "", fmt.Errorf("policy denied path %q", resolved)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	tmp := resolved + ".tmp"
	if err := os.WriteFile(tmp, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, resolved); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), resolved), nil
}
