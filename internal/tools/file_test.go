package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestListDirectoryTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tool := ListDirectoryTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": dir})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("expected listing to contain a.txt and sub/, got: %s", out)
	}
}

func TestListDirectoryTool_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	tool := ListDirectoryTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": dir})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Directory is empty." {
		t.Errorf("expected empty-dir message, got %q", out)
	}
}

func TestListDirectoryTool_PolicyDenied(t *testing.T) {
	dir := t.TempDir()
	tool := ListDirectoryTool{Policy: fakePolicy{paths: false}}
	input, _ := json.Marshal(map[string]string{"path": dir})
	if _, err := tool.Execute(context.Background(), input); err == nil {
		t.Fatal("expected policy denial error")
	}
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("content here"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := ReadFileTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": path})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "content here" {
		t.Errorf("expected 'content here', got %q", out)
	}
}

func TestReadFileTool_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	tool := ReadFileTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": dir})
	if _, err := tool.Execute(context.Background(), input); err == nil {
		t.Fatal("expected error reading a directory")
	}
}

func TestReadFileTool_TooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	big := make([]byte, maxReadBytes+1)
	if err := os.WriteFile(path, big, 0o644); err != nil {
		t.Fatal(err)
	}
	tool := ReadFileTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": path})
	if _, err := tool.Execute(context.Background(), input); err == nil {
		t.Fatal("expected too-large error")
	}
}

func TestWriteFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	tool := WriteFileTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": path, "content": "written content"})
	if _, err := tool.Execute(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "written content" {
		t.Errorf("expected 'written content', got %q", data)
	}
}

func TestWriteFileTool_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "out.txt")
	tool := WriteFileTool{Policy: allowAll()}
	input, _ := json.Marshal(map[string]string{"path": path, "content": "x"})
	if _, err := tool.Execute(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %v", err)
	}
}

func TestWriteFileTool_PolicyDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	tool := WriteFileTool{Policy: fakePolicy{paths: false}}
	input, _ := json.Marshal(map[string]string{"path": path, "content": "x"})
	if _, err := tool.Execute(context.Background(), input); err == nil {
		t.Fatal("expected policy denial error")
	}
}
