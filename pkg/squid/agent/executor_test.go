package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestExecutor(t *testing.T) (*ToolExecutor, string) {
	t.Helper()
	root := t.TempDir()
	return NewToolExecutor(root, testLogger()), root
}

func invocation(tool string, args map[string]any) ToolInvocation {
	return ToolInvocation{ToolName: tool, Arguments: args, SessionID: "s1", TurnID: "t1"}
}

func TestExecutorFileCycle(t *testing.T) {
	exec, root := newTestExecutor(t)
	ctx := context.Background()

	res := exec.Execute(ctx, invocation("write_file", map[string]any{
		"path": "notes/todo.txt", "content": "first line\n",
	}))
	if res.Err != nil {
		t.Fatalf("write_file: %v", res.Err)
	}

	res = exec.Execute(ctx, invocation("read_file", map[string]any{"path": "notes/todo.txt"}))
	if res.Err != nil || res.Content != "first line\n" {
		t.Fatalf("read_file: content=%q err=%v", res.Content, res.Err)
	}

	res = exec.Execute(ctx, invocation("edit_file", map[string]any{
		"path": "notes/todo.txt", "old_text": "first", "new_text": "second",
	}))
	if res.Err != nil {
		t.Fatalf("edit_file: %v", res.Err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "notes", "todo.txt"))
	if string(data) != "second line\n" {
		t.Fatalf("edit not applied: %q", data)
	}

	res = exec.Execute(ctx, invocation("list_files", map[string]any{"path": "notes"}))
	if res.Err != nil || !strings.Contains(res.Content, "todo.txt") {
		t.Fatalf("list_files: content=%q err=%v", res.Content, res.Err)
	}
}

func TestExecutorEditRequiresUniqueMatch(t *testing.T) {
	exec, root := newTestExecutor(t)
	if err := os.WriteFile(filepath.Join(root, "dup.txt"), []byte("x\nx\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := exec.Execute(context.Background(), invocation("edit_file", map[string]any{
		"path": "dup.txt", "old_text": "x", "new_text": "y",
	}))
	if res.Err == nil || !strings.Contains(res.Err.Error(), "must be unique") {
		t.Fatalf("ambiguous edit should fail, got %v", res.Err)
	}
}

func TestExecutorSearch(t *testing.T) {
	exec, root := newTestExecutor(t)
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n// marker here\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git", "b.txt"), []byte("marker hidden\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := exec.Execute(context.Background(), invocation("search_files", map[string]any{"query": "marker"}))
	if res.Err != nil {
		t.Fatalf("search_files: %v", res.Err)
	}
	if !strings.Contains(res.Content, "a.go:2") {
		t.Errorf("expected match with line number, got %q", res.Content)
	}
	if strings.Contains(res.Content, ".git") {
		t.Errorf(".git must be skipped, got %q", res.Content)
	}
}

func TestExecutorBash(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), invocation("bash", map[string]any{"command": "echo hello"}))
	if res.Err != nil || strings.TrimSpace(res.Content) != "hello" {
		t.Fatalf("bash echo: content=%q err=%v", res.Content, res.Err)
	}

	// A failing command surfaces as an error result carrying stderr.
	res = exec.Execute(context.Background(), invocation("bash", map[string]any{"command": "bash -c 'echo oops >&2; exit 3'"}))
	if res.Err == nil || !strings.Contains(res.Err.Error(), "oops") {
		t.Fatalf("failing command should report stderr, got %v", res.Err)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), invocation("teleport", nil))
	if res.Err == nil {
		t.Fatal("unknown tool must return an error result")
	}
}
