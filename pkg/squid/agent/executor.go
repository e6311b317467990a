// Package agent – executor.go performs already-authorized tool invocations.
// The executor is stateless and never consults the policy engine: by the
// time Execute runs, the orchestrator has confirmed authorization. Tool
// failures are data, not turn-fatal errors — they become the content of a
// tool thinking step and are relayed to the provider so the model can adapt.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultToolTimeout bounds filesystem tool handlers.
	DefaultToolTimeout = 30 * time.Second

	// DefaultBashTimeout bounds shell commands, which legitimately run longer.
	DefaultBashTimeout = 2 * time.Minute

	// maxToolOutput caps tool output fed back to the provider.
	maxToolOutput = 48 * 1024
)

// ToolResult is the outcome of one execution. Exactly one of Content or
// Err carries the payload relayed to the provider.
type ToolResult struct {
	Content string
	Err     error
}

// ToolExecutor runs built-in tools against the workspace root.
type ToolExecutor struct {
	root        string
	timeout     time.Duration
	bashTimeout time.Duration
	logger      *slog.Logger
}

// NewToolExecutor creates an executor rooted at the workspace directory.
func NewToolExecutor(root string, logger *slog.Logger) *ToolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		root:        root,
		timeout:     DefaultToolTimeout,
		bashTimeout: DefaultBashTimeout,
		logger:      logger.With("component", "tool_executor"),
	}
}

// Execute dispatches the invocation to its tool handler and returns the
// result. Unknown tool names are an error result, not a panic — the model
// occasionally invents names and should be told so.
func (e *ToolExecutor) Execute(ctx context.Context, inv ToolInvocation) ToolResult {
	kind, ok := KindForName(inv.ToolName)
	if !ok {
		return ToolResult{Err: fmt.Errorf("unknown tool: %s", inv.ToolName)}
	}

	timeout := e.timeout
	if kind.IsShell() {
		timeout = e.bashTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		content string
		err     error
	)
	switch kind {
	case ToolReadFile:
		content, err = e.readFile(inv.Arguments)
	case ToolWriteFile:
		content, err = e.writeFile(inv.Arguments)
	case ToolEditFile:
		content, err = e.editFile(inv.Arguments)
	case ToolListFiles:
		content, err = e.listFiles(inv.Arguments)
	case ToolSearchFiles:
		content, err = e.searchFiles(ctx, inv.Arguments)
	case ToolBash:
		content, err = e.runBash(ctx, inv.Arguments)
	}

	if len(content) > maxToolOutput {
		content = content[:maxToolOutput] + "\n... [output truncated]"
	}

	e.logger.Debug("tool executed",
		"tool", inv.ToolName,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	return ToolResult{Content: content, Err: err}
}

// resolve joins a possibly-relative path onto the workspace root.
func (e *ToolExecutor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.root, path)
}

func (e *ToolExecutor) readFile(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := os.ReadFile(e.resolve(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (e *ToolExecutor) writeFile(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	full := e.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (e *ToolExecutor) editFile(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if oldText == "" {
		return "", fmt.Errorf("old_text is required")
	}

	full := e.resolve(path)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)

	count := strings.Count(text, oldText)
	if count == 0 {
		return "", fmt.Errorf("old_text not found in %s", path)
	}
	if count > 1 {
		return "", fmt.Errorf("old_text occurs %d times in %s; it must be unique", count, path)
	}

	text = strings.Replace(text, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return "edited " + path, nil
}

func (e *ToolExecutor) listFiles(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(e.resolve(path))
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (e *ToolExecutor) searchFiles(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	dir, _ := args["path"].(string)
	if dir == "" {
		dir = "."
	}

	var matches []string
	root := e.resolve(dir)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal.
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > 1<<20 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(e.root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, query) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= 200 {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return "", fmt.Errorf("search %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

func (e *ToolExecutor) runBash(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = e.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", e.bashTimeout)
		}
		// Include captured output — the model usually needs stderr to adapt.
		return "", fmt.Errorf("command failed: %w\n%s", err, strings.TrimSpace(string(out)))
	}
	if len(out) == 0 {
		return "(no output)", nil
	}
	return string(out), nil
}
