// Package agent – policy.go implements the policy engine: a pure decision
// function over a proposed tool invocation. Evaluation order, first match
// wins:
//
//  1. Dangerous-command guard (shell tools; fixed patterns, not configurable)
//  2. Workspace-root path validation + credential/system path blacklist
//  3. .squidignore glob match
//  4. Permission store lookup (most-specific scope, deny precedence)
//  5. Otherwise NeedsApproval
//
// The dangerous-command guard is deliberately unreachable from
// configuration: no permission rule, allow list, or user choice can
// override it.
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// dangerousCommandPatterns is the fixed deny list for shell commands.
// It is a package-level constant slice on purpose — nothing configurable
// feeds it, so no configuration can bypass it.
var dangerousCommandPatterns = compileDangerousPatterns([]string{
	`(^|[;&|]\s*)rm\s`,          // file deletion
	`\bsudo\b`,                  // privilege escalation
	`\bchmod\b`,                 // permission changes
	`\bchown\b`,                 // ownership changes
	`\bdd\b`,                    // raw device writes
	`\bmkfs\b`,                  // filesystem formatting
	`\bcurl\b`,                  // arbitrary network fetch
	`\bwget\b`,                  // arbitrary network fetch
	`\bkill(all)?\b`,            // process termination
	`\bpkill\b`,                 // process termination
	`>\s*/dev/`,                 // destructive device redirection
	`\bshutdown\b|\breboot\b`,   // host power control
	`:\(\)\{\s*:\|:&\s*\};:`,    // fork bomb
	`\bmv\s+[^\s]+\s+/dev/null`, // deletion via /dev/null
})

func compileDangerousPatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// pathBlacklist returns the fixed list of directories and files no
// filesystem tool may touch even when they resolve under the workspace
// root (e.g. a project checked out into the home directory).
func pathBlacklist() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".gnupg"),
		filepath.Join(home, ".aws"),
		filepath.Join(home, ".config", "gcloud"),
		filepath.Join(home, ".kube"),
		filepath.Join(home, ".docker"),
		"/etc/shadow",
		"/etc/sudoers",
		"/etc/ssl/private",
	}
}

// PolicyEngine evaluates tool invocations against the fixed guards, the
// project ignore list, and the session's permission store. It performs no
// I/O beyond path resolution and never suspends.
type PolicyEngine struct {
	root      string
	ignore    *IgnoreList
	blacklist []string
	logger    *slog.Logger
}

// NewPolicyEngine creates an engine for the given workspace root.
func NewPolicyEngine(root string, ignore *IgnoreList, logger *slog.Logger) *PolicyEngine {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err == nil {
		root = abs
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &PolicyEngine{
		root:      root,
		ignore:    ignore,
		blacklist: pathBlacklist(),
		logger:    logger.With("component", "policy"),
	}
}

// Root returns the resolved workspace root.
func (e *PolicyEngine) Root() string { return e.root }

// Evaluate computes the policy decision for one invocation. It is called
// fresh for every request; decisions are never cached because arguments
// (paths, commands) vary per call.
func (e *PolicyEngine) Evaluate(store *PermissionStore, inv ToolInvocation) PolicyDecision {
	kind, ok := KindForName(inv.ToolName)
	if !ok {
		return PolicyDecision{
			Kind:   AutoDenied,
			Reason: fmt.Sprintf("unknown tool %q", inv.ToolName),
		}
	}

	// 1. Dangerous-command guard. Always first, never overridable.
	if kind.IsShell() {
		command, _ := inv.Arguments["command"].(string)
		for _, pattern := range dangerousCommandPatterns {
			if pattern.MatchString(command) {
				e.logger.Warn("dangerous command blocked",
					"tool", inv.ToolName,
					"pattern", pattern.String(),
				)
				return PolicyDecision{
					Kind:   AutoDenied,
					Reason: "command blocked by safety rule: matches " + pattern.String(),
				}
			}
		}
	}

	// 2. Path validation for filesystem tools.
	if kind.IsFilesystem() {
		path, _ := inv.Arguments["path"].(string)
		if path != "" {
			if decision, denied := e.checkPath(path); denied {
				return decision
			}

			// 3. Project ignore list, matched on the workspace-relative path.
			rel, err := filepath.Rel(e.root, e.resolvePath(path))
			if err == nil && e.ignore.Match(rel) {
				return PolicyDecision{
					Kind:   AutoDenied,
					Reason: fmt.Sprintf("path %q is excluded by %s", path, IgnoreFileName),
				}
			}
		}
	}

	// 4. Permission store lookup.
	if effect, found := store.Lookup(inv.ToolName, inv.PrimaryArgument()); found {
		if effect == EffectDeny {
			return PolicyDecision{
				Kind:   AutoDenied,
				Reason: fmt.Sprintf("tool %q is denied by a permission rule", inv.ToolName),
			}
		}
		return PolicyDecision{Kind: AutoAllowed}
	}

	// 5. No rule decided — a human must.
	return PolicyDecision{Kind: NeedsApproval}
}

// resolvePath normalizes a tool path argument: relative paths are anchored
// at the workspace root, symlinks are resolved through the deepest existing
// ancestor so a link cannot smuggle a path outside the root.
func (e *PolicyEngine) resolvePath(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	path = filepath.Clean(path)

	// EvalSymlinks fails on paths that don't exist yet (write_file targets).
	// Walk up to the deepest existing ancestor, resolve that, and re-append
	// the remainder.
	remainder := ""
	probe := path
	for {
		if resolved, err := filepath.EvalSymlinks(probe); err == nil {
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return path
		}
		remainder = filepath.Join(filepath.Base(probe), remainder)
		probe = parent
	}
}

// checkPath enforces the workspace-root boundary and the fixed blacklist.
func (e *PolicyEngine) checkPath(path string) (PolicyDecision, bool) {
	resolved := e.resolvePath(path)

	for _, protected := range e.blacklist {
		if resolved == protected || strings.HasPrefix(resolved, protected+string(filepath.Separator)) {
			return PolicyDecision{
				Kind:   AutoDenied,
				Reason: fmt.Sprintf("path %q is a protected credential or system path", path),
			}, true
		}
	}

	if resolved != e.root && !strings.HasPrefix(resolved, e.root+string(filepath.Separator)) {
		return PolicyDecision{
			Kind:   AutoDenied,
			Reason: fmt.Sprintf("path %q resolves outside the workspace root", path),
		}, true
	}

	return PolicyDecision{}, false
}
