// Package agent – ignore.go loads the project-local .squidignore file: glob
// patterns naming paths the model may never touch, regardless of approval.
package agent

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the project-local ignore file read at session start.
const IgnoreFileName = ".squidignore"

// IgnoreList holds glob patterns matched against workspace-relative paths.
type IgnoreList struct {
	patterns []string
}

// NewIgnoreList builds a list from explicit patterns (used by config and tests).
func NewIgnoreList(patterns []string) *IgnoreList {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		out = append(out, strings.TrimSuffix(p, "/"))
	}
	return &IgnoreList{patterns: out}
}

// LoadIgnoreList reads root/.squidignore. A missing file yields an empty
// list — ignoring nothing is the normal case, not an error.
func LoadIgnoreList(root string) (*IgnoreList, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return NewIgnoreList(nil), nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewIgnoreList(patterns), nil
}

// Match reports whether the workspace-relative path hits any pattern.
// Patterns match the full relative path, the base name, or any leading
// directory, so "secrets" covers "secrets/key.pem" and "*.env" covers
// "config/prod.env".
func (l *IgnoreList) Match(rel string) bool {
	if l == nil || len(l.patterns) == 0 {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)

	for _, pattern := range l.patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		// Directory prefix: pattern "secrets" covers everything under it.
		if rel == pattern || strings.HasPrefix(rel, pattern+"/") {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the active patterns.
func (l *IgnoreList) Patterns() []string {
	out := make([]string, len(l.patterns))
	copy(out, l.patterns)
	return out
}
