// Package agent – permissions.go implements the per-session permission
// store. Rules map scope strings ("tool" or "tool:qualifier") to an allow
// or deny effect. Matching is most-specific-first: an exact tool:qualifier
// match beats a bare tool match, and deny beats allow at equal specificity.
package agent

import (
	"strings"
	"sync"
)

// Effect is the outcome a permission rule assigns to its scope.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PermissionRule binds a scope string to an effect.
// Scope grammar: "tool" (e.g. "read_file") or "tool:qualifier"
// (e.g. "bash:git status"). The qualifier is matched against the
// invocation's primary argument (command for shell tools, path for
// filesystem tools).
type PermissionRule struct {
	Scope  string `yaml:"scope" json:"scope"`
	Effect Effect `yaml:"effect" json:"effect"`
}

// PermissionStore holds the permission rules for one session. It is owned
// by the session and accessed only from the session's active turn, plus
// the approval broker's resolve path — which the orchestrator guarantees
// never runs concurrently with a policy check (at most one approval is
// pending per turn). The mutex makes that guarantee cheap to rely on.
type PermissionStore struct {
	mu    sync.RWMutex
	rules []PermissionRule

	// onPersist, when set, is called for every rule added at runtime so
	// the rule survives the process (written to the permission_rules
	// table). Config-seeded rules are not re-persisted.
	onPersist func(rule PermissionRule) error
}

// NewPermissionStore builds a store from the config's ordered allow/deny
// scope lists. Deny entries are registered first so equal-specificity
// conflicts resolve to deny.
func NewPermissionStore(allow, deny []string) *PermissionStore {
	s := &PermissionStore{}
	for _, scope := range deny {
		s.rules = append(s.rules, PermissionRule{Scope: scope, Effect: EffectDeny})
	}
	for _, scope := range allow {
		s.rules = append(s.rules, PermissionRule{Scope: scope, Effect: EffectAllow})
	}
	return s
}

// SetPersistFunc installs the callback used to persist runtime rules.
func (s *PermissionStore) SetPersistFunc(fn func(rule PermissionRule) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPersist = fn
}

// Seed adds a rule without persisting it (used when loading stored rules
// at session start).
func (s *PermissionStore) Seed(rule PermissionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// Add registers a rule chosen by the user at runtime ("always allow/deny")
// and persists it when a persist callback is installed.
func (s *PermissionStore) Add(rule PermissionRule) error {
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	persist := s.onPersist
	s.mu.Unlock()

	if persist != nil {
		return persist(rule)
	}
	return nil
}

// Rules returns a snapshot copy of the current rules.
func (s *PermissionStore) Rules() []PermissionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PermissionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Lookup finds the most specific rule matching the tool and its primary
// argument. Returns (effect, true) on a match. Qualified matches always
// win over bare-tool matches; within one specificity level, deny wins.
func (s *PermissionStore) Lookup(tool, primaryArg string) (Effect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		qualifiedEffect Effect
		qualifiedFound  bool
		bareEffect      Effect
		bareFound       bool
	)

	for _, rule := range s.rules {
		ruleTool, qualifier, qualified := splitScope(rule.Scope)
		if ruleTool != tool {
			continue
		}
		if qualified {
			if !qualifierMatches(qualifier, primaryArg) {
				continue
			}
			if !qualifiedFound || rule.Effect == EffectDeny {
				qualifiedEffect = rule.Effect
				qualifiedFound = true
			}
		} else {
			if !bareFound || rule.Effect == EffectDeny {
				bareEffect = rule.Effect
				bareFound = true
			}
		}
	}

	if qualifiedFound {
		return qualifiedEffect, true
	}
	if bareFound {
		return bareEffect, true
	}
	return "", false
}

// splitScope parses "tool" or "tool:qualifier".
func splitScope(scope string) (tool, qualifier string, qualified bool) {
	if idx := strings.Index(scope, ":"); idx >= 0 {
		return scope[:idx], scope[idx+1:], true
	}
	return scope, "", false
}

// qualifierMatches reports whether a scope qualifier covers the given
// primary argument. Exact equality always matches; a single-word qualifier
// also covers any argument whose first whitespace-delimited word equals it,
// so "bash:git" covers "git status" while "bash:git status" only covers
// that exact command.
func qualifierMatches(qualifier, arg string) bool {
	if qualifier == arg {
		return true
	}
	if qualifier == "" || strings.ContainsAny(qualifier, " \t") {
		return false
	}
	first, _, _ := strings.Cut(strings.TrimSpace(arg), " ")
	return first == qualifier
}
