package agent

import (
	"fmt"
	"log/slog"
	"sync"
)

// Session holds the per-conversation state: the permission store (config
// seeds plus persisted "always" choices) and the usage totals of the last
// completed turn.
type Session struct {
	ID    string
	Store *PermissionStore

	mu         sync.Mutex
	activeTurn string
	lastUsage  TokenUsage
}

// beginTurn marks the session busy. A session runs at most one turn at a
// time; a second start while one is streaming is refused, not queued.
func (s *Session) beginTurn(turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurn != "" {
		return fmt.Errorf("session %s already has turn %s in flight", s.ID, s.activeTurn)
	}
	s.activeTurn = turnID
	return nil
}

func (s *Session) endTurn(turnID string, usage TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurn == turnID {
		s.activeTurn = ""
		s.lastUsage = usage
	}
}

// ActiveTurn returns the in-flight turn ID, or "" when idle.
func (s *Session) ActiveTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurn
}

// LastUsage returns the token totals of the most recently completed turn.
func (s *Session) LastUsage() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsage
}

// SessionManager creates sessions on first use and wires their permission
// stores to config seeds and database persistence.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	perms  PermissionsConfig
	store  *LedgerStore
	logger *slog.Logger
}

func NewSessionManager(perms PermissionsConfig, store *LedgerStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		perms:    perms,
		store:    store,
		logger:   logger.With("component", "sessions"),
	}
}

// Get returns the session, creating it on first use. New sessions seed their
// permission store from config and then from rules persisted in earlier
// runs; runtime "always" choices persist through the store's callback.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}

	store := NewPermissionStore(m.perms.Allow, m.perms.Deny)
	if m.store != nil {
		rules, err := m.store.LoadPermissionRules(sessionID)
		if err != nil {
			return nil, fmt.Errorf("load rules for session %s: %w", sessionID, err)
		}
		for _, r := range rules {
			store.Seed(r)
		}
		store.SetPersistFunc(func(rule PermissionRule) error {
			return m.store.SavePermissionRule(sessionID, rule)
		})
	}

	s := &Session{ID: sessionID, Store: store}
	m.sessions[sessionID] = s
	m.logger.Debug("session created", "session_id", sessionID, "seed_rules", len(store.Rules()))
	return s, nil
}

// Peek returns the session if it already exists.
func (m *SessionManager) Peek(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}
