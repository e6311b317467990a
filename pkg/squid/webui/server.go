// Package webui serves the HTTP gateway: chat streaming over SSE, approval
// resolution, abort, and session history.
package webui

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/squid/pkg/squid/agent"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg    agent.WebUIConfig
	orch   *agent.Orchestrator
	store  *agent.LedgerStore
	audit  *agent.AuditLogger
	logger *slog.Logger
	server *http.Server

	// activeTurns tracks streaming turns by turn ID for abort support.
	activeTurns  map[string]*agent.TurnHandle
	activeTurnMu sync.Mutex
}

// New creates the gateway server.
func New(cfg agent.WebUIConfig, orch *agent.Orchestrator, store *agent.LedgerStore, audit *agent.AuditLogger, logger *slog.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		orch:        orch,
		store:       store,
		audit:       audit,
		logger:      logger.With("component", "webui"),
		activeTurns: make(map[string]*agent.TurnHandle),
	}
}

// Handler builds the route table. Exposed separately so tests can drive it
// through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/", s.authMiddleware(s.handleAPIChat))
	mux.HandleFunc("/api/sessions", s.authMiddleware(s.handleAPISessions))
	mux.HandleFunc("/api/audit", s.authMiddleware(s.handleAPIAudit))
	mux.HandleFunc("/api/health", s.handleHealth)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled for SSE streams (long-lived connections)
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("gateway starting", "address", addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server, cancelling active turns first so
// their open approvals fail closed.
func (s *Server) Stop() {
	s.activeTurnMu.Lock()
	for _, handle := range s.activeTurns {
		handle.Cancel()
	}
	s.activeTurnMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("gateway stopped")
	}
}

func (s *Server) registerTurn(handle *agent.TurnHandle) {
	s.activeTurnMu.Lock()
	s.activeTurns[handle.TurnID] = handle
	s.activeTurnMu.Unlock()
}

func (s *Server) unregisterTurn(turnID string) {
	s.activeTurnMu.Lock()
	delete(s.activeTurns, turnID)
	s.activeTurnMu.Unlock()
}

// authMiddleware validates the bearer token if configured.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		if !compareTokens(extractToken(r), s.cfg.Token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// compareTokens hashes both sides so the comparison is constant-time over
// equal-length inputs.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter (for SSE connections).
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSSE writes a named SSE event to the response writer.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(b))
	flusher.Flush()
}
