package webui

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jholhewres/squid/pkg/squid/agent"
)

// handleAPIChat dispatches /api/chat/{sessionID}/{action}.
func (s *Server) handleAPIChat(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	parts := strings.SplitN(path, "/", 2)
	sessionID := parts[0]
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session ID"})
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "stream":
		s.handleChatStream(w, r, sessionID)
	case action == "history":
		s.handleChatHistory(w, r, sessionID)
	case action == "abort":
		s.handleChatAbort(w, r, sessionID)
	case strings.HasPrefix(action, "approvals/"):
		s.handleApprovalResolve(w, r, sessionID, strings.TrimPrefix(action, "approvals/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
	}
}

// handleChatStream starts a turn and streams its events on the same SSE
// connection. A client disconnect cancels the turn; any open approval fails
// closed inside the orchestrator.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing content"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	handle, err := s.orch.StartTurn(r.Context(), sessionID, body.Content)
	if err != nil {
		s.logger.Error("turn start failed", "session", sessionID, "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	s.registerTurn(handle)

	// Switch to SSE mode — headers must be written before any events.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", "turn_id", handle.TurnID)
			handle.Cancel()
			s.unregisterTurn(handle.TurnID)
			return

		case event, ok := <-handle.Events:
			if !ok {
				s.unregisterTurn(handle.TurnID)
				return
			}
			writeSSE(w, flusher, string(event.Type), event.Data)
		}
	}
}

// handleApprovalResolve delivers a human decision for a pending approval.
func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request, sessionID, approvalID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		Approved bool   `json:"approved"`
		Persist  bool   `json:"save_decision"`
		Scope    string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	err := s.orch.Resolve(sessionID, approvalID, agent.ApprovalDecision{
		Approved: body.Approved,
		Persist:  body.Persist,
		Scope:    body.Scope,
	})
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func (s *Server) handleChatAbort(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	stopped := false
	s.activeTurnMu.Lock()
	for turnID, handle := range s.activeTurns {
		if handle.SessionID == sessionID {
			handle.Cancel()
			delete(s.activeTurns, turnID)
			stopped = true
			break
		}
	}
	s.activeTurnMu.Unlock()

	if !stopped {
		stopped = s.orch.Abort(sessionID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []agent.StoredMessage{})
		return
	}
	msgs, err := s.store.History(sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []agent.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	sessions, err := s.store.Sessions()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []string{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleAPIAudit returns recent policy and execution audit entries.
func (s *Server) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.audit == nil {
		writeJSON(w, http.StatusOK, []agent.AuditEntry{})
		return
	}
	entries, err := s.audit.Recent(100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []agent.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
