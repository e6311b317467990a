package webui

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jholhewres/squid/pkg/squid/agent"
)

// echoProvider streams a canned reply with no tool calls.
type echoProvider struct{}

func (echoProvider) Stream(ctx context.Context, messages []agent.ChatMessage, tools []agent.ToolDefinition) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 2)
	out <- agent.StreamChunk{TextDelta: "hello from squid"}
	out <- agent.StreamChunk{Usage: &agent.TokenUsage{Input: 3, Output: 4}}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T, token string) (*Server, *agent.Orchestrator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	orch := agent.NewOrchestrator(
		echoProvider{},
		agent.NewPolicyEngine(root, agent.NewIgnoreList(nil), logger),
		agent.NewApprovalBroker(logger),
		agent.NewToolExecutor(root, logger),
		nil, nil,
		agent.NewSessionManager(agent.PermissionsConfig{}, nil, logger),
		logger,
	)
	return New(agent.WebUIConfig{Token: token}, orch, nil, nil, logger), orch
}

func TestChatStreamEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/chat/s1/stream",
		strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{"event: session", "event: content", "hello from squid", "event: usage", "event: done"} {
		if !strings.Contains(body, want) {
			t.Errorf("SSE body missing %q:\n%s", want, body)
		}
	}

	// done must close the stream, i.e. be the last event.
	if !strings.Contains(body[strings.LastIndex(body, "event: "):], "done") {
		t.Errorf("done is not the final event:\n%s", body)
	}
}

func TestChatStreamRejectsEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/s1/stream", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestApprovalResolveUnknownID(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/s1/approvals/nope",
		strings.NewReader(`{"approved":true}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestApprovalResolveWireFormat(t *testing.T) {
	srv, orch := newTestServer(t, "")

	// Park a pending approval the way a live turn would.
	session, err := orch.Sessions().Get("s1")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	inv := agent.ToolInvocation{
		ToolName:  "bash",
		Arguments: map[string]any{"command": "git status"},
		SessionID: "s1",
		TurnID:    "t1",
		CallID:    "c1",
	}
	pending, err := orch.Broker().Request(inv, session.Store)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat/s1/approvals/"+pending.ID,
		strings.NewReader(`{"approved":true,"save_decision":true,"scope":"bash:git"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	decision := <-pending.Decision()
	if !decision.Approved {
		t.Fatal("approved flag did not reach the broker")
	}

	// save_decision:true writes the rule into the session's store.
	saved := false
	for _, r := range session.Store.Rules() {
		if r.Scope == "bash:git" && r.Effect == agent.EffectAllow {
			saved = true
		}
	}
	if !saved {
		t.Fatalf("save_decision did not persist a rule, rules = %+v", session.Store.Rules())
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should be rejected, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token rejected: %d", rec.Code)
	}

	// Health stays open for liveness probes.
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", rec.Code)
	}
}
