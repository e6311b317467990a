package agent

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LedgerStore {
	t.Helper()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "squid.db"))
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLedgerStore(db, testLogger())
}

func TestStepRoundTrip(t *testing.T) {
	store := newTestStore(t)

	msg := StoredMessage{
		ID: "m1", SessionID: "s1", Role: "assistant",
		Content: "done", CreatedAt: time.Now(),
	}
	if err := store.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	l := NewLedger()
	l.AppendReasoning("check the file")
	l.AppendTool("read_file", `{"path":"a.txt"}`, "hello", "")
	l.AppendReasoning("now run the build")
	l.AppendTool("bash", `{"command":"make"}`, "", "denied by policy: matches \\bsudo\\b")

	if err := store.FlushSteps("m1", l.Steps()); err != nil {
		t.Fatalf("FlushSteps: %v", err)
	}

	steps, err := store.LoadSteps("m1")
	if err != nil {
		t.Fatalf("LoadSteps: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps back, got %d", len(steps))
	}
	wantKinds := []StepKind{StepReasoning, StepTool, StepReasoning, StepTool}
	for i, st := range steps {
		if st.Order != i {
			t.Errorf("step %d replayed with order %d", i, st.Order)
		}
		if st.Kind != wantKinds[i] {
			t.Errorf("step %d kind = %s, want %s", i, st.Kind, wantKinds[i])
		}
	}
	if steps[1].ToolResult != "hello" {
		t.Errorf("tool result lost: %+v", steps[1])
	}
	if steps[3].ToolError == "" {
		t.Errorf("tool error lost: %+v", steps[3])
	}
}

func TestLegacyMessageReconstruction(t *testing.T) {
	store := newTestStore(t)

	// A pre-ledger row: flat reasoning and tool_calls columns, no step rows.
	_, err := store.db.Exec(`INSERT INTO messages (id, session_id, role, content, reasoning, tool_calls, created_at)
		VALUES ('old1', 's1', 'assistant', 'ok', 'thought hard', '[{"name":"bash","arguments":{"command":"ls"},"result":"a.txt"}]', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	steps, err := store.LoadSteps("old1")
	if err != nil {
		t.Fatalf("LoadSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected reconstructed 2 steps, got %d: %+v", len(steps), steps)
	}
	if steps[0].Kind != StepReasoning || steps[0].Content != "thought hard" || steps[0].Order != 0 {
		t.Errorf("legacy reasoning step wrong: %+v", steps[0])
	}
	if steps[1].Kind != StepTool || steps[1].ToolName != "bash" || steps[1].Order != 1 {
		t.Errorf("legacy tool step wrong: %+v", steps[1])
	}
}

func TestHistoryAndSessions(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Minute)
	for i, m := range []StoredMessage{
		{ID: "a", SessionID: "s1", Role: "user", Content: "hi"},
		{ID: "b", SessionID: "s1", Role: "assistant", Content: "hello"},
		{ID: "c", SessionID: "s2", Role: "user", Content: "yo"},
	} {
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	history, err := store.History("s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].ID != "a" || history[1].ID != "b" {
		t.Fatalf("history wrong: %+v", history)
	}

	sessions, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "s2" {
		t.Fatalf("sessions should list most recent first: %v", sessions)
	}
}

func TestPermissionRulePersistence(t *testing.T) {
	store := newTestStore(t)

	if err := store.SavePermissionRule("s1", PermissionRule{Scope: "bash:git", Effect: EffectAllow}); err != nil {
		t.Fatalf("SavePermissionRule: %v", err)
	}
	if err := store.SavePermissionRule("s1", PermissionRule{Scope: "write_file", Effect: EffectDeny}); err != nil {
		t.Fatalf("SavePermissionRule: %v", err)
	}

	rules, err := store.LoadPermissionRules("s1")
	if err != nil {
		t.Fatalf("LoadPermissionRules: %v", err)
	}
	if len(rules) != 2 || rules[0].Scope != "bash:git" || rules[1].Effect != EffectDeny {
		t.Fatalf("rules wrong: %+v", rules)
	}

	other, err := store.LoadPermissionRules("s2")
	if err != nil {
		t.Fatalf("LoadPermissionRules s2: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("rules must be session-scoped, got %+v", other)
	}
}

func TestPruneBefore(t *testing.T) {
	store := newTestStore(t)

	old := StoredMessage{ID: "old", SessionID: "s1", Role: "user", Content: "x", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := StoredMessage{ID: "new", SessionID: "s1", Role: "user", Content: "y", CreatedAt: time.Now()}
	for _, m := range []StoredMessage{old, fresh} {
		if err := store.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
	if err := store.FlushSteps("old", []ThinkingStep{{Order: 0, Kind: StepReasoning, Content: "gone"}}); err != nil {
		t.Fatalf("FlushSteps: %v", err)
	}

	n, err := store.PruneBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned message, got %d", n)
	}

	history, _ := store.History("s1")
	if len(history) != 1 || history[0].ID != "new" {
		t.Fatalf("prune removed the wrong rows: %+v", history)
	}
	steps, _ := store.LoadSteps("old")
	if len(steps) != 0 {
		t.Fatalf("steps of pruned message must be gone: %+v", steps)
	}
}
