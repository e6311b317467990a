package agent

import "testing"

func TestLedgerCoalescingAndOrder(t *testing.T) {
	l := NewLedger()

	l.AppendReasoning("I should look at ")
	l.AppendReasoning("the config first.")
	l.AppendTool("read_file", `{"path":"config.yaml"}`, "name: squid", "")
	l.AppendReasoning("Now I need to check the tests.")
	l.AppendTool("bash", `{"command":"go test ./..."}`, "", "denied by user")

	steps := l.Steps()
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d: %+v", len(steps), steps)
	}

	for i, st := range steps {
		if st.Order != i {
			t.Errorf("step %d has order %d", i, st.Order)
		}
	}

	if steps[0].Kind != StepReasoning || steps[0].Content != "I should look at the config first." {
		t.Errorf("consecutive reasoning must coalesce, got %+v", steps[0])
	}
	if steps[1].Kind != StepTool || steps[1].ToolName != "read_file" {
		t.Errorf("step 1 should be the read_file call, got %+v", steps[1])
	}
	if steps[2].Kind != StepReasoning || steps[2].Content != "Now I need to check the tests." {
		t.Errorf("reasoning after a tool starts a new step, got %+v", steps[2])
	}
	if steps[3].ToolError != "denied by user" {
		t.Errorf("tool error not recorded: %+v", steps[3])
	}
}

func TestLedgerConsecutiveToolsNeverMerge(t *testing.T) {
	l := NewLedger()
	l.AppendTool("bash", `{"command":"ls"}`, "a.txt", "")
	l.AppendTool("bash", `{"command":"pwd"}`, "/work", "")

	if l.Len() != 2 {
		t.Fatalf("consecutive tool calls must stay separate steps, got %d", l.Len())
	}
}

func TestLedgerEmptyReasoningIgnored(t *testing.T) {
	l := NewLedger()
	l.AppendReasoning("")
	if l.Len() != 0 {
		t.Fatalf("empty reasoning must not create a step, got %d", l.Len())
	}
}
