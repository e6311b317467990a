// Package agent – ledger.go implements the thinking-step ledger: the
// ordered, append-only record of reasoning and tool events for one turn.
// step_order is assigned by the ledger, never by callers, and is the only
// ordering signal needed to replay the turn's interleaving.
package agent

import "sync"

// StepKind discriminates ledger steps.
type StepKind string

const (
	StepReasoning StepKind = "reasoning"
	StepTool      StepKind = "tool"
)

// ThinkingStep is one entry in the ledger. Reasoning steps carry Content;
// tool steps carry the tool fields. Steps become immutable once the turn
// is flushed.
type ThinkingStep struct {
	Order         int      `json:"step_order"`
	Kind          StepKind `json:"step_type"`
	Content       string   `json:"content,omitempty"`
	ToolName      string   `json:"tool_name,omitempty"`
	ToolArguments string   `json:"tool_arguments,omitempty"`
	ToolResult    string   `json:"tool_result,omitempty"`
	ToolError     string   `json:"tool_error,omitempty"`
}

// Ledger accumulates the steps of the in-flight turn. Consecutive
// reasoning appends coalesce into a single step; a tool append always
// starts a new step boundary, even when reasoning resumes immediately
// after it.
type Ledger struct {
	mu    sync.Mutex
	steps []ThinkingStep
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// AppendReasoning adds reasoning text. If the most recent step is a
// reasoning step, the text merges into it; otherwise a new step opens.
func (l *Ledger) AppendReasoning(text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.steps); n > 0 && l.steps[n-1].Kind == StepReasoning {
		l.steps[n-1].Content += text
		return
	}
	l.steps = append(l.steps, ThinkingStep{
		Order:   len(l.steps),
		Kind:    StepReasoning,
		Content: text,
	})
}

// AppendTool records a completed tool invocation (success or error) as its
// own step.
func (l *Ledger) AppendTool(toolName, argumentsJSON, result, toolErr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, ThinkingStep{
		Order:         len(l.steps),
		Kind:          StepTool,
		ToolName:      toolName,
		ToolArguments: argumentsJSON,
		ToolResult:    result,
		ToolError:     toolErr,
	})
}

// Steps returns a snapshot copy in step order.
func (l *Ledger) Steps() []ThinkingStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ThinkingStep, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of steps recorded so far.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}
