// Package agent implements the Squid tool-call mediation engine: the policy
// engine that decides whether a requested tool action may be offered for
// approval, the approval broker that suspends a turn until a human decides,
// the streaming orchestrator that interleaves model text, reasoning and tool
// round-trips into one logical turn, and the thinking-step ledger that
// records the exact temporal order of reasoning and tool events.
package agent

import "encoding/json"

// ToolInvocation is a single tool call requested by the model. It is born
// when the provider stream yields a function-call event and dies once its
// thinking step has been appended — it never outlives one turn.
type ToolInvocation struct {
	ToolName  string
	Arguments map[string]any
	SessionID string
	TurnID    string

	// CallID is the provider-assigned tool call ID, echoed back in the
	// tool-result message so the provider can correlate them.
	CallID string
}

// ArgumentsJSON returns the arguments re-encoded as canonical JSON for
// persistence and audit summaries.
func (inv ToolInvocation) ArgumentsJSON() string {
	if len(inv.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(inv.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// PrimaryArgument returns the argument a permission scope qualifier is
// matched against: the command for shell tools, the path for filesystem
// tools, empty otherwise.
func (inv ToolInvocation) PrimaryArgument() string {
	if kind, ok := KindForName(inv.ToolName); ok {
		switch {
		case kind.IsShell():
			cmd, _ := inv.Arguments["command"].(string)
			return cmd
		case kind.IsFilesystem():
			path, _ := inv.Arguments["path"].(string)
			return path
		}
	}
	return ""
}

// DecisionKind is the outcome class of a policy evaluation.
type DecisionKind int

const (
	// NeedsApproval means no rule decided the call; a human must.
	NeedsApproval DecisionKind = iota

	// AutoAllowed means a matching allow rule permits immediate execution.
	AutoAllowed

	// AutoDenied means the call is refused without ever surfacing an
	// approval prompt. The reason is relayed to the model as a tool error.
	AutoDenied
)

// String implements fmt.Stringer for logs and audit rows.
func (k DecisionKind) String() string {
	switch k {
	case AutoAllowed:
		return "auto_allowed"
	case AutoDenied:
		return "auto_denied"
	default:
		return "needs_approval"
	}
}

// PolicyDecision is the result of evaluating a tool invocation. Computed
// fresh for every request; never cached, because arguments vary per call.
type PolicyDecision struct {
	Kind DecisionKind

	// Reason is a human-readable denial reason, set only for AutoDenied.
	Reason string
}
