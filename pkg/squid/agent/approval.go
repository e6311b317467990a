// Package agent – approval.go implements the approval broker. When policy
// returns NeedsApproval, the orchestrator registers a pending approval and
// parks the turn on its decision channel; a resolve call arriving on a
// separate connection delivers exactly one decision and unblocks the turn.
//
// Invariants:
//   - At most one open approval per (session, turn). A second Request for
//     the same turn is a programming error, not a runtime condition.
//   - Resolve is idempotent-once: the second resolution of the same ID
//     fails and never mutates the permission store twice.
//   - There is no timeout. An unresolved approval suspends the turn until
//     it is resolved or the client disconnects, in which case the
//     orchestrator fails closed (rejects) via AbortPending.
package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalDecision is the human's answer to a pending approval.
type ApprovalDecision struct {
	Approved bool

	// Persist records the decision as a permission rule so identical
	// requests in this session skip the prompt.
	Persist bool

	// Scope overrides the persisted rule's scope. Empty means the bare
	// tool name.
	Scope string
}

// PendingApproval is one tool call waiting for a human decision. It lives
// from the NeedsApproval outcome until exactly one resolution.
type PendingApproval struct {
	ID          string
	Invocation  ToolInvocation
	Description string
	CreatedAt   time.Time

	// store is the owning session's permission store; Resolve writes the
	// persisted rule here before unblocking the turn so the next policy
	// check observes it.
	store *PermissionStore

	// decision is buffered so Resolve never blocks on a departed waiter.
	decision chan ApprovalDecision
	resolved bool
}

// ApprovalBroker tracks pending approvals across sessions.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval // approval ID → pending
	byTurn  map[string]string           // sessionID+"\x00"+turnID → approval ID
	logger  *slog.Logger
}

// NewApprovalBroker creates an empty broker.
func NewApprovalBroker(logger *slog.Logger) *ApprovalBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalBroker{
		pending: make(map[string]*PendingApproval),
		byTurn:  make(map[string]string),
		logger:  logger.With("component", "approval_broker"),
	}
}

// Request registers a pending approval for the invocation. It fails if an
// approval is already open for the same (session, turn) — the orchestrator
// serializes tool calls within a turn, so this indicates a bug upstream.
func (b *ApprovalBroker) Request(inv ToolInvocation, store *PermissionStore) (*PendingApproval, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	turnKey := inv.SessionID + "\x00" + inv.TurnID
	if existing, ok := b.byTurn[turnKey]; ok {
		return nil, fmt.Errorf("protocol violation: approval %s already pending for turn %s", existing, inv.TurnID)
	}

	pa := &PendingApproval{
		ID:          uuid.New().String(),
		Invocation:  inv,
		Description: DescribeInvocation(inv.ToolName, inv.Arguments),
		CreatedAt:   time.Now(),
		store:       store,
		decision:    make(chan ApprovalDecision, 1),
	}
	b.pending[pa.ID] = pa
	b.byTurn[turnKey] = pa.ID

	b.logger.Info("approval requested",
		"approval_id", pa.ID,
		"tool", inv.ToolName,
		"session", inv.SessionID,
		"turn", inv.TurnID,
	)
	return pa, nil
}

// Decision returns the channel the orchestrator parks on. Exactly one
// value is ever delivered.
func (pa *PendingApproval) Decision() <-chan ApprovalDecision {
	return pa.decision
}

// Resolve delivers the decision for an approval. sessionID must match the
// session that created it. When persist is set, the rule is written to the
// session's permission store before the waiting turn is unblocked.
func (b *ApprovalBroker) Resolve(sessionID, approvalID string, decision ApprovalDecision) error {
	b.mu.Lock()
	pa, ok := b.pending[approvalID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("approval not found: %s", approvalID)
	}
	if pa.Invocation.SessionID != sessionID {
		b.mu.Unlock()
		return fmt.Errorf("approval %s does not belong to session %s", approvalID, sessionID)
	}
	if pa.resolved {
		b.mu.Unlock()
		return fmt.Errorf("approval already resolved: %s", approvalID)
	}
	pa.resolved = true
	b.remove(pa)
	b.mu.Unlock()

	if decision.Persist {
		scope := decision.Scope
		if scope == "" {
			scope = pa.Invocation.ToolName
		}
		effect := EffectAllow
		if !decision.Approved {
			effect = EffectDeny
		}
		if err := pa.store.Add(PermissionRule{Scope: scope, Effect: effect}); err != nil {
			b.logger.Warn("failed to persist permission rule",
				"scope", scope, "error", err)
		}
	}

	pa.decision <- decision
	b.logger.Info("approval resolved",
		"approval_id", approvalID,
		"approved", decision.Approved,
		"persisted", decision.Persist,
	)
	return nil
}

// AbortPending fails an approval closed: if it is still open, it is
// resolved as rejected without persisting anything. Used when the client
// disconnects while a turn is suspended. Safe to call for an approval that
// was already resolved.
func (b *ApprovalBroker) AbortPending(approvalID string) {
	b.mu.Lock()
	pa, ok := b.pending[approvalID]
	if !ok || pa.resolved {
		b.mu.Unlock()
		return
	}
	pa.resolved = true
	b.remove(pa)
	b.mu.Unlock()

	pa.decision <- ApprovalDecision{Approved: false}
	b.logger.Info("approval aborted (fail-closed)", "approval_id", approvalID)
}

// PendingForSession returns the open approval for a session, or nil.
func (b *ApprovalBroker) PendingForSession(sessionID string) *PendingApproval {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pa := range b.pending {
		if pa.Invocation.SessionID == sessionID {
			return pa
		}
	}
	return nil
}

// remove deletes bookkeeping for a pending approval. Caller holds b.mu.
func (b *ApprovalBroker) remove(pa *PendingApproval) {
	delete(b.pending, pa.ID)
	delete(b.byTurn, pa.Invocation.SessionID+"\x00"+pa.Invocation.TurnID)
}
