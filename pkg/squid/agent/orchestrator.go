// Package agent – orchestrator.go runs a turn end to end: provider
// streaming, reasoning-span parsing, policy checks, approval suspension,
// tool execution, and ledger persistence.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TurnState labels the orchestrator's position in a turn. States exist for
// observability; transitions are driven by the turn goroutine alone.
type TurnState string

const (
	StateIdle             TurnState = "idle"
	StateStreaming        TurnState = "streaming"
	StateToolRequested    TurnState = "tool_requested"
	StatePolicyCheck      TurnState = "policy_check"
	StateAwaitingApproval TurnState = "awaiting_approval"
	StateExecuting        TurnState = "executing"
	StateResuming         TurnState = "resuming"
	StateFinalizing       TurnState = "finalizing"
	StateDone             TurnState = "done"
	StateAborted          TurnState = "aborted"
	StateErrored          TurnState = "errored"
)

// maxRoundTrips caps provider round trips per turn so a model stuck in a
// tool loop cannot spin forever.
const maxRoundTrips = 32

// Orchestrator mediates every tool call a model makes: nothing executes
// without passing the policy engine, and anything the policy cannot decide
// waits for a human.
type Orchestrator struct {
	provider Provider
	policy   *PolicyEngine
	broker   *ApprovalBroker
	executor *ToolExecutor
	store    *LedgerStore // nil disables persistence
	audit    *AuditLogger // nil disables auditing
	sessions *SessionManager
	logger   *slog.Logger
}

func NewOrchestrator(provider Provider, policy *PolicyEngine, broker *ApprovalBroker,
	executor *ToolExecutor, store *LedgerStore, audit *AuditLogger,
	sessions *SessionManager, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		policy:   policy,
		broker:   broker,
		executor: executor,
		store:    store,
		audit:    audit,
		sessions: sessions,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Broker exposes the approval broker for transports that resolve approvals.
func (o *Orchestrator) Broker() *ApprovalBroker { return o.broker }

// Sessions exposes the session manager.
func (o *Orchestrator) Sessions() *SessionManager { return o.sessions }

// StartTurn begins a turn for the given session and user message. The
// returned handle streams events in order; Cancel aborts the turn at any
// point (open approvals fail closed).
func (o *Orchestrator) StartTurn(ctx context.Context, sessionID, userText string) (*TurnHandle, error) {
	session, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	turnID := uuid.NewString()
	if err := session.beginTurn(turnID); err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	em := newEventEmitter(32)
	handle := &TurnHandle{
		TurnID:    turnID,
		SessionID: sessionID,
		Events:    em.ch,
		Cancel:    cancel,
	}

	go o.runTurn(turnCtx, cancel, session, turnID, userText, em)
	return handle, nil
}

// Resolve forwards an approval decision to the broker.
func (o *Orchestrator) Resolve(sessionID, approvalID string, decision ApprovalDecision) error {
	return o.broker.Resolve(sessionID, approvalID, decision)
}

// Abort cancels the session's in-flight turn, if any.
func (o *Orchestrator) Abort(sessionID string) bool {
	session, ok := o.sessions.Peek(sessionID)
	if !ok || session.ActiveTurn() == "" {
		return false
	}
	if p := o.broker.PendingForSession(sessionID); p != nil {
		o.broker.AbortPending(p.ID)
	}
	// The turn goroutine observes the cancelled context; cancellation is
	// delivered through the handle, so the transport calls handle.Cancel.
	return true
}

// turnRun carries the mutable state of one running turn.
type turnRun struct {
	session *Session
	turnID  string
	ledger  *Ledger
	usage   TokenUsage
	content string
	state   TurnState
}

func (o *Orchestrator) runTurn(ctx context.Context, cancel context.CancelFunc,
	session *Session, turnID, userText string, em *eventEmitter) {
	defer cancel()

	run := &turnRun{
		session: session,
		turnID:  turnID,
		ledger:  NewLedger(),
		state:   StateStreaming,
	}
	logger := o.logger.With("session_id", session.ID, "turn_id", turnID)

	defer func() {
		// The ledger is flushed on every exit path, normal or not, so a
		// crash or abort never loses recorded steps.
		o.persistTurn(run, userText, logger)
		session.endTurn(turnID, run.usage)
		em.close()
	}()

	em.emit(ctx, EventSession, SessionData{SessionID: session.ID, TurnID: turnID})

	messages, err := o.conversation(session.ID, userText)
	if err != nil {
		run.state = StateErrored
		em.emit(ctx, EventError, ErrorData{Message: err.Error()})
		em.emit(ctx, EventDone, nil)
		return
	}

	finished := false
	for trip := 0; trip < maxRoundTrips; trip++ {
		call, err := o.streamRoundTrip(ctx, run, messages, em)
		if err != nil {
			if ctx.Err() != nil {
				run.state = StateAborted
				logger.Info("turn aborted")
				em.tryEmit(EventDone, nil)
				return
			}
			run.state = StateErrored
			logger.Error("round trip failed", "error", err)
			em.emit(ctx, EventError, ErrorData{Message: err.Error()})
			em.emit(ctx, EventDone, nil)
			return
		}
		if call == nil {
			finished = true
			break // final round trip: model finished with text
		}

		run.state = StateToolRequested
		toolMsg, aborted, err := o.handleToolCall(ctx, run, call, em, logger)
		if aborted {
			run.state = StateAborted
			em.tryEmit(EventDone, nil)
			return
		}
		if err != nil {
			run.state = StateErrored
			logger.Error("tool mediation failed", "error", err)
			em.emit(ctx, EventError, ErrorData{Message: err.Error()})
			em.emit(ctx, EventDone, nil)
			return
		}

		// Feed the call and its result back so the model can continue.
		assistant := ChatMessage{Role: "assistant"}
		assistant.ToolCalls = []ToolCall{call.asToolCall()}
		messages = append(messages, assistant, toolMsg)
		run.state = StateResuming
	}

	if !finished {
		// The model was still asking for tools when the cap ran out; the
		// truncation is reported, not hidden.
		run.state = StateErrored
		logger.Error("round trip cap reached", "cap", maxRoundTrips)
		em.emit(ctx, EventError, ErrorData{Message: fmt.Sprintf("turn stopped after %d tool round trips", maxRoundTrips)})
		em.emit(ctx, EventDone, nil)
		return
	}

	run.state = StateFinalizing
	em.emit(ctx, EventUsage, run.usage)
	run.state = StateDone
	em.emit(ctx, EventDone, nil)
}

// pendingCall is a fully assembled tool call awaiting mediation.
type pendingCall struct {
	id        string
	name      string
	arguments string
}

func (c *pendingCall) asToolCall() ToolCall {
	tc := ToolCall{ID: c.id, Type: "function"}
	tc.Function.Name = c.name
	tc.Function.Arguments = c.arguments
	return tc
}

// streamRoundTrip consumes one provider stream. Returns the assembled tool
// call if the model requested one, nil when the round trip ended with text
// only.
func (o *Orchestrator) streamRoundTrip(ctx context.Context, run *turnRun,
	messages []ChatMessage, em *eventEmitter) (*pendingCall, error) {
	run.state = StateStreaming
	stream, err := o.provider.Stream(ctx, messages, ToolDefinitions())
	if err != nil {
		return nil, err
	}

	parser := &ThinkParser{}
	var acc ToolCallAccumulator

	handleSegments := func(segs []StreamSegment) {
		for _, seg := range segs {
			if seg.Reasoning {
				run.ledger.AppendReasoning(seg.Text)
				continue
			}
			run.content += seg.Text
			em.emit(ctx, EventContent, ContentData{Text: seg.Text})
		}
	}

	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Usage != nil {
			run.usage.Add(*chunk.Usage)
		}
		if chunk.TextDelta != "" {
			handleSegments(parser.Feed(chunk.TextDelta))
		}
		if chunk.ToolCall != nil {
			// A tool call takes priority over an open reasoning span:
			// the span closes implicitly when the round trip ends.
			acc.Apply(*chunk.ToolCall)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	handleSegments(parser.Flush())

	if acc.Empty() {
		return nil, nil
	}
	id, name, arguments := acc.Call()
	return &pendingCall{id: id, name: name, arguments: arguments}, nil
}

// handleToolCall runs the mediation pipeline for one call: policy check,
// optional approval suspension, execution, ledger append, result event.
// Returns the tool message to feed back, whether the turn was aborted, and
// a non-nil error when the broker itself failed (a turn-fatal condition,
// not a tool error).
func (o *Orchestrator) handleToolCall(ctx context.Context, run *turnRun,
	call *pendingCall, em *eventEmitter, logger *slog.Logger) (ChatMessage, bool, error) {
	inv := ToolInvocation{
		ToolName:  call.name,
		SessionID: run.session.ID,
		TurnID:    run.turnID,
		CallID:    call.id,
	}
	if call.arguments != "" {
		if err := json.Unmarshal([]byte(call.arguments), &inv.Arguments); err != nil {
			// Malformed arguments are a tool error fed back to the model,
			// not a turn failure.
			result := ToolResult{Err: fmt.Errorf("invalid tool arguments: %w", err)}
			return o.finishCall(ctx, run, call, inv, "", result, em), false, nil
		}
	}

	run.state = StatePolicyCheck
	decision := o.policy.Evaluate(run.session.Store, inv)
	if o.audit != nil {
		o.audit.RecordDecision(inv, decision)
	}
	logger.Info("policy decision", "tool", inv.ToolName, "decision", decision.Kind.String())

	// approvalID stays empty for auto-resolved calls; only a human-mediated
	// call carries the broker's ID on its result event.
	var approvalID string

	switch decision.Kind {
	case AutoDenied:
		// Denied calls never reach the executor and never ask the human.
		result := ToolResult{Err: fmt.Errorf("denied by policy: %s", decision.Reason)}
		return o.finishCall(ctx, run, call, inv, "", result, em), false, nil

	case NeedsApproval:
		id, approved, aborted, err := o.awaitApproval(ctx, run, inv, em, logger)
		if aborted {
			return ChatMessage{}, true, nil
		}
		if err != nil {
			return ChatMessage{}, false, err
		}
		approvalID = id
		if !approved {
			result := ToolResult{Err: errUserDenied}
			return o.finishCall(ctx, run, call, inv, approvalID, result, em), false, nil
		}
	}

	run.state = StateExecuting
	result := o.executor.Execute(ctx, inv)
	if ctx.Err() != nil {
		return ChatMessage{}, true, nil
	}
	if o.audit != nil {
		o.audit.RecordExecution(inv, result)
	}
	return o.finishCall(ctx, run, call, inv, approvalID, result, em), false, nil
}

// awaitApproval parks the turn on the broker until the human resolves the
// request or the turn is cancelled. Cancellation fails closed: the pending
// approval is rejected and nothing executes.
func (o *Orchestrator) awaitApproval(ctx context.Context, run *turnRun,
	inv ToolInvocation, em *eventEmitter, logger *slog.Logger) (approvalID string, approved, aborted bool, err error) {
	run.state = StateAwaitingApproval
	pending, err := o.broker.Request(inv, run.session.Store)
	if err != nil {
		// A second open approval on the same turn is a programming error,
		// not a human decision; it fails the turn rather than masquerading
		// as a denial.
		logger.Error("approval request failed", "error", err)
		return "", false, false, fmt.Errorf("approval request: %w", err)
	}

	em.emit(ctx, EventApprovalRequest, ApprovalRequestData{
		ApprovalID:  pending.ID,
		ToolName:    inv.ToolName,
		Arguments:   inv.Arguments,
		Description: pending.Description,
	})

	select {
	case decision := <-pending.Decision():
		return pending.ID, decision.Approved, false, nil
	case <-ctx.Done():
		o.broker.AbortPending(pending.ID)
		// Drain the rejection the abort produced so the channel is settled.
		select {
		case <-pending.Decision():
		default:
		}
		logger.Info("approval abandoned, failing closed", "approval_id", pending.ID)
		return pending.ID, false, true, nil
	}
}

// errUserDenied marks a call the human explicitly rejected.
var errUserDenied = fmt.Errorf("denied by user")

// finishCall records the call in the ledger and emits its result event.
// approvalID is the broker's ID when a human resolved the call, empty
// otherwise; the provider's own call ID never leaves the process.
func (o *Orchestrator) finishCall(ctx context.Context, run *turnRun,
	call *pendingCall, inv ToolInvocation, approvalID string, result ToolResult, em *eventEmitter) ChatMessage {
	run.ledger.AppendTool(inv.ToolName, call.arguments, result.Content, errString(result.Err))
	em.emit(ctx, EventToolResult, ToolResultData{
		ApprovalID: approvalID,
		ToolName:   inv.ToolName,
		Result:     result.Content,
		Error:      errString(result.Err),
	})

	content := result.Content
	if result.Err != nil {
		content = "Error: " + result.Err.Error()
	}
	return ChatMessage{Role: "tool", ToolCallID: call.id, Content: content}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// conversation builds the provider message list: persisted history plus the
// new user message.
func (o *Orchestrator) conversation(sessionID, userText string) ([]ChatMessage, error) {
	messages := []ChatMessage{{Role: "system", Content: systemPrompt}}
	if o.store != nil {
		history, err := o.store.History(sessionID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, m := range history {
			if m.Role != "user" && m.Role != "assistant" {
				continue
			}
			messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return append(messages, ChatMessage{Role: "user", Content: userText}), nil
}

// persistTurn writes the user and assistant messages plus the step ledger.
func (o *Orchestrator) persistTurn(run *turnRun, userText string, logger *slog.Logger) {
	if o.store == nil {
		return
	}
	now := time.Now()
	userMsg := StoredMessage{
		ID:        uuid.NewString(),
		SessionID: run.session.ID,
		Role:      "user",
		Content:   userText,
		CreatedAt: now,
	}
	if err := o.store.SaveMessage(userMsg); err != nil {
		logger.Error("persisting user message failed", "error", err)
	}

	assistantID := uuid.NewString()
	assistantMsg := StoredMessage{
		ID:        assistantID,
		SessionID: run.session.ID,
		Role:      "assistant",
		Content:   run.content,
		CreatedAt: now.Add(time.Millisecond),
	}
	if err := o.store.SaveMessage(assistantMsg); err != nil {
		logger.Error("persisting assistant message failed", "error", err)
		return
	}
	if err := o.store.FlushSteps(assistantID, run.ledger.Steps()); err != nil {
		logger.Error("flushing thinking steps failed", "error", err)
	}
}

const systemPrompt = `You are Squid, a coding agent working inside a sandboxed workspace.
You can read, write, edit, list and search files, and run bash commands,
always restricted to the workspace root. Wrap private reasoning in
<think>...</think> tags; everything outside the tags is shown to the user.`
