// Package agent – events.go defines the outward event stream a turn emits
// to its caller (CLI REPL or SSE gateway). Events carry a per-turn sequence
// number and are delivered in strict chronological order matching the
// orchestrator's internal state transitions.
package agent

import "context"

// EventType discriminates outward events.
type EventType string

const (
	// EventSession opens the stream and carries session/turn identifiers.
	EventSession EventType = "session"

	// EventContent carries a plain assistant text delta, emitted as soon
	// as tokens arrive.
	EventContent EventType = "content"

	// EventApprovalRequest asks the human to approve a tool call; the
	// turn is suspended until the approval is resolved.
	EventApprovalRequest EventType = "approval_request"

	// EventToolResult reports a completed (or failed) tool execution.
	EventToolResult EventType = "tool_result"

	// EventUsage reports the turn's aggregated token usage.
	EventUsage EventType = "usage"

	// EventError reports an unrecoverable stream failure.
	EventError EventType = "error"

	// EventDone closes the stream. Emitted exactly once per turn, even
	// after an error.
	EventDone EventType = "done"
)

// Event is one outward stream event.
type Event struct {
	Type EventType `json:"type"`
	Seq  int64     `json:"seq"`
	Data any       `json:"data,omitempty"`
}

// SessionData is the payload of EventSession.
type SessionData struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
}

// ContentData is the payload of EventContent.
type ContentData struct {
	Text string `json:"text"`
}

// ApprovalRequestData is the payload of EventApprovalRequest.
type ApprovalRequestData struct {
	ApprovalID  string         `json:"approval_id"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	Description string         `json:"description"`
}

// ToolResultData is the payload of EventToolResult.
type ToolResultData struct {
	ApprovalID string `json:"approval_id,omitempty"`
	ToolName   string `json:"tool_name"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Message string `json:"message"`
}

// TurnHandle is the caller's view of a running turn: an ordered event
// channel and a cancel function. Cancelling at any point transitions the
// turn to Aborted; partial content already emitted is preserved and any
// open approval fails closed.
type TurnHandle struct {
	TurnID    string
	SessionID string
	Events    <-chan Event
	Cancel    context.CancelFunc
}

// eventEmitter assigns sequence numbers and forwards events to the
// handle's channel. Emission is single-goroutine (the turn goroutine), so
// ordering follows state transitions by construction.
type eventEmitter struct {
	ch  chan Event
	seq int64
}

func newEventEmitter(buffer int) *eventEmitter {
	return &eventEmitter{ch: make(chan Event, buffer)}
}

// emit sends one event. Delivery blocks the turn until the consumer
// drains it, which keeps outward order strict and applies natural
// backpressure to provider consumption.
func (em *eventEmitter) emit(ctx context.Context, typ EventType, data any) {
	em.seq++
	select {
	case em.ch <- Event{Type: typ, Seq: em.seq, Data: data}:
	case <-ctx.Done():
	}
}

// tryEmit sends without blocking. Used on abort paths where the consumer
// may already be gone; losing the event there is acceptable.
func (em *eventEmitter) tryEmit(typ EventType, data any) {
	em.seq++
	select {
	case em.ch <- Event{Type: typ, Seq: em.seq, Data: data}:
	default:
	}
}

// close ends the stream. No events may be emitted afterwards.
func (em *eventEmitter) close() {
	close(em.ch)
}
