package agent

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// AuditEntry records one policy decision or tool execution.
type AuditEntry struct {
	SessionID     string    `json:"session_id,omitempty"`
	Tool          string    `json:"tool"`
	Decision      string    `json:"decision,omitempty"`
	Allowed       bool      `json:"allowed"`
	ArgsSummary   string    `json:"args_summary,omitempty"`
	ResultSummary string    `json:"result_summary,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditLogger appends mediation events to the audit_log table. Writes are
// best-effort: a failed audit insert is logged but never blocks a turn.
type AuditLogger struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuditLogger(db *sql.DB, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{db: db, logger: logger.With("component", "audit")}
}

// RecordDecision logs the policy outcome for an invocation.
func (a *AuditLogger) RecordDecision(inv ToolInvocation, decision PolicyDecision) {
	a.insert(AuditEntry{
		SessionID:   inv.SessionID,
		Tool:        inv.ToolName,
		Decision:    decision.Kind.String(),
		Allowed:     decision.Kind == AutoAllowed,
		ArgsSummary: truncateSummary(inv.PrimaryArgument()),
	})
}

// RecordExecution logs the result of an executed tool call.
func (a *AuditLogger) RecordExecution(inv ToolInvocation, result ToolResult) {
	summary := result.Content
	if result.Err != nil {
		summary = "error: " + result.Err.Error()
	}
	a.insert(AuditEntry{
		SessionID:     inv.SessionID,
		Tool:          inv.ToolName,
		Decision:      "executed",
		Allowed:       true,
		ArgsSummary:   truncateSummary(inv.PrimaryArgument()),
		ResultSummary: truncateSummary(summary),
	})
}

func (a *AuditLogger) insert(e AuditEntry) {
	_, err := a.db.Exec(`INSERT INTO audit_log
		(session_id, tool, decision, allowed, args_summary, result_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Tool, e.Decision, boolToInt(e.Allowed),
		e.ArgsSummary, e.ResultSummary, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		a.logger.Warn("audit insert failed", "tool", e.Tool, "error", err)
	}
}

// Recent returns the newest n audit entries.
func (a *AuditLogger) Recent(n int) ([]AuditEntry, error) {
	rows, err := a.db.Query(`SELECT session_id, tool, decision, allowed, args_summary, result_summary, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var allowed int
		var created string
		if err := rows.Scan(&e.SessionID, &e.Tool, &e.Decision, &allowed, &e.ArgsSummary, &e.ResultSummary, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Allowed = allowed != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes audit entries older than the cutoff.
func (a *AuditLogger) Prune(cutoff time.Time) (int64, error) {
	res, err := a.db.Exec(`DELETE FROM audit_log WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func truncateSummary(s string) string {
	const max = 300
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
