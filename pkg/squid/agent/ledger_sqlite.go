package agent

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// StoredMessage is one conversation message as persisted, including its
// replayed thinking steps.
type StoredMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Steps     []ThinkingStep `json:"thinking_steps,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LedgerStore persists messages and their thinking-step ledgers.
type LedgerStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLedgerStore(db *sql.DB, logger *slog.Logger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger.With("component", "ledger_store")}
}

// SaveMessage inserts a message row. Steps are flushed separately so a turn
// can persist its ledger atomically at the end.
func (s *LedgerStore) SaveMessage(msg StoredMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// FlushSteps writes a message's thinking steps in a single transaction,
// preserving the ledger's step_order exactly as recorded.
func (s *LedgerStore) FlushSteps(messageID string, steps []ThinkingStep) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin step flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO thinking_steps
		(message_id, step_order, step_type, content, tool_name, tool_arguments, tool_result, tool_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range steps {
		if _, err := stmt.Exec(messageID, st.Order, string(st.Kind),
			st.Content, st.ToolName, st.ToolArguments, st.ToolResult, st.ToolError); err != nil {
			return fmt.Errorf("insert step %d: %w", st.Order, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit step flush: %w", err)
	}
	return nil
}

// LoadSteps returns a message's thinking steps ordered by step_order. When
// the message predates the ledger and has no step rows, the flat reasoning
// and tool_calls columns are reconstructed into a lossy two-step sequence.
func (s *LedgerStore) LoadSteps(messageID string) ([]ThinkingStep, error) {
	rows, err := s.db.Query(`SELECT step_order, step_type, content, tool_name, tool_arguments, tool_result, tool_error
		FROM thinking_steps WHERE message_id = ? ORDER BY step_order ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	var steps []ThinkingStep
	for rows.Next() {
		var st ThinkingStep
		var kind string
		if err := rows.Scan(&st.Order, &kind, &st.Content, &st.ToolName, &st.ToolArguments, &st.ToolResult, &st.ToolError); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Kind = StepKind(kind)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	if len(steps) > 0 {
		return steps, nil
	}
	return s.legacySteps(messageID)
}

// legacySteps reconstructs an approximate ledger from the flat reasoning and
// tool_calls columns. Interleaving is lost: all reasoning becomes step 0 and
// each recorded call follows in stored order.
func (s *LedgerStore) legacySteps(messageID string) ([]ThinkingStep, error) {
	var reasoning, toolCalls string
	err := s.db.QueryRow(`SELECT reasoning, tool_calls FROM messages WHERE id = ?`, messageID).
		Scan(&reasoning, &toolCalls)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load legacy fields: %w", err)
	}

	var steps []ThinkingStep
	order := 0
	if reasoning != "" {
		steps = append(steps, ThinkingStep{Order: order, Kind: StepReasoning, Content: reasoning})
		order++
	}
	if toolCalls != "" {
		var calls []struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
			Result    string          `json:"result"`
			Error     string          `json:"error"`
		}
		if err := json.Unmarshal([]byte(toolCalls), &calls); err != nil {
			s.logger.Warn("unreadable legacy tool_calls", "message_id", messageID, "error", err)
			return steps, nil
		}
		for _, c := range calls {
			steps = append(steps, ThinkingStep{
				Order:         order,
				Kind:          StepTool,
				ToolName:      c.Name,
				ToolArguments: string(c.Arguments),
				ToolResult:    c.Result,
				ToolError:     c.Error,
			})
			order++
		}
	}
	return steps, nil
}

// History returns a session's messages with their replayed steps, oldest
// first.
func (s *LedgerStore) History(sessionID string) ([]StoredMessage, error) {
	rows, err := s.db.Query(`SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i := range msgs {
		steps, err := s.LoadSteps(msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].Steps = steps
	}
	return msgs, nil
}

// Sessions returns the distinct session IDs present in the store, most
// recently active first.
func (s *LedgerStore) Sessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id, MAX(created_at) AS last
		FROM messages GROUP BY session_id ORDER BY last DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, last string
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneBefore deletes messages (and their steps) older than the cutoff.
// Used by the retention job.
func (s *LedgerStore) PruneBefore(cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM thinking_steps WHERE message_id IN
		(SELECT id FROM messages WHERE created_at < ?)`, ts); err != nil {
		return 0, fmt.Errorf("prune steps: %w", err)
	}
	res, err := s.db.Exec(`DELETE FROM messages WHERE created_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LoadPermissionRules returns the persisted rules for a session in insertion
// order.
func (s *LedgerStore) LoadPermissionRules(sessionID string) ([]PermissionRule, error) {
	rows, err := s.db.Query(`SELECT scope, effect FROM permission_rules
		WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load permission rules: %w", err)
	}
	defer rows.Close()

	var rules []PermissionRule
	for rows.Next() {
		var r PermissionRule
		var effect string
		if err := rows.Scan(&r.Scope, &effect); err != nil {
			return nil, fmt.Errorf("scan permission rule: %w", err)
		}
		r.Effect = Effect(effect)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SavePermissionRule persists an "always allow/deny" choice for a session.
func (s *LedgerStore) SavePermissionRule(sessionID string, rule PermissionRule) error {
	_, err := s.db.Exec(`INSERT INTO permission_rules (session_id, scope, effect, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, rule.Scope, string(rule.Effect), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save permission rule: %w", err)
	}
	return nil
}
