// Package agent – usage.go accumulates token usage across every provider
// round-trip within one logical turn (a turn with N tool calls makes N+1
// provider calls).
package agent

// TokenUsage counts tokens for one provider round-trip or one whole turn.
type TokenUsage struct {
	Input     int64 `json:"input"`
	Output    int64 `json:"output"`
	Reasoning int64 `json:"reasoning"`
	Cache     int64 `json:"cache"`
}

// Add folds another usage record into the accumulator.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Reasoning += other.Reasoning
	u.Cache += other.Cache
}

// Total returns the sum of all counters.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.Reasoning + u.Cache
}

// IsZero reports whether nothing was counted.
func (u TokenUsage) IsZero() bool {
	return u.Input == 0 && u.Output == 0 && u.Reasoning == 0 && u.Cache == 0
}
