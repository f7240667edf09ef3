package orchestrator

import "rlm/internal/budget"

// RecursiveResult is the outcome of one node in the recursive call tree,
// matching original_source/rlm-core/src/orchestrator.rs's RecursiveResult
// field-for-field.
type RecursiveResult struct {
	Content     string
	Depth       uint32
	UsedRepl    bool
	TokensUsed  uint64
	CostUSD     float64
}

// RunResult is the outcome of a complete Run call: either a final answer or
// an early abort, plus the budget state at the end of the run.
type RunResult struct {
	Content     string
	Mode        Mode
	Aborted     bool
	AbortReason string
	Budget      budget.State
}
