package orchestrator

// Mode is an execution mode, a named point on the depth/cost budget curve
// (spec.md §4.1, original_source/rlm-core/src/orchestrator.rs's
// ExecutionMode).
type Mode string

const (
	ModeMicro    Mode = "micro"
	ModeFast     Mode = "fast"
	ModeBalanced Mode = "balanced"
	ModeThorough Mode = "thorough"
)

// ModeProfile is the static per-mode budget table, values ported verbatim
// from original_source's typical_budget_usd/max_depth.
type ModeProfile struct {
	Mode                  Mode
	MaxDepth              uint32
	TypicalCostBudgetUSD  float64
}

var modeTable = map[Mode]ModeProfile{
	ModeMicro:    {Mode: ModeMicro, MaxDepth: 1, TypicalCostBudgetUSD: 0.01},
	ModeFast:     {Mode: ModeFast, MaxDepth: 2, TypicalCostBudgetUSD: 0.05},
	ModeBalanced: {Mode: ModeBalanced, MaxDepth: 3, TypicalCostBudgetUSD: 0.25},
	ModeThorough: {Mode: ModeThorough, MaxDepth: 5, TypicalCostBudgetUSD: 1.00},
}

// SelectMode implements ExecutionMode::from_signals's exact override
// priority, confirmed against original_source's
// test_execution_mode_user_override: an explicit "fast" request always
// wins, even over signals that would otherwise force "thorough". Only once
// neither override applies does the aggregate Score pick a band, biased
// toward the cheaper mode on a tie (a score of exactly 5 lands in Balanced,
// not Thorough, since Thorough is reachable only via an explicit signal).
func SelectMode(s Signals) ModeProfile {
	if s.UserWantsFast {
		return modeTable[ModeFast]
	}
	if s.UserWantsThorough || s.ArchitectureAnalysis || s.RequiresExhaustiveSearch {
		return modeTable[ModeThorough]
	}
	switch {
	case s.Score >= 5:
		return modeTable[ModeBalanced]
	case s.Score >= 2:
		return modeTable[ModeFast]
	default:
		return modeTable[ModeMicro]
	}
}
