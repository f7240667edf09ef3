package orchestrator

import (
	"regexp"
	"strings"
)

// Signals is the small set of boolean/integer features scanned from a query
// and its SessionContext that drive both ShouldActivate and SelectMode,
// matching original_source/rlm-core/src/orchestrator.rs's
// TaskComplexitySignals (complexity.rs itself was not present in the
// retrieval pack, so the keyword lists below are this module's own
// reconstruction from spec.md §4.1's prose, not a port).
type Signals struct {
	Score                    int
	UserWantsFast            bool
	UserWantsThorough        bool
	ArchitectureAnalysis     bool
	RequiresExhaustiveSearch bool
	DebuggingTask            bool
	MultiFile                bool
}

// hasStrongSignal mirrors TaskComplexitySignals::has_strong_signal: any one
// of these alone is enough to treat the query as non-trivial regardless of
// the aggregate score.
func (s Signals) hasStrongSignal() bool {
	return s.ArchitectureAnalysis || s.RequiresExhaustiveSearch || s.DebuggingTask || s.MultiFile
}

var (
	fastWords      = []string{"fast", "quick", "quickly", "just tell me", "briefly"}
	thoroughWords  = []string{"thorough", "thoroughly", "exhaustive", "comprehensive", "in depth", "in-depth", "be complete"}
	architectureRe = regexp.MustCompile(`(?i)\b(architecture|system design|end-to-end|how (does|do) .* (work|fit together))\b`)
	exhaustiveRe   = regexp.MustCompile(`(?i)\b(every (occurrence|instance|usage)|find all|search the entire|across the codebase)\b`)
	debugRe        = regexp.MustCompile(`(?i)\b(debug|trace through|root cause|why is .* (failing|broken)|stack ?trace|traceback)\b`)
	auditWords     = []string{"audit", "security review", "vulnerab", "design review", "investigate"}
)

func containsAny(lc string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lc, w) {
			return true
		}
	}
	return false
}

// scanSignals scans query and ctx for the keyword/structural features
// spec.md §4.1 step 1 lists as activation and mode-selection inputs.
func scanSignals(query string, ctx *SessionContext) Signals {
	lc := strings.ToLower(query)
	s := Signals{
		UserWantsFast:            containsAny(lc, fastWords),
		UserWantsThorough:        containsAny(lc, thoroughWords),
		ArchitectureAnalysis:     architectureRe.MatchString(query),
		RequiresExhaustiveSearch: exhaustiveRe.MatchString(query),
		DebuggingTask:            debugRe.MatchString(query),
	}
	if ctx != nil {
		s.MultiFile = ctx.FileCount() >= 2 || ctx.SpansMultipleDirectories()
	}

	score := 0
	if s.ArchitectureAnalysis {
		score += 3
	}
	if s.RequiresExhaustiveSearch {
		score += 3
	}
	if s.DebuggingTask {
		score += 2
	}
	if s.MultiFile {
		score += 2
	}
	if containsAny(lc, auditWords) {
		score += 2
	}
	if ctx != nil && ctx.TotalMessageTokens() > 2000 {
		score++
	}
	s.Score = score
	return s
}

// ActivationDecision is the result of ShouldActivate: whether the recursive
// machinery engages at all, and why (spec.md §4.1 step 1).
type ActivationDecision struct {
	Activate bool
	Score    int
	Reason   string
}

// ShouldActivate is a pure, synchronous gate run before any LLM call or
// budget reservation: trivial queries ("what is 2+2?") pass straight
// through to a single plain completion, never touching the recursion
// machinery (spec.md §4.1 step 1, scenario 1).
func ShouldActivate(query string, ctx *SessionContext) ActivationDecision {
	s := scanSignals(query, ctx)
	switch {
	case s.hasStrongSignal():
		return ActivationDecision{Activate: true, Score: s.Score, Reason: "strong complexity signal detected"}
	case s.Score >= 1:
		return ActivationDecision{Activate: true, Score: s.Score, Reason: "complexity score above trivial threshold"}
	default:
		return ActivationDecision{Activate: false, Score: s.Score, Reason: "no complexity signal detected"}
	}
}
