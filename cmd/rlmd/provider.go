package main

import (
	"context"
	"fmt"
	"strings"

	"rlm/internal/epistemic"
	"rlm/internal/llm"
)

// stubProvider is a placeholder llm.Provider: no concrete vendor adapter is
// in scope here (spec.md §1), so this binary ships with a deterministic
// stand-in that lets the orchestrator's wiring, directive parsing, and
// trajectory events all be exercised end to end without a network call. A
// real deployment supplies its own llm.Provider (an HTTP client against
// whichever model API it runs against) to orchestrator.New in its place.
type stubProvider struct{}

func (stubProvider) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	answer := fmt.Sprintf("no model is configured for %q; this is the rlmd stub provider's echo", firstLine(last))
	return llm.CompletionResult{
		Message: llm.Message{Role: "assistant", Content: answer},
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

// stubConfirmer answers every epistemic confirmation with "no evidence", so
// the gate's default behavior with the stub provider is to reject rather
// than silently admit everything at full confidence.
type stubConfirmer struct{}

func (stubConfirmer) Confirm(context.Context, epistemic.Claim, string) (bool, error) {
	return false, nil
}

func stubModels() []llm.ModelEntry {
	return []llm.ModelEntry{
		{ID: "stub-fast", Provider: "stub", Tier: llm.TierFast, CostPer1K: 0.0005},
		{ID: "stub-balanced", Provider: "stub", Tier: llm.TierBalanced, CostPer1K: 0.003},
		{ID: "stub-flagship", Provider: "stub", Tier: llm.TierFlagship, CostPer1K: 0.015},
	}
}
