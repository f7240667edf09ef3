package epistemic

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubRedactsEvidenceSpans(t *testing.T) {
	out := Scrub("the key rotates every 47 hours, per policy", []string{"every 47 hours"})
	assert.NotContains(t, out, "47 hours")
	assert.Contains(t, out, "[REDACTED]")
}

// confirmIfContains simulates a verifier that confirms a claim only when
// its distinguishing fact is still present in the context it is shown.
func confirmIfContains(fact string) ConfirmerFunc {
	return func(_ context.Context, claim Claim, contextText string) (bool, error) {
		return strings.Contains(contextText, fact), nil
	}
}

func TestEvaluateGroundedWhenEvidenceDrivesConfirmation(t *testing.T) {
	claim := Claim{
		Text:        "the cache TTL is 300 seconds",
		Specificity: 0.5,
		Evidence:    []string{"300 seconds"},
	}
	gate := NewGate(confirmIfContains("300 seconds"), 8, 1.0)

	result, err := gate.Evaluate(context.Background(), claim, "the cache TTL is 300 seconds, configured in prod")
	require.NoError(t, err)
	assert.Equal(t, VerdictGrounded, result.Verdict)
	assert.LessOrEqual(t, result.Gap, 0.0)
}

func TestEvaluateUngroundedWhenNoInformationGain(t *testing.T) {
	claim := Claim{
		Text:        "the API key rotates every 47 hours",
		Specificity: 0.95,
		Evidence:    []string{"every 47 hours"},
	}
	// Always confirms regardless of context: p0 ≈ p1 ⇒ KL ≈ 0.
	gate := NewGate(ConfirmerFunc(func(context.Context, Claim, string) (bool, error) {
		return true, nil
	}), 8, 1.0)

	result, err := gate.Evaluate(context.Background(), claim, "the API key rotates every 47 hours")
	require.NoError(t, err)
	assert.Equal(t, VerdictUngrounded, result.Verdict)
}

func TestEvaluateIdempotentUpToSamplingNoise(t *testing.T) {
	claim := Claim{Text: "x", Specificity: 0.5, Evidence: []string{"fact"}}
	gate := NewGate(confirmIfContains("fact"), 20, 1.0)

	r1, err := gate.Evaluate(context.Background(), claim, "fact present here")
	require.NoError(t, err)
	r2, err := gate.Evaluate(context.Background(), claim, "fact present here")
	require.NoError(t, err)

	assert.Equal(t, r1.Verdict, r2.Verdict)
}
