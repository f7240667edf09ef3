package epistemic

import (
	"context"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Verdict is the gate's decision on a candidate claim (spec.md §4.4 step 6).
type Verdict string

const (
	VerdictGrounded   Verdict = "grounded"
	VerdictUngrounded Verdict = "ungrounded"
	VerdictUncertain  Verdict = "uncertain"
)

// Claim is a candidate fact the gate screens before it may reach long-term
// memory (spec.md §3).
type Claim struct {
	Text        string
	Specificity float64
	Category    string
	Evidence    []string
}

// BudgetResult pairs a claim with its observed/required bits and verdict.
type BudgetResult struct {
	Claim        Claim
	ObservedBits KLInterval
	RequiredBits float64
	Gap          float64
	Verdict      Verdict
	// Confidence is the attenuation applied to an uncertain claim admitted
	// at task tier: exp(-gap).
	Confidence float64
}

// Confirmer asks a language model (or a cheaper verifier) whether it would
// restate/confirm claim given context, returning true on confirmation. The
// gate calls it n_samples times per context variant to estimate a Bernoulli
// parameter with sampling bounds.
type Confirmer interface {
	Confirm(ctx context.Context, claim Claim, contextText string) (bool, error)
}

// ConfirmerFunc adapts a plain function to Confirmer.
type ConfirmerFunc func(ctx context.Context, claim Claim, contextText string) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, claim Claim, contextText string) (bool, error) {
	return f(ctx, claim, contextText)
}

// Gate implements the epistemic screening procedure.
type Gate struct {
	Confirmer  Confirmer
	NSamples   int
	TauReject  float64
}

func NewGate(c Confirmer, nSamples int, tauReject float64) *Gate {
	if nSamples <= 0 {
		nSamples = 5
	}
	return &Gate{Confirmer: c, NSamples: nSamples, TauReject: tauReject}
}

// Scrub produces an evidence-masked variant of context by redacting every
// evidence span (spec.md §4.4 step 1).
func Scrub(contextText string, evidence []string) string {
	scrubbed := contextText
	for _, span := range evidence {
		if span == "" {
			continue
		}
		scrubbed = strings.ReplaceAll(scrubbed, span, "[REDACTED]")
	}
	return scrubbed
}

// sampleProbability calls confirm n times and returns a Wilson-interval
// bounded Bernoulli estimate, giving Probability.Lower/Upper the sampling
// bounds design note §9 requires the gate to carry forward.
func sampleProbability(ctx context.Context, confirm func(context.Context) (bool, error), n int) (Probability, error) {
	successes := 0
	for i := 0; i < n; i++ {
		ok, err := confirm(ctx)
		if err != nil {
			return Probability{}, err
		}
		if ok {
			successes++
		}
	}
	p := float64(successes) / float64(n)
	lower, upper := wilsonInterval(p, n)
	return Probability{Lower: lower, Estimate: p, Upper: upper}, nil
}

// wilsonInterval computes a 95% Wilson score interval for a binomial
// proportion, avoiding the boundary degeneracies of a normal approximation
// at p near 0 or 1 — exactly where claim confirmation tends to land.
func wilsonInterval(p float64, n int) (lower, upper float64) {
	if n == 0 {
		return 0, 1
	}
	const z = 1.96
	nf := float64(n)
	denom := 1 + z*z/nf
	center := p + z*z/(2*nf)
	margin := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf))
	lower = (center - margin) / denom
	upper = (center + margin) / denom
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

// Evaluate runs the full procedure of spec.md §4.4 for one claim and
// returns its BudgetResult. p0 (scrubbed) and p1 (full context) are sampled
// concurrently via errgroup, matching the teacher's errgroup-parallel
// two-stage pipeline pattern.
func (g *Gate) Evaluate(ctx context.Context, claim Claim, contextText string) (BudgetResult, error) {
	scrubbed := Scrub(contextText, claim.Evidence)

	var p0, p1 Probability
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		p, err := sampleProbability(egCtx, func(c context.Context) (bool, error) {
			return g.Confirmer.Confirm(c, claim, scrubbed)
		}, g.NSamples)
		if err != nil {
			return err
		}
		p0 = p
		return nil
	})
	eg.Go(func() error {
		p, err := sampleProbability(egCtx, func(c context.Context) (bool, error) {
			return g.Confirmer.Confirm(c, claim, contextText)
		}, g.NSamples)
		if err != nil {
			return err
		}
		p1 = p
		return nil
	})
	if err := eg.Wait(); err != nil {
		return BudgetResult{}, err
	}

	observed := KLIntervalFrom(p1, p0)
	required := RequiredBitsForSpecificity(claim.Specificity)
	gap := required - observed.Estimate

	result := BudgetResult{
		Claim:        claim,
		ObservedBits: observed,
		RequiredBits: required,
		Gap:          gap,
	}

	switch {
	case gap <= 0:
		result.Verdict = VerdictGrounded
		result.Confidence = 1.0
	case gap > g.TauReject:
		result.Verdict = VerdictUngrounded
		result.Confidence = 0
	default:
		result.Verdict = VerdictUncertain
		result.Confidence = math.Exp(-gap)
	}
	return result, nil
}
