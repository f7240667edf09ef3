// Package epistemic implements the KL-divergence toolkit and Epistemic Gate
// (spec.md §4.4), grounded on original_source/rlm-core/src/epistemic/kl.rs.
package epistemic

import "math"

const (
	epsilon = 1e-10
	ln2     = math.Ln2
	minSpec = 0.01
	maxSpec = 0.99
	maxBits = 6.643856 // -log2(1 - 0.99)
)

func clampProb(p float64) float64 {
	if p < epsilon {
		return epsilon
	}
	if p > 1-epsilon {
		return 1 - epsilon
	}
	return p
}

// BernoulliKLBits computes KL(p || q) for two Bernoulli parameters, in bits.
func BernoulliKLBits(p, q float64) float64 {
	p, q = clampProb(p), clampProb(q)
	return (p*math.Log2(p/q) + (1-p)*math.Log2((1-p)/(1-q)))
}

// BernoulliKLNats is BernoulliKLBits expressed in nats.
func BernoulliKLNats(p, q float64) float64 {
	return BernoulliKLBits(p, q) * ln2
}

// BinaryEntropyBits is the Shannon entropy of a Bernoulli(p) variable, bits.
func BinaryEntropyBits(p float64) float64 {
	p = clampProb(p)
	return -(p*math.Log2(p) + (1-p)*math.Log2(1-p))
}

// BinaryEntropyNats is BinaryEntropyBits expressed in nats.
func BinaryEntropyNats(p float64) float64 {
	return BinaryEntropyBits(p) * ln2
}

// CrossEntropyBits computes the cross entropy H(p, q) in bits.
func CrossEntropyBits(p, q float64) float64 {
	p, q = clampProb(p), clampProb(q)
	return -(p*math.Log2(q) + (1-p)*math.Log2(1-q))
}

// SurpriseBits is -log2(p), the information content of observing an event
// with probability p.
func SurpriseBits(p float64) float64 {
	p = clampProb(p)
	return -math.Log2(p)
}

// RequiredBitsForSpecificity computes -log2(1-s), the evidence a claim of
// specificity s requires before it is considered grounded, clamped to
// s ∈ [0.01, 0.99] so the result never exceeds maxBits (spec.md §4.4 step 4:
// "required_bits clamped to [0, ≈6.6]").
func RequiredBitsForSpecificity(s float64) float64 {
	if s < minSpec {
		s = minSpec
	}
	if s > maxSpec {
		s = maxSpec
	}
	return -math.Log2(1 - s)
}

// Probability is a sampled Bernoulli parameter with sampling bounds,
// carried through KL computation so uncertainty propagates rather than
// collapsing to a point estimate (design note §9's "gate sampling is
// stochastic" requirement).
type Probability struct {
	Lower    float64
	Estimate float64
	Upper    float64
}

// KLInterval is an interval-bounded KL-bits estimate.
type KLInterval struct {
	Estimate float64
	Lower    float64
	Upper    float64
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// KLIntervalFrom computes KL(posterior || prior) propagating sampling
// bounds: the interval's lower bound comes from the most pessimistic pairing
// of bounds (posterior.Lower against prior.Upper) and vice versa.
func KLIntervalFrom(posterior, prior Probability) KLInterval {
	return KLInterval{
		Estimate: BernoulliKLBits(posterior.Estimate, prior.Estimate),
		Lower:    floorZero(BernoulliKLBits(posterior.Lower, prior.Upper)),
		Upper:    floorZero(BernoulliKLBits(posterior.Upper, prior.Lower)),
	}
}

func (i KLInterval) Point() float64        { return i.Estimate }
func (i KLInterval) Uncertainty() float64  { return i.Upper - i.Lower }
func (i KLInterval) ContainsZero() bool    { return i.Lower <= 0 && 0 <= i.Upper }
func (i KLInterval) Conservative() float64 { return i.Lower }
func (i KLInterval) Aggressive() float64   { return i.Upper }

// MutualInformationBits approximates the information gain from observing
// evidence that moves belief from p_prior to p_posterior, floored at 0.
func MutualInformationBits(pPrior, pPosterior float64) float64 {
	return floorZero(BinaryEntropyBits(pPrior) - BinaryEntropyBits(pPosterior))
}

// AggregateEvidenceBits sums independent evidence spans' KL-bits.
func AggregateEvidenceBits(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}

// AggregateEvidenceBitsWithCorrelation discounts the naive sum toward the
// single strongest piece of evidence as correlation between evidence spans
// increases, per original_source's aggregate_evidence_bits_with_correlation.
func AggregateEvidenceBitsWithCorrelation(values []float64, correlation float64) float64 {
	if len(values) <= 1 {
		return AggregateEvidenceBits(values)
	}
	sum := AggregateEvidenceBits(values)
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return (1-correlation)*sum + correlation*max
}

// JeffreysDivergenceBits is the symmetrized KL(p||q) + KL(q||p).
func JeffreysDivergenceBits(p, q float64) float64 {
	return BernoulliKLBits(p, q) + BernoulliKLBits(q, p)
}

// JensenShannonBits is the Jensen-Shannon divergence between two Bernoulli
// parameters, bounded in [0, 1] and symmetric.
func JensenShannonBits(p, q float64) float64 {
	m := (p + q) / 2
	return 0.5*BernoulliKLBits(p, m) + 0.5*BernoulliKLBits(q, m)
}
