package epistemic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBernoulliKLSameDistribution(t *testing.T) {
	assert.InDelta(t, 0, BernoulliKLBits(0.5, 0.5), 1e-9)
}

func TestBernoulliKLPositive(t *testing.T) {
	assert.Greater(t, BernoulliKLBits(0.9, 0.1), 0.0)
}

func TestBernoulliKLAsymmetric(t *testing.T) {
	a := BernoulliKLBits(0.9, 0.5)
	b := BernoulliKLBits(0.5, 0.9)
	assert.NotEqual(t, a, b)
}

func TestBinaryEntropyBoundaryIsZero(t *testing.T) {
	assert.InDelta(t, 0, BinaryEntropyBits(1-epsilon), 1e-6)
}

func TestBinaryEntropyMaxAtHalf(t *testing.T) {
	assert.InDelta(t, 1.0, BinaryEntropyBits(0.5), 1e-9)
}

func TestSurpriseBits(t *testing.T) {
	assert.InDelta(t, 1.0, SurpriseBits(0.5), 1e-9)
}

func TestRequiredBitsForSpecificity(t *testing.T) {
	assert.InDelta(t, -math.Log2(1-0.8), RequiredBitsForSpecificity(0.8), 1e-9)
	// clamp high end: specificity above maxSpec saturates at maxBits
	assert.InDelta(t, maxBits, RequiredBitsForSpecificity(0.9999), 1e-3)
}

func TestKLIntervalFromBounds(t *testing.T) {
	interval := KLIntervalFrom(
		Probability{Lower: 0.6, Estimate: 0.8, Upper: 0.9},
		Probability{Lower: 0.1, Estimate: 0.2, Upper: 0.3},
	)
	assert.True(t, interval.Lower <= interval.Estimate)
	assert.True(t, interval.Estimate <= interval.Upper)
}

func TestKLIntervalHelpers(t *testing.T) {
	i := KLInterval{Estimate: 1.0, Lower: 0.5, Upper: 1.5}
	assert.Equal(t, 1.0, i.Point())
	assert.Equal(t, 1.0, i.Uncertainty())
	assert.False(t, i.ContainsZero())
	assert.Equal(t, 0.5, i.Conservative())
	assert.Equal(t, 1.5, i.Aggressive())
}

func TestAggregateEvidenceBits(t *testing.T) {
	assert.InDelta(t, 3.0, AggregateEvidenceBits([]float64{1, 1, 1}), 1e-9)
}

func TestAggregateEvidenceBitsWithCorrelation(t *testing.T) {
	values := []float64{1, 2, 3}
	uncorrelated := AggregateEvidenceBitsWithCorrelation(values, 0)
	assert.InDelta(t, 6.0, uncorrelated, 1e-9)

	fullyCorrelated := AggregateEvidenceBitsWithCorrelation(values, 1)
	assert.InDelta(t, 3.0, fullyCorrelated, 1e-9)
}

func TestJeffreysSymmetric(t *testing.T) {
	a := JeffreysDivergenceBits(0.3, 0.7)
	b := JeffreysDivergenceBits(0.7, 0.3)
	assert.InDelta(t, a, b, 1e-9)
}

func TestJensenShannonBoundedAndSymmetric(t *testing.T) {
	js := JensenShannonBits(0.2, 0.8)
	assert.GreaterOrEqual(t, js, 0.0)
	assert.LessOrEqual(t, js, 1.0)
	assert.InDelta(t, js, JensenShannonBits(0.8, 0.2), 1e-9)
}

func TestMutualInformationFlooredAtZero(t *testing.T) {
	assert.Equal(t, 0.0, MutualInformationBits(0.9, 0.5))
	assert.Greater(t, MutualInformationBits(0.5, 0.9), 0.0)
}
