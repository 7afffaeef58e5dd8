package math

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicMoments(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.InDelta(t, 5.0, Mean(values), 1e-12)
	assert.InDelta(t, 32.0/7.0, Variance(values), 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), StandardDeviation(values), 1e-12)
	assert.Equal(t, 4.0, Mode(values))
	assert.InDelta(t, math.Sqrt(32.0/7.0)/5.0, CoefficientOfVariation(values), 1e-12)
}

func TestDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, StandardDeviation([]float64{3}))
	assert.Equal(t, 0.0, Skewness([]float64{1, 2}))
	assert.Equal(t, 0.0, Kurtosis([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, CoefficientOfVariation([]float64{-1, 1}))
	assert.Equal(t, 0.0, GiniIndex([]float64{0, 0, 0}))
	assert.Equal(t, 0.0, KSNormalDistance([]float64{1, 1, 1}))
	assert.Nil(t, Diff([]float64{1}))
}

func TestModeTiesPickSmallest(t *testing.T) {
	assert.Equal(t, 1.0, Mode([]float64{3, 1, 3, 1, 2}))
}

func TestPercentileAndIQR(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 5.0, Percentile(values, 100))
	assert.Equal(t, 3.0, Percentile(values, 50))
	assert.Equal(t, 2.0, Quantile(values, 0.25))
	assert.Equal(t, 2.0, IQR(values))

	lower, upper := OutlierBounds(values)
	assert.Equal(t, -1.0, lower)
	assert.Equal(t, 7.0, upper)
	assert.Equal(t, 1, CountOutliers([]float64{1, 2, 3, 4, 5, 100}))
}

func TestDistinctAndDuplicates(t *testing.T) {
	values := []float64{1, 1, 2, 3, 3, 3}
	assert.Equal(t, 3, Distinct(values))
	assert.Equal(t, 3, Duplicates(values))
	assert.Equal(t, 0, Distinct(nil))
}

func TestGiniIndex(t *testing.T) {
	assert.InDelta(t, 0.0, GiniIndex([]float64{2, 2, 2, 2}), 1e-12)
	// all mass on one of four values
	assert.InDelta(t, 0.75, GiniIndex([]float64{0, 0, 0, -8}), 1e-12)
}

func TestShannonEntropy(t *testing.T) {
	assert.InDelta(t, 0.0, ShannonEntropy([]float64{5, 5, 5}, 1e-3), 1e-12)
	assert.InDelta(t, math.Log(4), ShannonEntropy([]float64{1, 2, 3, 4}, 1e-3), 1e-12)
	// values closer than the resolution share a bin
	assert.InDelta(t, 0.0, ShannonEntropy([]float64{1.00001, 1.00002}, 1e-3), 1e-12)
}

func TestKSNormalDistance(t *testing.T) {
	symmetric := []float64{-1.5, -1, -0.5, 0, 0.5, 1, 1.5}
	skewed := []float64{0, 0, 0, 0, 0, 0, 10}

	dSym := KSNormalDistance(symmetric)
	dSkew := KSNormalDistance(skewed)
	assert.Greater(t, dSym, 0.0)
	assert.Less(t, dSym, dSkew)
	assert.LessOrEqual(t, dSkew, 1.0)
}

func TestDiff(t *testing.T) {
	assert.Equal(t, []float64{1, -3, 5}, Diff([]float64{0, 1, -2, 3}))
}
