package math

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Variance calculates the unbiased sample variance
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.Variance(values, nil)
}

// StandardDeviation calculates the unbiased sample standard deviation
func StandardDeviation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Skewness calculates the sample skewness. NaN for constant input.
func Skewness(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	return stat.Skew(values, nil)
}

// Kurtosis calculates the sample excess kurtosis. NaN for constant input.
func Kurtosis(values []float64) float64 {
	if len(values) < 4 {
		return 0
	}
	return stat.ExKurtosis(values, nil)
}

// CoefficientOfVariation returns std/|mean|, 0 when the mean is zero
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return StandardDeviation(values) / math.Abs(mean)
}

// Mode returns the most frequent value. Ties resolve to the smallest value.
func Mode(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := sortedCopy(values)
	mode, best := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > best {
			best = j - i
			mode = sorted[i]
		}
		i = j
	}
	return mode
}

// Percentile calculates the p-th percentile by linear interpolation between closest ranks
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 || p < 0 || p > 100 {
		return 0
	}
	return percentileSorted(sortedCopy(values), p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if p == 0 {
		return sorted[0]
	}
	if p == 100 {
		return sorted[len(sorted)-1]
	}

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Quantile calculates quantiles (quartiles, quintiles, etc.)
func Quantile(values []float64, q float64) float64 {
	return Percentile(values, q*100)
}

// IQR calculates the Interquartile Range (Q3 - Q1)
func IQR(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	return percentileSorted(sorted, 75) - percentileSorted(sorted, 25)
}

// OutlierBounds calculates the lower and upper bounds for outlier detection using IQR method
func OutlierBounds(values []float64) (lower, upper float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := sortedCopy(values)
	q1 := percentileSorted(sorted, 25)
	q3 := percentileSorted(sorted, 75)
	iqr := q3 - q1

	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// CountOutliers returns how many values fall outside the IQR bounds
func CountOutliers(values []float64) int {
	lower, upper := OutlierBounds(values)

	count := 0
	for _, v := range values {
		if v < lower || v > upper {
			count++
		}
	}
	return count
}

// Distinct returns the number of distinct values
func Distinct(values []float64) int {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	count := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			count++
		}
	}
	return count
}

// Duplicates returns how many values repeat an earlier value
func Duplicates(values []float64) int {
	return len(values) - Distinct(values)
}

// GiniIndex returns the Gini coefficient of the absolute values, 0 when they sum to zero
func GiniIndex(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	abs := make([]float64, n)
	for i, v := range values {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)

	total := floats.Sum(abs)
	if total == 0 {
		return 0
	}

	weighted := 0.0
	for i, v := range abs {
		weighted += float64(i+1) * v
	}
	return 2*weighted/(float64(n)*total) - float64(n+1)/float64(n)
}

// ShannonEntropy returns the entropy in nats of the value histogram, with values
// quantized to the given resolution.
func ShannonEntropy(values []float64, resolution float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if resolution <= 0 {
		resolution = 1e-3
	}

	counts := make(map[int64]float64)
	for _, v := range values {
		counts[int64(math.Round(v/resolution))]++
	}

	keys := make([]int64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	p := make([]float64, len(keys))
	for i, k := range keys {
		p[i] = counts[k] / float64(len(values))
	}
	return stat.Entropy(p)
}

// KSNormalDistance returns the Kolmogorov-Smirnov distance between the empirical
// distribution of values and a normal distribution fitted to them. Zero when the
// values have no spread.
func KSNormalDistance(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	std := StandardDeviation(values)
	if std == 0 || math.IsNaN(std) {
		return 0
	}

	normal := distuv.Normal{Mu: Mean(values), Sigma: std}
	sorted := sortedCopy(values)

	d := 0.0
	for i, v := range sorted {
		cdf := normal.CDF(v)
		above := float64(i+1)/float64(n) - cdf
		below := cdf - float64(i)/float64(n)
		d = math.Max(d, math.Max(above, below))
	}
	return d
}

// Diff calculates the first difference of a series
func Diff(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}

	diff := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		diff[i-1] = values[i] - values[i-1]
	}
	return diff
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}
