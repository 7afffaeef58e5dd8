package rnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	gateClamp    = 50.0
	sigmoidClamp = 500.0
)

// Clamp limits x to [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Sigmoid is the logistic function with its argument clamped to avoid overflow
func Sigmoid(x float64) float64 {
	x = Clamp(x, -sigmoidClamp, sigmoidClamp)
	return 1.0 / (1.0 + math.Exp(-x))
}

// FillXavierUniform fills dst with U(-limit, limit), limit = sqrt(6/(fanIn+fanOut))
func FillXavierUniform(rng *rand.Rand, dst []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2.0 - 1.0) * limit
	}
}

// FillOrthogonal fills dst (n*n, row-major) with an orthonormal matrix obtained by
// Gram-Schmidt over Gaussian rows.
func FillOrthogonal(rng *rand.Rand, dst []float64, n int) {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = dst[i*n : (i+1)*n]
		for k := range rows[i] {
			rows[i][k] = rng.NormFloat64()
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			norm := floats.Dot(rows[j], rows[j])
			if norm > 1e-10 {
				floats.AddScaled(rows[i], -floats.Dot(rows[i], rows[j])/norm, rows[j])
			}
		}
		norm := floats.Norm(rows[i], 2)
		if norm > 1e-10 {
			floats.Scale(1/norm, rows[i])
		}
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// sanitize zeroes NaN and infinite entries and returns how many it replaced
func sanitize(values []float64) int {
	replaced := 0
	for i, v := range values {
		if !finite(v) {
			values[i] = 0
			replaced++
		}
	}
	return replaced
}

func zero(values []float64) {
	for i := range values {
		values[i] = 0
	}
}

func newMatrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	m := make([][]float64, rows)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}

// sampleDropoutMask draws an inverted-dropout mask: 1/keep with probability keep, else 0
func sampleDropoutMask(rng *rand.Rand, size int, rate float64) []float64 {
	keep := 1.0 - rate
	mask := make([]float64, size)
	for i := range mask {
		if rng.Float64() < keep {
			mask[i] = 1.0 / keep
		}
	}
	return mask
}
