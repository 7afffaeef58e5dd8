// Package sequence turns raw aim-rotation observations into fixed-width,
// masked feature tensors for the recurrent encoder.
package sequence

import (
	"math"

	"github.com/inferloop/aimguard/pkg/models"
)

// MinSteps is the shortest tensor the encoder accepts
const MinSteps = 2

// RawScale divides observation deltas before the tanh squashing
const RawScale = 100.0

// Data is a [T][F] feature tensor with a validity mask of length T
type Data struct {
	X    [][]float64
	Mask []float64
	// Taps record which slots were produced by the learned embedding, so
	// gradients can flow back into it.
	Taps []Tap
}

// Len returns the number of timesteps
func (d *Data) Len() int {
	return len(d.X)
}

// Tap records one embedding projection written into X[Step][Lo:Hi] as
// Scale*(Yaw*W_yaw + Pitch*W_pitch + b), with Yaw and Pitch already squashed.
type Tap struct {
	Step  int
	Lo    int
	Hi    int
	Scale float64
	Yaw   float64
	Pitch float64
}

// Preprocessor converts observations into a tensor. ok is false when the
// input is too short to yield MinSteps timesteps.
type Preprocessor interface {
	Prepare(obs []models.Observation) (data *Data, ok bool)
}

// Embedding is the learned affine map applied to squashed observations.
// Slices are owned by the model.
type Embedding struct {
	Yaw   []float64
	Pitch []float64
	Bias  []float64
}

// Project writes scale*(yaw*W_yaw + pitch*W_pitch + b) into dst[lo:hi]
func (e Embedding) Project(yaw, pitch float64, lo, hi int, scale float64, dst []float64) {
	for i := lo; i < hi; i++ {
		dst[i] = scale * (yaw*e.Yaw[i] + pitch*e.Pitch[i] + e.Bias[i])
	}
}

// Squash maps a raw delta into (-1, 1)
func Squash(v float64) float64 {
	return math.Tanh(v / RawScale)
}

// Magnitudes returns the per-step rotation magnitude hypot(yaw, pitch)
func Magnitudes(obs []models.Observation) []float64 {
	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = math.Hypot(o.Yaw, o.Pitch)
	}
	return values
}

func ones(n int) []float64 {
	mask := make([]float64, n)
	for i := range mask {
		mask[i] = 1.0
	}
	return mask
}

func newRows(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	x := make([][]float64, rows)
	for i := range x {
		x[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return x
}

// window is a half-open range of observation indices
type window struct {
	start, end int
}

// splitWindows cuts total points into count contiguous windows of size
// max(1, total/count); the last window absorbs the remainder.
func splitWindows(total, count int) []window {
	size := total / count
	if size < 1 {
		size = 1
	}
	windows := make([]window, 0, count)
	for w := 0; w < count; w++ {
		start := w * size
		if start >= total {
			break
		}
		end := start + size
		if w == count-1 || end > total {
			end = total
		}
		windows = append(windows, window{start: start, end: end})
	}
	return windows
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
