package sequence

import (
	"math"

	stats "github.com/inferloop/aimguard/internal/utils/math"
	"github.com/inferloop/aimguard/pkg/models"
)

// NumFeatures is the number of window statistics computed before truncation or padding
const NumFeatures = 15

// DefaultScalers divide each feature before soft-sign squashing. Slots beyond
// the list use 1.
var DefaultScalers = []float64{5, 0.5, 10, 20, 3, 10, 20, 0.5, 1, 15, 5, 2, 2, 2, 2, 1}

// StatisticalOptions controls windowing and feature normalization
type StatisticalOptions struct {
	PointsPerWindow int       `json:"points_per_window" yaml:"points_per_window" mapstructure:"points_per_window"`
	MinWindows      int       `json:"min_windows" yaml:"min_windows" mapstructure:"min_windows"`
	MaxWindows      int       `json:"max_windows" yaml:"max_windows" mapstructure:"max_windows"`
	MinWindowPoints int       `json:"min_window_points" yaml:"min_window_points" mapstructure:"min_window_points"`
	Scalers         []float64 `json:"scalers" yaml:"scalers" mapstructure:"scalers"`
}

// DefaultStatisticalOptions returns the stock windowing
func DefaultStatisticalOptions() StatisticalOptions {
	scalers := make([]float64, len(DefaultScalers))
	copy(scalers, DefaultScalers)
	return StatisticalOptions{
		PointsPerWindow: 5,
		MinWindows:      2,
		MaxWindows:      20,
		MinWindowPoints: 3,
		Scalers:         scalers,
	}
}

func (o StatisticalOptions) scaler(i int) float64 {
	if i < len(o.Scalers) && o.Scalers[i] != 0 {
		return o.Scalers[i]
	}
	return 1
}

// Statistical summarizes contiguous windows of rotation magnitudes, one
// timestep per window.
type Statistical struct {
	width int
	opts  StatisticalOptions
}

// NewStatistical returns a statistical preprocessor writing width features per step
func NewStatistical(width int, opts StatisticalOptions) *Statistical {
	if opts.PointsPerWindow < 1 {
		opts.PointsPerWindow = 1
	}
	if opts.MinWindows < MinSteps {
		opts.MinWindows = MinSteps
	}
	if opts.MaxWindows < opts.MinWindows {
		opts.MaxWindows = opts.MinWindows
	}
	return &Statistical{width: width, opts: opts}
}

// Prepare implements Preprocessor
func (s *Statistical) Prepare(obs []models.Observation) (*Data, bool) {
	values := Magnitudes(obs)
	count := clampInt(len(values)/s.opts.PointsPerWindow, s.opts.MinWindows, s.opts.MaxWindows)

	var rows [][]float64
	for _, w := range splitWindows(len(values), count) {
		if w.end-w.start < s.opts.MinWindowPoints {
			continue
		}
		row := make([]float64, s.width)
		s.Extract(values[w.start:w.end], row)
		rows = append(rows, row)
	}

	if len(rows) < MinSteps {
		return nil, false
	}
	return &Data{X: rows, Mask: ones(len(rows))}, true
}

// Extract writes the normalized window features into dst, truncating to len(dst)
func (s *Statistical) Extract(window []float64, dst []float64) {
	raw := WindowFeatures(window)
	for i := range dst {
		if i >= len(raw) {
			dst[i] = 0
			continue
		}
		v := raw[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		n := v / s.opts.scaler(i)
		dst[i] = n / (1 + math.Abs(n))
	}
}

// WindowFeatures returns the unnormalized statistics of one window
func WindowFeatures(window []float64) []float64 {
	f := make([]float64, NumFeatures)

	f[0] = stats.ShannonEntropy(window, 1e-3)
	if diffs := stats.Diff(window); len(diffs) >= 3 {
		f[1] = math.Sqrt(float64(len(diffs))) * stats.KSNormalDistance(diffs) / 4
	}
	f[2] = float64(stats.CountOutliers(window) + stats.Duplicates(window))
	f[3] = math.Floor(float64(stats.Distinct(window)) / 2)
	f[4] = stats.Skewness(window)
	f[5] = stats.Kurtosis(window)
	f[6] = stats.StandardDeviation(window)
	f[7] = stats.GiniIndex(window)
	f[8] = stats.CoefficientOfVariation(window)
	f[9] = stats.IQR(window)
	f[10] = math.Abs(stats.Mean(window) - stats.Mode(window))

	sc := SmoothCounts(window)
	f[11] = float64(sc.Robotized)
	f[12] = float64(sc.Machine)
	f[13] = float64(sc.Constant)
	f[14] = float64(sc.Aggressive)
	return f
}

// SmoothCounters counts steps whose change stays locked to the first change,
// bucketed by how tight the lock is and how large the movement.
type SmoothCounters struct {
	Robotized  int
	Machine    int
	Constant   int
	Aggressive int
}

// SmoothCounts scans a window for suspiciously uniform rotation changes
func SmoothCounts(window []float64) SmoothCounters {
	var sc SmoothCounters
	if len(window) < 2 {
		return sc
	}

	first := math.Abs(window[0] - window[1])
	old := window[0]
	for _, r := range window {
		change := math.Abs(r - old)
		robot := math.Abs(change - first)
		if robot < 2 && change > 2.5 {
			sc.Robotized++
		}
		if robot < 0.99 && change > 4 {
			sc.Machine++
		}
		if robot < 0.02 && change > 3 {
			sc.Constant++
		}
		if robot < 2 && change > 3 {
			sc.Aggressive++
		}
		old = r
	}
	return sc
}
