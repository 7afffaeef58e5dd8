package sequence

import (
	"github.com/inferloop/aimguard/pkg/models"
)

// HybridOptions controls how long sequences are windowed
type HybridOptions struct {
	ShortThreshold int     `json:"short_threshold" yaml:"short_threshold" mapstructure:"short_threshold"`
	TargetWindow   int     `json:"target_window" yaml:"target_window" mapstructure:"target_window"`
	MinWindows     int     `json:"min_windows" yaml:"min_windows" mapstructure:"min_windows"`
	MaxWindows     int     `json:"max_windows" yaml:"max_windows" mapstructure:"max_windows"`
	RawScale       float64 `json:"raw_scale" yaml:"raw_scale" mapstructure:"raw_scale"`
}

// DefaultHybridOptions returns the stock hybrid windowing
func DefaultHybridOptions() HybridOptions {
	return HybridOptions{
		ShortThreshold: 40,
		TargetWindow:   20,
		MinWindows:     2,
		MaxWindows:     15,
		RawScale:       0.5,
	}
}

// Hybrid places window statistics in the first half of each step and scaled
// embedding projections of sampled window points in the second half. Short
// sequences fall back to the statistical path.
type Hybrid struct {
	width       int
	opts        HybridOptions
	embedding   Embedding
	statistical *Statistical
}

// NewHybrid returns a hybrid preprocessor writing width features per step.
// stat handles short sequences and the statistical half of each step.
func NewHybrid(width int, stat *Statistical, embedding Embedding, opts HybridOptions) *Hybrid {
	if opts.TargetWindow < 1 {
		opts.TargetWindow = 1
	}
	if opts.MinWindows < MinSteps {
		opts.MinWindows = MinSteps
	}
	if opts.MaxWindows < opts.MinWindows {
		opts.MaxWindows = opts.MinWindows
	}
	return &Hybrid{
		width:       width,
		opts:        opts,
		embedding:   embedding,
		statistical: stat,
	}
}

// Prepare implements Preprocessor
func (h *Hybrid) Prepare(obs []models.Observation) (*Data, bool) {
	if len(obs) < MinSteps {
		return nil, false
	}
	if len(obs) < h.opts.ShortThreshold {
		return h.statistical.Prepare(obs)
	}

	values := Magnitudes(obs)
	count := clampInt(len(obs)/h.opts.TargetWindow, h.opts.MinWindows, h.opts.MaxWindows)
	windows := splitWindows(len(obs), count)

	half := h.width / 2
	statPart := make([]float64, half)
	x := newRows(len(windows), h.width)
	var taps []Tap

	for step, w := range windows {
		h.statistical.Extract(values[w.start:w.end], statPart)
		copy(x[step][:half], statPart)

		wlen := w.end - w.start
		stride := 1
		if half > 0 && wlen/half > 1 {
			stride = wlen / half
		}
		for j := 0; half+j < h.width; j++ {
			idx := w.start + j*stride
			if idx >= w.end {
				break
			}
			slot := half + j
			yaw, pitch := Squash(obs[idx].Yaw), Squash(obs[idx].Pitch)
			h.embedding.Project(yaw, pitch, slot, slot+1, h.opts.RawScale, x[step])
			taps = append(taps, Tap{
				Step:  step,
				Lo:    slot,
				Hi:    slot + 1,
				Scale: h.opts.RawScale,
				Yaw:   yaw,
				Pitch: pitch,
			})
		}
	}

	if len(x) < MinSteps {
		return nil, false
	}
	return &Data{X: x, Mask: ones(len(x)), Taps: taps}, true
}
