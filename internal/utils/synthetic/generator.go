// Package synthetic generates labelled aim-rotation sequences for demos and tests.
//
// Legit sequences follow smooth, noisy tracking movement. Cheat sequences mix
// near-still micro jitter with instant snaps onto a target and a mechanically
// regular correction oscillation.
package synthetic

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/inferloop/aimguard/pkg/models"
)

// Profile shapes the movement of one class
type Profile struct {
	Amplitude  float64 `json:"amplitude" yaml:"amplitude"`     // Peak tracking speed in degrees per tick
	Frequency  float64 `json:"frequency" yaml:"frequency"`     // Tracking oscillations per 100 ticks
	Noise      float64 `json:"noise" yaml:"noise"`             // Gaussian noise std dev
	SnapRate   float64 `json:"snap_rate" yaml:"snap_rate"`     // Probability of a snap per tick
	SnapSize   float64 `json:"snap_size" yaml:"snap_size"`     // Mean snap magnitude in degrees
	PitchRatio float64 `json:"pitch_ratio" yaml:"pitch_ratio"` // Pitch movement relative to yaw
}

// Config configures a Generator
type Config struct {
	MinLength  int     `json:"min_length" yaml:"min_length"`
	MaxLength  int     `json:"max_length" yaml:"max_length"`
	CheatRatio float64 `json:"cheat_ratio" yaml:"cheat_ratio"`
	Legit      Profile `json:"legit" yaml:"legit"`
	Cheat      Profile `json:"cheat" yaml:"cheat"`
	Seed       int64   `json:"seed" yaml:"seed"`
}

// DefaultConfig returns profiles a trained model separates well
func DefaultConfig() Config {
	return Config{
		MinLength:  60,
		MaxLength:  200,
		CheatRatio: 0.5,
		Legit: Profile{
			Amplitude:  4,
			Frequency:  3,
			Noise:      0.8,
			PitchRatio: 0.4,
		},
		Cheat: Profile{
			Amplitude:  0.3,
			Frequency:  25,
			Noise:      0.05,
			SnapRate:   0.06,
			SnapSize:   35,
			PitchRatio: 0.3,
		},
		Seed: 1,
	}
}

// Generator produces sequences. It is not safe for concurrent use.
type Generator struct {
	config Config
	rng    *rand.Rand
}

// NewGenerator creates a generator seeded with config.Seed
func NewGenerator(config Config) *Generator {
	if config.MinLength < 2 {
		config.MinLength = 2
	}
	if config.MaxLength < config.MinLength {
		config.MaxLength = config.MinLength
	}
	return &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Sequence returns n observations of the given class
func (g *Generator) Sequence(cheat bool, n int) []models.Observation {
	profile := g.config.Legit
	if cheat {
		profile = g.config.Cheat
	}

	obs := make([]models.Observation, n)
	phase := g.rng.Float64() * 2 * math.Pi
	direction := 1.0
	if g.rng.Intn(2) == 0 {
		direction = -1
	}

	for t := 0; t < n; t++ {
		angle := 2*math.Pi*profile.Frequency*float64(t)/100 + phase
		yaw := direction*profile.Amplitude*math.Sin(angle) + g.rng.NormFloat64()*profile.Noise
		pitch := profile.PitchRatio*profile.Amplitude*math.Cos(angle) + g.rng.NormFloat64()*profile.Noise*profile.PitchRatio

		if profile.SnapRate > 0 && g.rng.Float64() < profile.SnapRate {
			size := profile.SnapSize * (0.5 + g.rng.Float64())
			heading := g.rng.Float64() * 2 * math.Pi
			yaw += size * math.Cos(heading)
			pitch += profile.PitchRatio * size * math.Sin(heading)
		}

		obs[t] = models.Observation{Yaw: yaw, Pitch: pitch}
	}

	return obs
}

// Sample returns one labelled sample with a random length in [MinLength, MaxLength]
func (g *Generator) Sample(cheat bool) models.Sample {
	n := g.config.MinLength
	if span := g.config.MaxLength - g.config.MinLength; span > 0 {
		n += g.rng.Intn(span + 1)
	}

	return models.Sample{
		ID:           uuid.New().String(),
		Label:        cheat,
		Observations: g.Sequence(cheat, n),
		CreatedAt:    time.Now().UTC(),
		Source:       "synthetic",
	}
}

// Dataset returns count samples, CheatRatio of them labelled cheat, in shuffled order
func (g *Generator) Dataset(count int) []models.Sample {
	cheats := int(math.Round(float64(count) * g.config.CheatRatio))

	samples := make([]models.Sample, count)
	for i := range samples {
		samples[i] = g.Sample(i < cheats)
	}
	g.rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	return samples
}
