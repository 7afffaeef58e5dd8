package synthetic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/models"
)

func peak(obs []models.Observation) float64 {
	max := 0.0
	for _, o := range obs {
		max = math.Max(max, math.Hypot(o.Yaw, o.Pitch))
	}
	return max
}

func TestSequenceIsDeterministic(t *testing.T) {
	a := NewGenerator(DefaultConfig()).Sequence(true, 50)
	b := NewGenerator(DefaultConfig()).Sequence(true, 50)
	assert.Equal(t, a, b)
}

func TestCheatSequencesSnap(t *testing.T) {
	gen := NewGenerator(DefaultConfig())

	cheat := gen.Sequence(true, 400)
	legit := gen.Sequence(false, 400)

	require.Len(t, cheat, 400)
	assert.Greater(t, peak(cheat), 15.0)
	assert.Less(t, peak(legit), 15.0)
}

func TestDataset(t *testing.T) {
	config := DefaultConfig()
	config.MinLength = 40
	config.MaxLength = 60
	config.CheatRatio = 0.25

	samples := NewGenerator(config).Dataset(20)
	require.Len(t, samples, 20)

	summary := models.Summarize(samples)
	assert.Equal(t, 5, summary.Cheat)
	assert.Equal(t, 15, summary.Legit)

	ids := map[string]bool{}
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.Len(), 40)
		assert.LessOrEqual(t, s.Len(), 60)
		assert.Equal(t, "synthetic", s.Source)
		ids[s.ID] = true
	}
	assert.Len(t, ids, 20)
}

func TestNewGeneratorFixesLengths(t *testing.T) {
	gen := NewGenerator(Config{MinLength: 0, MaxLength: -1})
	assert.Len(t, gen.Sample(false).Observations, 2)
}
