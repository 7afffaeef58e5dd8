package sequence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/models"
)

func testEmbedding(width int) Embedding {
	e := Embedding{
		Yaw:   make([]float64, width),
		Pitch: make([]float64, width),
		Bias:  make([]float64, width),
	}
	for i := 0; i < width; i++ {
		e.Yaw[i] = 0.1 * float64(i+1)
		e.Pitch[i] = -0.05 * float64(i+1)
		e.Bias[i] = 0.01
	}
	return e
}

func observations(n int) []models.Observation {
	obs := make([]models.Observation, n)
	for i := range obs {
		obs[i] = models.Observation{
			Yaw:   10 * math.Sin(float64(i)/3),
			Pitch: 3 * math.Cos(float64(i)/5),
		}
	}
	return obs
}

func TestSplitWindows(t *testing.T) {
	tests := []struct {
		name  string
		total int
		count int
		want  []window
	}{
		{"even", 10, 2, []window{{0, 5}, {5, 10}}},
		{"remainder in last", 11, 2, []window{{0, 5}, {5, 11}}},
		{"more windows than points", 3, 5, []window{{0, 1}, {1, 2}, {2, 3}}},
		{"empty", 0, 2, []window{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitWindows(tt.total, tt.count))
		})
	}
}

func TestRawPrepare(t *testing.T) {
	emb := testEmbedding(4)
	raw := NewRaw(4, emb)

	_, ok := raw.Prepare(observations(1))
	assert.False(t, ok)

	obs := []models.Observation{{Yaw: 50, Pitch: -20}, {Yaw: 0, Pitch: 0}, {Yaw: -300, Pitch: 5}}
	data, ok := raw.Prepare(obs)
	require.True(t, ok)
	require.Equal(t, 3, data.Len())
	assert.Equal(t, []float64{1, 1, 1}, data.Mask)
	require.Len(t, data.Taps, 3)

	for step, o := range obs {
		yaw, pitch := math.Tanh(o.Yaw/100), math.Tanh(o.Pitch/100)
		for i := 0; i < 4; i++ {
			want := yaw*emb.Yaw[i] + pitch*emb.Pitch[i] + emb.Bias[i]
			assert.InDelta(t, want, data.X[step][i], 1e-12)
		}
		tap := data.Taps[step]
		assert.Equal(t, step, tap.Step)
		assert.Equal(t, 0, tap.Lo)
		assert.Equal(t, 4, tap.Hi)
		assert.Equal(t, 1.0, tap.Scale)
		assert.InDelta(t, yaw, tap.Yaw, 1e-12)
	}
}

func TestStatisticalPrepare(t *testing.T) {
	stat := NewStatistical(16, DefaultStatisticalOptions())

	t.Run("too short", func(t *testing.T) {
		_, ok := stat.Prepare(observations(5))
		assert.False(t, ok)
	})

	t.Run("window count", func(t *testing.T) {
		data, ok := stat.Prepare(observations(50))
		require.True(t, ok)
		assert.Equal(t, 10, data.Len())
		assert.Empty(t, data.Taps)
		for _, row := range data.X {
			require.Len(t, row, 16)
			for _, v := range row {
				assert.False(t, math.IsNaN(v))
				assert.Less(t, math.Abs(v), 1.0)
			}
			assert.Equal(t, 0.0, row[15])
		}
	})

	t.Run("capped windows", func(t *testing.T) {
		data, ok := stat.Prepare(observations(500))
		require.True(t, ok)
		assert.Equal(t, 20, data.Len())
	})

	t.Run("constant input stays finite", func(t *testing.T) {
		obs := make([]models.Observation, 30)
		for i := range obs {
			obs[i] = models.Observation{Yaw: 1, Pitch: 1}
		}
		data, ok := stat.Prepare(obs)
		require.True(t, ok)
		for _, row := range data.X {
			for _, v := range row {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		}
	})

	t.Run("narrow width truncates", func(t *testing.T) {
		narrow := NewStatistical(4, DefaultStatisticalOptions())
		data, ok := narrow.Prepare(observations(30))
		require.True(t, ok)
		wide, ok := stat.Prepare(observations(30))
		require.True(t, ok)
		for i := range data.X {
			assert.Equal(t, wide.X[i][:4], data.X[i])
		}
	})
}

func TestSmoothCounts(t *testing.T) {
	// constant step of 5 between every point
	window := []float64{0, 5, 10, 15, 20}
	sc := SmoothCounts(window)
	assert.Equal(t, 4, sc.Robotized)
	assert.Equal(t, 4, sc.Machine)
	assert.Equal(t, 4, sc.Constant)
	assert.Equal(t, 4, sc.Aggressive)

	still := SmoothCounts([]float64{1, 1, 1, 1})
	assert.Equal(t, SmoothCounters{}, still)
}

func TestHybridPrepare(t *testing.T) {
	emb := testEmbedding(16)
	hybrid := NewHybrid(16, NewStatistical(16, DefaultStatisticalOptions()), emb, DefaultHybridOptions())

	t.Run("too short", func(t *testing.T) {
		_, ok := hybrid.Prepare(observations(1))
		assert.False(t, ok)
	})

	t.Run("short sequences use statistics", func(t *testing.T) {
		obs := observations(30)
		data, ok := hybrid.Prepare(obs)
		require.True(t, ok)
		want, ok := NewStatistical(16, DefaultStatisticalOptions()).Prepare(obs)
		require.True(t, ok)
		assert.Equal(t, want.X, data.X)
		assert.Empty(t, data.Taps)
	})

	t.Run("long sequences mix statistics and embedding", func(t *testing.T) {
		obs := observations(100)
		data, ok := hybrid.Prepare(obs)
		require.True(t, ok)
		assert.Equal(t, 5, data.Len())
		// windows of 20 points, half=8 slots, stride 2
		require.Len(t, data.Taps, 5*8)

		tap := data.Taps[3]
		assert.Equal(t, 0, tap.Step)
		assert.Equal(t, 11, tap.Lo)
		assert.Equal(t, 12, tap.Hi)
		assert.Equal(t, 0.5, tap.Scale)

		o := obs[6]
		yaw, pitch := math.Tanh(o.Yaw/100), math.Tanh(o.Pitch/100)
		want := 0.5 * (yaw*emb.Yaw[11] + pitch*emb.Pitch[11] + emb.Bias[11])
		assert.InDelta(t, want, data.X[0][11], 1e-12)

		stat := NewStatistical(8, DefaultStatisticalOptions())
		first := make([]float64, 8)
		stat.Extract(Magnitudes(obs[0:20]), first)
		assert.Equal(t, first, data.X[0][:8])
	})
}
