package rnn

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/errors"
)

// header layout offsets in bytes
const (
	inputModeOffset = 21
	batchSizeOffset = 77
	headerSize      = 97
)

func trainedModel(t *testing.T, mutate func(*Config)) *Model {
	t.Helper()
	m := newTestModel(t, mutate)
	for i := 0; i < 3; i++ {
		m.LearnByData(wave(50, 60, float64(i)), i%2 == 0)
	}
	return m
}

func saved(t *testing.T, m *Model) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	return buf.Bytes()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := trainedModel(t, nil)
	src.SetPoolingMode(PoolMax)
	src.SetLearningRate(0.002)
	data := saved(t, src)

	dst := newTestModel(t, func(c *Config) { c.Seed = 99 })
	require.NoError(t, dst.Load(bytes.NewReader(data)))

	assert.Equal(t, src.arena.state, dst.arena.state)
	assert.Equal(t, src.trainSteps, dst.trainSteps)
	assert.Equal(t, src.opt.T, dst.opt.T)
	assert.Equal(t, PoolMax, dst.Config().PoolingMode)
	assert.Equal(t, 0.002, dst.Config().LearningRate)

	for i := 0; i < 5; i++ {
		obs := wave(30+20*i, 45, float64(i))
		assert.InDelta(t, src.CheckData(obs), dst.CheckData(obs), 1e-12)
	}
}

func TestSaveToFileAndLoadFile(t *testing.T) {
	src := trainedModel(t, func(c *Config) { c.InputMode = InputRaw })
	path := filepath.Join(t.TempDir(), "models", "default.bin")

	require.NoError(t, src.SaveToFile(path))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	dst := newTestModel(t, nil)
	require.NoError(t, dst.LoadFile(path))
	assert.Equal(t, InputRaw, dst.Config().InputMode)
	obs := wave(40, 20, 0)
	assert.InDelta(t, src.CheckData(obs), dst.CheckData(obs), 1e-12)

	// overwrite in place
	src.LearnByData(obs, true)
	require.NoError(t, src.SaveToFile(path))
	require.NoError(t, dst.LoadFile(path))
	assert.Equal(t, src.arena.state, dst.arena.state)
}

func TestLoadFileMissing(t *testing.T) {
	m := newTestModel(t, nil)
	err := m.LoadFile(filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModelNotFound)
}

func TestLoadArchitectureMismatch(t *testing.T) {
	data := saved(t, trainedModel(t, func(c *Config) { c.HiddenSize = 8 }))

	for name, mutate := range map[string]func(*Config){
		"hidden size":   func(c *Config) { c.HiddenSize = 4 },
		"input size":    func(c *Config) { c.HiddenSize = 8; c.InputSize = 12 },
		"layers":        func(c *Config) { c.HiddenSize = 8; c.NumLayers = 1 },
		"bidirectional": func(c *Config) { c.HiddenSize = 8; c.Bidirectional = false },
	} {
		t.Run(name, func(t *testing.T) {
			m := newTestModel(t, mutate)
			before := stateCopy(m)
			cfg := m.Config()

			err := m.Load(bytes.NewReader(data))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrArchitectureMismatch)
			assert.Equal(t, before, m.arena.state)
			assert.Equal(t, cfg, m.Config())
		})
	}
}

func TestLoadBadFile(t *testing.T) {
	good := saved(t, trainedModel(t, nil))

	badMagic := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(badMagic[0:], 0x524E4E35)

	badVersion := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(badVersion[4:], 5)

	tests := map[string][]byte{
		"empty":            {},
		"garbage":          []byte("definitely not a model"),
		"bad magic":        badMagic,
		"bad version":      badVersion,
		"truncated header": good[:40],
		"truncated body":   good[:len(good)/3],
		"truncated tail":   good[:len(good)-3],
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			m := newTestModel(t, nil)
			m.SetLearningRate(0.123)
			before := stateCopy(m)

			err := m.Load(bytes.NewReader(data))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrBadModelFile)
			assert.Equal(t, before, m.arena.state)
			assert.Equal(t, 0.123, m.Config().LearningRate)
		})
	}
}

func TestLoadWrongArrayLength(t *testing.T) {
	good := saved(t, trainedModel(t, nil))
	data := append([]byte(nil), good...)
	// length prefix of embedding.yaw
	binary.BigEndian.PutUint32(data[headerSize:], 15)

	m := newTestModel(t, nil)
	err := m.Load(bytes.NewReader(data))
	assert.ErrorIs(t, err, errors.ErrBadModelFile)
}

func TestLoadWithoutMoments(t *testing.T) {
	src := trainedModel(t, nil)
	data := saved(t, src)
	trailer := 4 + 8*2*src.arena.size
	data = data[:len(data)-trailer]

	dst := newTestModel(t, nil)
	copy(dst.arena.moments(), src.arena.moments())
	require.NoError(t, dst.Load(bytes.NewReader(data)))

	assert.Equal(t, src.arena.allParams(), dst.arena.allParams())
	assert.Equal(t, make([]float64, 2*dst.arena.size), dst.arena.moments())
}

func TestLoadClampsHeaderValues(t *testing.T) {
	data := saved(t, trainedModel(t, nil))
	binary.BigEndian.PutUint32(data[inputModeOffset:], 99)
	binary.BigEndian.PutUint32(data[batchSizeOffset:], 0)

	m := newTestModel(t, nil)
	require.NoError(t, m.Load(bytes.NewReader(data)))
	assert.Equal(t, InputHybrid, m.Config().InputMode)
	assert.Equal(t, 1, m.Config().BatchSize)
}

func TestLoadAbsentArraysKeepLiveValues(t *testing.T) {
	m := newTestModel(t, func(c *Config) {
		c.InputSize = 4
		c.HiddenSize = 3
		c.NumLayers = 1
	})
	before := stateCopy(m)

	var buf bytes.Buffer
	header := fileHeader{
		Magic:         FileMagic,
		Version:       FileVersion,
		InputSize:     4,
		HiddenSize:    3,
		NumLayers:     1,
		Bidirectional: true,
		InputMode:     int32(InputStatistical),
		PoolingMode:   int32(PoolMean),
		LearningRate:  0.01,
		GradientClip:  1,
		BatchSize:     2,
		TrainSteps:    7,
	}
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &header))
	for _, tn := range m.arena.tensors {
		if tn.scalar {
			require.NoError(t, binary.Write(&buf, binary.BigEndian, 0.25))
			continue
		}
		length := int32(-1)
		if tn.kind == kindHead {
			length = 0
		}
		require.NoError(t, binary.Write(&buf, binary.BigEndian, length))
	}

	require.NoError(t, m.Load(&buf))

	for idx, tn := range m.arena.tensors {
		got := m.arena.params(idx)
		if tn.scalar {
			assert.Equal(t, 0.25, got[0], tn.name)
			continue
		}
		assert.Equal(t, before[tn.offset:tn.offset+tn.size], got, tn.name)
	}
	assert.Equal(t, InputStatistical, m.Config().InputMode)
	assert.Equal(t, PoolMean, m.Config().PoolingMode)
	assert.Equal(t, 2, m.Config().BatchSize)
	assert.Equal(t, int64(7), m.Info().TrainSteps)
}
