package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

func newConnectedStorage(t *testing.T, compression bool) *FileStorage {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	fs, err := NewFileStorage(&FileStorageConfig{
		BasePath:    filepath.Join(t.TempDir(), "dataset"),
		Compression: compression,
		CreateDirs:  true,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, fs.Connect(context.Background()))
	t.Cleanup(func() { fs.Close() })
	return fs
}

func sample(label bool, n int) *models.Sample {
	obs := make([]models.Observation, n)
	for i := range obs {
		obs[i] = models.Observation{Yaw: float64(i) * 0.5, Pitch: -float64(i) * 0.25}
	}
	return &models.Sample{Label: label, Observations: obs}
}

func TestNewFileStorageInvalidConfig(t *testing.T) {
	_, err := NewFileStorage(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileStorageConfig cannot be nil")

	_, err = NewFileStorage(&FileStorageConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BasePath is required")
}

func TestConnectMissingDirectory(t *testing.T) {
	fs, err := NewFileStorage(&FileStorageConfig{BasePath: filepath.Join(t.TempDir(), "absent")}, nil)
	require.NoError(t, err)
	assert.Error(t, fs.Connect(context.Background()))
}

func TestDisconnectedOperations(t *testing.T) {
	fs, err := NewFileStorage(&FileStorageConfig{BasePath: t.TempDir()}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = fs.SaveSample(ctx, sample(true, 3))
	assert.Error(t, err)
	_, err = fs.LoadDataset(ctx)
	assert.Error(t, err)
	_, err = fs.Count(ctx)
	assert.Error(t, err)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "cheat_abc.dat", fileName("abc", true))
	assert.Equal(t, "legit_abc.dat", fileName("abc", false))

	id, label, ok := parseFileName("cheat_0b6f.dat")
	require.True(t, ok)
	assert.Equal(t, "0b6f", id)
	assert.True(t, label)

	id, label, ok = parseFileName("legit_x.dat")
	require.True(t, ok)
	assert.Equal(t, "x", id)
	assert.False(t, label)

	for _, name := range []string{"cheat_x.bin", "other_x.dat", ".sample-123"} {
		_, _, ok := parseFileName(name)
		assert.False(t, ok, name)
	}
}

func TestSaveAndLoadDataset(t *testing.T) {
	for _, compression := range []bool{false, true} {
		fs := newConnectedStorage(t, compression)
		ctx := context.Background()

		cheatID, err := fs.SaveSample(ctx, sample(true, 30))
		require.NoError(t, err)
		legitID, err := fs.SaveSample(ctx, sample(false, 12))
		require.NoError(t, err)
		_, err = fs.SaveSample(ctx, sample(false, 5))
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(fs.config.BasePath, "cheat_"+cheatID+".dat"))
		require.NoError(t, err)

		got, err := fs.GetSample(ctx, legitID)
		require.NoError(t, err)
		assert.False(t, got.Label)
		assert.Equal(t, sample(false, 12).Observations, got.Observations)
		assert.False(t, got.CreatedAt.IsZero())

		dataset, err := fs.LoadDataset(ctx)
		require.NoError(t, err)
		require.Len(t, dataset, 3)
		assert.Equal(t, models.DatasetSummary{Total: 3, Cheat: 1, Legit: 2}, models.Summarize(dataset))

		summary, err := fs.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 1, summary.Cheat)
	}
}

func TestLoadDatasetSkipsCorruptFiles(t *testing.T) {
	fs := newConnectedStorage(t, false)
	ctx := context.Background()

	_, err := fs.SaveSample(ctx, sample(true, 10))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fs.config.BasePath, "legit_broken.dat"), []byte{0xc1, 0xff}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(fs.config.BasePath, "notes.txt"), []byte("hi"), 0644))

	dataset, err := fs.LoadDataset(ctx)
	require.NoError(t, err)
	assert.Len(t, dataset, 1)

	summary, err := fs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
}

func TestListSamplesAndDelete(t *testing.T) {
	fs := newConnectedStorage(t, false)
	ctx := context.Background()

	var cheats []string
	for i := 0; i < 3; i++ {
		id, err := fs.SaveSample(ctx, sample(true, 4))
		require.NoError(t, err)
		cheats = append(cheats, id)
	}
	_, err := fs.SaveSample(ctx, sample(false, 4))
	require.NoError(t, err)

	all, err := fs.ListSamples(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	cheat := true
	ids, err := fs.ListSamples(ctx, &interfaces.SampleFilter{Label: &cheat})
	require.NoError(t, err)
	assert.ElementsMatch(t, cheats, ids)

	limited, err := fs.ListSamples(ctx, &interfaces.SampleFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, fs.Delete(ctx, cheats[0]))
	err = fs.Delete(ctx, cheats[0])
	assert.ErrorIs(t, err, errors.ErrDataNotFound)

	_, err = fs.GetSample(ctx, cheats[0])
	assert.ErrorIs(t, err, errors.ErrDataNotFound)
}

func TestHealth(t *testing.T) {
	fs := newConnectedStorage(t, false)
	health, err := fs.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	info, err := fs.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file", info.Type)
}
