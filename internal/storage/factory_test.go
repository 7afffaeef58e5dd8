package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/internal/storage/implementations/file"
	"github.com/inferloop/aimguard/internal/storage/implementations/postgres"
	"github.com/inferloop/aimguard/internal/storage/implementations/redis"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

func TestFactorySupportedTypes(t *testing.T) {
	factory := NewFactory(logrus.New())
	assert.Equal(t, []string{"file", "postgres", "redis"}, factory.GetSupportedTypes())
	assert.True(t, factory.IsSupported("redis"))
	assert.False(t, factory.IsSupported("clickhouse"))
}

func TestFactoryCreatesBackends(t *testing.T) {
	factory := NewFactory(nil)
	config := DefaultConfig()

	tests := []struct {
		backend string
		check   func(t *testing.T, store interfaces.DatasetStore)
	}{
		{"", func(t *testing.T, store interfaces.DatasetStore) { assert.IsType(t, &file.FileStorage{}, store) }},
		{"file", func(t *testing.T, store interfaces.DatasetStore) { assert.IsType(t, &file.FileStorage{}, store) }},
		{"redis", func(t *testing.T, store interfaces.DatasetStore) { assert.IsType(t, &redis.RedisStorage{}, store) }},
		{"postgres", func(t *testing.T, store interfaces.DatasetStore) { assert.IsType(t, &postgres.PostgresStorage{}, store) }},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config
			cfg.Backend = tt.backend
			store, err := factory.CreateDatasetStore(&cfg)
			require.NoError(t, err)
			tt.check(t, store)
		})
	}
}

func TestFactoryErrors(t *testing.T) {
	factory := NewFactory(nil)

	_, err := factory.CreateDatasetStore(nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Backend = "weaviate"
	_, err = factory.CreateDatasetStore(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	cfg = DefaultConfig()
	cfg.Backend = "redis"
	cfg.Redis.Addr = ""
	_, err = factory.CreateDatasetStore(&cfg)
	assert.Error(t, err)

	// S3 needs a bucket
	_, err = factory.CreateBlobStore(&cfg)
	assert.Error(t, err)
	cfg.S3.Bucket = "models"
	blob, err := factory.CreateBlobStore(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, blob)

	_, err = factory.CreateEpochSink(&cfg)
	assert.Error(t, err)

	assert.Error(t, factory.RegisterStorage("", nil))
	assert.Error(t, factory.RegisterStorage("memory", nil))
}

func TestFactoryFileStoreRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File.BasePath = filepath.Join(t.TempDir(), "dataset")

	store, err := NewFactory(nil).CreateDatasetStore(&cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Connect(ctx))
	defer store.Close()

	_, err = store.SaveSample(ctx, &models.Sample{Label: true, Observations: []models.Observation{{Yaw: 1}, {Yaw: 2}}})
	require.NoError(t, err)

	summary, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Cheat)
}
