package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

func testConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Database: "aimguard",
		Username: "aimguard",
		Password: "secret",
	}
}

func TestNewPostgresStorage(t *testing.T) {
	storage, err := NewPostgresStorage(testConfig(), logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 5432, storage.config.Port)
	assert.Equal(t, "disable", storage.config.SSLMode)
	assert.Equal(t, defaultTable, storage.config.Table)
	assert.Positive(t, storage.config.QueryTimeout)
}

func TestNewPostgresStorageInvalidConfig(t *testing.T) {
	_, err := NewPostgresStorage(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewPostgresStorage(&PostgresConfig{Host: "localhost"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host and database are required")
}

func TestConnectionString(t *testing.T) {
	config := testConfig()
	config.ConnectTimeout = 5 * time.Second
	storage, err := NewPostgresStorage(config, nil)
	require.NoError(t, err)

	assert.Equal(t,
		"host=localhost port=5432 dbname=aimguard sslmode=disable connect_timeout=5 user=aimguard password=secret",
		storage.connectionString())
}

func TestQueries(t *testing.T) {
	storage, err := NewPostgresStorage(testConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, `"aim_samples"`, storage.table())
	assert.Contains(t, storage.schema(), `CREATE TABLE IF NOT EXISTS "aim_samples"`)
	assert.Contains(t, storage.schema(), "yaw DOUBLE PRECISION[] NOT NULL")

	query, args := storage.listQuery(nil)
	assert.Equal(t, `SELECT id FROM "aim_samples" ORDER BY created_at, id`, query)
	assert.Empty(t, args)

	cheat := true
	query, args = storage.listQuery(&interfaces.SampleFilter{Label: &cheat, Limit: 10})
	assert.Equal(t, `SELECT id FROM "aim_samples" WHERE label = $1 ORDER BY created_at, id LIMIT $2`, query)
	assert.Equal(t, []interface{}{true, 10}, args)

	query, args = storage.listQuery(&interfaces.SampleFilter{Limit: 3})
	assert.Equal(t, `SELECT id FROM "aim_samples" ORDER BY created_at, id LIMIT $1`, query)
	assert.Equal(t, []interface{}{3}, args)
}

func TestChannels(t *testing.T) {
	obs := []models.Observation{{Yaw: 1, Pitch: -1}, {Yaw: 2.5, Pitch: 0}}
	yaw, pitch := splitChannels(obs)
	assert.Equal(t, []float64{1, 2.5}, yaw)
	assert.Equal(t, []float64{-1, 0}, pitch)

	joined, err := joinChannels(yaw, pitch)
	require.NoError(t, err)
	assert.Equal(t, obs, joined)

	_, err = joinChannels([]float64{1}, nil)
	assert.Error(t, err)
}

func TestDisconnectedOperations(t *testing.T) {
	storage, err := NewPostgresStorage(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.SaveSample(ctx, &models.Sample{})
	assert.Error(t, err)
	_, err = storage.LoadDataset(ctx)
	assert.Error(t, err)
	assert.Error(t, storage.Delete(ctx, "x"))

	health, err := storage.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", health.Status)
}

func TestPostgresStorageIntegration(t *testing.T) {
	t.Skip("Integration test - requires running PostgreSQL instance")

	storage, err := NewPostgresStorage(testConfig(), logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()

	sample := &models.Sample{
		Label:        false,
		Observations: []models.Observation{{Yaw: 0.5, Pitch: 0.1}, {Yaw: 0.4, Pitch: 0.2}},
		Source:       "integration",
	}
	id, err := storage.SaveSample(ctx, sample)
	require.NoError(t, err)

	got, err := storage.GetSample(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sample.Observations, got.Observations)
	assert.Equal(t, "integration", got.Source)

	summary, err := storage.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Legit, 1)

	require.NoError(t, storage.Delete(ctx, id))
	assert.ErrorIs(t, storage.Delete(ctx, id), errors.ErrDataNotFound)
}
