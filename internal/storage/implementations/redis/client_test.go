package redis

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/models"
)

func TestNewRedisStorage(t *testing.T) {
	config := &RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}

	logger := logrus.New()
	storage, err := NewRedisStorage(config, logger)

	require.NoError(t, err)
	require.NotNil(t, storage)
	assert.Equal(t, config, storage.config)
	assert.Equal(t, logger, storage.logger)
}

func TestNewRedisStorageInvalidConfig(t *testing.T) {
	_, err := NewRedisStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewRedisStorage(&RedisConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address or cluster addresses are required")
}

func TestRedisStorageGenerateKeys(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "test",
	}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "test:sample:s-1", storage.generateSampleKey("s-1"))
	assert.Equal(t, "test:samples:cheat", storage.generateLabelKey(true))
	assert.Equal(t, "test:samples:legit", storage.generateLabelKey(false))

	queue := NewJobQueue(storage, "")
	assert.Equal(t, "test:queue:"+constants.DefaultJobQueue, queue.queueKey())
	assert.Equal(t, "test:job:j-1", queue.stateKey("j-1"))
}

func TestRedisStorageGenerateKeysNoPrefix(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "sample:s-1", storage.generateSampleKey("s-1"))
	assert.Equal(t, "samples:legit", storage.generateLabelKey(false))
	assert.Equal(t, "queue:training", NewJobQueue(storage, "training").queueKey())
}

func TestRedisStorageMetricsIncrements(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, int64(0), storage.metrics.readOps)
	assert.Equal(t, int64(0), storage.metrics.writeOps)

	storage.incrementReadOps()
	storage.incrementWriteOps()
	storage.incrementDeleteOps()
	storage.incrementErrorCount()
	storage.incrementHitCount()
	storage.incrementMissCount()

	metrics, err := storage.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.ReadOperations)
	assert.Equal(t, int64(1), metrics.WriteOperations)
	assert.Equal(t, int64(1), metrics.DeleteOperations)
	assert.Equal(t, int64(1), metrics.ErrorCount)
	assert.Equal(t, int64(1), storage.metrics.hitCount)
	assert.Equal(t, int64(1), storage.metrics.missCount)
}

func TestRedisStorageDisconnected(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.SaveSample(ctx, &models.Sample{})
	assert.Error(t, err)
	_, err = storage.Count(ctx)
	assert.Error(t, err)

	queue := NewJobQueue(storage, "")
	_, err = queue.Enqueue(ctx, &models.Job{Type: constants.JobTypeCheck})
	assert.Error(t, err)
	_, err = queue.Dequeue(ctx, time.Millisecond)
	assert.Error(t, err)

	health, err := storage.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", health.Status)
}

func TestRedisStorageIntegration(t *testing.T) {
	t.Skip("Integration test - requires running Redis instance")

	storage, err := NewRedisStorage(&RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "aimguard-test",
	}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()

	sample := &models.Sample{
		Label:        true,
		Observations: []models.Observation{{Yaw: 1, Pitch: 2}, {Yaw: 3, Pitch: 4}},
	}
	id, err := storage.SaveSample(ctx, sample)
	require.NoError(t, err)

	got, err := storage.GetSample(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sample.Observations, got.Observations)

	summary, err := storage.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Cheat, 1)

	require.NoError(t, storage.Delete(ctx, id))
	_, err = storage.GetSample(ctx, id)
	assert.ErrorIs(t, err, errors.ErrDataNotFound)
}

func TestJobQueueIntegration(t *testing.T) {
	t.Skip("Integration test - requires running Redis instance")

	storage, err := NewRedisStorage(&RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "aimguard-test",
	}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()

	queue := NewJobQueue(storage, "it")
	first, err := queue.Enqueue(ctx, &models.Job{Type: constants.JobTypeTrain, Model: "default", Epochs: 3})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, &models.Job{Type: constants.JobTypeSave, Model: "default"})
	require.NoError(t, err)

	job, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)
	assert.Equal(t, 3, job.Epochs)

	job.Status = constants.JobStatusCompleted
	require.NoError(t, queue.UpdateStatus(ctx, job))

	state, err := queue.GetJob(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, state.Status)
}
