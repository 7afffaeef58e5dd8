package ml

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/tests/helpers"
)

type countingRecorder struct {
	classifications int
	learnSteps      int
	loaded          int
	deleted         []string
	epochs          int
}

func (r *countingRecorder) RecordClassification(model string, probability float64, duration time.Duration) {
	r.classifications++
}
func (r *countingRecorder) RecordLearnStep(model string, label bool)     { r.learnSteps++ }
func (r *countingRecorder) SetModelsLoaded(count int)                   { r.loaded = count }
func (r *countingRecorder) SetModelParameters(model string, count int)  {}
func (r *countingRecorder) SetExecutorQueueDepth(model string, depth int) {}
func (r *countingRecorder) DeleteModel(model string)                    { r.deleted = append(r.deleted, model) }
func (r *countingRecorder) EpochObserver(model string) evaluation.Observer {
	return evaluation.ObserverFunc(func(evaluation.EpochReport) { r.epochs++ })
}

func newTestRegistry(t *testing.T) (*ModelRegistry, *LocalModelStorage) {
	t.Helper()
	logger := helpers.GetTestLogger(t)

	storage, err := NewLocalModelStorage(t.TempDir(), logger)
	require.NoError(t, err)

	config := DefaultRegistryConfig()
	config.Model = helpers.SmallModelConfig()

	registry, err := NewModelRegistry(storage, config, logger)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	return registry, storage
}

func storedModel(t *testing.T, cfg rnn.Config) []byte {
	t.Helper()
	model, err := rnn.New(cfg, logrus.New())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, model.Save(&buf))
	return buf.Bytes()
}

func TestNewModelRegistryValidation(t *testing.T) {
	_, err := NewModelRegistry(nil, nil, nil)
	assert.Error(t, err)

	storage, err := NewLocalModelStorage(t.TempDir(), nil)
	require.NoError(t, err)

	config := DefaultRegistryConfig()
	config.Model.HiddenSize = 0
	_, err = NewModelRegistry(storage, config, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestLoadOrCreateMissingStoresFreshModel(t *testing.T) {
	ctx := context.Background()
	registry, storage := newTestRegistry(t)

	handle, err := registry.LoadOrCreate(ctx, "default")
	require.NoError(t, err)
	assert.Len(t, handle, 36)

	exists, err := storage.Exists(ctx, "default")
	require.NoError(t, err)
	assert.True(t, exists)

	again, err := registry.LoadOrCreate(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, handle, again)

	mm, ok := registry.Lookup("default")
	require.True(t, ok)
	assert.Equal(t, handle, mm.Handle)
}

func TestLoadOrCreateLoadsStoredModel(t *testing.T) {
	ctx := context.Background()
	registry, storage := newTestRegistry(t)

	cfg := helpers.SmallModelConfig()
	cfg.Seed = 99
	payload := storedModel(t, cfg)
	_, err := storage.Store(ctx, "trained", bytes.NewReader(payload))
	require.NoError(t, err)

	handle, err := registry.LoadOrCreate(ctx, "trained")
	require.NoError(t, err)

	mm, err := registry.Get(handle)
	require.NoError(t, err)

	var saved bytes.Buffer
	require.NoError(t, mm.Do(ctx, func(m *rnn.Model) error { return m.Save(&saved) }))
	assert.Equal(t, payload, saved.Bytes())
}

func TestLoadOrCreateReplacesUnusableModels(t *testing.T) {
	ctx := context.Background()

	bigger := helpers.SmallModelConfig()
	bigger.HiddenSize = 5

	tests := []struct {
		name    string
		payload []byte
	}{
		{"garbage", []byte("definitely not a model")},
		{"truncated", storedModel(t, helpers.SmallModelConfig())[:40]},
		{"mismatch", storedModel(t, bigger)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, storage := newTestRegistry(t)
			_, err := storage.Store(ctx, "default", bytes.NewReader(tt.payload))
			require.NoError(t, err)

			_, err = registry.LoadOrCreate(ctx, "default")
			require.NoError(t, err)

			// the artifact was overwritten with a loadable model
			rc, err := storage.Retrieve(ctx, "default")
			require.NoError(t, err)
			defer rc.Close()

			model, err := rnn.New(helpers.SmallModelConfig(), logrus.New())
			require.NoError(t, err)
			assert.NoError(t, model.Load(rc))
		})
	}
}

func TestCreateGetRemove(t *testing.T) {
	ctx := context.Background()
	registry, storage := newTestRegistry(t)
	recorder := &countingRecorder{}
	registry.SetRecorder(recorder)

	handle, err := registry.Create(ctx, "scratch")
	require.NoError(t, err)
	assert.Equal(t, 1, recorder.loaded)

	exists, err := storage.Exists(ctx, "scratch")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = registry.Create(ctx, "scratch")
	assert.Error(t, err)

	_, err = registry.Create(ctx, "../bad")
	assert.Error(t, err)

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, errors.ErrModelNotFound)

	require.NoError(t, registry.Remove(handle))
	assert.Equal(t, 0, recorder.loaded)
	assert.Equal(t, []string{"scratch"}, recorder.deleted)
	assert.ErrorIs(t, registry.Remove(handle), errors.ErrModelNotFound)
	assert.Empty(t, registry.List())
}

func TestManagedModelOperations(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	registry, storage := newTestRegistry(t)
	recorder := &countingRecorder{}
	registry.SetRecorder(recorder)

	handle, err := registry.Create(env.Context, "default")
	require.NoError(t, err)
	mm, err := registry.Get(handle)
	require.NoError(t, err)

	p, err := mm.Check(env.Context, env.CheatSequence(120))
	require.NoError(t, err)
	helpers.AssertProbability(t, p)

	p, err = mm.Check(env.Context, env.LegitSequence(1))
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)

	p, err = mm.CheckAll(env.Context, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)

	require.NoError(t, mm.Learn(env.Context, env.CheatSequence(80), true))
	assert.Equal(t, 3, recorder.classifications)
	assert.Equal(t, 1, recorder.learnSteps)

	result, err := mm.Train(env.Context, env.GenerateTestDataset(8), 2)
	require.NoError(t, err)
	assert.Len(t, result.Epochs, 2)
	assert.Equal(t, 2, recorder.epochs)

	info, err := mm.Info(env.Context)
	require.NoError(t, err)
	assert.Equal(t, "default", info.Name)
	assert.Greater(t, info.TrainSteps, int64(0))

	metadata, err := registry.Save(env.Context, handle)
	require.NoError(t, err)
	assert.Greater(t, metadata.Size, int64(0))

	names, err := storage.List(env.Context)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)

	summaries := registry.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, info.Parameters, summaries[0].Parameters)
	assert.Equal(t, 1, registry.SaveAll(env.Context))
}

func TestManagedModelCheckWithExpiredContext(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	registry, _ := newTestRegistry(t)

	handle, err := registry.Create(env.Context, "default")
	require.NoError(t, err)
	mm, err := registry.Get(handle)
	require.NoError(t, err)

	long := env.CheatSequence(3000)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(env.Context, time.Millisecond)
		p, err := mm.Check(ctx, long)
		cancel()
		if err != nil {
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Zero(t, p)
		} else {
			helpers.AssertProbability(t, p)
		}
	}

	// queued behind any abandoned checks
	info, err := mm.Info(env.Context)
	require.NoError(t, err)
	assert.Equal(t, "default", info.Name)
}

func TestManagedModelTrainSurvivesCancel(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	registry, _ := newTestRegistry(t)

	ctx, cancel := context.WithCancel(env.Context)
	defer cancel()
	registry.AddObserver(evaluation.ObserverFunc(func(evaluation.EpochReport) { cancel() }))

	handle, err := registry.Create(env.Context, "default")
	require.NoError(t, err)
	mm, err := registry.Get(handle)
	require.NoError(t, err)

	result, err := mm.Train(ctx, env.GenerateTestDataset(8), 2)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Epochs, 2)
	assert.Error(t, ctx.Err())
}

func TestRegistryClose(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	handle, err := registry.Create(ctx, "default")
	require.NoError(t, err)
	mm, err := registry.Get(handle)
	require.NoError(t, err)

	registry.Close()

	_, err = mm.Check(ctx, nil)
	assert.ErrorIs(t, err, errors.ErrExecutorClosed)

	_, err = registry.Create(ctx, "other")
	assert.ErrorIs(t, err, errors.ErrExecutorClosed)
}
