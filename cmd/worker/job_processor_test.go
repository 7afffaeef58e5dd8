package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/internal/storage/implementations/file"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
	"github.com/inferloop/aimguard/tests/helpers"
)

// memoryQueue is an in-process JobQueue
type memoryQueue struct {
	mu      sync.Mutex
	pending chan *models.Job
	states  map[string]models.Job
	queued  int
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{
		pending: make(chan *models.Job, 16),
		states:  make(map[string]models.Job),
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	q.mu.Lock()
	job.Status = constants.JobStatusPending
	q.states[job.ID] = *job
	q.queued++
	q.mu.Unlock()

	q.pending <- job
	return job.ID, nil
}

func (q *memoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	select {
	case job := <-q.pending:
		return job, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *memoryQueue) UpdateStatus(ctx context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.states[job.ID] = *job
	return nil
}

func (q *memoryQueue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.states[id]
	if !ok {
		return nil, errors.NewAppError(errors.ErrorTypeJob, errors.CodeJobNotFound, "job not found")
	}
	return &job, nil
}

// flakyDataset fails LoadDataset with a retryable error
type flakyDataset struct {
	interfaces.DatasetStore
}

func (f *flakyDataset) LoadDataset(ctx context.Context) ([]models.Sample, error) {
	return nil, errors.ErrStorageTimeout
}

type jobCounter struct {
	mu     sync.Mutex
	byType map[string]int
	active float64
}

func (c *jobCounter) RecordWorkerJob(jobType, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byType == nil {
		c.byType = make(map[string]int)
	}
	c.byType[jobType+"/"+status]++
}

func (c *jobCounter) SetActiveJobs(count float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = count
}

type processorFixture struct {
	env       *helpers.TestEnvironment
	config    *WorkerConfig
	queue     *memoryQueue
	datasets  *file.FileStorage
	registry  *ml.ModelRegistry
	processor *JobProcessor
	recorder  *jobCounter
	modelDir  string
}

func newProcessorFixture(t *testing.T) *processorFixture {
	env := helpers.NewTestEnvironment(t)
	dir := t.TempDir()

	datasets, err := file.NewFileStorage(&file.FileStorageConfig{
		BasePath:   filepath.Join(dir, "dataset"),
		CreateDirs: true,
	}, env.Logger)
	require.NoError(t, err)
	require.NoError(t, datasets.Connect(env.Context))

	modelDir := filepath.Join(dir, "models")
	modelStorage, err := ml.NewLocalModelStorage(modelDir, env.Logger)
	require.NoError(t, err)

	config := defaultConfig()
	config.Concurrency = 2
	config.PollInterval = 20 * time.Millisecond
	config.Epochs = 1
	config.MaxRetries = 2
	config.Registry.Model = helpers.SmallModelConfig()

	registryConfig := config.Registry
	registry, err := ml.NewModelRegistry(modelStorage, &registryConfig, env.Logger)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	queue := newMemoryQueue()
	recorder := &jobCounter{}
	processor := NewJobProcessor(config, registry, datasets, queue, env.Logger)
	processor.SetRecorder(recorder)

	return &processorFixture{
		env:       env,
		config:    config,
		queue:     queue,
		datasets:  datasets,
		registry:  registry,
		processor: processor,
		recorder:  recorder,
		modelDir:  modelDir,
	}
}

func (f *processorFixture) run(t *testing.T, job *models.Job) models.Job {
	t.Helper()
	f.processor.processJob(f.env.Context, job, 0)
	state, err := f.queue.GetJob(f.env.Context, job.ID)
	require.NoError(t, err)
	return *state
}

func TestJobProcessorMetrics(t *testing.T) {
	f := newProcessorFixture(t)

	assert.Equal(t, int32(0), f.processor.ActiveJobs())
	assert.Equal(t, int64(0), f.processor.CompletedJobs())
	assert.Equal(t, int64(0), f.processor.FailedJobs())
}

func TestJobProcessorTrainJob(t *testing.T) {
	f := newProcessorFixture(t)

	for _, sample := range f.env.GenerateTestDataset(10) {
		sample := sample
		_, err := f.datasets.SaveSample(f.env.Context, &sample)
		require.NoError(t, err)
	}

	state := f.run(t, &models.Job{ID: "train-1", Type: constants.JobTypeTrain, Model: "worker-model"})

	assert.Equal(t, constants.JobStatusCompleted, state.Status)
	assert.Equal(t, 1, state.Attempts)
	assert.Equal(t, 1, state.Result["best_epoch"])
	assert.Equal(t, filepath.Join(f.modelDir, "worker-model"+constants.DefaultModelExtension), state.Result["location"])
	assert.FileExists(t, filepath.Join(f.modelDir, "worker-model"+constants.DefaultModelExtension))
	assert.Equal(t, int64(1), f.processor.CompletedJobs())
	assert.Equal(t, 1, f.recorder.byType["train/completed"])
}

func TestJobProcessorTrainJobOutlivesCancel(t *testing.T) {
	f := newProcessorFixture(t)

	for _, sample := range f.env.GenerateTestDataset(10) {
		sample := sample
		_, err := f.datasets.SaveSample(f.env.Context, &sample)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(f.env.Context)
	defer cancel()
	f.registry.AddObserver(evaluation.ObserverFunc(func(evaluation.EpochReport) { cancel() }))

	job := &models.Job{ID: "train-late", Type: constants.JobTypeTrain, Model: "late-model"}
	f.processor.processJob(ctx, job, 0)

	state, err := f.queue.GetJob(f.env.Context, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, state.Status)
	assert.FileExists(t, filepath.Join(f.modelDir, "late-model"+constants.DefaultModelExtension))
	assert.Equal(t, state.Result["location"], filepath.Join(f.modelDir, "late-model"+constants.DefaultModelExtension))
}

func TestJobProcessorTrainEmptyDataset(t *testing.T) {
	f := newProcessorFixture(t)

	state := f.run(t, &models.Job{ID: "train-empty", Type: constants.JobTypeTrain, Model: "empty"})

	assert.Equal(t, constants.JobStatusFailed, state.Status)
	assert.Contains(t, state.Error, "insufficient training data")
	assert.Equal(t, int64(1), f.processor.FailedJobs())
}

func TestJobProcessorCheckAndLearn(t *testing.T) {
	f := newProcessorFixture(t)
	obs := f.env.CheatSequence(80)

	state := f.run(t, &models.Job{ID: "check-1", Type: constants.JobTypeCheck, Model: "m", Observations: obs})
	require.Equal(t, constants.JobStatusCompleted, state.Status)
	p, ok := state.Result["probability"].(float64)
	require.True(t, ok)
	helpers.AssertProbability(t, p)
	assert.Equal(t, p >= constants.DefaultDecisionThreshold, state.Result["cheat"])

	state = f.run(t, &models.Job{
		ID:        "check-2",
		Type:      constants.JobTypeCheck,
		Model:     "m",
		Sequences: [][]models.Observation{obs, f.env.LegitSequence(80)},
	})
	require.Equal(t, constants.JobStatusCompleted, state.Status)

	state = f.run(t, &models.Job{ID: "learn-1", Type: constants.JobTypeLearn, Model: "m", Observations: obs, Label: true})
	require.Equal(t, constants.JobStatusCompleted, state.Status)
	assert.Equal(t, 1, state.Result["steps"])

	mm, ok := f.registry.Lookup("m")
	require.True(t, ok)
	info, err := mm.Info(f.env.Context)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.TrainSteps)
}

func TestJobProcessorSaveJob(t *testing.T) {
	f := newProcessorFixture(t)

	state := f.run(t, &models.Job{ID: "save-1", Type: constants.JobTypeSave, Model: "saved"})

	require.Equal(t, constants.JobStatusCompleted, state.Status)
	assert.NotEmpty(t, state.Result["checksum"])
	assert.FileExists(t, filepath.Join(f.modelDir, "saved"+constants.DefaultModelExtension))
}

func TestJobProcessorRejectsBadJobs(t *testing.T) {
	f := newProcessorFixture(t)

	tests := []struct {
		name string
		job  *models.Job
		want string
	}{
		{"unknown type", &models.Job{ID: "bad-1", Type: "export", Model: "m"}, errors.CodeUnknownJobType},
		{"no model", &models.Job{ID: "bad-2", Type: constants.JobTypeSave}, errors.CodeMissingField},
		{"learn without data", &models.Job{ID: "bad-3", Type: constants.JobTypeLearn, Model: "m"}, errors.CodeMissingField},
		{"check without data", &models.Job{ID: "bad-4", Type: constants.JobTypeCheck, Model: "m"}, errors.CodeMissingField},
		{"invalid model name", &models.Job{ID: "bad-5", Type: constants.JobTypeSave, Model: "../etc"}, errors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := f.run(t, tt.job)
			assert.Equal(t, constants.JobStatusFailed, state.Status)
			assert.Contains(t, state.Error, tt.want)
			assert.Equal(t, 1, state.Attempts)
		})
	}
	assert.Zero(t, f.queue.queued)
}

func TestJobProcessorRetriesTransientErrors(t *testing.T) {
	f := newProcessorFixture(t)
	f.processor.datasets = &flakyDataset{DatasetStore: f.datasets}

	job := &models.Job{ID: "flaky", Type: constants.JobTypeTrain, Model: "m"}

	state := f.run(t, job)
	assert.Equal(t, constants.JobStatusPending, state.Status)
	assert.Equal(t, 1, f.queue.queued)

	requeued, err := f.queue.Dequeue(f.env.Context, time.Second)
	require.NoError(t, err)
	require.NotNil(t, requeued)

	state = f.run(t, requeued)
	assert.Equal(t, constants.JobStatusFailed, state.Status)
	assert.Equal(t, 2, state.Attempts)
	assert.Equal(t, 1, f.queue.queued)
}

func TestSchedulerAndProcessor(t *testing.T) {
	f := newProcessorFixture(t)

	ctx, cancel := context.WithCancel(f.env.Context)
	defer cancel()

	scheduler := NewScheduler(f.config, f.queue, f.env.Logger)
	go scheduler.Start(ctx)

	done := make(chan struct{})
	go func() {
		f.processor.Start(ctx, scheduler.GetJobQueue())
		close(done)
	}()

	for i, id := range []string{"a", "b", "c"} {
		_, err := f.queue.Enqueue(ctx, &models.Job{
			ID:           id,
			Type:         constants.JobTypeCheck,
			Model:        "sched",
			Observations: f.env.LegitSequence(60 + i),
		})
		require.NoError(t, err)
	}

	f.env.WaitForCondition(func() bool {
		return f.processor.CompletedJobs() == 3
	}, 10*time.Second, "all jobs processed")

	scheduler.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop after scheduler stop")
	}
	assert.False(t, scheduler.Running())

	for _, id := range []string{"a", "b", "c"} {
		state, err := f.queue.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusCompleted, state.Status)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := loadConfig(filepath.Join("testdata", "worker.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, config.Concurrency)
	assert.Equal(t, "training", config.Queue)
	assert.Equal(t, 2*time.Second, config.PollInterval)
	assert.Equal(t, constants.StorageBackendRedis, config.Storage.Backend)
	assert.Equal(t, 8, config.Registry.Model.HiddenSize)
	assert.Equal(t, constants.DefaultJobTimeout, config.JobTimeout)
	assert.Equal(t, constants.DefaultJobQueue, defaultConfig().Queue)
}
