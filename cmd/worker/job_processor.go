package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

// JobRecorder receives job outcomes, typically the Prometheus metrics
type JobRecorder interface {
	RecordWorkerJob(jobType, status string, duration time.Duration)
	SetActiveJobs(count float64)
}

type JobProcessor struct {
	config        *WorkerConfig
	logger        *logrus.Logger
	registry      *ml.ModelRegistry
	datasets      interfaces.DatasetStore
	queue         interfaces.JobQueue
	recorder      JobRecorder
	activeJobs    int32
	completedJobs int64
	failedJobs    int64
	wg            sync.WaitGroup
}

func NewJobProcessor(config *WorkerConfig, registry *ml.ModelRegistry, datasets interfaces.DatasetStore, queue interfaces.JobQueue, logger *logrus.Logger) *JobProcessor {
	return &JobProcessor{
		config:   config,
		logger:   logger,
		registry: registry,
		datasets: datasets,
		queue:    queue,
	}
}

func (jp *JobProcessor) SetRecorder(recorder JobRecorder) {
	jp.recorder = recorder
}

// Start runs Concurrency workers over jobs and returns once all have stopped
func (jp *JobProcessor) Start(ctx context.Context, jobs <-chan *models.Job) {
	jp.logger.Info("Job processor started")

	// Create worker pool
	for i := 0; i < jp.config.Concurrency; i++ {
		jp.wg.Add(1)
		go jp.worker(ctx, i, jobs)
	}

	// Wait for all workers to complete
	jp.wg.Wait()
	jp.logger.Info("All workers stopped")
}

func (jp *JobProcessor) worker(ctx context.Context, workerID int, jobs <-chan *models.Job) {
	defer jp.wg.Done()

	jp.logger.WithField("workerID", workerID).Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			jp.logger.WithField("workerID", workerID).Debug("Worker stopping")
			return
		case job, ok := <-jobs:
			if !ok {
				jp.logger.WithField("workerID", workerID).Debug("Job queue closed, worker stopping")
				return
			}

			jp.processJob(ctx, job, workerID)
		}
	}
}

func (jp *JobProcessor) processJob(ctx context.Context, job *models.Job, workerID int) {
	jp.setActive(atomic.AddInt32(&jp.activeJobs, 1))
	defer func() { jp.setActive(atomic.AddInt32(&jp.activeJobs, -1)) }()

	startTime := time.Now()
	logger := jp.logger.WithFields(logrus.Fields{
		"jobID":    job.ID,
		"jobType":  job.Type,
		"model":    job.Model,
		"workerID": workerID,
	})

	logger.Info("Processing job")

	// Update job status to running
	job.Status = constants.JobStatusRunning
	job.Attempts++
	job.Error = ""
	jp.updateStatus(ctx, job, logger)

	jobCtx := ctx
	if jp.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, jp.config.JobTimeout)
		defer cancel()
	}

	result, err := jp.execute(jobCtx, job)
	duration := time.Since(startTime)

	if err != nil {
		atomic.AddInt64(&jp.failedJobs, 1)
		logger.WithError(err).WithField("duration", duration).Error("Job failed")
		jp.record(job.Type, constants.JobStatusFailed, duration)

		if errors.IsRetryable(err) && job.Attempts < jp.config.MaxRetries {
			logger.WithField("attempts", job.Attempts).Warn("Requeueing job")
			_, requeueErr := jp.queue.Enqueue(ctx, job)
			if requeueErr == nil {
				return
			}
			logger.WithError(requeueErr).Error("Failed to requeue job")
		}

		job.Status = constants.JobStatusFailed
		job.Error = err.Error()
		jp.updateStatus(ctx, job, logger)
		return
	}

	atomic.AddInt64(&jp.completedJobs, 1)
	logger.WithField("duration", duration).Info("Job completed successfully")
	jp.record(job.Type, constants.JobStatusCompleted, duration)

	job.Status = constants.JobStatusCompleted
	job.Result = result
	jp.updateStatus(ctx, job, logger)
}

func (jp *JobProcessor) execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	switch job.Type {
	case constants.JobTypeTrain:
		return jp.processTrainJob(ctx, job)
	case constants.JobTypeLearn:
		return jp.processLearnJob(ctx, job)
	case constants.JobTypeCheck:
		return jp.processCheckJob(ctx, job)
	case constants.JobTypeSave:
		return jp.processSaveJob(ctx, job)
	default:
		return nil, errors.NewAppError(errors.ErrorTypeJob, errors.CodeUnknownJobType, "unknown job type").WithDetails(job.Type)
	}
}

func (jp *JobProcessor) model(ctx context.Context, job *models.Job) (*ml.ManagedModel, error) {
	if job.Model == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "job has no model")
	}

	handle, err := jp.registry.LoadOrCreate(ctx, job.Model)
	if err != nil {
		return nil, err
	}
	return jp.registry.Get(handle)
}

func (jp *JobProcessor) processTrainJob(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if jp.datasets == nil {
		return nil, errors.ErrInvalidConfiguration.WithDetails("no dataset store configured")
	}

	model, err := jp.model(ctx, job)
	if err != nil {
		return nil, err
	}

	dataset, err := jp.datasets.LoadDataset(ctx)
	if err != nil {
		return nil, err
	}
	if len(dataset) == 0 {
		return nil, errors.ErrInsufficientData.WithDetails("dataset is empty")
	}

	epochs := job.Epochs
	if epochs <= 0 {
		epochs = jp.config.Epochs
	}

	jp.logger.WithFields(logrus.Fields{
		"model":   job.Model,
		"samples": len(dataset),
		"epochs":  epochs,
	}).Info("Training model")

	trained, err := model.Train(ctx, dataset, epochs)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"best_epoch":         trained.BestEpoch,
		"train_samples":      trained.TrainSamples,
		"validation_samples": trained.ValidationSamples,
		"skipped_samples":    trained.SkippedSamples,
		"val_f1":             trained.Best.F1,
		"val_roc_auc":        trained.Best.ROCAUC,
		"duration_seconds":   trained.Duration.Seconds(),
	}

	if trained.BestEpoch > 0 {
		// the job timeout stops applying once training has finished
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultStorageTimeout)
		defer cancel()

		meta, err := jp.registry.Save(saveCtx, model.Handle)
		if err != nil {
			return nil, err
		}
		result["location"] = meta.Location
		result["checksum"] = meta.Checksum
	}

	return result, nil
}

func (jp *JobProcessor) processLearnJob(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if len(job.Observations) == 0 {
		return nil, errors.NewValidationError(errors.CodeMissingField, "learn job has no observations")
	}

	model, err := jp.model(ctx, job)
	if err != nil {
		return nil, err
	}

	if err := model.Learn(ctx, job.Observations, job.Label); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"steps":        1,
		"label":        job.Label,
		"observations": len(job.Observations),
	}, nil
}

func (jp *JobProcessor) processCheckJob(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if len(job.Observations) == 0 && len(job.Sequences) == 0 {
		return nil, errors.NewValidationError(errors.CodeMissingField, "check job has no observations")
	}

	model, err := jp.model(ctx, job)
	if err != nil {
		return nil, err
	}

	var p float64
	if len(job.Sequences) > 0 {
		p, err = model.CheckAll(ctx, job.Sequences)
	} else {
		p, err = model.Check(ctx, job.Observations)
	}
	if err != nil {
		return nil, err
	}

	threshold := jp.config.Registry.Model.DecisionThreshold
	return map[string]interface{}{
		"probability": p,
		"cheat":       p >= threshold,
	}, nil
}

func (jp *JobProcessor) processSaveJob(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	model, err := jp.model(ctx, job)
	if err != nil {
		return nil, err
	}

	meta, err := jp.registry.Save(ctx, model.Handle)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"location": meta.Location,
		"size":     meta.Size,
		"checksum": meta.Checksum,
	}, nil
}

func (jp *JobProcessor) updateStatus(ctx context.Context, job *models.Job, logger *logrus.Entry) {
	if err := jp.queue.UpdateStatus(ctx, job); err != nil {
		logger.WithError(err).Error("Failed to update job status")
	}
}

func (jp *JobProcessor) record(jobType, status string, duration time.Duration) {
	if jp.recorder != nil {
		jp.recorder.RecordWorkerJob(jobType, status, duration)
	}
}

func (jp *JobProcessor) setActive(n int32) {
	if jp.recorder != nil {
		jp.recorder.SetActiveJobs(float64(n))
	}
}

func (jp *JobProcessor) ActiveJobs() int32 {
	return atomic.LoadInt32(&jp.activeJobs)
}

func (jp *JobProcessor) CompletedJobs() int64 {
	return atomic.LoadInt64(&jp.completedJobs)
}

func (jp *JobProcessor) FailedJobs() int64 {
	return atomic.LoadInt64(&jp.failedJobs)
}
