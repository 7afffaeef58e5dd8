package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/models"
)

// jobStateTTL bounds how long finished job states stay readable
const jobStateTTL = 24 * time.Hour

// JobQueue is a FIFO job list on Redis: producers LPUSH, the worker BRPOPs.
// The latest state of every job is kept under its own key.
type JobQueue struct {
	storage *RedisStorage
	queue   string
}

// NewJobQueue creates a queue named queue on top of a Redis storage connection
func NewJobQueue(storage *RedisStorage, queue string) *JobQueue {
	if queue == "" {
		queue = constants.DefaultJobQueue
	}
	return &JobQueue{storage: storage, queue: queue}
}

// Enqueue pushes a pending job and returns its id
func (q *JobQueue) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	client, err := q.storage.getClient()
	if err != nil {
		return "", err
	}

	if job == nil {
		return "", errors.NewValidationError(errors.CodeInvalidInput, "Job cannot be nil")
	}

	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Status = constants.JobStatusPending

	data, err := msgpack.Marshal(job)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeJob, errors.CodeWriteFailed, "Failed to encode job")
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, q.stateKey(job.ID), data, jobStateTTL)
	pipe.LPush(ctx, q.queueKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		q.storage.incrementErrorCount()
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to enqueue job")
	}

	q.storage.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"model":    job.Model,
	}).Debug("Job enqueued")

	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job and returns nil, nil when none arrived
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	client, err := q.storage.getClient()
	if err != nil {
		return nil, err
	}

	result, err := client.BRPop(ctx, timeout, q.queueKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.storage.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to dequeue job")
	}

	// BRPOP answers [key, value]
	if len(result) != 2 {
		return nil, errors.NewAppError(errors.ErrorTypeJob, errors.CodeReadFailed, "Unexpected BRPOP reply")
	}

	var job models.Job
	if err := msgpack.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeJob, errors.CodeReadFailed, "Failed to decode job")
	}
	return &job, nil
}

// UpdateStatus stores the job's latest state
func (q *JobQueue) UpdateStatus(ctx context.Context, job *models.Job) error {
	client, err := q.storage.getClient()
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()
	data, err := msgpack.Marshal(job)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeJob, errors.CodeWriteFailed, "Failed to encode job")
	}

	if err := client.Set(ctx, q.stateKey(job.ID), data, jobStateTTL).Err(); err != nil {
		q.storage.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to update job status")
	}
	return nil
}

// GetJob reads the latest state of a job
func (q *JobQueue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	client, err := q.storage.getClient()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, q.stateKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NewAppError(errors.ErrorTypeJob, errors.CodeJobNotFound, "job not found").WithDetails(id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read job")
	}

	var job models.Job
	if err := msgpack.Unmarshal(data, &job); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeJob, errors.CodeReadFailed, "Failed to decode job")
	}
	return &job, nil
}

// Length returns the number of queued jobs
func (q *JobQueue) Length(ctx context.Context) (int64, error) {
	client, err := q.storage.getClient()
	if err != nil {
		return 0, err
	}
	return client.LLen(ctx, q.queueKey()).Result()
}

func (q *JobQueue) queueKey() string {
	return q.storage.key("queue", q.queue)
}

func (q *JobQueue) stateKey(id string) string {
	return q.storage.key("job", id)
}
