package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

// Scheduler pulls jobs off the queue and hands them to the processor
type Scheduler struct {
	config   *WorkerConfig
	logger   *logrus.Logger
	queue    interfaces.JobQueue
	jobQueue chan *models.Job
	stop     chan struct{}
	once     sync.Once
	mu       sync.RWMutex
	running  bool
}

func NewScheduler(config *WorkerConfig, queue interfaces.JobQueue, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		config:   config,
		logger:   logger,
		queue:    queue,
		jobQueue: make(chan *models.Job, config.Concurrency*2),
		stop:     make(chan struct{}),
	}
}

// Start polls until ctx is done or Stop is called, then closes the job channel
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.jobQueue)
	}()

	s.logger.Info("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping due to context cancellation")
			return
		case <-s.stop:
			s.logger.Info("Scheduler stopped")
			return
		default:
		}

		job, err := s.queue.Dequeue(ctx, s.config.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.WithError(err).Error("Failed to fetch pending jobs")
			s.backoff(ctx)
			continue
		}
		if job == nil {
			continue
		}

		select {
		case s.jobQueue <- job:
			s.logger.WithFields(logrus.Fields{
				"jobID": job.ID,
				"type":  job.Type,
				"model": job.Model,
			}).Debug("Job queued")
		case <-ctx.Done():
			s.logger.WithField("jobID", job.ID).Warn("Dropping dequeued job on shutdown")
			return
		case <-s.stop:
			s.requeue(job)
			return
		}
	}
}

// Stop asks Start to return after the current poll
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.logger.Info("Scheduler stop requested")
	})
}

func (s *Scheduler) GetJobQueue() <-chan *models.Job {
	return s.jobQueue
}

func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.stop:
	case <-time.After(s.config.PollInterval):
	}
}

// requeue puts back a job that was dequeued but never handed out
func (s *Scheduler) requeue(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.WithError(err).WithField("jobID", job.ID).Error("Failed to requeue job")
	}
}
