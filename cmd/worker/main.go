package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/observability/health"
	"github.com/inferloop/aimguard/internal/observability/metrics"
	"github.com/inferloop/aimguard/internal/server"
	"github.com/inferloop/aimguard/internal/storage"
	"github.com/inferloop/aimguard/internal/storage/implementations/influxdb"
	"github.com/inferloop/aimguard/internal/storage/implementations/redis"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

var logger *logrus.Logger

// worker bundles the long-lived components main wires together
type worker struct {
	config    *WorkerConfig
	redis     *redis.RedisStorage
	datasets  interfaces.DatasetStore
	sink      *influxdb.InfluxDBStorage
	registry  *ml.ModelRegistry
	metrics   *metrics.PrometheusMetrics
	monitor   *health.HealthMonitor
	scheduler *Scheduler
	processor *JobProcessor
	server    *http.Server
}

func main() {
	config, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger = setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"workerID":    config.WorkerID,
		"concurrency": config.Concurrency,
		"queue":       config.Queue,
		"storage":     config.Storage.Backend,
	}).Info("Starting aimguard worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	w, err := newWorker(ctx, config)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize worker")
	}

	// Start worker components
	if err := w.monitor.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start health monitoring")
	}

	go func() {
		logger.WithField("addr", w.server.Addr).Info("Ops server listening")
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Ops server failed")
		}
	}()

	go w.scheduler.Start(ctx)

	processorDone := make(chan struct{})
	go func() {
		w.processor.Start(ctx, w.scheduler.GetJobQueue())
		close(processorDone)
	}()

	// Monitor worker health and autosave models
	go w.housekeeping(ctx)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := w.gracefulShutdown(shutdownCtx, processorDone); err != nil {
		logger.WithError(err).Error("Worker shutdown failed")
		os.Exit(1)
	}

	logger.Info("Worker stopped successfully")
}

// parseFlags loads the config file and lets explicit flags override it
func parseFlags() (*WorkerConfig, error) {
	var (
		cfgFile     string
		workerID    string
		concurrency int
		addr        string
		logLevel    string
		logFormat   string
	)

	flag.StringVar(&cfgFile, "config", "", "Config file (default ./worker.yaml)")
	flag.StringVar(&workerID, "worker-id", "", "Unique worker ID")
	flag.IntVar(&concurrency, "concurrency", 0, "Number of concurrent jobs")
	flag.StringVar(&addr, "addr", "", "Ops server address (health, metrics, model API)")
	flag.StringVar(&logLevel, "log-level", "", "Log level")
	flag.StringVar(&logFormat, "log-format", "", "Log format")

	flag.Parse()

	config, err := loadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if workerID != "" {
		config.WorkerID = workerID
	}
	if concurrency > 0 {
		config.Concurrency = concurrency
	}
	if addr != "" {
		config.Addr = addr
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFormat != "" {
		config.LogFormat = logFormat
	}

	return config, nil
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func newWorker(ctx context.Context, config *WorkerConfig) (*worker, error) {
	w := &worker{config: config}

	promMetrics, err := metrics.NewPrometheusMetrics(&config.Metrics, logger)
	if err != nil {
		return nil, err
	}
	w.metrics = promMetrics

	// Job queue
	redisConfig := config.Storage.Redis
	w.redis, err = redis.NewRedisStorage(&redisConfig, logger)
	if err != nil {
		return nil, err
	}
	if err := w.redis.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to job queue: %w", err)
	}
	queue := redis.NewJobQueue(w.redis, config.Queue)

	// Dataset store for train jobs
	factory := storage.NewFactory(logger)
	w.datasets, err = factory.CreateDatasetStore(&config.Storage)
	if err != nil {
		return nil, err
	}
	if err := w.datasets.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to dataset storage: %w", err)
	}

	// Models
	modelStorage, err := ml.NewModelStorage(ctx, &config.ModelStorage, logger)
	if err != nil {
		return nil, err
	}
	registryConfig := config.Registry
	w.registry, err = ml.NewModelRegistry(modelStorage, &registryConfig, logger)
	if err != nil {
		return nil, err
	}
	w.registry.SetRecorder(promMetrics)

	if config.EpochSink {
		w.sink, err = factory.CreateEpochSink(&config.Storage)
		if err != nil {
			return nil, err
		}
		if err := w.sink.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
		w.registry.AddObserver(w.sink.Observer(""))
	}

	// Health
	healthConfig := config.Health
	w.monitor = health.NewHealthMonitor(&healthConfig, logger)
	w.monitor.SetRecorder(promMetrics)
	w.monitor.RegisterCheck(health.NewStorageCheck("job_queue", w.redis, true, 5*time.Second))
	w.monitor.RegisterCheck(health.NewStorageCheck("dataset_storage", w.datasets, false, 5*time.Second))
	if w.sink != nil {
		w.monitor.RegisterCheck(health.NewStorageCheck("epoch_sink", w.sink, false, 5*time.Second))
	}

	// Jobs
	w.scheduler = NewScheduler(config, queue, logger)
	w.processor = NewJobProcessor(config, w.registry, w.datasets, queue, logger)
	w.processor.SetRecorder(promMetrics)

	// Ops server
	router := mux.NewRouter()
	router.Handle("/health", w.monitor.Handler()).Methods(http.MethodGet)
	router.Handle(config.Metrics.Path, promMetrics.Handler()).Methods(http.MethodGet)
	ml.NewModelRegistryHandler(w.registry, logger).RegisterRoutes(router.PathPrefix(server.APIPrefix).Subrouter())

	w.server = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  constants.DefaultReadTimeout,
		WriteTimeout: constants.DefaultWriteTimeout,
	}

	return w, nil
}

func (w *worker) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var autosave <-chan time.Time
	if w.config.AutosaveInterval > 0 {
		autosaveTicker := time.NewTicker(w.config.AutosaveInterval)
		defer autosaveTicker.Stop()
		autosave = autosaveTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"activeJobs":    w.processor.ActiveJobs(),
				"completedJobs": w.processor.CompletedJobs(),
				"failedJobs":    w.processor.FailedJobs(),
				"models":        len(w.registry.List()),
			}).Debug("Worker health check")
		case <-autosave:
			saved := w.registry.SaveAll(ctx)
			logger.WithField("models", saved).Debug("Autosaved models")
		}
	}
}

func (w *worker) gracefulShutdown(ctx context.Context, processorDone <-chan struct{}) error {
	logger.Info("Starting graceful shutdown")

	// Stop accepting new jobs; the processor drains what was handed out
	w.scheduler.Stop()

	select {
	case <-processorDone:
		logger.Info("All jobs completed")
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded with %d active jobs", w.processor.ActiveJobs())
	}

	saved := w.registry.SaveAll(ctx)
	logger.WithField("models", saved).Info("Saved models")
	w.registry.Close()

	if err := w.server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Ops server shutdown failed")
	}

	if w.sink != nil {
		w.sink.Close()
	}
	w.datasets.Close()
	w.redis.Close()

	return nil
}
