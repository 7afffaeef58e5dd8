package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/pkg/constants"
)

// PrometheusMetrics provides Prometheus-based metrics collection
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig
	mu       sync.RWMutex

	// Classification metrics
	classificationsTotal   *prometheus.CounterVec
	classificationScore    *prometheus.HistogramVec
	classificationDuration *prometheus.HistogramVec
	learnStepsTotal        *prometheus.CounterVec

	// Training metrics
	trainingEpochsTotal *prometheus.CounterVec
	trainingLoss        *prometheus.GaugeVec
	validationMetric    *prometheus.GaugeVec
	bestEpoch           *prometheus.GaugeVec
	epochDuration       *prometheus.HistogramVec

	// Worker metrics
	workerJobsTotal    *prometheus.CounterVec
	workerJobDuration  *prometheus.HistogramVec
	workerJobsActive   prometheus.Gauge
	executorQueueDepth *prometheus.GaugeVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Application metrics
	modelsLoaded           prometheus.Gauge
	modelParameters        *prometheus.GaugeVec
	storageOperationsTotal *prometheus.CounterVec
	errorRate              *prometheus.CounterVec
	healthStatus           *prometheus.GaugeVec
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Port           int    `json:"port" yaml:"port" mapstructure:"port"`
	Path           string `json:"path" yaml:"path" mapstructure:"path"`
	Namespace      string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Subsystem      string `json:"subsystem" yaml:"subsystem" mapstructure:"subsystem"`
	ProcessMetrics bool   `json:"process_metrics" yaml:"process_metrics" mapstructure:"process_metrics"`
}

// DefaultPrometheusConfig returns the configuration used when none is given
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:        true,
		Port:           constants.DefaultMetricsPort,
		Path:           "/metrics",
		Namespace:      constants.AppName,
		Subsystem:      "",
		ProcessMetrics: true,
	}
}

// NewPrometheusMetrics creates a new Prometheus metrics instance on a private registry
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Handler serves the registry in the Prometheus exposition format
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start starts a standalone metrics server. Binaries that already run an HTTP
// server mount Handler instead.
func (pm *PrometheusMetrics) Start(ctx context.Context) error {
	if !pm.config.Enabled {
		pm.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, pm.Handler())

	pm.mu.Lock()
	pm.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", pm.config.Port),
		Handler: mux,
	}
	server := pm.server
	pm.mu.Unlock()

	pm.logger.WithFields(logrus.Fields{
		"port": pm.config.Port,
		"path": pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()

	return nil
}

// Stop stops the standalone metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	pm.mu.RLock()
	server := pm.server
	pm.mu.RUnlock()

	if server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return server.Shutdown(ctx)
}

// Classification Metrics
func (pm *PrometheusMetrics) RecordClassification(model string, probability float64, duration time.Duration) {
	pm.classificationsTotal.WithLabelValues(model, verdict(probability)).Inc()
	pm.classificationScore.WithLabelValues(model).Observe(probability)
	pm.classificationDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) RecordLearnStep(model string, label bool) {
	name := constants.LabelLegit
	if label {
		name = constants.LabelCheat
	}
	pm.learnStepsTotal.WithLabelValues(model, name).Inc()
}

// Training Metrics
func (pm *PrometheusMetrics) RecordEpoch(report evaluation.EpochReport) {
	model := report.Model
	v := report.Validation

	pm.trainingEpochsTotal.WithLabelValues(model).Inc()
	pm.trainingLoss.WithLabelValues(model).Set(report.TrainLoss)
	pm.validationMetric.WithLabelValues(model, "loss").Set(v.Loss)
	pm.validationMetric.WithLabelValues(model, "accuracy").Set(v.Accuracy)
	pm.validationMetric.WithLabelValues(model, "precision").Set(v.Precision)
	pm.validationMetric.WithLabelValues(model, "recall").Set(v.Recall)
	pm.validationMetric.WithLabelValues(model, "f1").Set(v.F1)
	pm.validationMetric.WithLabelValues(model, "fpr").Set(v.FPR)
	pm.validationMetric.WithLabelValues(model, "roc_auc").Set(v.ROCAUC)
	pm.validationMetric.WithLabelValues(model, "pr_auc").Set(v.PRAUC)
	pm.bestEpoch.WithLabelValues(model).Set(float64(report.BestEpoch))
	pm.epochDuration.WithLabelValues(model).Observe(report.Duration.Seconds())
}

// EpochObserver returns a training observer that records every epoch under model.
// Reports that already carry a model name keep it.
func (pm *PrometheusMetrics) EpochObserver(model string) evaluation.Observer {
	return evaluation.ObserverFunc(func(report evaluation.EpochReport) {
		if report.Model == "" {
			report.Model = model
		}
		pm.RecordEpoch(report)
	})
}

// Worker Metrics
func (pm *PrometheusMetrics) RecordWorkerJob(jobType, status string, duration time.Duration) {
	pm.workerJobsTotal.WithLabelValues(jobType, status).Inc()
	pm.workerJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) SetActiveJobs(count float64) {
	pm.workerJobsActive.Set(count)
}

func (pm *PrometheusMetrics) SetExecutorQueueDepth(model string, depth int) {
	pm.executorQueueDepth.WithLabelValues(model).Set(float64(depth))
}

// HTTP Metrics
func (pm *PrometheusMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	pm.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Model Metrics
func (pm *PrometheusMetrics) SetModelsLoaded(count int) {
	pm.modelsLoaded.Set(float64(count))
}

func (pm *PrometheusMetrics) SetModelParameters(model string, count int) {
	pm.modelParameters.WithLabelValues(model).Set(float64(count))
}

func (pm *PrometheusMetrics) DeleteModel(model string) {
	pm.modelParameters.DeleteLabelValues(model)
	pm.executorQueueDepth.DeleteLabelValues(model)
}

// Storage Metrics
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string) {
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// Error Metrics
func (pm *PrometheusMetrics) RecordError(component, errorType string) {
	pm.errorRate.WithLabelValues(component, errorType).Inc()
}

// Health Metrics
func (pm *PrometheusMetrics) SetHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	pm.healthStatus.WithLabelValues(component).Set(value)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// GetConfig returns the configuration
func (pm *PrometheusMetrics) GetConfig() *PrometheusConfig {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.config
}

func verdict(probability float64) string {
	if probability >= constants.DefaultDecisionThreshold {
		return constants.LabelCheat
	}
	return constants.LabelLegit
}

// initializeMetrics initializes all Prometheus metrics
func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classifications_total",
			Help:      "Total number of classified sequences",
		},
		[]string{"model", "verdict"},
	)

	pm.classificationScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classification_probability",
			Help:      "Anomaly probability returned by classification",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
		},
		[]string{"model"},
	)

	pm.classificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classification_duration_seconds",
			Help:      "Classification duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"model"},
	)

	pm.learnStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "learn_steps_total",
			Help:      "Total number of single-sample learning steps",
		},
		[]string{"model", "label"},
	)

	pm.trainingEpochsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_epochs_total",
			Help:      "Total number of completed training epochs",
		},
		[]string{"model"},
	)

	pm.trainingLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_loss",
			Help:      "Mean training loss of the last epoch",
		},
		[]string{"model"},
	)

	pm.validationMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "validation_metric",
			Help:      "Validation metrics of the last epoch",
		},
		[]string{"model", "metric"},
	)

	pm.bestEpoch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_best_epoch",
			Help:      "Epoch of the best checkpoint so far",
		},
		[]string{"model"},
	)

	pm.epochDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_epoch_duration_seconds",
			Help:      "Training epoch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"model"},
	)

	pm.workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_jobs_total",
			Help:      "Total number of worker jobs",
		},
		[]string{"type", "status"},
	)

	pm.workerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_job_duration_seconds",
			Help:      "Worker job duration in seconds",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 3600},
		},
		[]string{"type"},
	)

	pm.workerJobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_jobs_active",
			Help:      "Number of jobs being processed",
		},
	)

	pm.executorQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executor_queue_depth",
			Help:      "Tasks waiting on a model executor",
		},
		[]string{"model"},
	)

	pm.modelsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "models_loaded",
			Help:      "Number of models held by the registry",
		},
	)

	pm.modelParameters = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "model_parameters",
			Help:      "Trainable parameter count per model",
		},
		[]string{"model"},
	)

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.errorRate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "type"},
	)

	pm.healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "health_status",
			Help:      "Health status of components (1 healthy, 0 unhealthy)",
		},
		[]string{"component"},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.classificationsTotal,
		pm.classificationScore,
		pm.classificationDuration,
		pm.learnStepsTotal,
		pm.trainingEpochsTotal,
		pm.trainingLoss,
		pm.validationMetric,
		pm.bestEpoch,
		pm.epochDuration,
		pm.workerJobsTotal,
		pm.workerJobDuration,
		pm.workerJobsActive,
		pm.executorQueueDepth,
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.modelsLoaded,
		pm.modelParameters,
		pm.storageOperationsTotal,
		pm.errorRate,
		pm.healthStatus,
	}

	if pm.config.ProcessMetrics {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}
