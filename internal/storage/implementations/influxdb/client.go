package influxdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

// EpochMeasurement is the measurement training epochs are written to
const EpochMeasurement = "training_epoch"

// InfluxDBConfig contains configuration for the InfluxDB epoch sink
type InfluxDBConfig struct {
	URL          string        `json:"url" yaml:"url" mapstructure:"url"`
	Token        string        `json:"token" yaml:"token" mapstructure:"token"`
	Organization string        `json:"organization" yaml:"organization" mapstructure:"organization"`
	Bucket       string        `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	UseGZip      bool          `json:"use_gzip" yaml:"use_gzip" mapstructure:"use_gzip"`
}

// InfluxDBStorage writes per-epoch training metrics to InfluxDB
type InfluxDBStorage struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	writeAPI  api.WriteAPI
	queryAPI  api.QueryAPI
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
	done      chan struct{}
}

// EpochPoint is one epoch as read back from InfluxDB
type EpochPoint struct {
	Time   time.Time          `json:"time"`
	Model  string             `json:"model"`
	Epoch  int                `json:"epoch"`
	Fields map[string]float64 `json:"fields"`
}

// NewInfluxDBStorage creates a new InfluxDB storage instance
func NewInfluxDBStorage(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}

	if config.URL == "" || config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB url and bucket are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &InfluxDBStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to InfluxDB
func (s *InfluxDBStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetBatchSize(uint(s.config.BatchSize))
	options.SetUseGZip(s.config.UseGZip)
	options.SetHTTPRequestTimeout(uint(s.config.Timeout.Seconds()))
	options.SetPrecision(time.Millisecond)

	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to InfluxDB")
	}
	if !ok {
		client.Close()
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}

	s.client = client
	s.writeAPI = client.WriteAPI(s.config.Organization, s.config.Bucket)
	s.queryAPI = client.QueryAPI(s.config.Organization)
	s.done = make(chan struct{})
	s.connected = true

	go s.handleWriteErrors(s.writeAPI.Errors(), s.done)

	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close flushes pending points and closes the connection
func (s *InfluxDBStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.writeAPI.Flush()
	close(s.done)
	s.client.Close()
	s.connected = false

	s.logger.Info("Disconnected from InfluxDB")
	return nil
}

// Ping checks the server
func (s *InfluxDBStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Not connected to InfluxDB")
	}

	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "InfluxDB ping failed")
	}
	if !ok {
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}
	return nil
}

// GetInfo returns information about the InfluxDB sink
func (s *InfluxDBStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{
		Type:        "influxdb",
		Version:     "2.x",
		Name:        "InfluxDB Training Metrics",
		Description: "Per-epoch training metrics sink",
		Features:    []string{"batched async writes", "flux queries"},
		Configuration: map[string]interface{}{
			"url":          s.config.URL,
			"organization": s.config.Organization,
			"bucket":       s.config.Bucket,
		},
	}, nil
}

// Health returns the health status of the sink
func (s *InfluxDBStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := &interfaces.HealthStatus{Status: "healthy"}

	if err := s.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = append(status.Errors, err.Error())
	}

	status.LastCheck = time.Now()
	status.Latency = time.Since(start)
	return status, nil
}

// WriteEpoch queues one epoch report as a point. Writes are batched and asynchronous.
func (s *InfluxDBStorage) WriteEpoch(model string, report evaluation.EpochReport) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Not connected to InfluxDB")
	}

	s.writeAPI.WritePoint(NewEpochPoint(model, report, time.Now()))
	return nil
}

// Observer returns an epoch observer that writes reports for model
func (s *InfluxDBStorage) Observer(model string) evaluation.Observer {
	return evaluation.ObserverFunc(func(report evaluation.EpochReport) {
		name := model
		if report.Model != "" {
			name = report.Model
		}
		if err := s.WriteEpoch(name, report); err != nil {
			s.logger.WithError(err).WithField("model", name).Warn("Failed to record epoch")
		}
	})
}

// Flush forces pending points out
func (s *InfluxDBStorage) Flush() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.connected {
		s.writeAPI.Flush()
	}
}

// QueryEpochs reads the epochs recorded for model since the given time, oldest first
func (s *InfluxDBStorage) QueryEpochs(ctx context.Context, model string, since time.Time) ([]EpochPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "Not connected to InfluxDB")
	}

	result, err := s.queryAPI.Query(ctx, s.buildEpochQuery(model, since))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to execute InfluxDB query")
	}
	defer result.Close()

	var points []EpochPoint
	for result.Next() {
		record := result.Record()
		point := EpochPoint{
			Time:   record.Time(),
			Model:  model,
			Fields: make(map[string]float64),
		}
		for key, value := range record.Values() {
			switch key {
			case "_time", "_start", "_stop", "_measurement", "result", "table", "model":
				continue
			case "epoch":
				point.Epoch = int(toFloat(value))
			default:
				if v, ok := value.(float64); ok {
					point.Fields[key] = v
				}
			}
		}
		points = append(points, point)
	}
	if result.Err() != nil {
		return nil, errors.WrapError(result.Err(), errors.ErrorTypeStorage, errors.CodeReadFailed, "Error reading query results")
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

// NewEpochPoint converts an epoch report into an InfluxDB point
func NewEpochPoint(model string, report evaluation.EpochReport, ts time.Time) *write.Point {
	val := report.Validation
	return influxdb2.NewPointWithMeasurement(EpochMeasurement).
		AddTag("model", model).
		AddField("epoch", report.Epoch).
		AddField("train_loss", report.TrainLoss).
		AddField("train_accuracy", report.Train.Accuracy).
		AddField("val_loss", val.Loss).
		AddField("val_accuracy", val.Accuracy).
		AddField("val_precision", val.Precision).
		AddField("val_recall", val.Recall).
		AddField("val_f1", val.F1).
		AddField("val_fpr", val.FPR).
		AddField("val_roc_auc", val.ROCAUC).
		AddField("val_pr_auc", val.PRAUC).
		AddField("best", report.Best).
		AddField("duration_ms", report.Duration.Milliseconds()).
		SetTime(ts)
}

func (s *InfluxDBStorage) buildEpochQuery(model string, since time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q and r.model == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`,
		s.config.Bucket, since.UTC().Format(time.RFC3339), EpochMeasurement, model)
}

func (s *InfluxDBStorage) handleWriteErrors(errs <-chan error, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.WithError(err).Error("InfluxDB write failed")
		}
	}
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return 0
	}
}
