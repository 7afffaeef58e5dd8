package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/inferloop/aimguard/pkg/models"
)

// Storage defines the lifecycle shared by every storage backend
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error

	// GetInfo returns information about the storage backend
	GetInfo(ctx context.Context) (*StorageInfo, error)

	// Health returns health status of the storage
	Health(ctx context.Context) (*HealthStatus, error)
}

// DatasetStore persists labelled aim samples
type DatasetStore interface {
	Storage

	// SaveSample stores one sample and returns its id. An empty sample id is assigned.
	SaveSample(ctx context.Context, sample *models.Sample) (string, error)

	// GetSample reads one sample by id
	GetSample(ctx context.Context, id string) (*models.Sample, error)

	// LoadDataset reads every stored sample
	LoadDataset(ctx context.Context) ([]models.Sample, error)

	// ListSamples returns the ids of stored samples, optionally filtered by label
	ListSamples(ctx context.Context, filter *SampleFilter) ([]string, error)

	// Count returns the number of stored samples per label
	Count(ctx context.Context) (*models.DatasetSummary, error)

	// Delete removes one sample by id
	Delete(ctx context.Context, id string) error
}

// SampleFilter narrows ListSamples
type SampleFilter struct {
	Label *bool `json:"label,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

// BlobStore stores opaque artifacts such as model files
type BlobStore interface {
	Storage

	// Put uploads the reader content under key
	Put(ctx context.Context, key string, body io.Reader) error

	// Get downloads the content stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes key
	Remove(ctx context.Context, key string) error

	// Keys lists keys under prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// StorageInfo contains information about the storage backend
type StorageInfo struct {
	Type          string                 `json:"type"`
	Version       string                 `json:"version"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Features      []string               `json:"features"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// HealthStatus represents storage health status
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Errors    []string               `json:"errors,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// StorageMetrics contains storage performance metrics
type StorageMetrics struct {
	ReadOperations   int64         `json:"read_operations"`
	WriteOperations  int64         `json:"write_operations"`
	DeleteOperations int64         `json:"delete_operations"`
	AverageReadTime  time.Duration `json:"average_read_time"`
	AverageWriteTime time.Duration `json:"average_write_time"`
	ErrorCount       int64         `json:"error_count"`
	LastError        string        `json:"last_error,omitempty"`
	Uptime           time.Duration `json:"uptime"`
}

// JobQueue carries worker jobs between producers and the worker
type JobQueue interface {
	// Enqueue adds a job and returns its id. An empty job id is assigned.
	Enqueue(ctx context.Context, job *models.Job) (string, error)

	// Dequeue blocks up to timeout for the next job. It returns nil, nil on timeout.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error)

	// UpdateStatus records the job's status, result and error
	UpdateStatus(ctx context.Context, job *models.Job) error

	// GetJob reads the last recorded state of a job
	GetJob(ctx context.Context, id string) (*models.Job, error)
}
