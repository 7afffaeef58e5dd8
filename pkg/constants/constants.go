package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "aimguard"
	AppDescription = "BiLSTM aim-rotation anomaly classifier"
	AppVersion     = "0.1.0"

	// Environment
	EnvPrefix = "AIMGUARD"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	MaxRequestSize         = 8 << 20

	// Model architecture defaults
	DefaultInputSize     = 16
	DefaultHiddenSize    = 32
	DefaultNumLayers     = 2
	DefaultBidirectional = true

	// Training defaults
	DefaultLearningRate      = 3e-4
	DefaultDropout           = 0.1
	DefaultRecurrentDropout  = 0.2
	DefaultWeightDecay       = 1e-3
	DefaultGradientClip      = 5.0
	DefaultLabelSmoothing    = 0.1
	DefaultBatchSize         = 16
	DefaultSeed              = 42
	DefaultEpochs            = 20
	DefaultChunkLength       = 150
	DefaultValidationSplit   = 0.2
	DefaultDecisionThreshold = 0.5

	// Storage defaults
	DefaultDatasetDir        = "dataset"
	DefaultModelDir          = "models"
	DefaultModelExtension    = ".bin"
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultKeyPrefix         = "aimguard"

	// Worker defaults
	DefaultWorkerConcurrency  = 2
	DefaultWorkerPollInterval = 1 * time.Second
	DefaultJobTimeout         = 30 * time.Minute
	DefaultJobQueue           = "jobs"
	DefaultExecutorQueueSize  = 64
)

// Dataset labels as they appear in stored sample names
const (
	LabelCheat = "cheat"
	LabelLegit = "legit"
)

// Storage backends
const (
	StorageBackendFile     = "file"
	StorageBackendRedis    = "redis"
	StorageBackendPostgres = "postgres"
	StorageBackendLocal    = "local"
	StorageBackendS3       = "s3"
)

// Job types handled by the worker
const (
	JobTypeTrain = "train"
	JobTypeLearn = "learn"
	JobTypeCheck = "check"
	JobTypeSave  = "save"
)

// Job statuses
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Output formats for informational commands
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// HTTP headers
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
	HeaderContentType  = "Content-Type"
	ContentTypeJSON    = "application/json"
)
