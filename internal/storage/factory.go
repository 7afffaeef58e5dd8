package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/storage/implementations/file"
	"github.com/inferloop/aimguard/internal/storage/implementations/influxdb"
	"github.com/inferloop/aimguard/internal/storage/implementations/postgres"
	"github.com/inferloop/aimguard/internal/storage/implementations/redis"
	"github.com/inferloop/aimguard/internal/storage/implementations/s3"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

// Config selects and configures the storage backends
type Config struct {
	Backend  string                  `json:"backend" yaml:"backend" mapstructure:"backend"`
	File     file.FileStorageConfig  `json:"file" yaml:"file" mapstructure:"file"`
	Redis    redis.RedisConfig       `json:"redis" yaml:"redis" mapstructure:"redis"`
	Postgres postgres.PostgresConfig `json:"postgres" yaml:"postgres" mapstructure:"postgres"`
	S3       s3.S3Config             `json:"s3" yaml:"s3" mapstructure:"s3"`
	InfluxDB influxdb.InfluxDBConfig `json:"influxdb" yaml:"influxdb" mapstructure:"influxdb"`
}

// DefaultConfig returns a file backend rooted at the default dataset directory
func DefaultConfig() Config {
	return Config{
		Backend: constants.StorageBackendFile,
		File: file.FileStorageConfig{
			BasePath:   constants.DefaultDatasetDir,
			CreateDirs: true,
		},
		Redis: redis.RedisConfig{
			Addr:        "localhost:6379",
			KeyPrefix:   constants.DefaultKeyPrefix,
			DialTimeout: constants.DefaultConnectionTimeout,
		},
		Postgres: postgres.PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: constants.AppName,
			SSLMode:  "disable",
		},
		S3: s3.S3Config{
			Region:     "us-east-1",
			Prefix:     constants.AppName,
			MaxRetries: 3,
		},
	}
}

// DatasetCreateFunc builds a dataset store from the shared config
type DatasetCreateFunc func(config *Config, logger *logrus.Logger) (interfaces.DatasetStore, error)

// Factory creates dataset stores by backend name
type Factory struct {
	creators map[string]DatasetCreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the built-in backends registered
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]DatasetCreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()

	return factory
}

// CreateDatasetStore creates an unconnected dataset store for config.Backend
func (f *Factory) CreateDatasetStore(config *Config) (interfaces.DatasetStore, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Storage config cannot be nil")
	}

	backend := config.Backend
	if backend == "" {
		backend = constants.StorageBackendFile
	}

	f.mu.RLock()
	createFunc, exists := f.creators[backend]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, fmt.Sprintf("Storage backend '%s' is not supported", backend))
	}

	store, err := createFunc(config, f.logger)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidConfig, fmt.Sprintf("Failed to create %s storage", backend))
	}

	f.logger.WithField("storage_type", backend).Debug("Created storage instance")
	return store, nil
}

// CreateBlobStore creates an unconnected S3 blob store
func (f *Factory) CreateBlobStore(config *Config) (interfaces.BlobStore, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Storage config cannot be nil")
	}
	s3Config := config.S3
	return s3.NewS3Storage(&s3Config, f.logger)
}

// CreateEpochSink creates an unconnected InfluxDB epoch sink
func (f *Factory) CreateEpochSink(config *Config) (*influxdb.InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Storage config cannot be nil")
	}
	influxConfig := config.InfluxDB
	return influxdb.NewInfluxDBStorage(&influxConfig, f.logger)
}

// GetSupportedTypes returns the registered backend names, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

// RegisterStorage registers a dataset backend
func (f *Factory) RegisterStorage(storageType string, createFunc DatasetCreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "Storage type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[storageType] = createFunc
	return nil
}

// IsSupported checks if a backend is registered
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterStorage(constants.StorageBackendFile, func(config *Config, logger *logrus.Logger) (interfaces.DatasetStore, error) {
		fileConfig := config.File
		return file.NewFileStorage(&fileConfig, logger)
	})

	f.RegisterStorage(constants.StorageBackendRedis, func(config *Config, logger *logrus.Logger) (interfaces.DatasetStore, error) {
		redisConfig := config.Redis
		return redis.NewRedisStorage(&redisConfig, logger)
	})

	f.RegisterStorage(constants.StorageBackendPostgres, func(config *Config, logger *logrus.Logger) (interfaces.DatasetStore, error) {
		pgConfig := config.Postgres
		return postgres.NewPostgresStorage(&pgConfig, logger)
	})
}
