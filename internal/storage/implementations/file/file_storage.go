package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/utils/encoding"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

const sampleExtension = ".dat"

// FileStorageConfig contains configuration for file-based dataset storage
type FileStorageConfig struct {
	BasePath    string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`
	Compression bool   `json:"compression" yaml:"compression" mapstructure:"compression"`
	CreateDirs  bool   `json:"create_dirs" yaml:"create_dirs" mapstructure:"create_dirs"`
	SyncWrites  bool   `json:"sync_writes" yaml:"sync_writes" mapstructure:"sync_writes"`
}

// FileStorage keeps one file per sample in a dataset directory. The label is
// part of the file name: cheat_<id>.dat or legit_<id>.dat.
type FileStorage struct {
	config     *FileStorageConfig
	logger     *logrus.Logger
	serializer encoding.Serializer
	mu         sync.RWMutex
	connected  bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "FileStorageConfig cannot be nil")
	}

	if config.BasePath == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "BasePath is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	var serializer encoding.Serializer = encoding.NewMessagePackSerializer()
	if config.Compression {
		serializer = encoding.NewCompressedSerializer(serializer, -1)
	}

	return &FileStorage{
		config:     config,
		logger:     logger,
		serializer: serializer,
	}, nil
}

// Connect prepares the dataset directory
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				fmt.Sprintf("Failed to create directory: %s", fs.config.BasePath))
		}
	}

	info, err := os.Stat(fs.config.BasePath)
	if err != nil || !info.IsDir() {
		return errors.NewStorageError(errors.CodeConnectionFailed,
			fmt.Sprintf("Dataset path does not exist: %s", fs.config.BasePath))
	}

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Info("File storage connected")

	return nil
}

// Close marks the storage disconnected
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return nil
	}

	fs.connected = false
	fs.logger.Info("File storage disconnected")
	return nil
}

// Ping verifies the dataset directory is accessible
func (fs *FileStorage) Ping(ctx context.Context) error {
	if err := fs.checkConnected(); err != nil {
		return err
	}

	if _, err := os.Stat(fs.config.BasePath); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Dataset path is not accessible")
	}
	return nil
}

// GetInfo returns information about the file storage
func (fs *FileStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{
		Type:        constants.StorageBackendFile,
		Version:     "1.0",
		Name:        "File Dataset Storage",
		Description: "One MessagePack file per labelled sample",
		Features:    []string{"msgpack", "gzip compression", "label in file name"},
		Configuration: map[string]interface{}{
			"base_path":   fs.config.BasePath,
			"compression": fs.config.Compression,
		},
	}, nil
}

// Health returns the health status of the storage
func (fs *FileStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := &interfaces.HealthStatus{Status: "healthy"}

	if err := fs.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = append(status.Errors, err.Error())
	}

	status.LastCheck = time.Now()
	status.Latency = time.Since(start)
	return status, nil
}

// SaveSample writes one sample file and returns its id
func (fs *FileStorage) SaveSample(ctx context.Context, sample *models.Sample) (string, error) {
	if err := fs.checkConnected(); err != nil {
		return "", err
	}

	if sample == nil {
		return "", errors.NewValidationError(errors.CodeInvalidInput, "Sample cannot be nil")
	}

	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}

	data, err := fs.serializer.Serialize(sample)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode sample")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := filepath.Join(fs.config.BasePath, fileName(sample.ID, sample.Label))
	if err := fs.writeFile(path, data); err != nil {
		return "", err
	}

	fs.logger.WithFields(logrus.Fields{
		"sample_id":    sample.ID,
		"label":        labelName(sample.Label),
		"observations": len(sample.Observations),
	}).Debug("Sample saved")

	return sample.ID, nil
}

// GetSample reads one sample by id
func (fs *FileStorage) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	if err := fs.checkConnected(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, label := range []bool{true, false} {
		path := filepath.Join(fs.config.BasePath, fileName(id, label))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return fs.readFile(path)
	}

	return nil, errors.ErrDataNotFound.WithDetails(id)
}

// LoadDataset reads every sample file. Unreadable files are logged and skipped.
func (fs *FileStorage) LoadDataset(ctx context.Context) ([]models.Sample, error) {
	if err := fs.checkConnected(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	paths, err := fs.samplePaths()
	if err != nil {
		return nil, err
	}

	samples := make([]models.Sample, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sample, err := fs.readFile(path)
		if err != nil {
			fs.logger.WithError(err).WithField("file", path).Warn("Skipping unreadable sample")
			continue
		}
		samples = append(samples, *sample)
	}

	fs.logger.WithFields(logrus.Fields{
		"samples": len(samples),
		"skipped": len(paths) - len(samples),
	}).Info("Dataset loaded")

	return samples, nil
}

// ListSamples returns sample ids, optionally filtered by label
func (fs *FileStorage) ListSamples(ctx context.Context, filter *interfaces.SampleFilter) ([]string, error) {
	if err := fs.checkConnected(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	paths, err := fs.samplePaths()
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, path := range paths {
		id, label, ok := parseFileName(filepath.Base(path))
		if !ok {
			continue
		}
		if filter != nil && filter.Label != nil && *filter.Label != label {
			continue
		}
		ids = append(ids, id)
		if filter != nil && filter.Limit > 0 && len(ids) >= filter.Limit {
			break
		}
	}
	return ids, nil
}

// Count counts sample files per label without decoding them
func (fs *FileStorage) Count(ctx context.Context) (*models.DatasetSummary, error) {
	if err := fs.checkConnected(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	paths, err := fs.samplePaths()
	if err != nil {
		return nil, err
	}

	summary := &models.DatasetSummary{}
	for _, path := range paths {
		_, label, ok := parseFileName(filepath.Base(path))
		if !ok {
			continue
		}
		summary.Total++
		if label {
			summary.Cheat++
		} else {
			summary.Legit++
		}
	}
	return summary, nil
}

// Delete removes one sample by id
func (fs *FileStorage) Delete(ctx context.Context, id string) error {
	if err := fs.checkConnected(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, label := range []bool{true, false} {
		path := filepath.Join(fs.config.BasePath, fileName(id, label))
		err := os.Remove(path)
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete sample")
		}
	}

	return errors.ErrDataNotFound.WithDetails(id)
}

// Helper methods

func (fs *FileStorage) checkConnected() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return errors.NewStorageError(errors.CodeConnectionFailed, "File storage is not connected")
	}
	return nil
}

func (fs *FileStorage) samplePaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(fs.config.BasePath, "*"+sampleExtension))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list dataset")
	}
	sort.Strings(paths)
	return paths, nil
}

func (fs *FileStorage) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sample-*")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to create sample file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write sample file")
	}
	if fs.config.SyncWrites {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to sync sample file")
		}
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to close sample file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to move sample file")
	}
	return nil
}

func (fs *FileStorage) readFile(path string) (*models.Sample, error) {
	id, label, ok := parseFileName(filepath.Base(path))
	if !ok {
		return nil, errors.NewStorageError(errors.CodeReadFailed, fmt.Sprintf("Unexpected sample file name: %s", path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read sample file")
	}

	var sample models.Sample
	if err := fs.serializer.Deserialize(data, &sample); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decode sample file")
	}

	// the file name is authoritative
	sample.ID = id
	sample.Label = label
	return &sample, nil
}

func labelName(label bool) string {
	if label {
		return constants.LabelCheat
	}
	return constants.LabelLegit
}

func fileName(id string, label bool) string {
	return labelName(label) + "_" + id + sampleExtension
}

func parseFileName(name string) (id string, label bool, ok bool) {
	if !strings.HasSuffix(name, sampleExtension) {
		return "", false, false
	}
	base := strings.TrimSuffix(name, sampleExtension)

	switch {
	case strings.HasPrefix(base, constants.LabelCheat+"_"):
		return strings.TrimPrefix(base, constants.LabelCheat+"_"), true, true
	case strings.HasPrefix(base, constants.LabelLegit+"_"):
		return strings.TrimPrefix(base, constants.LabelLegit+"_"), false, true
	default:
		return "", false, false
	}
}
