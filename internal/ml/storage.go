package ml

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/storage/implementations/s3"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ModelStorage stores serialized model files by model name
type ModelStorage interface {
	// Store writes the artifact for name, replacing any previous one
	Store(ctx context.Context, name string, artifact io.Reader) (*StorageMetadata, error)

	// Retrieve opens the artifact for name. A missing artifact yields ErrModelNotFound.
	Retrieve(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the artifact for name
	Delete(ctx context.Context, name string) error

	// Exists reports whether an artifact for name is stored
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the stored model names, sorted
	List(ctx context.Context) ([]string, error)

	// GetMetadata describes the stored artifact for name
	GetMetadata(ctx context.Context, name string) (*StorageMetadata, error)
}

// StorageMetadata describes a stored model artifact
type StorageMetadata struct {
	Name       string    `json:"name" yaml:"name"`
	Location   string    `json:"location" yaml:"location"`
	Size       int64     `json:"size" yaml:"size"`
	Checksum   string    `json:"checksum" yaml:"checksum"`
	ModifiedAt time.Time `json:"modified_at,omitempty" yaml:"modified_at,omitempty"`
}

// ModelStorageConfig selects the artifact backend
type ModelStorageConfig struct {
	Backend string      `json:"backend" yaml:"backend" mapstructure:"backend"`
	Path    string      `json:"path" yaml:"path" mapstructure:"path"`
	S3      s3.S3Config `json:"s3" yaml:"s3" mapstructure:"s3"`
}

// ValidateModelName rejects names that cannot be used as artifact keys
func ValidateModelName(name string) error {
	if !modelNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return errors.NewValidationError(errors.CodeInvalidInput, "invalid model name").WithDetails(name)
	}
	return nil
}

// NewModelStorage creates and, for remote backends, connects the configured artifact storage
func NewModelStorage(ctx context.Context, config *ModelStorageConfig, logger *logrus.Logger) (ModelStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Model storage config cannot be nil")
	}

	if logger == nil {
		logger = logrus.New()
	}

	switch config.Backend {
	case "", constants.StorageBackendLocal, constants.StorageBackendFile:
		path := config.Path
		if path == "" {
			path = constants.DefaultModelDir
		}
		return NewLocalModelStorage(path, logger)

	case constants.StorageBackendS3:
		s3Config := config.S3
		blob, err := s3.NewS3Storage(&s3Config, logger)
		if err != nil {
			return nil, err
		}
		if err := blob.Connect(ctx); err != nil {
			return nil, err
		}
		return NewBlobModelStorage(blob, logger), nil

	default:
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, fmt.Sprintf("Model storage backend '%s' is not supported", config.Backend))
	}
}

// LocalModelStorage implements ModelStorage for the local filesystem. Each model
// is one file <basePath>/<name>.bin.
type LocalModelStorage struct {
	logger   *logrus.Logger
	basePath string
}

// NewLocalModelStorage creates a new local model storage
func NewLocalModelStorage(basePath string, logger *logrus.Logger) (*LocalModelStorage, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidConfig, "failed to create model directory")
	}

	return &LocalModelStorage{
		logger:   logger,
		basePath: basePath,
	}, nil
}

// Path returns the file used for name
func (lms *LocalModelStorage) Path(name string) string {
	return filepath.Join(lms.basePath, name+constants.DefaultModelExtension)
}

// Store writes the artifact to a temporary file and renames it into place
func (lms *LocalModelStorage) Store(ctx context.Context, name string, artifact io.Reader) (*StorageMetadata, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(lms.basePath, ".model-*")
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeModelSaveFailed, "failed to create artifact file")
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), artifact)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeModelSaveFailed, "failed to store artifact")
	}

	path := lms.Path(name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeModelSaveFailed, "failed to store artifact")
	}

	metadata := &StorageMetadata{
		Name:       name,
		Location:   path,
		Size:       size,
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		ModifiedAt: time.Now(),
	}

	lms.logger.WithFields(logrus.Fields{
		"model":    name,
		"path":     path,
		"size":     size,
		"checksum": metadata.Checksum,
	}).Info("Stored model artifact")

	return metadata, nil
}

// Retrieve opens a model artifact
func (lms *LocalModelStorage) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, err
	}

	file, err := os.Open(lms.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrModelNotFound.WithDetails(name)
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeModelLoadFailed, "failed to open artifact")
	}

	return file, nil
}

// Delete deletes a model artifact
func (lms *LocalModelStorage) Delete(ctx context.Context, name string) error {
	if err := ValidateModelName(name); err != nil {
		return err
	}

	if err := os.Remove(lms.Path(name)); err != nil {
		if os.IsNotExist(err) {
			return errors.ErrModelNotFound.WithDetails(name)
		}
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to delete artifact")
	}

	lms.logger.WithField("model", name).Info("Deleted model artifact")
	return nil
}

// Exists checks if an artifact exists
func (lms *LocalModelStorage) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateModelName(name); err != nil {
		return false, err
	}

	_, err := os.Stat(lms.Path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to stat artifact")
}

// List lists the stored model names
func (lms *LocalModelStorage) List(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(lms.basePath, "*"+constants.DefaultModelExtension))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to list models")
	}

	names := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSuffix(filepath.Base(match), constants.DefaultModelExtension)
		if ValidateModelName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// GetMetadata returns metadata about a stored artifact
func (lms *LocalModelStorage) GetMetadata(ctx context.Context, name string) (*StorageMetadata, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, err
	}

	path := lms.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrModelNotFound.WithDetails(name)
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to get file info")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to open file for checksum")
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to calculate checksum")
	}

	return &StorageMetadata{
		Name:       name,
		Location:   path,
		Size:       info.Size(),
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		ModifiedAt: info.ModTime(),
	}, nil
}

// BlobModelStorage implements ModelStorage on a blob store such as S3
type BlobModelStorage struct {
	logger *logrus.Logger
	blob   interfaces.BlobStore
}

// NewBlobModelStorage creates model storage on a connected blob store
func NewBlobModelStorage(blob interfaces.BlobStore, logger *logrus.Logger) *BlobModelStorage {
	if logger == nil {
		logger = logrus.New()
	}
	return &BlobModelStorage{logger: logger, blob: blob}
}

func blobKey(name string) string {
	return constants.DefaultModelDir + "/" + name + constants.DefaultModelExtension
}

// Store uploads the artifact
func (bms *BlobModelStorage) Store(ctx context.Context, name string, artifact io.Reader) (*StorageMetadata, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(artifact)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeModelSaveFailed, "failed to read artifact")
	}

	key := blobKey(name)
	if err := bms.blob.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, err
	}

	sum := md5.Sum(data)
	metadata := &StorageMetadata{
		Name:       name,
		Location:   key,
		Size:       int64(len(data)),
		Checksum:   hex.EncodeToString(sum[:]),
		ModifiedAt: time.Now(),
	}

	bms.logger.WithFields(logrus.Fields{
		"model":    name,
		"key":      key,
		"size":     metadata.Size,
		"checksum": metadata.Checksum,
	}).Info("Stored model artifact")

	return metadata, nil
}

// Retrieve downloads the artifact
func (bms *BlobModelStorage) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, err
	}

	data, err := bms.blob.Get(ctx, blobKey(name))
	if err != nil {
		if errors.Is(err, errors.ErrDataNotFound) {
			return nil, errors.ErrModelNotFound.WithDetails(name).Wrap(err)
		}
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the artifact
func (bms *BlobModelStorage) Delete(ctx context.Context, name string) error {
	if err := ValidateModelName(name); err != nil {
		return err
	}
	return bms.blob.Remove(ctx, blobKey(name))
}

// Exists checks if the artifact exists
func (bms *BlobModelStorage) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateModelName(name); err != nil {
		return false, err
	}
	return bms.blob.Exists(ctx, blobKey(name))
}

// List lists the stored model names
func (bms *BlobModelStorage) List(ctx context.Context) ([]string, error) {
	keys, err := bms.blob.Keys(ctx, constants.DefaultModelDir+"/")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		base := key[strings.LastIndex(key, "/")+1:]
		if !strings.HasSuffix(base, constants.DefaultModelExtension) {
			continue
		}
		name := strings.TrimSuffix(base, constants.DefaultModelExtension)
		if ValidateModelName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// GetMetadata downloads the artifact to describe it
func (bms *BlobModelStorage) GetMetadata(ctx context.Context, name string) (*StorageMetadata, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, err
	}

	data, err := bms.blob.Get(ctx, blobKey(name))
	if err != nil {
		if errors.Is(err, errors.ErrDataNotFound) {
			return nil, errors.ErrModelNotFound.WithDetails(name).Wrap(err)
		}
		return nil, err
	}

	sum := md5.Sum(data)
	return &StorageMetadata{
		Name:     name,
		Location: blobKey(name),
		Size:     int64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}
