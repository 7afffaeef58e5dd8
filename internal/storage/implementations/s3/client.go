package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region" yaml:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `json:"access_key_id" yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" yaml:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" yaml:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" yaml:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" yaml:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string        `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	PartSize        int64         `json:"part_size" yaml:"part_size" mapstructure:"part_size"`
	UseCompression  bool          `json:"use_compression" yaml:"use_compression" mapstructure:"use_compression"`
	StorageClass    string        `json:"storage_class" yaml:"storage_class" mapstructure:"storage_class"`
}

// S3Storage is a blob store on AWS S3 or an S3-compatible service
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	metrics    *storageMetrics
	closed     bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	deleteOps    int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect creates the AWS session and checks bucket access
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// S3-compatible services (MinIO and friends)
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to create AWS session")
	}

	client := s3.New(sess)
	uploader := s3manager.NewUploader(sess)
	if s.config.PartSize > 0 {
		uploader.PartSize = s.config.PartSize
	}

	_, err = client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			fmt.Sprintf("Failed to access bucket '%s'", s.config.Bucket))
	}

	s.s3Client = client
	s.uploader = uploader
	s.downloader = s3manager.NewDownloader(sess)
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")

	return nil
}

// Close drops the S3 clients
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping checks bucket access
func (s *S3Storage) Ping(ctx context.Context) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	_, err = client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "S3 ping failed")
	}

	return nil
}

// GetInfo returns information about the S3 storage
func (s *S3Storage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{
		Type:        "s3",
		Version:     "AWS S3 API",
		Name:        "Amazon S3 Storage",
		Description: "Object storage for model artifacts",
		Features: []string{
			"object storage",
			"multipart upload",
			"gzip compression",
		},
		Configuration: map[string]interface{}{
			"region":          s.config.Region,
			"bucket":          s.config.Bucket,
			"prefix":          s.config.Prefix,
			"use_compression": s.config.UseCompression,
			"storage_class":   s.config.StorageClass,
		},
	}, nil
}

// Health returns the health status of the storage
func (s *S3Storage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var errs []string

	if err := s.Ping(ctx); err != nil {
		status = "unhealthy"
		errs = append(errs, fmt.Sprintf("Connection failed: %v", err))
	}

	return &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   time.Since(start),
		Errors:    errs,
		Metadata: map[string]interface{}{
			"bucket_region": s.config.Region,
		},
	}, nil
}

// Put uploads body under key, gzip-compressed when configured
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NewStorageError(errors.CodeConnectionFailed, "S3 not connected")
	}

	start := time.Now()
	defer func() {
		s.incrementWriteOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Put operation completed")
	}()

	data, err := io.ReadAll(body)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to read artifact")
	}

	contentEncoding := ""
	if s.config.UseCompression {
		var buf bytes.Buffer
		gzWriter := gzip.NewWriter(&buf)
		if _, err := gzWriter.Write(data); err != nil {
			s.incrementErrorCount()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to compress data")
		}
		if err := gzWriter.Close(); err != nil {
			s.incrementErrorCount()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to compress data")
		}
		data = buf.Bytes()
		contentEncoding = "gzip"
	}
	s.incrementBytesWritten(int64(len(data)))

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.generateKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"artifact":   aws.String(key),
			"created-at": aws.String(time.Now().UTC().Format(time.RFC3339)),
		},
	}
	if contentEncoding != "" {
		input.ContentEncoding = aws.String(contentEncoding)
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to upload to S3")
	}

	return nil
}

// Get downloads the content stored under key
func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "S3 not connected")
	}

	start := time.Now()
	defer func() {
		s.incrementReadOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Get operation completed")
	}()

	buf := aws.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(key)),
	})
	if err != nil {
		s.incrementErrorCount()
		if isNotFound(err) {
			return nil, errors.ErrDataNotFound.WithDetails(key).Wrap(err)
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to download from S3")
	}

	data := buf.Bytes()
	s.incrementBytesRead(int64(len(data)))

	if s.config.UseCompression {
		gzReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decompress data")
		}
		defer gzReader.Close()

		data, err = io.ReadAll(gzReader)
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read decompressed data")
		}
	}

	return data, nil
}

// Exists reports whether key is present
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	client, err := s.client()
	if err != nil {
		return false, err
	}

	_, err = client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		s.incrementErrorCount()
		return false, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to stat S3 object")
	}

	return true, nil
}

// Remove deletes key
func (s *S3Storage) Remove(ctx context.Context, key string) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.incrementDeleteOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Delete operation completed")
	}()

	_, err = client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(key)),
	})
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete from S3")
	}

	return nil
}

// Keys lists stored keys under prefix, with the configured prefix stripped
func (s *S3Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	defer s.incrementReadOps()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.basePrefix() + prefix),
	}

	var keys []string
	err = client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				if key := s.extractKey(aws.StringValue(obj.Key)); key != "" {
					keys = append(keys, key)
				}
			}
			return true
		})
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list objects from S3")
	}

	return keys, nil
}

// GetMetrics returns storage metrics
func (s *S3Storage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   s.metrics.readOps,
		WriteOperations:  s.metrics.writeOps,
		DeleteOperations: s.metrics.deleteOps,
		ErrorCount:       s.metrics.errorCount,
		Uptime:           time.Since(s.metrics.startTime),
	}, nil
}

// Helper methods

func (s *S3Storage) client() (*s3.S3, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "S3 not connected")
	}
	return s.s3Client, nil
}

func (s *S3Storage) basePrefix() string {
	prefix := s.config.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (s *S3Storage) generateKey(key string) string {
	return path.Join(s.basePrefix(), key)
}

func (s *S3Storage) extractKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, s.basePrefix())
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}

func (s *S3Storage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementDeleteOps() {
	s.metrics.mu.Lock()
	s.metrics.deleteOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesRead(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesRead += n
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesWritten(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesWritten += n
	s.metrics.mu.Unlock()
}
