package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr          string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password      string        `json:"password" yaml:"password" mapstructure:"password"`
	DB            int           `json:"db" yaml:"db" mapstructure:"db"`
	DialTimeout   time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	PoolSize      int           `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns  int           `json:"min_idle_conns" yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	IdleTimeout   time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`
	TTL           time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix     string        `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
	UseClustering bool          `json:"use_clustering" yaml:"use_clustering" mapstructure:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs" yaml:"cluster_addrs" mapstructure:"cluster_addrs"`
}

// RedisStorage is a dataset store on Redis. Each sample is a MessagePack blob;
// one set per label indexes the sample ids.
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	deleteOps  int64
	errorCount int64
	hitCount   int64
	missCount  int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address or cluster addresses are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := newUniversalClient(r.config)

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Redis")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

func newUniversalClient(config *RedisConfig) redis.UniversalClient {
	if config.UseClustering && len(config.ClusterAddrs) > 0 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        config.ClusterAddrs,
			Password:     config.Password,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,
			MaxRetries:   config.MaxRetries,
			IdleTimeout:  config.IdleTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		IdleTimeout:  config.IdleTimeout,
	})
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to close Redis connection")
		}
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	client, err := r.getClient()
	if err != nil {
		return err
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Redis ping failed")
	}

	return nil
}

// GetInfo returns information about the Redis storage
func (r *RedisStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	version := "unknown"
	if client, err := r.getClient(); err == nil {
		if info, err := client.Info(ctx, "server").Result(); err == nil {
			for _, line := range strings.Split(info, "\n") {
				if strings.HasPrefix(line, "redis_version:") {
					version = strings.TrimSpace(strings.TrimPrefix(line, "redis_version:"))
					break
				}
			}
		}
	}

	return &interfaces.StorageInfo{
		Type:        constants.StorageBackendRedis,
		Version:     version,
		Name:        "Redis Dataset Storage",
		Description: "MessagePack samples indexed by label sets",
		Features:    []string{"msgpack", "label index", "job queue"},
		Configuration: map[string]interface{}{
			"addr":       r.config.Addr,
			"db":         r.config.DB,
			"key_prefix": r.config.KeyPrefix,
			"clustering": r.config.UseClustering,
		},
	}, nil
}

// Health returns the health status of the storage
func (r *RedisStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var errs []string

	if err := r.Ping(ctx); err != nil {
		status = "unhealthy"
		errs = append(errs, fmt.Sprintf("Connection failed: %v", err))
	}

	r.metrics.mu.RLock()
	hits, misses := r.metrics.hitCount, r.metrics.missCount
	r.metrics.mu.RUnlock()

	return &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   time.Since(start),
		Errors:    errs,
		Metadata: map[string]interface{}{
			"hits":   hits,
			"misses": misses,
		},
	}, nil
}

// SaveSample stores one sample and indexes it under its label
func (r *RedisStorage) SaveSample(ctx context.Context, sample *models.Sample) (string, error) {
	client, err := r.getClient()
	if err != nil {
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

	start := time.Now()
	defer func() {
		r.incrementWriteOps()
		r.logger.WithField("duration", time.Since(start)).Debug("Write operation completed")
	}()

	data, err := msgpack.Marshal(sample)
	if err != nil {
		r.incrementErrorCount()
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode sample")
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, r.generateSampleKey(sample.ID), data, r.config.TTL)
	pipe.SAdd(ctx, r.generateLabelKey(sample.Label), sample.ID)
	pipe.SRem(ctx, r.generateLabelKey(!sample.Label), sample.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write to Redis")
	}

	return sample.ID, nil
}

// GetSample reads one sample by id
func (r *RedisStorage) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	defer r.incrementReadOps()

	data, err := client.Get(ctx, r.generateSampleKey(id)).Bytes()
	if err == redis.Nil {
		r.incrementMissCount()
		return nil, errors.ErrDataNotFound.WithDetails(id)
	}
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read from Redis")
	}
	r.incrementHitCount()

	var sample models.Sample
	if err := msgpack.Unmarshal(data, &sample); err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decode sample")
	}
	return &sample, nil
}

// LoadDataset reads every indexed sample. Ids whose blob expired are pruned from the index.
func (r *RedisStorage) LoadDataset(ctx context.Context) ([]models.Sample, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	var samples []models.Sample
	for _, label := range []bool{true, false} {
		ids, err := client.SMembers(ctx, r.generateLabelKey(label)).Result()
		if err != nil {
			r.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read label index")
		}

		for _, id := range ids {
			sample, err := r.GetSample(ctx, id)
			if errors.Is(err, errors.ErrDataNotFound) {
				client.SRem(ctx, r.generateLabelKey(label), id)
				continue
			}
			if err != nil {
				r.logger.WithError(err).WithField("sample_id", id).Warn("Skipping unreadable sample")
				continue
			}
			sample.Label = label
			samples = append(samples, *sample)
		}
	}

	r.logger.WithField("samples", len(samples)).Info("Dataset loaded")
	return samples, nil
}

// ListSamples returns sample ids, optionally filtered by label
func (r *RedisStorage) ListSamples(ctx context.Context, filter *interfaces.SampleFilter) ([]string, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	labels := []bool{true, false}
	if filter != nil && filter.Label != nil {
		labels = []bool{*filter.Label}
	}

	var ids []string
	for _, label := range labels {
		members, err := client.SMembers(ctx, r.generateLabelKey(label)).Result()
		if err != nil {
			r.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read label index")
		}
		ids = append(ids, members...)
	}

	if filter != nil && filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	return ids, nil
}

// Count returns the label index cardinalities
func (r *RedisStorage) Count(ctx context.Context) (*models.DatasetSummary, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	pipe := client.Pipeline()
	cheat := pipe.SCard(ctx, r.generateLabelKey(true))
	legit := pipe.SCard(ctx, r.generateLabelKey(false))
	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to count samples")
	}

	summary := &models.DatasetSummary{
		Cheat: int(cheat.Val()),
		Legit: int(legit.Val()),
	}
	summary.Total = summary.Cheat + summary.Legit
	return summary, nil
}

// Delete removes one sample by id
func (r *RedisStorage) Delete(ctx context.Context, id string) error {
	client, err := r.getClient()
	if err != nil {
		return err
	}

	defer r.incrementDeleteOps()

	pipe := client.TxPipeline()
	deleted := pipe.Del(ctx, r.generateSampleKey(id))
	pipe.SRem(ctx, r.generateLabelKey(true), id)
	pipe.SRem(ctx, r.generateLabelKey(false), id)
	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete from Redis")
	}

	if deleted.Val() == 0 {
		return errors.ErrDataNotFound.WithDetails(id)
	}
	return nil
}

// GetMetrics returns storage metrics
func (r *RedisStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   r.metrics.readOps,
		WriteOperations:  r.metrics.writeOps,
		DeleteOperations: r.metrics.deleteOps,
		ErrorCount:       r.metrics.errorCount,
		Uptime:           time.Since(r.metrics.startTime),
	}, nil
}

// Helper methods

func (r *RedisStorage) getClient() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "Redis not connected")
	}
	return r.client, nil
}

func (r *RedisStorage) key(parts ...string) string {
	if r.config.KeyPrefix != "" {
		parts = append([]string{r.config.KeyPrefix}, parts...)
	}
	return strings.Join(parts, ":")
}

func (r *RedisStorage) generateSampleKey(id string) string {
	return r.key("sample", id)
}

func (r *RedisStorage) generateLabelKey(label bool) string {
	if label {
		return r.key("samples", constants.LabelCheat)
	}
	return r.key("samples", constants.LabelLegit)
}

func (r *RedisStorage) incrementReadOps() {
	r.metrics.mu.Lock()
	r.metrics.readOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementWriteOps() {
	r.metrics.mu.Lock()
	r.metrics.writeOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementDeleteOps() {
	r.metrics.mu.Lock()
	r.metrics.deleteOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementErrorCount() {
	r.metrics.mu.Lock()
	r.metrics.errorCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementHitCount() {
	r.metrics.mu.Lock()
	r.metrics.hitCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementMissCount() {
	r.metrics.mu.Lock()
	r.metrics.missCount++
	r.metrics.mu.Unlock()
}
