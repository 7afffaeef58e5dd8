package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

const defaultTable = "aim_samples"

// PostgresConfig holds configuration for PostgreSQL
type PostgresConfig struct {
	Host            string        `json:"host" yaml:"host" mapstructure:"host"`
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	Database        string        `json:"database" yaml:"database" mapstructure:"database"`
	Username        string        `json:"username" yaml:"username" mapstructure:"username"`
	Password        string        `json:"password" yaml:"password" mapstructure:"password"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode" mapstructure:"ssl_mode"`
	Table           string        `json:"table" yaml:"table" mapstructure:"table"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout" yaml:"query_timeout" mapstructure:"query_timeout"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PostgresStorage is a dataset store on PostgreSQL. Yaw and pitch channels
// are kept as float8[] columns of one row per sample.
type PostgresStorage struct {
	config  *PostgresConfig
	db      *sql.DB
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
	startTime  time.Time
	mu         sync.RWMutex
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *PostgresConfig, logger *logrus.Logger) (*PostgresStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "PostgreSQL config cannot be nil")
	}

	if config.Host == "" || config.Database == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "PostgreSQL host and database are required")
	}

	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = constants.DefaultConnectionTimeout
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = constants.DefaultStorageTimeout
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &PostgresStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect opens the connection pool and creates the sample table
func (ps *PostgresStorage) Connect(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", ps.connectionString())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to open database connection")
	}

	if ps.config.MaxConnections > 0 {
		db.SetMaxOpenConns(ps.config.MaxConnections)
	}
	if ps.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(ps.config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(ps.config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, ps.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to ping database")
	}

	if _, err := db.ExecContext(ctx, ps.schema()); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to initialize schema")
	}

	ps.db = db
	ps.closed = false

	ps.logger.WithFields(logrus.Fields{
		"host":     ps.config.Host,
		"port":     ps.config.Port,
		"database": ps.config.Database,
		"table":    ps.config.Table,
	}).Info("Connected to PostgreSQL")

	return nil
}

// Close closes the database connection
func (ps *PostgresStorage) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil
	}
	ps.closed = true

	if ps.db != nil {
		err := ps.db.Close()
		ps.db = nil
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to close database connection")
		}
	}

	ps.logger.Info("PostgreSQL connection closed")
	return nil
}

// Ping tests the database connection
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	db, err := ps.getDB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, ps.config.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		ps.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Database ping failed")
	}
	return nil
}

// GetInfo returns information about the PostgreSQL storage
func (ps *PostgresStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	version := "unknown"
	if db, err := ps.getDB(); err == nil {
		var v string
		if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&v); err == nil {
			version = v
		}
	}

	return &interfaces.StorageInfo{
		Type:        constants.StorageBackendPostgres,
		Version:     version,
		Name:        "PostgreSQL Dataset Storage",
		Description: "One row per sample with float8[] channels",
		Features:    []string{"SQL queries", "transactions", "array columns"},
		Configuration: map[string]interface{}{
			"host":     ps.config.Host,
			"database": ps.config.Database,
			"table":    ps.config.Table,
		},
	}, nil
}

// Health returns the health status of the storage
func (ps *PostgresStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var errs []string

	if err := ps.Ping(ctx); err != nil {
		status = "unhealthy"
		errs = append(errs, fmt.Sprintf("Connection failed: %v", err))
	}

	metadata := map[string]interface{}{}
	if db, err := ps.getDB(); err == nil {
		stats := db.Stats()
		metadata["open_connections"] = stats.OpenConnections
		metadata["in_use"] = stats.InUse
	}

	return &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   time.Since(start),
		Errors:    errs,
		Metadata:  metadata,
	}, nil
}

// SaveSample upserts one sample row
func (ps *PostgresStorage) SaveSample(ctx context.Context, sample *models.Sample) (string, error) {
	db, err := ps.getDB()
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
		ps.incrementWriteOps()
		ps.logger.WithField("duration", time.Since(start)).Debug("Write operation completed")
	}()

	yaw, pitch := splitChannels(sample.Observations)

	ctx, cancel := context.WithTimeout(ctx, ps.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, label, yaw, pitch, source, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		label = EXCLUDED.label,
		yaw = EXCLUDED.yaw,
		pitch = EXCLUDED.pitch,
		source = EXCLUDED.source`, ps.table())

	_, err = db.ExecContext(ctx, query,
		sample.ID, sample.Label, pq.Array(yaw), pq.Array(pitch), sample.Source, sample.CreatedAt)
	if err != nil {
		ps.incrementErrorCount()
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to insert sample")
	}

	return sample.ID, nil
}

// GetSample reads one sample by id
func (ps *PostgresStorage) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	db, err := ps.getDB()
	if err != nil {
		return nil, err
	}

	defer ps.incrementReadOps()

	ctx, cancel := context.WithTimeout(ctx, ps.config.QueryTimeout)
	defer cancel()

	row := db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, label, yaw, pitch, source, created_at FROM %s WHERE id = $1", ps.table()), id)

	sample, err := scanSample(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDataNotFound.WithDetails(id)
	}
	if err != nil {
		ps.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read sample")
	}
	return sample, nil
}

// LoadDataset reads every sample ordered by creation time
func (ps *PostgresStorage) LoadDataset(ctx context.Context) ([]models.Sample, error) {
	db, err := ps.getDB()
	if err != nil {
		return nil, err
	}

	defer ps.incrementReadOps()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, label, yaw, pitch, source, created_at FROM %s ORDER BY created_at, id", ps.table()))
	if err != nil {
		ps.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to query samples")
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			ps.logger.WithError(err).Warn("Skipping unreadable sample row")
			continue
		}
		samples = append(samples, *sample)
	}
	if err := rows.Err(); err != nil {
		ps.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to iterate samples")
	}

	ps.logger.WithField("samples", len(samples)).Info("Dataset loaded")
	return samples, nil
}

// ListSamples returns sample ids, optionally filtered by label
func (ps *PostgresStorage) ListSamples(ctx context.Context, filter *interfaces.SampleFilter) ([]string, error) {
	db, err := ps.getDB()
	if err != nil {
		return nil, err
	}

	query, args := ps.listQuery(filter)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		ps.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list samples")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan sample id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count counts samples per label
func (ps *PostgresStorage) Count(ctx context.Context) (*models.DatasetSummary, error) {
	db, err := ps.getDB()
	if err != nil {
		return nil, err
	}

	summary := &models.DatasetSummary{}
	query := fmt.Sprintf(
		"SELECT COUNT(*) FILTER (WHERE label), COUNT(*) FILTER (WHERE NOT label) FROM %s", ps.table())
	if err := db.QueryRowContext(ctx, query).Scan(&summary.Cheat, &summary.Legit); err != nil {
		ps.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to count samples")
	}
	summary.Total = summary.Cheat + summary.Legit
	return summary, nil
}

// Delete removes one sample by id
func (ps *PostgresStorage) Delete(ctx context.Context, id string) error {
	db, err := ps.getDB()
	if err != nil {
		return err
	}

	defer ps.incrementDeleteOps()

	result, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", ps.table()), id)
	if err != nil {
		ps.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete sample")
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.ErrDataNotFound.WithDetails(id)
	}
	return nil
}

// GetMetrics returns storage metrics
func (ps *PostgresStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	ps.metrics.mu.RLock()
	defer ps.metrics.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   ps.metrics.readOps,
		WriteOperations:  ps.metrics.writeOps,
		DeleteOperations: ps.metrics.deleteOps,
		ErrorCount:       ps.metrics.errorCount,
		Uptime:           time.Since(ps.metrics.startTime),
	}, nil
}

// Helper methods

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row rowScanner) (*models.Sample, error) {
	var (
		sample models.Sample
		yaw    pq.Float64Array
		pitch  pq.Float64Array
		source sql.NullString
	)
	if err := row.Scan(&sample.ID, &sample.Label, &yaw, &pitch, &source, &sample.CreatedAt); err != nil {
		return nil, err
	}

	observations, err := joinChannels(yaw, pitch)
	if err != nil {
		return nil, err
	}
	sample.Observations = observations
	sample.Source = source.String
	return &sample, nil
}

func splitChannels(obs []models.Observation) ([]float64, []float64) {
	yaw := make([]float64, len(obs))
	pitch := make([]float64, len(obs))
	for i, o := range obs {
		yaw[i] = o.Yaw
		pitch[i] = o.Pitch
	}
	return yaw, pitch
}

func joinChannels(yaw, pitch []float64) ([]models.Observation, error) {
	if len(yaw) != len(pitch) {
		return nil, fmt.Errorf("channel length mismatch: yaw %d, pitch %d", len(yaw), len(pitch))
	}
	obs := make([]models.Observation, len(yaw))
	for i := range yaw {
		obs[i] = models.Observation{Yaw: yaw[i], Pitch: pitch[i]}
	}
	return obs, nil
}

func (ps *PostgresStorage) getDB() (*sql.DB, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.closed || ps.db == nil {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "Database not connected")
	}
	return ps.db, nil
}

func (ps *PostgresStorage) connectionString() string {
	parts := []string{
		fmt.Sprintf("host=%s", ps.config.Host),
		fmt.Sprintf("port=%d", ps.config.Port),
		fmt.Sprintf("dbname=%s", ps.config.Database),
		fmt.Sprintf("sslmode=%s", ps.config.SSLMode),
		fmt.Sprintf("connect_timeout=%d", int(ps.config.ConnectTimeout.Seconds())),
	}
	if ps.config.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", ps.config.Username))
	}
	if ps.config.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", ps.config.Password))
	}
	return strings.Join(parts, " ")
}

func (ps *PostgresStorage) table() string {
	return pq.QuoteIdentifier(ps.config.Table)
}

func (ps *PostgresStorage) schema() string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		label BOOLEAN NOT NULL,
		yaw DOUBLE PRECISION[] NOT NULL,
		pitch DOUBLE PRECISION[] NOT NULL,
		source TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, ps.table())
}

func (ps *PostgresStorage) listQuery(filter *interfaces.SampleFilter) (string, []interface{}) {
	query := fmt.Sprintf("SELECT id FROM %s", ps.table())
	var args []interface{}

	if filter != nil && filter.Label != nil {
		args = append(args, *filter.Label)
		query += fmt.Sprintf(" WHERE label = $%d", len(args))
	}
	query += " ORDER BY created_at, id"
	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (ps *PostgresStorage) incrementReadOps() {
	ps.metrics.mu.Lock()
	ps.metrics.readOps++
	ps.metrics.mu.Unlock()
}

func (ps *PostgresStorage) incrementWriteOps() {
	ps.metrics.mu.Lock()
	ps.metrics.writeOps++
	ps.metrics.mu.Unlock()
}

func (ps *PostgresStorage) incrementDeleteOps() {
	ps.metrics.mu.Lock()
	ps.metrics.deleteOps++
	ps.metrics.mu.Unlock()
}

func (ps *PostgresStorage) incrementErrorCount() {
	ps.metrics.mu.Lock()
	ps.metrics.errorCount++
	ps.metrics.mu.Unlock()
}
