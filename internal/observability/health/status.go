package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

// HealthMonitor runs registered checks periodically and keeps the latest results
type HealthMonitor struct {
	logger   *logrus.Logger
	config   *HealthConfig
	mu       sync.RWMutex
	checks   map[string]HealthCheck
	status   *SystemStatus
	recorder StatusRecorder
}

// HealthConfig configures health monitoring
type HealthConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CheckInterval      time.Duration `json:"check_interval" yaml:"check_interval" mapstructure:"check_interval"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	EnableDetailedLogs bool          `json:"enable_detailed_logs" yaml:"enable_detailed_logs" mapstructure:"enable_detailed_logs"`
}

// HealthCheck defines a health check
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) HealthResult
	Critical() bool
	Timeout() time.Duration
}

// StatusRecorder receives per-check outcomes, typically a metrics sink
type StatusRecorder interface {
	SetHealthStatus(component string, healthy bool)
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status    HealthStatus      `json:"status"`
	Message   string            `json:"message"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// SystemStatus represents overall system health
type SystemStatus struct {
	OverallStatus   HealthStatus            `json:"overall_status"`
	CheckResults    map[string]HealthResult `json:"check_results"`
	LastCheck       time.Time               `json:"last_check"`
	CriticalIssues  []string                `json:"critical_issues"`
	TotalChecks     int                     `json:"total_checks"`
	HealthyChecks   int                     `json:"healthy_checks"`
	DegradedChecks  int                     `json:"degraded_checks"`
	UnhealthyChecks int                     `json:"unhealthy_checks"`
	Uptime          time.Duration           `json:"uptime"`
	StartTime       time.Time               `json:"start_time"`
}

// BasicHealthCheck adapts a function to HealthCheck
type BasicHealthCheck struct {
	name        string
	checkFunc   func(ctx context.Context) error
	critical    bool
	timeout     time.Duration
	description string
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(config *HealthConfig, logger *logrus.Logger) *HealthMonitor {
	if config == nil {
		config = DefaultHealthConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &HealthMonitor{
		logger: logger,
		config: config,
		checks: make(map[string]HealthCheck),
		status: &SystemStatus{
			OverallStatus:  StatusUnknown,
			StartTime:      time.Now(),
			CheckResults:   make(map[string]HealthResult),
			CriticalIssues: make([]string, 0),
		},
	}
}

// SetRecorder attaches a recorder that receives every check outcome
func (hm *HealthMonitor) SetRecorder(recorder StatusRecorder) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.recorder = recorder
}

// Start runs all checks once and then every CheckInterval until ctx is done
func (hm *HealthMonitor) Start(ctx context.Context) error {
	if !hm.config.Enabled {
		hm.logger.Info("Health monitoring disabled")
		return nil
	}

	hm.logger.Info("Starting health monitoring")
	go hm.monitoringLoop(ctx)

	return nil
}

// RegisterCheck registers a new health check
func (hm *HealthMonitor) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[check.Name()] = check
	hm.logger.WithField("check", check.Name()).Info("Registered health check")
}

// GetStatus returns a copy of the current system health status
func (hm *HealthMonitor) GetStatus() *SystemStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := *hm.status
	status.Uptime = time.Since(hm.status.StartTime)
	status.CheckResults = make(map[string]HealthResult, len(hm.status.CheckResults))
	for k, v := range hm.status.CheckResults {
		status.CheckResults[k] = v
	}
	status.CriticalIssues = append([]string(nil), hm.status.CriticalIssues...)

	return &status
}

// RunCheck runs a specific health check manually
func (hm *HealthMonitor) RunCheck(ctx context.Context, checkName string) (HealthResult, error) {
	hm.mu.RLock()
	check, exists := hm.checks[checkName]
	hm.mu.RUnlock()

	if !exists {
		return HealthResult{}, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("health check '%s' not found", checkName))
	}

	return hm.executeCheck(ctx, check), nil
}

// RunAll executes every registered check concurrently and updates the status
func (hm *HealthMonitor) RunAll(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make(map[string]HealthCheck, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	recorder := hm.recorder
	hm.mu.RUnlock()

	type namedResult struct {
		name   string
		result HealthResult
	}

	var wg sync.WaitGroup
	resultsChan := make(chan namedResult, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			resultsChan <- namedResult{n, hm.executeCheck(ctx, c)}
		}(name, check)
	}

	wg.Wait()
	close(resultsChan)

	results := make(map[string]HealthResult, len(checks))
	criticalIssues := make([]string, 0)
	for r := range resultsChan {
		results[r.name] = r.result
		if r.result.Status == StatusUnhealthy && checks[r.name].Critical() {
			criticalIssues = append(criticalIssues, r.name)
		}
		if recorder != nil {
			recorder.SetHealthStatus(r.name, r.result.Status == StatusHealthy)
		}
	}
	sort.Strings(criticalIssues)

	hm.updateStatus(results, criticalIssues)
	return hm.GetStatus()
}

// Handler serves the current status as JSON, with 503 when unhealthy
func (hm *HealthMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := hm.GetStatus()

		code := http.StatusOK
		if status.OverallStatus == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			hm.logger.WithError(err).Error("Failed to encode health status")
		}
	})
}

func (hm *HealthMonitor) monitoringLoop(ctx context.Context) {
	ticker := time.NewTicker(hm.config.CheckInterval)
	defer ticker.Stop()

	hm.RunAll(ctx)

	for {
		select {
		case <-ctx.Done():
			hm.logger.Info("Stopping health monitoring")
			return
		case <-ticker.C:
			hm.RunAll(ctx)
		}
	}
}

func (hm *HealthMonitor) executeCheck(ctx context.Context, check HealthCheck) HealthResult {
	start := time.Now()

	timeout := check.Timeout()
	if timeout == 0 {
		timeout = hm.config.Timeout
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := check.Check(checkCtx)
	result.Duration = time.Since(start)
	result.Timestamp = time.Now()

	if hm.config.EnableDetailedLogs {
		hm.logger.WithFields(logrus.Fields{
			"check":    check.Name(),
			"status":   result.Status,
			"duration": result.Duration,
			"message":  result.Message,
		}).Debug("Health check completed")
	}

	if result.Status == StatusUnhealthy {
		hm.logger.WithFields(logrus.Fields{
			"check":   check.Name(),
			"message": result.Message,
		}).Warn("Health check failed")
	}

	return result
}

func (hm *HealthMonitor) updateStatus(results map[string]HealthResult, criticalIssues []string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.status.CheckResults = results
	hm.status.LastCheck = time.Now()
	hm.status.CriticalIssues = criticalIssues
	hm.status.TotalChecks = len(results)
	hm.status.HealthyChecks = 0
	hm.status.DegradedChecks = 0
	hm.status.UnhealthyChecks = 0

	for _, result := range results {
		switch result.Status {
		case StatusHealthy:
			hm.status.HealthyChecks++
		case StatusDegraded:
			hm.status.DegradedChecks++
		case StatusUnhealthy:
			hm.status.UnhealthyChecks++
		}
	}

	hm.status.OverallStatus = overallStatus(hm.status, criticalIssues)
}

func overallStatus(status *SystemStatus, criticalIssues []string) HealthStatus {
	if len(criticalIssues) > 0 {
		return StatusUnhealthy
	}
	if status.UnhealthyChecks > 0 || status.DegradedChecks > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// NewBasicHealthCheck creates a check that is healthy when checkFunc returns nil
func NewBasicHealthCheck(name string, checkFunc func(ctx context.Context) error, critical bool, timeout time.Duration, description string) *BasicHealthCheck {
	return &BasicHealthCheck{
		name:        name,
		checkFunc:   checkFunc,
		critical:    critical,
		timeout:     timeout,
		description: description,
	}
}

// NewStorageCheck pings a storage backend
func NewStorageCheck(name string, storage interfaces.Storage, critical bool, timeout time.Duration) *BasicHealthCheck {
	return NewBasicHealthCheck(name, storage.Ping, critical, timeout, fmt.Sprintf("%s storage connectivity", name))
}

// Name returns the check name
func (bhc *BasicHealthCheck) Name() string {
	return bhc.name
}

// Check executes the health check
func (bhc *BasicHealthCheck) Check(ctx context.Context) HealthResult {
	result := HealthResult{
		Status:    StatusHealthy,
		Message:   "OK",
		Details:   map[string]string{"critical": fmt.Sprintf("%t", bhc.critical)},
		Timestamp: time.Now(),
	}

	if bhc.description != "" {
		result.Details["description"] = bhc.description
	}

	if err := bhc.checkFunc(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}

	return result
}

// Critical returns whether this check is critical
func (bhc *BasicHealthCheck) Critical() bool {
	return bhc.critical
}

// Timeout returns the check timeout
func (bhc *BasicHealthCheck) Timeout() time.Duration {
	return bhc.timeout
}

// DefaultHealthConfig returns the configuration used when none is given
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		Enabled:       true,
		CheckInterval: 30 * time.Second,
		Timeout:       5 * time.Second,
	}
}
