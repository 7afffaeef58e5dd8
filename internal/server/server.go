package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/observability/health"
	"github.com/inferloop/aimguard/internal/observability/metrics"
	"github.com/inferloop/aimguard/pkg/constants"
)

// APIPrefix is where the model routes are mounted
const APIPrefix = "/api/v1"

// RequestRecorder receives per-request outcomes
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// Server represents the HTTP server
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	router        *mux.Router
	logger        *logrus.Logger
	config        *Config
	registry      *ml.ModelRegistry
	monitor       *health.HealthMonitor
	metrics       *metrics.PrometheusMetrics
	recorder      RequestRecorder
	startedAt     time.Time
}

// NewServer creates a new HTTP server instance. monitor and promMetrics may
// be nil.
func NewServer(config *Config, registry *ml.ModelRegistry, monitor *health.HealthMonitor, promMetrics *metrics.PrometheusMetrics, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if registry == nil {
		return nil, fmt.Errorf("server requires a model registry")
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		config:    config,
		registry:  registry,
		monitor:   monitor,
		metrics:   promMetrics,
		startedAt: time.Now(),
	}
	if promMetrics != nil {
		s.recorder = promMetrics
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	if config.EnableMetrics && promMetrics != nil {
		s.setupMetricsServer()
	}

	return s, nil
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.metricsServer != nil {
		go func() {
			s.logger.WithField("address", s.metricsServer.Addr).Info("Starting metrics server")
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	s.logger.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")

	var err error
	if s.config.TLSCertFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP servers
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("Error shutting down metrics server")
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)

	ml.NewModelRegistryHandler(s.registry, s.logger).RegisterRoutes(s.router.PathPrefix(APIPrefix).Subrouter())

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
}

func (s *Server) setupMetricsServer() {
	metricsRouter := mux.NewRouter()
	metricsRouter.Handle(s.config.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	metricsRouter.HandleFunc("/health", s.handleLive).Methods(http.MethodGet)

	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort),
		Handler:      metricsRouter,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.monitor != nil {
		s.monitor.Handler().ServeHTTP(w, r)
		return
	}
	s.handleLive(w, r)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": health.StatusHealthy,
		"uptime": time.Since(s.startedAt).String(),
	})
}

// handleReady reports ready once the registry can accept work and no critical
// check is failing
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := health.StatusHealthy
	if s.monitor != nil {
		status = s.monitor.GetStatus().OverallStatus
	}

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status": status,
		"models": len(s.registry.List()),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": map[string]string{
			"code":    "NOT_FOUND",
			"message": fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// GetRouter returns the HTTP router
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}
