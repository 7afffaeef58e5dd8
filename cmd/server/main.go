package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/observability/health"
	"github.com/inferloop/aimguard/internal/observability/metrics"
	"github.com/inferloop/aimguard/internal/server"
	"github.com/inferloop/aimguard/pkg/constants"
)

func main() {
	config, err := ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting aimguard classification server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	promMetrics, err := metrics.NewPrometheusMetrics(&config.Metrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	modelStorage, err := ml.NewModelStorage(ctx, &config.ModelStorage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize model storage")
	}

	registryConfig := config.Registry
	registry, err := ml.NewModelRegistry(modelStorage, &registryConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize model registry")
	}
	registry.SetRecorder(promMetrics)

	for _, name := range config.Preload {
		handle, err := registry.LoadOrCreate(ctx, name)
		if err != nil {
			logger.WithError(err).WithField("model", name).Fatal("Failed to preload model")
		}
		logger.WithFields(logrus.Fields{"model": name, "handle": handle}).Info("Model ready")
	}

	healthConfig := config.Health
	monitor := health.NewHealthMonitor(&healthConfig, logger)
	monitor.SetRecorder(promMetrics)
	monitor.RegisterCheck(health.NewBasicHealthCheck("model_storage", func(ctx context.Context) error {
		_, err := modelStorage.List(ctx)
		return err
	}, true, 5*time.Second, "model artifacts are listable"))
	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start health monitoring")
	}

	serverConfig := config.Server
	srv, err := server.NewServer(&serverConfig, registry, monitor, promMetrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	// Version endpoint
	srv.GetRouter().HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(GetBuildInfo(&config.Registry.Model))
	}).Methods(http.MethodGet)

	// Start server
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	go autosave(ctx, registry, config.AutosaveInterval, logger)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	saved := registry.SaveAll(shutdownCtx)
	logger.WithField("models", saved).Info("Saved models")
	registry.Close()

	logger.Info("Server stopped")
}

func autosave(ctx context.Context, registry *ml.ModelRegistry, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saved := registry.SaveAll(ctx)
			logger.WithField("models", saved).Debug("Autosaved models")
		}
	}
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set log format
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
