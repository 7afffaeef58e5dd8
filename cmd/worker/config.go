package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/observability/health"
	"github.com/inferloop/aimguard/internal/observability/metrics"
	"github.com/inferloop/aimguard/internal/storage"
	"github.com/inferloop/aimguard/pkg/constants"
)

type WorkerConfig struct {
	WorkerID         string        `mapstructure:"worker_id"`
	Concurrency      int           `mapstructure:"concurrency"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	Queue            string        `mapstructure:"queue"`
	Epochs           int           `mapstructure:"epochs"`
	AutosaveInterval time.Duration `mapstructure:"autosave_interval"`
	Addr             string        `mapstructure:"addr"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	EpochSink        bool          `mapstructure:"epoch_sink"`

	Storage      storage.Config           `mapstructure:"storage"`
	ModelStorage ml.ModelStorageConfig    `mapstructure:"model_storage"`
	Registry     ml.RegistryConfig        `mapstructure:"registry"`
	Metrics      metrics.PrometheusConfig `mapstructure:"metrics"`
	Health       health.HealthConfig      `mapstructure:"health"`
}

func defaultConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkerID:         generateWorkerID(),
		Concurrency:      constants.DefaultWorkerConcurrency,
		PollInterval:     constants.DefaultWorkerPollInterval,
		JobTimeout:       constants.DefaultJobTimeout,
		MaxRetries:       3,
		Queue:            constants.DefaultJobQueue,
		Epochs:           constants.DefaultEpochs,
		AutosaveInterval: 5 * time.Minute,
		Addr:             fmt.Sprintf("%s:%d", constants.DefaultHost, constants.DefaultMetricsPort),
		LogLevel:         constants.DefaultLogLevel,
		LogFormat:        "json",
		Storage:          storage.DefaultConfig(),
		ModelStorage: ml.ModelStorageConfig{
			Backend: constants.StorageBackendLocal,
			Path:    constants.DefaultModelDir,
		},
		Registry: *ml.DefaultRegistryConfig(),
		Metrics:  *metrics.DefaultPrometheusConfig(),
		Health:   *health.DefaultHealthConfig(),
	}
}

// loadConfig layers the config file and AIMGUARD_* environment over the defaults
func loadConfig(cfgFile string) (*WorkerConfig, error) {
	config := defaultConfig()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("worker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + constants.AppName)
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("worker_id", config.WorkerID)
	v.SetDefault("concurrency", config.Concurrency)
	v.SetDefault("poll_interval", config.PollInterval)
	v.SetDefault("job_timeout", config.JobTimeout)
	v.SetDefault("max_retries", config.MaxRetries)
	v.SetDefault("queue", config.Queue)
	v.SetDefault("epochs", config.Epochs)
	v.SetDefault("addr", config.Addr)
	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("storage.backend", config.Storage.Backend)
	v.SetDefault("storage.redis.addr", config.Storage.Redis.Addr)
	v.SetDefault("model_storage.backend", config.ModelStorage.Backend)
	v.SetDefault("model_storage.path", config.ModelStorage.Path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if cfgFile != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(config, hook); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if err := config.Registry.Model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}

	return config, nil
}

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
