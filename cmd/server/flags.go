package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/observability/health"
	"github.com/inferloop/aimguard/internal/observability/metrics"
	"github.com/inferloop/aimguard/internal/server"
	"github.com/inferloop/aimguard/pkg/constants"
)

// Config is the server's file configuration; command-line flags override it
type Config struct {
	LogLevel         string                   `mapstructure:"log_level"`
	LogFormat        string                   `mapstructure:"log_format"`
	Preload          []string                 `mapstructure:"preload"`
	AutosaveInterval time.Duration            `mapstructure:"autosave_interval"`
	Server           server.Config            `mapstructure:"server"`
	ModelStorage     ml.ModelStorageConfig    `mapstructure:"model_storage"`
	Registry         ml.RegistryConfig        `mapstructure:"registry"`
	Metrics          metrics.PrometheusConfig `mapstructure:"metrics"`
	Health           health.HealthConfig      `mapstructure:"health"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:         constants.DefaultLogLevel,
		LogFormat:        "json",
		AutosaveInterval: 5 * time.Minute,
		Server:           *server.DefaultConfig(),
		ModelStorage: ml.ModelStorageConfig{
			Backend: constants.StorageBackendLocal,
			Path:    constants.DefaultModelDir,
		},
		Registry: *ml.DefaultRegistryConfig(),
		Metrics:  *metrics.DefaultPrometheusConfig(),
		Health:   *health.DefaultHealthConfig(),
	}
}

func ParseFlags() (*Config, error) {
	var (
		cfgFile     string
		port        int
		host        string
		logLevel    string
		logFormat   string
		metricsPort int
		tlsCert     string
		tlsKey      string
		preload     string
		version     bool
	)

	flag.IntVar(&port, "port", 0, "Server port")
	flag.StringVar(&host, "host", "", "Server host")
	flag.StringVar(&cfgFile, "config", "", "Path to configuration file (default ./server.yaml)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "", "Log format (json, text)")
	flag.IntVar(&metricsPort, "metrics-port", 0, "Prometheus metrics port")
	flag.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate")
	flag.StringVar(&tlsKey, "tls-key", "", "Path to TLS key")
	flag.StringVar(&preload, "preload", "", "Comma-separated model names to load at startup")
	flag.BoolVar(&version, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nAim-rotation anomaly classification server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if version {
		fmt.Print(GetBuildInfo(nil))
		os.Exit(0)
	}

	config, err := loadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFormat != "" {
		config.LogFormat = logFormat
	}
	if metricsPort > 0 {
		config.Server.MetricsPort = metricsPort
	}
	if tlsCert != "" {
		config.Server.TLSCertFile = tlsCert
		config.Server.TLSKeyFile = tlsKey
	}
	if preload != "" {
		config.Preload = splitNames(preload)
	}

	if err := config.Server.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadConfig layers the config file and AIMGUARD_* environment over the defaults
func loadConfig(cfgFile string) (*Config, error) {
	config := defaultConfig()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + constants.AppName)
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("server.host", config.Server.Host)
	v.SetDefault("server.port", config.Server.Port)
	v.SetDefault("server.metrics_port", config.Server.MetricsPort)
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

	if err := config.Registry.Model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	for _, name := range config.Preload {
		if err := ml.ValidateModelName(name); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
