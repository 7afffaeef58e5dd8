package server

import (
	"fmt"
	"time"

	"github.com/inferloop/aimguard/pkg/constants"
)

// Config contains server configuration
type Config struct {
	Host            string        `json:"host" yaml:"host" mapstructure:"host"`
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	MetricsPort     int           `json:"metrics_port" yaml:"metrics_port" mapstructure:"metrics_port"`
	MetricsPath     string        `json:"metrics_path" yaml:"metrics_path" mapstructure:"metrics_path"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	EnableMetrics   bool          `json:"enable_metrics" yaml:"enable_metrics" mapstructure:"enable_metrics"`
	EnableCORS      bool          `json:"enable_cors" yaml:"enable_cors" mapstructure:"enable_cors"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxRequestSize  int64         `json:"max_request_size" yaml:"max_request_size" mapstructure:"max_request_size"`
	TLSCertFile     string        `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty" mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty" mapstructure:"tls_key_file"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		MetricsPort:     constants.DefaultMetricsPort,
		MetricsPath:     "/metrics",
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		EnableMetrics:   true,
		EnableCORS:      false,
		AllowedOrigins:  []string{"*"},
		MaxRequestSize:  constants.MaxRequestSize,
	}
}

// Validate checks ports and limits
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.EnableMetrics && c.MetricsPort == c.Port {
		return fmt.Errorf("metrics port must differ from server port %d", c.Port)
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("max request size must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// Addr returns host:port for the API listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
