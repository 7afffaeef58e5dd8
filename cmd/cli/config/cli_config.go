package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/internal/storage"
	"github.com/inferloop/aimguard/pkg/constants"
)

type CLIConfig struct {
	LogLevel      string                `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string                `mapstructure:"log_format" yaml:"log_format"`
	DefaultModel  string                `mapstructure:"default_model" yaml:"default_model"`
	DefaultFormat string                `mapstructure:"default_format" yaml:"default_format"`
	Epochs        int                   `mapstructure:"epochs" yaml:"epochs"`
	Model         rnn.Config            `mapstructure:"model" yaml:"model"`
	ModelStorage  ml.ModelStorageConfig `mapstructure:"model_storage" yaml:"model_storage"`
	Storage       storage.Config        `mapstructure:"storage" yaml:"storage"`
}

func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		LogLevel:      constants.DefaultLogLevel,
		LogFormat:     constants.DefaultLogFormat,
		DefaultModel:  "default",
		DefaultFormat: constants.FormatText,
		Epochs:        constants.DefaultEpochs,
		Model:         rnn.DefaultConfig(),
		ModelStorage: ml.ModelStorageConfig{
			Backend: constants.StorageBackendLocal,
			Path:    constants.DefaultModelDir,
		},
		Storage: storage.DefaultConfig(),
	}
}

func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := DefaultConfig()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		configPath := filepath.Join(home, "."+constants.AppName)
		v.AddConfigPath(configPath)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("default_model", config.DefaultModel)
	v.SetDefault("default_format", config.DefaultFormat)
	v.SetDefault("epochs", config.Epochs)
	v.SetDefault("model_storage.backend", config.ModelStorage.Backend)
	v.SetDefault("model_storage.path", config.ModelStorage.Path)
	v.SetDefault("storage.backend", config.Storage.Backend)
	v.SetDefault("storage.file.base_path", config.Storage.File.BasePath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Input and pooling modes are written by name
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(config, hook); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}

	return config, nil
}

func SaveConfig(config *CLIConfig, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = GetDefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(cfgFile), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	v := viper.New()
	v.Set("log_level", config.LogLevel)
	v.Set("log_format", config.LogFormat)
	v.Set("default_model", config.DefaultModel)
	v.Set("default_format", config.DefaultFormat)
	v.Set("epochs", config.Epochs)
	v.Set("model", config.Model)
	v.Set("model_storage", config.ModelStorage)
	v.Set("storage", config.Storage)

	return v.WriteConfigAs(cfgFile)
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+constants.AppName, "config.yaml")
}
