package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/pkg/constants"
)

func TestLoadConfig(t *testing.T) {
	config, err := loadConfig(filepath.Join("testdata", "server.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, []string{"default", "ranked"}, config.Preload)
	assert.Equal(t, time.Minute, config.AutosaveInterval)

	assert.Equal(t, 8181, config.Server.Port)
	assert.Equal(t, 9191, config.Server.MetricsPort)
	assert.True(t, config.Server.EnableCORS)
	assert.Equal(t, []string{"https://console.example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, constants.DefaultWriteTimeout, config.Server.WriteTimeout)

	assert.Equal(t, "/var/lib/aimguard/models", config.ModelStorage.Path)
	assert.Equal(t, 8, config.Registry.Model.HiddenSize)
	assert.Equal(t, rnn.PoolMax, config.Registry.Model.PoolingMode)
	assert.NoError(t, config.Server.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitNames(" a, ,b "))
	assert.Nil(t, splitNames(""))
}

func TestBuildInfo(t *testing.T) {
	info := GetBuildInfo(nil)
	assert.Equal(t, constants.AppName, info.App)
	assert.Equal(t, "RNN6", info.ModelFormat)
	assert.Nil(t, info.Model)
	assert.NotContains(t, info.String(), "pooling")

	cfg := rnn.DefaultConfig()
	cfg.PoolingMode = rnn.PoolMax
	info = GetBuildInfo(&cfg)
	require.NotNil(t, info.Model)
	assert.Equal(t, cfg.HiddenSize, info.Model.HiddenSize)
	assert.Equal(t, rnn.PoolMax, info.Model.PoolingMode)
	assert.Contains(t, info.String(), "MAX pooling")
}
