package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/internal/utils/synthetic"
)

func TestWriteFixturesCSV(t *testing.T) {
	dir := t.TempDir()
	config := synthetic.DefaultConfig()
	config.Seed = 3
	samples := synthetic.NewGenerator(config).Dataset(6)

	manifest, err := writeFixtures(samples, dir, "csv", logrus.New())
	require.NoError(t, err)
	require.Len(t, manifest.Files, 6)
	assert.Equal(t, 6, manifest.Summary.Total)
	assert.Equal(t, manifest.Summary.Total, manifest.Summary.Cheat+manifest.Summary.Legit)

	data, err := os.ReadFile(filepath.Join(dir, manifest.Files[0].File))
	require.NoError(t, err)
	assert.Contains(t, string(data), "yaw,pitch\n")

	var stored Manifest
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, manifest.Files, stored.Files)
}

func TestWriteFixturesRejectsFormat(t *testing.T) {
	_, err := writeFixtures(nil, t.TempDir(), "parquet", logrus.New())
	assert.Error(t, err)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_samples: 4\noutput_format: json\ngenerator:\n  cheat_ratio: 0.25\n  min_length: 30\n"), 0644))

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, config.NumSamples)
	assert.Equal(t, "json", config.OutputFormat)
	assert.Equal(t, 0.25, config.Generator.CheatRatio)
	assert.Equal(t, 30, config.Generator.MinLength)
	assert.Equal(t, synthetic.DefaultConfig().MaxLength, config.Generator.MaxLength)
}
