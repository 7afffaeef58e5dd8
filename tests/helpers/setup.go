package helpers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/internal/utils/synthetic"
	"github.com/inferloop/aimguard/pkg/models"
)

// TestConfig contains configuration for test setup
type TestConfig struct {
	LogLevel        string
	TimeoutDuration time.Duration
	TempDir         string
	Seed            int64
}

// TestEnvironment provides a test environment with common utilities
type TestEnvironment struct {
	Config    *TestConfig
	Logger    *logrus.Logger
	Context   context.Context
	Cancel    context.CancelFunc
	Generator *synthetic.Generator
	T         *testing.T
}

// NewTestEnvironment creates a new test environment. The context is cancelled on test cleanup.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	config := &TestConfig{
		LogLevel:        "debug",
		TimeoutDuration: 30 * time.Second,
		TempDir:         t.TempDir(),
		Seed:            7,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TimeoutDuration)
	t.Cleanup(cancel)

	genConfig := synthetic.DefaultConfig()
	genConfig.Seed = config.Seed

	return &TestEnvironment{
		Config:    config,
		Logger:    GetTestLogger(t),
		Context:   ctx,
		Cancel:    cancel,
		Generator: synthetic.NewGenerator(genConfig),
		T:         t,
	}
}

// Cleanup performs test cleanup
func (env *TestEnvironment) Cleanup() {
	if env.Cancel != nil {
		env.Cancel()
	}
}

// LegitSequence returns a smooth tracking sequence of n observations
func (env *TestEnvironment) LegitSequence(n int) []models.Observation {
	return env.Generator.Sequence(false, n)
}

// CheatSequence returns a snapping sequence of n observations
func (env *TestEnvironment) CheatSequence(n int) []models.Observation {
	return env.Generator.Sequence(true, n)
}

// GenerateTestDataset returns count labelled samples, half of them cheat
func (env *TestEnvironment) GenerateTestDataset(count int) []models.Sample {
	return env.Generator.Dataset(count)
}

// SmallModelConfig returns a model configuration small enough for fast tests
func SmallModelConfig() rnn.Config {
	cfg := rnn.DefaultConfig()
	cfg.InputSize = 4
	cfg.HiddenSize = 3
	cfg.NumLayers = 1
	cfg.BatchSize = 4
	cfg.ChunkLength = 60
	cfg.Seed = 3
	return cfg
}

// WaitForCondition polls condition until it holds or timeout elapses
func (env *TestEnvironment) WaitForCondition(condition func() bool, timeout time.Duration, message string) {
	env.T.Helper()
	AssertEventuallyTrue(env.T, condition, timeout, 10*time.Millisecond, message)
}

// GetTestLogger returns a logger that discards output unless the test runs verbose
func GetTestLogger(t *testing.T) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return logger
}

// GetTestContext returns a context with timeout
func GetTestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// SkipIfShort skips slow tests under -short
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test in short mode")
	}
}
