package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/cmd/cli/config"
	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/storage"
	"github.com/inferloop/aimguard/internal/utils/encoding"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/interfaces"
)

// GlobalOptions holds the root flags and the state every command shares
type GlobalOptions struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
	Verbose    bool

	Config *config.CLIConfig
	Logger *logrus.Logger
	Out    io.Writer
}

// Init loads the configuration and sets up logging. Flags override the file.
func (g *GlobalOptions) Init() error {
	cfg, err := config.LoadConfig(g.ConfigFile)
	if err != nil {
		return err
	}

	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.LogFormat = g.LogFormat
	}
	if g.Verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}

	g.Config = cfg
	g.Logger = setupLogger(cfg.LogLevel, cfg.LogFormat)
	if g.Out == nil {
		g.Out = os.Stdout
	}
	return nil
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// openRegistry builds a registry over the configured model storage
func (g *GlobalOptions) openRegistry(ctx context.Context) (*ml.ModelRegistry, error) {
	modelStorage, err := ml.NewModelStorage(ctx, &g.Config.ModelStorage, g.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open model storage: %w", err)
	}

	registryConfig := ml.DefaultRegistryConfig()
	registryConfig.Model = g.Config.Model

	return ml.NewModelRegistry(modelStorage, registryConfig, g.Logger)
}

// openModel loads the named model, creating and storing a fresh one when absent
func (g *GlobalOptions) openModel(ctx context.Context, registry *ml.ModelRegistry, name string) (*ml.ManagedModel, error) {
	if name == "" {
		name = g.Config.DefaultModel
	}

	handle, err := registry.LoadOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}
	return registry.Get(handle)
}

// openDataset connects the configured dataset store
func (g *GlobalOptions) openDataset(ctx context.Context, backend string) (interfaces.DatasetStore, error) {
	storageConfig := g.Config.Storage
	if backend != "" {
		storageConfig.Backend = backend
	}

	store, err := storage.NewFactory(g.Logger).CreateDatasetStore(&storageConfig)
	if err != nil {
		return nil, err
	}

	if err := store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s storage: %w", storageConfig.Backend, err)
	}
	return store, nil
}

// outputFormat resolves the --format flag against the configured default
func (g *GlobalOptions) outputFormat(format string) string {
	if format == "" {
		format = g.Config.DefaultFormat
	}
	return strings.ToLower(format)
}

// writeOutput renders v as JSON or YAML, or calls text for the text format
func (g *GlobalOptions) writeOutput(format string, v interface{}, text func(w io.Writer) error) error {
	format = g.outputFormat(format)
	if format == constants.FormatText {
		return text(g.Out)
	}

	parsed, err := encoding.ParseFormat(format)
	if err != nil || parsed == encoding.MessagePack {
		return fmt.Errorf("unsupported output format: %s", format)
	}

	var serializer encoding.Serializer = encoding.NewYAMLSerializer()
	if parsed == encoding.JSON {
		serializer = encoding.NewJSONSerializer(true)
	}

	data, err := serializer.Serialize(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if _, err := g.Out.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err = fmt.Fprintln(g.Out)
	}
	return err
}

func labelName(cheat bool) string {
	if cheat {
		return constants.LabelCheat
	}
	return constants.LabelLegit
}

func parseLabel(label string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case constants.LabelCheat, "true", "1":
		return true, nil
	case constants.LabelLegit, "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid label %q (expected %s or %s)", label, constants.LabelCheat, constants.LabelLegit)
	}
}
