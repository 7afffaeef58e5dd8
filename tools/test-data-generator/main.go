package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inferloop/aimguard/internal/utils/synthetic"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/models"
)

// Config describes a fixture set. Profiles may be tuned to produce harder or
// easier separations than the defaults.
type Config struct {
	NumSamples   int              `json:"num_samples" yaml:"num_samples"`
	OutputFormat string           `json:"output_format" yaml:"output_format"` // json, csv
	OutputDir    string           `json:"output_dir" yaml:"output_dir"`
	Generator    synthetic.Config `json:"generator" yaml:"generator"`
}

// Manifest indexes the files written for one fixture set
type Manifest struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Generator   string                `json:"generator"`
	Version     string                `json:"version"`
	Format      string                `json:"format"`
	Summary     models.DatasetSummary `json:"summary"`
	Files       []ManifestEntry       `json:"files"`
}

type ManifestEntry struct {
	File         string `json:"file"`
	Label        string `json:"label"`
	Observations int    `json:"observations"`
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path (JSON or YAML)")
		numSamples = flag.Int("samples", 20, "Number of samples to generate")
		cheatRatio = flag.Float64("cheat-ratio", 0.5, "Fraction of cheat samples")
		seed       = flag.Int64("seed", 1, "Random seed")
		output     = flag.String("output", "testdata", "Output directory")
		format     = flag.String("format", "csv", "Output format (json/csv)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	// Setup logging
	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Load or create config
	var config *Config
	if *configFile != "" {
		var err error
		config, err = loadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = getDefaultConfig()
		config.NumSamples = *numSamples
		config.Generator.CheatRatio = *cheatRatio
		config.Generator.Seed = *seed
		config.OutputDir = *output
		config.OutputFormat = *format
	}

	logger.WithFields(logrus.Fields{
		"num_samples":   config.NumSamples,
		"cheat_ratio":   config.Generator.CheatRatio,
		"output_dir":    config.OutputDir,
		"output_format": config.OutputFormat,
	}).Info("Starting test data generation")

	samples := synthetic.NewGenerator(config.Generator).Dataset(config.NumSamples)

	manifest, err := writeFixtures(samples, config.OutputDir, config.OutputFormat, logger)
	if err != nil {
		log.Fatalf("Failed to save data: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"samples_generated": manifest.Summary.Total,
		"cheat":             manifest.Summary.Cheat,
		"legit":             manifest.Summary.Legit,
		"output_dir":        config.OutputDir,
	}).Info("Test data generation completed")
}

// writeFixtures writes one file per sample plus manifest.json. CSV files hold
// yaw,pitch rows, the layout the CLI reads for check and learn.
func writeFixtures(samples []models.Sample, dir, format string, logger *logrus.Logger) (*Manifest, error) {
	if format != "json" && format != "csv" {
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := &Manifest{
		GeneratedAt: time.Now().UTC(),
		Generator:   "test-data-generator",
		Version:     constants.AppVersion,
		Format:      format,
		Summary:     models.Summarize(samples),
	}

	for i, sample := range samples {
		label := constants.LabelLegit
		if sample.Label {
			label = constants.LabelCheat
		}
		name := fmt.Sprintf("%s_%04d.%s", label, i, format)
		path := filepath.Join(dir, name)

		var err error
		if format == "csv" {
			err = saveAsCSV(sample.Observations, path)
		} else {
			err = saveAsJSON(sample.Observations, path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}

		logger.WithFields(logrus.Fields{"file": name, "observations": len(sample.Observations)}).Debug("Wrote fixture")
		manifest.Files = append(manifest.Files, ManifestEntry{
			File:         name,
			Label:        label,
			Observations: len(sample.Observations),
		})
	}

	file, err := os.Create(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func saveAsJSON(obs []models.Observation, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(map[string]interface{}{
		"observations": obs,
	})
}

func saveAsCSV(obs []models.Observation, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("yaw,pitch\n"); err != nil {
		return err
	}
	for _, o := range obs {
		if _, err := fmt.Fprintf(file, "%.6f,%.6f\n", o.Yaw, o.Pitch); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config := getDefaultConfig()
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, err
	}

	return config, nil
}

func getDefaultConfig() *Config {
	return &Config{
		NumSamples:   20,
		OutputFormat: "csv",
		OutputDir:    "testdata",
		Generator:    synthetic.DefaultConfig(),
	}
}
