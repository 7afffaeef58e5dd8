package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/internal/utils/synthetic"
	"github.com/inferloop/aimguard/pkg/models"
)

type GenerateOptions struct {
	Count      int
	CheatRatio float64
	MinLength  int
	MaxLength  int
	Seed       int64
	OutputFile string
	Store      bool
	Storage    string
}

func NewGenerateCmd(global *GlobalOptions) *cobra.Command {
	opts := &GenerateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic labelled dataset",
		Long: `Generate labelled aim sequences: smooth noisy tracking for legit samples and
snap-and-jitter movement for cheat samples. Useful for demos and smoke tests.`,
		Example: `  # Write 200 samples to a JSON file
  aimguard generate --count 200 --output samples.json

  # Fill the configured dataset store directly
  aimguard generate --count 1000 --cheat-ratio 0.3 --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, global, opts)
		},
	}

	defaults := synthetic.DefaultConfig()
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100, "Number of samples")
	cmd.Flags().Float64Var(&opts.CheatRatio, "cheat-ratio", defaults.CheatRatio, "Fraction of cheat samples")
	cmd.Flags().IntVar(&opts.MinLength, "min-length", defaults.MinLength, "Minimum observations per sample")
	cmd.Flags().IntVar(&opts.MaxLength, "max-length", defaults.MaxLength, "Maximum observations per sample")
	cmd.Flags().Int64Var(&opts.Seed, "seed", defaults.Seed, "Random seed")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().BoolVar(&opts.Store, "store", false, "Save into the dataset store instead of writing JSON")
	cmd.Flags().StringVarP(&opts.Storage, "storage", "s", "", "Dataset storage backend for --store")

	return cmd
}

func runGenerate(cmd *cobra.Command, global *GlobalOptions, opts *GenerateOptions) error {
	if opts.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if opts.CheatRatio < 0 || opts.CheatRatio > 1 {
		return fmt.Errorf("cheat ratio must be in [0, 1]")
	}

	config := synthetic.DefaultConfig()
	config.CheatRatio = opts.CheatRatio
	config.MinLength = opts.MinLength
	config.MaxLength = opts.MaxLength
	config.Seed = opts.Seed

	samples := synthetic.NewGenerator(config).Dataset(opts.Count)
	summary := models.Summarize(samples)

	global.Logger.WithFields(logrus.Fields{
		"samples": summary.Total,
		"cheat":   summary.Cheat,
		"legit":   summary.Legit,
	}).Info("Generated synthetic dataset")

	if opts.Store {
		ctx := contextOf(cmd)
		store, err := global.openDataset(ctx, opts.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		imported, err := importSamples(ctx, store, samples)
		if err != nil {
			return err
		}
		fmt.Fprintf(global.Out, "Stored %d samples\n", imported)
		return nil
	}

	output := global.Out
	if opts.OutputFile != "-" {
		file, err := os.Create(opts.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		output = file
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(samples)
}
