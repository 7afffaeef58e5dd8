package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/internal/ml"
	"github.com/inferloop/aimguard/internal/ml/rnn"
)

type InfoOptions struct {
	Model  string
	Format string
	List   bool
}

// InfoOutput describes a model and its stored artifact
type InfoOutput struct {
	Info     rnn.Info            `json:"info" yaml:"info"`
	Artifact *ml.StorageMetadata `json:"artifact,omitempty" yaml:"artifact,omitempty"`
}

func NewInfoCmd(global *GlobalOptions) *cobra.Command {
	opts := &InfoOptions{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show model architecture and training state",
		Example: `  # Describe the default model
  aimguard info

  # List stored models
  aimguard info --list

  # Dump the full configuration of a model as YAML
  aimguard info --model mouse-v2 --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model name (default from config)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (text, json, yaml)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "List stored model names")

	return cmd
}

func runInfo(ctx context.Context, global *GlobalOptions, opts *InfoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	registry, err := global.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	if opts.List {
		names, err := registry.Storage().List(ctx)
		if err != nil {
			return err
		}
		return global.writeOutput(opts.Format, names, func(w io.Writer) error {
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
			return nil
		})
	}

	model, err := global.openModel(ctx, registry, opts.Model)
	if err != nil {
		return err
	}

	info, err := model.Info(ctx)
	if err != nil {
		return err
	}

	output := &InfoOutput{Info: info}
	if meta, err := registry.Storage().GetMetadata(ctx, model.Name); err == nil {
		output.Artifact = meta
	}

	return global.writeOutput(opts.Format, output, func(w io.Writer) error {
		return printInfo(w, output)
	})
}

func printInfo(w io.Writer, output *InfoOutput) error {
	info := output.Info
	cfg := info.Config

	fmt.Fprintf(w, "Model: %s\n", info.Name)
	fmt.Fprintf(w, "Input: %s (%d features)\n", cfg.InputMode, cfg.InputSize)
	fmt.Fprintf(w, "Encoder: %d layer(s), hidden %d, bidirectional %t, output %d\n",
		cfg.NumLayers, cfg.HiddenSize, cfg.Bidirectional, info.OutputSize)
	fmt.Fprintf(w, "Pooling: %s\n", cfg.PoolingMode)
	fmt.Fprintf(w, "Parameters: %d\n", info.Parameters)
	fmt.Fprintf(w, "Training: lr %g, dropout %.2f/%.2f, weight decay %g, clip %g, smoothing %.2f, batch %d\n",
		cfg.LearningRate, cfg.Dropout, cfg.RecurrentDropout, cfg.WeightDecay,
		cfg.GradientClip, cfg.LabelSmoothing, cfg.BatchSize)
	fmt.Fprintf(w, "Steps: %d train, %d optimizer\n", info.TrainSteps, info.OptimizerSteps)

	if a := output.Artifact; a != nil {
		fmt.Fprintf(w, "Artifact: %s (%d bytes, md5 %s)\n", a.Location, a.Size, a.Checksum)
	}
	return nil
}
