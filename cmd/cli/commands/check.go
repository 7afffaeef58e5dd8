package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type CheckOptions struct {
	Model     string
	InputFile string
	Format    string
	Threshold float64
}

// CheckOutput is the printed classification of one event
type CheckOutput struct {
	Model        string  `json:"model" yaml:"model"`
	Sequences    int     `json:"sequences" yaml:"sequences"`
	Observations int     `json:"observations" yaml:"observations"`
	Probability  float64 `json:"probability" yaml:"probability"`
	Threshold    float64 `json:"threshold" yaml:"threshold"`
	Verdict      string  `json:"verdict" yaml:"verdict"`
}

func NewCheckCmd(global *GlobalOptions) *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Classify aim sequences as cheat or legit",
		Long: `Compute the cheat probability of one event. An input with several sequences
is scored as the mean probability over all of them.`,
		Example: `  # Check a CSV of yaw,pitch deltas
  aimguard check --input shot.csv

  # Check several sequences of one player from stdin
  cat event.json | aimguard check --input - --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model name (default from config)")
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input file, CSV or JSON (- for stdin)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (text, json, yaml)")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", 0, "Decision threshold (default from model config)")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runCheck(ctx context.Context, global *GlobalOptions, opts *CheckOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	seqs, err := readSequences(opts.InputFile)
	if err != nil {
		return err
	}

	registry, err := global.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	model, err := global.openModel(ctx, registry, opts.Model)
	if err != nil {
		return err
	}

	var p float64
	if len(seqs) == 1 {
		p, err = model.Check(ctx, seqs[0])
	} else {
		p, err = model.CheckAll(ctx, seqs)
	}
	if err != nil {
		return err
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = global.Config.Model.DecisionThreshold
	}

	output := &CheckOutput{
		Model:        model.Name,
		Sequences:    len(seqs),
		Observations: len(flatten(seqs)),
		Probability:  p,
		Threshold:    threshold,
		Verdict:      labelName(p >= threshold),
	}

	return global.writeOutput(opts.Format, output, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s: p=%.4f (threshold %.2f, %d sequences, %d observations)\n",
			output.Verdict, output.Probability, output.Threshold, output.Sequences, output.Observations)
		return err
	})
}
