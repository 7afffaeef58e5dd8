package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/pkg/models"
)

type LearnOptions struct {
	Model     string
	InputFile string
	Label     string
	Format    string
	Store     bool
	Storage   string
	NoSave    bool
}

// LearnOutput is the printed result of an online learning run
type LearnOutput struct {
	Model     string   `json:"model" yaml:"model"`
	Label     string   `json:"label" yaml:"label"`
	Steps     int      `json:"steps" yaml:"steps"`
	SampleIDs []string `json:"sample_ids,omitempty" yaml:"sample_ids,omitempty"`
	Location  string   `json:"location,omitempty" yaml:"location,omitempty"`
}

func NewLearnCmd(global *GlobalOptions) *cobra.Command {
	opts := &LearnOptions{}

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Run online training steps on labelled sequences",
		Long: `Feed labelled sequences to a model one training step each and save it.
With --store the sequences are also added to the dataset.`,
		Example: `  # Teach the model a confirmed cheat
  aimguard learn --input flick.csv --label cheat

  # Learn and keep the sample for later epoch training
  aimguard learn --input clean.json --label legit --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearn(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model name (default from config)")
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input file, CSV or JSON (- for stdin)")
	cmd.Flags().StringVarP(&opts.Label, "label", "l", "", "Sample label (cheat, legit)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (text, json, yaml)")
	cmd.Flags().BoolVar(&opts.Store, "store", false, "Also add the sequences to the dataset")
	cmd.Flags().StringVarP(&opts.Storage, "storage", "s", "", "Dataset storage backend for --store")
	cmd.Flags().BoolVar(&opts.NoSave, "no-save", false, "Do not save the model afterwards")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("label")

	return cmd
}

func runLearn(ctx context.Context, global *GlobalOptions, opts *LearnOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	label, err := parseLabel(opts.Label)
	if err != nil {
		return err
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

	output := &LearnOutput{
		Model: model.Name,
		Label: labelName(label),
	}

	for _, seq := range seqs {
		if err := model.Learn(ctx, seq, label); err != nil {
			return err
		}
		output.Steps++
	}

	if opts.Store {
		ids, err := storeSequences(ctx, global, opts.Storage, seqs, label, "learn")
		if err != nil {
			return err
		}
		output.SampleIDs = ids
	}

	if !opts.NoSave {
		meta, err := registry.Save(ctx, model.Handle)
		if err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}
		output.Location = meta.Location
	}

	global.Logger.WithFields(logrus.Fields{
		"model": output.Model,
		"label": output.Label,
		"steps": output.Steps,
	}).Info("Learning finished")

	return global.writeOutput(opts.Format, output, func(w io.Writer) error {
		fmt.Fprintf(w, "Learned %d %s sequence(s) into %s\n", output.Steps, output.Label, output.Model)
		if len(output.SampleIDs) > 0 {
			fmt.Fprintf(w, "Stored samples: %d\n", len(output.SampleIDs))
		}
		if output.Location != "" {
			fmt.Fprintf(w, "Saved to: %s\n", output.Location)
		}
		return nil
	})
}

// storeSequences adds each sequence to the dataset as one labelled sample
func storeSequences(ctx context.Context, global *GlobalOptions, backend string, seqs [][]models.Observation, label bool, source string) ([]string, error) {
	store, err := global.openDataset(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ids := make([]string, 0, len(seqs))
	for _, seq := range seqs {
		sample := &models.Sample{
			ID:           uuid.New().String(),
			Label:        label,
			Observations: seq,
			CreatedAt:    time.Now().UTC(),
			Source:       source,
		}
		id, err := store.SaveSample(ctx, sample)
		if err != nil {
			return ids, fmt.Errorf("failed to store sample: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
