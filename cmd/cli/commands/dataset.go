package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

type DatasetOptions struct {
	Storage string
	Format  string
}

func NewDatasetCmd(global *GlobalOptions) *cobra.Command {
	opts := &DatasetOptions{}

	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage the labelled sample dataset",
		Long: `Add, list, count, import and delete labelled aim sequences in the configured
dataset store (file, redis or postgres).`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Storage, "storage", "s", "", "Dataset storage backend (file, redis, postgres)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "", "Output format (text, json, yaml)")

	cmd.AddCommand(newDatasetAddCmd(global, opts))
	cmd.AddCommand(newDatasetCountCmd(global, opts))
	cmd.AddCommand(newDatasetListCmd(global, opts))
	cmd.AddCommand(newDatasetImportCmd(global, opts))
	cmd.AddCommand(newDatasetDeleteCmd(global, opts))

	return cmd
}

func newDatasetAddCmd(global *GlobalOptions, opts *DatasetOptions) *cobra.Command {
	var inputFile, label, source string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add labelled sequences to the dataset",
		Example: `  aimguard dataset add --input flick.csv --label cheat
  aimguard dataset add --input event.json --label legit --storage redis`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cheat, err := parseLabel(label)
			if err != nil {
				return err
			}

			seqs, err := readSequences(inputFile)
			if err != nil {
				return err
			}

			ids, err := storeSequences(contextOf(cmd), global, opts.Storage, seqs, cheat, source)
			if err != nil {
				return err
			}

			return global.writeOutput(opts.Format, ids, func(w io.Writer) error {
				for _, id := range ids {
					fmt.Fprintf(w, "%s %s\n", labelName(cheat), id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file, CSV or JSON (- for stdin)")
	cmd.Flags().StringVarP(&label, "label", "l", "", "Sample label (cheat, legit)")
	cmd.Flags().StringVar(&source, "source", "cli", "Source recorded on the samples")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("label")

	return cmd
}

func newDatasetCountCmd(global *GlobalOptions, opts *DatasetOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count samples per label",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)

			store, err := global.openDataset(ctx, opts.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Count(ctx)
			if err != nil {
				return err
			}

			return global.writeOutput(opts.Format, summary, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "total %d\ncheat %d\nlegit %d\n", summary.Total, summary.Cheat, summary.Legit)
				return err
			})
		},
	}
}

func newDatasetListCmd(global *GlobalOptions, opts *DatasetOptions) *cobra.Command {
	var label string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sample ids",
		Example: `  aimguard dataset list --label cheat --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)

			filter := &interfaces.SampleFilter{Limit: limit}
			if label != "" {
				cheat, err := parseLabel(label)
				if err != nil {
					return err
				}
				filter.Label = &cheat
			}

			store, err := global.openDataset(ctx, opts.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.ListSamples(ctx, filter)
			if err != nil {
				return err
			}

			return global.writeOutput(opts.Format, ids, func(w io.Writer) error {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "", "Only list samples with this label")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of ids (0 for all)")

	return cmd
}

func newDatasetImportCmd(global *GlobalOptions, opts *DatasetOptions) *cobra.Command {
	var inputFile string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON sample file into the dataset",
		Example: `  aimguard generate --count 500 --output samples.json
  aimguard dataset import --input samples.json --storage postgres`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)

			samples, err := readSamples(inputFile)
			if err != nil {
				return err
			}

			store, err := global.openDataset(ctx, opts.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			imported, err := importSamples(ctx, store, samples)
			if err != nil {
				return err
			}

			global.Logger.WithFields(logrus.Fields{
				"imported": imported,
				"input":    inputFile,
			}).Info("Dataset import finished")

			summary := models.Summarize(samples[:imported])
			return global.writeOutput(opts.Format, summary, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Imported %d samples (%d cheat, %d legit)\n", summary.Total, summary.Cheat, summary.Legit)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "JSON sample file (- for stdin)")
	cmd.MarkFlagRequired("input")

	return cmd
}

func newDatasetDeleteCmd(global *GlobalOptions, opts *DatasetOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete samples by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)

			store, err := global.openDataset(ctx, opts.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.Delete(ctx, id); err != nil {
					return fmt.Errorf("failed to delete %s: %w", id, err)
				}
			}
			fmt.Fprintf(global.Out, "Deleted %d sample(s)\n", len(args))
			return nil
		},
	}
}

// importSamples saves samples in order and returns how many were stored
func importSamples(ctx context.Context, store interfaces.DatasetStore, samples []models.Sample) (int, error) {
	for i := range samples {
		if _, err := store.SaveSample(ctx, &samples[i]); err != nil {
			return i, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return len(samples), nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
