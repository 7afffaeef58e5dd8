package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/internal/storage"
	"github.com/inferloop/aimguard/pkg/models"
)

type TrainOptions struct {
	Model     string
	Epochs    int
	Storage   string
	InputFile string
	Format    string
	NoSave    bool
	Influx    bool
}

// TrainOutput is the printed result of a training run
type TrainOutput struct {
	Model    string                     `json:"model" yaml:"model"`
	Dataset  models.DatasetSummary      `json:"dataset" yaml:"dataset"`
	Result   *evaluation.TrainingResult `json:"result" yaml:"result"`
	Location string                     `json:"location,omitempty" yaml:"location,omitempty"`
}

func NewTrainCmd(global *GlobalOptions) *cobra.Command {
	opts := &TrainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on the labelled dataset",
		Long: `Train a model for a number of epochs on the labelled dataset. The parameters
of the epoch with the best validation metrics are kept and saved.`,
		Example: `  # Train the default model on the configured dataset store
  aimguard train --epochs 20

  # Train a named model on samples written by the generate command
  aimguard train --model mouse-v2 --input samples.json

  # Train from Redis and report each epoch to InfluxDB
  aimguard train --storage redis --influx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model name (default from config)")
	cmd.Flags().IntVarP(&opts.Epochs, "epochs", "e", 0, "Number of epochs (default from config)")
	cmd.Flags().StringVarP(&opts.Storage, "storage", "s", "", "Dataset storage backend (file, redis, postgres)")
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Train on a JSON sample file instead of the dataset store")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (text, json, yaml)")
	cmd.Flags().BoolVar(&opts.NoSave, "no-save", false, "Do not save the trained model")
	cmd.Flags().BoolVar(&opts.Influx, "influx", false, "Write epoch metrics to the configured InfluxDB")

	return cmd
}

func runTrain(ctx context.Context, global *GlobalOptions, opts *TrainOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = global.Config.Epochs
	}

	dataset, err := loadTrainingSet(ctx, global, opts)
	if err != nil {
		return err
	}
	summary := models.Summarize(dataset)

	global.Logger.WithFields(logrus.Fields{
		"samples": summary.Total,
		"cheat":   summary.Cheat,
		"legit":   summary.Legit,
		"epochs":  epochs,
	}).Info("Loaded training set")

	registry, err := global.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	if opts.Influx {
		sink, err := storage.NewFactory(global.Logger).CreateEpochSink(&global.Config.Storage)
		if err != nil {
			return err
		}
		if err := sink.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
		defer sink.Close()

		name := opts.Model
		if name == "" {
			name = global.Config.DefaultModel
		}
		registry.AddObserver(sink.Observer(name))
	}

	registry.AddObserver(evaluation.ObserverFunc(func(report evaluation.EpochReport) {
		global.Logger.WithFields(logrus.Fields{
			"epoch":    report.Epoch,
			"loss":     report.TrainLoss,
			"val_loss": report.Validation.Loss,
			"val_auc":  report.Validation.ROCAUC,
			"best":     report.Best,
		}).Debug("Epoch finished")
	}))

	model, err := global.openModel(ctx, registry, opts.Model)
	if err != nil {
		return err
	}

	result, err := model.Train(ctx, dataset, epochs)
	if err != nil {
		return err
	}

	output := &TrainOutput{
		Model:   model.Name,
		Dataset: summary,
		Result:  result,
	}

	if !opts.NoSave && result.BestEpoch > 0 {
		meta, err := registry.Save(ctx, model.Handle)
		if err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}
		output.Location = meta.Location
	}

	return global.writeOutput(opts.Format, output, func(w io.Writer) error {
		return printTrainResult(w, output)
	})
}

func loadTrainingSet(ctx context.Context, global *GlobalOptions, opts *TrainOptions) ([]models.Sample, error) {
	if opts.InputFile != "" {
		return readSamples(opts.InputFile)
	}

	store, err := global.openDataset(ctx, opts.Storage)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.LoadDataset(ctx)
}

func printTrainResult(w io.Writer, output *TrainOutput) error {
	result := output.Result

	fmt.Fprintf(w, "Model: %s\n", output.Model)
	fmt.Fprintf(w, "Dataset: %d samples (%d cheat, %d legit)\n", output.Dataset.Total, output.Dataset.Cheat, output.Dataset.Legit)

	if result.BestEpoch == 0 {
		fmt.Fprintf(w, "Training skipped: no usable samples (%d skipped)\n", result.SkippedSamples)
		return nil
	}

	fmt.Fprintf(w, "Split: %d train, %d validation, %d skipped\n", result.TrainSamples, result.ValidationSamples, result.SkippedSamples)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EPOCH\tLOSS\tVAL LOSS\tVAL ACC\tVAL F1\tVAL AUC\t")
	for _, epoch := range result.Epochs {
		marker := ""
		if epoch.Best {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%.4f\t%.4f\t%.3f\t%.3f\t%.3f\t\n",
			epoch.Epoch, marker, epoch.TrainLoss, epoch.Validation.Loss,
			epoch.Validation.Accuracy, epoch.Validation.F1, epoch.Validation.ROCAUC)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Best epoch: %d (restored: %t)\n", result.BestEpoch, result.Restored)
	fmt.Fprintf(w, "Duration: %s\n", result.Duration)
	if output.Location != "" {
		fmt.Fprintf(w, "Saved to: %s\n", output.Location)
	}
	return nil
}

