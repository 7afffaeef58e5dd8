package evaluation

import (
	"time"
)

// EpochReport describes one completed training epoch
type EpochReport struct {
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Epoch      int           `json:"epoch" yaml:"epoch"`
	Epochs     int           `json:"epochs" yaml:"epochs"`
	Batches    int           `json:"batches" yaml:"batches"`
	TrainLoss  float64       `json:"train_loss" yaml:"train_loss"` // Mean smoothed batch loss
	Train      Metrics       `json:"train" yaml:"train"`
	Validation Metrics       `json:"validation" yaml:"validation"`
	Best       bool          `json:"best" yaml:"best"`
	BestEpoch  int           `json:"best_epoch" yaml:"best_epoch"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// TrainingResult summarizes a TrainEpochs run
type TrainingResult struct {
	Epochs            []EpochReport `json:"epochs" yaml:"epochs"`
	BestEpoch         int           `json:"best_epoch" yaml:"best_epoch"` // 1-based, 0 when nothing ran
	Best              Metrics       `json:"best" yaml:"best"`
	TrainSamples      int           `json:"train_samples" yaml:"train_samples"`
	ValidationSamples int           `json:"validation_samples" yaml:"validation_samples"`
	SkippedSamples    int           `json:"skipped_samples" yaml:"skipped_samples"`
	Restored          bool          `json:"restored" yaml:"restored"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}

// Observer receives epoch reports. Observers must not mutate the model.
type Observer interface {
	ObserveEpoch(report EpochReport)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(report EpochReport)

// ObserveEpoch calls f
func (f ObserverFunc) ObserveEpoch(report EpochReport) {
	f(report)
}

// Observers fans a report out to several observers in order
type Observers []Observer

// ObserveEpoch forwards the report to every observer
func (o Observers) ObserveEpoch(report EpochReport) {
	for _, observer := range o {
		if observer != nil {
			observer.ObserveEpoch(report)
		}
	}
}
