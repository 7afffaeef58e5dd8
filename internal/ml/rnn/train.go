package rnn

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/pkg/models"
)

// TrainingResult is returned by TrainEpochs
type TrainingResult = evaluation.TrainingResult

// TrainEpochs trains on dataset for the given number of epochs, keeping the
// parameters of the epoch with the best validation metrics. The best snapshot
// is restored into the live model when training ends. epochs <= 0 or a dataset
// without usable samples leaves the model untouched.
func (m *Model) TrainEpochs(dataset []models.Sample, epochs int) *TrainingResult {
	started := time.Now()
	result := &TrainingResult{}

	usable := m.usableSamples(dataset)
	result.SkippedSamples = len(dataset) - len(usable)
	if epochs <= 0 || len(usable) == 0 {
		m.logger.WithFields(logrus.Fields{
			"model":   m.name,
			"epochs":  epochs,
			"samples": len(usable),
		}).Info("Training skipped")
		return result
	}

	train, val := m.split(usable)
	result.TrainSamples = len(train)
	result.ValidationSamples = len(val)

	m.logger.WithFields(logrus.Fields{
		"model":      m.name,
		"epochs":     epochs,
		"train":      len(train),
		"validation": len(val),
		"skipped":    result.SkippedSamples,
		"input_mode": m.cfg.InputMode.String(),
		"pooling":    m.cfg.PoolingMode.String(),
	}).Info("Starting training")

	var best *snapshot
	var bestMetrics evaluation.Metrics

	for epoch := 1; epoch <= epochs; epoch++ {
		epochStart := time.Now()

		m.rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
		trainLoss, batches := m.runEpoch(train)

		report := evaluation.EpochReport{
			Model:      m.name,
			Epoch:      epoch,
			Epochs:     epochs,
			Batches:    batches,
			TrainLoss:  trainLoss,
			Train:      m.evaluate(train),
			Validation: m.evaluate(val),
		}

		if best == nil || evaluation.Better(report.Validation, bestMetrics) {
			best = m.arena.snapshot(m.trainSteps, m.opt.T)
			bestMetrics = report.Validation
			result.BestEpoch = epoch
			report.Best = true
		}
		report.BestEpoch = result.BestEpoch
		report.Duration = time.Since(epochStart)

		m.logEpoch(report)
		result.Epochs = append(result.Epochs, report)
		m.observers.ObserveEpoch(report)
	}

	m.restore(best)
	result.Best = bestMetrics
	result.Restored = true
	result.Duration = time.Since(started)

	m.logger.WithFields(logrus.Fields{
		"model":      m.name,
		"best_epoch": result.BestEpoch,
		"val_f1":     bestMetrics.F1,
		"val_fpr":    bestMetrics.FPR,
		"val_pr_auc": bestMetrics.PRAUC,
		"duration":   result.Duration,
	}).Info("Restored best checkpoint")

	return result
}

// usableSamples keeps the samples the active preprocessor accepts
func (m *Model) usableSamples(dataset []models.Sample) []models.Sample {
	pre := m.preprocessor()
	usable := make([]models.Sample, 0, len(dataset))
	for _, s := range dataset {
		if _, ok := pre.Prepare(s.Observations); ok {
			usable = append(usable, s)
		}
	}
	return usable
}

// split shuffles a copy of samples and holds out a validation share. Both
// splits get at least one sample; a single sample lands in both.
func (m *Model) split(samples []models.Sample) (train, val []models.Sample) {
	shuffled := make([]models.Sample, len(samples))
	copy(shuffled, samples)
	m.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := len(shuffled)
	if n == 1 {
		return shuffled, shuffled
	}

	nVal := int(math.Round(m.cfg.ValidationSplit * float64(n)))
	if nVal < 1 {
		nVal = 1
	}
	if nVal > n-1 {
		nVal = n - 1
	}
	return shuffled[nVal:], shuffled[:nVal]
}

// chunk cuts a sample into consecutive pieces of at most length observations,
// dropping pieces shorter than two.
func chunk(sample models.Sample, length int) []example {
	var out []example
	obs := sample.Observations
	for start := 0; start < len(obs); start += length {
		end := start + length
		if end > len(obs) {
			end = len(obs)
		}
		if end-start < 2 {
			continue
		}
		out = append(out, example{obs: obs[start:end], label: sample.Label})
	}
	return out
}

// runEpoch trains one pass over train and returns the mean batch loss and the
// number of batches that updated the model.
func (m *Model) runEpoch(train []models.Sample) (float64, int) {
	var examples []example
	for _, s := range train {
		examples = append(examples, chunk(s, m.cfg.ChunkLength)...)
	}

	batchSize := m.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	total := 0.0
	batches := 0
	for start := 0; start < len(examples); start += batchSize {
		end := start + batchSize
		if end > len(examples) {
			end = len(examples)
		}
		loss, used := m.trainBatch(examples[start:end])
		if used == 0 {
			continue
		}
		total += loss
		batches++
	}

	if batches == 0 {
		return 0, 0
	}
	return total / float64(batches), batches
}

// evaluate scores whole samples in inference mode
func (m *Model) evaluate(samples []models.Sample) evaluation.Metrics {
	probs := make([]float64, len(samples))
	labels := make([]bool, len(samples))
	for i, s := range samples {
		probs[i] = m.CheckData(s.Observations)
		labels[i] = s.Label
	}
	return evaluation.Evaluate(probs, labels, m.cfg.DecisionThreshold)
}

// restore copies a snapshot back into the live parameters, moments and counters
func (m *Model) restore(s *snapshot) {
	if s == nil {
		return
	}
	m.arena.restore(s)
	m.trainSteps = s.trainSteps
	m.opt.T = s.optimizerSteps
}

func (m *Model) logEpoch(r evaluation.EpochReport) {
	v := r.Validation
	m.logger.WithFields(logrus.Fields{
		"model":         m.name,
		"epoch":         r.Epoch,
		"epochs":        r.Epochs,
		"batches":       r.Batches,
		"train_loss":    r.TrainLoss,
		"val_loss":      v.Loss,
		"val_accuracy":  v.Accuracy,
		"val_precision": v.Precision,
		"val_recall":    v.Recall,
		"val_f1":        v.F1,
		"val_fpr":       v.FPR,
		"val_roc_auc":   v.ROCAUC,
		"val_pr_auc":    v.PRAUC,
		"tp":            v.Confusion.TP,
		"fp":            v.Confusion.FP,
		"tn":            v.Confusion.TN,
		"fn":            v.Confusion.FN,
		"duration":      r.Duration,
	}).Info("Training epoch completed")

	if r.Best {
		m.logger.WithFields(logrus.Fields{
			"model":  m.name,
			"epoch":  r.Epoch,
			"val_f1": v.F1,
		}).Info("New best checkpoint")
	}
}
