package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateConfusionAndRates(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.4, 0.7, 0.2, 0.1}
	labels := []bool{true, true, true, false, false, false}

	m := Evaluate(probs, labels, 0.5)

	assert.Equal(t, 6, m.Samples)
	assert.Equal(t, Confusion{TP: 2, FP: 1, TN: 2, FN: 1}, m.Confusion)
	assert.InDelta(t, 4.0/6.0, m.Accuracy, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.Precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.Recall, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.F1, 1e-12)
	assert.InDelta(t, 1.0/3.0, m.FPR, 1e-12)
	assert.Greater(t, m.Loss, 0.0)
}

func TestEvaluateThresholdIsInclusive(t *testing.T) {
	m := Evaluate([]float64{0.5}, []bool{true}, 0.5)
	assert.Equal(t, 1, m.Confusion.TP)
}

func TestEvaluateEmpty(t *testing.T) {
	m := Evaluate(nil, nil, 0.5)
	assert.Equal(t, Metrics{}, m)
}

func TestBinaryCrossEntropyClamps(t *testing.T) {
	assert.False(t, math.IsInf(BinaryCrossEntropy(0, 1), 0))
	assert.InDelta(t, -math.Log(1e-7), BinaryCrossEntropy(0, 1), 1e-9)
	assert.InDelta(t, math.Log(2), BinaryCrossEntropy(0.5, 0), 1e-12)
}

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name     string
		probs    []float64
		labels   []bool
		expected float64
	}{
		{"perfect", []float64{0.9, 0.8, 0.2, 0.1}, []bool{true, true, false, false}, 1.0},
		{"inverted", []float64{0.1, 0.2, 0.8, 0.9}, []bool{true, true, false, false}, 0.0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []bool{true, false, true, false}, 0.5},
		{"one class", []float64{0.3, 0.9}, []bool{true, true}, 0.5},
		{"partial", []float64{0.9, 0.4, 0.6, 0.1}, []bool{true, true, false, false}, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ROCAUC(tt.probs, tt.labels), 1e-12)
		})
	}
}

func TestPRAUC(t *testing.T) {
	assert.InDelta(t, 1.0, PRAUC([]float64{0.9, 0.8, 0.2}, []bool{true, true, false}), 1e-12)
	assert.Equal(t, 0.0, PRAUC([]float64{0.9, 0.1}, []bool{false, false}))

	// one negative ranked first: (0,1) -> (0,0) -> (1,0.5)
	assert.InDelta(t, 0.25, PRAUC([]float64{0.9, 0.5}, []bool{false, true}), 1e-12)

	// a tie collapses into one point: (0,1) -> (1,0.5)
	assert.InDelta(t, 0.75, PRAUC([]float64{0.5, 0.5}, []bool{false, true}), 1e-12)
}

func TestBetter(t *testing.T) {
	base := Metrics{F1: 0.8, FPR: 0.1, PRAUC: 0.9, Loss: 0.3}

	assert.True(t, Better(Metrics{F1: 0.9, FPR: 0.5}, base))
	assert.False(t, Better(Metrics{F1: 0.7}, base))
	assert.True(t, Better(Metrics{F1: 0.8, FPR: 0.05, PRAUC: 0.1, Loss: 9}, base))
	assert.False(t, Better(Metrics{F1: 0.8, FPR: 0.2, PRAUC: 1.0}, base))
	assert.True(t, Better(Metrics{F1: 0.8, FPR: 0.1, PRAUC: 0.95, Loss: 9}, base))
	assert.True(t, Better(Metrics{F1: 0.8, FPR: 0.1, PRAUC: 0.9, Loss: 0.2}, base))
	assert.False(t, Better(base, base))
}

func TestObservers(t *testing.T) {
	var seen []int
	observers := Observers{
		ObserverFunc(func(r EpochReport) { seen = append(seen, r.Epoch) }),
		nil,
		ObserverFunc(func(r EpochReport) { seen = append(seen, r.Epoch*10) }),
	}

	observers.ObserveEpoch(EpochReport{Epoch: 3})
	assert.Equal(t, []int{3, 30}, seen)
}
