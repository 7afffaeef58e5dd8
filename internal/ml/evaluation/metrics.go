package evaluation

import (
	"math"
	"sort"
)

const probClamp = 1e-7

// Confusion is a binary confusion matrix at a fixed threshold
type Confusion struct {
	TP int `json:"tp" yaml:"tp"`
	FP int `json:"fp" yaml:"fp"`
	TN int `json:"tn" yaml:"tn"`
	FN int `json:"fn" yaml:"fn"`
}

// Metrics summarizes binary classification quality over one data split
type Metrics struct {
	Samples   int       `json:"samples" yaml:"samples"`
	Loss      float64   `json:"loss" yaml:"loss"`
	Accuracy  float64   `json:"accuracy" yaml:"accuracy"`
	Precision float64   `json:"precision" yaml:"precision"`
	Recall    float64   `json:"recall" yaml:"recall"`
	F1        float64   `json:"f1" yaml:"f1"`
	FPR       float64   `json:"fpr" yaml:"fpr"`
	ROCAUC    float64   `json:"roc_auc" yaml:"roc_auc"`
	PRAUC     float64   `json:"pr_auc" yaml:"pr_auc"`
	Confusion Confusion `json:"confusion" yaml:"confusion"`
}

// BinaryCrossEntropy returns the loss of probability p against target y, with p
// clamped away from 0 and 1.
func BinaryCrossEntropy(p, y float64) float64 {
	p = math.Max(probClamp, math.Min(1-probClamp, p))
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// Evaluate scores probabilities against labels. A probability at or above
// threshold counts as a positive prediction.
func Evaluate(probs []float64, labels []bool, threshold float64) Metrics {
	m := Metrics{Samples: len(probs)}
	if len(probs) == 0 {
		return m
	}

	loss := 0.0
	for i, p := range probs {
		y := 0.0
		if labels[i] {
			y = 1.0
		}
		loss += BinaryCrossEntropy(p, y)

		predicted := p >= threshold
		switch {
		case predicted && labels[i]:
			m.Confusion.TP++
		case predicted && !labels[i]:
			m.Confusion.FP++
		case !predicted && labels[i]:
			m.Confusion.FN++
		default:
			m.Confusion.TN++
		}
	}

	c := m.Confusion
	m.Loss = loss / float64(len(probs))
	m.Accuracy = float64(c.TP+c.TN) / float64(len(probs))
	m.Precision = ratio(c.TP, c.TP+c.FP)
	m.Recall = ratio(c.TP, c.TP+c.FN)
	m.FPR = ratio(c.FP, c.FP+c.TN)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.ROCAUC = ROCAUC(probs, labels)
	m.PRAUC = PRAUC(probs, labels)
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// ROCAUC computes the area under the ROC curve from the Mann-Whitney rank sum,
// averaging ranks across ties. Returns 0.5 when either class is absent.
func ROCAUC(probs []float64, labels []bool) float64 {
	n := len(probs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	positives, rankSum := 0, 0.0
	for i := 0; i < n; {
		j := i
		for j < n && probs[idx[j]] == probs[idx[i]] {
			j++
		}
		// ranks i+1..j share their average
		avg := float64(i+1+j) / 2.0
		for k := i; k < j; k++ {
			if labels[idx[k]] {
				positives++
				rankSum += avg
			}
		}
		i = j
	}

	negatives := n - positives
	if positives == 0 || negatives == 0 {
		return 0.5
	}
	p := float64(positives)
	return (rankSum - p*(p+1)/2) / (p * float64(negatives))
}

// PRAUC integrates precision over recall with the trapezoid rule, starting from
// (recall 0, precision 1) and treating tied scores as one threshold. Returns 0
// when there are no positives.
func PRAUC(probs []float64, labels []bool) float64 {
	n := len(probs)
	positives := 0
	for _, l := range labels {
		if l {
			positives++
		}
	}
	if positives == 0 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	area := 0.0
	prevRecall, prevPrecision := 0.0, 1.0
	tp, fp := 0, 0
	for i := 0; i < n; {
		j := i
		for j < n && probs[idx[j]] == probs[idx[i]] {
			if labels[idx[j]] {
				tp++
			} else {
				fp++
			}
			j++
		}
		recall := float64(tp) / float64(positives)
		precision := float64(tp) / float64(tp+fp)
		area += (recall - prevRecall) * (precision + prevPrecision) / 2
		prevRecall, prevPrecision = recall, precision
		i = j
	}
	return area
}

// Better reports whether candidate beats incumbent for checkpoint selection:
// higher F1, then lower false-positive rate, then higher PR-AUC, then lower loss.
func Better(candidate, incumbent Metrics) bool {
	const tol = 1e-12
	switch {
	case candidate.F1 > incumbent.F1+tol:
		return true
	case candidate.F1 < incumbent.F1-tol:
		return false
	case candidate.FPR < incumbent.FPR-tol:
		return true
	case candidate.FPR > incumbent.FPR+tol:
		return false
	case candidate.PRAUC > incumbent.PRAUC+tol:
		return true
	case candidate.PRAUC < incumbent.PRAUC-tol:
		return false
	default:
		return candidate.Loss < incumbent.Loss-tol
	}
}
