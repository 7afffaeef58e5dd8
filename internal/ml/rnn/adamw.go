package rnn

import (
	"math"
)

// AdamW implements Adam with decoupled weight decay. T is shared by every
// parameter array and advances once per batch.
type AdamW struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
	T       int64
}

// NewAdamW returns an optimizer with the usual moment decay rates
func NewAdamW() *AdamW {
	return &AdamW{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

// Advance increments the global step
func (o *AdamW) Advance() {
	o.T++
}

func (o *AdamW) corrections() (float64, float64) {
	t := o.T
	if t < 1 {
		t = 1
	}
	return 1 - math.Pow(o.Beta1, float64(t)), 1 - math.Pow(o.Beta2, float64(t))
}

// Step updates param in place from grad, clipping each gradient element to [-clip, clip]
func (o *AdamW) Step(param, grad, m, v []float64, lr, weightDecay, clip float64) {
	c1, c2 := o.corrections()
	for i := range param {
		param[i] -= o.update(grad[i], &m[i], &v[i], param[i], c1, c2, lr, weightDecay, clip)
	}
}

// StepScalar applies the same rule to a single value
func (o *AdamW) StepScalar(param *float64, grad float64, m, v *float64, lr, weightDecay, clip float64) {
	c1, c2 := o.corrections()
	*param -= o.update(grad, m, v, *param, c1, c2, lr, weightDecay, clip)
}

func (o *AdamW) update(g float64, m, v *float64, param, c1, c2, lr, weightDecay, clip float64) float64 {
	if !finite(g) {
		g = 0
	}
	if clip > 0 {
		g = Clamp(g, -clip, clip)
	}

	*m = o.Beta1*(*m) + (1-o.Beta1)*g
	*v = o.Beta2*(*v) + (1-o.Beta2)*g*g

	mHat := *m / c1
	vHat := *v / c2
	return lr * (mHat/(math.Sqrt(vHat)+o.Epsilon) + weightDecay*param)
}
