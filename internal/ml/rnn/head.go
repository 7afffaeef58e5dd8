package rnn

import (
	"gonum.org/v1/gonum/floats"
)

// BinaryHead maps a pooled vector to a probability: sigmoid(b + V·pooled)
type BinaryHead struct {
	v []float64
	b *float64
}

// HeadCache keeps the head input for the backward pass
type HeadCache struct {
	Pooled []float64
	Prob   float64
}

// HeadGrad accumulates head gradients
type HeadGrad struct {
	V []float64
	B *float64
}

// NewBinaryHead binds the head weight vector and bias
func NewBinaryHead(v []float64, b *float64) *BinaryHead {
	return &BinaryHead{v: v, b: b}
}

// Forward returns the probability for pooled. cache may be nil.
func (h *BinaryHead) Forward(pooled []float64, cache *HeadCache) float64 {
	prob := Sigmoid(*h.b + floats.Dot(h.v, pooled))
	if cache != nil {
		cache.Pooled = pooled
		cache.Prob = prob
	}
	return prob
}

// Backward accumulates dV and dB for dLogit and returns dPooled
func (h *BinaryHead) Backward(cache *HeadCache, dLogit float64, grad *HeadGrad) []float64 {
	*grad.B += dLogit
	floats.AddScaled(grad.V, dLogit, cache.Pooled)

	dPooled := make([]float64, len(h.v))
	floats.AddScaled(dPooled, dLogit, h.v)
	return dPooled
}
