package rnn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const attentionEps = 1e-10

// Pooling reduces a masked sequence of encoder outputs to one vector. The
// strategy is chosen per call; only attention owns parameters.
type Pooling struct {
	size int
	w    []float64
	b    *float64
}

// PoolingCache records what each strategy needs for its backward pass
type PoolingCache struct {
	last    int
	argmax  []int
	count   int
	weights []float64
}

// PoolingGrad accumulates attention gradients
type PoolingGrad struct {
	W []float64
	B *float64
}

// NewPooling binds the attention weight vector and bias
func NewPooling(size int, w []float64, b *float64) *Pooling {
	return &Pooling{size: size, w: w, b: b}
}

func valid(mask []float64, t int) bool {
	return mask[t] > 0.5
}

// Forward pools h under mask. cache may be nil.
func (p *Pooling) Forward(mode PoolingMode, h [][]float64, mask []float64, cache *PoolingCache) []float64 {
	if cache == nil {
		cache = &PoolingCache{}
	}

	switch mode {
	case PoolMean:
		return p.meanForward(h, mask, cache)
	case PoolMax:
		return p.maxForward(h, mask, cache)
	case PoolAttention:
		return p.attentionForward(h, mask, cache)
	default:
		return p.lastForward(h, mask, cache)
	}
}

// Backward returns the gradient w.r.t. every timestep of h. The cache must come
// from a Forward call with the same mode.
func (p *Pooling) Backward(mode PoolingMode, h [][]float64, mask, dPooled []float64, cache *PoolingCache, grad *PoolingGrad) [][]float64 {
	dH := newMatrix(len(h), p.size)

	switch mode {
	case PoolMean:
		if cache.count > 0 {
			inv := 1.0 / float64(cache.count)
			for t := range h {
				if valid(mask, t) {
					floats.AddScaled(dH[t], inv, dPooled)
				}
			}
		}
	case PoolMax:
		for k, t := range cache.argmax {
			if t >= 0 {
				dH[t][k] += dPooled[k]
			}
		}
	case PoolAttention:
		p.attentionBackward(h, mask, dPooled, cache, grad, dH)
	default:
		copy(dH[cache.last], dPooled)
	}

	return dH
}

// AttentionWeights returns the softmax weights attention pooling assigns to each timestep
func (p *Pooling) AttentionWeights(h [][]float64, mask []float64) []float64 {
	cache := &PoolingCache{}
	p.attentionForward(h, mask, cache)
	return cache.weights
}

func (p *Pooling) lastForward(h [][]float64, mask []float64, cache *PoolingCache) []float64 {
	last := -1
	for t := len(h) - 1; t >= 0; t-- {
		if valid(mask, t) {
			last = t
			break
		}
	}
	if last < 0 {
		last = len(h) - 1
	}
	cache.last = last

	pooled := make([]float64, p.size)
	copy(pooled, h[last])
	return pooled
}

func (p *Pooling) meanForward(h [][]float64, mask []float64, cache *PoolingCache) []float64 {
	pooled := make([]float64, p.size)
	count := 0
	for t := range h {
		if valid(mask, t) {
			floats.Add(pooled, h[t])
			count++
		}
	}
	if count > 0 {
		floats.Scale(1/float64(count), pooled)
	}
	cache.count = count
	return pooled
}

func (p *Pooling) maxForward(h [][]float64, mask []float64, cache *PoolingCache) []float64 {
	pooled := make([]float64, p.size)
	argmax := make([]int, p.size)
	for k := 0; k < p.size; k++ {
		best := math.Inf(-1)
		arg := -1
		for t := range h {
			if valid(mask, t) && h[t][k] > best {
				best = h[t][k]
				arg = t
			}
		}
		argmax[k] = arg
		if arg >= 0 {
			pooled[k] = best
		}
	}
	cache.argmax = argmax
	return pooled
}

func (p *Pooling) attentionForward(h [][]float64, mask []float64, cache *PoolingCache) []float64 {
	steps := len(h)
	scores := make([]float64, steps)
	maxScore := math.Inf(-1)
	for t := range h {
		if !valid(mask, t) {
			scores[t] = math.Inf(-1)
			continue
		}
		scores[t] = *p.b + floats.Dot(p.w, h[t])
		if scores[t] > maxScore {
			maxScore = scores[t]
		}
	}

	weights := make([]float64, steps)
	pooled := make([]float64, p.size)
	cache.weights = weights
	if math.IsInf(maxScore, -1) {
		return pooled
	}

	sum := 0.0
	for t := range scores {
		if valid(mask, t) {
			weights[t] = math.Exp(scores[t] - maxScore)
			sum += weights[t]
		}
	}
	for t := range weights {
		weights[t] /= sum + attentionEps
		if weights[t] != 0 {
			floats.AddScaled(pooled, weights[t], h[t])
		}
	}
	return pooled
}

func (p *Pooling) attentionBackward(h [][]float64, mask, dPooled []float64, cache *PoolingCache, grad *PoolingGrad, dH [][]float64) {
	a := cache.weights
	dAlpha := make([]float64, len(h))
	weighted := 0.0
	for t := range h {
		if valid(mask, t) {
			dAlpha[t] = floats.Dot(dPooled, h[t])
			weighted += a[t] * dAlpha[t]
		}
	}

	for t := range h {
		if !valid(mask, t) {
			continue
		}
		dScore := a[t] * (dAlpha[t] - weighted)
		floats.AddScaled(grad.W, dScore, h[t])
		*grad.B += dScore
		floats.AddScaled(dH[t], a[t], dPooled)
		floats.AddScaled(dH[t], dScore, p.w)
	}
}
