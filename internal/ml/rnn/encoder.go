package rnn

import (
	"math/rand"
)

// StackedBiLSTM composes numLayers LSTM layers, each optionally paired with a
// time-reversed twin whose outputs are concatenated channel-wise.
type StackedBiLSTM struct {
	inputSize     int
	hiddenSize    int
	numLayers     int
	bidirectional bool

	fwd []*LSTMLayer
	bwd []*LSTMLayer
}

// EncoderCache holds per-layer forward caches and the inter-layer dropout mask
type EncoderCache struct {
	fwd      []LSTMCache
	bwd      []LSTMCache
	dropMask []float64
}

// EncoderGrad holds per-layer gradient accumulators
type EncoderGrad struct {
	Fwd []LSTMTensors
	Bwd []LSTMTensors
}

// NewStackedBiLSTM assembles an encoder from already bound layers
func NewStackedBiLSTM(inputSize, hiddenSize int, fwd, bwd []*LSTMLayer) *StackedBiLSTM {
	return &StackedBiLSTM{
		inputSize:     inputSize,
		hiddenSize:    hiddenSize,
		numLayers:     len(fwd),
		bidirectional: len(bwd) > 0,
		fwd:           fwd,
		bwd:           bwd,
	}
}

// OutputSize returns the per-timestep output width
func (e *StackedBiLSTM) OutputSize() int {
	if e.bidirectional {
		return 2 * e.hiddenSize
	}
	return e.hiddenSize
}

// layerInputSize returns the input width of layer l
func (e *StackedBiLSTM) layerInputSize(l int) int {
	if l == 0 {
		return e.inputSize
	}
	return e.OutputSize()
}

// Forward encodes x. Dropout applies between layers only and only when training.
func (e *StackedBiLSTM) Forward(x [][]float64, training bool, dropout, recurrentDropout float64, rng *rand.Rand, cache *EncoderCache) [][]float64 {
	var dropMask []float64
	if training && dropout > 0 {
		dropMask = sampleDropoutMask(rng, e.OutputSize(), dropout)
	}

	if cache != nil {
		cache.fwd = make([]LSTMCache, e.numLayers)
		if e.bidirectional {
			cache.bwd = make([]LSTMCache, e.numLayers)
		}
		cache.dropMask = dropMask
	}

	cur := x
	for l := 0; l < e.numLayers; l++ {
		var fc, bc *LSTMCache
		if cache != nil {
			fc = &cache.fwd[l]
			if e.bidirectional {
				bc = &cache.bwd[l]
			}
		}

		out := e.fwd[l].Forward(cur, training, recurrentDropout, rng, fc)
		if e.bidirectional {
			back := e.bwd[l].Forward(cur, training, recurrentDropout, rng, bc)
			joined := newMatrix(len(out), 2*e.hiddenSize)
			for t := range out {
				copy(joined[t][:e.hiddenSize], out[t])
				copy(joined[t][e.hiddenSize:], back[t])
			}
			out = joined
		}

		if dropMask != nil && l < e.numLayers-1 {
			applyTiledMask(out, dropMask)
		}
		cur = out
	}

	return cur
}

// Backward walks the layers in reverse and returns the gradient w.r.t. x
func (e *StackedBiLSTM) Backward(cache *EncoderCache, dOut [][]float64, grad *EncoderGrad) [][]float64 {
	dCur := newMatrix(len(dOut), e.OutputSize())
	for t := range dOut {
		copy(dCur[t], dOut[t])
	}

	for l := e.numLayers - 1; l >= 0; l-- {
		if cache.dropMask != nil && l < e.numLayers-1 {
			applyTiledMask(dCur, cache.dropMask)
		}

		if !e.bidirectional {
			dCur = e.fwd[l].Backward(&cache.fwd[l], dCur, &grad.Fwd[l])
			continue
		}

		steps := len(dCur)
		dF := make([][]float64, steps)
		dB := make([][]float64, steps)
		for t := range dCur {
			dF[t] = dCur[t][:e.hiddenSize]
			dB[t] = dCur[t][e.hiddenSize:]
		}

		dXF := e.fwd[l].Backward(&cache.fwd[l], dF, &grad.Fwd[l])
		dXB := e.bwd[l].Backward(&cache.bwd[l], dB, &grad.Bwd[l])

		in := e.layerInputSize(l)
		next := newMatrix(steps, in)
		for t := 0; t < steps; t++ {
			for i := 0; i < in; i++ {
				next[t][i] = dXF[t][i] + dXB[t][i]
			}
		}
		dCur = next
	}

	return dCur
}

// applyTiledMask multiplies every row by mask, repeating the mask if it is shorter than the row
func applyTiledMask(rows [][]float64, mask []float64) {
	for _, row := range rows {
		for i := range row {
			row[i] *= mask[i%len(mask)]
		}
	}
}
