package rnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Gate order used for every weight, recurrent and bias array
const (
	gateForget = iota
	gateInput
	gateCell
	gateOutput
	numGates
)

var gateNames = [numGates]string{"f", "i", "c", "o"}

// LSTMTensors groups the arrays of one LSTM layer. The same shape serves as
// parameters and as the per-batch gradient accumulator.
type LSTMTensors struct {
	W     [numGates][]float64 // hidden x input, row-major
	U     [numGates][]float64 // hidden x hidden, row-major
	B     [numGates][]float64
	Gamma []float64
	Beta  []float64
}

// LSTMCache holds everything the backward pass needs from one forward pass
type LSTMCache struct {
	order   []int         // timestep processed at each step
	x       [][]float64   // input by step
	h       [][]float64   // hidden state before each step, len steps+1
	c       [][]float64   // cell state before each step, len steps+1
	gates   [numGates][][]float64
	tanhC   [][]float64
	ln      []LayerNormCache
	recMask []float64
}

// LSTMLayer is one unidirectional LSTM layer with post-activation LayerNorm
type LSTMLayer struct {
	inputSize  int
	hiddenSize int
	reverse    bool

	P LSTMTensors
	w [numGates]*mat.Dense
	u [numGates]*mat.Dense
}

// NewLSTMLayer binds a layer to externally owned parameter arrays
func NewLSTMLayer(inputSize, hiddenSize int, reverse bool, params LSTMTensors) *LSTMLayer {
	l := &LSTMLayer{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		reverse:    reverse,
		P:          params,
	}
	for g := 0; g < numGates; g++ {
		l.w[g] = mat.NewDense(hiddenSize, inputSize, params.W[g])
		l.u[g] = mat.NewDense(hiddenSize, hiddenSize, params.U[g])
	}
	return l
}

// Init draws Xavier input weights, orthogonal recurrent weights, forget bias 1 and identity LayerNorm
func (l *LSTMLayer) Init(rng *rand.Rand) {
	for g := 0; g < numGates; g++ {
		FillXavierUniform(rng, l.P.W[g], l.inputSize, l.hiddenSize)
	}
	for g := 0; g < numGates; g++ {
		FillOrthogonal(rng, l.P.U[g], l.hiddenSize)
	}
	for g := 0; g < numGates; g++ {
		zero(l.P.B[g])
	}
	for k := range l.P.B[gateForget] {
		l.P.B[gateForget][k] = 1.0
	}
	for k := range l.P.Gamma {
		l.P.Gamma[k] = 1.0
		l.P.Beta[k] = 0.0
	}
}

// Forward runs the layer over xTime and returns hidden states indexed by timestep.
// cache may be nil for inference.
func (l *LSTMLayer) Forward(xTime [][]float64, training bool, recurrentDropout float64, rng *rand.Rand, cache *LSTMCache) [][]float64 {
	steps := len(xTime)
	H := l.hiddenSize
	out := newMatrix(steps, H)

	var recMask []float64
	if training && recurrentDropout > 0 {
		recMask = sampleDropoutMask(rng, H, recurrentDropout)
	}

	if cache != nil {
		cache.order = make([]int, steps)
		cache.x = make([][]float64, steps)
		cache.h = newMatrix(steps+1, H)
		cache.c = newMatrix(steps+1, H)
		for g := 0; g < numGates; g++ {
			cache.gates[g] = newMatrix(steps, H)
		}
		cache.tanhC = newMatrix(steps, H)
		cache.ln = make([]LayerNormCache, steps)
		cache.recMask = recMask
	}

	hPrev := make([]float64, H)
	cPrev := make([]float64, H)
	hIn := make([]float64, H)
	pre := make([]float64, H)
	hv := mat.NewVecDense(H, hIn)
	wx := mat.NewVecDense(H, nil)
	uh := mat.NewVecDense(H, nil)

	var act [numGates][]float64
	for g := range act {
		act[g] = make([]float64, H)
	}
	cNow := make([]float64, H)
	tanhNow := make([]float64, H)

	for s := 0; s < steps; s++ {
		t := s
		if l.reverse {
			t = steps - 1 - s
		}

		copy(hIn, hPrev)
		if recMask != nil {
			floats.Mul(hIn, recMask)
		}
		xv := mat.NewVecDense(l.inputSize, xTime[t])

		for g := 0; g < numGates; g++ {
			wx.MulVec(l.w[g], xv)
			uh.MulVec(l.u[g], hv)
			bias := l.P.B[g]
			for n := 0; n < H; n++ {
				z := Clamp(wx.AtVec(n)+uh.AtVec(n)+bias[n], -gateClamp, gateClamp)
				if g == gateCell {
					act[g][n] = math.Tanh(z)
				} else {
					act[g][n] = Sigmoid(z)
				}
			}
		}

		f, i, c, o := act[gateForget], act[gateInput], act[gateCell], act[gateOutput]
		for k := 0; k < H; k++ {
			cNow[k] = f[k]*cPrev[k] + i[k]*c[k]
			tanhNow[k] = math.Tanh(cNow[k])
			pre[k] = o[k] * tanhNow[k]
		}

		var lnCache *LayerNormCache
		if cache != nil {
			lnCache = &cache.ln[s]
		}
		LayerNormForward(pre, l.P.Gamma, l.P.Beta, out[t], lnCache)

		if cache != nil {
			cache.order[s] = t
			cache.x[s] = xTime[t]
			copy(cache.h[s+1], out[t])
			copy(cache.c[s+1], cNow)
			for g := 0; g < numGates; g++ {
				copy(cache.gates[g][s], act[g])
			}
			copy(cache.tanhC[s], tanhNow)
		}

		copy(hPrev, out[t])
		copy(cPrev, cNow)
	}

	return out
}

// Backward consumes a forward cache and the loss gradient w.r.t. every output,
// accumulates parameter gradients into grad and returns the input gradient by timestep.
func (l *LSTMLayer) Backward(cache *LSTMCache, dHTime [][]float64, grad *LSTMTensors) [][]float64 {
	steps := len(cache.order)
	H := l.hiddenSize
	dXTime := newMatrix(steps, l.inputSize)

	var dW, dU [numGates]*mat.Dense
	var dGate [numGates][]float64
	var dGateVec [numGates]*mat.VecDense
	for g := 0; g < numGates; g++ {
		dW[g] = mat.NewDense(H, l.inputSize, grad.W[g])
		dU[g] = mat.NewDense(H, H, grad.U[g])
		dGate[g] = make([]float64, H)
		dGateVec[g] = mat.NewVecDense(H, dGate[g])
	}

	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dh := make([]float64, H)
	dPre := make([]float64, H)
	dc := make([]float64, H)
	dhPrev := make([]float64, H)
	hIn := make([]float64, H)
	hv := mat.NewVecDense(H, hIn)
	backIn := mat.NewVecDense(l.inputSize, nil)
	backH := mat.NewVecDense(H, nil)

	for s := steps - 1; s >= 0; s-- {
		t := cache.order[s]

		for k := 0; k < H; k++ {
			dh[k] = dHTime[t][k] + dhNext[k]
		}
		LayerNormBackward(dh, l.P.Gamma, &cache.ln[s], grad.Gamma, grad.Beta, dPre)

		f := cache.gates[gateForget][s]
		i := cache.gates[gateInput][s]
		c := cache.gates[gateCell][s]
		o := cache.gates[gateOutput][s]
		tanhC := cache.tanhC[s]
		cPrev := cache.c[s]

		for k := 0; k < H; k++ {
			dO := dPre[k] * tanhC[k]
			dc[k] = dcNext[k] + dPre[k]*o[k]*(1.0-tanhC[k]*tanhC[k])
			dF := dc[k] * cPrev[k]
			dI := dc[k] * c[k]
			dC := dc[k] * i[k]

			// gates clamped in the forward pass are not masked here: at |z| = 50
			// the derivatives below are under 1e-21 and act as the mask.
			dGate[gateForget][k] = dF * f[k] * (1.0 - f[k])
			dGate[gateInput][k] = dI * i[k] * (1.0 - i[k])
			dGate[gateCell][k] = dC * (1.0 - c[k]*c[k])
			dGate[gateOutput][k] = dO * o[k] * (1.0 - o[k])
		}

		copy(hIn, cache.h[s])
		if cache.recMask != nil {
			floats.Mul(hIn, cache.recMask)
		}
		xv := mat.NewVecDense(l.inputSize, cache.x[s])

		zero(dhPrev)
		for g := 0; g < numGates; g++ {
			floats.Add(grad.B[g], dGate[g])
			dW[g].RankOne(dW[g], 1, dGateVec[g], xv)
			dU[g].RankOne(dU[g], 1, dGateVec[g], hv)

			backIn.MulVec(l.w[g].T(), dGateVec[g])
			floats.Add(dXTime[t], backIn.RawVector().Data)
			backH.MulVec(l.u[g].T(), dGateVec[g])
			floats.Add(dhPrev, backH.RawVector().Data)
		}
		if cache.recMask != nil {
			floats.Mul(dhPrev, cache.recMask)
		}

		copy(dhNext, dhPrev)
		for k := 0; k < H; k++ {
			dcNext[k] = dc[k] * f[k]
		}
	}

	return dXTime
}
