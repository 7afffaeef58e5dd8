package rnn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const layerNormEps = 1e-5

// LayerNormCache holds the statistics of one normalized vector
type LayerNormCache struct {
	Mean   float64
	InvStd float64
	XHat   []float64
}

// LayerNormForward writes gamma*xhat+beta into out, where xhat is x standardized
// over its own features. cache may be nil.
func LayerNormForward(x, gamma, beta, out []float64, cache *LayerNormCache) {
	n := float64(len(x))
	mean := floats.Sum(x) / n

	variance := 0.0
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= n
	invStd := 1.0 / math.Sqrt(variance+layerNormEps)

	var xHat []float64
	if cache != nil {
		xHat = make([]float64, len(x))
	}
	for i, v := range x {
		h := (v - mean) * invStd
		if xHat != nil {
			xHat[i] = h
		}
		out[i] = gamma[i]*h + beta[i]
	}

	if cache != nil {
		cache.Mean = mean
		cache.InvStd = invStd
		cache.XHat = xHat
	}
}

// LayerNormBackward accumulates dGamma and dBeta and writes the input gradient into dX
func LayerNormBackward(dY, gamma []float64, cache *LayerNormCache, dGamma, dBeta, dX []float64) {
	n := len(dY)
	dXHat := make([]float64, n)
	for i := range dY {
		dGamma[i] += dY[i] * cache.XHat[i]
		dBeta[i] += dY[i]
		dXHat[i] = dY[i] * gamma[i]
	}

	invN := 1.0 / float64(n)
	meanDXHat := floats.Sum(dXHat) * invN
	meanDXHatXHat := floats.Dot(dXHat, cache.XHat) * invN

	for i := range dX {
		dX[i] = cache.InvStd * (dXHat[i] - meanDXHat - cache.XHat[i]*meanDXHatXHat)
	}
}
