// Package components holds small helpers shared across layers/ —
// weight initialization strategies — adapted from the teacher's
// layers/components/weight_initializer.go to operate directly on
// []float64 and math/rand/v2 rather than a generic numeric.Arithmetic[T]
// indirection, since the core training path is float64-only
// (SPEC_FULL.md §3).
package components

import (
	"math"
	"math/rand/v2"
)

// Initializer fills a weight buffer of size inputSize*outputSize.
type Initializer func(inputSize, outputSize int) []float64

// Xavier (Glorot) uniform initialization: samples from
// U(-limit, limit) with limit = sqrt(6/(fanIn+fanOut)).
func Xavier(inputSize, outputSize int) []float64 {
	limit := math.Sqrt(6.0 / float64(inputSize+outputSize))

	w := make([]float64, inputSize*outputSize)
	for i := range w {
		w[i] = (rand.Float64()*2 - 1) * limit
	}

	return w
}

// He initialization: samples from N(0, 2/fanIn), the standard choice
// ahead of ReLU nonlinearities.
func He(inputSize, outputSize int) []float64 {
	stddev := math.Sqrt(2.0 / float64(inputSize))

	w := make([]float64, inputSize*outputSize)
	for i := range w {
		w[i] = rand.NormFloat64() * stddev
	}

	return w
}

// Zeros returns a zero-filled buffer, used for layer-norm beta.
func Zeros(inputSize, outputSize int) []float64 {
	return make([]float64, inputSize*outputSize)
}

// Ones returns a one-filled buffer, used for layer-norm gamma.
func Ones(inputSize, outputSize int) []float64 {
	w := make([]float64, inputSize*outputSize)
	for i := range w {
		w[i] = 1.0
	}

	return w
}
