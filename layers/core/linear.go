// Package core holds the basic parameterized layer — Linear — that every
// larger block in layers/ composes. Grounded on the teacher's
// layers/core/linear.go: a functional-option constructor over a weight
// initializer, adapted from the teacher's graph.Parameter[T]/
// compute.Engine[T] pair to autodiff.Variable/autodiff.Engine.
package core

import (
	"fmt"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/layers/components"
	"github.com/fluxtrain/flux/tensor"
)

// Linear performs y = x·W. It has no bias term.
type Linear struct {
	Weights *autodiff.Variable
}

// LinearOption configures a Linear layer's weight initialization.
type LinearOption func(*linearOptions)

type linearOptions struct {
	init components.Initializer
}

// WithInitializer overrides the default Xavier initializer.
func WithInitializer(init components.Initializer) LinearOption {
	return func(o *linearOptions) { o.init = init }
}

// NewLinear constructs a Linear layer with a freshly initialized,
// Persistent [inputSize, outputSize] weight parameter.
func NewLinear(name string, inputSize, outputSize int, opts ...LinearOption) (*Linear, error) {
	o := &linearOptions{init: components.Xavier}
	for _, opt := range opts {
		opt(o)
	}

	data := o.init(inputSize, outputSize)

	wt, err := tensor.New[float64]([]int{inputSize, outputSize}, data, tensor.Persistent)
	if err != nil {
		return nil, fmt.Errorf("layers/core: creating weights for %q: %w", name, err)
	}

	weights, err := autodiff.NewParameter(name+"_weights", wt)
	if err != nil {
		return nil, fmt.Errorf("layers/core: %w", err)
	}

	return &Linear{Weights: weights}, nil
}

// Forward computes x·W via the engine's tape-recording matmul.
func (l *Linear) Forward(e *autodiff.Engine, x *autodiff.Variable) (*autodiff.Variable, error) {
	return e.MatMul(x, l.Weights)
}

// Parameters returns this layer's trainable variables.
func (l *Linear) Parameters() []*autodiff.Variable {
	return []*autodiff.Variable{l.Weights}
}
