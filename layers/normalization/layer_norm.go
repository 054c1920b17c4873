// Package normalization wraps the autodiff engine's layer_norm kernel
// as a parameterized layer, grounded on the teacher's
// layers/normalization/layer_normalization.go: gamma/beta trainable
// parameters plus a functional-option epsilon override.
package normalization

import (
	"fmt"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/layers/components"
	"github.com/fluxtrain/flux/tensor"
)

// LayerNorm holds the trainable scale (gamma) and shift (beta)
// parameters for row-wise layer normalization.
type LayerNorm struct {
	Gamma   *autodiff.Variable
	Beta    *autodiff.Variable
	Epsilon float64
}

// Option configures a LayerNorm's epsilon.
type Option func(*LayerNorm)

// WithEpsilon overrides the default 1e-5 epsilon.
func WithEpsilon(epsilon float64) Option {
	return func(l *LayerNorm) { l.Epsilon = epsilon }
}

// New constructs a LayerNorm over featureDim, with gamma initialized to
// 1 and beta to 0.
func New(name string, featureDim int, opts ...Option) (*LayerNorm, error) {
	gammaT, err := tensor.New[float64]([]int{featureDim}, components.Ones(1, featureDim), tensor.Persistent)
	if err != nil {
		return nil, fmt.Errorf("layers/normalization: creating gamma for %q: %w", name, err)
	}

	betaT, err := tensor.New[float64]([]int{featureDim}, components.Zeros(1, featureDim), tensor.Persistent)
	if err != nil {
		return nil, fmt.Errorf("layers/normalization: creating beta for %q: %w", name, err)
	}

	gamma, err := autodiff.NewParameter(name+"_gamma", gammaT)
	if err != nil {
		return nil, fmt.Errorf("layers/normalization: %w", err)
	}

	beta, err := autodiff.NewParameter(name+"_beta", betaT)
	if err != nil {
		return nil, fmt.Errorf("layers/normalization: %w", err)
	}

	l := &LayerNorm{Gamma: gamma, Beta: beta, Epsilon: 1e-5}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Forward normalizes each row of x to zero mean/unit variance, then
// applies the affine transform gamma*x̂+beta.
func (l *LayerNorm) Forward(e *autodiff.Engine, x *autodiff.Variable) (*autodiff.Variable, error) {
	return e.LayerNorm(x, l.Gamma, l.Beta, l.Epsilon)
}

// Parameters returns this layer's trainable variables.
func (l *LayerNorm) Parameters() []*autodiff.Variable {
	return []*autodiff.Variable{l.Gamma, l.Beta}
}
