// Package optimizer implements parameter update rules applied after a
// tape backward pass. Grounded on the teacher's
// training/optimizer/adamw.go: persistent per-parameter moment state
// keyed by parameter identity, timestep-based bias correction, and the
// same decoupled-weight-decay formulation, adapted from the teacher's
// engine.MulScalar/Add/Sub op calls to direct loops over the
// []float64 buffers the autodiff package already exposes.
package optimizer

import (
	"fmt"
	"math"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/tensor"
)

// Adam implements the Adam optimizer (Kingma & Ba) with optional
// decoupled weight decay (AdamW when WeightDecay > 0).
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	ClipNorm     float64 // 0 disables clipping

	m map[*autodiff.Variable]*tensor.Tensor[float64]
	v map[*autodiff.Variable]*tensor.Tensor[float64]
	t int
}

// AdamOption configures an Adam optimizer via functional options,
// matching the teacher's WithXxx construction pattern used throughout
// layers/.
type AdamOption func(*Adam)

// WithBetas overrides the default first/second moment decay rates.
func WithBetas(beta1, beta2 float64) AdamOption {
	return func(a *Adam) {
		a.Beta1 = beta1
		a.Beta2 = beta2
	}
}

// WithEpsilon overrides the default numerical-stability floor.
func WithEpsilon(epsilon float64) AdamOption {
	return func(a *Adam) { a.Epsilon = epsilon }
}

// WithWeightDecay enables decoupled weight decay (AdamW).
func WithWeightDecay(decay float64) AdamOption {
	return func(a *Adam) { a.WeightDecay = decay }
}

// WithClipNorm enables global-norm gradient clipping before the Adam
// update is applied; 0 (the default) disables clipping.
func WithClipNorm(norm float64) AdamOption {
	return func(a *Adam) { a.ClipNorm = norm }
}

// NewAdam constructs an Adam optimizer with the paper's default
// hyperparameters, overridable via options.
func NewAdam(learningRate float64, opts ...AdamOption) *Adam {
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		m:            make(map[*autodiff.Variable]*tensor.Tensor[float64]),
		v:            make(map[*autodiff.Variable]*tensor.Tensor[float64]),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Step applies one Adam update to every parameter with a non-nil
// gradient, in place on param.Data. Parameters without gradients (e.g.
// embedding rows never looked up this batch still carry a zeroed, not
// nil, gradient per SPEC_FULL.md §4.4, so every tracked parameter is
// always updated).
func (a *Adam) Step(params []*autodiff.Variable) error {
	a.t++

	if a.ClipNorm > 0 {
		clipGlobalNorm(params, a.ClipNorm)
	}

	beta1Correction := 1 - math.Pow(a.Beta1, float64(a.t))
	beta2Correction := 1 - math.Pow(a.Beta2, float64(a.t))

	for _, p := range params {
		if p.Grad == nil {
			continue
		}

		m, v, err := a.moments(p)
		if err != nil {
			return fmt.Errorf("optimizer: %w", err)
		}

		grad := p.Grad.Data()
		md := m.Data()
		vd := v.Data()
		pd := p.Data.Data()

		for i, g := range grad {
			md[i] = a.Beta1*md[i] + (1-a.Beta1)*g
			vd[i] = a.Beta2*vd[i] + (1-a.Beta2)*g*g

			mHat := md[i] / beta1Correction
			vHat := vd[i] / beta2Correction

			update := a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
			if a.WeightDecay > 0 {
				update += a.LearningRate * a.WeightDecay * pd[i]
			}

			pd[i] -= update
		}
	}

	return nil
}

// Moments returns this parameter's first/second moment tensors,
// allocating and zeroing them on first use. Exposed for checkpoint I/O
// (spec.md §6's .ckpt format stores m/v per parameter alongside its
// value).
func (a *Adam) Moments(p *autodiff.Variable) (*tensor.Tensor[float64], *tensor.Tensor[float64], error) {
	return a.moments(p)
}

// SetMoments overwrites a parameter's first/second moment state,
// restoring it from a loaded checkpoint. Resuming without this state
// would be silently degraded training (spec.md §4.7).
func (a *Adam) SetMoments(p *autodiff.Variable, m, v *tensor.Tensor[float64]) {
	a.m[p] = m
	a.v[p] = v
}

// SetTimestep restores the Adam step counter t from a loaded
// checkpoint's iteration count, so bias correction continues from where
// the checkpoint was saved rather than restarting at t=1.
func (a *Adam) SetTimestep(t int) {
	a.t = t
}

// moments returns this parameter's first/second moment tensors,
// allocating and zeroing them on first use.
func (a *Adam) moments(p *autodiff.Variable) (*tensor.Tensor[float64], *tensor.Tensor[float64], error) {
	if m, ok := a.m[p]; ok {
		return m, a.v[p], nil
	}

	m, err := tensor.New[float64](p.Data.Shape(), nil, tensor.Persistent)
	if err != nil {
		return nil, nil, fmt.Errorf("allocating first moment for %q: %w", p.Name, err)
	}

	v, err := tensor.New[float64](p.Data.Shape(), nil, tensor.Persistent)
	if err != nil {
		return nil, nil, fmt.Errorf("allocating second moment for %q: %w", p.Name, err)
	}

	a.m[p] = m
	a.v[p] = v

	return m, v, nil
}

// ZeroGrad clears every parameter's gradient, called before each
// iteration's forward pass.
func ZeroGrad(params []*autodiff.Variable) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// clipGlobalNorm rescales every parameter's gradient in place so the
// L2 norm across all of them together does not exceed maxNorm, the
// global-norm variant of the teacher's per-element SGD.Clip
// (training/optimizer/sgd.go).
func clipGlobalNorm(params []*autodiff.Variable, maxNorm float64) {
	sumSq := 0.0

	for _, p := range params {
		if p.Grad == nil {
			continue
		}

		for _, g := range p.Grad.Data() {
			sumSq += g * g
		}
	}

	norm := math.Sqrt(sumSq)
	if norm <= maxNorm || norm == 0 {
		return
	}

	scale := maxNorm / norm

	for _, p := range params {
		if p.Grad == nil {
			continue
		}

		gd := p.Grad.Data()
		for i := range gd {
			gd[i] *= scale
		}
	}
}
