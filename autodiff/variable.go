package autodiff

import (
	"fmt"

	"github.com/fluxtrain/flux/arena"
	"github.com/fluxtrain/flux/tensor"
)

// Variable pairs a data tensor with its lazily-meaningful gradient tensor.
// IsParameter marks ownership by the model: both Data and Grad are
// Persistent and survive arena resets. Non-parameter variables carry
// Temporary data and (if RequiresGrad) a Temporary grad that is only
// valid for the current iteration.
type Variable struct {
	Data         *tensor.Tensor[float64]
	Grad         *tensor.Tensor[float64]
	RequiresGrad bool
	IsParameter  bool

	// Name is optional, used for checkpoint I/O and debugging.
	Name string
}

// NewParameter wraps a Persistent data tensor as a trainable model
// parameter: RequiresGrad is always true and Grad is a Persistent zero
// tensor of matching shape.
func NewParameter(name string, data *tensor.Tensor[float64]) (*Variable, error) {
	if data.Storage() != tensor.Persistent {
		return nil, fmt.Errorf("autodiff: parameter %q data must be Persistent, got %s", name, data.Storage())
	}

	grad, err := tensor.New[float64](data.Shape(), nil, tensor.Persistent)
	if err != nil {
		return nil, fmt.Errorf("autodiff: allocating gradient for parameter %q: %w", name, err)
	}

	return &Variable{
		Data:         data,
		Grad:         grad,
		RequiresGrad: true,
		IsParameter:  true,
		Name:         name,
	}, nil
}

// NewTemp wraps arena-backed data as a non-parameter Variable. If
// requiresGrad, Grad is allocated zeroed from the same arena; the arena
// temporary it was allocated from must outlive the current iteration.
func NewTemp(ar *arena.Arena, data *tensor.Tensor[float64], requiresGrad bool) (*Variable, error) {
	v := &Variable{Data: data, RequiresGrad: requiresGrad}

	if requiresGrad {
		gradData := ar.AllocZeroed(data.Size())

		grad, err := tensor.New[float64](data.Shape(), gradData, tensor.Temporary)
		if err != nil {
			return nil, fmt.Errorf("autodiff: allocating gradient: %w", err)
		}

		v.Grad = grad
	}

	return v, nil
}

// NewConstant wraps arena-backed data as a non-differentiable Variable
// (causal masks, embedding ids reinterpreted as float, etc.). Equivalent
// to NewTemp with requiresGrad=false, spelled out for call-site clarity.
func NewConstant(data *tensor.Tensor[float64]) *Variable {
	return &Variable{Data: data, RequiresGrad: false}
}

// ZeroGrad fills Grad with 0.0 if it exists. Idempotent: calling it twice
// in a row leaves Data untouched and Grad exactly zero (§8 invariant 6).
func (v *Variable) ZeroGrad() {
	if v.Grad != nil {
		v.Grad.Zero()
	}
}

// SeedGradOne writes 1.0 into a scalar variable's gradient, the standard
// way to start a backward pass from a loss.
func (v *Variable) SeedGradOne() error {
	if v.Grad == nil {
		return fmt.Errorf("autodiff: cannot seed gradient: variable %q does not require grad", v.Name)
	}

	if v.Data.Size() != 1 {
		return fmt.Errorf("autodiff: SeedGradOne expects a scalar variable, got shape %v", v.Data.Shape())
	}

	v.Grad.Data()[0] = 1.0

	return nil
}

// accumulate adds delta into dst in place: dst += delta. Used by every
// kernel backward function — gradients are always accumulated, never
// overwritten, so that a variable consumed by multiple downstream ops
// collects the sum of every path's contribution.
func accumulate(dst, delta []float64) {
	for i := range dst {
		dst[i] += delta[i]
	}
}
