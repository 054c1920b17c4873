// Package transformer assembles the blocks (MLP, pre-norm transformer
// block, full decoder stack) on top of layers/core, layers/attention,
// layers/normalization, and layers/embeddings. Grounded on the teacher's
// layers/transformer/transformer_block.go and layers/core/ffn.go for the
// two-linear-plus-activation MLP shape and the residual/pre-norm block
// wiring.
package transformer

import (
	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/layers/core"
)

// FeedForward is the position-wise MLP: Linear(d_model->d_ff), ReLU,
// Linear(d_ff->d_model). No bias terms, matching MultiHeadAttention's
// bias-free Linears (the closed operator set has no broadcast-add
// kernel for a [d] bias against a [T,d] activation — see DESIGN.md).
type FeedForward struct {
	Up   *core.Linear
	Down *core.Linear
}

// NewFeedForward constructs a FeedForward block.
func NewFeedForward(name string, dModel, dFF int) (*FeedForward, error) {
	up, err := core.NewLinear(name+"_up", dModel, dFF)
	if err != nil {
		return nil, err
	}

	down, err := core.NewLinear(name+"_down", dFF, dModel)
	if err != nil {
		return nil, err
	}

	return &FeedForward{Up: up, Down: down}, nil
}

// Forward computes Down(ReLU(Up(x))).
func (f *FeedForward) Forward(e *autodiff.Engine, x *autodiff.Variable) (*autodiff.Variable, error) {
	h, err := f.Up.Forward(e, x)
	if err != nil {
		return nil, err
	}

	h, err = e.ReLU(h)
	if err != nil {
		return nil, err
	}

	return f.Down.Forward(e, h)
}

// Parameters returns this block's trainable variables.
func (f *FeedForward) Parameters() []*autodiff.Variable {
	return append(f.Up.Parameters(), f.Down.Parameters()...)
}
