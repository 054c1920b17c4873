package transformer

import (
	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/layers/attention"
	"github.com/fluxtrain/flux/layers/normalization"
)

// Block is one pre-norm transformer block:
//
//	x = x + Attn(LN1(x))
//	x = x + FF(LN2(x))
//
// Pre-norm resolves the spec's "post-norm vs pre-norm" open question in
// favor of pre-norm for training stability (SPEC_FULL.md §9/Open Questions).
type Block struct {
	LN1  *normalization.LayerNorm
	Attn *attention.MultiHeadAttention
	LN2  *normalization.LayerNorm
	FF   *FeedForward
}

// NewBlock constructs one transformer Block.
func NewBlock(name string, dModel, nHeads, dFF int) (*Block, error) {
	ln1, err := normalization.New(name+"_ln1", dModel)
	if err != nil {
		return nil, err
	}

	attn, err := attention.New(name+"_attn", dModel, nHeads)
	if err != nil {
		return nil, err
	}

	ln2, err := normalization.New(name+"_ln2", dModel)
	if err != nil {
		return nil, err
	}

	ff, err := NewFeedForward(name+"_ff", dModel, dFF)
	if err != nil {
		return nil, err
	}

	return &Block{LN1: ln1, Attn: attn, LN2: ln2, FF: ff}, nil
}

// Forward applies the block's two pre-norm residual sublayers.
func (b *Block) Forward(e *autodiff.Engine, x *autodiff.Variable) (*autodiff.Variable, error) {
	normed, err := b.LN1.Forward(e, x)
	if err != nil {
		return nil, err
	}

	attnOut, err := b.Attn.Forward(e, normed)
	if err != nil {
		return nil, err
	}

	x, err = e.Add(x, attnOut)
	if err != nil {
		return nil, err
	}

	normed, err = b.LN2.Forward(e, x)
	if err != nil {
		return nil, err
	}

	ffOut, err := b.FF.Forward(e, normed)
	if err != nil {
		return nil, err
	}

	return e.Add(x, ffOut)
}

// Parameters returns this block's trainable variables.
func (b *Block) Parameters() []*autodiff.Variable {
	var params []*autodiff.Variable
	params = append(params, b.LN1.Parameters()...)
	params = append(params, b.Attn.Parameters()...)
	params = append(params, b.LN2.Parameters()...)
	params = append(params, b.FF.Parameters()...)

	return params
}
