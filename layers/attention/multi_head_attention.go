// Package attention implements causal multi-head self-attention,
// grounded on the teacher's layers/attention/attention_head.go and
// scaled_dot_product_attention.go for the per-head Q·Kᵀ/softmax/·V
// shape, adapted to the fixed autodiff operator set (SPEC_FULL.md §4.4):
// rather than splitting one combined [d_model,d_model] projection into
// per-head column slices — which needs a strided view this tensor type
// does not support — each head gets its own smaller Q/K/V/output Linear,
// mathematically equivalent to a block-diagonal split of one big
// projection, and the heads' outputs are summed after their own output
// projection rather than concatenated before a single one:
// concat(O_1..O_H)·W_O == Σ_h O_h·W_O_h, which stays entirely inside
// matmul/add/softmax_row with no new tape op kind.
package attention

import (
	"fmt"
	"math"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/layers/core"
	"github.com/fluxtrain/flux/tensor"
)

type head struct {
	wq, wk, wv *core.Linear
	wo         *core.Linear
}

// MultiHeadAttention implements causal self-attention over n_heads,
// requiring d_model % n_heads == 0 (config.Architecture.Validate checks
// this before a model is ever constructed).
type MultiHeadAttention struct {
	heads   []*head
	dModel  int
	nHeads  int
	headDim int
}

// New constructs a MultiHeadAttention layer over dModel features split
// across nHeads heads.
func New(name string, dModel, nHeads int) (*MultiHeadAttention, error) {
	if dModel%nHeads != 0 {
		return nil, fmt.Errorf("layers/attention: d_model %d not divisible by n_heads %d", dModel, nHeads)
	}

	headDim := dModel / nHeads

	heads := make([]*head, nHeads)

	for i := range heads {
		wq, err := core.NewLinear(fmt.Sprintf("%s_h%d_q", name, i), dModel, headDim)
		if err != nil {
			return nil, err
		}

		wk, err := core.NewLinear(fmt.Sprintf("%s_h%d_k", name, i), dModel, headDim)
		if err != nil {
			return nil, err
		}

		wv, err := core.NewLinear(fmt.Sprintf("%s_h%d_v", name, i), dModel, headDim)
		if err != nil {
			return nil, err
		}

		wo, err := core.NewLinear(fmt.Sprintf("%s_h%d_o", name, i), headDim, dModel)
		if err != nil {
			return nil, err
		}

		heads[i] = &head{wq: wq, wk: wk, wv: wv, wo: wo}
	}

	return &MultiHeadAttention{heads: heads, dModel: dModel, nHeads: nHeads, headDim: headDim}, nil
}

// Forward computes causal self-attention over x, shape [T, d_model].
func (m *MultiHeadAttention) Forward(e *autodiff.Engine, x *autodiff.Variable) (*autodiff.Variable, error) {
	shape := x.Data.Shape()
	if len(shape) != 2 || shape[1] != m.dModel {
		return nil, fmt.Errorf("layers/attention: expected [T,%d], got %v", m.dModel, shape)
	}

	seqLen := shape[0]

	mask, err := causalMask(e, seqLen)
	if err != nil {
		return nil, err
	}

	scale := 1.0 / math.Sqrt(float64(m.headDim))

	var out *autodiff.Variable

	for _, h := range m.heads {
		q, err := h.wq.Forward(e, x)
		if err != nil {
			return nil, err
		}

		k, err := h.wk.Forward(e, x)
		if err != nil {
			return nil, err
		}

		v, err := h.wv.Forward(e, x)
		if err != nil {
			return nil, err
		}

		kt, err := e.Transpose(k)
		if err != nil {
			return nil, err
		}

		scores, err := e.MatMul(q, kt)
		if err != nil {
			return nil, err
		}

		scaled, err := scaleConstant(e, scores, scale)
		if err != nil {
			return nil, err
		}

		masked, err := e.Add(scaled, mask)
		if err != nil {
			return nil, err
		}

		weights, err := e.SoftmaxRow(masked)
		if err != nil {
			return nil, err
		}

		context, err := e.MatMul(weights, v)
		if err != nil {
			return nil, err
		}

		projected, err := h.wo.Forward(e, context)
		if err != nil {
			return nil, err
		}

		if out == nil {
			out = projected
		} else {
			out, err = e.Add(out, projected)
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// Parameters returns every head's trainable variables.
func (m *MultiHeadAttention) Parameters() []*autodiff.Variable {
	var params []*autodiff.Variable

	for _, h := range m.heads {
		params = append(params, h.wq.Parameters()...)
		params = append(params, h.wk.Parameters()...)
		params = append(params, h.wv.Parameters()...)
		params = append(params, h.wo.Parameters()...)
	}

	return params
}

// causalMask builds a constant [seqLen, seqLen] additive bias: 0 on and
// below the diagonal, a large negative value above it, so softmax_row
// drives future positions' attention weight to ~0 (spec.md §4.6's
// "set S[i,j] = -inf for j > i").
func causalMask(e *autodiff.Engine, seqLen int) (*autodiff.Variable, error) {
	const negInf = -1e9

	data := e.Arena.AllocZeroed(seqLen * seqLen)

	for i := 0; i < seqLen; i++ {
		row := data[i*seqLen : i*seqLen+seqLen]
		for j := range row {
			if j > i {
				row[j] = negInf
			} else {
				row[j] = 0
			}
		}
	}

	t, err := tensor.New[float64]([]int{seqLen, seqLen}, data, tensor.Temporary)
	if err != nil {
		return nil, err
	}

	return autodiff.NewConstant(t), nil
}

// scaleConstant multiplies every element of v by a fixed scalar via an elementwise Mul against a constant tensor filled with
// that scalar, staying inside the fixed operator set (no separate
// "scale" kernel).
func scaleConstant(e *autodiff.Engine, v *autodiff.Variable, scalar float64) (*autodiff.Variable, error) {
	data := e.Arena.Alloc(v.Data.Size())
	for i := range data {
		data[i] = scalar
	}

	t, err := tensor.New[float64](v.Data.Shape(), data, tensor.Temporary)
	if err != nil {
		return nil, err
	}

	return e.Mul(v, autodiff.NewConstant(t))
}
