// Package autodiff implements the reverse-mode tape: the Variable type,
// the append-only Tape, and forward+backward kernels for the fixed
// operator set in SPEC_FULL.md §4.4 (add, sub, mul, matmul, transpose,
// reshape, relu, softmax_row, layer_norm, embedding_lookup,
// cross_entropy).
//
// Grounded on the teacher's compute.Engine[T] (github.com/zerfoo/zerfoo,
// compute/cpu_engine.go) for the kernel math and on
// layers/normalization/layer_normalization.go for the layer-norm forward
// and backward derivation, adapted from the teacher's static
// define-once graph.Graph[T] to the spec-mandated eager, arena-backed
// tape recorded fresh every iteration (SPEC_FULL.md §3–§5).
package autodiff

import (
	"fmt"
	"math"

	"github.com/fluxtrain/flux/arena"
	"github.com/fluxtrain/flux/compute"
	"github.com/fluxtrain/flux/tensor"
)

// Engine threads the arena and tape singletons described in SPEC_FULL.md
// §9 as an explicit context object rather than package-level globals, and
// owns the matmul backend used by MatMul.
type Engine struct {
	Arena   *arena.Arena
	Tape    *Tape
	backend *compute.Backend
}

// NewEngine constructs an Engine with a fresh Arena and Tape.
func NewEngine(useBLAS bool) *Engine {
	return &Engine{
		Arena:   arena.New(),
		Tape:    NewTape(),
		backend: compute.NewBackend(useBLAS),
	}
}

func (e *Engine) allocTensor(shape []int) (*tensor.Tensor[float64], error) {
	return tensor.New[float64](shape, e.Arena.Alloc(size(shape)), tensor.Temporary)
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

// Add computes c = a + b, same shape. Backward: da += dc; db += dc.
func (e *Engine) Add(a, b *Variable) (*Variable, error) {
	if !tensor.ShapesEqual(a.Data.Shape(), b.Data.Shape()) {
		return nil, fmt.Errorf("autodiff: Add: %w (a=%v, b=%v)", ErrShapeMismatch, a.Data.Shape(), b.Data.Shape())
	}

	out, err := e.allocTensor(a.Data.Shape())
	if err != nil {
		return nil, err
	}

	ad, bd, od := a.Data.Data(), b.Data.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] + bd[i]
	}

	v, err := NewTemp(e.Arena, out, a.RequiresGrad || b.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpAdd, []*Variable{a, b}, v, kernelContext{})

	return v, nil
}

// Sub computes c = a - b, same shape. Backward: da += dc; db -= dc.
func (e *Engine) Sub(a, b *Variable) (*Variable, error) {
	if !tensor.ShapesEqual(a.Data.Shape(), b.Data.Shape()) {
		return nil, fmt.Errorf("autodiff: Sub: %w (a=%v, b=%v)", ErrShapeMismatch, a.Data.Shape(), b.Data.Shape())
	}

	out, err := e.allocTensor(a.Data.Shape())
	if err != nil {
		return nil, err
	}

	ad, bd, od := a.Data.Data(), b.Data.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] - bd[i]
	}

	v, err := NewTemp(e.Arena, out, a.RequiresGrad || b.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpSub, []*Variable{a, b}, v, kernelContext{})

	return v, nil
}

// Mul computes c = a ⊙ b elementwise, same shape.
// Backward: da += dc ⊙ b; db += dc ⊙ a.
func (e *Engine) Mul(a, b *Variable) (*Variable, error) {
	if !tensor.ShapesEqual(a.Data.Shape(), b.Data.Shape()) {
		return nil, fmt.Errorf("autodiff: Mul: %w (a=%v, b=%v)", ErrShapeMismatch, a.Data.Shape(), b.Data.Shape())
	}

	out, err := e.allocTensor(a.Data.Shape())
	if err != nil {
		return nil, err
	}

	ad, bd, od := a.Data.Data(), b.Data.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] * bd[i]
	}

	v, err := NewTemp(e.Arena, out, a.RequiresGrad || b.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpMul, []*Variable{a, b}, v, kernelContext{})

	return v, nil
}

// MatMul computes C = A·B for 2-D A[m,k], B[k,n].
// Backward: dA += dC·Bᵀ; dB += Aᵀ·dC.
func (e *Engine) MatMul(a, b *Variable) (*Variable, error) {
	aShape, bShape := a.Data.Shape(), b.Data.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		return nil, fmt.Errorf("autodiff: MatMul: %w: inputs must be 2-D, got %v and %v", ErrShapeMismatch, aShape, bShape)
	}

	m, k, n := aShape[0], aShape[1], bShape[1]
	if k != bShape[0] {
		return nil, fmt.Errorf("autodiff: MatMul: %w: inner dims %d != %d", ErrShapeMismatch, k, bShape[0])
	}

	out, err := e.allocTensor([]int{m, n})
	if err != nil {
		return nil, err
	}

	if err := e.backend.MatMul(m, n, k, a.Data.Data(), b.Data.Data(), out.Data()); err != nil {
		return nil, fmt.Errorf("autodiff: MatMul: %w", err)
	}

	v, err := NewTemp(e.Arena, out, a.RequiresGrad || b.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpMatMul, []*Variable{a, b}, v, kernelContext{})

	return v, nil
}

// Transpose transposes a 2-D tensor. Backward: dA += (dB)ᵀ.
func (e *Engine) Transpose(a *Variable) (*Variable, error) {
	shape := a.Data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: Transpose: %w: input must be 2-D, got %v", ErrShapeMismatch, shape)
	}

	rows, cols := shape[0], shape[1]

	out, err := e.allocTensor([]int{cols, rows})
	if err != nil {
		return nil, err
	}

	transposeInto(a.Data.Data(), rows, cols, out.Data())

	v, err := NewTemp(e.Arena, out, a.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpTranspose, []*Variable{a}, v, kernelContext{})

	return v, nil
}

func transposeInto(src []float64, rows, cols int, dst []float64) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
}

// Reshape changes a tensor's shape without moving data (SPEC_FULL.md §9).
// Backward: dx += reshape(dy, original shape) — a no-op on the
// underlying flat buffer, since row-major order is preserved.
func (e *Engine) Reshape(a *Variable, shape []int) (*Variable, error) {
	reshaped, err := a.Data.Reshape(shape)
	if err != nil {
		return nil, fmt.Errorf("autodiff: Reshape: %w", err)
	}

	v := &Variable{Data: reshaped, RequiresGrad: a.RequiresGrad}

	if a.RequiresGrad {
		gradData := e.Arena.AllocZeroed(size(shape))

		grad, err := tensor.New[float64](shape, gradData, tensor.Temporary)
		if err != nil {
			return nil, err
		}

		v.Grad = grad
	}

	e.Tape.append(OpReshape, []*Variable{a}, v, kernelContext{originalShape: a.Data.Shape()})

	return v, nil
}

// ReLU computes y = max(0, x). Backward: dx += dy ⊙ 𝟙[x>0].
func (e *Engine) ReLU(a *Variable) (*Variable, error) {
	out, err := e.allocTensor(a.Data.Shape())
	if err != nil {
		return nil, err
	}

	ad, od := a.Data.Data(), out.Data()
	for i := range od {
		if ad[i] > 0 {
			od[i] = ad[i]
		} else {
			od[i] = 0
		}
	}

	v, err := NewTemp(e.Arena, out, a.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpReLU, []*Variable{a}, v, kernelContext{})

	return v, nil
}

// SoftmaxRow applies row-wise softmax to a 2-D tensor, subtracting each
// row's max for numerical stability.
func (e *Engine) SoftmaxRow(a *Variable) (*Variable, error) {
	shape := a.Data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: SoftmaxRow: %w: input must be 2-D, got %v", ErrShapeMismatch, shape)
	}

	rows, cols := shape[0], shape[1]

	out, err := e.allocTensor(shape)
	if err != nil {
		return nil, err
	}

	ad, od := a.Data.Data(), out.Data()
	softmaxRows(ad, od, rows, cols)

	v, err := NewTemp(e.Arena, out, a.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpSoftmaxRow, []*Variable{a}, v, kernelContext{softmaxOut: out})

	return v, nil
}

func softmaxRows(src, dst []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := src[i*cols : i*cols+cols]
		drow := dst[i*cols : i*cols+cols]

		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}

		sum := 0.0

		for j, v := range row {
			e := math.Exp(v - maxV)
			drow[j] = e
			sum += e
		}

		for j := range drow {
			drow[j] /= sum
		}
	}
}

// layerNormEpsilonDefault is used when callers don't override epsilon;
// see config.Architecture for the configurable value threaded through
// layers.LayerNorm.
const layerNormEpsilonDefault = 1e-5

// LayerNorm normalizes each row of x to zero mean/unit variance, then
// applies an affine transform: y[i,:] = γ⊙x̂[i,:] + β.
func (e *Engine) LayerNorm(x, gamma, beta *Variable, epsilon float64) (*Variable, error) {
	shape := x.Data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: LayerNorm: %w: input must be 2-D, got %v", ErrShapeMismatch, shape)
	}

	rows, cols := shape[0], shape[1]
	if gamma.Data.Size() != cols || beta.Data.Size() != cols {
		return nil, fmt.Errorf("autodiff: LayerNorm: %w: gamma/beta size must equal feature dim %d", ErrShapeMismatch, cols)
	}

	if epsilon <= 0 {
		epsilon = layerNormEpsilonDefault
	}

	out, err := e.allocTensor(shape)
	if err != nil {
		return nil, err
	}

	xhatT, err := e.allocTensor(shape)
	if err != nil {
		return nil, err
	}

	means := make([]float64, rows)
	variances := make([]float64, rows)

	xd, gd, bd, od, xhd := x.Data.Data(), gamma.Data.Data(), beta.Data.Data(), out.Data(), xhatT.Data()

	for i := 0; i < rows; i++ {
		row := xd[i*cols : i*cols+cols]

		mean := 0.0
		for _, v := range row {
			mean += v
		}

		mean /= float64(cols)

		variance := 0.0

		for _, v := range row {
			d := v - mean
			variance += d * d
		}

		variance /= float64(cols)

		std := math.Sqrt(variance + epsilon)
		means[i] = mean
		variances[i] = variance

		xhRow := xhd[i*cols : i*cols+cols]
		outRow := od[i*cols : i*cols+cols]

		for j, v := range row {
			xh := (v - mean) / std
			xhRow[j] = xh
			outRow[j] = gd[j]*xh + bd[j]
		}
	}

	v, err := NewTemp(e.Arena, out, x.RequiresGrad || gamma.RequiresGrad || beta.RequiresGrad)
	if err != nil {
		return nil, err
	}

	e.Tape.append(OpLayerNorm, []*Variable{x, gamma, beta}, v, kernelContext{
		mean:     means,
		variance: variances,
		epsilon:  epsilon,
		xhat:     xhatT,
	})

	return v, nil
}

// EmbeddingLookup gathers rows of a [vocab, d] embedding table by token
// id: Y[t,:] = W[ids[t],:]. Backward scatter-adds dY into dW.
func (e *Engine) EmbeddingLookup(table *Variable, ids []int) (*Variable, error) {
	shape := table.Data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: EmbeddingLookup: %w: table must be 2-D, got %v", ErrShapeMismatch, shape)
	}

	vocab, dim := shape[0], shape[1]

	out, err := e.allocTensor([]int{len(ids), dim})
	if err != nil {
		return nil, err
	}

	wd, od := table.Data.Data(), out.Data()

	for t, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("autodiff: EmbeddingLookup: token id %d out of range [0,%d)", id, vocab)
		}

		copy(od[t*dim:t*dim+dim], wd[id*dim:id*dim+dim])
	}

	v, err := NewTemp(e.Arena, out, table.RequiresGrad)
	if err != nil {
		return nil, err
	}

	idsCopy := make([]int, len(ids))
	copy(idsCopy, ids)

	e.Tape.append(OpEmbeddingLookup, []*Variable{table}, v, kernelContext{tokenIDs: idsCopy})

	return v, nil
}

// crossEntropyEpsilon guards log(p) against p==0.
const crossEntropyEpsilon = 1e-10

// CrossEntropy computes the mean negative log-likelihood of the target
// token sequence under logits' row-wise softmax.
func (e *Engine) CrossEntropy(logits *Variable, targetIDs []int) (*Variable, error) {
	shape := logits.Data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: CrossEntropy: %w: logits must be 2-D, got %v", ErrShapeMismatch, shape)
	}

	seqLen, vocab := shape[0], shape[1]
	if len(targetIDs) != seqLen {
		return nil, fmt.Errorf("autodiff: CrossEntropy: %w: expected %d targets, got %d", ErrShapeMismatch, seqLen, len(targetIDs))
	}

	p, err := e.allocTensor(shape)
	if err != nil {
		return nil, err
	}

	softmaxRows(logits.Data.Data(), p.Data(), seqLen, vocab)

	pd := p.Data()

	loss := 0.0

	for t, target := range targetIDs {
		if target < 0 || target >= vocab {
			return nil, fmt.Errorf("autodiff: CrossEntropy: target id %d out of range [0,%d)", target, vocab)
		}

		loss += math.Log(pd[t*vocab+target] + crossEntropyEpsilon)
	}

	loss = -loss / float64(seqLen)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, fmt.Errorf("autodiff: CrossEntropy: %w: loss is %v", ErrNumeric, loss)
	}

	out, err := e.allocTensor([]int{1})
	if err != nil {
		return nil, err
	}

	out.Data()[0] = loss

	v, err := NewTemp(e.Arena, out, logits.RequiresGrad)
	if err != nil {
		return nil, err
	}

	idsCopy := make([]int, len(targetIDs))
	copy(idsCopy, targetIDs)

	e.Tape.append(OpCrossEntropy, []*Variable{logits}, v, kernelContext{
		softmaxOut: p,
		tokenIDs:   idsCopy,
		seqLen:     seqLen,
	})

	return v, nil
}
