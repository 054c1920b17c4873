package autodiff

import (
	"fmt"
	"math"
)

// dispatchBackward runs the backward function for one tape entry,
// identified by its closed OpKind, and accumulates into each tracked
// input's gradient buffer. Every backward function reads entry.output.Grad
// (already populated by a later entry, or seeded by the caller for the
// final loss) and never overwrites an input's existing gradient.
func dispatchBackward(e *tapeEntry) error {
	switch e.op {
	case OpAdd:
		backwardAdd(e)
	case OpSub:
		backwardSub(e)
	case OpMul:
		backwardMul(e)
	case OpMatMul:
		backwardMatMul(e)
	case OpTranspose:
		backwardTranspose(e)
	case OpReshape:
		backwardReshape(e)
	case OpReLU:
		backwardReLU(e)
	case OpSoftmaxRow:
		backwardSoftmaxRow(e)
	case OpLayerNorm:
		backwardLayerNorm(e)
	case OpEmbeddingLookup:
		backwardEmbeddingLookup(e)
	case OpCrossEntropy:
		backwardCrossEntropy(e)
	default:
		return fmt.Errorf("autodiff: unknown op kind %v", e.op)
	}

	return nil
}

func backwardAdd(e *tapeEntry) {
	dc := e.output.Grad.Data()

	a, b := e.inputs[0], e.inputs[1]
	if a.Grad != nil {
		accumulate(a.Grad.Data(), dc)
	}

	if b.Grad != nil {
		accumulate(b.Grad.Data(), dc)
	}
}

func backwardSub(e *tapeEntry) {
	dc := e.output.Grad.Data()

	a, b := e.inputs[0], e.inputs[1]
	if a.Grad != nil {
		accumulate(a.Grad.Data(), dc)
	}

	if b.Grad != nil {
		bg := b.Grad.Data()
		for i, v := range dc {
			bg[i] -= v
		}
	}
}

func backwardMul(e *tapeEntry) {
	dc := e.output.Grad.Data()

	a, b := e.inputs[0], e.inputs[1]
	ad, bd := a.Data.Data(), b.Data.Data()

	if a.Grad != nil {
		ag := a.Grad.Data()
		for i, v := range dc {
			ag[i] += v * bd[i]
		}
	}

	if b.Grad != nil {
		bg := b.Grad.Data()
		for i, v := range dc {
			bg[i] += v * ad[i]
		}
	}
}

// backwardMatMul computes dA += dC·Bᵀ; dB += Aᵀ·dC using plain triple
// loops that accumulate straight into the input gradient buffers. No
// intermediate buffer is kept past this call; only tape entries and their
// saved context must stay alive for the whole iteration.
func backwardMatMul(e *tapeEntry) {
	dc := e.output.Grad.Data()

	a, b := e.inputs[0], e.inputs[1]
	aShape, bShape := a.Data.Shape(), b.Data.Shape()
	m, k, n := aShape[0], aShape[1], bShape[1]

	if a.Grad != nil {
		bd := b.Data.Data()
		ag := a.Grad.Data()
		// dA[i,l] += sum_j dC[i,j] * B[l,j]
		for i := 0; i < m; i++ {
			dcRow := dc[i*n : i*n+n]
			agRow := ag[i*k : i*k+k]

			for l := 0; l < k; l++ {
				sum := 0.0

				bRow := bd[l*n : l*n+n]
				for j := 0; j < n; j++ {
					sum += dcRow[j] * bRow[j]
				}

				agRow[l] += sum
			}
		}
	}

	if b.Grad != nil {
		ad := a.Data.Data()
		bg := b.Grad.Data()
		// dB[l,j] += sum_i A[i,l] * dC[i,j]
		for l := 0; l < k; l++ {
			bgRow := bg[l*n : l*n+n]

			for i := 0; i < m; i++ {
				av := ad[i*k+l]
				if av == 0 {
					continue
				}

				dcRow := dc[i*n : i*n+n]
				for j := 0; j < n; j++ {
					bgRow[j] += av * dcRow[j]
				}
			}
		}
	}
}

func backwardTranspose(e *tapeEntry) {
	a := e.inputs[0]
	if a.Grad == nil {
		return
	}

	shape := a.Data.Shape()
	rows, cols := shape[0], shape[1]

	dc := e.output.Grad.Data() // shape [cols, rows]
	ag := a.Grad.Data()

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			ag[i*cols+j] += dc[j*rows+i]
		}
	}
}

func backwardReshape(e *tapeEntry) {
	a := e.inputs[0]
	if a.Grad == nil {
		return
	}
	// Row-major reshape preserves element order, so the flat gradient
	// buffer maps straight across regardless of shape.
	accumulate(a.Grad.Data(), e.output.Grad.Data())
}

func backwardReLU(e *tapeEntry) {
	a := e.inputs[0]
	if a.Grad == nil {
		return
	}

	dc := e.output.Grad.Data()
	ad := a.Data.Data()
	ag := a.Grad.Data()

	for i, v := range dc {
		if ad[i] > 0 {
			ag[i] += v
		}
	}
}

func backwardSoftmaxRow(e *tapeEntry) {
	a := e.inputs[0]
	if a.Grad == nil {
		return
	}

	shape := a.Data.Shape()
	rows, cols := shape[0], shape[1]

	y := e.ctx.softmaxOut.Data()
	dy := e.output.Grad.Data()
	dx := a.Grad.Data()

	for i := 0; i < rows; i++ {
		yRow := y[i*cols : i*cols+cols]
		dyRow := dy[i*cols : i*cols+cols]
		dxRow := dx[i*cols : i*cols+cols]

		dot := 0.0
		for j := range yRow {
			dot += yRow[j] * dyRow[j]
		}

		for j := range yRow {
			dxRow[j] += yRow[j] * (dyRow[j] - dot)
		}
	}
}

// backwardLayerNorm implements the standard layer-norm backward formula:
//
//	dxhat   = dy ⊙ gamma
//	dx[i,:] = (dxhat - mean(dxhat) - xhat ⊙ mean(dxhat ⊙ xhat)) / std
//
// equivalent to, but more compact than, the three-term derivation spelled
// out in SPEC_FULL.md §4.4 and the teacher's
// layers/normalization/layer_normalization.go.
func backwardLayerNorm(e *tapeEntry) {
	x, gamma, beta := e.inputs[0], e.inputs[1], e.inputs[2]

	shape := x.Data.Shape()
	rows, cols := shape[0], shape[1]
	n := float64(cols)

	dy := e.output.Grad.Data()
	xhat := e.ctx.xhat.Data()
	gd := gamma.Data.Data()
	variance := e.ctx.variance

	if beta.Grad != nil {
		bg := beta.Grad.Data()
		for i := 0; i < rows; i++ {
			dyRow := dy[i*cols : i*cols+cols]
			for j := 0; j < cols; j++ {
				bg[j] += dyRow[j]
			}
		}
	}

	if gamma.Grad != nil {
		gg := gamma.Grad.Data()
		for i := 0; i < rows; i++ {
			dyRow := dy[i*cols : i*cols+cols]
			xhRow := xhat[i*cols : i*cols+cols]

			for j := 0; j < cols; j++ {
				gg[j] += dyRow[j] * xhRow[j]
			}
		}
	}

	if x.Grad == nil {
		return
	}

	dx := x.Grad.Data()
	eps := 1e-12

	for i := 0; i < rows; i++ {
		dyRow := dy[i*cols : i*cols+cols]
		xhRow := xhat[i*cols : i*cols+cols]
		dxRow := dx[i*cols : i*cols+cols]

		v := variance[i] + e.ctx.epsilon
		if v < eps {
			v = eps
		}

		std := math.Sqrt(v)

		sumDxhat := 0.0
		sumDxhatXhat := 0.0

		for j := 0; j < cols; j++ {
			dxhat := dyRow[j] * gd[j]
			sumDxhat += dxhat
			sumDxhatXhat += dxhat * xhRow[j]
		}

		meanDxhat := sumDxhat / n
		meanDxhatXhat := sumDxhatXhat / n

		for j := 0; j < cols; j++ {
			dxhat := dyRow[j] * gd[j]
			dxRow[j] += (dxhat - meanDxhat - xhRow[j]*meanDxhatXhat) / std
		}
	}
}

func backwardEmbeddingLookup(e *tapeEntry) {
	table := e.inputs[0]
	if table.Grad == nil {
		return
	}

	dim := table.Data.Shape()[1]
	dy := e.output.Grad.Data()
	dw := table.Grad.Data()

	for t, id := range e.ctx.tokenIDs {
		dyRow := dy[t*dim : t*dim+dim]
		dwRow := dw[id*dim : id*dim+dim]

		for j := range dyRow {
			dwRow[j] += dyRow[j]
		}
	}
}

func backwardCrossEntropy(e *tapeEntry) {
	logits := e.inputs[0]
	if logits.Grad == nil {
		return
	}

	seqLen := e.ctx.seqLen
	vocab := logits.Data.Shape()[1]
	upstream := e.output.Grad.Data()[0]

	p := e.ctx.softmaxOut.Data()
	dlogits := logits.Grad.Data()
	scale := upstream / float64(seqLen)

	for t, target := range e.ctx.tokenIDs {
		pRow := p[t*vocab : t*vocab+vocab]
		dRow := dlogits[t*vocab : t*vocab+vocab]

		for v := 0; v < vocab; v++ {
			onehot := 0.0
			if v == target {
				onehot = 1.0
			}

			dRow[v] += (pRow[v] - onehot) * scale
		}
	}
}
