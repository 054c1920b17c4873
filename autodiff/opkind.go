package autodiff

import "github.com/fluxtrain/flux/tensor"

// OpKind is a closed enumeration identifying a tape entry's backward
// function. Dispatch is a switch over this enumeration rather than a
// function pointer stored on the entry, so a tape entry never holds a
// pointer into volatile call-stack memory — the exact failure mode
// SPEC_FULL.md §9 calls out as the source repo's recorded bug.
type OpKind int

const (
	OpAdd OpKind = iota
	OpSub
	OpMul
	OpMatMul
	OpTranspose
	OpReshape
	OpReLU
	OpSoftmaxRow
	OpLayerNorm
	OpEmbeddingLookup
	OpCrossEntropy
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpMul:
		return "Mul"
	case OpMatMul:
		return "MatMul"
	case OpTranspose:
		return "Transpose"
	case OpReshape:
		return "Reshape"
	case OpReLU:
		return "ReLU"
	case OpSoftmaxRow:
		return "SoftmaxRow"
	case OpLayerNorm:
		return "LayerNorm"
	case OpEmbeddingLookup:
		return "EmbeddingLookup"
	case OpCrossEntropy:
		return "CrossEntropy"
	default:
		return "Unknown"
	}
}

// maxFanIn is the largest number of tracked input variables any op in the
// fixed operator set takes (layer_norm: x, gamma, beta).
const maxFanIn = 3

// kernelContext holds values saved during an op's forward pass for use
// during its backward pass, beyond what is already reachable through the
// tape entry's input variable references. Each field is populated only
// by the forward functions that need it: softmaxOut by softmax_row and
// cross_entropy, tokenIDs by embedding_lookup and cross_entropy, the rest
// as noted beside them.
type kernelContext struct {
	softmaxOut    *tensor.Tensor[float64]
	mean          []float64 // layer_norm: per-row mean
	variance      []float64 // layer_norm: per-row variance
	epsilon       float64   // layer_norm: epsilon used in the forward pass
	xhat          *tensor.Tensor[float64]
	originalShape []int // reshape: shape to restore on backward
	tokenIDs      []int // embedding_lookup / cross_entropy target ids
	seqLen        int   // cross_entropy: T, used to average the loss
}
