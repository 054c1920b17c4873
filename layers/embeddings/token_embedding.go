// Package embeddings implements token and positional embedding lookups.
// Grounded on the teacher's layers/embeddings/token_embedding.go (a
// parameterized gather layer) and rotary_positional_embedding.go for
// the general shape of a positional scheme, adapted to a plain learned
// positional table — rotary embeddings are not part of the fixed
// operator set spec.md §4.4 pins (embedding_lookup only), so position
// is folded in as a second learned embedding table added elementwise,
// the textbook original-Transformer scheme.
package embeddings

import (
	"fmt"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/layers/components"
	"github.com/fluxtrain/flux/tensor"
)

// TokenEmbedding gathers rows of a [vocabSize, dModel] table by token id.
type TokenEmbedding struct {
	Table *autodiff.Variable
}

// NewTokenEmbedding constructs a TokenEmbedding with a freshly
// initialized weight table.
func NewTokenEmbedding(name string, vocabSize, dModel int) (*TokenEmbedding, error) {
	data := components.Xavier(vocabSize, dModel)

	tt, err := tensor.New[float64]([]int{vocabSize, dModel}, data, tensor.Persistent)
	if err != nil {
		return nil, fmt.Errorf("layers/embeddings: creating table for %q: %w", name, err)
	}

	table, err := autodiff.NewParameter(name+"_table", tt)
	if err != nil {
		return nil, fmt.Errorf("layers/embeddings: %w", err)
	}

	return &TokenEmbedding{Table: table}, nil
}

// Forward gathers one row per token id, shape [len(ids), dModel].
func (t *TokenEmbedding) Forward(e *autodiff.Engine, ids []int) (*autodiff.Variable, error) {
	return e.EmbeddingLookup(t.Table, ids)
}

// Parameters returns this layer's trainable variables.
func (t *TokenEmbedding) Parameters() []*autodiff.Variable {
	return []*autodiff.Variable{t.Table}
}

// PositionalEmbedding gathers rows of a [maxSeqLen, dModel] table by
// absolute position index 0..len(ids)-1.
type PositionalEmbedding struct {
	Table *autodiff.Variable
}

// NewPositionalEmbedding constructs a PositionalEmbedding table sized
// for sequences up to maxSeqLen.
func NewPositionalEmbedding(name string, maxSeqLen, dModel int) (*PositionalEmbedding, error) {
	data := components.Xavier(maxSeqLen, dModel)

	tt, err := tensor.New[float64]([]int{maxSeqLen, dModel}, data, tensor.Persistent)
	if err != nil {
		return nil, fmt.Errorf("layers/embeddings: creating table for %q: %w", name, err)
	}

	table, err := autodiff.NewParameter(name+"_table", tt)
	if err != nil {
		return nil, fmt.Errorf("layers/embeddings: %w", err)
	}

	return &PositionalEmbedding{Table: table}, nil
}

// Forward gathers the first seqLen positional rows.
func (p *PositionalEmbedding) Forward(e *autodiff.Engine, seqLen int) (*autodiff.Variable, error) {
	ids := make([]int, seqLen)
	for i := range ids {
		ids[i] = i
	}

	return e.EmbeddingLookup(p.Table, ids)
}

// Parameters returns this layer's trainable variables.
func (p *PositionalEmbedding) Parameters() []*autodiff.Variable {
	return []*autodiff.Variable{p.Table}
}
