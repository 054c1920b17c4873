package transformer

import (
	"fmt"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/config"
	"github.com/fluxtrain/flux/layers/core"
	"github.com/fluxtrain/flux/layers/embeddings"
	"github.com/fluxtrain/flux/layers/normalization"
)

// Model is the full decoder-only stack: token + positional embedding,
// N transformer blocks, a final layer norm, and an output projection to
// vocabulary logits — the sequence spec.md's source-resolution note
// calls out: "embedding + positional encoding -> block stack -> final LN
// -> head".
type Model struct {
	Arch     config.Architecture
	TokEmb   *embeddings.TokenEmbedding
	PosEmb   *embeddings.PositionalEmbedding
	Blocks   []*Block
	FinalLN  *normalization.LayerNorm
	LMHead   *core.Linear
}

// New constructs a Model for the given architecture.
func New(arch config.Architecture) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("layers/transformer: %w", err)
	}

	tokEmb, err := embeddings.NewTokenEmbedding("tok_emb", arch.VocabSize, arch.DModel)
	if err != nil {
		return nil, err
	}

	posEmb, err := embeddings.NewPositionalEmbedding("pos_emb", arch.MaxSeqLen, arch.DModel)
	if err != nil {
		return nil, err
	}

	blocks := make([]*Block, arch.NLayers)

	for i := range blocks {
		b, err := NewBlock(fmt.Sprintf("block%d", i), arch.DModel, arch.NHeads, arch.DFF)
		if err != nil {
			return nil, err
		}

		b.LN1.Epsilon = arch.Epsilon
		b.LN2.Epsilon = arch.Epsilon
		blocks[i] = b
	}

	finalLN, err := normalization.New("final_ln", arch.DModel, normalization.WithEpsilon(arch.Epsilon))
	if err != nil {
		return nil, err
	}

	lmHead, err := core.NewLinear("lm_head", arch.DModel, arch.VocabSize)
	if err != nil {
		return nil, err
	}

	return &Model{
		Arch:    arch,
		TokEmb:  tokEmb,
		PosEmb:  posEmb,
		Blocks:  blocks,
		FinalLN: finalLN,
		LMHead:  lmHead,
	}, nil
}

// Forward computes next-token logits for a token-id sequence of length
// T <= MaxSeqLen, shape [T, VocabSize].
func (m *Model) Forward(e *autodiff.Engine, tokenIDs []int) (*autodiff.Variable, error) {
	if len(tokenIDs) > m.Arch.MaxSeqLen {
		return nil, fmt.Errorf("layers/transformer: sequence length %d exceeds max_seq_len %d", len(tokenIDs), m.Arch.MaxSeqLen)
	}

	tok, err := m.TokEmb.Forward(e, tokenIDs)
	if err != nil {
		return nil, err
	}

	pos, err := m.PosEmb.Forward(e, len(tokenIDs))
	if err != nil {
		return nil, err
	}

	x, err := e.Add(tok, pos)
	if err != nil {
		return nil, err
	}

	for _, b := range m.Blocks {
		x, err = b.Forward(e, x)
		if err != nil {
			return nil, err
		}
	}

	x, err = m.FinalLN.Forward(e, x)
	if err != nil {
		return nil, err
	}

	return m.LMHead.Forward(e, x)
}

// Parameters returns every trainable variable in the model, in a fixed
// canonical order — the enumeration order checkpoint.SaveModel and
// LoadModel rely on (spec.md §6).
func (m *Model) Parameters() []*autodiff.Variable {
	var params []*autodiff.Variable
	params = append(params, m.TokEmb.Parameters()...)
	params = append(params, m.PosEmb.Parameters()...)

	for _, b := range m.Blocks {
		params = append(params, b.Parameters()...)
	}

	params = append(params, m.FinalLN.Parameters()...)
	params = append(params, m.LMHead.Parameters()...)

	return params
}
