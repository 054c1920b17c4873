package embeddings

import (
	"testing"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenEmbeddingForwardShape(t *testing.T) {
	emb, err := NewTokenEmbedding("tok", 10, 4)
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	out, err := emb.Forward(e, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, out.Data.Shape())
}

func TestPositionalEmbeddingForwardShape(t *testing.T) {
	pos, err := NewPositionalEmbedding("pos", 16, 4)
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	out, err := pos.Forward(e, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, out.Data.Shape())

	for i, id := range []int{0, 1, 2, 3, 4} {
		want, err := pos.Table.Data.At(id, 0)
		require.NoError(t, err)
		assert.Equal(t, want, out.Data.Data()[i*4])
	}
}
