package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocZeroed(t *testing.T) {
	a := New()
	s := a.AllocZeroed(16)
	require.Len(t, s, 16)

	for _, v := range s {
		assert.Equal(t, 0.0, v)
	}
}

func TestAllocGrowsNewChunk(t *testing.T) {
	a := New()
	require.Equal(t, 1, a.NumChunks())

	// Request more than a single default chunk can hold.
	_ = a.Alloc(DefaultChunkSize + 1)
	assert.Equal(t, 2, a.NumChunks())
}

// TestResetReusesSameOffset is the arena-correctness property (§8 invariant 2):
// after Reset, a subsequent allocation of the same size aliases the same
// backing memory as the allocation it replaced.
func TestResetReusesSameOffset(t *testing.T) {
	a := New()

	first := a.Alloc(8)
	first[0] = 42

	a.Reset()

	second := a.Alloc(8)
	second[0] = 7

	assert.Equal(t, 7.0, first[0], "first allocation must alias the same memory as second after reset")
}

func TestResetCompactFreesExtraChunks(t *testing.T) {
	a := New()
	_ = a.Alloc(DefaultChunkSize + 1)
	require.Equal(t, 2, a.NumChunks())

	a.ResetCompact()
	assert.Equal(t, 1, a.NumChunks())
}

func TestAllocZeroNoPanic(t *testing.T) {
	a := New()
	assert.NotPanics(t, func() {
		s := a.Alloc(0)
		assert.Nil(t, s)
	})
}
