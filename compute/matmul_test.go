package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMulPortable(t *testing.T) {
	b := NewBackend(false)
	assert.False(t, b.UsesBLAS())

	// A = [[1,2],[3,4]], B = [[5,6],[7,8]]
	// C = A*B = [[19,22],[43,50]]
	a := []float64{1, 2, 3, 4}
	bMat := []float64{5, 6, 7, 8}
	c := make([]float64, 4)

	require.NoError(t, b.MatMul(2, 2, 2, a, bMat, c))
	assert.Equal(t, []float64{19, 22, 43, 50}, c)
}

func TestMatMulBLASMatchesPortable(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6} // 2x3
	bMat := []float64{7, 8, 9, 10, 11, 12} // 3x2

	portable := make([]float64, 4)
	require.NoError(t, NewBackend(false).MatMul(2, 2, 3, a, bMat, portable))

	blasOut := make([]float64, 4)
	require.NoError(t, NewBackend(true).MatMul(2, 2, 3, a, bMat, blasOut))

	for i := range portable {
		assert.InDelta(t, portable[i], blasOut[i], 1e-9)
	}
}

func TestMatMulShapeMismatch(t *testing.T) {
	b := NewBackend(false)
	err := b.MatMul(2, 2, 2, []float64{1, 2}, []float64{1, 2, 3, 4}, make([]float64, 4))
	assert.Error(t, err)
}
