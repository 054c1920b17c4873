package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesSize(t *testing.T) {
	tn, err := New[float64]([]int{2, 2}, []float64{1, 2, 3, 4}, Temporary)
	require.NoError(t, err)
	assert.Equal(t, 4, tn.Size())
	assert.Equal(t, []int{2, 2}, tn.Shape())

	_, err = New[float64]([]int{2, 2}, []float64{1, 2, 3}, Temporary)
	assert.Error(t, err)
}

func TestNewNilDataAllocatesZeros(t *testing.T) {
	tn, err := New[float64]([]int{3}, nil, Persistent)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, tn.Data())
}

func TestRankExceeded(t *testing.T) {
	shape := make([]int, MaxRank+1)
	for i := range shape {
		shape[i] = 1
	}

	_, err := New[float64](shape, nil, Temporary)
	assert.ErrorIs(t, err, ErrRankExceeded)
}

func TestAt(t *testing.T) {
	tn, err := New[float64]([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6}, Temporary)
	require.NoError(t, err)

	v, err := tn.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	_, err = tn.At(2, 0)
	assert.Error(t, err)
}

func TestReshapeSharesBackingSlice(t *testing.T) {
	tn, err := New[float64]([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6}, Temporary)
	require.NoError(t, err)

	reshaped, err := tn.Reshape([]int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, reshaped.Shape())

	// Mutating one mutates the other: same backing array.
	reshaped.Data()[0] = 99
	assert.Equal(t, 99.0, tn.Data()[0])

	_, err = tn.Reshape([]int{4, 2})
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	tn, err := New[float64]([]int{2}, []float64{1, 2}, Temporary)
	require.NoError(t, err)

	c := tn.Clone()
	c.Data()[0] = 42
	assert.Equal(t, 1.0, tn.Data()[0])
	assert.Equal(t, Persistent, c.Storage())
}

func TestShapeEqual(t *testing.T) {
	a, _ := New[float64]([]int{2, 3}, nil, Temporary)
	b, _ := New[float64]([]int{2, 3}, nil, Temporary)
	c, _ := New[float64]([]int{3, 2}, nil, Temporary)

	assert.True(t, a.ShapeEqual(b))
	assert.False(t, a.ShapeEqual(c))
}

func TestFillAndZero(t *testing.T) {
	tn, _ := New[float64]([]int{3}, nil, Temporary)
	tn.Fill(5)
	assert.Equal(t, []float64{5, 5, 5}, tn.Data())

	tn.Zero()
	assert.Equal(t, []float64{0, 0, 0}, tn.Data())
}
