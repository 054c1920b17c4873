package transformer

import (
	"testing"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockForwardShape(t *testing.T) {
	b, err := NewBlock("block", 8, 2, 16)
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	data := make([]float64, 5*8)
	for i := range data {
		data[i] = 0.01 * float64(i)
	}

	xt, err := tensor.New[float64]([]int{5, 8}, data, tensor.Persistent)
	require.NoError(t, err)

	x, err := autodiff.NewParameter("x", xt)
	require.NoError(t, err)

	out, err := b.Forward(e, x)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 8}, out.Data.Shape())
}

func TestBlockParametersNonEmpty(t *testing.T) {
	b, err := NewBlock("block", 8, 2, 16)
	require.NoError(t, err)

	params := b.Parameters()
	assert.NotEmpty(t, params)
}

func TestBlockBackwardPopulatesInputGradient(t *testing.T) {
	b, err := NewBlock("block", 4, 2, 8)
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	xt, err := tensor.New[float64]([]int{3, 4}, []float64{
		0.1, 0.2, -0.1, 0.3,
		0.4, -0.2, 0.1, 0.0,
		0.2, 0.1, 0.3, -0.4,
	}, tensor.Persistent)
	require.NoError(t, err)

	x, err := autodiff.NewParameter("x", xt)
	require.NoError(t, err)

	out, err := b.Forward(e, x)
	require.NoError(t, err)

	g := out.Grad.Data()
	for i := range g {
		g[i] = 1.0
	}

	require.NoError(t, e.Tape.Backward())

	anyNonZero := false
	for _, v := range x.Grad.Data() {
		if v != 0 {
			anyNonZero = true
		}
	}
	assert.True(t, anyNonZero)
}
