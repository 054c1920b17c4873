package normalization

import (
	"testing"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsGammaOneBetaZero(t *testing.T) {
	ln, err := New("ln", 4)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1, 1, 1}, ln.Gamma.Data.Data())
	assert.Equal(t, []float64{0, 0, 0, 0}, ln.Beta.Data.Data())
	assert.Equal(t, 1e-5, ln.Epsilon)
}

func TestWithEpsilonOption(t *testing.T) {
	ln, err := New("ln", 4, WithEpsilon(1e-3))
	require.NoError(t, err)
	assert.Equal(t, 1e-3, ln.Epsilon)
}

func TestForwardNormalizesRows(t *testing.T) {
	ln, err := New("ln", 3)
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	xt, err := tensor.New[float64]([]int{1, 3}, []float64{1, 2, 3}, tensor.Persistent)
	require.NoError(t, err)

	x, err := autodiff.NewParameter("x", xt)
	require.NoError(t, err)

	y, err := ln.Forward(e, x)
	require.NoError(t, err)

	sum := 0.0
	for _, v := range y.Data.Data() {
		sum += v
	}

	assert.InDelta(t, 0.0, sum, 1e-9)
}
