package transformer

import (
	"testing"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArchitecture(t *testing.T) config.Architecture {
	t.Helper()

	arch, err := config.NewArchitecture(32, 8, 2, 2, 16, 6)
	require.NoError(t, err)

	return arch
}

func TestNewRejectsInvalidArchitecture(t *testing.T) {
	_, err := New(config.Architecture{})
	require.Error(t, err)
}

func TestModelForwardShape(t *testing.T) {
	m, err := New(testArchitecture(t))
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	out, err := m.Forward(e, []int{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 32}, out.Data.Shape())
}

func TestModelForwardRejectsOverlongSequence(t *testing.T) {
	m, err := New(testArchitecture(t))
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	ids := make([]int, 100)
	_, err = m.Forward(e, ids)
	require.Error(t, err)
}

func TestModelParametersCoverEveryComponent(t *testing.T) {
	m, err := New(testArchitecture(t))
	require.NoError(t, err)

	params := m.Parameters()
	require.NotEmpty(t, params)

	expected := len(m.TokEmb.Parameters()) + len(m.PosEmb.Parameters()) + len(m.FinalLN.Parameters()) + len(m.LMHead.Parameters())
	for _, b := range m.Blocks {
		expected += len(b.Parameters())
	}

	assert.Len(t, params, expected)
}

func TestModelBackwardPopulatesEmbeddingGradient(t *testing.T) {
	m, err := New(testArchitecture(t))
	require.NoError(t, err)

	e := autodiff.NewEngine(false)

	out, err := m.Forward(e, []int{1, 2, 3})
	require.NoError(t, err)

	g := out.Grad.Data()
	for i := range g {
		g[i] = 1.0
	}

	require.NoError(t, e.Tape.Backward())

	anyNonZero := false
	for _, v := range m.TokEmb.Table.Grad.Data() {
		if v != 0 {
			anyNonZero = true
		}
	}
	assert.True(t, anyNonZero)
}
