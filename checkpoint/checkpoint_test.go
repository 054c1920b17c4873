package checkpoint

import (
	"bytes"
	"testing"

	"github.com/fluxtrain/flux/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArch() Architecture {
	return Architecture{VocabSize: 10, DModel: 4, NHeads: 2, NLayers: 1, DFF: 8, MaxSeqLen: 16}
}

func TestModelRoundTrip(t *testing.T) {
	arch := testArch()

	w, err := tensor.New[float64]([]int{2, 2}, []float64{1, 2, 3, 4}, tensor.Persistent)
	require.NoError(t, err)

	params := []NamedParam{{Name: "embed", Data: w}}

	var buf bytes.Buffer
	require.NoError(t, SaveModel(&buf, arch, params))

	loaded, err := LoadModel(&buf, arch, [][]int{{2, 2}})
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	assert.Equal(t, []float64{1, 2, 3, 4}, loaded[0].Data())
	assert.Equal(t, []int{2, 2}, loaded[0].Shape())
}

func TestModelLoadRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 0, 0, 0, 0})

	_, err := LoadModel(buf, testArch(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestModelLoadRejectsArchMismatch(t *testing.T) {
	arch := testArch()

	w, err := tensor.New[float64]([]int{2}, []float64{1, 2}, tensor.Persistent)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, SaveModel(&buf, arch, []NamedParam{{Name: "x", Data: w}}))

	other := arch
	other.DModel = 999

	_, err = LoadModel(&buf, other, [][]int{{2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArchMismatch)
}

func TestCheckpointRoundTrip(t *testing.T) {
	arch := testArch()

	value, err := tensor.New[float64]([]int{2}, []float64{0.5, -0.5}, tensor.Persistent)
	require.NoError(t, err)

	m, err := tensor.New[float64]([]int{2}, []float64{0.1, 0.2}, tensor.Persistent)
	require.NoError(t, err)

	v, err := tensor.New[float64]([]int{2}, []float64{0.01, 0.02}, tensor.Persistent)
	require.NoError(t, err)

	run := RunState{Iteration: 42, LastLoss: 1.23, LearningRate: 0.001}
	params := []ParamState{{Name: "w", Value: value, M: m, V: v}}

	var buf bytes.Buffer
	require.NoError(t, SaveCheckpoint(&buf, arch, run, params))

	loadedRun, loadedParams, err := LoadCheckpoint(&buf, arch, []string{"w"}, [][]int{{2}})
	require.NoError(t, err)

	assert.Equal(t, run, loadedRun)
	require.Len(t, loadedParams, 1)
	assert.Equal(t, []float64{0.5, -0.5}, loadedParams[0].Value.Data())
	assert.Equal(t, []float64{0.1, 0.2}, loadedParams[0].M.Data())
	assert.Equal(t, []float64{0.01, 0.02}, loadedParams[0].V.Data())
}

func TestQuantizedFloat16RoundTrip(t *testing.T) {
	arch := testArch()

	w, err := tensor.New[float64]([]int{3}, []float64{1.5, -2.25, 0.0}, tensor.Persistent)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, SaveQuantizedModel(&buf, arch, []NamedParam{{Name: "w", Data: w}}, PrecisionFloat16))

	gotArch, loaded, err := LoadQuantizedModel(&buf)
	require.NoError(t, err)
	assert.Equal(t, arch, gotArch)
	require.Len(t, loaded, 1)

	for i, want := range []float64{1.5, -2.25, 0.0} {
		assert.InDelta(t, want, loaded[0].Data()[i], 1e-2)
	}
}
