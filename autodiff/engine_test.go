package autodiff

import (
	"math"
	"testing"

	"github.com/fluxtrain/flux/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func persistentVar(t *testing.T, data []float64, shape []int) *Variable {
	t.Helper()

	tn, err := tensor.New[float64](shape, data, tensor.Persistent)
	require.NoError(t, err)

	v, err := NewParameter("t", tn)
	require.NoError(t, err)

	return v
}

func seedOnes(v *Variable) {
	g := v.Grad.Data()
	for i := range g {
		g[i] = 1.0
	}
}

// S1 — Addition backward.
func TestAddBackwardScenario(t *testing.T) {
	e := NewEngine(false)

	a := persistentVar(t, []float64{1, 2, 3, 4}, []int{2, 2})
	b := persistentVar(t, []float64{5, 6, 7, 8}, []int{2, 2})

	c, err := e.Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 8, 10, 12}, c.Data.Data())

	seedOnes(c)
	require.NoError(t, e.Tape.Backward())

	assert.Equal(t, []float64{1, 1, 1, 1}, a.Grad.Data())
	assert.Equal(t, []float64{1, 1, 1, 1}, b.Grad.Data())
}

// S2 — Multiplication backward.
func TestMulBackwardScenario(t *testing.T) {
	e := NewEngine(false)

	a := persistentVar(t, []float64{2, 3, 4, 5}, []int{2, 2})
	b := persistentVar(t, []float64{6, 7, 8, 9}, []int{2, 2})

	c, err := e.Mul(a, b)
	require.NoError(t, err)

	seedOnes(c)
	require.NoError(t, e.Tape.Backward())

	assert.Equal(t, []float64{6, 7, 8, 9}, a.Grad.Data())
	assert.Equal(t, []float64{2, 3, 4, 5}, b.Grad.Data())
}

// S3 — ReLU backward.
func TestReLUBackwardScenario(t *testing.T) {
	e := NewEngine(false)

	x := persistentVar(t, []float64{2, -1, 3, -2}, []int{4})

	y, err := e.ReLU(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 3, 0}, y.Data.Data())

	seedOnes(y)
	require.NoError(t, e.Tape.Backward())
	assert.Equal(t, []float64{1, 0, 1, 0}, x.Grad.Data())
}

// S4 — Chain: y = relu(x + x*2). Two paths into x — the direct add
// (coefficient 1) and the multiply-by-2 path (coefficient 2) — so dx
// should be 3 at x=3, where the sum stays positive and ReLU passes the
// upstream gradient through unchanged.
func TestChainAddMulScenario(t *testing.T) {
	e := NewEngine(false)

	x := persistentVar(t, []float64{3}, []int{1})
	two := persistentVar(t, []float64{2}, []int{1})

	xTimesTwo, err := e.Mul(x, two)
	require.NoError(t, err)

	sum, err := e.Add(x, xTimesTwo)
	require.NoError(t, err)

	y, err := e.ReLU(sum)
	require.NoError(t, err)

	assert.Equal(t, 9.0, y.Data.Data()[0])

	require.NoError(t, y.SeedGradOne())
	require.NoError(t, e.Tape.Backward())

	assert.Equal(t, 3.0, x.Grad.Data()[0])
}

// §8 invariant 7 — tape reverse order: backward visits h, then g, then
// f for y=f(x), z=g(y), w=h(z).
func TestTapeReverseOrder(t *testing.T) {
	e := NewEngine(false)

	x := persistentVar(t, []float64{1, 2}, []int{2})
	one := persistentVar(t, []float64{1, 1}, []int{2})

	y, err := e.Add(x, one) // f
	require.NoError(t, err)
	z, err := e.Mul(y, one) // g
	require.NoError(t, err)
	w, err := e.Sub(z, one) // h
	require.NoError(t, err)

	seedOnes(w)

	require.Equal(t, 3, e.Tape.Len())

	var order []OpKind
	for i := e.Tape.Len() - 1; i >= 0; i-- {
		order = append(order, e.Tape.entries[i].op)
	}

	assert.Equal(t, []OpKind{OpSub, OpMul, OpAdd}, order)
	require.NoError(t, e.Tape.Backward())
}

// §8 invariant 6 — zero_grad idempotence.
func TestZeroGradIdempotent(t *testing.T) {
	p := persistentVar(t, []float64{1, 2, 3}, []int{3})
	p.Grad.Data()[0] = 5

	p.ZeroGrad()
	p.ZeroGrad()

	assert.Equal(t, []float64{0, 0, 0}, p.Grad.Data())
	assert.Equal(t, []float64{1, 2, 3}, p.Data.Data())
}

// gradCase describes one differentiable input to a finite-difference check.
type gradCase struct {
	shape   []int
	initVal float64
}

func buildVars(t *testing.T, cases []gradCase) []*Variable {
	t.Helper()

	vars := make([]*Variable, len(cases))

	for i, c := range cases {
		n := 1
		for _, d := range c.shape {
			n *= d
		}

		data := make([]float64, n)

		for j := range data {
			if c.initVal != 0 {
				data[j] = c.initVal
			} else {
				data[j] = 0.1 + 0.05*float64(j%7)
			}
		}

		vars[i] = persistentVar(t, data, c.shape)
	}

	return vars
}

// checkGradients verifies every kernel's analytic gradient against a
// central finite difference of sum(output), per §8 invariant 3. fn must
// be pure given fresh copies of the same input values each call.
func checkGradients(t *testing.T, fn func(e *Engine, vars []*Variable) (*Variable, error), cases []gradCase) {
	t.Helper()

	vars := buildVars(t, cases)

	e := NewEngine(false)

	out, err := fn(e, vars)
	require.NoError(t, err)

	seedOnes(out)
	require.NoError(t, e.Tape.Backward())

	delta := 1e-5

	for _, v := range vars {
		if v.Grad == nil {
			continue
		}

		data := v.Data.Data()
		grad := v.Grad.Data()

		for i := range data {
			orig := data[i]

			data[i] = orig + delta
			lp := sumForward(t, fn, vars)

			data[i] = orig - delta
			lm := sumForward(t, fn, vars)

			data[i] = orig

			numeric := (lp - lm) / (2 * delta)
			denom := math.Abs(grad[i]) + 1e-6
			assert.LessOrEqual(t, math.Abs(numeric-grad[i])/denom, 5e-2,
				"gradient mismatch at %d: analytic=%v numeric=%v", i, grad[i], numeric)
		}
	}
}

func sumForward(t *testing.T, fn func(e *Engine, vars []*Variable) (*Variable, error), vars []*Variable) float64 {
	t.Helper()

	e := NewEngine(false)

	fresh := make([]*Variable, len(vars))

	for i, v := range vars {
		fresh[i] = persistentVar(t, append([]float64(nil), v.Data.Data()...), v.Data.Shape())
	}

	out, err := fn(e, fresh)
	require.NoError(t, err)

	sum := 0.0
	for _, x := range out.Data.Data() {
		sum += x
	}

	return sum
}

func TestFiniteDifferenceMatMul(t *testing.T) {
	checkGradients(t, func(e *Engine, vars []*Variable) (*Variable, error) {
		return e.MatMul(vars[0], vars[1])
	}, []gradCase{
		{shape: []int{2, 3}},
		{shape: []int{3, 2}},
	})
}

func TestFiniteDifferenceLayerNorm(t *testing.T) {
	checkGradients(t, func(e *Engine, vars []*Variable) (*Variable, error) {
		return e.LayerNorm(vars[0], vars[1], vars[2], 1e-5)
	}, []gradCase{
		{shape: []int{3, 4}},
		{shape: []int{4}, initVal: 1.0},
		{shape: []int{4}, initVal: 0.0},
	})
}

func TestFiniteDifferenceSoftmaxRow(t *testing.T) {
	checkGradients(t, func(e *Engine, vars []*Variable) (*Variable, error) {
		return e.SoftmaxRow(vars[0])
	}, []gradCase{
		{shape: []int{2, 3}},
	})
}

func TestFiniteDifferenceReLU(t *testing.T) {
	checkGradients(t, func(e *Engine, vars []*Variable) (*Variable, error) {
		return e.ReLU(vars[0])
	}, []gradCase{
		{shape: []int{5}},
	})
}

func TestCrossEntropyGradient(t *testing.T) {
	targets := []int{2, 0}

	forward := func(data []float64) (*Engine, *Variable, *Variable) {
		e := NewEngine(false)
		v := persistentVar(t, append([]float64(nil), data...), []int{2, 3})

		loss, err := e.CrossEntropy(v, targets)
		require.NoError(t, err)

		return e, v, loss
	}

	base := []float64{0.1, 0.2, 0.7, 0.5, 0.3, 0.2}

	e, logits, loss := forward(base)
	require.NoError(t, loss.SeedGradOne())
	require.NoError(t, e.Tape.Backward())

	analytic := append([]float64(nil), logits.Grad.Data()...)

	delta := 1e-5

	for i := range base {
		plus := append([]float64(nil), base...)
		plus[i] += delta
		_, _, lossPlus := forward(plus)

		minus := append([]float64(nil), base...)
		minus[i] -= delta
		_, _, lossMinus := forward(minus)

		numeric := (lossPlus.Data.Data()[0] - lossMinus.Data.Data()[0]) / (2 * delta)
		assert.InDelta(t, numeric, analytic[i], 1e-3)
	}
}

func TestEmbeddingLookupGradient(t *testing.T) {
	e := NewEngine(false)

	table := persistentVar(t, []float64{
		1, 2, // id 0
		3, 4, // id 1
		5, 6, // id 2
	}, []int{3, 2})

	out, err := e.EmbeddingLookup(table, []int{2, 0, 2})
	require.NoError(t, err)

	assert.Equal(t, []float64{5, 6, 1, 2, 5, 6}, out.Data.Data())

	seedOnes(out)
	require.NoError(t, e.Tape.Backward())

	// id 2 is looked up twice, so its gradient row should accumulate to 2,
	// while id 0's row accumulates to 1 and id 1's stays at 0.
	assert.Equal(t, []float64{1, 1, 0, 0, 2, 2}, table.Grad.Data())
}

func TestReshapeSharesGradient(t *testing.T) {
	e := NewEngine(false)

	x := persistentVar(t, []float64{1, 2, 3, 4, 5, 6}, []int{2, 3})

	y, err := e.Reshape(x, []int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, y.Data.Shape())

	seedOnes(y)
	require.NoError(t, e.Tape.Backward())

	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1}, x.Grad.Data())
}

func TestTransposeGradient(t *testing.T) {
	e := NewEngine(false)

	x := persistentVar(t, []float64{1, 2, 3, 4, 5, 6}, []int{2, 3})

	y, err := e.Transpose(x)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, y.Data.Shape())

	yg := y.Grad.Data()
	for i := range yg {
		yg[i] = float64(i + 1)
	}

	require.NoError(t, e.Tape.Backward())

	// dC[j,i] flows to dA[i,j]; with dC = [1,2; 3,4; 5,6] (3x2),
	// dA (2x3) should be [1,3,5; 2,4,6].
	assert.Equal(t, []float64{1, 3, 5, 2, 4, 6}, x.Grad.Data())
}
