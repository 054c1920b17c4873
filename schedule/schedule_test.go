package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearWarmup(t *testing.T) {
	s := New(1.0, 10, 100)

	assert.InDelta(t, 0.1, s.LR(1), 1e-9)
	assert.InDelta(t, 0.5, s.LR(5), 1e-9)
	assert.InDelta(t, 1.0, s.LR(10), 1e-9)
}

func TestCosineDecayReachesMin(t *testing.T) {
	s := New(1.0, 10, 110, WithMinLR(0.01))

	assert.InDelta(t, 1.0, s.LR(10), 1e-9)
	assert.InDelta(t, 0.01, s.LR(110), 1e-9)
	assert.InDelta(t, 0.01, s.LR(500), 1e-9)
}

func TestCosineMidpointIsHalfway(t *testing.T) {
	s := New(2.0, 0, 100)

	mid := s.LR(50)
	assert.InDelta(t, 1.0, mid, 1e-9)
}

func TestLRBeforeStartIsZero(t *testing.T) {
	s := New(1.0, 10, 100)
	assert.Equal(t, 0.0, s.LR(0))
	assert.Equal(t, 0.0, s.LR(-5))
}
