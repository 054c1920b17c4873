// Package tensor provides the dense, row-major n-dimensional array type
// shared by the autodiff engine, the layers built on it, and the
// checkpoint codec. There are no strides and no views: every Tensor owns
// a contiguous backing slice, and reshape produces a new Tensor that
// shares that slice (see Reshape).
package tensor

import (
	"errors"
	"fmt"

	"github.com/zerfoo/float16"
	"github.com/zerfoo/float8"
)

// Numeric constrains the element types a Tensor may hold. The core
// training engine instantiates Tensor at float64 exclusively (SPEC_FULL.md
// §3); the wider lattice is kept so quantized checkpoint export
// (checkpoint/quantize.go) can reuse the same type over float16/float8.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint32 | ~uint64 |
		~float32 | ~float64 |
		float8.Float8 | float16.Float16
}

// MaxRank bounds the number of dimensions a Tensor may carry.
const MaxRank = 8

// Storage tags a Tensor's lifetime class.
type Storage int

const (
	// Temporary tensors are backed by the per-iteration arena and are
	// invalid after the next Arena.Reset/ResetCompact call.
	Temporary Storage = iota
	// Persistent tensors live until explicitly discarded: model
	// parameters, their gradients, and optimizer moment state.
	Persistent
)

func (s Storage) String() string {
	if s == Persistent {
		return "persistent"
	}

	return "temporary"
}

// ErrRankExceeded is returned when a shape exceeds MaxRank dimensions.
var ErrRankExceeded = fmt.Errorf("tensor: rank exceeds MaxRank (%d)", MaxRank)

// Tensor is a contiguous, row-major buffer of T plus a shape and a storage
// tag. Invariant: Size() == product(shape).
type Tensor[T Numeric] struct {
	shape   []int
	data    []T
	storage Storage
}

// New creates a Tensor over the given shape and backing data. If data is
// nil a fresh zero-valued slice is allocated (used for Persistent tensors
// and for any caller not threading an arena-backed buffer through).
func New[T Numeric](shape []int, data []T, storage Storage) (*Tensor[T], error) {
	if len(shape) > MaxRank {
		return nil, ErrRankExceeded
	}

	size := size(shape)

	if data == nil {
		data = make([]T, size)
	}

	if len(data) != size {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (size %d)", len(data), shape, size)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor[T]{shape: shapeCopy, data: data, storage: storage}, nil
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor[T]) Shape() []int {
	s := make([]int, len(t.shape))
	copy(s, t.shape)

	return s
}

// Dims returns the number of dimensions.
func (t *Tensor[T]) Dims() int { return len(t.shape) }

// Size returns the total element count.
func (t *Tensor[T]) Size() int { return len(t.data) }

// Data returns the tensor's backing slice directly (not a copy). Callers
// that mutate it are mutating the tensor.
func (t *Tensor[T]) Data() []T { return t.data }

// Storage reports whether this tensor is Persistent or Temporary.
func (t *Tensor[T]) Storage() Storage { return t.storage }

// ShapeEqual reports whether two tensors have identical shapes.
func (t *Tensor[T]) ShapeEqual(other *Tensor[T]) bool {
	return shapesEqual(t.shape, other.shape)
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// ShapesEqual is the free-function form of ShapeEqual, used by kernels
// that only have raw shapes on hand.
func ShapesEqual(a, b []int) bool { return shapesEqual(a, b) }

// At returns the element at the given multi-index, row-major.
func (t *Tensor[T]) At(idx ...int) (T, error) {
	var zero T

	if len(idx) != len(t.shape) {
		return zero, fmt.Errorf("tensor: expected %d indices, got %d", len(t.shape), len(idx))
	}

	offset := 0
	stride := 1

	for i := len(t.shape) - 1; i >= 0; i-- {
		if idx[i] < 0 || idx[i] >= t.shape[i] {
			return zero, fmt.Errorf("tensor: index %d out of bounds for dimension %d (size %d)", idx[i], i, t.shape[i])
		}

		offset += idx[i] * stride
		stride *= t.shape[i]
	}

	return t.data[offset], nil
}

// Reshape returns a new Tensor with the given shape sharing this tensor's
// backing slice — a metadata change, not a data move, per SPEC_FULL.md §4.4/§9.
func (t *Tensor[T]) Reshape(shape []int) (*Tensor[T], error) {
	if size(shape) != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape size %d into shape %v", len(t.data), shape)
	}

	if len(shape) > MaxRank {
		return nil, ErrRankExceeded
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor[T]{shape: shapeCopy, data: t.data, storage: t.storage}, nil
}

// Clone makes a deep copy of the tensor with Persistent storage,
// independent of any arena.
func (t *Tensor[T]) Clone() *Tensor[T] {
	d := make([]T, len(t.data))
	copy(d, t.data)

	s := make([]int, len(t.shape))
	copy(s, t.shape)

	return &Tensor[T]{shape: s, data: d, storage: Persistent}
}

// Fill sets every element to v.
func (t *Tensor[T]) Fill(v T) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Zero sets every element to the zero value of T.
func (t *Tensor[T]) Zero() {
	var zero T
	t.Fill(zero)
}

// String implements fmt.Stringer for debugging.
func (t *Tensor[T]) String() string {
	return fmt.Sprintf("Tensor(shape=%v, storage=%s)", t.shape, t.storage)
}

// ErrShapeMismatch names operand shapes that violate an operation's
// precondition. Nothing in this package returns it; the autodiff kernels
// report shape errors with autodiff.ErrShapeMismatch.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")
