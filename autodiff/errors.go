package autodiff

import "errors"

// Sentinel errors for the kernel/tape boundary, matching the taxonomy in
// SPEC_FULL.md §7. Kernels wrap these with fmt.Errorf("...: %w", ...) so
// callers can still errors.Is/As them.
var (
	// ErrShapeMismatch signals an operation precondition violation
	// (mismatched shapes, wrong rank, incompatible inner dimensions).
	ErrShapeMismatch = errors.New("autodiff: shape mismatch")

	// ErrNotDifferentiable names a variable that never requested a
	// gradient. No function in this package returns it: Tape.Backward
	// skips entries whose output has no gradient, and
	// Variable.SeedGradOne reports a missing gradient with its own error.
	ErrNotDifferentiable = errors.New("autodiff: variable does not require grad")

	// ErrNumeric signals a NaN/Inf detected in a loss tensor.
	ErrNumeric = errors.New("autodiff: numeric error (NaN or Inf)")
)
