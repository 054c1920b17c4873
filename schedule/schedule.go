// Package schedule computes the learning rate for a given training step.
// Grounded on the teacher's functional-options construction style
// (layers/core, training/optimizer) applied to a schedule rather than a
// layer: a fixed set of fields set at construction time, queried per
// step with no hidden state beyond those fields.
package schedule

import "math"

// CosineWithWarmup implements a linear warmup from 0 to PeakLR over
// WarmupSteps, followed by cosine decay from PeakLR down to MinLR over
// the remaining TotalSteps-WarmupSteps steps. This is the schedule used
// throughout the original transformer pretraining literature and is the
// schedule SPEC_FULL.md's training loop drives its optimizer with.
type CosineWithWarmup struct {
	PeakLR      float64
	MinLR       float64
	WarmupSteps int
	TotalSteps  int
}

// Option configures a CosineWithWarmup schedule.
type Option func(*CosineWithWarmup)

// WithMinLR overrides the floor the cosine decay settles to; defaults to 0.
func WithMinLR(minLR float64) Option {
	return func(s *CosineWithWarmup) { s.MinLR = minLR }
}

// New constructs a CosineWithWarmup schedule peaking at peakLR after
// warmupSteps, decaying to 0 (or WithMinLR's floor) by totalSteps.
func New(peakLR float64, warmupSteps, totalSteps int, opts ...Option) *CosineWithWarmup {
	s := &CosineWithWarmup{
		PeakLR:      peakLR,
		WarmupSteps: warmupSteps,
		TotalSteps:  totalSteps,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// LR returns the learning rate for the given 1-indexed training step.
// Steps beyond TotalSteps hold at MinLR rather than extrapolating the
// cosine curve past its trough.
func (s *CosineWithWarmup) LR(step int) float64 {
	if step <= 0 {
		return 0
	}

	if step <= s.WarmupSteps {
		return s.PeakLR * float64(step) / float64(s.WarmupSteps)
	}

	if step >= s.TotalSteps {
		return s.MinLR
	}

	progress := float64(step-s.WarmupSteps) / float64(s.TotalSteps-s.WarmupSteps)
	cosine := 0.5 * (1 + math.Cos(math.Pi*progress))

	return s.MinLR + (s.PeakLR-s.MinLR)*cosine
}
