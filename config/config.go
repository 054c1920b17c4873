// Package config defines the plain, validated structs that parameterize
// an architecture, an optimizer, and a training run, constructed via
// functional options — the same WithXxx pattern the teacher uses for
// layer construction (layers/normalization/layer_normalization.go's
// LayerNormalizationOption).
package config

import "fmt"

// ErrConfig is returned by a Validate method when a field violates its
// precondition.
type ErrConfig struct {
	Field  string
	Reason string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Architecture pins the transformer's shape.
type Architecture struct {
	VocabSize  int
	DModel     int
	NHeads     int
	NLayers    int
	DFF        int
	MaxSeqLen  int
	Epsilon    float64 // layer norm epsilon
}

// ArchitectureOption configures an Architecture.
type ArchitectureOption func(*Architecture)

// WithEpsilon overrides the default layer-norm epsilon.
func WithEpsilon(eps float64) ArchitectureOption {
	return func(a *Architecture) { a.Epsilon = eps }
}

// NewArchitecture constructs and validates an Architecture.
func NewArchitecture(vocabSize, dModel, nHeads, nLayers, dFF, maxSeqLen int, opts ...ArchitectureOption) (Architecture, error) {
	a := Architecture{
		VocabSize: vocabSize,
		DModel:    dModel,
		NHeads:    nHeads,
		NLayers:   nLayers,
		DFF:       dFF,
		MaxSeqLen: maxSeqLen,
		Epsilon:   1e-5,
	}

	for _, opt := range opts {
		opt(&a)
	}

	if err := a.Validate(); err != nil {
		return Architecture{}, err
	}

	return a, nil
}

// Validate checks every Architecture field's precondition.
func (a Architecture) Validate() error {
	switch {
	case a.VocabSize <= 0:
		return &ErrConfig{"VocabSize", "must be positive"}
	case a.DModel <= 0:
		return &ErrConfig{"DModel", "must be positive"}
	case a.NHeads <= 0:
		return &ErrConfig{"NHeads", "must be positive"}
	case a.DModel%a.NHeads != 0:
		return &ErrConfig{"NHeads", "must evenly divide DModel"}
	case a.NLayers <= 0:
		return &ErrConfig{"NLayers", "must be positive"}
	case a.DFF <= 0:
		return &ErrConfig{"DFF", "must be positive"}
	case a.MaxSeqLen <= 0:
		return &ErrConfig{"MaxSeqLen", "must be positive"}
	case a.Epsilon <= 0:
		return &ErrConfig{"Epsilon", "must be positive"}
	}

	return nil
}

// HeadDim returns DModel/NHeads, valid once Validate has passed.
func (a Architecture) HeadDim() int { return a.DModel / a.NHeads }

// Optimizer pins Adam's hyperparameters plus the warmup/decay schedule
// driving its learning rate over a run.
type Optimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	ClipNorm     float64
	WarmupSteps  int
	TotalSteps   int
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithWeightDecay enables decoupled weight decay.
func WithWeightDecay(decay float64) OptimizerOption {
	return func(o *Optimizer) { o.WeightDecay = decay }
}

// WithClipNorm enables global-norm gradient clipping.
func WithClipNorm(norm float64) OptimizerOption {
	return func(o *Optimizer) { o.ClipNorm = norm }
}

// NewOptimizer constructs and validates an Optimizer config.
func NewOptimizer(learningRate float64, warmupSteps, totalSteps int, opts ...OptimizerOption) (Optimizer, error) {
	o := Optimizer{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WarmupSteps:  warmupSteps,
		TotalSteps:   totalSteps,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if err := o.Validate(); err != nil {
		return Optimizer{}, err
	}

	return o, nil
}

// Validate checks every Optimizer field's precondition.
func (o Optimizer) Validate() error {
	switch {
	case o.LearningRate <= 0:
		return &ErrConfig{"LearningRate", "must be positive"}
	case o.Beta1 <= 0 || o.Beta1 >= 1:
		return &ErrConfig{"Beta1", "must be in (0,1)"}
	case o.Beta2 <= 0 || o.Beta2 >= 1:
		return &ErrConfig{"Beta2", "must be in (0,1)"}
	case o.Epsilon <= 0:
		return &ErrConfig{"Epsilon", "must be positive"}
	case o.WeightDecay < 0:
		return &ErrConfig{"WeightDecay", "must be non-negative"}
	case o.ClipNorm < 0:
		return &ErrConfig{"ClipNorm", "must be non-negative"}
	case o.WarmupSteps < 0:
		return &ErrConfig{"WarmupSteps", "must be non-negative"}
	case o.TotalSteps <= o.WarmupSteps:
		return &ErrConfig{"TotalSteps", "must exceed WarmupSteps"}
	}

	return nil
}

// Run pins a training run's duration and I/O cadence.
type Run struct {
	Iterations        int
	CheckpointCadence int
	CompactCadence    int
	UseBLAS           bool
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithCompactCadence overrides how often (in iterations) the arena is
// fully compacted via ResetCompact instead of a plain Reset.
func WithCompactCadence(n int) RunOption {
	return func(r *Run) { r.CompactCadence = n }
}

// WithBLAS enables the gonum blas64-backed matmul path.
func WithBLAS(enabled bool) RunOption {
	return func(r *Run) { r.UseBLAS = enabled }
}

// NewRun constructs and validates a Run config.
func NewRun(iterations, checkpointCadence int, opts ...RunOption) (Run, error) {
	r := Run{
		Iterations:        iterations,
		CheckpointCadence: checkpointCadence,
		CompactCadence:    1000,
	}

	for _, opt := range opts {
		opt(&r)
	}

	if err := r.Validate(); err != nil {
		return Run{}, err
	}

	return r, nil
}

// Validate checks every Run field's precondition.
func (r Run) Validate() error {
	switch {
	case r.Iterations <= 0:
		return &ErrConfig{"Iterations", "must be positive"}
	case r.CheckpointCadence <= 0:
		return &ErrConfig{"CheckpointCadence", "must be positive"}
	case r.CompactCadence <= 0:
		return &ErrConfig{"CompactCadence", "must be positive"}
	}

	return nil
}
