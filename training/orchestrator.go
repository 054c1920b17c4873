// Package training implements the per-iteration orchestration loop
// described in spec.md §4.8: zero-grad, reset tape, forward, loss, seed
// gradient, backward, optimizer step, optional checkpoint, reset arena
// last. Grounded on the teacher's training/strategy_backprop.go for the
// forward/loss/backward sequencing and on training/interfaces.go for the
// orchestrator-as-a-small-struct-with-injected-collaborators shape,
// adapted from the teacher's graph.Graph[T]/Strategy abstraction to the
// fixed autodiff.Engine + layers/transformer.Model this module builds.
package training

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/fluxtrain/flux/autodiff"
	"github.com/fluxtrain/flux/checkpoint"
	"github.com/fluxtrain/flux/config"
	"github.com/fluxtrain/flux/layers/transformer"
	"github.com/fluxtrain/flux/optimizer"
	"github.com/fluxtrain/flux/schedule"
)

// ErrNonFiniteLoss is returned when a training step's loss is NaN or
// Inf. Per spec.md §4.8's failure semantics, the orchestrator surfaces
// this to the caller rather than silently continuing; retrying is the
// caller's decision.
var ErrNonFiniteLoss = errors.New("training: loss is not finite")

// Orchestrator drives one model through repeated training iterations,
// owning the engine, optimizer, and schedule it needs to do so.
type Orchestrator struct {
	Engine   *autodiff.Engine
	Model    *transformer.Model
	Adam     *optimizer.Adam
	Schedule *schedule.CosineWithWarmup
	Run      config.Run

	logger Logger
	step   int
}

// Option configures an Orchestrator via functional options, matching the
// WithXxx pattern used throughout config/ and layers/.
type Option func(*Orchestrator)

// WithLogger overrides the default NopLogger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New constructs an Orchestrator around an already-built model,
// optimizer, and schedule.
func New(model *transformer.Model, adam *optimizer.Adam, sched *schedule.CosineWithWarmup, run config.Run, opts ...Option) (*Orchestrator, error) {
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	o := &Orchestrator{
		Engine:   autodiff.NewEngine(run.UseBLAS),
		Model:    model,
		Adam:     adam,
		Schedule: sched,
		Run:      run,
		logger:   NopLogger{},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// StepResult reports one iteration's outcome.
type StepResult struct {
	Iteration    int
	Loss         float64
	LearningRate float64
}

// Step runs exactly the nine-step iteration spec.md §4.8 describes:
//  1. zero_grad on all parameters
//  2. reset the tape
//  3. forward pass -> logits
//  4. cross-entropy loss
//  5. seed the loss gradient with 1.0
//  6. tape.Backward()
//  7. optimizer.Step()
//  8. optional checkpoint (left to the caller via SaveCheckpoint, see below)
//  9. reset the arena, strictly last
//
// A NaN/Inf loss aborts before any gradient or parameter update is
// applied and returns ErrNonFiniteLoss; the arena is still reset so the
// engine is left usable for the next call.
func (o *Orchestrator) Step(batch Batch) (StepResult, error) {
	o.step++

	params := o.Model.Parameters()

	optimizer.ZeroGrad(params)
	o.Engine.Tape.Reset()

	logits, err := o.Model.Forward(o.Engine, batch.InputIDs)
	if err != nil {
		o.resetArena()
		return StepResult{}, fmt.Errorf("training: forward: %w", err)
	}

	loss, err := o.Engine.CrossEntropy(logits, batch.TargetIDs)
	if err != nil {
		o.resetArena()
		if errors.Is(err, autodiff.ErrNumeric) {
			return StepResult{}, fmt.Errorf("%w: %w", ErrNonFiniteLoss, err)
		}
		return StepResult{}, fmt.Errorf("training: loss: %w", err)
	}

	lossValue := loss.Data.Data()[0]
	if math.IsNaN(lossValue) || math.IsInf(lossValue, 0) {
		o.resetArena()
		return StepResult{}, fmt.Errorf("%w: %v", ErrNonFiniteLoss, lossValue)
	}

	if err := loss.SeedGradOne(); err != nil {
		o.resetArena()
		return StepResult{}, fmt.Errorf("training: seeding loss gradient: %w", err)
	}

	if err := o.Engine.Tape.Backward(); err != nil {
		o.resetArena()
		return StepResult{}, fmt.Errorf("training: backward: %w", err)
	}

	o.Adam.LearningRate = o.Schedule.LR(o.step)

	if err := o.Adam.Step(params); err != nil {
		o.resetArena()
		return StepResult{}, fmt.Errorf("training: optimizer step: %w", err)
	}

	o.logger.Infow("training step", "iteration", o.step, "loss", lossValue, "lr", o.Adam.LearningRate)

	o.resetArena()

	return StepResult{Iteration: o.step, Loss: lossValue, LearningRate: o.Adam.LearningRate}, nil
}

// resetArena applies the run's compaction policy: a plain Reset most
// iterations, a ResetCompact every CompactCadence iterations to bound
// long-run resident memory (spec.md §4.8 step 9, "choose reset or
// reset_compact per policy"). This is always the last action of Step.
func (o *Orchestrator) resetArena() {
	if o.Run.CompactCadence > 0 && o.step%o.Run.CompactCadence == 0 {
		o.Engine.Arena.ResetCompact()
		return
	}

	o.Engine.Arena.Reset()
}

// modelArchitecture converts config.Architecture to the narrower header
// checkpoint.Architecture records on disk.
func modelArchitecture(arch config.Architecture) checkpoint.Architecture {
	return checkpoint.Architecture{
		VocabSize: int32(arch.VocabSize),
		DModel:    int32(arch.DModel),
		NHeads:    int32(arch.NHeads),
		NLayers:   int32(arch.NLayers),
		DFF:       int32(arch.DFF),
		MaxSeqLen: int32(arch.MaxSeqLen),
	}
}

// SaveCheckpoint writes the model's current parameters, Adam's moment
// state, and the run's iteration/loss/lr into w, per spec.md §6's .ckpt
// format.
func (o *Orchestrator) SaveCheckpoint(w io.Writer, lastLoss float64) error {
	params := o.Model.Parameters()

	states := make([]checkpoint.ParamState, len(params))

	for i, p := range params {
		m, v, err := o.Adam.Moments(p)
		if err != nil {
			return fmt.Errorf("training: checkpoint: %w", err)
		}

		states[i] = checkpoint.ParamState{Name: p.Name, Value: p.Data, M: m, V: v}
	}

	run := checkpoint.RunState{
		Iteration:    int32(o.step),
		LastLoss:     lastLoss,
		LearningRate: o.Adam.LearningRate,
	}

	return checkpoint.SaveCheckpoint(w, modelArchitecture(o.Model.Arch), run, states)
}

// LoadCheckpoint restores parameter values, Adam moment state, and the
// iteration counter from r, overwriting the orchestrator's current
// state in place. The model passed to New must already have the target
// architecture; shapes are validated against it.
func (o *Orchestrator) LoadCheckpoint(r io.Reader) (checkpoint.RunState, error) {
	params := o.Model.Parameters()

	names := make([]string, len(params))
	shapes := make([][]int, len(params))

	for i, p := range params {
		names[i] = p.Name
		shapes[i] = p.Data.Shape()
	}

	run, states, err := checkpoint.LoadCheckpoint(r, modelArchitecture(o.Model.Arch), names, shapes)
	if err != nil {
		return run, fmt.Errorf("training: %w", err)
	}

	for i, p := range params {
		copy(p.Data.Data(), states[i].Value.Data())
		o.Adam.SetMoments(p, states[i].M, states[i].V)
	}

	o.Adam.SetTimestep(int(run.Iteration))
	o.step = int(run.Iteration)

	return run, nil
}

// SaveModel writes the model's parameters (no optimizer state) into w,
// per spec.md §6's .bin format.
func (o *Orchestrator) SaveModel(w io.Writer) error {
	params := o.Model.Parameters()

	named := make([]checkpoint.NamedParam, len(params))
	for i, p := range params {
		named[i] = checkpoint.NamedParam{Name: p.Name, Data: p.Data}
	}

	return checkpoint.SaveModel(w, modelArchitecture(o.Model.Arch), named)
}
