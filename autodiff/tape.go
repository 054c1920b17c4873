package autodiff

import "fmt"

// tapeEntry records one operation performed during the current iteration:
// its tracked inputs, its output, which backward function to dispatch to,
// and any values saved from its forward pass. The input array is inline
// and fixed-size (maxFanIn) rather than a separately-allocated slice, so
// an entry never borrows a slice header from a caller's stack frame — it
// owns its input list outright, for as long as the entry itself lives.
type tapeEntry struct {
	op     OpKind
	inputs [maxFanIn]*Variable
	nIn    int
	output *Variable
	ctx    kernelContext
}

// Tape is an ordered, append-only sequence of tape entries valid for
// exactly one training iteration. Backward walks it last-to-first; the
// tape never re-sorts, relying entirely on the append-only discipline
// that every producer appends before its consumers (SPEC_FULL.md §4.5).
type Tape struct {
	entries []tapeEntry
}

// NewTape creates an empty Tape.
func NewTape() *Tape {
	return &Tape{}
}

// append records one operation. Called by every kernel in engine.go
// immediately after computing its forward output.
func (t *Tape) append(op OpKind, inputs []*Variable, output *Variable, ctx kernelContext) {
	if len(inputs) > maxFanIn {
		panic(fmt.Sprintf("autodiff: op %s has fan-in %d, exceeds maxFanIn %d", op, len(inputs), maxFanIn))
	}

	var e tapeEntry
	e.op = op
	e.nIn = len(inputs)

	for i, v := range inputs {
		e.inputs[i] = v
	}

	e.output = output
	e.ctx = ctx

	t.entries = append(t.entries, e)
}

// Len reports the number of recorded entries. Exposed for tests.
func (t *Tape) Len() int { return len(t.entries) }

// Backward walks the tape from last entry to first, dispatching each
// entry's backward function by op kind and accumulating into each
// input's gradient. Precondition: the caller has already seeded the
// final output variable's gradient (typically the scalar loss, via
// Variable.SeedGradOne).
func (t *Tape) Backward() error {
	for i := len(t.entries) - 1; i >= 0; i-- {
		entry := &t.entries[i]

		if entry.output.Grad == nil {
			// Nothing flowed into this output; nothing to propagate.
			continue
		}

		if err := dispatchBackward(entry); err != nil {
			return fmt.Errorf("autodiff: backward for op %s (entry %d): %w", entry.op, i, err)
		}
	}

	return nil
}

// Reset clears the tape for the next iteration. When the backing array
// has grown far beyond what the just-completed iteration needed (more
// than 4x), it is reallocated smaller to bound long-run memory growth;
// otherwise the existing array is reused via a length-0 slice.
func (t *Tape) Reset() {
	n := len(t.entries)
	c := cap(t.entries)

	if c > 0 && n < c/4 {
		newCap := n * 2
		if newCap < 1 {
			newCap = 1
		}

		t.entries = make([]tapeEntry, 0, newCap)

		return
	}

	t.entries = t.entries[:0]
}
