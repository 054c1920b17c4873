// Package arena provides a bump allocator for per-iteration temporary
// tensor storage. It backs the temporary tensor buffers used during a
// training iteration: forward intermediates, the tensors tape entries
// save for backward (softmax outputs, normalized activations), and
// gradient buffers for non-parameter variables.
//
// The allocator never frees individual allocations. Instead, Reset bumps
// every chunk's offset back to zero in one pass, and ResetCompact also
// drops every chunk but the first back to the runtime. Any slice handed
// out before a Reset/ResetCompact call must not be read afterward: the
// bytes it points at are eligible for reuse by the very next allocation.
package arena

import "fmt"

// DefaultChunkSize is the element count of a freshly grown chunk when the
// caller does not request a larger one.
const DefaultChunkSize = 1 << 16 // 64k float64s = 512KiB per chunk

// chunk is a single fixed-size backing buffer plus a bump offset.
type chunk struct {
	data   []float64
	offset int
}

func newChunk(size int) *chunk {
	if size < DefaultChunkSize {
		size = DefaultChunkSize
	}

	return &chunk{data: make([]float64, size)}
}

func (c *chunk) remaining() int {
	return len(c.data) - c.offset
}

// Arena is a linked list of chunks plus a bump cursor into the current one.
// It is not safe for concurrent use: the engine's single-threaded training
// loop is the only mutator (see the concurrency model in SPEC_FULL.md).
type Arena struct {
	chunks  []*chunk
	current int // index into chunks of the chunk currently being bumped
}

// New creates an Arena with one chunk of at least DefaultChunkSize elements.
func New() *Arena {
	return &Arena{chunks: []*chunk{newChunk(DefaultChunkSize)}}
}

// Alloc returns a slice of n float64s from the current chunk, growing the
// arena with a new chunk if the current one cannot satisfy the request.
// The returned slice's contents are whatever was left over from a prior
// use of that memory; callers that need zeroed memory must use AllocZeroed.
func (a *Arena) Alloc(n int) []float64 {
	if n < 0 {
		panic(fmt.Sprintf("arena: negative allocation size %d", n))
	}

	if n == 0 {
		return nil
	}

	c := a.chunks[a.current]
	if c.remaining() < n {
		a.grow(n)
		c = a.chunks[a.current]
	}

	s := c.data[c.offset : c.offset+n : c.offset+n]
	c.offset += n

	return s
}

// AllocZeroed behaves like Alloc but guarantees every element is 0.0.
// Zeroing is mandatory for any buffer later read before being fully
// written (gradient accumulation buffers in particular): skipping it
// surfaces as silent NaNs downstream, not as a crash.
func (a *Arena) AllocZeroed(n int) []float64 {
	s := a.Alloc(n)
	for i := range s {
		s[i] = 0
	}

	return s
}

// grow moves to the next chunk kept from before the last Reset that can
// hold n elements, or, when there is none, appends a new chunk sized to
// hold at least n elements; either way that chunk becomes the current one.
func (a *Arena) grow(n int) {
	for i := a.current + 1; i < len(a.chunks); i++ {
		if a.chunks[i].remaining() >= n {
			a.current = i

			return
		}
	}

	size := n
	if size < DefaultChunkSize {
		size = DefaultChunkSize
	}

	a.chunks = append(a.chunks, newChunk(size))
	a.current = len(a.chunks) - 1
}

// Reset bumps every chunk's offset back to zero without releasing any
// chunk back to the runtime. This is O(number of chunks). After Reset, no
// pointer previously returned by Alloc/AllocZeroed is valid: the next
// allocation may overwrite the same bytes.
func (a *Arena) Reset() {
	for _, c := range a.chunks {
		c.offset = 0
	}

	a.current = 0
}

// ResetCompact resets like Reset, then frees every chunk but the first
// back to the runtime. Use periodically (every K iterations) to bound
// long-run resident set after a burst of unusually large allocations.
func (a *Arena) ResetCompact() {
	first := a.chunks[0]
	first.offset = 0
	a.chunks = []*chunk{first}
	a.current = 0
}

// NumChunks reports how many chunks currently back the arena. Exposed for
// tests verifying compaction and growth behavior.
func (a *Arena) NumChunks() int {
	return len(a.chunks)
}

// ChunkSize reports the element capacity of the first chunk. Exposed for
// the arena-correctness test (§8 invariant 2): after Reset, an allocation
// of the same size must land at the same offset into the first chunk.
func (a *Arena) ChunkSize() int {
	return len(a.chunks[0].data)
}
