// Package checkpoint reads and writes the model (.bin) and checkpoint
// (.ckpt) binary formats pinned by SPEC_FULL.md §6: an exact
// little-endian layout, not a generic serialization envelope — the
// reason this package uses encoding/binary directly rather than the
// teacher's protobuf-based ZMF codec (DESIGN.md).
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fluxtrain/flux/tensor"
)

// Magic identifies a Flux model/checkpoint file: ASCII "FLUX" read as a
// big-endian u32. It is written little-endian like every other field, so
// a file's first four bytes are "XULF".
const Magic uint32 = 0x464C5558

// Version is the current on-disk format version. Load rejects any
// other value.
const Version uint32 = 2

// ErrBadMagic is returned when a file's magic number does not match Magic.
var ErrBadMagic = errors.New("checkpoint: bad magic number")

// ErrBadVersion is returned when a file's version does not match Version.
var ErrBadVersion = errors.New("checkpoint: unsupported version")

// ErrArchMismatch is returned when a file's architectural header does
// not match the model the caller constructed.
var ErrArchMismatch = errors.New("checkpoint: architecture mismatch")

// Architecture is the fixed-size header shared by both file formats.
type Architecture struct {
	VocabSize  int32
	DModel     int32
	NHeads     int32
	NLayers    int32
	DFF        int32
	MaxSeqLen  int32
}

// NamedParam pairs a parameter's canonical name with its tensor, for
// enumeration in a fixed, caller-defined order (SPEC_FULL.md §6 requires
// the model's canonical enumeration order, not file order).
type NamedParam struct {
	Name string
	Data *tensor.Tensor[float64]
}

func writeArchitecture(w io.Writer, arch Architecture, nParams int32) error {
	fields := []int32{
		arch.VocabSize, arch.DModel, arch.NHeads, arch.NLayers, arch.DFF, arch.MaxSeqLen, nParams,
	}

	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("checkpoint: writing architecture header: %w", err)
		}
	}

	return nil
}

func readArchitecture(r io.Reader) (Architecture, int32, error) {
	var arch Architecture

	fields := []*int32{
		&arch.VocabSize, &arch.DModel, &arch.NHeads, &arch.NLayers, &arch.DFF, &arch.MaxSeqLen,
	}

	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return arch, 0, fmt.Errorf("checkpoint: reading architecture header: %w", err)
		}
	}

	var nParams int32
	if err := binary.Read(r, binary.LittleEndian, &nParams); err != nil {
		return arch, 0, fmt.Errorf("checkpoint: reading parameter count: %w", err)
	}

	return arch, nParams, nil
}

func writeParamTensor(w io.Writer, t *tensor.Tensor[float64]) error {
	shape := t.Shape()

	if err := binary.Write(w, binary.LittleEndian, int32(len(shape))); err != nil {
		return fmt.Errorf("checkpoint: writing rank: %w", err)
	}

	for _, d := range shape {
		if err := binary.Write(w, binary.LittleEndian, int32(d)); err != nil {
			return fmt.Errorf("checkpoint: writing shape: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, int32(t.Size())); err != nil {
		return fmt.Errorf("checkpoint: writing size: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, t.Data()); err != nil {
		return fmt.Errorf("checkpoint: writing tensor data: %w", err)
	}

	return nil
}

// readParamTensor reads one rank/shape/size/data record and validates it
// against expectedShape (the caller-constructed model's tensor for this
// parameter), per spec.md §6's "Load rejects ... any ... per-tensor shape
// mismatches".
func readParamTensor(r io.Reader, expectedShape []int) (*tensor.Tensor[float64], error) {
	var rank int32
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return nil, fmt.Errorf("checkpoint: reading rank: %w", err)
	}

	shape := make([]int, rank)

	for i := range shape {
		var d int32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, fmt.Errorf("checkpoint: reading shape dim %d: %w", i, err)
		}

		shape[i] = int(d)
	}

	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("checkpoint: reading size: %w", err)
	}

	if expectedShape != nil && !tensor.ShapesEqual(shape, expectedShape) {
		return nil, fmt.Errorf("%w: file has %v, model expects %v", ErrArchMismatch, shape, expectedShape)
	}

	data := make([]float64, size)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("checkpoint: reading tensor data: %w", err)
	}

	return tensor.New[float64](shape, data, tensor.Persistent)
}

func readMoment(r io.Reader, size int) ([]float64, error) {
	data := make([]float64, size)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("checkpoint: reading moment data: %w", err)
	}

	return data, nil
}

func checkHeader(r io.Reader) error {
	var magic, version uint32

	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("checkpoint: reading magic: %w", err)
	}

	if magic != Magic {
		return fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}

	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("checkpoint: reading version: %w", err)
	}

	if version != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrBadVersion, version, Version)
	}

	return nil
}

func writeHeader(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("checkpoint: writing magic: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, Version); err != nil {
		return fmt.Errorf("checkpoint: writing version: %w", err)
	}

	return nil
}

func archMatches(a, b Architecture) bool {
	return a == b
}
