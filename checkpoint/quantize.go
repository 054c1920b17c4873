// Quantized model export: an additional, non-default variant of the
// canonical float64 .bin model format, storing parameter values at
// float16 or float8 precision to shrink on-disk size. Grounded on the
// teacher's numeric/float16_ops.go and internal/xblas/gemm.go, which
// convert through float32 on the way to/from the narrower formats.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zerfoo/float16"
	"github.com/zerfoo/float8"

	"github.com/fluxtrain/flux/tensor"
)

// QuantizedMagic distinguishes a quantized export from the canonical
// float64 format so LoadModel never silently misinterprets one as the
// other.
const QuantizedMagic uint32 = 0x464C5551 // "FLUQ"

// Precision selects the narrow element type a quantized export stores.
type Precision int

const (
	PrecisionFloat16 Precision = iota
	PrecisionFloat8
)

// SaveQuantizedModel writes params at the given precision, converting
// through float32 per the teacher's narrowing pattern. This format is
// one-way: it exists for deployment-size reduction, not as a training
// checkpoint, so it carries no optimizer moment state.
func SaveQuantizedModel(w io.Writer, arch Architecture, params []NamedParam, precision Precision) error {
	if err := binary.Write(w, binary.LittleEndian, QuantizedMagic); err != nil {
		return fmt.Errorf("checkpoint: writing quantized magic: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, Version); err != nil {
		return fmt.Errorf("checkpoint: writing version: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, int32(precision)); err != nil {
		return fmt.Errorf("checkpoint: writing precision: %w", err)
	}

	if err := writeArchitecture(w, arch, int32(len(params))); err != nil {
		return err
	}

	for _, p := range params {
		if err := writeQuantizedTensor(w, p.Data, precision); err != nil {
			return fmt.Errorf("checkpoint: writing parameter %q: %w", p.Name, err)
		}
	}

	return nil
}

func writeQuantizedTensor(w io.Writer, t *tensor.Tensor[float64], precision Precision) error {
	shape := t.Shape()

	if err := binary.Write(w, binary.LittleEndian, int32(len(shape))); err != nil {
		return err
	}

	for _, d := range shape {
		if err := binary.Write(w, binary.LittleEndian, int32(d)); err != nil {
			return err
		}
	}

	data := t.Data()

	if err := binary.Write(w, binary.LittleEndian, int32(len(data))); err != nil {
		return err
	}

	switch precision {
	case PrecisionFloat16:
		narrow := make([]float16.Float16, len(data))
		for i, v := range data {
			narrow[i] = float16.FromFloat32(float32(v))
		}

		return binary.Write(w, binary.LittleEndian, narrow)
	case PrecisionFloat8:
		narrow := make([]float8.Float8, len(data))
		for i, v := range data {
			narrow[i] = float8.ToFloat8(float32(v))
		}

		return binary.Write(w, binary.LittleEndian, narrow)
	default:
		return fmt.Errorf("checkpoint: unknown precision %d", precision)
	}
}

// LoadQuantizedModel reads a quantized export back to float64 tensors,
// widening through float32 for use in the (always-float64) autodiff engine.
func LoadQuantizedModel(r io.Reader) (Architecture, []*tensor.Tensor[float64], error) {
	var arch Architecture

	var magic, version uint32

	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return arch, nil, fmt.Errorf("checkpoint: reading quantized magic: %w", err)
	}

	if magic != QuantizedMagic {
		return arch, nil, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}

	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return arch, nil, err
	}

	if version != Version {
		return arch, nil, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, version, Version)
	}

	var precisionRaw int32
	if err := binary.Read(r, binary.LittleEndian, &precisionRaw); err != nil {
		return arch, nil, err
	}

	precision := Precision(precisionRaw)

	arch, nParams, err := readArchitecture(r)
	if err != nil {
		return arch, nil, err
	}

	out := make([]*tensor.Tensor[float64], nParams)

	for i := range out {
		t, err := readQuantizedTensor(r, precision)
		if err != nil {
			return arch, nil, fmt.Errorf("checkpoint: parameter %d: %w", i, err)
		}

		out[i] = t
	}

	return arch, out, nil
}

func readQuantizedTensor(r io.Reader, precision Precision) (*tensor.Tensor[float64], error) {
	var rank int32
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return nil, err
	}

	shape := make([]int, rank)

	for i := range shape {
		var d int32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, err
		}

		shape[i] = int(d)
	}

	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	data := make([]float64, size)

	switch precision {
	case PrecisionFloat16:
		narrow := make([]float16.Float16, size)
		if err := binary.Read(r, binary.LittleEndian, narrow); err != nil {
			return nil, err
		}

		for i, v := range narrow {
			data[i] = float64(v.ToFloat32())
		}
	case PrecisionFloat8:
		narrow := make([]float8.Float8, size)
		if err := binary.Read(r, binary.LittleEndian, narrow); err != nil {
			return nil, err
		}

		for i, v := range narrow {
			data[i] = float64(v.ToFloat32())
		}
	default:
		return nil, fmt.Errorf("checkpoint: unknown precision %d", precision)
	}

	return tensor.New[float64](shape, data, tensor.Persistent)
}
