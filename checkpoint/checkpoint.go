package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fluxtrain/flux/tensor"
)

// ParamState bundles one parameter's value with its optimizer first/
// second moment tensors, the unit SaveCheckpoint/LoadCheckpoint
// round-trips per spec.md §6.
type ParamState struct {
	Name  string
	Value *tensor.Tensor[float64]
	M     *tensor.Tensor[float64]
	V     *tensor.Tensor[float64]
}

// RunState is the training-loop state recorded alongside the model in a
// .ckpt file.
type RunState struct {
	Iteration    int32
	LastLoss     float64
	LearningRate float64
}

// SaveCheckpoint writes the .ckpt format: the .bin preamble and
// architecture, then RunState, then for each parameter its value record
// followed by size × f64 m and size × f64 v.
func SaveCheckpoint(w io.Writer, arch Architecture, run RunState, params []ParamState) error {
	if err := writeHeader(w); err != nil {
		return err
	}

	if err := writeArchitecture(w, arch, int32(len(params))); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, run.Iteration); err != nil {
		return fmt.Errorf("checkpoint: writing iteration: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, run.LastLoss); err != nil {
		return fmt.Errorf("checkpoint: writing last_loss: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, run.LearningRate); err != nil {
		return fmt.Errorf("checkpoint: writing learning_rate: %w", err)
	}

	for _, p := range params {
		if err := writeParamTensor(w, p.Value); err != nil {
			return fmt.Errorf("checkpoint: writing parameter %q: %w", p.Name, err)
		}

		if err := binary.Write(w, binary.LittleEndian, p.M.Data()); err != nil {
			return fmt.Errorf("checkpoint: writing m for %q: %w", p.Name, err)
		}

		if err := binary.Write(w, binary.LittleEndian, p.V.Data()); err != nil {
			return fmt.Errorf("checkpoint: writing v for %q: %w", p.Name, err)
		}
	}

	return nil
}

// LoadCheckpoint reads a .ckpt file, validating the architecture and
// each parameter's shape against the caller's already-constructed
// model, and returns the recovered run state plus each parameter's
// value/m/v tensors in file order.
func LoadCheckpoint(r io.Reader, wantArch Architecture, names []string, wantShapes [][]int) (RunState, []ParamState, error) {
	var run RunState

	if err := checkHeader(r); err != nil {
		return run, nil, err
	}

	arch, nParams, err := readArchitecture(r)
	if err != nil {
		return run, nil, err
	}

	if !archMatches(arch, wantArch) {
		return run, nil, fmt.Errorf("%w: file has %+v, model expects %+v", ErrArchMismatch, arch, wantArch)
	}

	if int(nParams) != len(wantShapes) {
		return run, nil, fmt.Errorf("%w: file has %d parameters, model expects %d", ErrArchMismatch, nParams, len(wantShapes))
	}

	if err := binary.Read(r, binary.LittleEndian, &run.Iteration); err != nil {
		return run, nil, fmt.Errorf("checkpoint: reading iteration: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &run.LastLoss); err != nil {
		return run, nil, fmt.Errorf("checkpoint: reading last_loss: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &run.LearningRate); err != nil {
		return run, nil, fmt.Errorf("checkpoint: reading learning_rate: %w", err)
	}

	out := make([]ParamState, nParams)

	for i := range out {
		value, err := readParamTensor(r, wantShapes[i])
		if err != nil {
			return run, nil, fmt.Errorf("checkpoint: parameter %d value: %w", i, err)
		}

		mData, err := readMoment(r, value.Size())
		if err != nil {
			return run, nil, fmt.Errorf("checkpoint: parameter %d m: %w", i, err)
		}

		vData, err := readMoment(r, value.Size())
		if err != nil {
			return run, nil, fmt.Errorf("checkpoint: parameter %d v: %w", i, err)
		}

		m, err := tensor.New[float64](value.Shape(), mData, tensor.Persistent)
		if err != nil {
			return run, nil, err
		}

		v, err := tensor.New[float64](value.Shape(), vData, tensor.Persistent)
		if err != nil {
			return run, nil, err
		}

		name := ""
		if i < len(names) {
			name = names[i]
		}

		out[i] = ParamState{Name: name, Value: value, M: m, V: v}
	}

	return run, out, nil
}
