package checkpoint

import (
	"fmt"
	"io"

	"github.com/fluxtrain/flux/tensor"
)

// SaveModel writes the .bin format: header, architecture, then each
// parameter's rank/shape/size/data record in params' order (the
// model's canonical enumeration order, chosen by the caller).
func SaveModel(w io.Writer, arch Architecture, params []NamedParam) error {
	if err := writeHeader(w); err != nil {
		return err
	}

	if err := writeArchitecture(w, arch, int32(len(params))); err != nil {
		return err
	}

	for _, p := range params {
		if err := writeParamTensor(w, p.Data); err != nil {
			return fmt.Errorf("checkpoint: writing parameter %q: %w", p.Name, err)
		}
	}

	return nil
}

// LoadModel reads a .bin file, validating it against the caller's
// already-constructed model: wantArch must match exactly, and each
// wantShapes[i] must match the i-th stored tensor's shape.
func LoadModel(r io.Reader, wantArch Architecture, wantShapes [][]int) ([]*tensor.Tensor[float64], error) {
	if err := checkHeader(r); err != nil {
		return nil, err
	}

	arch, nParams, err := readArchitecture(r)
	if err != nil {
		return nil, err
	}

	if !archMatches(arch, wantArch) {
		return nil, fmt.Errorf("%w: file has %+v, model expects %+v", ErrArchMismatch, arch, wantArch)
	}

	if int(nParams) != len(wantShapes) {
		return nil, fmt.Errorf("%w: file has %d parameters, model expects %d", ErrArchMismatch, nParams, len(wantShapes))
	}

	out := make([]*tensor.Tensor[float64], nParams)

	for i := range out {
		t, err := readParamTensor(r, wantShapes[i])
		if err != nil {
			return nil, fmt.Errorf("checkpoint: parameter %d: %w", i, err)
		}

		out[i] = t
	}

	return out, nil
}
