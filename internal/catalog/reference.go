package catalog

import (
	"context"
	"fmt"

	"github.com/example/go-aotbench/internal/onnx"
	"github.com/example/go-aotbench/internal/safetensors"
)

// SnapshotReference replays trusted outputs recorded to a safetensors file.
// Outputs fixes their order; otherwise file order is used.
type SnapshotReference struct {
	Path    string
	Outputs []string
}

func (r *SnapshotReference) Forward(ctx context.Context, _ onnx.Values) (onnx.Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensors, err := safetensors.LoadAll(r.Path)
	if err != nil {
		return nil, fmt.Errorf("reference snapshot: %w", err)
	}

	byName := make(map[string]*onnx.Tensor, len(tensors))
	order := make([]string, 0, len(tensors))
	for _, st := range tensors {
		t, err := toTensor(st)
		if err != nil {
			return nil, fmt.Errorf("reference snapshot %s: %w", st.Name, err)
		}
		byName[st.Name] = t
		order = append(order, st.Name)
	}

	if len(r.Outputs) == 0 {
		return onnx.Ordered(order, byName), nil
	}

	out := make(onnx.Values, 0, len(r.Outputs))
	for _, name := range r.Outputs {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("reference snapshot %s has no output %q", r.Path, name)
		}
		out = append(out, onnx.Value{Name: name, Tensor: t})
	}

	return out, nil
}

func toTensor(st *safetensors.Tensor) (*onnx.Tensor, error) {
	if st.IsInt() {
		return onnx.NewTensor(st.Ints, st.Shape)
	}
	return onnx.NewTensor(st.Data, st.Shape)
}
