// Package verify checks that an optimized graph reproduces the outputs of a
// trusted reference execution on identical inputs.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/go-aotbench/internal/catalog"
	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/onnx"
)

// DebugDirName is the directory, next to the optimized artifact, holding the
// serialized inputs of the last verification.
const DebugDirName = "test_data"

// Options tune the comparison.
type Options struct {
	Atol float64
	Rtol float64
	// Mode is config.VerifyModePrimary (first reference output only) or
	// config.VerifyModeAll.
	Mode string
	Seed int64
	// OutputMap pins reference output names to optimized output names.
	OutputMap map[string]string
}

func DefaultOptions() Options {
	return Options{
		Atol: 1e-2,
		Rtol: 1e-3,
		Mode: config.VerifyModePrimary,
		Seed: 42,
	}
}

type Verifier struct {
	provider catalog.Provider
	open     onnx.Opener
	opts     Options
	logger   *slog.Logger
}

func New(provider catalog.Provider, open onnx.Opener, opts Options, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		provider: provider,
		open:     open,
		opts:     opts,
		logger:   logger,
	}
}

// Verify runs the optimized graph and a reference on the model's sample
// inputs and fails unless the aligned outputs are close. When
// referenceGraphPath exists it is executed, extended with the optimized
// graph's extra outputs; otherwise the provider's reference model is used.
func (v *Verifier) Verify(ctx context.Context, optimizedPath, modelName, referenceGraphPath string) error {
	if _, err := os.Stat(optimizedPath); err != nil {
		return fmt.Errorf("optimized model: %w", err)
	}

	prov, err := v.provider.Provision(ctx, modelName)
	if err != nil {
		return fmt.Errorf("provision %q: %w", modelName, err)
	}

	debugDir := filepath.Join(filepath.Dir(optimizedPath), DebugDirName)
	if err := WriteDebugInputs(debugDir, prov.Inputs); err != nil {
		return err
	}

	refs, err := v.reference(ctx, prov, optimizedPath, referenceGraphPath)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("reference for %q produced no outputs", modelName)
	}

	actual, err := v.runGraph(ctx, "optimized", optimizedPath, prov.Inputs)
	if err != nil {
		return err
	}

	if v.opts.Mode != config.VerifyModeAll {
		refs = refs[:1]
	}

	names := actual.Names()
	for _, ref := range refs {
		idx, err := Align(ref.Name, names, v.opts.OutputMap)
		if err != nil {
			return fmt.Errorf("verify %q: %w", modelName, err)
		}

		matched := actual[idx]
		if err := AllClose(matched.Name, ref.Tensor, matched.Tensor, v.opts.Atol, v.opts.Rtol); err != nil {
			return fmt.Errorf("verify %q: %w", modelName, err)
		}

		d := diff(ref.Tensor, matched.Tensor)
		v.logger.Info("results match",
			"model", modelName,
			"reference", ref.Name,
			"output", matched.Name,
			"max_abs_diff", MaxAbs(d),
			"diff", formatArray(d),
		)
	}

	return nil
}

func (v *Verifier) reference(ctx context.Context, prov *catalog.Provision, optimizedPath, referenceGraphPath string) (onnx.Values, error) {
	if referenceGraphPath != "" {
		_, err := os.Stat(referenceGraphPath)
		switch {
		case err == nil:
			return v.graphReference(ctx, optimizedPath, referenceGraphPath, prov.Inputs)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reference graph: %w", err)
		}
	}

	if prov.Reference == nil {
		return nil, errors.New("no reference graph on disk and no reference model available")
	}

	if s, ok := prov.Reference.(catalog.Seeder); ok {
		s.SetSeed(v.opts.Seed)
	}

	out, err := prov.Reference.Forward(ctx, prov.Inputs)
	if err != nil {
		return nil, fmt.Errorf("reference model: %w", err)
	}

	return out, nil
}

// graphReference executes the reference graph with the optimized graph's
// extra outputs appended, so intermediate tensors can be compared too.
func (v *Verifier) graphReference(ctx context.Context, optimizedPath, referenceGraphPath string, inputs onnx.Values) (onnx.Values, error) {
	optimized, err := onnx.LoadModel(optimizedPath)
	if err != nil {
		return nil, err
	}

	ref, err := onnx.LoadModel(referenceGraphPath)
	if err != nil {
		return nil, err
	}

	extended, err := ref.WithExtraOutputs(ref.MissingOutputs(optimized))
	if err != nil {
		return nil, fmt.Errorf("extend reference outputs: %w", err)
	}

	// Kept beside the original so external tensor data still resolves.
	tmp, err := extended.WriteTemp(filepath.Dir(referenceGraphPath))
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp) }()

	return v.runGraph(ctx, "reference", tmp, inputs)
}

func (v *Verifier) runGraph(ctx context.Context, name, path string, inputs onnx.Values) (onnx.Values, error) {
	runner, err := v.open(name, path)
	if err != nil {
		return nil, fmt.Errorf("open %s graph: %w", name, err)
	}
	defer runner.Close()

	out, err := runner.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("run %s graph: %w", name, err)
	}

	return out, nil
}

// WriteDebugInputs replaces dir with one input_<idx>.pb TensorProto per input.
func WriteDebugInputs(dir string, inputs onnx.Values) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear debug dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}

	for idx, in := range inputs {
		path := filepath.Join(dir, fmt.Sprintf("input_%d.pb", idx))
		if err := onnx.WriteTensorProto(path, in.Name, in.Tensor); err != nil {
			return err
		}
	}

	return nil
}

func diff(expected, actual *onnx.Tensor) []float64 {
	want, got := expected.Float64s(), actual.Float64s()
	out := make([]float64, len(want))
	for i := range want {
		out[i] = got[i] - want[i]
	}
	return out
}
