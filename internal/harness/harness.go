// Package harness drives compile, verify and benchmark for each model of a
// suite and records the results.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/example/go-aotbench/internal/bench"
	"github.com/example/go-aotbench/internal/compiler"
	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/device"
	"github.com/example/go-aotbench/internal/report"
)

// RunSpec is one suite entry.
type RunSpec struct {
	Model       string
	PreOptimize bool
}

// BackboneResolver locates the unmodified graph of a model.
type BackboneResolver interface {
	BackbonePath(name string) (string, error)
}

type Verifier interface {
	Verify(ctx context.Context, optimizedPath, modelName, referenceGraphPath string) error
}

type Benchmarker interface {
	Benchmark(ctx context.Context, optimizedPath, baselinePath, modelName string) ([]float64, error)
}

type Harness struct {
	Catalog  BackboneResolver
	Compiler compiler.Invoker
	Verifier Verifier
	Bench    Benchmarker
	// Device handles non-native targets.
	Device  device.Benchmarker
	Results *report.Aggregator
	// LibDir receives the compiled kernel libraries.
	LibDir string
	// ReuseCached skips compilation when both artifacts already exist.
	ReuseCached bool
	Logger      *slog.Logger
	// Out receives the per-model banner and cost change; nil disables it.
	Out io.Writer
}

var banner = color.New(color.FgCyan, color.Bold)

// Run compiles, checks and times one model on target and records the result.
func (h *Harness) Run(ctx context.Context, target config.Target, spec RunSpec) (report.Record, error) {
	if h.Results == nil {
		return report.Record{}, errors.New("harness has no result aggregator")
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("model", spec.Model, "arch", target.Arch)

	if h.Out != nil {
		banner.Fprintf(h.Out, "benchmark model: >>> %s >>>\n", spec.Model)
	}

	backbone, err := h.Catalog.BackbonePath(spec.Model)
	if err != nil {
		return report.Record{}, err
	}

	optimized := OptimizedPath(backbone)
	lib := LibPath(h.LibDir, backbone)

	fused, err := h.compile(ctx, logger, target, spec, backbone, optimized, lib)
	if err != nil {
		return report.Record{}, err
	}

	var costs []float64
	if target.IsNative() {
		if err := h.Verifier.Verify(ctx, optimized, spec.Model, backbone); err != nil {
			return report.Record{}, err
		}

		costs, err = h.Bench.Benchmark(ctx, optimized, backbone, spec.Model)
		if err != nil {
			return report.Record{}, fmt.Errorf("benchmark %q: %w", spec.Model, err)
		}
	} else {
		if h.Device == nil {
			return report.Record{}, fmt.Errorf("target %s needs a device runner", target.Arch)
		}

		costs, err = h.Device.Benchmark(ctx, device.Request{
			Optimized: optimized,
			Baseline:  backbone,
			Model:     spec.Model,
			Device:    target.Device,
			Lib:       lib,
		})
		if err != nil {
			return report.Record{}, fmt.Errorf("device benchmark %q: %w", spec.Model, err)
		}
	}

	if len(costs) != 2 {
		return report.Record{}, fmt.Errorf("benchmark %q returned %d costs, want 2", spec.Model, len(costs))
	}

	if h.Out != nil {
		fmt.Fprintln(h.Out, bench.CostChange(costs))
	}

	rec := report.Record{
		ModelName:   spec.Model,
		BaselineMS:  costs[0],
		OptimizedMS: costs[1],
		FusedNodes:  fused,
	}
	h.Results.Record(rec)

	logger.Info("model done", "fused_nodes", fused, "baseline_ms", costs[0], "optimized_ms", costs[1])

	return rec, nil
}

func (h *Harness) compile(ctx context.Context, logger *slog.Logger, target config.Target, spec RunSpec, backbone, optimized, lib string) (int, error) {
	if h.ReuseCached && fileExists(optimized) && fileExists(lib) {
		logger.Debug("bypass compiling, use cached model", "optimized", optimized, "lib", lib)
		return 0, nil
	}

	res, err := h.Compiler.Compile(ctx, compiler.Request{
		Source:      backbone,
		Dest:        optimized,
		Lib:         lib,
		Target:      target.Arch,
		PreOptimize: spec.PreOptimize,
	})
	if err != nil {
		return 0, fmt.Errorf("compile %q: %w", spec.Model, err)
	}

	return res.FusedNodes, nil
}

// RunSuite runs specs in order and stops at the first failure.
func (h *Harness) RunSuite(ctx context.Context, target config.Target, specs []RunSpec) error {
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := h.Run(ctx, target, spec); err != nil {
			return fmt.Errorf("model %q: %w", spec.Model, err)
		}
	}
	return nil
}

// OptimizedPath derives the compiled graph path: model.onnx -> model_aot.onnx.
func OptimizedPath(backbone string) string {
	return strings.TrimSuffix(backbone, ".onnx") + "_aot.onnx"
}

// LibPath derives the kernel library path: <libDir>/lib<stem>.so.
func LibPath(libDir, backbone string) string {
	base := filepath.Base(backbone)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(libDir, "lib"+stem+".so")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
