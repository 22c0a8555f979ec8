package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/example/go-aotbench/internal/catalog"
	"github.com/example/go-aotbench/internal/compiler"
	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/device"
	"github.com/example/go-aotbench/internal/report"
)

type fakeResolver map[string]string

func (f fakeResolver) BackbonePath(name string) (string, error) {
	p, ok := f[name]
	if !ok {
		return "", fmt.Errorf("backbone for %q: %w", name, fs.ErrNotExist)
	}
	return p, nil
}

type fakeCompiler struct {
	fused    int
	requests []compiler.Request
}

func (f *fakeCompiler) Compile(_ context.Context, req compiler.Request) (compiler.Result, error) {
	f.requests = append(f.requests, req)
	return compiler.Result{FusedNodes: f.fused}, nil
}

type verifyCall struct{ optimized, model, reference string }

type fakeVerifier struct {
	calls  []verifyCall
	failOn string
}

func (f *fakeVerifier) Verify(_ context.Context, optimized, model, reference string) error {
	f.calls = append(f.calls, verifyCall{optimized, model, reference})
	if model == f.failOn {
		return errors.New("results do not match")
	}
	return nil
}

type fakeBench struct {
	costs []float64
	calls int
}

func (f *fakeBench) Benchmark(context.Context, string, string, string) ([]float64, error) {
	f.calls++
	return f.costs, nil
}

type fakeDevice struct {
	requests []device.Request
}

func (f *fakeDevice) Benchmark(_ context.Context, req device.Request) ([]float64, error) {
	f.requests = append(f.requests, req)
	return []float64{40, 20}, nil
}

func newHarness(t *testing.T) (*Harness, *fakeCompiler, *fakeVerifier, *fakeBench, *fakeDevice) {
	t.Helper()

	comp := &fakeCompiler{fused: 57}
	ver := &fakeVerifier{}
	bench := &fakeBench{costs: []float64{12.40, 3.10}}
	dev := &fakeDevice{}

	h := &Harness{
		Catalog: fakeResolver{
			"bert-base-uncased":      "/models/bert-base-uncased/model.onnx",
			"gpt2":                   "/models/gpt2/gpt2.onnx",
			"microsoft/deberta-base": "/models/deberta/model.onnx",
		},
		Compiler: comp,
		Verifier: ver,
		Bench:    bench,
		Device:   dev,
		Results:  report.NewAggregator(),
		LibDir:   "/work",
	}

	return h, comp, ver, bench, dev
}

func TestRun_NativeEndToEnd(t *testing.T) {
	h, comp, ver, bench, dev := newHarness(t)

	var out bytes.Buffer
	h.Out = &out

	rec, err := h.Run(context.Background(), config.DefaultTarget(), RunSpec{Model: "bert-base-uncased"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantReq := compiler.Request{
		Source: "/models/bert-base-uncased/model.onnx",
		Dest:   "/models/bert-base-uncased/model_aot.onnx",
		Lib:    "/work/libmodel.so",
		Target: config.ArchNative,
	}
	if !reflect.DeepEqual(comp.requests, []compiler.Request{wantReq}) {
		t.Fatalf("compile requests = %+v; want %+v", comp.requests, wantReq)
	}

	wantVerify := verifyCall{wantReq.Dest, "bert-base-uncased", wantReq.Source}
	if !reflect.DeepEqual(ver.calls, []verifyCall{wantVerify}) {
		t.Fatalf("verify calls = %+v", ver.calls)
	}
	if bench.calls != 1 || len(dev.requests) != 0 {
		t.Fatalf("bench calls = %d, device calls = %d", bench.calls, len(dev.requests))
	}

	if got := rec.Row(); !reflect.DeepEqual(got, []string{"bert-base-uncased", "57", "12.40", "3.10", "4.00x"}) {
		t.Fatalf("row = %v", got)
	}
	if all := h.Results.All(); len(all) != 1 || all[0] != rec {
		t.Fatalf("aggregator = %+v", all)
	}

	if !strings.Contains(out.String(), "benchmark model: >>> bert-base-uncased >>>") {
		t.Fatalf("banner = %q", out.String())
	}
	if !strings.Contains(out.String(), "time-cost changes from 12.4ms to 3.1ms, speedup: 4.00x") {
		t.Fatalf("cost change missing from output: %q", out.String())
	}
}

func TestRun_MobileDelegatesToDevice(t *testing.T) {
	h, comp, ver, bench, dev := newHarness(t)

	target := config.MobileTarget("")
	rec, err := h.Run(context.Background(), target, RunSpec{Model: "gpt2", PreOptimize: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if comp.requests[0].Target != config.ArchMobile || !comp.requests[0].PreOptimize {
		t.Fatalf("compile request = %+v", comp.requests[0])
	}
	if len(ver.calls) != 0 || bench.calls != 0 {
		t.Fatal("mobile runs must not verify or benchmark in-process")
	}

	want := device.Request{
		Optimized: "/models/gpt2/gpt2_aot.onnx",
		Baseline:  "/models/gpt2/gpt2.onnx",
		Model:     "gpt2",
		Device:    config.DefaultMobileDevice,
		Lib:       "/work/libgpt2.so",
	}
	if !reflect.DeepEqual(dev.requests, []device.Request{want}) {
		t.Fatalf("device requests = %+v; want %+v", dev.requests, want)
	}

	if rec.Speedup() != 2 {
		t.Fatalf("speedup = %v", rec.Speedup())
	}
}

func TestRun_MissingBackbone(t *testing.T) {
	h, comp, _, _, _ := newHarness(t)

	_, err := h.Run(context.Background(), config.DefaultTarget(), RunSpec{Model: "xlm-roberta-base"})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Run = %v; want not-exist", err)
	}
	if len(comp.requests) != 0 {
		t.Fatal("compiler must not run without a backbone")
	}
}

func TestRun_ReuseCachedArtifacts(t *testing.T) {
	dir := t.TempDir()
	backbone := filepath.Join(dir, "model.onnx")
	for _, p := range []string{backbone, filepath.Join(dir, "model_aot.onnx"), filepath.Join(dir, "libmodel.so")} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h, comp, _, _, _ := newHarness(t)
	h.Catalog = fakeResolver{"bert-base-uncased": backbone}
	h.LibDir = dir
	h.ReuseCached = true

	rec, err := h.Run(context.Background(), config.DefaultTarget(), RunSpec{Model: "bert-base-uncased"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(comp.requests) != 0 {
		t.Fatal("cached artifacts must bypass compilation")
	}
	if rec.FusedNodes != 0 {
		t.Fatalf("FusedNodes = %d; want 0 for cached artifacts", rec.FusedNodes)
	}

	h.ReuseCached = false
	if _, err := h.Run(context.Background(), config.DefaultTarget(), RunSpec{Model: "bert-base-uncased"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(comp.requests) != 1 {
		t.Fatal("compilation must run when the cache is disabled")
	}
}

func TestRunSuite_StopsAtFirstFailure(t *testing.T) {
	h, _, ver, _, _ := newHarness(t)
	ver.failOn = "gpt2"

	err := h.RunSuite(context.Background(), config.DefaultTarget(), []RunSpec{
		{Model: "bert-base-uncased"},
		{Model: "gpt2"},
		{Model: "microsoft/deberta-base", PreOptimize: true},
	})
	if err == nil || !strings.Contains(err.Error(), `model "gpt2"`) {
		t.Fatalf("RunSuite = %v; want gpt2 failure", err)
	}

	if len(ver.calls) != 2 {
		t.Fatalf("verify calls = %d; the suite must abort after gpt2", len(ver.calls))
	}
	if h.Results.Len() != 1 {
		t.Fatalf("aggregator has %d records; want only bert-base-uncased", h.Results.Len())
	}
}

func TestRun_RequiresAggregator(t *testing.T) {
	h, _, _, _, _ := newHarness(t)
	h.Results = nil

	if _, err := h.Run(context.Background(), config.DefaultTarget(), RunSpec{Model: "gpt2"}); err == nil {
		t.Fatal("expected error without aggregator")
	}
}

func TestArtifactPaths(t *testing.T) {
	tests := []struct {
		backbone  string
		optimized string
		lib       string
	}{
		{"/m/bert-base-uncased.onnx", "/m/bert-base-uncased_aot.onnx", "/lib/libbert-base-uncased.so"},
		{"/m/model.onnx/model.onnx", "/m/model.onnx/model_aot.onnx", "/lib/libmodel.so"},
		{"/m/gpt2_dg.onnx", "/m/gpt2_dg_aot.onnx", "/lib/libgpt2_dg.so"},
	}

	for _, tt := range tests {
		if got := OptimizedPath(tt.backbone); got != tt.optimized {
			t.Errorf("OptimizedPath(%q) = %q; want %q", tt.backbone, got, tt.optimized)
		}
		if got := LibPath("/lib", tt.backbone); got != tt.lib {
			t.Errorf("LibPath(%q) = %q; want %q", tt.backbone, got, tt.lib)
		}
	}
}

func TestSuiteFor(t *testing.T) {
	native := SuiteFor(SuiteNative, nil)
	if len(native) != 7 || native[0].Model != "squeezebert/squeezebert-uncased" {
		t.Fatalf("native suite = %+v", native)
	}
	if !native[3].PreOptimize || native[3].Model != "microsoft/deberta-base" {
		t.Fatalf("deberta entry = %+v", native[3])
	}

	mobile := SuiteFor(SuiteMobile, nil)
	if last := mobile[len(mobile)-1]; last != (RunSpec{Model: "distilbert-base-uncased", PreOptimize: true}) {
		t.Fatalf("mobile suite tail = %+v", last)
	}

	native[0].Model = "mutated"
	if NativeSuite[0].Model == "mutated" {
		t.Fatal("SuiteFor must return a copy")
	}

	if got := SuiteFor("nightly", nil); len(got) != 0 {
		t.Fatalf("unknown suite = %+v", got)
	}
}

func TestSuiteFor_CatalogOverride(t *testing.T) {
	c, err := catalog.New(t.TempDir(), catalog.File{
		Models: []catalog.Entry{{Name: "gpt2", Backbone: "gpt2.onnx"}},
		Suites: map[string][]catalog.SuiteEntry{
			SuiteNative: {{Model: "gpt2", PreOptimize: true}},
		},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	got := SuiteFor(SuiteNative, CatalogSuites(c))
	if !reflect.DeepEqual(got, []RunSpec{{Model: "gpt2", PreOptimize: true}}) {
		t.Fatalf("native override = %+v", got)
	}

	if got := SuiteFor(SuiteMobile, CatalogSuites(c)); len(got) != len(MobileSuite) {
		t.Fatalf("mobile should fall back to the built-in suite, got %+v", got)
	}
}

func TestShippedCatalogCoversBuiltinSuites(t *testing.T) {
	c, err := catalog.Load(filepath.Join("..", "..", "models", "catalog.yaml"))
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}

	for _, suite := range []string{SuiteNative, SuiteMobile} {
		for _, spec := range SuiteFor(suite, CatalogSuites(c)) {
			if _, err := c.Entry(spec.Model); err != nil {
				t.Errorf("%s suite: %v", suite, err)
			}
		}
	}
}
