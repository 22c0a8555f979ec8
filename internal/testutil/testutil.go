// Package testutil provides shared skip helpers and fixtures for tests.
//
// Skip helpers call t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and returns its path otherwise. It checks (in order): the
// ORT_LIBRARY_PATH env var, then the AOTBENCH_ORT_LIB env var, then common
// system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "AOTBENCH_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			_, err := os.Stat(p)
			if err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or AOTBENCH_ORT_LIB")

	return ""
}

// Graph describes the signature of a synthetic ONNX model fixture.
type Graph struct {
	Inputs       []string
	Outputs      []string
	Initializers []string
}

// ONNXModelBytes encodes a ModelProto whose graph declares the given
// signature. It carries no nodes, so it is only suitable for signature
// inspection, not execution.
func ONNXModelBytes(g Graph) []byte {
	valueInfo := func(name string) []byte {
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		return protowire.AppendString(b, name)
	}

	var graph []byte
	graph = protowire.AppendTag(graph, 2, protowire.BytesType)
	graph = protowire.AppendString(graph, "fixture")
	for _, name := range g.Initializers {
		var init []byte
		init = protowire.AppendTag(init, 8, protowire.BytesType)
		init = protowire.AppendString(init, name)
		graph = protowire.AppendTag(graph, 5, protowire.BytesType)
		graph = protowire.AppendBytes(graph, init)
	}
	for _, name := range g.Inputs {
		graph = protowire.AppendTag(graph, 11, protowire.BytesType)
		graph = protowire.AppendBytes(graph, valueInfo(name))
	}
	for _, name := range g.Outputs {
		graph = protowire.AppendTag(graph, 12, protowire.BytesType)
		graph = protowire.AppendBytes(graph, valueInfo(name))
	}

	var model []byte
	model = protowire.AppendTag(model, 1, protowire.VarintType)
	model = protowire.AppendVarint(model, 8)
	model = protowire.AppendTag(model, 2, protowire.BytesType)
	model = protowire.AppendString(model, "aotbench-test")
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	return model
}

// WriteONNXModel writes an ONNXModelBytes fixture to dir/name and returns
// its path.
func WriteONNXModel(tb testing.TB, dir, name string, g Graph) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, ONNXModelBytes(g), 0o644); err != nil {
		tb.Fatalf("write ONNX fixture: %v", err)
	}

	return path
}
