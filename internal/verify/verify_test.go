package verify

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/example/go-aotbench/internal/catalog"
	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/onnx"
	"github.com/example/go-aotbench/internal/testutil"
)

type fakeProvider struct {
	inputs    onnx.Values
	reference catalog.ReferenceModel
}

func (p *fakeProvider) BackbonePath(string) (string, error) { return "", nil }

func (p *fakeProvider) Inputs(context.Context, string) (onnx.Values, error) {
	return p.inputs, nil
}

func (p *fakeProvider) Provision(context.Context, string) (*catalog.Provision, error) {
	return &catalog.Provision{Inputs: p.inputs, Reference: p.reference}, nil
}

type fakeReference struct {
	outputs onnx.Values
	seed    int64
	seeded  bool
}

func (r *fakeReference) Forward(context.Context, onnx.Values) (onnx.Values, error) {
	return r.outputs, nil
}

func (r *fakeReference) SetSeed(seed int64) {
	r.seed, r.seeded = seed, true
}

type fakeRunner struct {
	name    string
	outputs onnx.Values
	closed  bool
}

func (r *fakeRunner) Run(context.Context, onnx.Values) (onnx.Values, error) { return r.outputs, nil }
func (r *fakeRunner) OutputNames() []string                                 { return r.outputs.Names() }
func (r *fakeRunner) Name() string                                          { return r.name }
func (r *fakeRunner) Close()                                                { r.closed = true }

// fakeEngine hands out runners keyed by graph role and remembers what it
// opened.
type fakeEngine struct {
	outputs map[string]onnx.Values
	opened  map[string]string
	runners []*fakeRunner
	// onOpen inspects the graph file before it is "loaded".
	onOpen func(name, path string)
}

func (e *fakeEngine) open(name, path string) (onnx.GraphRunner, error) {
	if e.opened == nil {
		e.opened = map[string]string{}
	}
	e.opened[name] = path
	if e.onOpen != nil {
		e.onOpen(name, path)
	}

	out, ok := e.outputs[name]
	if !ok {
		return nil, errors.New("no such graph " + name)
	}

	r := &fakeRunner{name: name, outputs: out}
	e.runners = append(e.runners, r)

	return r, nil
}

func sampleInputs(t *testing.T, n int) onnx.Values {
	t.Helper()

	names := []string{"input_ids", "token_type_ids", "attention_mask"}
	vs := make(onnx.Values, 0, n)
	for _, name := range names[:n] {
		vs = append(vs, onnx.Value{Name: name, Tensor: mustTensor(t, []int64{101, 2023, 102}, []int64{1, 3})})
	}

	return vs
}

func writeOptimized(t *testing.T, outputs ...string) string {
	t.Helper()

	return testutil.WriteONNXModel(t, t.TempDir(), "model_aot.onnx", testutil.Graph{
		Inputs:  []string{"input_ids"},
		Outputs: outputs,
	})
}

func TestVerify_DirectModelMode(t *testing.T) {
	logits := mustTensor(t, []float32{0.1, 0.9}, []int64{1, 2})
	ref := &fakeReference{outputs: onnx.Values{{Name: "logits", Tensor: logits}}}
	engine := &fakeEngine{outputs: map[string]onnx.Values{
		"optimized": {
			{Name: "hidden_states", Tensor: mustTensor(t, []float32{5, 5}, []int64{1, 2})},
			{Name: "logits_fused", Tensor: mustTensor(t, []float32{0.1005, 0.8995}, []int64{1, 2})},
		},
	}}

	optimized := writeOptimized(t, "hidden_states", "logits_fused")
	v := New(&fakeProvider{inputs: sampleInputs(t, 3), reference: ref}, engine.open, DefaultOptions(), nil)

	missingBackbone := filepath.Join(t.TempDir(), "model.onnx")
	if err := v.Verify(context.Background(), optimized, "distilbert-base-uncased", missingBackbone); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !ref.seeded || ref.seed != 42 {
		t.Errorf("reference seed = %d (seeded=%v); want 42", ref.seed, ref.seeded)
	}
	if _, ok := engine.opened["reference"]; ok {
		t.Error("reference graph must not be opened in direct-model mode")
	}
	for _, r := range engine.runners {
		if !r.closed {
			t.Errorf("runner %s not closed", r.name)
		}
	}
}

func TestVerify_PerturbedOutputFails(t *testing.T) {
	ref := &fakeReference{outputs: onnx.Values{{Name: "logits", Tensor: mustTensor(t, []float32{0.1, 0.9}, []int64{1, 2})}}}
	engine := &fakeEngine{outputs: map[string]onnx.Values{
		"optimized": {{Name: "logits", Tensor: mustTensor(t, []float32{0.1, 1.9}, []int64{1, 2})}},
	}}

	v := New(&fakeProvider{inputs: sampleInputs(t, 1), reference: ref}, engine.open, DefaultOptions(), nil)
	err := v.Verify(context.Background(), writeOptimized(t, "logits"), "gpt2", "")

	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected *MismatchError, got %v", err)
	}
}

func TestVerify_DebugDirIsReplaced(t *testing.T) {
	out := onnx.Values{{Name: "logits", Tensor: mustTensor(t, []float32{1}, []int64{1})}}
	engine := &fakeEngine{outputs: map[string]onnx.Values{"optimized": out}}
	provider := &fakeProvider{inputs: sampleInputs(t, 3), reference: &fakeReference{outputs: out}}
	optimized := writeOptimized(t, "logits")

	v := New(provider, engine.open, DefaultOptions(), nil)
	if err := v.Verify(context.Background(), optimized, "bert-base-uncased", ""); err != nil {
		t.Fatalf("first Verify: %v", err)
	}

	debugDir := filepath.Join(filepath.Dir(optimized), DebugDirName)
	if err := os.WriteFile(filepath.Join(debugDir, "stale.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	provider.inputs = sampleInputs(t, 2)
	if err := v.Verify(context.Background(), optimized, "microsoft/deberta-base", ""); err != nil {
		t.Fatalf("second Verify: %v", err)
	}

	entries, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("read debug dir: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if !reflect.DeepEqual(names, []string{"input_0.pb", "input_1.pb"}) {
		t.Fatalf("debug dir = %v; want only the second run's inputs", names)
	}

	name, tensor, err := onnx.ReadTensorProto(filepath.Join(debugDir, "input_1.pb"))
	if err != nil {
		t.Fatalf("ReadTensorProto: %v", err)
	}
	if name != "token_type_ids" || !reflect.DeepEqual(tensor.Shape(), []int64{1, 3}) {
		t.Fatalf("input_1.pb = %s %v", name, tensor.Shape())
	}
}

func TestVerify_GraphReferenceMode(t *testing.T) {
	dir := t.TempDir()
	backbone := testutil.WriteONNXModel(t, dir, "model.onnx", testutil.Graph{
		Inputs:  []string{"input_ids"},
		Outputs: []string{"last_hidden_state"},
	})
	optimized := testutil.WriteONNXModel(t, dir, "model_aot.onnx", testutil.Graph{
		Inputs:  []string{"input_ids"},
		Outputs: []string{"last_hidden_state", "attn_probs"},
	})

	hidden := mustTensor(t, []float32{0.5, -0.5}, []int64{1, 1, 2})
	probs := mustTensor(t, []float32{0.25, 0.75}, []int64{1, 2})

	var referenceOutputs []string
	engine := &fakeEngine{
		outputs: map[string]onnx.Values{
			"reference": {{Name: "last_hidden_state", Tensor: hidden}, {Name: "attn_probs", Tensor: probs}},
			"optimized": {{Name: "last_hidden_state", Tensor: hidden}, {Name: "attn_probs", Tensor: probs}},
		},
		onOpen: func(name, path string) {
			if name != "reference" {
				return
			}
			m, err := onnx.LoadModel(path)
			if err != nil {
				t.Errorf("load extended reference: %v", err)
				return
			}
			referenceOutputs = m.OutputNames()
		},
	}

	opts := DefaultOptions()
	opts.Mode = config.VerifyModeAll

	// No reference model: graph mode must not need one.
	v := New(&fakeProvider{inputs: sampleInputs(t, 1)}, engine.open, opts, nil)
	if err := v.Verify(context.Background(), optimized, "bert-base-uncased", backbone); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !reflect.DeepEqual(referenceOutputs, []string{"last_hidden_state", "attn_probs"}) {
		t.Fatalf("extended reference outputs = %v", referenceOutputs)
	}

	refPath := engine.opened["reference"]
	if refPath == backbone {
		t.Fatal("reference graph must be executed from an extended copy")
	}
	if _, err := os.Stat(refPath); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("extended reference copy left behind at %s", refPath)
	}

	original, err := onnx.LoadModel(backbone)
	if err != nil {
		t.Fatal(err)
	}
	if got := original.OutputNames(); !reflect.DeepEqual(got, []string{"last_hidden_state"}) {
		t.Fatalf("backbone rewritten on disk: %v", got)
	}
}

func TestVerify_ModeAllChecksEveryOutput(t *testing.T) {
	ref := &fakeReference{outputs: onnx.Values{
		{Name: "start_logits", Tensor: mustTensor(t, []float32{1}, []int64{1})},
		{Name: "end_logits", Tensor: mustTensor(t, []float32{2}, []int64{1})},
	}}
	engine := &fakeEngine{outputs: map[string]onnx.Values{
		"optimized": {
			{Name: "start_logits", Tensor: mustTensor(t, []float32{1}, []int64{1})},
			{Name: "end_logits", Tensor: mustTensor(t, []float32{9}, []int64{1})},
		},
	}}
	optimized := writeOptimized(t, "start_logits", "end_logits")
	provider := &fakeProvider{inputs: sampleInputs(t, 3), reference: ref}

	primary := New(provider, engine.open, DefaultOptions(), nil)
	if err := primary.Verify(context.Background(), optimized, "csarron/mobilebert-uncased-squad-v2", ""); err != nil {
		t.Fatalf("primary mode should only compare start_logits: %v", err)
	}

	opts := DefaultOptions()
	opts.Mode = config.VerifyModeAll
	all := New(provider, engine.open, opts, nil)

	var mm *MismatchError
	if err := all.Verify(context.Background(), optimized, "csarron/mobilebert-uncased-squad-v2", ""); !errors.As(err, &mm) {
		t.Fatalf("all mode error = %v; want *MismatchError", err)
	}
	if mm.Output != "end_logits" {
		t.Fatalf("mismatch reported on %q; want end_logits", mm.Output)
	}
}

func TestVerify_Errors(t *testing.T) {
	out := onnx.Values{{Name: "logits", Tensor: mustTensor(t, []float32{1}, []int64{1})}}
	engine := &fakeEngine{outputs: map[string]onnx.Values{"optimized": out}}

	t.Run("missing optimized artifact", func(t *testing.T) {
		v := New(&fakeProvider{reference: &fakeReference{outputs: out}}, engine.open, DefaultOptions(), nil)
		err := v.Verify(context.Background(), filepath.Join(t.TempDir(), "model_aot.onnx"), "gpt2", "")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("Verify = %v; want not-exist", err)
		}
	})

	t.Run("no reference available", func(t *testing.T) {
		v := New(&fakeProvider{inputs: sampleInputs(t, 1)}, engine.open, DefaultOptions(), nil)
		if err := v.Verify(context.Background(), writeOptimized(t, "logits"), "gpt2", ""); err == nil {
			t.Fatal("expected error without any reference")
		}
	})

	t.Run("no aligned output", func(t *testing.T) {
		ref := &fakeReference{outputs: onnx.Values{{Name: "pooler_output", Tensor: out[0].Tensor}}}
		v := New(&fakeProvider{inputs: sampleInputs(t, 1), reference: ref}, engine.open, DefaultOptions(), nil)
		err := v.Verify(context.Background(), writeOptimized(t, "logits"), "gpt2", "")
		if !errors.Is(err, ErrNoMatch) {
			t.Fatalf("Verify = %v; want ErrNoMatch", err)
		}
	})
}
