package onnx

import (
	"slices"

	"github.com/samber/lo"
)

// Value is a named tensor, as fed to or returned from a graph.
type Value struct {
	Name   string
	Tensor *Tensor
}

// Values is an ordered list of named tensors. Graph inputs keep tokenizer
// feature order; graph outputs keep the graph's declared output order.
type Values []Value

func (vs Values) Names() []string {
	return lo.Map(vs, func(v Value, _ int) string { return v.Name })
}

func (vs Values) Get(name string) (*Tensor, bool) {
	for _, v := range vs {
		if v.Name == name {
			return v.Tensor, true
		}
	}
	return nil, false
}

// Map converts to the unordered form consumed by GraphRunner.Run.
func (vs Values) Map() map[string]*Tensor {
	out := make(map[string]*Tensor, len(vs))
	for _, v := range vs {
		out[v.Name] = v.Tensor
	}
	return out
}

// Without returns a copy with the named entries removed.
func (vs Values) Without(names ...string) Values {
	if len(names) == 0 {
		return append(Values(nil), vs...)
	}
	return lo.Filter(vs, func(v Value, _ int) bool {
		return !lo.Contains(names, v.Name)
	})
}

// Ordered arranges an unordered result map by the given names. Names absent
// from the map are skipped; entries not named are appended in name order so
// nothing the engine returned is lost.
func Ordered(names []string, m map[string]*Tensor) Values {
	out := make(Values, 0, len(m))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		t, ok := m[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Value{Name: name, Tensor: t})
	}

	rest := lo.Filter(lo.Keys(m), func(name string, _ int) bool { return !seen[name] })
	slices.Sort(rest)
	for _, name := range rest {
		out = append(out, Value{Name: name, Tensor: m[name]})
	}
	return out
}
