package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"google.golang.org/protobuf/encoding/protowire"
)

// onnx.ModelProto / GraphProto / ValueInfoProto field numbers.
const (
	modelFieldGraph       protowire.Number = 7
	graphFieldInitializer protowire.Number = 5
	graphFieldInput       protowire.Number = 11
	graphFieldOutput      protowire.Number = 12
	valueInfoFieldName    protowire.Number = 1
)

// ValueInfo is a declared graph input or output. Raw keeps the encoded
// ValueInfoProto so it can be copied into another graph unchanged.
type ValueInfo struct {
	Name string
	Raw  []byte
}

// Model is a serialized ONNX model with its graph signature decoded. Only the
// fields needed to inspect and extend graph outputs are parsed; everything
// else is carried through as opaque bytes.
type Model struct {
	Path    string
	Inputs  []ValueInfo
	Outputs []ValueInfo

	raw []byte
}

// LoadModel reads an ONNX model from disk. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ONNX model: %w", err)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("parse ONNX model %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

func ParseModel(data []byte) (*Model, error) {
	graph, err := findGraph(data)
	if err != nil {
		return nil, err
	}

	var (
		inputs       []ValueInfo
		outputs      []ValueInfo
		initializers []string
	)
	err = walkFields(graph, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case graphFieldInput, graphFieldOutput:
			name, err := valueInfoName(value)
			if err != nil {
				return err
			}
			vi := ValueInfo{Name: name, Raw: append([]byte(nil), value...)}
			if num == graphFieldInput {
				inputs = append(inputs, vi)
			} else {
				outputs = append(outputs, vi)
			}
		case graphFieldInitializer:
			name, _, err := tensorName(value)
			if err != nil {
				return err
			}
			initializers = append(initializers, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}

	// Older IR versions list initializers as graph inputs too.
	inputs = lo.Filter(inputs, func(vi ValueInfo, _ int) bool {
		return !lo.Contains(initializers, vi.Name)
	})

	return &Model{
		Inputs:  inputs,
		Outputs: outputs,
		raw:     data,
	}, nil
}

func (m *Model) InputNames() []string {
	return lo.Map(m.Inputs, func(vi ValueInfo, _ int) string { return vi.Name })
}

func (m *Model) OutputNames() []string {
	return lo.Map(m.Outputs, func(vi ValueInfo, _ int) string { return vi.Name })
}

// MissingOutputs returns the outputs of other whose names m does not already
// declare, in other's order.
func (m *Model) MissingOutputs(other *Model) []ValueInfo {
	have := m.OutputNames()
	return lo.Filter(other.Outputs, func(vi ValueInfo, _ int) bool {
		return !lo.Contains(have, vi.Name)
	})
}

// WithExtraOutputs returns a copy of the model whose graph additionally
// declares extra as outputs, after the existing ones. Every other field is
// preserved byte for byte.
func (m *Model) WithExtraOutputs(extra []ValueInfo) (*Model, error) {
	if len(extra) == 0 {
		return m, nil
	}

	var out []byte
	found := false
	err := walkRawFields(m.raw, func(num protowire.Number, typ protowire.Type, value, field []byte) error {
		if num != modelFieldGraph || typ != protowire.BytesType {
			out = append(out, field...)
			return nil
		}
		found = true
		graph := append([]byte(nil), value...)
		for _, vi := range extra {
			graph = protowire.AppendTag(graph, graphFieldOutput, protowire.BytesType)
			graph = protowire.AppendBytes(graph, vi.Raw)
		}
		out = protowire.AppendTag(out, modelFieldGraph, protowire.BytesType)
		out = protowire.AppendBytes(out, graph)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("model has no graph")
	}

	extended, err := ParseModel(out)
	if err != nil {
		return nil, err
	}
	extended.Path = m.Path
	return extended, nil
}

func (m *Model) Bytes() []byte {
	return append([]byte(nil), m.raw...)
}

// WriteTemp persists the model to a new temporary file next to dir (or the
// system temp dir when dir is empty) and returns its path. The caller removes
// the file.
func (m *Model) WriteTemp(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "aotbench-*.onnx")
	if err != nil {
		return "", fmt.Errorf("create temp model: %w", err)
	}

	if _, err := f.Write(m.raw); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp model: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp model: %w", err)
	}

	return filepath.Clean(f.Name()), nil
}

func findGraph(model []byte) ([]byte, error) {
	var graph []byte
	err := walkFields(model, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == modelFieldGraph && typ == protowire.BytesType {
			graph = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if graph == nil {
		return nil, errors.New("model has no graph")
	}
	return graph, nil
}

func valueInfoName(b []byte) (string, error) {
	var name string
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == valueInfoFieldName && typ == protowire.BytesType {
			name = string(value)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("value info: %w", err)
	}
	if name == "" {
		return "", errors.New("value info has empty name")
	}
	return name, nil
}

func tensorName(b []byte) (string, bool, error) {
	var (
		name  string
		found bool
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == tensorFieldName && typ == protowire.BytesType {
			name, found = string(value), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("initializer: %w", err)
	}
	return name, found, nil
}

// walkFields calls fn for every top-level field of a message. For
// length-delimited fields value is the payload; for other wire types it is
// the encoded scalar.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	return walkRawFields(b, func(num protowire.Number, typ protowire.Type, value, _ []byte) error {
		return fn(num, typ, value)
	})
}

func walkRawFields(b []byte, fn func(num protowire.Number, typ protowire.Type, value, field []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}

		value := b[n : n+m]
		if typ == protowire.BytesType {
			payload, k := protowire.ConsumeBytes(b[n:])
			if k < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(k))
			}
			value = payload
		}

		if err := fn(num, typ, value, b[:n+m]); err != nil {
			return err
		}
		b = b[n+m:]
	}
	return nil
}
