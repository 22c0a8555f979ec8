package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// onnx.TensorProto field numbers and element types.
const (
	tensorFieldDims      protowire.Number = 1
	tensorFieldDataType  protowire.Number = 2
	tensorFieldFloatData protowire.Number = 4
	tensorFieldInt64Data protowire.Number = 7
	tensorFieldName      protowire.Number = 8
	tensorFieldRawData   protowire.Number = 9

	elemTypeFloat = 1
	elemTypeInt64 = 7
)

// MarshalTensorProto serializes t as an onnx.TensorProto with raw_data, the
// layout produced by numpy_helper.from_array and read by onnx_test_runner.
func MarshalTensorProto(name string, t *Tensor) ([]byte, error) {
	if t == nil {
		return nil, errors.New("tensor is nil")
	}

	var (
		elemType uint64
		raw      []byte
	)
	switch data := t.data.(type) {
	case []float32:
		elemType = elemTypeFloat
		raw = make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}
	case []int64:
		elemType = elemTypeInt64
		raw = make([]byte, 8*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
		}
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", t.dtype)
	}

	var b []byte
	for _, d := range t.shape {
		b = protowire.AppendTag(b, tensorFieldDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, tensorFieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, elemType)
	b = protowire.AppendTag(b, tensorFieldName, protowire.BytesType)
	b = protowire.AppendString(b, name)
	b = protowire.AppendTag(b, tensorFieldRawData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	return b, nil
}

// UnmarshalTensorProto decodes float32 and int64 TensorProto messages stored
// either as raw_data or as typed repeated fields.
func UnmarshalTensorProto(b []byte) (string, *Tensor, error) {
	var (
		name      string
		dims      []int64
		elemType  uint64
		raw       []byte
		floatData []float32
		int64Data []int64
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, fmt.Errorf("tensor proto: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == tensorFieldDims && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return "", nil, fmt.Errorf("tensor proto dims: %w", protowire.ParseError(m))
			}
			dims = append(dims, int64(v))
			n = m
		case num == tensorFieldDims && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return "", nil, fmt.Errorf("tensor proto dims: %w", protowire.ParseError(m))
			}
			vals, err := consumePackedVarints(packed)
			if err != nil {
				return "", nil, fmt.Errorf("tensor proto dims: %w", err)
			}
			dims = append(dims, vals...)
			n = m
		case num == tensorFieldDataType && typ == protowire.VarintType:
			elemType, n = protowire.ConsumeVarint(b)
		case num == tensorFieldName && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			name = string(v)
		case num == tensorFieldRawData && typ == protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		case num == tensorFieldFloatData && typ == protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			floatData = append(floatData, math.Float32frombits(v))
		case num == tensorFieldFloatData && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				if len(packed)%4 != 0 {
					return "", nil, errors.New("tensor proto float_data: truncated packed field")
				}
				for i := 0; i < len(packed); i += 4 {
					floatData = append(floatData, math.Float32frombits(binary.LittleEndian.Uint32(packed[i:])))
				}
			}
		case num == tensorFieldInt64Data && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			int64Data = append(int64Data, int64(v))
		case num == tensorFieldInt64Data && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				vals, err := consumePackedVarints(packed)
				if err != nil {
					return "", nil, fmt.Errorf("tensor proto int64_data: %w", err)
				}
				int64Data = append(int64Data, vals...)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, fmt.Errorf("tensor proto field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	switch elemType {
	case elemTypeFloat:
		if raw != nil {
			if len(raw)%4 != 0 {
				return "", nil, fmt.Errorf("tensor %q: raw_data length %d is not a multiple of 4", name, len(raw))
			}
			floatData = make([]float32, len(raw)/4)
			for i := range floatData {
				floatData[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
			}
		}
		t, err := NewTensor(floatData, dims)
		return name, t, err
	case elemTypeInt64:
		if raw != nil {
			if len(raw)%8 != 0 {
				return "", nil, fmt.Errorf("tensor %q: raw_data length %d is not a multiple of 8", name, len(raw))
			}
			int64Data = make([]int64, len(raw)/8)
			for i := range int64Data {
				int64Data[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		}
		t, err := NewTensor(int64Data, dims)
		return name, t, err
	default:
		return "", nil, fmt.Errorf("tensor %q: unsupported ONNX element type %d", name, elemType)
	}
}

// WriteTensorProto writes t to path as a serialized TensorProto.
func WriteTensorProto(path, name string, t *Tensor) error {
	b, err := MarshalTensorProto(name, t)
	if err != nil {
		return fmt.Errorf("encode tensor %q: %w", name, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write tensor %q: %w", name, err)
	}
	return nil
}

// ReadTensorProto loads a TensorProto written by WriteTensorProto.
func ReadTensorProto(path string) (string, *Tensor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read tensor proto: %w", err)
	}
	return UnmarshalTensorProto(b)
}

func consumePackedVarints(b []byte) ([]int64, error) {
	var out []int64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int64(v))
		b = b[n:]
	}
	return out, nil
}
