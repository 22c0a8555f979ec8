package testutil

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"testing"
)

// SafetensorsTensor is one entry of a safetensors fixture. Ints selects I64
// storage; otherwise Floats is stored as F32.
type SafetensorsTensor struct {
	Name   string
	Shape  []int64
	Floats []float32
	Ints   []int64
}

// EncodeSafetensors lays tensors out in argument order behind a JSON header.
func EncodeSafetensors(tb testing.TB, tensors ...SafetensorsTensor) []byte {
	tb.Helper()

	type entry struct {
		DType   string  `json:"dtype"`
		Shape   []int64 `json:"shape"`
		Offsets [2]int  `json:"data_offsets"`
	}

	header := make(map[string]entry, len(tensors))
	var raw []byte

	for _, t := range tensors {
		start := len(raw)
		dtype := "F32"
		if t.Ints != nil {
			dtype = "I64"
			for _, v := range t.Ints {
				raw = binary.LittleEndian.AppendUint64(raw, uint64(v))
			}
		} else {
			for _, v := range t.Floats {
				raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
			}
		}
		header[t.Name] = entry{DType: dtype, Shape: t.Shape, Offsets: [2]int{start, len(raw)}}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		tb.Fatalf("encode safetensors header: %v", err)
	}

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(headerJSON)))
	out = append(out, headerJSON...)

	return append(out, raw...)
}

// WriteSafetensors writes an EncodeSafetensors fixture to path.
func WriteSafetensors(tb testing.TB, path string, tensors ...SafetensorsTensor) {
	tb.Helper()

	if err := os.WriteFile(path, EncodeSafetensors(tb, tensors...), 0o644); err != nil {
		tb.Fatalf("write safetensors fixture: %v", err)
	}
}
