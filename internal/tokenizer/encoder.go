package tokenizer

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/example/go-aotbench/internal/onnx"
)

// Feature names produced by Encoder, in emission order.
const (
	FeatureInputIDs      = "input_ids"
	FeatureTokenTypeIDs  = "token_type_ids"
	FeatureAttentionMask = "attention_mask"
)

// DefaultFeatures is the BERT-style feature order.
var DefaultFeatures = []string{FeatureInputIDs, FeatureTokenTypeIDs, FeatureAttentionMask}

// Encoder wraps a Tokenizer with special-token framing and builds a batch of
// one sequence:
//
//	single: [CLS] a [SEP]
//	pair:   [CLS] a [SEP] b [SEP]
//
// A negative ClsID or SepID disables that token (GPT-2 style models use
// neither).
type Encoder struct {
	Tokenizer Tokenizer
	ClsID     int64
	SepID     int64
	// MaxLength truncates the content tokens so the framed sequence fits.
	// Zero means no limit.
	MaxLength int
	// Features selects and orders the emitted tensors. Empty means
	// DefaultFeatures.
	Features []string
}

// Encode tokenizes text (and optional pair) into [1, L] int64 tensors.
func (e Encoder) Encode(text, pair string) (onnx.Values, error) {
	if e.Tokenizer == nil {
		return nil, errors.New("encoder has no tokenizer")
	}

	first, err := e.Tokenizer.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}

	var second []int64
	if pair != "" {
		second, err = e.Tokenizer.Encode(pair)
		if err != nil {
			return nil, fmt.Errorf("encode text pair: %w", err)
		}
	}

	first, second = e.truncate(first, second, pair != "")

	var ids, types []int64
	if e.ClsID >= 0 {
		ids = append(ids, e.ClsID)
	}
	ids = append(ids, first...)
	if e.SepID >= 0 {
		ids = append(ids, e.SepID)
	}
	types = make([]int64, len(ids))

	if pair != "" {
		seg := append([]int64(nil), second...)
		if e.SepID >= 0 {
			seg = append(seg, e.SepID)
		}
		ids = append(ids, seg...)
		types = append(types, lo.RepeatBy(len(seg), func(int) int64 { return 1 })...)
	}

	if len(ids) == 0 {
		return nil, errors.New("encoded sequence is empty")
	}

	mask := lo.RepeatBy(len(ids), func(int) int64 { return 1 })
	shape := []int64{1, int64(len(ids))}

	all := map[string][]int64{
		FeatureInputIDs:      ids,
		FeatureTokenTypeIDs:  types,
		FeatureAttentionMask: mask,
	}

	features := e.Features
	if len(features) == 0 {
		features = DefaultFeatures
	}

	out := make(onnx.Values, 0, len(features))
	for _, name := range features {
		data, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}

		t, err := onnx.NewTensor(data, shape)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}

		out = append(out, onnx.Value{Name: name, Tensor: t})
	}

	return out, nil
}

// truncate trims the longest segment first until the framed sequence fits
// MaxLength.
func (e Encoder) truncate(first, second []int64, hasPair bool) ([]int64, []int64) {
	if e.MaxLength <= 0 {
		return first, second
	}

	special := 0
	if e.ClsID >= 0 {
		special++
	}
	if e.SepID >= 0 {
		special++
		if hasPair {
			special++
		}
	}

	budget := max(e.MaxLength-special, 0)
	for len(first)+len(second) > budget {
		if len(first) >= len(second) {
			first = first[:len(first)-1]
		} else {
			second = second[:len(second)-1]
		}
	}

	return first, second
}
