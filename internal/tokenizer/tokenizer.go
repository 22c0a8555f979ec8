// Package tokenizer turns a model's sample text into the int64 feature
// tensors transformer backbones expect. Token ids come from a SentencePiece
// model or from a fixed id list stored in the catalog.
package tokenizer

import "errors"

// Tokenizer encodes text into vocabulary token IDs, without special tokens.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

// Fixed is a Tokenizer that ignores its input and returns a stored id
// sequence. Catalog entries use it for pre-tokenized samples.
type Fixed struct {
	IDs []int64
}

func (f Fixed) Encode(string) ([]int64, error) {
	if len(f.IDs) == 0 {
		return nil, errors.New("fixed tokenizer has no ids")
	}
	return append([]int64(nil), f.IDs...), nil
}
