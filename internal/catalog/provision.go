package catalog

import (
	"context"
	"fmt"

	"github.com/example/go-aotbench/internal/onnx"
	"github.com/example/go-aotbench/internal/tokenizer"
)

// Provider is everything the harness needs from the provisioning layer.
type Provider interface {
	BackbonePath(name string) (string, error)
	Inputs(ctx context.Context, name string) (onnx.Values, error)
	Provision(ctx context.Context, name string) (*Provision, error)
}

// ReferenceModel is the trusted execution path used when no reference graph
// exists on disk.
type ReferenceModel interface {
	Forward(ctx context.Context, inputs onnx.Values) (onnx.Values, error)
}

// Seeder is implemented by reference models with stochastic layers.
type Seeder interface {
	SetSeed(seed int64)
}

// Provision bundles the inputs, sample text and reference model for one
// verification.
type Provision struct {
	Inputs    onnx.Values
	Text      []string
	Reference ReferenceModel
}

// inputFilters lists inputs a model's graph does not accept. Entries are
// added explicitly; nothing is inferred.
var inputFilters = map[string][]string{
	"microsoft/deberta-base": {tokenizer.FeatureTokenTypeIDs},
}

// DroppedInputs returns the input names filtered out for name.
func (c *Catalog) DroppedInputs(name string) []string {
	drop := append([]string(nil), inputFilters[name]...)
	if e, ok := c.entries[name]; ok {
		drop = append(drop, e.DropInputs...)
	}
	return drop
}

// Inputs tokenizes the model's sample text and applies its input filters.
// Every call derives a fresh batch.
func (c *Catalog) Inputs(ctx context.Context, name string) (onnx.Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e, err := c.Entry(name)
	if err != nil {
		return nil, err
	}

	enc, err := c.encoder(e)
	if err != nil {
		return nil, fmt.Errorf("tokenizer for %q: %w", name, err)
	}

	vs, err := enc.Encode(e.Text, e.TextPair)
	if err != nil {
		return nil, fmt.Errorf("tokenize %q: %w", name, err)
	}

	return vs.Without(c.DroppedInputs(name)...), nil
}

func (c *Catalog) Provision(ctx context.Context, name string) (*Provision, error) {
	inputs, err := c.Inputs(ctx, name)
	if err != nil {
		return nil, err
	}

	e, _ := c.Entry(name)

	p := &Provision{Inputs: inputs, Text: []string{e.Text}}
	if e.TextPair != "" {
		p.Text = append(p.Text, e.TextPair)
	}

	if e.Reference != "" {
		p.Reference = &SnapshotReference{
			Path:    c.resolve(e.Reference),
			Outputs: e.ReferenceOutputs,
		}
	}

	return p, nil
}

func (c *Catalog) encoder(e Entry) (tokenizer.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[e.Name]; ok {
		return enc, nil
	}

	cfg := e.Tokenizer

	var tok tokenizer.Tokenizer
	switch cfg.Kind {
	case TokenizerSentencePiece, "":
		sp, err := tokenizer.NewSentencePieceTokenizer(c.resolve(cfg.Model), cfg.Lowercase)
		if err != nil {
			return tokenizer.Encoder{}, err
		}
		tok = sp
	case TokenizerFixed:
		tok = tokenizer.Fixed{IDs: cfg.IDs}
	default:
		return tokenizer.Encoder{}, fmt.Errorf("unknown tokenizer kind %q", cfg.Kind)
	}

	enc := tokenizer.Encoder{
		Tokenizer: tok,
		ClsID:     idOr(cfg.ClsID, -1),
		SepID:     idOr(cfg.SepID, -1),
		MaxLength: cfg.MaxLength,
		Features:  cfg.Features,
	}
	c.encoders[e.Name] = enc

	return enc, nil
}

func idOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}
