// Package catalog provisions benchmark models: backbone graph locations,
// tokenized sample inputs and trusted reference outputs, all described by a
// YAML catalog file.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/example/go-aotbench/internal/tokenizer"
)

// ErrUnknownModel is returned for model names absent from the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Tokenizer kinds.
const (
	TokenizerSentencePiece = "sentencepiece"
	TokenizerFixed         = "fixed"
)

// File is the on-disk catalog layout.
type File struct {
	Models []Entry                 `yaml:"models"`
	Suites map[string][]SuiteEntry `yaml:"suites"`
}

// Entry describes one pretrained model configuration.
type Entry struct {
	Name     string `yaml:"name"`
	Backbone string `yaml:"backbone"`
	// Text and TextPair are the fixed sample fed through the tokenizer.
	Text      string          `yaml:"text"`
	TextPair  string          `yaml:"text_pair"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	// Reference is a safetensors snapshot of the trusted model's outputs for
	// the sample; ReferenceOutputs orders them when set.
	Reference        string   `yaml:"reference"`
	ReferenceOutputs []string `yaml:"reference_outputs"`
	DropInputs       []string `yaml:"drop_inputs"`
}

type TokenizerConfig struct {
	Kind      string   `yaml:"kind"`
	Model     string   `yaml:"model"`
	Lowercase bool     `yaml:"lowercase"`
	IDs       []int64  `yaml:"ids"`
	ClsID     *int64   `yaml:"cls_id"`
	SepID     *int64   `yaml:"sep_id"`
	MaxLength int      `yaml:"max_length"`
	Features  []string `yaml:"features"`
}

// SuiteEntry is one allow-listed run in a catalog-defined suite.
type SuiteEntry struct {
	Model       string `yaml:"model"`
	PreOptimize bool   `yaml:"pre_optimize"`
}

// Catalog is a loaded catalog file. Relative paths resolve against the
// directory holding the file.
type Catalog struct {
	dir     string
	entries map[string]Entry
	order   []string
	suites  map[string][]SuiteEntry

	mu       sync.Mutex
	encoders map[string]tokenizer.Encoder
}

func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return New(filepath.Dir(path), f)
}

// New builds a Catalog from an already decoded file rooted at dir.
func New(dir string, f File) (*Catalog, error) {
	c := &Catalog{
		dir:      dir,
		entries:  make(map[string]Entry, len(f.Models)),
		suites:   f.Suites,
		encoders: map[string]tokenizer.Encoder{},
	}

	for i, e := range f.Models {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("catalog model #%d has no name", i)
		}
		if _, dup := c.entries[e.Name]; dup {
			return nil, fmt.Errorf("catalog model %q listed twice", e.Name)
		}
		if e.Backbone == "" {
			return nil, fmt.Errorf("catalog model %q has no backbone", e.Name)
		}

		c.entries[e.Name] = e
		c.order = append(c.order, e.Name)
	}

	return c, nil
}

// Names lists models in catalog order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.order)
}

func (c *Catalog) Entry(name string) (Entry, error) {
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return e, nil
}

// Suite returns a catalog-defined suite, if any.
func (c *Catalog) Suite(name string) ([]SuiteEntry, bool) {
	s, ok := c.suites[name]
	return slices.Clone(s), ok
}

// BackbonePath resolves the backbone graph for name. A missing file is
// reported with an error satisfying errors.Is(err, fs.ErrNotExist).
func (c *Catalog) BackbonePath(name string) (string, error) {
	e, err := c.Entry(name)
	if err != nil {
		return "", err
	}

	path := c.resolve(e.Backbone)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("backbone for %q: %w", name, err)
	}

	return path, nil
}

// Files returns the resolved backbone and sentencepiece model paths of name
// without checking that they exist. tokenizerModel is empty for fixed
// tokenizers.
func (c *Catalog) Files(name string) (backbone, tokenizerModel string, err error) {
	e, err := c.Entry(name)
	if err != nil {
		return "", "", err
	}

	if k := e.Tokenizer.Kind; k == "" || k == TokenizerSentencePiece {
		tokenizerModel = c.resolve(e.Tokenizer.Model)
	}

	return c.resolve(e.Backbone), tokenizerModel, nil
}

func (c *Catalog) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}
