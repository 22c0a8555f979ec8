package harness

import "github.com/example/go-aotbench/internal/catalog"

// Suite names accepted by SuiteFor and the catalog's suites section.
const (
	SuiteNative = "native"
	SuiteMobile = "mobile"
)

// NativeSuite is the allow-list benchmarked on the host. Entries are toggled
// by commenting them in or out.
var NativeSuite = []RunSpec{
	// {Model: "gpt2_dg", PreOptimize: true},
	// {Model: "nghuyong/ernie-1.0-base-zh"},
	// {Model: "valhalla/bart-large-sst2"},
	{Model: "squeezebert/squeezebert-uncased"},
	{Model: "gpt2"},
	// {Model: "gpt2", PreOptimize: true},
	{Model: "bert-base-uncased"},
	// {Model: "bert-base-uncased", PreOptimize: true},
	// {Model: "microsoft/deberta-base"},
	{Model: "microsoft/deberta-base", PreOptimize: true},
	// {Model: "google/mobilebert-uncased"},
	{Model: "google/mobilebert-uncased", PreOptimize: true},
	// {Model: "csarron/mobilebert-uncased-squad-v2"},
	{Model: "csarron/mobilebert-uncased-squad-v2", PreOptimize: true},
	// {Model: "lordtt13/emo-mobilebert"},
	{Model: "lordtt13/emo-mobilebert", PreOptimize: true},
	// {Model: "xlm-roberta-base"},
	// {Model: "xlm-roberta-base", PreOptimize: true},
	// {Model: "distilbert-base-uncased", PreOptimize: true},
}

// MobileSuite is the allow-list benchmarked on an attached device.
var MobileSuite = []RunSpec{
	// {Model: "gpt2_dg", PreOptimize: true},
	// {Model: "nghuyong/ernie-1.0-base-zh"},
	// {Model: "valhalla/bart-large-sst2"},
	{Model: "squeezebert/squeezebert-uncased"},
	{Model: "gpt2"},
	// {Model: "gpt2", PreOptimize: true},
	// {Model: "bert-base-uncased"},
	// {Model: "bert-base-uncased", PreOptimize: true},
	// {Model: "microsoft/deberta-base"},
	// {Model: "microsoft/deberta-base", PreOptimize: true},
	// {Model: "google/mobilebert-uncased"},
	{Model: "google/mobilebert-uncased", PreOptimize: true},
	// {Model: "csarron/mobilebert-uncased-squad-v2"},
	{Model: "csarron/mobilebert-uncased-squad-v2", PreOptimize: true},
	// {Model: "lordtt13/emo-mobilebert"},
	{Model: "lordtt13/emo-mobilebert", PreOptimize: true},
	// {Model: "xlm-roberta-base"},
	// {Model: "xlm-roberta-base", PreOptimize: true},
	{Model: "distilbert-base-uncased", PreOptimize: true},
}

// SuiteOverride is a catalog able to redefine a suite.
type SuiteOverride interface {
	SuiteSpecs(name string) ([]RunSpec, bool)
}

// SuiteFor returns the catalog's definition of a suite when present and the
// built-in allow-list otherwise.
func SuiteFor(name string, override SuiteOverride) []RunSpec {
	if override != nil {
		if specs, ok := override.SuiteSpecs(name); ok {
			return specs
		}
	}

	var builtin []RunSpec
	switch name {
	case SuiteNative:
		builtin = NativeSuite
	case SuiteMobile:
		builtin = MobileSuite
	}
	return append([]RunSpec(nil), builtin...)
}

// CatalogSuites exposes a catalog's suites section as a SuiteOverride.
func CatalogSuites(c *catalog.Catalog) SuiteOverride {
	return catalogSuites{c}
}

type catalogSuites struct {
	c *catalog.Catalog
}

func (s catalogSuites) SuiteSpecs(name string) ([]RunSpec, bool) {
	entries, ok := s.c.Suite(name)
	if !ok {
		return nil, false
	}

	specs := make([]RunSpec, len(entries))
	for i, e := range entries {
		specs[i] = RunSpec{Model: e.Model, PreOptimize: e.PreOptimize}
	}
	return specs, true
}
