package verify

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/go-aotbench/internal/onnx"
)

var (
	// ErrNoMatch means no optimized output corresponds to a reference output.
	ErrNoMatch = errors.New("no matching optimized output")
	// ErrAmbiguousMatch means several optimized outputs contain the reference
	// name and no exact or explicit mapping picks one.
	ErrAmbiguousMatch = errors.New("ambiguous optimized output match")
)

// summarizeThreshold and edgeItems mirror numpy's array printing.
const (
	summarizeThreshold = 1000
	edgeItems          = 3
)

// Align returns the index in candidates of the optimized output that
// corresponds to the reference output refName. Resolution order: explicit
// mapping, exact name, then the unique candidate containing refName.
func Align(refName string, candidates []string, explicit map[string]string) (int, error) {
	if target, ok := explicit[refName]; ok {
		for i, c := range candidates {
			if c == target {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%w: %q is mapped to %q, which the optimized graph does not produce", ErrNoMatch, refName, target)
	}

	for i, c := range candidates {
		if c == refName {
			return i, nil
		}
	}

	var hits []int
	for i, c := range candidates {
		if strings.Contains(c, refName) {
			hits = append(hits, i)
		}
	}

	switch len(hits) {
	case 0:
		return -1, fmt.Errorf("%w for %q among %v", ErrNoMatch, refName, candidates)
	case 1:
		return hits[0], nil
	default:
		names := make([]string, len(hits))
		for i, h := range hits {
			names[i] = candidates[h]
		}
		return -1, fmt.Errorf("%w for %q: %v", ErrAmbiguousMatch, refName, names)
	}
}

// MismatchError reports an output that is not close to its reference.
type MismatchError struct {
	Output   string
	Shape    []int64
	Expected []float64
	Actual   []float64
	Diff     []float64
	// Outside counts elements failing the tolerance.
	Outside int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf(
		"results do not match for %q (%d of %d elements outside tolerance), expected: %s, but got %s, diff: %s",
		e.Output,
		e.Outside,
		len(e.Expected),
		formatArray(e.Expected),
		formatArray(e.Actual),
		formatArray(e.Diff),
	)
}

// AllClose checks |actual-expected| <= atol + rtol*|expected| element-wise.
// Shapes must match exactly. NaN is never close; equal infinities are.
func AllClose(name string, expected, actual *onnx.Tensor, atol, rtol float64) error {
	if expected == nil || actual == nil {
		return fmt.Errorf("output %q: missing tensor", name)
	}
	if !expected.SameShape(actual) {
		return fmt.Errorf("output %q: shape %v does not match reference shape %v", name, actual.Shape(), expected.Shape())
	}

	want := expected.Float64s()
	got := actual.Float64s()
	diff := make([]float64, len(want))

	outside := 0
	for i := range want {
		diff[i] = got[i] - want[i]
		if !isClose(got[i], want[i], atol, rtol) {
			outside++
		}
	}

	if outside == 0 {
		return nil
	}

	return &MismatchError{
		Output:   name,
		Shape:    expected.Shape(),
		Expected: want,
		Actual:   got,
		Diff:     diff,
		Outside:  outside,
	}
}

func isClose(a, e, atol, rtol float64) bool {
	if a == e {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(e, 0) {
		return false
	}
	return math.Abs(a-e) <= atol+rtol*math.Abs(e)
}

// MaxAbs returns the largest absolute element of xs, ignoring NaN.
func MaxAbs(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

func formatArray(xs []float64) string {
	items := xs
	summarized := len(xs) > summarizeThreshold
	if summarized {
		items = append(append([]float64(nil), xs[:edgeItems]...), xs[len(xs)-edgeItems:]...)
	}

	parts := make([]string, 0, len(items)+1)
	for i, x := range items {
		if summarized && i == edgeItems {
			parts = append(parts, "...")
		}
		parts = append(parts, strconv.FormatFloat(x, 'g', 6, 64))
	}

	return "[" + strings.Join(parts, " ") + "]"
}
