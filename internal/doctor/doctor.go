// Package doctor provides environment preflight checks for aotbench.
package doctor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/example/go-aotbench/internal/onnx"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

var (
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
)

// RuntimeFunc locates the ONNX Runtime shared library.
type RuntimeFunc func() (onnx.RuntimeInfo, error)

// Tool is an external executable the harness shells out to.
type Tool struct {
	// Label names the tool in the output, e.g. "compiler".
	Label string
	// Path is a name resolved on PATH or an explicit path.
	Path string
}

// Artifact is a model file expected on disk.
type Artifact struct {
	Model string
	Path  string
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	Runtime RuntimeFunc
	// SkipRuntime skips the ONNX Runtime check (mobile-only runs).
	SkipRuntime bool
	// APIVersion is the ORT C API level the runner requests; the detected
	// library must be at least 1.<APIVersion>.
	APIVersion uint32
	Tools      []Tool
	// LookPath defaults to exec.LookPath.
	LookPath  func(string) (string, error)
	Backbones []Artifact
	// TokenizerModels are sentencepiece model files referenced by the catalog.
	TokenizerModels []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

func pass(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", passColor.Sprint(PassMark), fmt.Sprintf(format, args...))
}

func failf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", failColor.Sprint(FailMark), fmt.Sprintf(format, args...))
}

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime -----------------------------------------------------
	switch {
	case cfg.SkipRuntime:
		pass(w, "onnx runtime: skipped")
	case cfg.Runtime == nil:
		res.fail("onnx runtime: no detector configured")
		failf(w, "onnx runtime: no detector configured")
	default:
		info, err := cfg.Runtime()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			failf(w, "onnx runtime: not found (%v)", err)
		} else if verErr := checkRuntimeVersion(info.Version, cfg.APIVersion); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime version: %v", verErr))
			failf(w, "onnx runtime %s (%s): %v", info.Version, info.LibraryPath, verErr)
		} else {
			pass(w, "onnx runtime: %s (%s)", info.Version, info.LibraryPath)
		}
	}

	// ---- external tools ---------------------------------------------------
	lookPath := cfg.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, tool := range cfg.Tools {
		resolved, err := lookPath(tool.Path)
		if err != nil {
			res.fail(fmt.Sprintf("%s executable %q: %v", tool.Label, tool.Path, err))
			failf(w, "%s executable %s: not found", tool.Label, tool.Path)
			continue
		}
		pass(w, "%s executable: %s", tool.Label, resolved)
	}

	// ---- model files ------------------------------------------------------
	for _, a := range cfg.Backbones {
		if _, err := os.Stat(a.Path); err != nil {
			res.fail(fmt.Sprintf("backbone %s %q: %v", a.Model, a.Path, err))
			failf(w, "backbone %s: not found at %s", a.Model, a.Path)
		} else {
			pass(w, "backbone %s: %s", a.Model, a.Path)
		}
	}

	for _, path := range cfg.TokenizerModels {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("tokenizer model %q: %v", path, err))
			failf(w, "tokenizer model %s: not found", path)
		} else {
			pass(w, "tokenizer model: %s", path)
		}
	}

	return res
}

// checkRuntimeVersion returns an error if ver cannot serve C API level api.
// An unknown version is accepted; the runner reports the mismatch on load.
func checkRuntimeVersion(ver string, api uint32) error {
	if ver == "" || ver == "unknown" || api == 0 {
		return nil
	}

	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < int(api) {
		return fmt.Errorf("requires ONNX Runtime >=1.%d for API %d, got 1.%d", api, api, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
