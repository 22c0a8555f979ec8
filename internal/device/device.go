// Package device delegates verification and timing to a mobile device
// through an external bench runner.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strings"
)

// Request identifies the artifacts and device for one remote benchmark.
type Request struct {
	Optimized string
	Baseline  string
	Model     string
	Device    string
	Lib       string
}

// Benchmarker returns [baseline, optimized] per-iteration milliseconds.
type Benchmarker interface {
	Benchmark(ctx context.Context, req Request) ([]float64, error)
}

// Command runs the device bench runner:
//
//	<Path> bench --optimized O --baseline B --model M --device D --lib L
//
// The last non-empty stdout line must be
// {"baseline_ms": x, "optimized_ms": y}.
type Command struct {
	Path   string
	Stderr io.Writer
	Logger *slog.Logger
}

func (c *Command) Benchmark(ctx context.Context, req Request) ([]float64, error) {
	if c.Path == "" {
		return nil, errors.New("device runner path is required")
	}

	args := []string{
		"bench",
		"--optimized", req.Optimized,
		"--baseline", req.Baseline,
		"--model", req.Model,
		"--device", req.Device,
		"--lib", req.Lib,
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("invoking device runner", "path", c.Path, "device", req.Device, "model", req.Model)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run device runner on %s: %w", req.Device, err)
	}

	costs, err := parseCosts(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("device runner output: %w", err)
	}

	return costs, nil
}

func parseCosts(out string) ([]float64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	line := strings.TrimSpace(lines[len(lines)-1])
	if line == "" {
		return nil, errors.New("no timings reported")
	}

	var payload struct {
		BaselineMS  *float64 `json:"baseline_ms"`
		OptimizedMS *float64 `json:"optimized_ms"`
	}
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return nil, fmt.Errorf("parse %q: %w", line, err)
	}
	if payload.BaselineMS == nil || payload.OptimizedMS == nil {
		return nil, fmt.Errorf("missing baseline_ms or optimized_ms in %q", line)
	}

	costs := []float64{*payload.BaselineMS, *payload.OptimizedMS}
	for _, v := range costs {
		if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("invalid timing %v in %q", v, line)
		}
	}

	return costs, nil
}
