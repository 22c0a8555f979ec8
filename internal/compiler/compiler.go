// Package compiler drives the external AOT compiler that turns a backbone
// ONNX graph into an optimized graph plus a shared library of fused kernels.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Request names the artifacts of one compilation.
type Request struct {
	Source      string
	Dest        string
	Lib         string
	Target      string
	PreOptimize bool
}

// Result carries the compiler's fused-node count. The value is opaque to the
// harness and reported unchanged.
type Result struct {
	FusedNodes int
}

// Invoker compiles a source graph into an optimized artifact.
type Invoker interface {
	Compile(ctx context.Context, req Request) (Result, error)
}

// Command runs the compiler executable:
//
//	<Path> compile --source S --dest D --lib L --target T [--pre-optimize]
//
// The last non-empty stdout line must be {"fused_nodes": N} or a bare integer.
type Command struct {
	Path   string
	Stderr io.Writer
	Logger *slog.Logger
}

func (c *Command) Compile(ctx context.Context, req Request) (Result, error) {
	if c.Path == "" {
		return Result{}, errors.New("compiler path is required")
	}
	if req.Source == "" || req.Dest == "" || req.Lib == "" {
		return Result{}, errors.New("compile request needs source, dest and lib paths")
	}

	args := []string{
		"compile",
		"--source", req.Source,
		"--dest", req.Dest,
		"--lib", req.Lib,
		"--target", req.Target,
	}
	if req.PreOptimize {
		args = append(args, "--pre-optimize")
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("invoking compiler", "path", c.Path, "args", args)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("run compiler %s: %w", c.Path, err)
	}

	n, err := parseFusedNodes(stdout.String())
	if err != nil {
		return Result{}, fmt.Errorf("compiler output: %w", err)
	}

	return Result{FusedNodes: n}, nil
}

func parseFusedNodes(out string) (int, error) {
	line := lastLine(out)
	if line == "" {
		return 0, errors.New("no fused node count reported")
	}

	if n, err := strconv.Atoi(line); err == nil {
		return n, nil
	}

	var payload struct {
		FusedNodes *int `json:"fused_nodes"`
	}
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return 0, fmt.Errorf("parse %q: %w", line, err)
	}
	if payload.FusedNodes == nil {
		return 0, fmt.Errorf("missing fused_nodes in %q", line)
	}

	return *payload.FusedNodes, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
