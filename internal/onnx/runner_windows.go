//go:build windows

package onnx

import (
	"context"
	"fmt"
)

// RunnerConfig holds ORT library settings for creating runners.
// In windows builds, native ORT runner support is currently unavailable.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
	Quiet       bool
}

// Runner is unavailable in windows builds.
type Runner struct {
	name string
}

// NewRunner always returns an error in windows builds.
func NewRunner(name, _ string, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for graph %q", name)
}

func NewOpener(cfg RunnerConfig) Opener {
	return func(name, path string) (GraphRunner, error) {
		return NewRunner(name, path, cfg)
	}
}

// Run always returns an error in windows builds.
func (r *Runner) Run(_ context.Context, _ Values) (Values, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for graph %q", r.name)
}

// Close is a no-op in windows builds.
func (r *Runner) Close() {}

func (r *Runner) Name() string {
	return r.name
}

func (r *Runner) OutputNames() []string {
	return nil
}
