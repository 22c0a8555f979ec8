// Package bench times a baseline graph against its optimized counterpart on
// the same model inputs.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/go-aotbench/internal/onnx"
)

// DebugSuffix marks debug variants of a catalog model that share its inputs.
const DebugSuffix = "_dg"

// Options control the warmup and timed phases.
type Options struct {
	Warmup int
	Repeat int
}

func DefaultOptions() Options {
	return Options{Warmup: 10, Repeat: 100}
}

// InputProvider derives a fresh input batch for a model.
type InputProvider interface {
	Inputs(ctx context.Context, name string) (onnx.Values, error)
}

type Benchmarker struct {
	inputs InputProvider
	open   onnx.Opener
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Benchmarker. open should create runners with engine logging
// suppressed.
func New(inputs InputProvider, open onnx.Opener, opts Options, logger *slog.Logger) *Benchmarker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Benchmarker{
		inputs: inputs,
		open:   open,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Benchmark returns the mean per-iteration cost in milliseconds of the
// baseline and optimized graphs, in that order.
func (b *Benchmarker) Benchmark(ctx context.Context, optimizedPath, baselinePath, modelName string) ([]float64, error) {
	if b.opts.Repeat <= 0 {
		return nil, fmt.Errorf("repeat must be positive, got %d", b.opts.Repeat)
	}

	modelName = StripDebugSuffix(modelName)

	inputs, err := b.inputs.Inputs(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("inputs for %q: %w", modelName, err)
	}

	baseline, err := b.open("baseline", baselinePath)
	if err != nil {
		return nil, fmt.Errorf("open baseline graph: %w", err)
	}
	defer baseline.Close()

	optimized, err := b.open("optimized", optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("open optimized graph: %w", err)
	}
	defer optimized.Close()

	acc := &Accumulator{now: b.now}
	for _, r := range []onnx.GraphRunner{baseline, optimized} {
		if err := b.measure(ctx, r, inputs, acc); err != nil {
			return nil, err
		}
	}

	costs := acc.Costs()
	if err := validate(costs); err != nil {
		return nil, err
	}

	b.logger.Debug(CostChange(costs), "model", modelName)

	return costs, nil
}

func (b *Benchmarker) measure(ctx context.Context, r onnx.GraphRunner, inputs onnx.Values, acc *Accumulator) error {
	for range b.opts.Warmup {
		if _, err := r.Run(ctx, inputs); err != nil {
			return fmt.Errorf("warmup %s: %w", r.Name(), err)
		}
	}

	timer := acc.Start(b.opts.Repeat)
	defer timer.Stop()

	for range b.opts.Repeat {
		if _, err := r.Run(ctx, inputs); err != nil {
			return fmt.Errorf("timed run %s: %w", r.Name(), err)
		}
	}

	return nil
}

// StripDebugSuffix drops a trailing DebugSuffix from a model name.
func StripDebugSuffix(name string) string {
	return strings.TrimSuffix(name, DebugSuffix)
}

// Speedup is baseline cost over optimized cost; values above 1 mean the
// optimized graph is faster. It returns 0 for malformed cost lists.
func Speedup(costs []float64) float64 {
	if len(costs) < 2 || costs[1] <= 0 {
		return 0
	}
	return costs[0] / costs[1]
}

// CostChange renders the baseline to optimized transition of a cost list.
func CostChange(costs []float64) string {
	if len(costs) < 2 {
		return "time-cost changes unavailable"
	}
	return fmt.Sprintf("time-cost changes from %.6gms to %.6gms, speedup: %.2fx", costs[0], costs[1], Speedup(costs))
}

func validate(costs []float64) error {
	if len(costs) != 2 {
		return fmt.Errorf("expected 2 costs, got %d", len(costs))
	}
	for i, c := range costs {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("cost[%d] = %v is not a positive finite duration", i, c)
		}
	}
	return nil
}

// Accumulator collects per-graph costs in milliseconds.
type Accumulator struct {
	costs []float64
	now   func() time.Time
}

func (a *Accumulator) Costs() []float64 {
	return append([]float64(nil), a.costs...)
}

// Start begins a scoped measurement of n iterations. Stop must be called
// exactly once, typically deferred.
func (a *Accumulator) Start(n int) *CostTimer {
	now := a.now
	if now == nil {
		now = time.Now
	}
	return &CostTimer{acc: a, n: n, now: now, start: now()}
}

// CostTimer appends the mean per-iteration time to its Accumulator on Stop.
type CostTimer struct {
	acc     *Accumulator
	n       int
	now     func() time.Time
	start   time.Time
	stopped bool
}

func (t *CostTimer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true

	elapsed := t.now().Sub(t.start)
	ms := float64(elapsed) / float64(time.Millisecond)
	if t.n > 0 {
		ms /= float64(t.n)
	}
	t.acc.costs = append(t.acc.costs, ms)
}
