// Package report accumulates per-model benchmark records and renders them as
// comparison tables.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Headers are the comparison table columns.
var Headers = []string{"model_type", "fused_nodes", "ort_time", "aot_time", "speedup"}

// Record is the outcome of one completed model run. Costs are per-iteration
// milliseconds.
type Record struct {
	ModelName   string
	BaselineMS  float64
	OptimizedMS float64
	FusedNodes  int
}

func (r Record) Speedup() float64 {
	return r.BaselineMS / r.OptimizedMS
}

// Row formats the record as a table row.
func (r Record) Row() []string {
	return []string{
		r.ModelName,
		strconv.Itoa(r.FusedNodes),
		fmt.Sprintf("%.2f", r.BaselineMS),
		fmt.Sprintf("%.2f", r.OptimizedMS),
		fmt.Sprintf("%.2fx", r.Speedup()),
	}
}

// Aggregator collects records in insertion order. One aggregator covers one
// suite; share the pointer to record from several call sites.
type Aggregator struct {
	mu      sync.Mutex
	records []Record
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Record(r Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = append(a.records, r)
}

// All returns a copy of the records.
func (a *Aggregator) All() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]Record(nil), a.records...)
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.records)
}

func (a *Aggregator) Rows() [][]string {
	records := a.All()
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	return rows
}

// RenderGrid writes an ASCII grid table with a separator between rows.
func (a *Aggregator) RenderGrid(w io.Writer) error {
	t := a.table().
		Border(lipgloss.ASCIIBorder()).
		BorderRow(true)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// RenderPipe writes a markdown pipe table.
func (a *Aggregator) RenderPipe(w io.Writer) error {
	t := a.table().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// WriteResults replaces the file at path with the pipe table.
func (a *Aggregator) WriteResults(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}

	if err := a.RenderPipe(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write results file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close results file: %w", err)
	}

	return nil
}

func (a *Aggregator) table() *table.Table {
	cell := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Headers(Headers...).
		Rows(a.Rows()...).
		StyleFunc(func(_, _ int) lipgloss.Style { return cell })
}
