package telemetry

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	consoleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	consoleBold   = lipgloss.NewStyle().Bold(true)
	consoleGood   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	consoleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	consolePhases = map[string]lipgloss.Style{
		"ramping":     lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"seeking":     lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		"backing_off": lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
	scenarioPalette = []lipgloss.Color{"6", "5", "2", "3", "4"}
)

// ConsoleWriter prints human readable rows with one color per scenario.
type ConsoleWriter struct {
	out    io.Writer
	mu     sync.Mutex
	colors map[string]lipgloss.Style
}

// NewConsoleWriter creates a ConsoleWriter writing to os.Stdout.
func NewConsoleWriter() *ConsoleWriter {
	return newConsoleWriter(os.Stdout)
}

func newConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out, colors: make(map[string]lipgloss.Style)}
}

func (w *ConsoleWriter) scenarioStyle(name string) lipgloss.Style {
	st, ok := w.colors[name]
	if !ok {
		st = lipgloss.NewStyle().Foreground(scenarioPalette[len(w.colors)%len(scenarioPalette)])
		w.colors[name] = st
	}
	return st
}

func formatFloat(v float64) string {
	if v < 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteSample prints one sample line.
func (w *ConsoleWriter) WriteSample(r SampleRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	phase := r.Phase
	if st, ok := consolePhases[phase]; ok {
		phase = st.Render(phase)
	}
	_, err := fmt.Fprintf(w.out, "%s %s tick=%d tps=%s mspt=%s units=%d/%d %s\n",
		consoleDim.Render(r.Timestamp.Format("15:04:05.000")),
		w.scenarioStyle(r.Scenario).Render(r.Scenario),
		r.RunTick, formatFloat(r.TPS), formatFloat(r.AvgMSPT), r.Count, r.Target, phase)
	return err
}

// WriteSamples prints multiple sample lines.
func (w *ConsoleWriter) WriteSamples(rows []SampleRow) error {
	for _, r := range rows {
		if err := w.WriteSample(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary prints a highlighted run result.
func (w *ConsoleWriter) WriteSummary(r SummaryRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	verdict := consoleGood.Render("valid")
	if !r.Valid {
		verdict = consoleBad.Render("invalid")
	}
	_, err := fmt.Fprintf(w.out, "%s %s %s peak_sustained=%d peak=%d min_tps=%s avg_tps=%s backoffs=%d (%s)\n",
		consoleBold.Render("run finished"),
		w.scenarioStyle(r.Scenario).Render(r.Scenario),
		verdict, r.PeakSustainedCount, r.PeakCount,
		formatFloat(r.MinTPS), formatFloat(r.AvgTPS), r.Backoffs, r.StopReason)
	return err
}
