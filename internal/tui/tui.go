// Package tui renders a live terminal dashboard of the running scenario.
package tui

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"tickstress/internal/controller"
	"tickstress/internal/harness"
	"tickstress/internal/report"
	"tickstress/internal/scenario"
)

// Source supplies snapshots to the dashboard.
type Source interface {
	Status() harness.Status
	History() []report.Summary
}

// Commander lets the dashboard queue start and stop requests.
type Commander interface {
	RequestStart(name string, o *scenario.Overrides) (<-chan harness.StartResult, error)
	RequestStop() (<-chan harness.StopResult, error)
}

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
	Run() (tea.Model, error)
	Quit()
}

// Dashboard is a harness observer that feeds a bubbletea program. Observe
// calls come from the tick thread and never block.
type Dashboard struct {
	program   teaProgram
	events    chan tea.Msg
	lastPhase controller.Phase
	dropped   atomic.Uint64
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// New builds a dashboard polling src every interval. scenarios are bound to
// the number keys in order.
func New(src Source, cmds Commander, scenarios []string, interval time.Duration) *Dashboard {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	m := newModel(src, cmds, scenarios, interval)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		next, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
		m = next.(model)
	}
	return &Dashboard{
		program: tea.NewProgram(m, tea.WithAltScreen()),
		events:  make(chan tea.Msg, 256),
	}
}

// Run drives the program until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case msg := <-d.events:
				d.program.Send(msg)
			}
		}
	}()
	go func() {
		<-pumpCtx.Done()
		d.program.Quit()
	}()
	_, err := d.program.Run()
	return err
}

func (d *Dashboard) post(msg tea.Msg) {
	select {
	case d.events <- msg:
	default:
		d.dropped.Add(1)
	}
}

// ObserveSample logs controller phase changes.
func (d *Dashboard) ObserveSample(s report.Sample) {
	if s.Phase == d.lastPhase {
		return
	}
	style := labelStyle
	switch s.Phase {
	case controller.BackingOff:
		style = badStyle
	case controller.Seeking:
		style = warnStyle
	case controller.Ramping:
		style = okStyle
	}
	d.post(logMsg{line: fmt.Sprintf("%s tick %d %s → %s target=%d units=%d tps=%s",
		labelStyle.Render(s.At.Format(time.TimeOnly)), s.RunTick, d.lastPhase,
		style.Render(s.Phase.String()), s.Target, s.Count, formatTPS(s.Signal.TPS))})
	d.lastPhase = s.Phase
}

// ObserveSummary logs the end of a run.
func (d *Dashboard) ObserveSummary(s report.Summary) {
	d.lastPhase = controller.Idle
	d.post(logMsg{line: fmt.Sprintf("%s %s finished (%s): peak=%d sustained=%d min_tps=%s backoffs=%d",
		labelStyle.Render(s.EndedAt.Format(time.TimeOnly)), titleStyle.Render(s.Scenario), s.StopReason,
		s.PeakCount, s.PeakSustainedCount, formatTPS(s.MinTPS), s.Backoffs)})
}
