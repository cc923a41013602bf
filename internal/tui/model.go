package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"tickstress/internal/harness"
	"tickstress/internal/report"
)

const maxLogLines = 500

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// logMsg appends a line to the event log.
type logMsg struct{ line string }

// statusMsg carries a fresh harness snapshot.
type statusMsg struct {
	status harness.Status
	runs   []report.Summary
}

type tickMsg time.Time

type model struct {
	source    Source
	commands  Commander
	scenarios []string
	interval  time.Duration

	status harness.Status
	runs   []report.Summary

	bar   progress.Model
	table table.Model
	vp    viewport.Model
	logs  []string

	width      int
	height     int
	wrap       bool
	autoscroll bool
	help       bool
}

func newModel(src Source, cmds Commander, scenarios []string, interval time.Duration) model {
	cols := []table.Column{
		{Title: "Scenario", Width: 14},
		{Title: "Reason", Width: 14},
		{Title: "Peak", Width: 6},
		{Title: "Sustained", Width: 9},
		{Title: "Min TPS", Width: 7},
		{Title: "Backoffs", Width: 8},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(4))
	return model{
		source:     src,
		commands:   cmds,
		scenarios:  scenarios,
		interval:   interval,
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
	}
}

func (m model) poll() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd { return m.poll() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, msg.Width-20)
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.updateViewportHeight()
		m.refreshViewport()
	case tickMsg:
		if m.source != nil {
			m = m.withStatus(m.source.Status(), m.source.History())
		}
		return m, m.poll()
	case statusMsg:
		m = m.withStatus(msg.status, msg.runs)
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			m.help = false
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "h", "?":
			m.help = true
		case "x":
			m.stop()
		case "up", "k":
			m.vp.LineUp(1)
		case "down", "j":
			m.vp.LineDown(1)
		default:
			if n := digit(msg.String()); n > 0 && n <= len(m.scenarios) {
				m.start(m.scenarios[n-1])
			}
		}
	}
	return m, nil
}

func digit(s string) int {
	if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
		return int(s[0] - '0')
	}
	return 0
}

func (m *model) start(name string) {
	if m.commands == nil {
		return
	}
	if _, err := m.commands.RequestStart(name, nil); err != nil {
		m.appendLog(badStyle.Render(fmt.Sprintf("start %s: %v", name, err)))
		return
	}
	m.appendLog(labelStyle.Render("start requested: " + name))
}

func (m *model) stop() {
	if m.commands == nil {
		return
	}
	if _, err := m.commands.RequestStop(); err != nil {
		m.appendLog(badStyle.Render(fmt.Sprintf("stop: %v", err)))
		return
	}
	m.appendLog(labelStyle.Render("stop requested"))
}

func (m *model) appendLog(line string) {
	m.logs = append(m.logs, line)
	m.refreshViewport()
}

func (m model) withStatus(st harness.Status, runs []report.Summary) model {
	m.status = st
	if runsChanged(m.runs, runs) {
		m.runs = runs
		rows := make([]table.Row, 0, len(runs))
		for i := len(runs) - 1; i >= 0; i-- {
			r := runs[i]
			rows = append(rows, table.Row{
				r.Scenario,
				r.StopReason,
				fmt.Sprint(r.PeakCount),
				fmt.Sprint(r.PeakSustainedCount),
				formatTPS(r.MinTPS),
				fmt.Sprint(r.Backoffs),
			})
		}
		m.table.SetRows(rows)
	}
	return m
}

func runsChanged(old, cur []report.Summary) bool {
	if len(old) != len(cur) {
		return true
	}
	return len(cur) > 0 && old[len(old)-1].ID != cur[len(cur)-1].ID
}

func formatTPS(v float64) string {
	if v < 0 || math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func (m *model) updateViewportHeight() {
	// header, signal, progress, dividers, table, bottom
	used := 6 + lipgloss.Height(m.table.View())
	m.vp.Height = max(1, m.height-used)
}

func (m *model) refreshViewport() {
	lines := m.logs
	if m.wrap && m.vp.Width > 0 {
		lines = make([]string, len(m.logs))
		for i, l := range m.logs {
			lines[i] = wordwrap.String(l, m.vp.Width)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m model) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := labelStyle.Render(strings.Repeat("─", max(m.width, 1)))
	sections := []string{
		m.renderHeader(),
		m.renderSignal(),
		m.renderProgress(),
		divider,
		m.vp.View(),
		divider,
		m.table.View(),
		m.renderBottom(),
	}
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	st := m.status
	state := st.State.String()
	switch st.State {
	case harness.Running:
		state = okStyle.Render(state)
	case harness.Starting, harness.Stopping:
		state = warnStyle.Render(state)
	default:
		state = labelStyle.Render(state)
	}
	head := fmt.Sprintf("%s  %s", titleStyle.Render("tickstress"), state)
	if st.Running {
		head += fmt.Sprintf("  %s %s  %s %s  %s %s",
			labelStyle.Render("scenario"), st.Scenario,
			labelStyle.Render("kind"), st.Kind,
			labelStyle.Render("phase"), st.Phase)
	}
	return head
}

func (m model) renderSignal() string {
	st := m.status
	tps := "-"
	mspt := "-"
	if st.Signal.Valid {
		style := okStyle
		if st.Running && st.Signal.TPS < st.Floor {
			style = badStyle
		}
		tps = style.Render(fmt.Sprintf("%.2f", st.Signal.TPS))
		mspt = fmt.Sprintf("%.1f", st.Signal.MSPT)
	}
	return fmt.Sprintf("%s %s  %s %s  %s %d/%d  %s %d  %s %d",
		labelStyle.Render("tps"), tps,
		labelStyle.Render("mspt"), mspt,
		labelStyle.Render("units"), st.UnitCount, st.TargetCount,
		labelStyle.Render("backoffs"), st.Backoffs,
		labelStyle.Render("tick"), st.Tick)
}

func (m model) renderProgress() string {
	if !m.status.Running {
		return labelStyle.Render("idle")
	}
	return fmt.Sprintf("%s %3.0f%%", m.bar.ViewAs(m.status.Progress), m.status.Progress*100)
}

func indicator(on bool) string {
	if on {
		return okStyle.Render("●")
	}
	return badStyle.Render("●")
}

func (m model) renderBottom() string {
	var keys []string
	for i, n := range m.scenarios {
		if i >= 9 {
			break
		}
		keys = append(keys, fmt.Sprintf("%d:%s", i+1, n))
	}
	return fmt.Sprintf("Wrap %s | Scroll %s | x stop | %s | q quit",
		indicator(m.wrap), indicator(m.autoscroll), strings.Join(keys, " "))
}

func (m model) renderHelp() string {
	lines := []string{
		titleStyle.Render("Keys"),
		"1-9    start the numbered scenario",
		"x      stop the running scenario",
		"w      toggle line wrapping",
		"s      toggle autoscroll",
		"↑/↓    scroll the event log",
		"q      quit",
		"",
		labelStyle.Render("press any key to return"),
	}
	return strings.Join(lines, "\n")
}
