package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cabinetbench/internal/runner"
	"cabinetbench/internal/tui/components"
	"cabinetbench/internal/tui/styles"
)

type Model struct {
	Stats    runner.StatsSnapshot
	Progress progress.Model

	OpsLine     components.Sparkline
	LatencyLine components.Sparkline

	Mode    string
	Targets int

	LastElapsed time.Duration

	Width  int
	Height int
}

func NewModel(mode string, targets int) Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		OpsLine:     components.NewSparkline(40, "Throughput", "ops/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P99", "ms", styles.Warn),
		Mode:        mode,
		Targets:     targets,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		dt := (msg.Elapsed - m.LastElapsed).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}
		m.OpsLine.Add(float64(msg.Success-m.Stats.Success) / dt)
		m.LatencyLine.Add(msg.P99Ms)

		m.Stats = msg
		m.LastElapsed = msg.Elapsed

		pct := 1.0
		if msg.Total > 0 {
			pct = float64(msg.Done) / float64(msg.Total)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 6
		if half < 10 {
			half = 10
		}
		m.OpsLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) errRate() float64 {
	if m.Stats.Attempted == 0 {
		return 0
	}
	return float64(m.Stats.Fail) / float64(m.Stats.Attempted) * 100
}

func (m Model) View() string {
	s := strings.Builder{}

	leader := m.Stats.Leader
	if leader == "" {
		leader = "-"
	}
	col1 := fmt.Sprintf("MODE: %s (%d targets)\nLEADER: %s\nWORKERS: %d", m.Mode, m.Targets, leader, m.Stats.Active)
	col2 := fmt.Sprintf("DONE: %d/%d\nOK: %d\nSKIP: %d", m.Stats.Done, m.Stats.Total, m.Stats.Success, m.Stats.Skipped)

	errRate := m.errRate()
	errColor := styles.Active
	if errRate > 5.0 {
		errColor = styles.Error
	} else if errRate > 1.0 {
		errColor = styles.Warn
	}
	col3 := fmt.Sprintf("FAIL: %d\nERR: %s\nFAILOVER: %s",
		m.Stats.Fail,
		errColor.Render(fmt.Sprintf("%.2f%%", errRate)),
		styles.FailoverState(m.Stats.Failover),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.OpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"Mean: %.2f ms  |  P50: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms  |  Elapsed: %s",
		m.Stats.MeanMs, m.Stats.P50Ms, m.Stats.P99Ms, m.Stats.MaxMs,
		m.Stats.Elapsed.Round(100*time.Millisecond),
	)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	return s.String()
}
