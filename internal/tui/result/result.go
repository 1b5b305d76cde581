package result

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"cabinetbench/internal/stats"
	"cabinetbench/internal/tui/styles"
)

type Model struct {
	Report stats.Report
	Err    error
	Saved  []string

	Width  int
	Height int
}

func NewModel(rep stats.Report) Model {
	return Model{Report: rep}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	r := m.Report

	s.WriteString(styles.Title.Render("📊 Benchmark Complete"))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Overview"))
	s.WriteString("\n")
	overview := fmt.Sprintf(
		"Mode:       %s\nSuccess:    %d/%d\nFailed:     %d\nSkipped:    %d\nDuration:   %.2fs\nThroughput: %.2f ops/sec",
		r.Mode, r.TotalSuccess, r.TotalOps, r.Failed, r.Skipped, r.DurationSec, r.Throughput,
	)
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Latency (successful writes)"))
	s.WriteString("\n")
	latency := fmt.Sprintf("Avg: %.2f ms\nP95: %.2f ms\nP99: %.2f ms", r.AvgLatencyMs, r.P95LatencyMs, r.P99LatencyMs)
	s.WriteString(styles.Box.Render(latency))

	if fo := r.Failover; fo != nil {
		s.WriteString("\n\n")
		s.WriteString(styles.Active.Render("Failover"))
		s.WriteString("\n")
		var outcome string
		if fo.TimedOut {
			outcome = styles.Error.Render(fmt.Sprintf("no new leader within %.1fs", fo.ReelectionSec))
		} else {
			outcome = styles.Success.Render(fmt.Sprintf("%s elected in %.2fs", fo.NewLeader, fo.ReelectionSec))
		}
		s.WriteString(styles.Box.Render(fmt.Sprintf("Killed: %s (%s)\n%s", fo.OldLeader, fo.Identity, outcome)))
	}

	if m.Err != nil {
		s.WriteString("\n\n")
		s.WriteString(styles.Warn.Render("⚠️  " + m.Err.Error()))
	}
	for _, p := range m.Saved {
		s.WriteString("\n")
		s.WriteString(styles.Subtle.Render("💾 " + p))
	}

	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "quit"))
	return s.String()
}
