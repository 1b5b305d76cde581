package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"cabinetbench/internal/banner"
	"cabinetbench/internal/runner"
	"cabinetbench/internal/tui/live"
	"cabinetbench/internal/tui/result"
	"cabinetbench/internal/tui/styles"
)

type runDoneMsg struct {
	res *runner.Result
	err error
}

type Model struct {
	Runner *runner.Runner
	Live   live.Model
	Result result.Model

	// OnDone runs once the benchmark returns a result and reports the
	// files it wrote.
	OnDone func(*runner.Result) []string

	Done        bool
	Interrupted bool
	Res         *runner.Result
	Err         error

	ctx    context.Context
	cancel context.CancelFunc
	Width  int
	Height int
}

func NewModel(ctx context.Context, cancel context.CancelFunc, r *runner.Runner) Model {
	return Model{
		Runner: r,
		Live:   live.NewModel(string(r.Cfg.Mode), len(r.Cfg.Targets)),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(startRun(m.ctx, m.Runner), waitForUpdate(m.Runner.Updates))
}

func startRun(ctx context.Context, r *runner.Runner) tea.Cmd {
	return func() tea.Msg {
		res, err := r.Run(ctx)
		return runDoneMsg{res: res, err: err}
	}
}

func waitForUpdate(sub runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.Done {
				return m, tea.Quit
			}
			// Stop the workers; the partial result arrives as runDoneMsg.
			m.Interrupted = true
			m.cancel()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		m.Result, _ = m.Result.Update(msg)
		return m, cmd

	case runner.StatsSnapshot:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		if m.Done {
			return m, cmd
		}
		return m, tea.Batch(cmd, waitForUpdate(m.Runner.Updates))

	case runDoneMsg:
		m.Done = true
		m.Res, m.Err = msg.res, msg.err
		if msg.res == nil {
			return m, tea.Quit
		}
		m.Result = result.NewModel(msg.res.Report)
		m.Result.Width, m.Result.Height = m.Width, m.Height
		m.Result.Err = msg.err
		if m.OnDone != nil {
			m.Result.Saved = m.OnDone(msg.res)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Done && m.Res == nil {
		return ""
	}
	s := strings.Builder{}
	s.WriteString(banner.GetString())
	s.WriteString("\n")
	if m.Done {
		s.WriteString(m.Result.View())
		return s.String()
	}

	s.WriteString(styles.Title.Render(fmt.Sprintf("🚀 Run %s", shortID(m.Runner.RunID))))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n")
	if m.Interrupted {
		s.WriteString(styles.Warn.Render("Stopping workers..."))
	} else {
		s.WriteString(styles.RenderKey("q", "stop run"))
	}
	return s.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run drives r under a full-screen dashboard and returns the run's result
// once the user leaves the result screen.
func Run(ctx context.Context, r *runner.Runner, onDone func(*runner.Result) []string) (*runner.Result, error) {
	if r.Updates == nil {
		r.Updates = make(runner.StatsUpdateChan, 100)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(ctx, cancel, r)
	m.OnDone = onDone
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return nil, err
	}
	fm := final.(Model)
	return fm.Res, fm.Err
}
