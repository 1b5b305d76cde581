package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/runner"
	"cabinetbench/internal/stats"
)

func newTestModel(t *testing.T) (Model, *bool) {
	t.Helper()
	targets, err := cluster.ParseTargets([]string{"localhost:8081"})
	require.NoError(t, err)
	r := runner.NewRunner(runner.Config{Mode: cluster.ModeLeaderBased, Targets: targets, Concurrency: 1, Ops: 10}, nil, nil, make(runner.StatsUpdateChan, 1))
	cancelled := false
	m := NewModel(context.Background(), func() { cancelled = true }, r)
	return m, &cancelled
}

func TestModelLiveUpdates(t *testing.T) {
	m, _ := newTestModel(t)

	next, _ := m.Update(runner.StatsSnapshot{Elapsed: time.Second, Total: 10, Done: 5, Attempted: 5, Success: 4, Fail: 1, Leader: "localhost:8081", Failover: "armed"})
	m = next.(Model)
	assert.EqualValues(t, 4, m.Live.Stats.Success)
	assert.Equal(t, 4.0, m.Live.OpsLine.Last())

	view := m.View()
	assert.Contains(t, view, "localhost:8081")
	assert.Contains(t, view, "DONE: 5/10")
	assert.Contains(t, view, "armed")
}

func TestModelQuitStopsRunFirst(t *testing.T) {
	m, cancelled := newTestModel(t)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(Model)
	assert.True(t, *cancelled)
	assert.True(t, m.Interrupted)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "Stopping")

	saved := 0
	m.OnDone = func(*runner.Result) []string { saved++; return []string{"bench_summary.json"} }
	rep := stats.Report{Mode: "leader-based", TotalOps: 10, TotalSuccess: 3, Failover: &stats.FailoverSummary{OldLeader: "localhost:8081", Identity: "node0", TimedOut: true, ReelectionSec: 30}}
	next, _ = m.Update(runDoneMsg{res: &runner.Result{Report: rep}, err: context.Canceled})
	m = next.(Model)
	assert.True(t, m.Done)
	assert.Equal(t, 1, saved)

	view := m.View()
	assert.Contains(t, view, "3/10")
	assert.Contains(t, view, "node0")
	assert.Contains(t, view, "bench_summary.json")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModelFatalErrorQuits(t *testing.T) {
	m, _ := newTestModel(t)
	next, cmd := m.Update(runDoneMsg{err: errors.New("mode mismatch")})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
	assert.EqualError(t, m.Err, "mode mismatch")
}
