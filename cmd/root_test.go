package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/dummy"
	"cabinetbench/internal/failover"
	"cabinetbench/internal/runner"
	"cabinetbench/internal/storage"
)

// setConfig overrides viper keys for one test.
func setConfig(t *testing.T, kv map[string]any) {
	t.Helper()
	for k, v := range kv {
		viper.Set(k, v)
	}
	t.Cleanup(func() {
		for k := range kv {
			viper.Set(k, nil)
		}
	})
}

func TestLoadRunConfig(t *testing.T) {
	setConfig(t, map[string]any{
		"mode":              "cabinet",
		"targets":           []string{"localhost:8081,localhost:8082"},
		"kill_leader_after": 2.5,
		"runtime.ids":       map[string]string{"8081": "a", "8082": "b"},
	})

	cfg, err := loadRunConfig()
	require.NoError(t, err)
	assert.Equal(t, cluster.ModeLeaderBased, cfg.Mode)
	assert.Len(t, cfg.Targets, 2)
	assert.Equal(t, 2500*time.Millisecond, cfg.KillLeaderAfter)
	assert.Equal(t, failover.IdentityTable{"8081": "a", "8082": "b"}, cfg.Identities)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 100, cfg.Ops)
	assert.Equal(t, failover.DefaultTimeout, cfg.FailoverTimeout)
}

func TestLoadRunConfigRejects(t *testing.T) {
	_, err := loadRunConfig()
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "--mode is required")

	setConfig(t, map[string]any{"mode": "raft"})
	_, err = loadRunConfig()
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)

	setConfig(t, map[string]any{"mode": "leaderless", "concurrency": 0})
	_, err = loadRunConfig()
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
}

func TestRunBenchmarkSavesResults(t *testing.T) {
	c, addrs, closeFn := dummy.StartTest(dummy.ServerConfig{Nodes: 3})
	defer closeFn()

	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	setConfig(t, map[string]any{
		"mode":         "leader-based",
		"targets":      []string{strings.Join(addrs, ",")},
		"concurrency":  2,
		"ops":          10,
		"out":          filepath.Join(dir, "bench"),
		"format":       "yaml",
		"save_history": true,
		"history_db":   db,
	})

	require.NoError(t, runBenchmark(context.Background()))
	assert.EqualValues(t, 10, c.Puts())

	for _, name := range []string{"bench_outcomes.csv", "bench_summary.yaml"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	store, err := storage.NewStore(db)
	require.NoError(t, err)
	defer store.Close()
	items, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 10, items[0].Report.TotalSuccess)
	assert.Equal(t, 2, items[0].Concurrency)
}

func TestRunBenchmarkAbortsOnModeMismatch(t *testing.T) {
	c, addrs, closeFn := dummy.StartTest(dummy.ServerConfig{Nodes: 2, Mode: "cabinet++"})
	defer closeFn()

	setConfig(t, map[string]any{
		"mode":    "leader-based",
		"targets": addrs,
	})
	assert.ErrorIs(t, runBenchmark(context.Background()), errAborted)
	assert.Zero(t, c.Puts())
}
