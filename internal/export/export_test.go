package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/stats"
)

func sampleResults() []stats.WorkerResult {
	target := cluster.Target{Host: "localhost", Port: "8081"}
	start := time.UnixMilli(1700000000000)
	return []stats.WorkerResult{
		{
			WorkerID: 0, Assigned: 2, Success: 1,
			Latencies: []time.Duration{1500 * time.Microsecond},
			Outcomes: []cluster.Outcome{
				{Target: target, Key: "0_abcdefgh", Start: start, Status: 200, Success: true, Latency: 1500 * time.Microsecond},
				{Target: target, Key: "0_ijklmnop", Start: start, Err: errors.New("connection refused")},
			},
		},
		{WorkerID: 1, Assigned: 1, Skipped: 1},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, "JSON": FormatJSON, "yml": FormatYAML, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, ExportCSV(sampleResults(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "timeStamp", records[0][0])
	assert.Equal(t, []string{"1700000000000", "0", "localhost:8081", "0_abcdefgh", "200", "OK", "true", "1.500", ""}, records[1])
	assert.Equal(t, "false", records[2][6])
	assert.Equal(t, "connection refused", records[2][8])
}

func TestExportJSONEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, ExportJSON(nil, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestWriteAll(t *testing.T) {
	rep := stats.Reduce(sampleResults(), time.Second)
	rep.RunID = "run-1"
	rep.Failover = &stats.FailoverSummary{OldLeader: "localhost:8081", Identity: "node0", TimedOut: true, ReelectionSec: 30}

	prefix := filepath.Join(t.TempDir(), "bench")

	paths, err := WriteAll(prefix, FormatYAML, rep, sampleResults())
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "_outcomes.csv", prefix + "_summary.yaml"}, paths)

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, "run-1", back["run_id"])
	assert.Equal(t, 1, back["total_success"])
	assert.Equal(t, true, back["failover"].(map[string]any)["timed_out"])

	paths, err = WriteAll(prefix, FormatJSON, rep, sampleResults())
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "_outcomes.json", prefix + "_summary.json"}, paths)

	data, err = os.ReadFile(paths[0])
	require.NoError(t, err)
	var rows []Row
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 1.5, rows[0].LatencyMs)
	assert.Equal(t, "connection refused", rows[1].Error)
}
