package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinetbench/internal/cluster"
)

func msList(vals ...int) []time.Duration {
	out := make([]time.Duration, len(vals))
	for i, v := range vals {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestPercentileNearestRank(t *testing.T) {
	var sorted []time.Duration
	for v := 10; v <= 1000; v += 10 {
		sorted = append(sorted, time.Duration(v)*time.Millisecond)
	}
	require.Len(t, sorted, 100)

	assert.Equal(t, 950*time.Millisecond, Percentile(sorted, 95))
	assert.Equal(t, 990*time.Millisecond, Percentile(sorted, 99))
	assert.Equal(t, 10*time.Millisecond, Percentile(sorted, 0))
	assert.Equal(t, 1000*time.Millisecond, Percentile(sorted, 100))

	assert.Equal(t, 3*time.Millisecond, Percentile(msList(1, 2, 3), 95))
	assert.Zero(t, Percentile(nil, 95))
}

func TestReduceReport(t *testing.T) {
	// 100 samples spread unevenly over three workers, shuffled order.
	var lat [3][]time.Duration
	for v := 1000; v >= 10; v -= 10 {
		w := (v / 10) % 3
		lat[w] = append(lat[w], time.Duration(v)*time.Millisecond)
	}
	results := []WorkerResult{
		{WorkerID: 0, Assigned: 40, Success: len(lat[0]), Latencies: lat[0], Outcomes: make([]cluster.Outcome, 40)},
		{WorkerID: 1, Assigned: 40, Success: len(lat[1]), Latencies: lat[1], Outcomes: make([]cluster.Outcome, 38), Skipped: 2},
		{WorkerID: 2, Assigned: 40, Success: len(lat[2]), Latencies: lat[2], Outcomes: make([]cluster.Outcome, 40)},
		{WorkerID: 3, Assigned: 40, Skipped: 40},
	}

	r := Reduce(results, 2*time.Second)
	assert.Equal(t, 4, r.Workers)
	assert.Equal(t, 160, r.TotalOps)
	assert.Equal(t, 118, r.Attempted)
	assert.Equal(t, 100, r.TotalSuccess)
	assert.Equal(t, 18, r.Failed)
	assert.Equal(t, 42, r.Skipped)
	assert.InDelta(t, 50.0, r.Throughput, 1e-9)
	assert.InDelta(t, 505.0, r.AvgLatencyMs, 1e-9)
	assert.Equal(t, 950.0, r.P95LatencyMs)
	assert.Equal(t, 990.0, r.P99LatencyMs)
	assert.Equal(t, 2.0, r.DurationSec)
}

func TestReduceIsPure(t *testing.T) {
	results := []WorkerResult{
		{Assigned: 3, Success: 3, Latencies: msList(30, 10, 20), Outcomes: make([]cluster.Outcome, 3)},
		{Assigned: 2, Success: 1, Latencies: msList(5), Outcomes: make([]cluster.Outcome, 2)},
	}
	first := Reduce(results, time.Second)
	second := Reduce(results, time.Second)
	assert.Equal(t, first, second)
	assert.Equal(t, msList(30, 10, 20), results[0].Latencies)
}

func TestReduceEmpty(t *testing.T) {
	r := Reduce([]WorkerResult{{Assigned: 5, Outcomes: make([]cluster.Outcome, 5)}}, time.Second)
	assert.Zero(t, r.TotalSuccess)
	assert.Zero(t, r.Throughput)
	assert.Zero(t, r.AvgLatencyMs)
	assert.Zero(t, r.P95LatencyMs)
	assert.Zero(t, r.P99LatencyMs)

	r = Reduce(nil, 0)
	assert.Zero(t, r.Throughput)
}

func TestLiveStats(t *testing.T) {
	s := NewStats()
	s.Record(cluster.Outcome{Success: true, Latency: 4 * time.Millisecond})
	s.Record(cluster.Outcome{Err: errors.New("refused")})
	s.Skip()

	assert.EqualValues(t, 2, s.Attempted)
	assert.EqualValues(t, 1, s.Success)
	assert.EqualValues(t, 3, s.Done())
	assert.InDelta(t, 50.0, s.ErrorRate(), 1e-9)
	assert.InDelta(t, 4.0, s.Latency.QuantileMs(99), 0.01)
}
