package stats

import (
	"math"
	"sort"
	"time"

	"cabinetbench/internal/cluster"
)

// WorkerResult is everything one worker produced. Latencies holds
// successful writes only, in issue order.
type WorkerResult struct {
	WorkerID  int
	Assigned  int
	Skipped   int
	Success   int
	Latencies []time.Duration
	Outcomes  []cluster.Outcome
}

// Attempted counts dispatched writes (skipped ops excluded).
func (w WorkerResult) Attempted() int { return len(w.Outcomes) }

type FailoverSummary struct {
	OldLeader     string  `json:"old_leader" yaml:"old_leader"`
	NewLeader     string  `json:"new_leader,omitempty" yaml:"new_leader,omitempty"`
	Identity      string  `json:"identity" yaml:"identity"`
	ReelectionSec float64 `json:"reelection_sec" yaml:"reelection_sec"`
	TimedOut      bool    `json:"timed_out" yaml:"timed_out"`
}

type Report struct {
	RunID   string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Mode    string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Workers int    `json:"workers" yaml:"workers"`

	TotalOps     int `json:"total_ops" yaml:"total_ops"`
	Attempted    int `json:"attempted" yaml:"attempted"`
	TotalSuccess int `json:"total_success" yaml:"total_success"`
	Failed       int `json:"failed" yaml:"failed"`
	Skipped      int `json:"skipped" yaml:"skipped"`

	Duration     time.Duration `json:"-" yaml:"-"`
	DurationSec  float64       `json:"duration_sec" yaml:"duration_sec"`
	Throughput   float64       `json:"throughput_ops_sec" yaml:"throughput_ops_sec"`
	AvgLatencyMs float64       `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	P95LatencyMs float64       `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs float64       `json:"p99_latency_ms" yaml:"p99_latency_ms"`

	Failover *FailoverSummary `json:"failover,omitempty" yaml:"failover,omitempty"`
}

// Reduce folds worker results into a report. duration is the pool's wall
// clock time. The inputs are not modified.
func Reduce(results []WorkerResult, duration time.Duration) Report {
	r := Report{
		Workers:     len(results),
		Duration:    duration,
		DurationSec: duration.Seconds(),
	}

	var all []time.Duration
	for _, w := range results {
		r.TotalOps += w.Assigned
		r.Attempted += w.Attempted()
		r.TotalSuccess += w.Success
		r.Skipped += w.Skipped
		all = append(all, w.Latencies...)
	}
	r.Failed = r.Attempted - r.TotalSuccess

	if duration > 0 {
		r.Throughput = float64(r.TotalSuccess) / duration.Seconds()
	}
	if len(all) == 0 {
		return r
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	var sum time.Duration
	for _, l := range all {
		sum += l
	}
	r.AvgLatencyMs = ms(sum) / float64(len(all))
	r.P95LatencyMs = ms(Percentile(all, 95))
	r.P99LatencyMs = ms(Percentile(all, 99))
	return r
}

// Percentile is the nearest-rank percentile of an ascending slice:
// sorted[ceil(p/100*n)-1].
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Ceil((p/100)*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
