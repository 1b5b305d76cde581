package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/failover"
	"cabinetbench/internal/runner"
	"cabinetbench/internal/stats"
)

const rule = "======================================================================"

type Options struct {
	Out io.Writer
	// OnDone runs after the summary and reports the files it wrote.
	OnDone func(*runner.Result) []string
}

// Start runs r headless: header, a progress line fed by the runner's
// snapshots, failover events as they happen, then the summary.
func Start(ctx context.Context, r *runner.Runner, opts Options) (*runner.Result, error) {
	w := &lockedWriter{w: opts.Out}
	PrintHeader(w, r.Cfg)

	if r.Updates == nil {
		r.Updates = make(runner.StatsUpdateChan, 100)
	}
	r.OnFailover = func(s failover.State) { printFailoverEvent(w, r, s) }

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case s := <-r.Updates:
				printProgress(w, s)
			}
		}
	}()

	res, err := r.Run(ctx)
	close(done)
	wg.Wait()

	if res == nil {
		fmt.Fprintln(w)
		return nil, err
	}
	printProgress(w, finalSnapshot(r, res))
	PrintSummary(w, res.Report)
	if err != nil {
		fmt.Fprintf(w, "⚠️  Run interrupted (%v); results are partial.\n", err)
	}
	if opts.OnDone != nil {
		for _, p := range opts.OnDone(res) {
			fmt.Fprintf(w, "💾 Saved %s\n", p)
		}
	}
	return res, err
}

func finalSnapshot(r *runner.Runner, res *runner.Result) runner.StatsSnapshot {
	rep := res.Report
	return runner.StatsSnapshot{
		Elapsed: rep.Duration,
		Total:   uint64(r.Cfg.Ops),
		Done:    uint64(rep.Attempted + rep.Skipped),
		Success: uint64(rep.TotalSuccess),
		Fail:    uint64(rep.Failed),
		Skipped: uint64(rep.Skipped),
		P99Ms:   rep.P99LatencyMs,
	}
}

func PrintHeader(w io.Writer, cfg runner.Config) {
	targets := make([]string, len(cfg.Targets))
	for i, t := range cfg.Targets {
		targets[i] = t.String()
	}
	fmt.Fprintf(w, "\n🚀 Starting benchmark: mode=%s, concurrency=%d, total_ops=%d\n", cfg.Mode, cfg.Concurrency, cfg.Ops)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Targets    : %s\n", strings.Join(targets, ", "))
	fmt.Fprintf(w, "Timeouts   : request %s, probe %s\n", cfg.RequestTimeout, cfg.ProbeTimeout)
	if cfg.FailoverArmed() {
		fmt.Fprintf(w, "Failover   : kill leader after %s, detect within %s\n", cfg.KillLeaderAfter, cfg.FailoverTimeout)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}

// PrintLiveness prints one line per member as reported by the first
// member that answered.
func PrintLiveness(w io.Writer, status map[string]bool, err error) {
	fmt.Fprintln(w, "🔍 Checking node liveness...")
	if err != nil {
		fmt.Fprintln(w, "⚠️  Could not fetch node status from any peer.")
		return
	}
	nodes := make([]string, 0, len(status))
	for n := range status {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		state := "🔴 Dead"
		if status[n] {
			state = "🟢 Alive"
		}
		fmt.Fprintf(w, "  %s: %s\n", n, state)
	}
}

func printFailoverEvent(w io.Writer, r *runner.Runner, s failover.State) {
	leader := "the current leader"
	if t, ok := r.Leader().Get(); ok {
		leader = t.String()
	}
	switch s {
	case failover.StateArmed:
		fmt.Fprintf(w, "\n💣 Will kill %s after %s\n", leader, r.Cfg.KillLeaderAfter)
	case failover.StateInjecting:
		fmt.Fprintf(w, "\n💀 Killing leader %s\n", leader)
	case failover.StateDetecting:
		fmt.Fprintln(w, "\n⏳ Waiting for leader to change...")
	case failover.StateResolved:
		if r.Cfg.Mode == cluster.ModeLeaderBased {
			fmt.Fprintf(w, "\n👑 New leader is %s\n🔁 Redirecting future PUTs to new leader\n", leader)
		} else {
			fmt.Fprintln(w, "\n👑 New leader elected")
		}
	case failover.StateTimedOut:
		fmt.Fprintln(w, "\n❌ Leader did not change within timeout.")
	}
}

func printProgress(w io.Writer, s runner.StatsSnapshot) {
	pct := 1.0
	if s.Total > 0 {
		pct = float64(s.Done) / float64(s.Total)
	}
	if pct > 1.0 {
		pct = 1.0
	}
	fmt.Fprintf(w, "\r%s %3.0f%% | %d/%d | Act: %2d | OK: %d | Err: %d | Skip: %d | P99: %.1fms",
		progressBar(pct, 20), pct*100,
		s.Done, s.Total,
		s.Active,
		s.Success, s.Fail, s.Skipped,
		s.P99Ms,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func PrintSummary(w io.Writer, rep stats.Report) {
	fmt.Fprintf(w, "\n\n📊 Benchmark Results\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "✅ Success: %d/%d\n", rep.TotalSuccess, rep.TotalOps)
	if rep.Failed > 0 || rep.Skipped > 0 {
		fmt.Fprintf(w, "❗ Failed: %d | Skipped: %d\n", rep.Failed, rep.Skipped)
	}
	fmt.Fprintf(w, "⏱️ Duration: %.2fs\n", rep.DurationSec)
	fmt.Fprintf(w, "🚀 Throughput: %.2f ops/sec\n", rep.Throughput)
	fmt.Fprintf(w, "⏱️ Avg Latency: %.2f ms\n", rep.AvgLatencyMs)
	fmt.Fprintf(w, "📈 P95 Latency: %.2f ms\n", rep.P95LatencyMs)
	fmt.Fprintf(w, "📈 P99 Latency: %.2f ms\n", rep.P99LatencyMs)

	if fo := rep.Failover; fo != nil {
		fmt.Fprintf(w, "\n💀 FAILOVER (%s, %s)\n", fo.OldLeader, fo.Identity)
		if fo.TimedOut {
			fmt.Fprintf(w, "❌ Re-election failed: no new leader within %.1fs\n", fo.ReelectionSec)
		} else {
			fmt.Fprintf(w, "✅ Re-election completed in %.2f seconds (new leader %s)\n", fo.ReelectionSec, fo.NewLeader)
		}
	}
	fmt.Fprintln(w, rule)
}

// AbortMessage is the operator-facing line for an error that stopped the
// run before a report could be produced.
func AbortMessage(err error) string {
	switch {
	case errors.Is(err, cluster.ErrModeMismatch):
		return fmt.Sprintf("❌ Mode verification failed: %v. Aborting benchmark.", err)
	case errors.Is(err, cluster.ErrClusterUnreachable):
		return "❌ No cluster member answered. Aborting benchmark."
	case errors.Is(err, runner.ErrNoLeader):
		return "❌ No leader found. Aborting benchmark."
	case errors.Is(err, failover.ErrUnmappedTarget):
		return fmt.Sprintf("❌ Could not map %v to a container. Aborting.", err)
	case errors.Is(err, failover.ErrInjectionFailed):
		return fmt.Sprintf("❌ Failed to kill leader: %v", err)
	case errors.Is(err, failover.ErrNoLeader):
		return "❌ No leader to kill. Aborting."
	case errors.Is(err, runner.ErrInvalidConfig):
		return fmt.Sprintf("❌ %v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "⚠️  Interrupted before the benchmark started."
	}
	return fmt.Sprintf("❌ %v", err)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
