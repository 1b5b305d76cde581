package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/failover"
	"cabinetbench/internal/metrics"
	"cabinetbench/internal/stats"
	"cabinetbench/internal/tracing"
)

const tickInterval = 200 * time.Millisecond

type Runner struct {
	Cfg     Config
	RunID   string
	Stats   *stats.Stats
	Client  *cluster.Client
	Locator *cluster.Locator
	Killer  failover.Killer

	// Event Channel
	Updates StatsUpdateChan

	// OnFailover, if set, sees every failover state change.
	OnFailover func(failover.State)

	logger    hclog.Logger
	leader    *cluster.LeaderState
	active    atomic.Int64
	foState   atomic.Int32
	armed     bool
	startedAt time.Time
}

// NewRunner builds a runner for cfg. killer is only used when a leader kill
// is scheduled; nil selects the docker CLI.
func NewRunner(cfg Config, killer failover.Killer, logger hclog.Logger, updates StatsUpdateChan) *Runner {
	cfg.withDefaults()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if killer == nil {
		killer = failover.DockerKiller{}
	}
	client := cluster.NewClient(cluster.ClientConfig{
		RequestTimeout: cfg.RequestTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
		MaxConns:       cfg.Concurrency * 2,
	})
	return &Runner{
		Cfg:     cfg,
		RunID:   uuid.New().String(),
		Stats:   stats.NewStats(),
		Client:  client,
		Locator: cluster.NewLocator(client, cfg.Targets, logger),
		Killer:  killer,
		Updates: updates,
		logger:  logger.Named("runner"),
		leader:  cluster.NewLeaderState(),
	}
}

// Leader exposes the shared leader view (read-only use).
func (r *Runner) Leader() *cluster.LeaderState { return r.leader }

// Run verifies the cluster, establishes the leader, then drives the worker
// pool with the failover controller alongside. Errors returned before the
// pool starts mean no write was sent. A cancelled ctx still yields the
// partial result together with ctx's error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.Cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, end := tracing.StartSpan(ctx, "runner.run")
	defer end()

	r.armed = r.Cfg.FailoverArmed()
	if r.armed {
		if err := r.Cfg.Identities.Validate(r.Cfg.Targets); err != nil {
			return nil, err
		}
	}

	if err := r.verify(ctx); err != nil {
		return nil, err
	}
	if err := r.discoverLeader(ctx); err != nil {
		return nil, err
	}

	var (
		ctrl    *failover.Controller
		record  *failover.Record
		results = make([]stats.WorkerResult, r.Cfg.Concurrency)
		poolDur time.Duration
	)
	if r.armed {
		ctrl = failover.NewController(failover.Config{
			Delay:        r.Cfg.KillLeaderAfter,
			PollInterval: r.Cfg.FailoverPoll,
			Timeout:      r.Cfg.FailoverTimeout,
			UpdateLeader: r.Cfg.Mode == cluster.ModeLeaderBased,
		}, r.Locator, r.leader, r.Cfg.Identities, r.Killer, r.logger)
		ctrl.OnTransition = r.onTransition
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	r.startedAt = time.Now()
	r.StartTickLoop(tickCtx, tickInterval)

	g, gctx := errgroup.WithContext(ctx)
	if ctrl != nil {
		g.Go(func() error {
			rec, err := ctrl.Run(gctx)
			switch {
			case errors.Is(err, failover.ErrDisarmed):
				r.logger.Warn("pool finished before the leader kill fired")
				return nil
			case err != nil && ctx.Err() != nil:
				// Interrupted by the caller; keep whatever was measured.
				if !rec.Start.IsZero() {
					record = &rec
				}
				return nil
			case err != nil:
				return err
			}
			record = &rec
			return nil
		})
	}
	g.Go(func() error {
		start := time.Now()
		r.runPool(gctx, results)
		poolDur = time.Since(start)
		if ctrl != nil {
			ctrl.Disarm()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stopTicks()
	r.sendUpdate()

	rep := stats.Reduce(results, poolDur)
	rep.RunID = r.RunID
	rep.Mode = string(r.Cfg.Mode)
	if record != nil {
		rep.Failover = summarize(*record)
	}
	r.logger.Info("run complete", "success", rep.TotalSuccess, "ops", rep.TotalOps, "duration", poolDur)

	return &Result{Report: rep, Workers: results, Failover: record}, ctx.Err()
}

func (r *Runner) verify(ctx context.Context) error {
	ctx, end := tracing.StartSpan(ctx, "cluster.verify_mode")
	defer end()
	return cluster.VerifyMode(ctx, r.Client, r.Cfg.Targets, r.Cfg.Mode, r.logger)
}

// discoverLeader fills the shared leader state. Leader-based mode cannot
// start without one; leaderless mode only needs it as the kill victim and
// the controller locates it lazily.
func (r *Runner) discoverLeader(ctx context.Context) error {
	if r.Cfg.Mode != cluster.ModeLeaderBased {
		return nil
	}
	ctx, end := tracing.StartSpan(ctx, "cluster.discover_leader")
	defer end()

	t, ok := cluster.LocateWithRetry(ctx, r.Locator, r.Cfg.LeaderRetries, r.Cfg.LeaderBackoff)
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %d attempts", ErrNoLeader, r.Cfg.LeaderRetries)
	}
	r.leader.Set(t)
	r.logger.Info("leader found", "leader", t.String())
	return nil
}

func (r *Runner) runPool(ctx context.Context, results []stats.WorkerResult) {
	ctx, end := tracing.StartSpan(ctx, "runner.pool")
	defer end()

	shares := Shares(r.Cfg.Ops, r.Cfg.Concurrency)
	seed := r.Cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var pool errgroup.Group
	for i := range shares {
		i := i
		pool.Go(func() error {
			results[i] = r.work(ctx, i, shares[i], NewWorkload(i, seed+int64(i)))
			return nil
		})
	}
	pool.Wait()
}

// work runs one closed-loop worker. It stops early only when ctx is done.
func (r *Runner) work(ctx context.Context, id, assigned int, wl *Workload) stats.WorkerResult {
	r.active.Add(1)
	metrics.ActiveWorkers.Inc()
	defer func() {
		r.active.Add(-1)
		metrics.ActiveWorkers.Dec()
	}()

	mode := string(r.Cfg.Mode)
	res := stats.WorkerResult{
		WorkerID: id,
		Assigned: assigned,
		Outcomes: make([]cluster.Outcome, 0, assigned),
	}
	for i := 0; i < assigned; i++ {
		if ctx.Err() != nil {
			break
		}
		key, value := wl.Key(), wl.Value()

		target, ok := r.pick(ctx, wl)
		if !ok {
			res.Skipped++
			r.Stats.Skip()
			metrics.Operations.WithLabelValues(mode, "skipped").Inc()
			r.logger.Debug("leader not found, skipping", "worker", id)
			continue
		}

		o := r.Client.Put(ctx, target, key, value)
		res.Outcomes = append(res.Outcomes, o)
		r.Stats.Record(o)
		if o.Success {
			res.Success++
			res.Latencies = append(res.Latencies, o.Latency)
			metrics.Operations.WithLabelValues(mode, "success").Inc()
			metrics.WriteLatency.WithLabelValues(mode).Observe(o.Latency.Seconds())
		} else {
			metrics.Operations.WithLabelValues(mode, "failure").Inc()
		}
	}
	return res
}

// pick resolves the target of one write. Workers read the leader state but
// never write it.
func (r *Runner) pick(ctx context.Context, wl *Workload) (cluster.Target, bool) {
	if r.Cfg.Mode == cluster.ModeLeaderless {
		return r.Cfg.Targets[wl.Choice(len(r.Cfg.Targets))], true
	}
	if r.leader.Abandoned() {
		return cluster.Target{}, false
	}
	if t, ok := r.leader.Get(); ok {
		return t, true
	}
	t, ok := cluster.LocateWithRetry(ctx, r.Locator, r.Cfg.LeaderRetries, r.Cfg.LeaderBackoff)
	if ok {
		metrics.LeaderLookups.WithLabelValues("found").Inc()
	} else {
		metrics.LeaderLookups.WithLabelValues("exhausted").Inc()
	}
	return t, ok
}

func (r *Runner) onTransition(s failover.State) {
	r.foState.Store(int32(s))
	if r.OnFailover != nil {
		r.OnFailover(s)
	}
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	if r.Updates == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) sendUpdate() {
	if r.Updates == nil {
		return
	}
	s := StatsSnapshot{
		Elapsed:   time.Since(r.startedAt),
		Total:     uint64(r.Cfg.Ops),
		Done:      r.Stats.Done(),
		Attempted: atomic.LoadUint64(&r.Stats.Attempted),
		Success:   atomic.LoadUint64(&r.Stats.Success),
		Fail:      atomic.LoadUint64(&r.Stats.Fail),
		Skipped:   atomic.LoadUint64(&r.Stats.Skipped),
		Active:    r.active.Load(),
		MeanMs:    r.Stats.Latency.MeanMs(),
		P50Ms:     r.Stats.Latency.QuantileMs(50),
		P99Ms:     r.Stats.Latency.QuantileMs(99),
		MaxMs:     r.Stats.Latency.MaxMs(),
	}
	if t, ok := r.leader.Get(); ok {
		s.Leader = t.String()
	}
	if r.armed {
		s.Failover = failover.State(r.foState.Load()).String()
	}

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

func summarize(rec failover.Record) *stats.FailoverSummary {
	s := &stats.FailoverSummary{
		OldLeader:     rec.OldLeader.String(),
		Identity:      rec.Identity,
		ReelectionSec: rec.Duration().Seconds(),
		TimedOut:      rec.TimedOut,
	}
	if !rec.NewLeader.IsZero() {
		s.NewLeader = rec.NewLeader.String()
	}
	return s
}
