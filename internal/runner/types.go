package runner

import (
	"errors"
	"fmt"
	"time"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/failover"
	"cabinetbench/internal/stats"
)

var (
	ErrNoLeader      = errors.New("no leader found at startup")
	ErrInvalidConfig = errors.New("invalid benchmark config")
)

type Config struct {
	Mode        cluster.Mode
	Targets     []cluster.Target
	Concurrency int
	Ops         int

	// KillLeaderAfter arms the failover controller when positive.
	KillLeaderAfter time.Duration
	Identities      failover.IdentityTable

	RequestTimeout  time.Duration
	ProbeTimeout    time.Duration
	LeaderRetries   int
	LeaderBackoff   time.Duration
	FailoverPoll    time.Duration
	FailoverTimeout time.Duration

	// Seed fixes the workload generators; zero picks a time-based seed.
	Seed int64
}

func (c *Config) withDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = cluster.DefaultRequestTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = cluster.DefaultProbeTimeout
	}
	if c.LeaderRetries <= 0 {
		c.LeaderRetries = cluster.DefaultLeaderRetries
	}
	if c.LeaderBackoff <= 0 {
		c.LeaderBackoff = cluster.DefaultLeaderBackoff
	}
	if c.FailoverPoll <= 0 {
		c.FailoverPoll = failover.DefaultPollInterval
	}
	if c.FailoverTimeout <= 0 {
		c.FailoverTimeout = failover.DefaultTimeout
	}
	if c.Identities == nil {
		c.Identities = failover.DefaultIdentities()
	}
}

func (c Config) Validate() error {
	if c.Mode != cluster.ModeLeaderBased && c.Mode != cluster.ModeLeaderless {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no targets", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.Ops < 0 {
		return fmt.Errorf("%w: ops must not be negative", ErrInvalidConfig)
	}
	if c.KillLeaderAfter < 0 {
		return fmt.Errorf("%w: kill-leader-after must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FailoverArmed reports whether a leader kill is scheduled.
func (c Config) FailoverArmed() bool { return c.KillLeaderAfter > 0 }

// Shares splits ops over workers. The remainder goes one op each to the
// lowest-numbered workers, so the shares always sum to ops.
func Shares(ops, workers int) []int {
	if workers <= 0 {
		return nil
	}
	out := make([]int, workers)
	base, rem := ops/workers, ops%workers
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

// StatsSnapshot is sent over the update channel every tick.
type StatsSnapshot struct {
	Elapsed   time.Duration
	Total     uint64
	Done      uint64
	Attempted uint64
	Success   uint64
	Fail      uint64
	Skipped   uint64
	Active    int64

	MeanMs float64
	P50Ms  float64
	P99Ms  float64
	MaxMs  float64

	Leader   string
	Failover string
}

type StatsUpdateChan chan StatsSnapshot

// Result is what a completed run hands back to the caller.
type Result struct {
	Report   stats.Report
	Workers  []stats.WorkerResult
	Failover *failover.Record
}
