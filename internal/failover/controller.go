package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/metrics"
	"cabinetbench/internal/tracing"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
)

var (
	ErrNoLeader = errors.New("no leader to kill")
	// ErrDisarmed is returned by Run when Disarm wins against the delay.
	ErrDisarmed = errors.New("failover disarmed before injection")
)

type State int32

const (
	StateIdle State = iota
	StateArmed
	StateInjecting
	StateDetecting
	StateResolved
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateInjecting:
		return "injecting"
	case StateDetecting:
		return "detecting"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed-out"
	}
	return "unknown"
}

type Config struct {
	// Delay before the leader is killed, counted from Run.
	Delay        time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
	// UpdateLeader redirects the shared LeaderState on resolution and
	// abandons it on timeout. Set in leader-based mode only.
	UpdateLeader bool
}

// Record describes the single failover of a run.
type Record struct {
	OldLeader cluster.Target
	NewLeader cluster.Target
	Identity  string
	Start     time.Time
	End       time.Time
	TimedOut  bool
}

// Duration is the re-election time, from the kill returning to the first
// observation of a different leader.
func (r Record) Duration() time.Duration {
	if r.Start.IsZero() || r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}

type Controller struct {
	cfg    Config
	finder cluster.LeaderFinder
	leader *cluster.LeaderState
	ids    IdentityTable
	killer Killer
	logger hclog.Logger

	state atomic.Int32

	mu          sync.Mutex
	transitions []State

	disarm     chan struct{}
	disarmOnce sync.Once

	// OnTransition, if set, is called synchronously on every state change.
	OnTransition func(State)
}

func NewController(cfg Config, finder cluster.LeaderFinder, leader *cluster.LeaderState, ids IdentityTable, killer Killer, logger hclog.Logger) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &Controller{
		cfg:         cfg,
		finder:      finder,
		leader:      leader,
		ids:         ids,
		killer:      killer,
		logger:      logger.Named("failover"),
		transitions: []State{StateIdle},
		disarm:      make(chan struct{}),
	}
	return c
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Disarm cancels a kill that has not fired yet. Once injection has started
// it has no effect and detection runs to completion.
func (c *Controller) Disarm() {
	c.disarmOnce.Do(func() { close(c.disarm) })
}

// Transitions returns every state visited so far, starting with idle.
func (c *Controller) Transitions() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.transitions...)
}

func (c *Controller) transition(s State) {
	c.state.Store(int32(s))
	c.mu.Lock()
	c.transitions = append(c.transitions, s)
	c.mu.Unlock()
	c.logger.Debug("state change", "state", s.String())
	if c.OnTransition != nil {
		c.OnTransition(s)
	}
}

// Run waits Delay, kills the current leader and then polls for its
// successor. A timed-out detection is reported in the Record, not as an
// error; errors are reserved for conditions that must abort the run.
func (c *Controller) Run(ctx context.Context) (Record, error) {
	var rec Record
	c.transition(StateArmed)
	c.logger.Info("leader kill scheduled", "after", c.cfg.Delay)

	timer := time.NewTimer(c.cfg.Delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return rec, ctx.Err()
	case <-c.disarm:
		timer.Stop()
		c.logger.Info("leader kill disarmed")
		return rec, ErrDisarmed
	case <-timer.C:
	}

	if err := c.inject(ctx, &rec); err != nil {
		return rec, err
	}
	c.detect(ctx, &rec)
	return rec, ctx.Err()
}

func (c *Controller) inject(ctx context.Context, rec *Record) error {
	ctx, end := tracing.StartSpan(ctx, "failover.inject")
	defer end()
	c.transition(StateInjecting)

	old, ok := c.leader.Get()
	if !ok {
		old, ok = cluster.LocateWithRetry(ctx, c.finder, 3, c.cfg.PollInterval)
	}
	if !ok {
		return ErrNoLeader
	}
	id, err := c.ids.Resolve(old)
	if err != nil {
		return err
	}
	rec.OldLeader = old
	rec.Identity = id

	c.logger.Warn("killing leader", "leader", old.String(), "identity", id)
	if err := c.killer.Kill(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrInjectionFailed, err)
	}
	return nil
}

func (c *Controller) detect(ctx context.Context, rec *Record) {
	ctx, end := tracing.StartSpan(ctx, "failover.detect")
	defer end()

	rec.Start = time.Now()
	c.transition(StateDetecting)

	deadline := time.NewTimer(c.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if t, ok := c.finder.Locate(ctx); ok && t != rec.OldLeader {
			if time.Since(rec.Start) <= c.cfg.Timeout {
				c.resolve(rec, t)
				return
			}
		}
		if time.Since(rec.Start) >= c.cfg.Timeout {
			c.timeout(rec)
			return
		}
		select {
		case <-ctx.Done():
			rec.End = time.Now()
			return
		case <-deadline.C:
			c.timeout(rec)
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) resolve(rec *Record, t cluster.Target) {
	rec.End = time.Now()
	rec.NewLeader = t
	if c.cfg.UpdateLeader {
		c.leader.Set(t)
	}
	metrics.LeaderChanges.Inc()
	metrics.ReelectionSeconds.Set(rec.Duration().Seconds())
	c.logger.Info("new leader detected", "leader", t.String(), "after", rec.Duration())
	c.transition(StateResolved)
}

func (c *Controller) timeout(rec *Record) {
	rec.TimedOut = true
	rec.End = rec.Start.Add(c.cfg.Timeout)
	if c.cfg.UpdateLeader {
		c.leader.Abandon()
	}
	metrics.ReelectionTimeouts.Inc()
	c.logger.Error("leader did not change within timeout", "timeout", c.cfg.Timeout)
	c.transition(StateTimedOut)
}
