package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinetbench/internal/cluster"
	"cabinetbench/internal/dummy"
)

func startCluster(t *testing.T, electionDelay time.Duration) (*dummy.Cluster, []cluster.Target, *cluster.Locator, IdentityTable) {
	t.Helper()
	c, addrs, closeFn := dummy.StartTest(dummy.ServerConfig{Nodes: 3, ElectionDelay: electionDelay})
	t.Cleanup(closeFn)

	targets, err := cluster.ParseTargets(addrs)
	require.NoError(t, err)
	ids := IdentityTable{}
	for i, tg := range targets {
		ids[tg.Port] = c.Node(i).Name
	}
	client := cluster.NewClient(cluster.ClientConfig{ProbeTimeout: 200 * time.Millisecond})
	return c, targets, cluster.NewLocator(client, targets, nil), ids
}

func TestControllerResolves(t *testing.T) {
	electionDelay := 300 * time.Millisecond
	c, targets, loc, ids := startCluster(t, electionDelay)

	state := cluster.NewLeaderState()
	state.Set(targets[0])

	var (
		mu   sync.Mutex
		seen []State
	)
	ctrl := NewController(Config{
		Delay:        50 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Timeout:      5 * time.Second,
		UpdateLeader: true,
	}, loc, state, ids, c, nil)
	ctrl.OnTransition = func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}
	assert.Equal(t, StateIdle, ctrl.State())

	injectedAt := time.Now()
	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{StateIdle, StateArmed, StateInjecting, StateDetecting, StateResolved}, ctrl.Transitions())
	assert.Equal(t, []State{StateArmed, StateInjecting, StateDetecting, StateResolved}, seen)
	assert.Equal(t, StateResolved, ctrl.State())

	assert.False(t, rec.TimedOut)
	assert.Equal(t, targets[0], rec.OldLeader)
	assert.Equal(t, targets[1], rec.NewLeader)
	assert.Equal(t, "node0", rec.Identity)
	assert.GreaterOrEqual(t, rec.Duration(), electionDelay-20*time.Millisecond)
	assert.LessOrEqual(t, rec.Duration(), 5*time.Second)
	assert.False(t, rec.Start.Before(injectedAt.Add(50*time.Millisecond)))

	got, ok := state.Get()
	require.True(t, ok)
	assert.Equal(t, targets[1], got)
	assert.False(t, c.Node(0).Alive())
}

func TestControllerTimesOut(t *testing.T) {
	c, targets, loc, ids := startCluster(t, -1)

	state := cluster.NewLeaderState()
	state.Set(targets[0])
	ctrl := NewController(Config{
		Delay:        10 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
		UpdateLeader: true,
	}, loc, state, ids, c, nil)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.TimedOut)
	assert.Equal(t, StateTimedOut, ctrl.State())
	assert.Equal(t, 200*time.Millisecond, rec.Duration())

	_, ok := state.Get()
	assert.False(t, ok)
	assert.True(t, state.Abandoned())
}

func TestControllerLeaderlessKeepsState(t *testing.T) {
	c, targets, loc, ids := startCluster(t, 50*time.Millisecond)

	state := cluster.NewLeaderState()
	state.Set(targets[0])
	ctrl := NewController(Config{
		Delay:        10 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Timeout:      2 * time.Second,
	}, loc, state, ids, c, nil)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, targets[1], rec.NewLeader)

	got, _ := state.Get()
	assert.Equal(t, targets[0], got)
}

func TestControllerUnmappedLeader(t *testing.T) {
	c, targets, loc, _ := startCluster(t, 0)

	state := cluster.NewLeaderState()
	state.Set(targets[0])
	ctrl := NewController(Config{Delay: time.Millisecond}, loc, state, IdentityTable{}, c, nil)

	_, err := ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnmappedTarget)
	assert.True(t, c.Node(0).Alive())
}

type failingKiller struct{}

func (failingKiller) Kill(context.Context, string) error { return errors.New("daemon not running") }

func TestControllerKillFailure(t *testing.T) {
	_, targets, loc, ids := startCluster(t, 0)

	state := cluster.NewLeaderState()
	state.Set(targets[0])
	ctrl := NewController(Config{Delay: time.Millisecond}, loc, state, ids, failingKiller{}, nil)

	_, err := ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrInjectionFailed)
	assert.Equal(t, StateInjecting, ctrl.State())
}

func TestControllerCancelledWhileArmed(t *testing.T) {
	c, targets, loc, ids := startCluster(t, 0)

	state := cluster.NewLeaderState()
	state.Set(targets[0])
	ctrl := NewController(Config{Delay: time.Hour}, loc, state, ids, c, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateArmed, ctrl.State())
}

func TestControllerDisarm(t *testing.T) {
	c, targets, loc, ids := startCluster(t, 0)

	state := cluster.NewLeaderState()
	state.Set(targets[0])
	ctrl := NewController(Config{Delay: time.Hour}, loc, state, ids, c, nil)
	time.AfterFunc(20*time.Millisecond, ctrl.Disarm)

	_, err := ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrDisarmed)
	assert.True(t, c.Node(0).Alive())
	ctrl.Disarm()
}

func TestIdentityTable(t *testing.T) {
	ids := DefaultIdentities()
	targets, _ := cluster.ParseTargets([]string{"localhost:8081", "localhost:8085"})
	assert.NoError(t, ids.Validate(targets))

	id, err := ids.Resolve(targets[1])
	require.NoError(t, err)
	assert.Equal(t, "node4", id)

	bad, _ := cluster.ParseTargets([]string{"localhost:9000"})
	assert.ErrorIs(t, ids.Validate(bad), ErrUnmappedTarget)
}
