package cluster

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	DefaultLeaderRetries = 10
	DefaultLeaderBackoff = 1 * time.Second
)

// LeaderFinder is the single-shot leader probe used by workers and the
// failover controller.
type LeaderFinder interface {
	Locate(ctx context.Context) (Target, bool)
}

// Locator asks members, in order, who the leader is.
type Locator struct {
	client  *Client
	targets []Target
	logger  hclog.Logger
}

func NewLocator(client *Client, targets []Target, logger hclog.Logger) *Locator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Locator{
		client:  client,
		targets: targets,
		logger:  logger.Named("locator"),
	}
}

// Locate returns the first leader reported by any member, translated to the
// configured Target with the same port. It does not retry.
func (l *Locator) Locate(ctx context.Context) (Target, bool) {
	for _, t := range l.targets {
		if ctx.Err() != nil {
			return Target{}, false
		}
		addr, err := l.client.Leader(ctx, t)
		if err != nil {
			l.logger.Trace("leader probe failed", "target", t.String(), "error", err)
			continue
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if leader, ok := MatchPort(l.targets, addr); ok {
			return leader, true
		}
		l.logger.Debug("reported leader matches no target", "target", t.String(), "leader", addr)
	}
	return Target{}, false
}

// MatchPort maps an internal address such as "node2:8083" onto the target
// listening on the same port.
func MatchPort(targets []Target, addr string) (Target, bool) {
	port := addr
	if _, p, err := net.SplitHostPort(addr); err == nil {
		port = p
	} else if i := strings.LastIndex(addr, ":"); i >= 0 {
		port = addr[i+1:]
	}
	if port == "" {
		return Target{}, false
	}
	for _, t := range targets {
		if t.Port == port {
			return t, true
		}
	}
	return Target{}, false
}

// LocateWithRetry calls f.Locate up to attempts times, sleeping backoff
// between misses. It gives up early when ctx is done.
func LocateWithRetry(ctx context.Context, f LeaderFinder, attempts int, backoff time.Duration) (Target, bool) {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if t, ok := f.Locate(ctx); ok {
			return t, true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Target{}, false
		case <-time.After(backoff):
		}
	}
	return Target{}, false
}
