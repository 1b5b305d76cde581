package cluster

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Target is one member's externally reachable HTTP endpoint.
type Target struct {
	Host string
	Port string
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, t.Port)
}

func (t Target) IsZero() bool {
	return t.Host == "" && t.Port == ""
}

// ParseTarget accepts "host:port" and a bare ":port" (host defaults to localhost).
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "http://")
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	if port == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing port", s)
	}
	if host == "" {
		host = "localhost"
	}
	return Target{Host: host, Port: port}, nil
}

// ParseTargets parses every entry, splitting comma-separated values as well.
func ParseTargets(raw []string) ([]Target, error) {
	var out []Target
	seen := make(map[string]bool)
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := ParseTarget(part)
			if err != nil {
				return nil, err
			}
			if seen[t.String()] {
				continue
			}
			seen[t.String()] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}
	return out, nil
}

// Mode is the cluster's operating mode.
type Mode string

const (
	ModeLeaderBased Mode = "leader-based"
	ModeLeaderless  Mode = "leaderless"
)

// ParseMode normalizes both the public names and the server's own
// "cabinet" / "cabinet++" spellings.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "leader-based", "leader", "cabinet":
		return ModeLeaderBased, nil
	case "leaderless", "random", "cabinet++":
		return ModeLeaderless, nil
	}
	return "", fmt.Errorf("unknown mode %q (want leader-based or leaderless)", s)
}

// Outcome is the classification of one dispatched write.
// Latency is only set for successful writes.
type Outcome struct {
	Target  Target
	Key     string
	Start   time.Time
	Status  int
	Success bool
	Latency time.Duration
	Err     error
}
