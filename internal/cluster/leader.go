package cluster

import "sync"

// LeaderState is the one shared view of who leads the cluster.
// Once abandoned it reports no leader forever.
type LeaderState struct {
	mu        sync.RWMutex
	leader    Target
	known     bool
	abandoned bool
}

func NewLeaderState() *LeaderState {
	return &LeaderState{}
}

func (s *LeaderState) Get() (Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.abandoned {
		return Target{}, false
	}
	return s.leader, s.known
}

func (s *LeaderState) Set(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return
	}
	s.leader = t
	s.known = !t.IsZero()
}

// Abandon marks the leader as permanently lost (re-election timed out).
func (s *LeaderState) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
	s.leader = Target{}
	s.known = false
}

func (s *LeaderState) Abandoned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.abandoned
}
