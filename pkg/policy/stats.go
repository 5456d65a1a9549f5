package policy

import (
	"sync"

	"github.com/pipelinekit/orchestrator/pkg/config"
)

// CounterSnapshot is a read-only view of one policy's evaluation
// counters, for an admin status endpoint.
type CounterSnapshot struct {
	Evaluated int64
	Blocked   int64
}

// Stats keeps per-(checkpoint, policy name) evaluation counters.
type Stats struct {
	mu       sync.Mutex
	counters map[string]*CounterSnapshot
}

func newStats() *Stats {
	return &Stats{counters: make(map[string]*CounterSnapshot)}
}

func (s *Stats) record(key string, decision config.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &CounterSnapshot{}
		s.counters[key] = c
	}
	c.Evaluated++
	if decision == config.DecisionBlock {
		c.Blocked++
	}
}

func (s *Stats) snapshot() map[string]CounterSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]CounterSnapshot, len(s.counters))
	for k, v := range s.counters {
		out[k] = *v
	}
	return out
}
