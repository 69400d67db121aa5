package core

import (
	"sync"
	"time"

	"github.com/lefterav/expsuite/pkg/api"
)

// Metrics tracks repetition outcomes of a dispatch.
type Metrics struct {
	counts     map[api.RunStatus]int64
	iterations int64
	duration   time.Duration
	mu         sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{counts: make(map[api.RunStatus]int64)}
}

// Record adds one finished repetition.
func (m *Metrics) Record(o Outcome) {
	m.mu.Lock()
	m.counts[o.Status]++
	m.iterations += int64(o.Executed)
	m.duration += o.Duration
	m.mu.Unlock()
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Skipped    int64
	Succeeded  int64
	Crashed    int64
	Failed     int64
	Iterations int64
	Duration   time.Duration
}

// Total is the number of repetitions recorded.
func (s Stats) Total() int64 { return s.Skipped + s.Succeeded + s.Crashed + s.Failed }

// GetStats returns current metrics
func (m *Metrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Skipped:    m.counts[api.RunSkipped],
		Succeeded:  m.counts[api.RunSucceeded],
		Crashed:    m.counts[api.RunCrashed],
		Failed:     m.counts[api.RunFailed],
		Iterations: m.iterations,
		Duration:   m.duration,
	}
}
