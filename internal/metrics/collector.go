// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated timings for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Turn          *OperationSnapshot `json:"turn,omitempty"`
	AgentCall     *OperationSnapshot `json:"agentCall,omitempty"`
	RunPoll       *OperationSnapshot `json:"runPoll,omitempty"`
	Fallback      *OperationSnapshot `json:"fallback,omitempty"`
	Outcomes      map[string]int64   `json:"outcomes"`
}

// Operation names for the collector.
const (
	OpTurn      = "turn"
	OpAgentCall = "agent_call"
	OpRunPoll   = "run_poll"
	OpFallback  = "fallback"
)

// Recorder is the write side of the collector, as used by the turn
// orchestrator.
type Recorder interface {
	RecordTiming(op string, duration time.Duration)
	RecordOutcome(outcome string)
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	outcomes  map[string]int64
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		outcomes:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordOutcome counts one turn ending with the named outcome.
func (c *Collector) RecordOutcome(outcome string) {
	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Turn:          snapshotOp(c.ops[OpTurn]),
		AgentCall:     snapshotOp(c.ops[OpAgentCall]),
		RunPoll:       snapshotOp(c.ops[OpRunPoll]),
		Fallback:      snapshotOp(c.ops[OpFallback]),
		Outcomes:      outcomes,
	}
}

// Discard is a Recorder that drops everything.
type Discard struct{}

// RecordTiming implements Recorder.
func (Discard) RecordTiming(string, time.Duration) {}

// RecordOutcome implements Recorder.
func (Discard) RecordOutcome(string) {}
