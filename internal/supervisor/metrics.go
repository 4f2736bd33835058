package supervisor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// failoverHistory bounds the duration samples kept for percentiles.
const failoverHistory = 256

// Metrics are the supervisor's monotonic counters plus a bounded history
// of failover durations. Mutated only by the supervisor; external callers
// read point-in-time snapshots.
type Metrics struct {
	blocksPlayed    atomic.Uint64
	underruns       atomic.Uint64
	failovers       atomic.Uint64
	crashes         atomic.Uint64
	patchSwaps      atomic.Uint64
	ringOverflows   atomic.Uint64
	commandsApplied atomic.Uint64
	commandDrops    atomic.Uint64
	retiredMisses   atomic.Uint64 // period misses of dead worker instances

	mu        sync.Mutex
	durations []time.Duration // failover samples, oldest dropped first
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordFailover appends one crash-to-flip duration sample.
func (m *Metrics) RecordFailover(d time.Duration) {
	m.failovers.Add(1)
	m.mu.Lock()
	m.durations = append(m.durations, d)
	if len(m.durations) > failoverHistory {
		m.durations = m.durations[len(m.durations)-failoverHistory:]
	}
	m.mu.Unlock()
}

// percentile returns the pth percentile of the recorded failover durations
// in milliseconds, 0 if none recorded.
func (m *Metrics) percentile(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return float64(sorted[idx]) / float64(time.Millisecond)
}

// MetricsSnapshot is the read-only view served by status.
type MetricsSnapshot struct {
	BlocksPlayed    uint64 `json:"blocks_produced"`
	Underruns       uint64 `json:"underruns"`
	Failovers       uint64 `json:"failovers"`
	Crashes         uint64 `json:"crashes"`
	PatchSwaps      uint64 `json:"patch_swaps"`
	RingOverflows   uint64 `json:"ring_overflows"`
	CommandsApplied uint64 `json:"commands_applied"`
	CommandDrops    uint64 `json:"command_drops"`
	PeriodMisses    uint64 `json:"period_misses"`

	FailoverP50MS float64 `json:"failover_p50_ms"`
	FailoverP95MS float64 `json:"failover_p95_ms"`
	FailoverP99MS float64 `json:"failover_p99_ms"`
}

// Snapshot copies the counters. liveMisses is the sum of misses reported
// by the worker instances currently running.
func (m *Metrics) Snapshot(liveMisses uint64) MetricsSnapshot {
	m.mu.Lock()
	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	m.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return MetricsSnapshot{
		BlocksPlayed:    m.blocksPlayed.Load(),
		Underruns:       m.underruns.Load(),
		Failovers:       m.failovers.Load(),
		Crashes:         m.crashes.Load(),
		PatchSwaps:      m.patchSwaps.Load(),
		RingOverflows:   m.ringOverflows.Load(),
		CommandsApplied: m.commandsApplied.Load(),
		CommandDrops:    m.commandDrops.Load(),
		PeriodMisses:    m.retiredMisses.Load() + liveMisses,
		FailoverP50MS:   m.percentile(sorted, 0.50),
		FailoverP95MS:   m.percentile(sorted, 0.95),
		FailoverP99MS:   m.percentile(sorted, 0.99),
	}
}
