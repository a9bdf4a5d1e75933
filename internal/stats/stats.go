// Package stats aggregates run-scoped telemetry: per-phase counters, bounded
// timing samples for rolling averages, and a bounded error log. A Collector
// lives for exactly one pipeline run.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"magpie/internal/catalog"
)

const maxErrorEntries = 50

// ErrorEntry records one item failure during a run.
type ErrorEntry struct {
	Phase   catalog.Phase
	ItemID  string
	Message string
	At      time.Time
}

// PhaseSnapshot summarizes one phase's counters.
type PhaseSnapshot struct {
	Attempted  int
	Succeeded  int
	Failed     int
	AvgPerItem time.Duration
	Samples    int
}

type phaseStats struct {
	attempted int
	succeeded int
	failed    int
	timings   []time.Duration
}

// Collector accumulates telemetry for a single run.
type Collector struct {
	mu        sync.Mutex
	window    int
	startedAt time.Time
	phases    map[catalog.Phase]*phaseStats
	errors    []ErrorEntry
}

// NewCollector creates a collector keeping at most window timing samples per
// phase for rolling-average calculations.
func NewCollector(window int) *Collector {
	if window < 1 {
		window = 1
	}
	return &Collector{
		window:    window,
		startedAt: time.Now(),
		phases:    make(map[catalog.Phase]*phaseStats),
	}
}

func (c *Collector) phase(p catalog.Phase) *phaseStats {
	ps, ok := c.phases[p]
	if !ok {
		ps = &phaseStats{}
		c.phases[p] = ps
	}
	return ps
}

// RecordAttempt counts one item dispatched into a phase.
func (c *Collector) RecordAttempt(phase catalog.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase(phase).attempted++
}

// RecordSuccess counts a completed item and records its duration.
func (c *Collector) RecordSuccess(phase catalog.Phase, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.phase(phase)
	ps.succeeded++
	c.addTimingLocked(ps, elapsed)
}

// RecordFailure counts a failed item, records its duration, and appends to
// the bounded error log.
func (c *Collector) RecordFailure(phase catalog.Phase, itemID, message string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.phase(phase)
	ps.failed++
	c.addTimingLocked(ps, elapsed)
	c.errors = append(c.errors, ErrorEntry{Phase: phase, ItemID: itemID, Message: message, At: time.Now()})
	if len(c.errors) > maxErrorEntries {
		c.errors = c.errors[len(c.errors)-maxErrorEntries:]
	}
}

func (c *Collector) addTimingLocked(ps *phaseStats, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	ps.timings = append(ps.timings, elapsed)
	if len(ps.timings) > c.window {
		ps.timings = ps.timings[len(ps.timings)-c.window:]
	}
}

// RollingAverage returns the mean of the retained samples for a phase.
func (c *Collector) RollingAverage(phase catalog.Phase) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.phases[phase]
	if !ok || len(ps.timings) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, d := range ps.timings {
		total += d
	}
	return total / time.Duration(len(ps.timings)), true
}

// Snapshot returns per-phase counters.
func (c *Collector) Snapshot() map[catalog.Phase]PhaseSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[catalog.Phase]PhaseSnapshot, len(c.phases))
	for phase, ps := range c.phases {
		snap := PhaseSnapshot{
			Attempted: ps.attempted,
			Succeeded: ps.succeeded,
			Failed:    ps.failed,
			Samples:   len(ps.timings),
		}
		if len(ps.timings) > 0 {
			var total time.Duration
			for _, d := range ps.timings {
				total += d
			}
			snap.AvgPerItem = total / time.Duration(len(ps.timings))
		}
		out[phase] = snap
	}
	return out
}

// Errors returns the retained error entries, oldest first.
func (c *Collector) Errors() []ErrorEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorEntry(nil), c.errors...)
}

// TotalFailed returns the failure count across all phases.
func (c *Collector) TotalFailed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, ps := range c.phases {
		total += ps.failed
	}
	return total
}

// Report renders a human-readable end-of-run summary.
func (c *Collector) Report() string {
	snapshot := c.Snapshot()
	errs := c.Errors()

	phases := make([]catalog.Phase, 0, len(snapshot))
	for phase := range snapshot {
		phases = append(phases, phase)
	}
	order := make(map[catalog.Phase]int, len(catalog.PhaseOrder()))
	for i, p := range catalog.PhaseOrder() {
		order[p] = i
	}
	sort.Slice(phases, func(i, j int) bool {
		oi, iok := order[phases[i]]
		oj, jok := order[phases[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return phases[i] < phases[j]
	})

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Phase", "Attempted", "Succeeded", "Failed", "Avg/Item"})
	for _, phase := range phases {
		snap := snapshot[phase]
		avg := "-"
		if snap.AvgPerItem > 0 {
			avg = snap.AvgPerItem.Round(time.Millisecond).String()
		}
		tw.AppendRow(table.Row{string(phase), snap.Attempted, snap.Succeeded, snap.Failed, avg})
	}
	report := fmt.Sprintf("Run duration: %s\n%s", time.Since(c.startedAt).Round(time.Second), tw.Render())

	if len(errs) > 0 {
		et := table.NewWriter()
		et.AppendHeader(table.Row{"Phase", "Item", "Error"})
		for _, entry := range errs {
			et.AppendRow(table.Row{string(entry.Phase), entry.ItemID, entry.Message})
		}
		report += fmt.Sprintf("\nRecent errors (%d):\n%s", len(errs), et.Render())
	}
	return report
}
