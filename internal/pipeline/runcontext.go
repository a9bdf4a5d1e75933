package pipeline

import (
	"sync"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/stats"
)

// RunContext carries the state of one run through every phase function:
// the cancellation signal, the item store, and the telemetry collector.
// Nothing about a run lives in package-level state.
type RunContext struct {
	RunID string
	Store *catalog.Store
	Stats *stats.Collector

	stopOnce sync.Once
	stop     chan struct{}

	mu        sync.Mutex
	phase     catalog.Phase
	remaining int
	message   string
}

func newRunContext(runID string, store *catalog.Store, collector *stats.Collector) *RunContext {
	return &RunContext{
		RunID: runID,
		Store: store,
		Stats: collector,
		stop:  make(chan struct{}),
	}
}

// RequestStop asks the run to stop after in-flight items drain. Idempotent.
func (rc *RunContext) RequestStop() {
	rc.stopOnce.Do(func() { close(rc.stop) })
}

// Stopped reports whether a stop has been requested.
func (rc *RunContext) Stopped() bool {
	select {
	case <-rc.stop:
		return true
	default:
		return false
	}
}

func (rc *RunContext) beginPhase(phase catalog.Phase, workItems int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.phase = phase
	rc.remaining = workItems
}

func (rc *RunContext) itemDone() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.remaining > 0 {
		rc.remaining--
	}
}

func (rc *RunContext) setMessage(message string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.message = message
}

// CurrentPhase returns the phase the run is executing.
func (rc *RunContext) CurrentPhase() catalog.Phase {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.phase
}

// Message returns the latest human-readable progress note.
func (rc *RunContext) Message() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.message
}

// modelPhases are the phases whose rolling averages drive both the ETA
// estimate and model limiter tuning.
var modelPhases = []catalog.Phase{catalog.PhaseMedia, catalog.PhaseClassify}

// modelAverage returns the mean rolling average across the model-call phases
// that have samples.
func (rc *RunContext) modelAverage() (time.Duration, bool) {
	var total time.Duration
	samples := 0
	for _, phase := range modelPhases {
		if avg, ok := rc.Stats.RollingAverage(phase); ok {
			total += avg
			samples++
		}
	}
	if samples == 0 {
		return 0, false
	}
	return total / time.Duration(samples), true
}

// ETA estimates time remaining in the current phase: items left times the
// rolling average duration across the model-call phases. Zero until a model
// call has been sampled.
func (rc *RunContext) ETA() time.Duration {
	rc.mu.Lock()
	remaining := rc.remaining
	rc.mu.Unlock()
	if remaining == 0 {
		return 0
	}
	avg, ok := rc.modelAverage()
	if !ok {
		return 0
	}
	return time.Duration(remaining) * avg
}
