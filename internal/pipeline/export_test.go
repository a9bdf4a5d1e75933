package pipeline

import "time"

// SetSleep replaces the retry backoff sleep for tests.
func (o *Orchestrator) SetSleep(fn func(time.Duration)) {
	o.sleep = fn
}

// ModelLimit exposes the model limiter size for tuning tests.
func (o *Orchestrator) ModelLimit() int {
	return o.limiters[classModel].limit()
}
