package orchestrator

import "time"

// retryState is the backoff machine for orchestrator-level cycle failures.
// Task-local failures never reach it; only a failed cycle does.
type retryState struct {
	consecutive int
	max         int
	poll        time.Duration
	short       time.Duration
	long        time.Duration
}

// Next records the outcome of a cycle and returns how long to sleep
// before the next one. A success resets the counter and returns the poll
// interval. A failure sleeps the short backoff until the counter reaches
// max, at which point it sleeps the long backoff once and resets to zero.
func (r *retryState) Next(success bool) time.Duration {
	if success {
		r.consecutive = 0
		return r.poll
	}
	r.consecutive++
	if r.consecutive >= r.max {
		r.consecutive = 0
		return r.long
	}
	return r.short
}
