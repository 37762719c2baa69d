// Package jobs implements the shared job-lifecycle machinery every
// long-running operation (generation, training, scoring) is driven through:
// the state machine, the concurrency-capped worker pool, and the stale-job
// reconciler.
package jobs

import "github.com/kubilitics/anomaly-platform/internal/models"

// IsTransitionAllowed reports whether next is a legal transition from
// current. Self-transitions are always allowed; terminal states accept no
// other transition.
func IsTransitionAllowed(current, next models.Status) bool {
	if current == next {
		return true
	}
	switch current {
	case models.StatusPending:
		return next == models.StatusRunning || next == models.StatusCancelled || next == models.StatusFailed
	case models.StatusRunning:
		return next == models.StatusCompleted || next == models.StatusSucceeded || next == models.StatusFailed || next == models.StatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether state accepts no further transitions.
func IsTerminal(state models.Status) bool {
	return state.Terminal()
}
