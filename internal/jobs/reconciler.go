package jobs

import (
	"context"
	"log/slog"
	"time"
)

// StaleReclaimer performs the actual database sweep, transitioning
// non-terminal rows older than olderThan (or unconditionally, when olderThan
// is the zero time) to FAILED. Implementations live in internal/repository.
type StaleReclaimer interface {
	ReconcileStaleJobs(ctx context.Context, olderThan time.Time) (reclaimed int, err error)
}

// Reconciler sweeps stale non-terminal (PENDING or RUNNING) rows on startup, and periodically
// thereafter, so no job outlives the process that owned it without
// transitioning to a terminal state.
type Reconciler struct {
	db       StaleReclaimer
	staleTTL time.Duration
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewReconciler builds a Reconciler that considers non-terminal rows stale once
// they have not been updated for staleTTL, and repeats the sweep every
// interval once Start is called.
func NewReconciler(db StaleReclaimer, staleTTL, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{db: db, staleTTL: staleTTL, interval: interval, logger: logger}
}

// ReconcileStartup performs the unconditional startup sweep: every
// non-terminal row is reclaimed regardless of age, since the process that
// owned it is known to have restarted.
func (r *Reconciler) ReconcileStartup(ctx context.Context) error {
	n, err := r.db.ReconcileStaleJobs(ctx, time.Time{})
	if err != nil {
		r.logger.Error("startup job reconciliation failed", "error", err)
		return err
	}
	r.logger.Info("startup job reconciliation complete", "reclaimed", n)
	return nil
}

// Start launches the periodic sweeper goroutine. Call Stop to shut it down.
func (r *Reconciler) Start(ctx context.Context) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.runSweep(ctx)
			}
		}
	}()
}

func (r *Reconciler) runSweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleTTL)
	n, err := r.db.ReconcileStaleJobs(ctx, cutoff)
	if err != nil {
		r.logger.Error("periodic job reconciliation sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("periodic job reconciliation sweep reclaimed stale jobs", "reclaimed", n)
	}
}

// Stop signals the periodic sweeper to exit and waits for it to finish. Safe
// to call even if Start was never called.
func (r *Reconciler) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

// ReclaimMessage is the fixed error message the reconciler writes onto every
// job row it force-fails.
const ReclaimMessage = "System restart/recovery"
