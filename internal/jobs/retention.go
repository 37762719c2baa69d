package jobs

import (
	"context"
	"log/slog"
	"time"
)

// RetentionCleaner deletes (or, on a partitioned backend, drops) archival
// telemetry older than a retention window. Implementations live in
// internal/repository.
type RetentionCleaner interface {
	RunRetentionCleanup(ctx context.Context, retentionDays int) error
}

// RetentionSweeper periodically runs retention cleanup against the archival
// table, mirroring Reconciler's periodic-ticker shape.
type RetentionSweeper struct {
	db            RetentionCleaner
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRetentionSweeper builds a RetentionSweeper that deletes archival rows
// older than retentionDays every interval once Start is called.
func NewRetentionSweeper(db RetentionCleaner, retentionDays int, interval time.Duration, logger *slog.Logger) *RetentionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionSweeper{db: db, retentionDays: retentionDays, interval: interval, logger: logger}
}

// Start launches the periodic sweeper goroutine. Call Stop to shut it down.
// A non-positive interval disables the sweeper: Start becomes a no-op.
func (s *RetentionSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.db.RunRetentionCleanup(ctx, s.retentionDays); err != nil {
					s.logger.Error("retention cleanup sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop signals the periodic sweeper to exit and waits for it to finish. Safe
// to call even if Start was never called (or declined to start).
func (s *RetentionSweeper) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}
