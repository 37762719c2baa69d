package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// Work is the function a worker executes for one job. It must poll cancel
// between iterations of any long-running loop.
type Work func(ctx context.Context, cancel *atomic.Bool) error

// Info is a snapshot of one job's manager-tracked state.
type Info struct {
	JobID     string
	RequestID string
	Status    models.Status
	Error     string
}

// StatusUpdater persists a job's transition; implementations route through
// internal/repository so the database row, not just manager memory, reflects
// the job's status.
type StatusUpdater func(ctx context.Context, jobID string, status models.Status, errMsg string) error

// Manager is an in-process worker pool bounded by a concurrency cap, with
// cooperative cancellation via a per-job atomic flag.
type Manager struct {
	sem     *semaphore.Weighted
	maxJobs int64

	mu     sync.Mutex
	jobs   map[string]*Info
	flags  map[string]*atomic.Bool
	wg     sync.WaitGroup
	update StatusUpdater
	logger *slog.Logger
}

// NewManager builds a Manager capped at maxJobs concurrently running jobs.
func NewManager(maxJobs int, update StatusUpdater, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sem:     semaphore.NewWeighted(int64(maxJobs)),
		maxJobs: int64(maxJobs),
		jobs:    make(map[string]*Info),
		flags:   make(map[string]*atomic.Bool),
		update:  update,
		logger:  log,
	}
}

// StartJob registers jobID as RUNNING and executes work on a worker
// goroutine. Fails with RESOURCE_EXHAUSTED if the concurrency cap is
// already saturated.
func (m *Manager) StartJob(ctx context.Context, jobID, requestID string, work Work) error {
	if !m.sem.TryAcquire(1) {
		return apierr.New(apierr.KindResourceExhausted, "max concurrent jobs (%d) reached", m.maxJobs)
	}

	cancel := &atomic.Bool{}
	m.mu.Lock()
	m.jobs[jobID] = &Info{JobID: jobID, RequestID: requestID, Status: models.StatusRunning}
	m.flags[jobID] = cancel
	m.mu.Unlock()

	if m.update != nil {
		if err := m.update(ctx, jobID, models.StatusRunning, ""); err != nil {
			m.sem.Release(1)
			m.mu.Lock()
			delete(m.jobs, jobID)
			delete(m.flags, jobID)
			m.mu.Unlock()
			return err
		}
	}

	m.wg.Add(1)
	go m.run(ctx, jobID, cancel, work)
	return nil
}

func (m *Manager) run(ctx context.Context, jobID string, cancel *atomic.Bool, work Work) {
	defer m.wg.Done()
	defer m.sem.Release(1)

	jlog := logger.JobLogger(m.logger, jobID)
	err := work(ctx, cancel)

	final := models.StatusCompleted
	errMsg := ""
	switch {
	case err != nil:
		final = models.StatusFailed
		errMsg = err.Error()
		jlog.Error("job failed", "error", errMsg)
	case cancel.Load():
		final = models.StatusCancelled
		jlog.Info("job cancelled")
	default:
		jlog.Info("job completed")
	}

	m.mu.Lock()
	if info, ok := m.jobs[jobID]; ok {
		info.Status = final
		info.Error = errMsg
	}
	m.mu.Unlock()

	if m.update != nil {
		_ = m.update(context.Background(), jobID, final, errMsg)
	}
}

// Cancel sets jobID's cancellation flag. It is a no-op if the job is unknown
// or already terminal; cancellation is cooperative and takes effect only
// when work next polls the flag.
func (m *Manager) Cancel(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flag, ok := m.flags[jobID]; ok {
		flag.Store(true)
	}
}

// List returns a snapshot of every job the manager has tracked since start.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.jobs))
	for _, info := range m.jobs {
		out = append(out, *info)
	}
	return out
}

// Status returns jobID's last known status and whether it is tracked.
func (m *Manager) Status(jobID string) (models.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.jobs[jobID]
	if !ok {
		return "", false
	}
	return info.Status, true
}

// Stop signals every in-flight job's cancellation flag, then blocks until
// all workers have returned. Call once, at shutdown; no new jobs should be
// started afterward.
func (m *Manager) Stop() {
	m.mu.Lock()
	for jobID, flag := range m.flags {
		flag.Store(true)
		logger.JobLogger(m.logger, jobID).Info("shutdown: signaling job cancellation")
	}
	m.mu.Unlock()
	m.wg.Wait()
}
