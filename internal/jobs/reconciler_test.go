package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeReclaimer struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
	err   error
}

func (f *fakeReclaimer) ReconcileStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, olderThan)
	return f.n, f.err
}

func (f *fakeReclaimer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestReconcileStartup_UnconditionalSweep(t *testing.T) {
	fr := &fakeReclaimer{n: 3}
	r := NewReconciler(fr, time.Minute, time.Hour, nil)

	err := r.ReconcileStartup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fr.callCount())
	require.True(t, fr.calls[0].IsZero())
}

func TestPeriodicSweep_RunsAtInterval(t *testing.T) {
	fr := &fakeReclaimer{}
	r := NewReconciler(fr, time.Minute, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	time.Sleep(35 * time.Millisecond)
	r.Stop()
	cancel()

	require.GreaterOrEqual(t, fr.callCount(), 2)
}

func TestStop_IsSafeWithoutStart(t *testing.T) {
	fr := &fakeReclaimer{}
	r := NewReconciler(fr, time.Minute, time.Hour, nil)
	r.Stop()
}
