package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/stretchr/testify/require"
)

func recordingUpdater() (StatusUpdater, func() map[string]models.Status) {
	var mu sync.Mutex
	statuses := make(map[string]models.Status)
	updater := func(ctx context.Context, jobID string, status models.Status, errMsg string) error {
		mu.Lock()
		defer mu.Unlock()
		statuses[jobID] = status
		return nil
	}
	snapshot := func() map[string]models.Status {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]models.Status, len(statuses))
		for k, v := range statuses {
			out[k] = v
		}
		return out
	}
	return updater, snapshot
}

func TestStartJob_CompletesSuccessfully(t *testing.T) {
	updater, snapshot := recordingUpdater()
	m := NewManager(2, updater, nil)

	done := make(chan struct{})
	err := m.StartJob(context.Background(), "job-1", "req-1", func(ctx context.Context, cancel *atomic.Bool) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	<-done
	m.Stop()

	require.Equal(t, models.StatusCompleted, snapshot()["job-1"])
}

func TestStartJob_FailureTransitionsToFailed(t *testing.T) {
	updater, snapshot := recordingUpdater()
	m := NewManager(2, updater, nil)

	err := m.StartJob(context.Background(), "job-1", "req-1", func(ctx context.Context, cancel *atomic.Bool) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	m.Stop()

	require.Equal(t, models.StatusFailed, snapshot()["job-1"])
}

func TestStartJob_CancelFlagYieldsCancelledOnNormalReturn(t *testing.T) {
	updater, snapshot := recordingUpdater()
	m := NewManager(2, updater, nil)

	started := make(chan struct{})
	proceed := make(chan struct{})
	err := m.StartJob(context.Background(), "job-1", "req-1", func(ctx context.Context, cancel *atomic.Bool) error {
		close(started)
		<-proceed
		return nil
	})
	require.NoError(t, err)

	<-started
	m.Cancel("job-1")
	close(proceed)
	m.Stop()

	require.Equal(t, models.StatusCancelled, snapshot()["job-1"])
}

func TestStartJob_RejectsBeyondConcurrencyCap(t *testing.T) {
	updater, _ := recordingUpdater()
	m := NewManager(1, updater, nil)

	block := make(chan struct{})
	err := m.StartJob(context.Background(), "job-1", "req-1", func(ctx context.Context, cancel *atomic.Bool) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	err = m.StartJob(context.Background(), "job-2", "req-2", func(ctx context.Context, cancel *atomic.Bool) error {
		return nil
	})
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindResourceExhausted))

	close(block)
	m.Stop()
}

func TestList_ReturnsSnapshotOfAllJobs(t *testing.T) {
	updater, _ := recordingUpdater()
	m := NewManager(4, updater, nil)

	for i := 0; i < 3; i++ {
		err := m.StartJob(context.Background(), string(rune('a'+i)), "req", func(ctx context.Context, cancel *atomic.Bool) error {
			return nil
		})
		require.NoError(t, err)
	}
	m.Stop()

	require.Len(t, m.List(), 3)
}

func TestStatus_UnknownJobReturnsFalse(t *testing.T) {
	m := NewManager(2, nil, nil)
	_, ok := m.Status("nonexistent")
	require.False(t, ok)
}

func TestCancel_PollingLoopObservesFlag(t *testing.T) {
	updater, snapshot := recordingUpdater()
	m := NewManager(1, updater, nil)

	iterations := 0
	err := m.StartJob(context.Background(), "job-1", "req-1", func(ctx context.Context, cancel *atomic.Bool) error {
		for !cancel.Load() {
			iterations++
			if iterations > 1000 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	m.Cancel("job-1")
	m.Stop()

	require.Equal(t, models.StatusCancelled, snapshot()["job-1"])
	require.Less(t, iterations, 1000)
}

func TestStop_SignalsEveryFlagWithoutExplicitCancel(t *testing.T) {
	updater, snapshot := recordingUpdater()
	m := NewManager(2, updater, nil)

	started := make(chan struct{}, 2)
	iterations := make([]int, 2)
	for i := 0; i < 2; i++ {
		idx := i
		err := m.StartJob(context.Background(), string(rune('a'+idx)), "req", func(ctx context.Context, cancel *atomic.Bool) error {
			started <- struct{}{}
			for !cancel.Load() {
				iterations[idx]++
				if iterations[idx] > 10000 {
					break
				}
				time.Sleep(time.Millisecond)
			}
			return nil
		})
		require.NoError(t, err)
	}

	<-started
	<-started

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; it must signal every job's cancel flag itself")
	}

	statuses := snapshot()
	require.Equal(t, models.StatusCancelled, statuses["a"])
	require.Equal(t, models.StatusCancelled, statuses["b"])
	require.Less(t, iterations[0], 10000)
	require.Less(t, iterations[1], 10000)
}
