package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRetentionCleaner struct {
	mu            sync.Mutex
	calls         []int
	retentionDays int
	err           error
}

func (f *fakeRetentionCleaner) RunRetentionCleanup(ctx context.Context, retentionDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, retentionDays)
	return f.err
}

func (f *fakeRetentionCleaner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRetentionSweeper_RunsAtInterval(t *testing.T) {
	fc := &fakeRetentionCleaner{}
	s := NewRetentionSweeper(fc, 90, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(35 * time.Millisecond)
	s.Stop()
	cancel()

	require.GreaterOrEqual(t, fc.callCount(), 2)
}

func TestRetentionSweeper_ZeroIntervalDisablesSweep(t *testing.T) {
	fc := &fakeRetentionCleaner{}
	s := NewRetentionSweeper(fc, 90, 0, nil)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	require.Equal(t, 0, fc.callCount())
}

func TestRetentionSweeper_StopIsSafeWithoutStart(t *testing.T) {
	fc := &fakeRetentionCleaner{}
	s := NewRetentionSweeper(fc, 90, time.Hour, nil)
	s.Stop()
}
