package dbpool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool_test.db")
	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGet_AcquireWithinPoolSize(t *testing.T) {
	db := openTestDB(t)
	pool := New(db, 2, 500*time.Millisecond, nil)

	h1, err := pool.Get(context.Background())
	require.NoError(t, err)
	h2, err := pool.Get(context.Background())
	require.NoError(t, err)

	stats := pool.GetStats()
	require.Equal(t, 2, stats.InUse)

	h1.Release(true)
	h2.Release(true)
}

func TestGet_TimesOutWhenExhausted(t *testing.T) {
	db := openTestDB(t)
	pool := New(db, 1, 50*time.Millisecond, nil)

	h1, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer h1.Release(true)

	_, err = pool.Get(context.Background())
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindPoolTimeout))

	stats := pool.GetStats()
	require.EqualValues(t, 1, stats.TotalTimeouts)
}

func TestGet_ReleaseWakesWaiter(t *testing.T) {
	db := openTestDB(t)
	pool := New(db, 1, time.Second, nil)

	h1, err := pool.Get(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		h2, err := pool.Get(context.Background())
		if err == nil {
			h2.Release(true)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h1.Release(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken after release")
	}
}

func TestGet_InitializerRunsOnNewConnection(t *testing.T) {
	db := openTestDB(t)
	var initialized int
	pool := New(db, 2, time.Second, func(ctx context.Context, conn *sqlx.Conn) error {
		initialized++
		return nil
	})

	h, err := pool.Get(context.Background())
	require.NoError(t, err)
	h.Release(true)

	require.Equal(t, 1, initialized)
}

func TestShutdown_FailsPendingAndDrainsIdle(t *testing.T) {
	db := openTestDB(t)
	pool := New(db, 1, time.Second, nil)

	h, err := pool.Get(context.Background())
	require.NoError(t, err)
	h.Release(true)

	pool.Shutdown()

	_, err = pool.Get(context.Background())
	require.Error(t, err)
}

func TestGetStats_InUsePlusAvailableNeverExceedsPoolSize(t *testing.T) {
	db := openTestDB(t)
	pool := New(db, 3, time.Second, nil)

	h1, err := pool.Get(context.Background())
	require.NoError(t, err)
	h2, err := pool.Get(context.Background())
	require.NoError(t, err)
	h1.Release(true)

	stats := pool.GetStats()
	require.LessOrEqual(t, stats.InUse+stats.Available, 3)

	h2.Release(true)
}
