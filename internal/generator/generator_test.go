package generator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	batches  [][]models.TelemetryRecord
	progress []int64
}

func (f *fakeSink) InsertBatch(ctx context.Context, records []models.TelemetryRecord) error {
	cp := append([]models.TelemetryRecord(nil), records...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) UpdateProgress(ctx context.Context, insertedRows int64) error {
	f.progress = append(f.progress, insertedRows)
	return nil
}

func testConfig() Config {
	return Config{
		RunID:           "run1",
		Tier:            "free",
		HostCount:       3,
		StartTime:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:         time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
		IntervalSeconds: 600,
		Seed:            42,
		BatchSize:       4,
	}
}

func TestRun_ProducesExpectedRowCountAndMonotoneRecordIDs(t *testing.T) {
	sink := &fakeSink{}
	g := New(testConfig(), sink)
	err := g.Run(context.Background(), &atomic.Bool{})
	require.NoError(t, err)

	var all []models.TelemetryRecord
	for _, b := range sink.batches {
		all = append(all, b...)
	}
	// 6 ten-minute buckets in an hour * 3 hosts
	require.Len(t, all, 18)

	var prevID int64
	for _, r := range all {
		require.Greater(t, r.RecordID, prevID)
		prevID = r.RecordID
		require.True(t, r.IngestionTime.After(r.MetricTimestamp) || r.IngestionTime.Equal(r.MetricTimestamp))
		require.GreaterOrEqual(t, r.CPUUsage, 0.0)
		require.LessOrEqual(t, r.CPUUsage, 100.0)
	}
}

func TestRun_DeterministicUnderFixedSeed(t *testing.T) {
	sinkA := &fakeSink{}
	gA := New(testConfig(), sinkA)
	require.NoError(t, gA.Run(context.Background(), &atomic.Bool{}))

	sinkB := &fakeSink{}
	gB := New(testConfig(), sinkB)
	require.NoError(t, gB.Run(context.Background(), &atomic.Bool{}))

	require.Equal(t, len(sinkA.batches), len(sinkB.batches))
	for i := range sinkA.batches {
		for j := range sinkA.batches[i] {
			require.InDelta(t, sinkA.batches[i][j].CPUUsage, sinkB.batches[i][j].CPUUsage, 1e-9)
		}
	}
}

type cancelingSink struct {
	fakeSink
	cancel     *atomic.Bool
	afterBatch int
}

func (c *cancelingSink) InsertBatch(ctx context.Context, records []models.TelemetryRecord) error {
	if err := c.fakeSink.InsertBatch(ctx, records); err != nil {
		return err
	}
	if len(c.fakeSink.batches) >= c.afterBatch {
		c.cancel.Store(true)
	}
	return nil
}

func TestRun_CancellationStopsBetweenTimestamps(t *testing.T) {
	cfg := testConfig()
	cfg.EndTime = cfg.StartTime.Add(24 * time.Hour)
	cancel := &atomic.Bool{}
	sink := &cancelingSink{cancel: cancel, afterBatch: 1}
	g := New(cfg, sink)

	err := g.Run(context.Background(), cancel)
	require.NoError(t, err)

	var total int
	for _, b := range sink.batches {
		total += len(b)
	}
	fullRun := 3 * 24 * 6 // hosts * hours * buckets/hour
	require.Less(t, total, fullRun)
	require.Greater(t, total, 0)
}

func TestInitializeHosts_AssignsRoundRobinRegionsAndCorrelatedBaselines(t *testing.T) {
	cfg := testConfig()
	cfg.Regions = []string{"r1", "r2"}
	g := New(cfg, &fakeSink{})
	g.InitializeHosts()

	require.Len(t, g.hosts, 3)
	require.Equal(t, "r1", g.hosts[0].Region)
	require.Equal(t, "r2", g.hosts[1].Region)
	require.Equal(t, "r1", g.hosts[2].Region)
	for _, h := range g.hosts {
		require.InDelta(t, h.cpuBase*0.8+10.0, h.memBase, 1e-9)
	}
}
