package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	repo, err := NewSQLiteRepository(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sql, err := migrations.SQLite.ReadFile("sqlite/0001_init.sql")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(ctx, string(sql)))
	return repo
}

// seedDataset inserts a minimal generation run so foreign-key-bound queries
// (archival rows, model runs, score jobs) have a dataset to reference.
func seedDataset(t *testing.T, repo *SQLiteRepository, datasetID string) {
	t.Helper()
	run := &models.GenerationRun{
		RunID:           datasetID,
		Tier:            "small",
		HostCount:       1,
		StartTime:       time.Now().Add(-time.Hour),
		EndTime:         time.Now(),
		IntervalSeconds: 60,
		Seed:            1,
		Status:          models.StatusCompleted,
		Config:          []byte(`{}`),
	}
	require.NoError(t, repo.CreateRun(context.Background(), run))
}

func TestCreateAndGetRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedDataset(t, repo, "run-1")

	got, err := repo.GetRunStatus(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), got.InsertedRows)

	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", models.StatusRunning, 500, ""))
	got, err = repo.GetRunStatus(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, got.Status)
	require.Equal(t, int64(500), got.InsertedRows)

	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", models.StatusFailed, 500, "boom"))
	got, err = repo.GetRunStatus(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	require.Equal(t, "boom", *got.Error)
}

func TestCreateScoreJobRejectsConcurrentRunForSamePair(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedDataset(t, repo, "dataset-1")
	modelRunID, err := repo.CreateModelRun(ctx, "dataset-1", "model", "req-0")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateModelRunStatus(ctx, modelRunID, models.StatusCompleted, "/tmp/model.json", ""))

	jobID, err := repo.CreateScoreJob(ctx, "dataset-1", modelRunID, "req-1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	_, err = repo.CreateScoreJob(ctx, "dataset-1", modelRunID, "req-2")
	require.Error(t, err)
	require.Equal(t, apierr.KindConflict, apierr.KindOf(err))

	require.NoError(t, repo.UpdateScoreJob(ctx, jobID, models.StatusCompleted, 100, 100, 100, ""))

	secondJobID, err := repo.CreateScoreJob(ctx, "dataset-1", modelRunID, "req-3")
	require.NoError(t, err)
	require.NotEmpty(t, secondJobID)
}

func TestCompleteHPORun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedDataset(t, repo, "dataset-1")

	parentID, err := repo.CreateModelRun(ctx, "dataset-1", "sweep", "req-1")
	require.NoError(t, err)
	trialID, err := repo.CreateModelRun(ctx, "dataset-1", "trial", "req-1")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateModelRunStatus(ctx, trialID, models.StatusCompleted, "/tmp/trial.json", ""))

	require.NoError(t, repo.CompleteHPORun(ctx, parentID, trialID, 0.125))

	parent, err := repo.GetModelRun(ctx, parentID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, parent.Status)
	require.Nil(t, parent.ArtifactPath)
	require.NotNil(t, parent.BestTrialRunID)
	require.Equal(t, trialID, *parent.BestTrialRunID)
	require.NotNil(t, parent.BestMetricValue)
	require.InDelta(t, 0.125, *parent.BestMetricValue, 1e-9)
}

func TestGetTopKRejectsUnknownColumn(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedDataset(t, repo, "dataset-1")

	_, err := repo.GetTopK(ctx, "dataset-1", "region; DROP TABLE host_telemetry_archival;--", 10, nil, "", "", "")
	require.Error(t, err)
	require.Equal(t, apierr.KindInvalidArgument, apierr.KindOf(err))
}

func TestGetHistogramRejectsUnknownMetric(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedDataset(t, repo, "dataset-1")

	_, err := repo.GetHistogram(ctx, "dataset-1", HistogramFilter{Metric: "not_a_real_metric", Bins: 10})
	require.Error(t, err)
	require.Equal(t, apierr.KindInvalidArgument, apierr.KindOf(err))
}
