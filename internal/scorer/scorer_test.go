package scorer

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/kubilitics/anomaly-platform/internal/repository"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory stand-in for internal/repository.Repository,
// narrowed to what the scorer needs.
type fakeRepo struct {
	total  int64
	rows   []repository.ScoringRow
	scores []repository.ScoreInput

	updates []jobUpdate
}

type jobUpdate struct {
	status                              models.Status
	totalRows, processedRows, lastRecID int64
}

func (f *fakeRepo) CountDatasetRows(ctx context.Context, runID string) (int64, error) {
	return f.total, nil
}

func (f *fakeRepo) UpdateScoreJob(ctx context.Context, jobID string, status models.Status, totalRows, processedRows, lastRecordID int64, errMsg string) error {
	f.updates = append(f.updates, jobUpdate{status, totalRows, processedRows, lastRecordID})
	return nil
}

func (f *fakeRepo) FetchScoringRowsAfterRecord(ctx context.Context, datasetID string, lastRecordID int64, limit int) ([]repository.ScoringRow, error) {
	var out []repository.ScoringRow
	for _, r := range f.rows {
		if r.RecordID > lastRecordID {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertDatasetScores(ctx context.Context, datasetID, modelRunID string, scores []repository.ScoreInput) error {
	f.scores = append(f.scores, scores...)
	return nil
}

func identityModel() *pca.Model {
	a := &pca.Artifact{}
	a.Meta.Version = pca.ArtifactVersion
	a.Preprocessing.Mean = []float64{0, 0, 0, 0, 0}
	a.Preprocessing.Scale = []float64{1, 1, 1, 1, 1}
	a.Model.NComponents = 5
	a.Model.Components = [][]float64{
		{1, 0, 0, 0, 0}, {0, 1, 0, 0, 0}, {0, 0, 1, 0, 0}, {0, 0, 0, 1, 0}, {0, 0, 0, 0, 1},
	}
	a.Model.Mean = []float64{0, 0, 0, 0, 0}
	a.Thresholds.ReconstructionError = 0.5
	return pca.NewModel(a)
}

func makeRows(n int) []repository.ScoringRow {
	rows := make([]repository.ScoringRow, n)
	for i := range rows {
		rows[i] = repository.ScoringRow{RecordID: int64(i + 1), Features: [5]float64{1, 2, 3, 4, 5}}
	}
	return rows
}

func TestRun_CompletesAndCheckpointsEveryBatch(t *testing.T) {
	repo := &fakeRepo{total: 12, rows: makeRows(12)}
	loader := func(modelRunID, artifactPath string) (*pca.Model, error) { return identityModel(), nil }
	s := New(repo, loader, Options{BatchSize: 5})

	cancel := &atomic.Bool{}
	err := s.Run(context.Background(), "job1", "ds1", "m1", "a.json", cancel)
	require.NoError(t, err)

	require.Len(t, repo.scores, 12)
	last := repo.updates[len(repo.updates)-1]
	require.Equal(t, models.StatusCompleted, last.status)
	require.EqualValues(t, 12, last.processedRows)
	require.EqualValues(t, 12, last.lastRecID)

	// Every committed batch's last_record_id is strictly non-decreasing.
	var prev int64
	for _, u := range repo.updates {
		require.GreaterOrEqual(t, u.lastRecID, prev)
		prev = u.lastRecID
	}
}

func TestRun_CancelMidwayStopsBeforeNextBatch(t *testing.T) {
	repo := &fakeRepo{total: 12500, rows: makeRows(12500)}
	loader := func(modelRunID, artifactPath string) (*pca.Model, error) { return identityModel(), nil }
	s := New(repo, loader, Options{BatchSize: 5000})

	var batchesDone int
	cancel := &atomic.Bool{}
	s.opts.ProgressFunc = func(processedRows, totalRows, lastRecordID int64) {
		batchesDone++
		if batchesDone == 2 {
			cancel.Store(true)
		}
	}

	err := s.Run(context.Background(), "job1", "ds1", "m1", "a.json", cancel)
	require.NoError(t, err)

	last := repo.updates[len(repo.updates)-1]
	require.Equal(t, models.StatusCancelled, last.status)
	require.EqualValues(t, 10000, last.processedRows)
	require.EqualValues(t, 10000, last.lastRecID)
	require.Len(t, repo.scores, 10000)
}

func TestRun_EmptyDatasetCompletesImmediately(t *testing.T) {
	repo := &fakeRepo{total: 0}
	loader := func(modelRunID, artifactPath string) (*pca.Model, error) { return identityModel(), nil }
	s := New(repo, loader, Options{})

	cancel := &atomic.Bool{}
	err := s.Run(context.Background(), "job1", "ds1", "m1", "a.json", cancel)
	require.NoError(t, err)
	require.Empty(t, repo.scores)

	last := repo.updates[len(repo.updates)-1]
	require.Equal(t, models.StatusCompleted, last.status)
	require.EqualValues(t, 0, last.processedRows)
}
