// Package scorer drives the keyset-paginated dataset-scoring pipeline: load
// the artifact through the model cache, page through a dataset's telemetry
// in ascending record_id order, score each batch against the cached PCA
// model, and checkpoint progress after every batch so a cancelled or
// crashed job's row records a known-good point. Run itself always starts
// from record_id 0; it does not resume from an earlier job's checkpoint.
package scorer

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
	"github.com/kubilitics/anomaly-platform/internal/repository"
)

// DefaultBatchSize is the keyset page size used when Options.BatchSize is
// left zero.
const DefaultBatchSize = 5000

// ModelLoader resolves modelRunID's artifact through the model cache.
type ModelLoader func(modelRunID, artifactPath string) (*pca.Model, error)

// Repository is the slice of internal/repository.Repository the scorer
// drives. Narrowed here so tests can supply a fake without implementing the
// full persistence surface.
type Repository interface {
	CountDatasetRows(ctx context.Context, runID string) (int64, error)
	UpdateScoreJob(ctx context.Context, jobID string, status models.Status, totalRows, processedRows, lastRecordID int64, errMsg string) error
	FetchScoringRowsAfterRecord(ctx context.Context, datasetID string, lastRecordID int64, limit int) ([]repository.ScoringRow, error)
	InsertDatasetScores(ctx context.Context, datasetID, modelRunID string, scores []repository.ScoreInput) error
}

// Options configures one scoring pass.
type Options struct {
	BatchSize int
	// ProgressFunc, if set, is invoked after every non-empty batch with the
	// checkpoint state just persisted; the empty terminal fetch does not
	// invoke it.
	ProgressFunc func(processedRows, totalRows, lastRecordID int64)
	// Logger receives per-job progress and failure lines, scoped with job_id
	// via internal/pkg/logger.JobLogger. Defaults to slog.Default() if nil.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Scorer runs the per-job scoring pipeline: count rows, page scoring
// batches through a loaded model, checkpoint after each batch, and honor
// cooperative cancellation between batches.
type Scorer struct {
	repo   Repository
	loader ModelLoader
	opts   Options
}

// New builds a Scorer. loader is typically internal/modelcache's
// (*Cache).GetOrCreate, so repeated jobs reuse the same loaded model.
func New(repo Repository, loader ModelLoader, opts Options) *Scorer {
	return &Scorer{repo: repo, loader: loader, opts: opts.withDefaults()}
}

// Run scores every telemetry record of datasetID against modelRunID's
// artifact, in ascending record_id batches, updating jobID's checkpoint
// after each batch. It is the Work function a jobs.Manager drives: cancel
// is polled between batches, never mid-batch, so a cancelled job's
// checkpoint always matches the rows actually inserted.
func (s *Scorer) Run(ctx context.Context, jobID, datasetID, modelRunID, artifactPath string, cancel *atomic.Bool) error {
	jlog := logger.JobLogger(s.opts.Logger, jobID)

	model, err := s.loader(modelRunID, artifactPath)
	if err != nil {
		jlog.Error("score job failed to load model", "error", err)
		return err
	}

	totalRows, err := s.repo.CountDatasetRows(ctx, datasetID)
	if err != nil {
		jlog.Error("score job failed to count dataset rows", "error", err)
		return err
	}

	var processedRows, lastRecordID int64
	if err := s.repo.UpdateScoreJob(ctx, jobID, models.StatusRunning, totalRows, processedRows, lastRecordID, ""); err != nil {
		return err
	}
	jlog.Info("score job started", "total_rows", totalRows)

	for {
		if cancel.Load() {
			jlog.Info("score job cancelled", "processed_rows", processedRows, "total_rows", totalRows)
			return s.repo.UpdateScoreJob(ctx, jobID, models.StatusCancelled, totalRows, processedRows, lastRecordID, "")
		}

		batch, err := s.repo.FetchScoringRowsAfterRecord(ctx, datasetID, lastRecordID, s.opts.BatchSize)
		if err != nil {
			jlog.Error("score job batch fetch failed", "error", err)
			return err
		}
		if len(batch) == 0 {
			jlog.Info("score job completed", "processed_rows", processedRows, "total_rows", totalRows)
			return s.repo.UpdateScoreJob(ctx, jobID, models.StatusCompleted, totalRows, processedRows, lastRecordID, "")
		}

		scores := make([]repository.ScoreInput, len(batch))
		for i, row := range batch {
			result, err := model.Score(linalg.Vector(row.Features[:]))
			if err != nil {
				wrapped := apierr.Wrap(apierr.KindInternal, err, "score record %d", row.RecordID)
				jlog.Error("score job record scoring failed", "error", wrapped, "record_id", row.RecordID)
				return wrapped
			}
			scores[i] = repository.ScoreInput{
				RecordID:            row.RecordID,
				ReconstructionError: result.ReconstructionError,
				PredictedIsAnomaly:  result.IsAnomaly,
			}
			if row.RecordID > lastRecordID {
				lastRecordID = row.RecordID
			}
		}

		if err := s.repo.InsertDatasetScores(ctx, datasetID, modelRunID, scores); err != nil {
			jlog.Error("score job batch insert failed", "error", err)
			return err
		}
		processedRows += int64(len(batch))

		if err := s.repo.UpdateScoreJob(ctx, jobID, models.StatusRunning, totalRows, processedRows, lastRecordID, ""); err != nil {
			return err
		}
		jlog.Debug("score job checkpointed", "processed_rows", processedRows, "total_rows", totalRows, "last_record_id", lastRecordID)
		if s.opts.ProgressFunc != nil {
			s.opts.ProgressFunc(processedRows, totalRows, lastRecordID)
		}
	}
}
