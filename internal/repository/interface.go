// Package repository persists generation runs, archival telemetry, model
// runs, inference runs, dataset-score jobs/scores, and alerts, and serves
// the allowlist-enforced analytics queries behind the dataset dashboards.
//
// Two backends share the Repository interface: PostgresRepository for
// production (range-partitioned archival table, jsonb columns) and
// SQLiteRepository for tests (single unpartitioned table), mirroring the
// teacher's dual-backend precedent in internal/repository.
package repository

import (
	"context"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/jobs"
	"github.com/kubilitics/anomaly-platform/internal/models"
)

// Repository is the full persistence surface the platform depends on.
type Repository interface {
	jobs.StaleReclaimer

	Close() error

	// Generation runs.
	CreateRun(ctx context.Context, run *models.GenerationRun) error
	UpdateRunStatus(ctx context.Context, runID string, status models.Status, insertedRows int64, errMsg string) error
	GetRunStatus(ctx context.Context, runID string) (*models.GenerationRun, error)
	ListGenerationRuns(ctx context.Context, f ListFilter) ([]models.GenerationRun, error)
	GetDatasetDetail(ctx context.Context, runID string) (*models.GenerationRun, error)

	// Telemetry archival.
	BatchInsertTelemetry(ctx context.Context, records []models.TelemetryRecord) error
	GetDatasetSamples(ctx context.Context, runID string, limit int) ([]models.TelemetryRecord, error)
	GetDatasetRecord(ctx context.Context, runID string, recordID int64) (*models.TelemetryRecord, error)
	CountDatasetRows(ctx context.Context, runID string) (int64, error)

	// Model runs.
	CreateModelRun(ctx context.Context, datasetID, name, requestID string) (string, error)
	UpdateModelRunStatus(ctx context.Context, modelRunID string, status models.Status, artifactPath, errMsg string) error
	CompleteHPORun(ctx context.Context, parentRunID, bestTrialRunID string, bestMetricValue float64) error
	GetModelRun(ctx context.Context, modelRunID string) (*models.ModelRun, error)
	ListModelRuns(ctx context.Context, f ListFilter) ([]models.ModelRun, error)
	GetModelsForDataset(ctx context.Context, datasetID string) ([]models.ModelRun, error)
	GetScoredDatasetsForModel(ctx context.Context, modelRunID string) ([]ScoredDataset, error)

	// Inference runs.
	CreateInferenceRun(ctx context.Context, modelRunID string) (string, error)
	UpdateInferenceRunStatus(ctx context.Context, inferenceID string, status models.Status, anomalyCount int, details []byte, latencyMs float64) error
	ListInferenceRuns(ctx context.Context, datasetID, modelRunID string, f ListFilter) ([]models.InferenceRun, error)
	GetInferenceRun(ctx context.Context, inferenceID string) (*models.InferenceRun, error)

	// Alerts.
	InsertAlert(ctx context.Context, alert *models.Alert) error

	// Analytics.
	GetDatasetSummary(ctx context.Context, runID string, topK int) (*DatasetSummary, error)
	GetTopK(ctx context.Context, runID, column string, k int, isAnomaly *bool, anomalyType, startTime, endTime string) ([]TopKEntry, error)
	GetTimeSeries(ctx context.Context, runID string, f TimeSeriesFilter) ([]TimeSeriesPoint, error)
	GetHistogram(ctx context.Context, runID string, f HistogramFilter) (*Histogram, error)
	GetMetricStats(ctx context.Context, runID, metric string) (*MetricStats, error)
	GetDatasetMetricsSummary(ctx context.Context, runID string) (*DatasetMetricsSummary, error)

	// Dataset scoring.
	CreateScoreJob(ctx context.Context, datasetID, modelRunID, requestID string) (string, error)
	UpdateScoreJob(ctx context.Context, jobID string, status models.Status, totalRows, processedRows, lastRecordID int64, errMsg string) error
	GetScoreJob(ctx context.Context, jobID string) (*models.DatasetScoreJob, error)
	ListScoreJobs(ctx context.Context, f ListFilter) ([]models.DatasetScoreJob, error)
	FetchScoringRowsAfterRecord(ctx context.Context, datasetID string, lastRecordID int64, limit int) ([]ScoringRow, error)
	InsertDatasetScores(ctx context.Context, datasetID, modelRunID string, scores []ScoreInput) error
	GetScores(ctx context.Context, datasetID, modelRunID string, f ScoresFilter) (*ScoresPage, error)
	GetEvalMetrics(ctx context.Context, datasetID, modelRunID string, points, maxSamples int) (*EvalMetrics, error)
	GetErrorDistribution(ctx context.Context, datasetID, modelRunID, groupBy string) ([]ErrorDistributionEntry, error)

	// Maintenance.
	EnsurePartition(ctx context.Context, tp time.Time) error
	RunRetentionCleanup(ctx context.Context, retentionDays int) error
}

// ScoredDataset is one dataset that has been scored by a given model.
type ScoredDataset struct {
	DatasetID string    `json:"dataset_id"`
	CreatedAt time.Time `json:"created_at"`
	ScoredAt  time.Time `json:"scored_at"`
}
