package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
)

// PostgresRepository is the production Repository backend: a
// range-partitioned archival table, jsonb config/details columns, and the
// allowlist-enforced dynamic analytics queries.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository opens and pings a PostgreSQL connection pool.
func NewPostgresRepository(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int) (*PostgresRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "connect postgres")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error { return r.db.Close() }

// DB exposes the underlying handle for dbpool and migration wiring.
func (r *PostgresRepository) DB() *sqlx.DB { return r.db }

// RunMigrations applies a schema SQL file. Every statement uses IF NOT
// EXISTS, so this is safe to call on every startup against the same
// database. Callers pass the embedded migrations.Postgres contents.
func (r *PostgresRepository) RunMigrations(ctx context.Context, migrationSQL string) error {
	if _, err := r.db.ExecContext(ctx, migrationSQL); err != nil {
		return apierr.Wrap(apierr.KindDBQueryFailed, err, "apply postgres migrations")
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// --- Generation runs -------------------------------------------------------

func (r *PostgresRepository) CreateRun(ctx context.Context, run *models.GenerationRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO generation_runs (run_id, tier, host_count, start_time, end_time, interval_seconds, seed, status, config, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.RunID, run.Tier, run.HostCount, run.StartTime, run.EndTime, run.IntervalSeconds, run.Seed,
		run.Status, []byte(run.Config), nullableString(run.RequestID))
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "create generation run %s", run.RunID)
	}
	return nil
}

func (r *PostgresRepository) UpdateRunStatus(ctx context.Context, runID string, status models.Status, insertedRows int64, errMsg string) error {
	var err error
	if errMsg != "" {
		_, err = r.db.ExecContext(ctx,
			`UPDATE generation_runs SET status=$1, inserted_rows=$2, error=$3, updated_at=NOW() WHERE run_id=$4`,
			status, insertedRows, errMsg, runID)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE generation_runs SET status=$1, inserted_rows=$2, updated_at=NOW() WHERE run_id=$3`,
			status, insertedRows, runID)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update run status %s", runID)
	}
	return nil
}

func (r *PostgresRepository) GetRunStatus(ctx context.Context, runID string) (*models.GenerationRun, error) {
	var run models.GenerationRun
	err := r.db.GetContext(ctx, &run,
		`SELECT run_id, status, inserted_rows, error, request_id FROM generation_runs WHERE run_id=$1`, runID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "generation run %s not found", runID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get run status %s", runID)
	}
	return &run, nil
}

func buildListWhere(n *int, clauses *[]string, args *[]any, col, val string, op string) {
	if val == "" {
		return
	}
	*clauses = append(*clauses, fmt.Sprintf("%s %s $%d", col, op, *n))
	*args = append(*args, val)
	*n++
}

func (r *PostgresRepository) ListGenerationRuns(ctx context.Context, f ListFilter) ([]models.GenerationRun, error) {
	query := `SELECT run_id, status, inserted_rows, created_at, start_time, end_time, interval_seconds, host_count, tier
	          FROM generation_runs`
	var clauses []string
	var args []any
	n := 1
	buildListWhere(&n, &clauses, &args, "status", f.Status, "=")
	buildListWhere(&n, &clauses, &args, "created_at", f.CreatedFrom, ">=")
	buildListWhere(&n, &clauses, &args, "created_at", f.CreatedTo, "<=")
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, f.Limit, f.Offset)

	var runs []models.GenerationRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list generation runs")
	}
	return runs, nil
}

func (r *PostgresRepository) GetDatasetDetail(ctx context.Context, runID string) (*models.GenerationRun, error) {
	var run models.GenerationRun
	err := r.db.GetContext(ctx, &run,
		`SELECT run_id, status, inserted_rows, created_at, start_time, end_time, interval_seconds, host_count, tier, error, request_id
		 FROM generation_runs WHERE run_id=$1`, runID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "dataset %s not found", runID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset detail %s", runID)
	}
	return &run, nil
}

// --- Telemetry archival ------------------------------------------------

func (r *PostgresRepository) BatchInsertTelemetry(ctx context.Context, records []models.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "begin telemetry batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO host_telemetry_archival
		 (ingestion_time, metric_timestamp, host_id, project_id, region,
		  cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate,
		  labels, run_id, is_anomaly, anomaly_type)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "prepare telemetry insert")
	}
	defer stmt.Close()

	for _, rec := range records {
		var anomalyType any
		if rec.AnomalyType != nil && *rec.AnomalyType != "" {
			anomalyType = *rec.AnomalyType
		}
		if _, err := stmt.ExecContext(ctx,
			rec.IngestionTime, rec.MetricTimestamp, rec.HostID, rec.ProjectID, rec.Region,
			rec.CPUUsage, rec.MemoryUsage, rec.DiskUtilization, rec.NetworkRxRate, rec.NetworkTxRate,
			rec.Labels, rec.RunID, rec.IsAnomaly, anomalyType); err != nil {
			return apierr.Wrap(apierr.KindDBInsertFailed, err, "insert telemetry record")
		}
	}
	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "commit telemetry batch")
	}
	return nil
}

func (r *PostgresRepository) GetDatasetSamples(ctx context.Context, runID string, limit int) ([]models.TelemetryRecord, error) {
	var rows []models.TelemetryRecord
	err := r.db.SelectContext(ctx, &rows,
		`SELECT cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate, metric_timestamp, host_id
		 FROM host_telemetry_archival WHERE run_id=$1 ORDER BY metric_timestamp DESC LIMIT $2`, runID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset samples %s", runID)
	}
	return rows, nil
}

func (r *PostgresRepository) CountDatasetRows(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM host_telemetry_archival WHERE run_id=$1`, runID)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindDBQueryFailed, err, "count dataset rows %s", runID)
	}
	return n, nil
}

func (r *PostgresRepository) GetDatasetRecord(ctx context.Context, runID string, recordID int64) (*models.TelemetryRecord, error) {
	var rec models.TelemetryRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate, metric_timestamp, host_id, labels
		 FROM host_telemetry_archival WHERE run_id=$1 AND record_id=$2`, runID, recordID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "record %d not found in dataset %s", recordID, runID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset record %s/%d", runID, recordID)
	}
	return &rec, nil
}

// --- Model runs -------------------------------------------------------

func (r *PostgresRepository) CreateModelRun(ctx context.Context, datasetID, name, requestID string) (string, error) {
	var modelRunID string
	err := r.db.GetContext(ctx, &modelRunID,
		`INSERT INTO model_runs (dataset_id, name, status, request_id) VALUES ($1,$2,'PENDING',$3) RETURNING model_run_id`,
		datasetID, name, requestID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBInsertFailed, err, "create model run for dataset %s", datasetID)
	}
	return modelRunID, nil
}

func (r *PostgresRepository) UpdateModelRunStatus(ctx context.Context, modelRunID string, status models.Status, artifactPath, errMsg string) error {
	var err error
	if status == models.StatusCompleted {
		_, err = r.db.ExecContext(ctx,
			`UPDATE model_runs SET status=$1, artifact_path=$2, completed_at=NOW() WHERE model_run_id=$3`,
			status, artifactPath, modelRunID)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE model_runs SET status=$1, error=$2 WHERE model_run_id=$3`,
			status, errMsg, modelRunID)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update model run %s", modelRunID)
	}
	return nil
}

// CompleteHPORun marks an HPO parent run COMPLETED, recording the winning
// trial's run ID and its metric value rather than an artifact path: a parent
// run never trains a model itself, so it has none.
func (r *PostgresRepository) CompleteHPORun(ctx context.Context, parentRunID, bestTrialRunID string, bestMetricValue float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE model_runs SET status=$1, best_trial_run_id=$2, best_metric_value=$3, completed_at=NOW() WHERE model_run_id=$4`,
		models.StatusCompleted, bestTrialRunID, bestMetricValue, parentRunID)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "complete hpo run %s", parentRunID)
	}
	return nil
}

func (r *PostgresRepository) GetModelRun(ctx context.Context, modelRunID string) (*models.ModelRun, error) {
	var run models.ModelRun
	err := r.db.GetContext(ctx, &run,
		`SELECT model_run_id, dataset_id, name, status, artifact_path, best_trial_run_id, best_metric_value, error, created_at, completed_at, request_id
		 FROM model_runs WHERE model_run_id=$1`, modelRunID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "model run %s not found", modelRunID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get model run %s", modelRunID)
	}
	return &run, nil
}

func (r *PostgresRepository) ListModelRuns(ctx context.Context, f ListFilter) ([]models.ModelRun, error) {
	query := `SELECT model_run_id, dataset_id, name, status, artifact_path, error, created_at, completed_at FROM model_runs`
	var clauses []string
	var args []any
	n := 1
	buildListWhere(&n, &clauses, &args, "status", f.Status, "=")
	buildListWhere(&n, &clauses, &args, "dataset_id", f.DatasetID, "=")
	buildListWhere(&n, &clauses, &args, "created_at", f.CreatedFrom, ">=")
	buildListWhere(&n, &clauses, &args, "created_at", f.CreatedTo, "<=")
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, f.Limit, f.Offset)

	var runs []models.ModelRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list model runs")
	}
	return runs, nil
}

func (r *PostgresRepository) GetModelsForDataset(ctx context.Context, datasetID string) ([]models.ModelRun, error) {
	var runs []models.ModelRun
	err := r.db.SelectContext(ctx, &runs,
		`SELECT model_run_id, name, status, created_at FROM model_runs WHERE dataset_id=$1 ORDER BY created_at DESC`, datasetID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get models for dataset %s", datasetID)
	}
	return runs, nil
}

func (r *PostgresRepository) GetScoredDatasetsForModel(ctx context.Context, modelRunID string) ([]ScoredDataset, error) {
	var out []ScoredDataset
	err := r.db.SelectContext(ctx, &out,
		`SELECT DISTINCT ds.dataset_id, gr.created_at, ds.scored_at
		 FROM dataset_scores ds JOIN generation_runs gr ON ds.dataset_id = gr.run_id
		 WHERE ds.model_run_id=$1 ORDER BY ds.scored_at DESC`, modelRunID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get scored datasets for model %s", modelRunID)
	}
	return out, nil
}

// --- Inference runs -----------------------------------------------------

func (r *PostgresRepository) CreateInferenceRun(ctx context.Context, modelRunID string) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id,
		`INSERT INTO inference_runs (model_run_id, status) VALUES ($1,'RUNNING') RETURNING inference_id`, modelRunID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBInsertFailed, err, "create inference run for model %s", modelRunID)
	}
	return id, nil
}

func (r *PostgresRepository) UpdateInferenceRunStatus(ctx context.Context, inferenceID string, status models.Status, anomalyCount int, details []byte, latencyMs float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE inference_runs SET status=$1, anomaly_count=$2, details=$3, latency_ms=$4 WHERE inference_id=$5`,
		status, anomalyCount, details, latencyMs, inferenceID)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update inference run %s", inferenceID)
	}
	return nil
}

func (r *PostgresRepository) ListInferenceRuns(ctx context.Context, datasetID, modelRunID string, f ListFilter) ([]models.InferenceRun, error) {
	query := `SELECT i.inference_id, i.model_run_id, i.status, i.anomaly_count, i.latency_ms, i.created_at
	          FROM inference_runs i JOIN model_runs m ON i.model_run_id = m.model_run_id`
	var clauses []string
	var args []any
	n := 1
	buildListWhere(&n, &clauses, &args, "m.dataset_id", datasetID, "=")
	buildListWhere(&n, &clauses, &args, "i.model_run_id", modelRunID, "=")
	buildListWhere(&n, &clauses, &args, "i.status", f.Status, "=")
	buildListWhere(&n, &clauses, &args, "i.created_at", f.CreatedFrom, ">=")
	buildListWhere(&n, &clauses, &args, "i.created_at", f.CreatedTo, "<=")
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, f.Limit, f.Offset)

	var runs []models.InferenceRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list inference runs")
	}
	return runs, nil
}

func (r *PostgresRepository) GetInferenceRun(ctx context.Context, inferenceID string) (*models.InferenceRun, error) {
	var run models.InferenceRun
	err := r.db.GetContext(ctx, &run,
		`SELECT inference_id, model_run_id, status, anomaly_count, latency_ms, details, created_at
		 FROM inference_runs WHERE inference_id=$1`, inferenceID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "inference run %s not found", inferenceID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get inference run %s", inferenceID)
	}
	return &run, nil
}

// --- Alerts --------------------------------------------------------------

func (r *PostgresRepository) InsertAlert(ctx context.Context, alert *models.Alert) error {
	detailsJSON, err := json.Marshal(alert.Details)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "marshal alert details")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO alerts (host_id, run_id, timestamp, severity, source, score, details)
		 VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb)`,
		alert.HostID, alert.RunID, alert.Timestamp, alert.Severity, alert.Source, alert.Score, detailsJSON)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "insert alert for host %s", alert.HostID)
	}
	return nil
}

// --- Analytics -------------------------------------------------------

func (r *PostgresRepository) GetDatasetSummary(ctx context.Context, runID string, topK int) (*DatasetSummary, error) {
	var summary DatasetSummary
	var count, anomalies sql.NullInt64
	var minTS, maxTS sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(metric_timestamp), MAX(metric_timestamp),
		        SUM(CASE WHEN is_anomaly THEN 1 ELSE 0 END)
		 FROM host_telemetry_archival WHERE run_id=$1`, runID,
	).Scan(&count, &minTS, &maxTS, &anomalies)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset summary %s", runID)
	}
	summary.RowCount = count.Int64
	summary.TimeRange = DatasetTimeRange{MinTS: minTS.String, MaxTS: maxTS.String}
	if count.Int64 > 0 {
		summary.AnomalyRate = float64(anomalies.Int64) / float64(count.Int64)
	}

	typeRows, err := r.db.QueryContext(ctx,
		`SELECT anomaly_type, COUNT(*) FROM host_telemetry_archival
		 WHERE run_id=$1 AND is_anomaly=true AND anomaly_type IS NOT NULL
		 GROUP BY anomaly_type ORDER BY COUNT(*) DESC`, runID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get anomaly type counts %s", runID)
	}
	defer typeRows.Close()
	var other int64
	idx := 0
	for typeRows.Next() {
		var label string
		var cnt int64
		if err := typeRows.Scan(&label, &cnt); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan anomaly type row")
		}
		if idx < topK {
			summary.AnomalyTypeCounts = append(summary.AnomalyTypeCounts, TopKEntry{Label: label, Count: cnt})
		} else {
			other += cnt
		}
		idx++
	}
	if other > 0 {
		summary.AnomalyTypeCounts = append(summary.AnomalyTypeCounts, TopKEntry{Label: "other", Count: other})
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT host_id), COUNT(DISTINCT project_id), COUNT(DISTINCT region)
		 FROM host_telemetry_archival WHERE run_id=$1`, runID,
	).Scan(&summary.DistinctHostCount, &summary.DistinctProjectCount, &summary.DistinctRegionCount)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get distinct counts %s", runID)
	}

	var p50, p95 sql.NullFloat64
	err = r.db.QueryRowContext(ctx,
		`SELECT PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM (ingestion_time - metric_timestamp))),
		        PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM (ingestion_time - metric_timestamp)))
		 FROM host_telemetry_archival WHERE run_id=$1`, runID,
	).Scan(&p50, &p95)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get ingestion latency %s", runID)
	}
	summary.IngestionLatencyP50 = p50.Float64
	summary.IngestionLatencyP95 = p95.Float64

	trendRows, err := r.db.QueryContext(ctx,
		`WITH max_ts AS (SELECT MAX(metric_timestamp) AS max_ts FROM host_telemetry_archival WHERE run_id=$1)
		 SELECT date_trunc('hour', h.metric_timestamp) AS bucket,
		        COUNT(*) AS total,
		        SUM(CASE WHEN h.is_anomaly THEN 1 ELSE 0 END) AS anomalies
		 FROM host_telemetry_archival h, max_ts
		 WHERE h.run_id=$1 AND h.metric_timestamp >= max_ts.max_ts - INTERVAL '24 hours'
		 GROUP BY bucket ORDER BY bucket ASC`, runID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get anomaly trend %s", runID)
	}
	defer trendRows.Close()
	for trendRows.Next() {
		var ts sql.NullString
		var total, anomalyCnt sql.NullInt64
		if err := trendRows.Scan(&ts, &total, &anomalyCnt); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan trend row")
		}
		var rate float64
		if total.Int64 > 0 {
			rate = float64(anomalyCnt.Int64) / float64(total.Int64)
		}
		summary.AnomalyRateTrend = append(summary.AnomalyRateTrend, TrendPoint{
			Timestamp: ts.String, AnomalyRate: rate, Total: total.Int64,
		})
	}
	return &summary, nil
}

func (r *PostgresRepository) GetTopK(ctx context.Context, runID, column string, k int, isAnomaly *bool, anomalyType, startTime, endTime string) ([]TopKEntry, error) {
	if !IsValidDimension(column) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid column: %s", column)
	}
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM host_telemetry_archival WHERE run_id=$1", column)
	args := []any{runID}
	n := 2
	if isAnomaly != nil {
		query += fmt.Sprintf(" AND is_anomaly=$%d", n)
		args = append(args, *isAnomaly)
		n++
	}
	if anomalyType != "" {
		query += fmt.Sprintf(" AND anomaly_type=$%d", n)
		args = append(args, anomalyType)
		n++
	}
	if startTime != "" {
		query += fmt.Sprintf(" AND metric_timestamp >= $%d", n)
		args = append(args, startTime)
		n++
	}
	if endTime != "" {
		query += fmt.Sprintf(" AND metric_timestamp <= $%d", n)
		args = append(args, endTime)
		n++
	}
	query += fmt.Sprintf(" GROUP BY %s ORDER BY COUNT(*) DESC LIMIT %d", column, k)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get topk %s", runID)
	}
	defer rows.Close()
	var out []TopKEntry
	for rows.Next() {
		var label sql.NullString
		var cnt int64
		if err := rows.Scan(&label, &cnt); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan topk row")
		}
		out = append(out, TopKEntry{Label: label.String, Count: cnt})
	}
	return out, nil
}

func aggExpr(metric, agg string) (string, error) {
	switch agg {
	case "mean":
		return fmt.Sprintf("AVG(%s)", metric), nil
	case "min":
		return fmt.Sprintf("MIN(%s)", metric), nil
	case "max":
		return fmt.Sprintf("MAX(%s)", metric), nil
	case "p50":
		return fmt.Sprintf("PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s)", metric), nil
	case "p95":
		return fmt.Sprintf("PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY %s)", metric), nil
	default:
		return "", apierr.New(apierr.KindInvalidArgument, "invalid aggregation: %s", agg)
	}
}

func (r *PostgresRepository) GetTimeSeries(ctx context.Context, runID string, f TimeSeriesFilter) ([]TimeSeriesPoint, error) {
	for _, m := range f.Metrics {
		if !IsValidMetric(m) {
			return nil, apierr.New(apierr.KindInvalidArgument, "invalid metric: %s", m)
		}
	}
	for _, a := range f.Aggregations {
		if !IsValidAggregation(a) {
			return nil, apierr.New(apierr.KindInvalidArgument, "invalid aggregation: %s", a)
		}
	}

	bucketExpr := fmt.Sprintf(
		"to_timestamp(floor(extract(epoch from metric_timestamp) / %d) * %d)",
		f.BucketSeconds, f.BucketSeconds)

	var keys []string
	selectCols := []string{bucketExpr + " AS bucket_ts"}
	for _, m := range f.Metrics {
		for _, a := range f.Aggregations {
			expr, err := aggExpr(m, a)
			if err != nil {
				return nil, err
			}
			key := m + "_" + a
			keys = append(keys, key)
			selectCols = append(selectCols, fmt.Sprintf("%s AS %s", expr, key))
		}
	}

	query := "SELECT " + strings.Join(selectCols, ", ") + " FROM host_telemetry_archival WHERE run_id=$1"
	args := []any{runID}
	n := 2
	if f.IsAnomaly != nil {
		query += fmt.Sprintf(" AND is_anomaly=$%d", n)
		args = append(args, *f.IsAnomaly)
		n++
	}
	if f.AnomalyType != "" {
		query += fmt.Sprintf(" AND anomaly_type=$%d", n)
		args = append(args, f.AnomalyType)
		n++
	}
	if f.StartTime != "" {
		query += fmt.Sprintf(" AND metric_timestamp >= $%d", n)
		args = append(args, f.StartTime)
		n++
	}
	if f.EndTime != "" {
		query += fmt.Sprintf(" AND metric_timestamp <= $%d", n)
		args = append(args, f.EndTime)
		n++
	}
	query += " GROUP BY bucket_ts ORDER BY bucket_ts ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get timeseries %s", runID)
	}
	defer rows.Close()

	var out []TimeSeriesPoint
	for rows.Next() {
		scanDest := make([]any, len(keys)+1)
		var ts time.Time
		scanDest[0] = &ts
		vals := make([]sql.NullFloat64, len(keys))
		for i := range keys {
			scanDest[i+1] = &vals[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan timeseries row")
		}
		point := TimeSeriesPoint{Timestamp: ts, Values: make(map[string]float64, len(keys))}
		for i, k := range keys {
			point.Values[k] = vals[i].Float64
		}
		out = append(out, point)
	}
	return out, nil
}

func (r *PostgresRepository) GetHistogram(ctx context.Context, runID string, f HistogramFilter) (*Histogram, error) {
	if !IsValidMetric(f.Metric) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid metric: %s", f.Metric)
	}
	minVal, maxVal := f.Min, f.Max
	if maxVal <= minVal {
		var lo, hi sql.NullFloat64
		err := r.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM host_telemetry_archival WHERE run_id=$1", f.Metric, f.Metric),
			runID).Scan(&lo, &hi)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get histogram range %s", runID)
		}
		if lo.Valid && hi.Valid {
			minVal, maxVal = lo.Float64, hi.Float64
		}
	}
	hist := &Histogram{}
	if maxVal <= minVal {
		return hist, nil
	}

	step := (maxVal - minVal) / float64(f.Bins)
	hist.Edges = make([]float64, f.Bins+1)
	for i := 0; i <= f.Bins; i++ {
		hist.Edges[i] = minVal + step*float64(i)
	}

	query := fmt.Sprintf(
		"SELECT width_bucket(%s, %f, %f, %d) AS b, COUNT(*) FROM host_telemetry_archival WHERE run_id=$1",
		f.Metric, minVal, maxVal, f.Bins)
	args := []any{runID}
	n := 2
	if f.IsAnomaly != nil {
		query += fmt.Sprintf(" AND is_anomaly=$%d", n)
		args = append(args, *f.IsAnomaly)
		n++
	}
	if f.AnomalyType != "" {
		query += fmt.Sprintf(" AND anomaly_type=$%d", n)
		args = append(args, f.AnomalyType)
		n++
	}
	if f.StartTime != "" {
		query += fmt.Sprintf(" AND metric_timestamp >= $%d", n)
		args = append(args, f.StartTime)
		n++
	}
	if f.EndTime != "" {
		query += fmt.Sprintf(" AND metric_timestamp <= $%d", n)
		args = append(args, f.EndTime)
		n++
	}
	query += " GROUP BY b ORDER BY b ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get histogram %s", runID)
	}
	defer rows.Close()
	counts := make([]int64, f.Bins)
	for rows.Next() {
		var b int
		var cnt int64
		if err := rows.Scan(&b, &cnt); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan histogram row")
		}
		if b >= 1 && b <= f.Bins {
			counts[b-1] = cnt
		}
	}
	hist.Counts = counts
	return hist, nil
}

func (r *PostgresRepository) GetMetricStats(ctx context.Context, runID, metric string) (*MetricStats, error) {
	if !IsValidMetric(metric) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid metric: %s", metric)
	}
	query := fmt.Sprintf(
		`SELECT COUNT(*), MIN(%s), MAX(%s), AVG(%s),
		        PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s),
		        PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY %s)
		 FROM host_telemetry_archival WHERE run_id=$1`, metric, metric, metric, metric, metric)

	var stats MetricStats
	var min, max, mean, p50, p95 sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, runID).Scan(&stats.Count, &min, &max, &mean, &p50, &p95)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get metric stats %s/%s", runID, metric)
	}
	stats.Min, stats.Max, stats.Mean, stats.P50, stats.P95 = min.Float64, max.Float64, mean.Float64, p50.Float64, p95.Float64
	return &stats, nil
}

func (r *PostgresRepository) GetDatasetMetricsSummary(ctx context.Context, runID string) (*DatasetMetricsSummary, error) {
	cols := make([]string, len(models.Features))
	for i, m := range models.Features {
		cols[i] = fmt.Sprintf("STDDEV(%s) AS %s_stddev", m, m)
	}
	query := "SELECT " + strings.Join(cols, ", ") + " FROM host_telemetry_archival WHERE run_id=$1"

	dest := make([]any, len(models.Features))
	vals := make([]sql.NullFloat64, len(models.Features))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := r.db.QueryRowContext(ctx, query, runID).Scan(dest...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset metrics summary %s", runID)
	}

	entries := make([]VarianceEntry, len(models.Features))
	for i, m := range models.Features {
		entries[i] = VarianceEntry{Key: m, StdDev: vals[i].Float64}
	}
	sortVarianceDesc(entries)
	return &DatasetMetricsSummary{HighVariance: entries, HighMissingness: []VarianceEntry{}}, nil
}

func sortVarianceDesc(entries []VarianceEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].StdDev > entries[j-1].StdDev; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// --- Dataset scoring -------------------------------------------------

func (r *PostgresRepository) CreateScoreJob(ctx context.Context, datasetID, modelRunID, requestID string) (string, error) {
	var existing string
	err := r.db.GetContext(ctx, &existing,
		`SELECT job_id FROM dataset_score_jobs WHERE dataset_id=$1 AND model_run_id=$2 AND status IN ('PENDING','RUNNING')`,
		datasetID, modelRunID)
	if err == nil {
		return existing, apierr.New(apierr.KindConflict, "score job already in progress for dataset %s / model %s", datasetID, modelRunID)
	}
	if err != sql.ErrNoRows {
		return "", apierr.Wrap(apierr.KindDBQueryFailed, err, "check existing score job")
	}

	var jobID string
	err = r.db.GetContext(ctx, &jobID,
		`INSERT INTO dataset_score_jobs (dataset_id, model_run_id, status, request_id) VALUES ($1,$2,'PENDING',$3) RETURNING job_id`,
		datasetID, modelRunID, requestID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBInsertFailed, err, "create score job")
	}
	return jobID, nil
}

func (r *PostgresRepository) UpdateScoreJob(ctx context.Context, jobID string, status models.Status, totalRows, processedRows, lastRecordID int64, errMsg string) error {
	var err error
	switch {
	case status == models.StatusCompleted:
		_, err = r.db.ExecContext(ctx,
			`UPDATE dataset_score_jobs SET status=$1, total_rows=$2, processed_rows=$3, last_record_id=$4, updated_at=NOW(), completed_at=NOW()
			 WHERE job_id=$5`, status, totalRows, processedRows, lastRecordID, jobID)
	case errMsg != "":
		_, err = r.db.ExecContext(ctx,
			`UPDATE dataset_score_jobs SET status=$1, total_rows=$2, processed_rows=$3, last_record_id=$4, error=$5, updated_at=NOW()
			 WHERE job_id=$6`, status, totalRows, processedRows, lastRecordID, errMsg, jobID)
	default:
		_, err = r.db.ExecContext(ctx,
			`UPDATE dataset_score_jobs SET status=$1, total_rows=$2, processed_rows=$3, last_record_id=$4, updated_at=NOW()
			 WHERE job_id=$5`, status, totalRows, processedRows, lastRecordID, jobID)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update score job %s", jobID)
	}
	return nil
}

func (r *PostgresRepository) GetScoreJob(ctx context.Context, jobID string) (*models.DatasetScoreJob, error) {
	var job models.DatasetScoreJob
	err := r.db.GetContext(ctx, &job,
		`SELECT job_id, dataset_id, model_run_id, status, total_rows, processed_rows, last_record_id, error, created_at, updated_at, completed_at, request_id
		 FROM dataset_score_jobs WHERE job_id=$1`, jobID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "score job %s not found", jobID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get score job %s", jobID)
	}
	return &job, nil
}

func (r *PostgresRepository) ListScoreJobs(ctx context.Context, f ListFilter) ([]models.DatasetScoreJob, error) {
	query := `SELECT job_id, dataset_id, model_run_id, status, total_rows, processed_rows, last_record_id, error, created_at, updated_at, completed_at
	          FROM dataset_score_jobs`
	var clauses []string
	var args []any
	n := 1
	buildListWhere(&n, &clauses, &args, "status", f.Status, "=")
	buildListWhere(&n, &clauses, &args, "dataset_id", f.DatasetID, "=")
	buildListWhere(&n, &clauses, &args, "model_run_id", f.ModelRunID, "=")
	buildListWhere(&n, &clauses, &args, "created_at", f.CreatedFrom, ">=")
	buildListWhere(&n, &clauses, &args, "created_at", f.CreatedTo, "<=")
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, f.Limit, f.Offset)

	var jobs []models.DatasetScoreJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list score jobs")
	}
	return jobs, nil
}

func (r *PostgresRepository) FetchScoringRowsAfterRecord(ctx context.Context, datasetID string, lastRecordID int64, limit int) ([]ScoringRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT record_id, is_anomaly, cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate
		 FROM host_telemetry_archival WHERE run_id=$1 AND record_id > $2 ORDER BY record_id ASC LIMIT $3`,
		datasetID, lastRecordID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "fetch scoring rows %s", datasetID)
	}
	defer rows.Close()
	var out []ScoringRow
	for rows.Next() {
		var r ScoringRow
		if err := rows.Scan(&r.RecordID, &r.IsAnomaly, &r.Features[0], &r.Features[1], &r.Features[2], &r.Features[3], &r.Features[4]); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan scoring row")
		}
		out = append(out, r)
	}
	return out, nil
}

func (r *PostgresRepository) InsertDatasetScores(ctx context.Context, datasetID, modelRunID string, scores []ScoreInput) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "begin score insert")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO dataset_scores (dataset_id, model_run_id, record_id, reconstruction_error, predicted_is_anomaly)
		 VALUES ($1,$2,$3,$4,$5)`)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "prepare score insert")
	}
	defer stmt.Close()

	for _, s := range scores {
		if _, err := stmt.ExecContext(ctx, datasetID, modelRunID, s.RecordID, s.ReconstructionError, s.PredictedIsAnomaly); err != nil {
			return apierr.Wrap(apierr.KindDBInsertFailed, err, "insert dataset score")
		}
	}
	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "commit score insert")
	}
	return nil
}

func (r *PostgresRepository) GetScores(ctx context.Context, datasetID, modelRunID string, f ScoresFilter) (*ScoresPage, error) {
	where := "WHERE s.dataset_id=$1 AND s.model_run_id=$2"
	args := []any{datasetID, modelRunID}
	n := 3
	if f.OnlyAnomalies {
		where += " AND s.predicted_is_anomaly = true"
	}
	if f.MinScore > 0 {
		where += fmt.Sprintf(" AND s.reconstruction_error >= $%d", n)
		args = append(args, f.MinScore)
		n++
	}
	if f.MaxScore > 0 {
		where += fmt.Sprintf(" AND s.reconstruction_error <= $%d", n)
		args = append(args, f.MaxScore)
		n++
	}

	query := fmt.Sprintf(
		`SELECT s.score_id, s.record_id, s.reconstruction_error, s.predicted_is_anomaly, s.scored_at,
		        h.metric_timestamp, h.host_id, h.is_anomaly AS label
		 FROM dataset_scores s JOIN host_telemetry_archival h ON s.record_id = h.record_id
		 %s ORDER BY s.reconstruction_error DESC, s.score_id DESC LIMIT $%d OFFSET $%d`, where, n, n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get scores")
	}
	defer rows.Close()
	page := &ScoresPage{Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		var rec ScoredRecord
		if err := rows.Scan(&rec.ScoreID, &rec.RecordID, &rec.Score, &rec.IsAnomaly, &rec.ScoredAt,
			&rec.Timestamp, &rec.HostID, &rec.Label); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan score row")
		}
		page.Items = append(page.Items, rec)
	}
	rows.Close()

	countQuery := "SELECT COUNT(*) FROM dataset_scores s " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args[:n-1]...).Scan(&page.Total); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "count scores")
	}

	var lo, hi sql.NullFloat64
	err = r.db.QueryRowContext(ctx,
		`SELECT MIN(reconstruction_error), MAX(reconstruction_error) FROM dataset_scores WHERE dataset_id=$1 AND model_run_id=$2`,
		datasetID, modelRunID).Scan(&lo, &hi)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get score range")
	}
	if lo.Valid && hi.Valid {
		page.MinScore, page.MaxScore = lo.Float64, hi.Float64
	} else {
		page.MinScore, page.MaxScore = 0.0, 10.0
	}
	return page, nil
}

func (r *PostgresRepository) GetEvalMetrics(ctx context.Context, datasetID, modelRunID string, points, maxSamples int) (*EvalMetrics, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.reconstruction_error, s.predicted_is_anomaly, h.is_anomaly
		 FROM dataset_scores s JOIN host_telemetry_archival h ON s.record_id = h.record_id
		 WHERE s.dataset_id=$1 AND s.model_run_id=$2`, datasetID, modelRunID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get eval samples")
	}
	defer rows.Close()

	type evalRow struct {
		err   float64
		pred  bool
		label bool
	}
	var samples []evalRow
	for rows.Next() {
		var e evalRow
		if err := rows.Scan(&e.err, &e.pred, &e.label); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan eval row")
		}
		samples = append(samples, e)
		if maxSamples > 0 && len(samples) >= maxSamples {
			break
		}
	}

	metrics := &EvalMetrics{}
	for _, s := range samples {
		switch {
		case s.pred && s.label:
			metrics.Confusion.TP++
		case s.pred && !s.label:
			metrics.Confusion.FP++
		case !s.pred && !s.label:
			metrics.Confusion.TN++
		default:
			metrics.Confusion.FN++
		}
	}

	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j].err > samples[j-1].err; j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}

	nPoints := points
	if nPoints <= 0 {
		nPoints = 50
	}
	if nPoints > 200 {
		nPoints = 200
	}
	if nPoints < 10 {
		nPoints = 10
	}

	var positives, negatives int64
	for _, s := range samples {
		if s.label {
			positives++
		} else {
			negatives++
		}
	}

	if len(samples) > 0 {
		for i := 0; i < nPoints; i++ {
			idx := int((float64(i) / float64(nPoints-1)) * float64(len(samples)-1))
			threshold := samples[idx].err
			var ttp, tfp int64
			for _, s := range samples {
				pred := s.err >= threshold
				if pred && s.label {
					ttp++
				} else if pred && !s.label {
					tfp++
				}
			}
			var tpr, fpr, precision float64
			if positives > 0 {
				tpr = float64(ttp) / float64(positives)
			}
			if negatives > 0 {
				fpr = float64(tfp) / float64(negatives)
			}
			if ttp+tfp > 0 {
				precision = float64(ttp) / float64(ttp+tfp)
			}
			metrics.ROC = append(metrics.ROC, ROCPoint{FPR: fpr, TPR: tpr})
			metrics.PR = append(metrics.PR, PRPoint{Precision: precision, Recall: tpr})
		}
	}
	return metrics, nil
}

func (r *PostgresRepository) GetErrorDistribution(ctx context.Context, datasetID, modelRunID, groupBy string) ([]ErrorDistributionEntry, error) {
	if !IsValidDimension(groupBy) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid group_by: %s", groupBy)
	}
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*), AVG(s.reconstruction_error),
		        PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY s.reconstruction_error),
		        PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY s.reconstruction_error)
		 FROM dataset_scores s JOIN host_telemetry_archival h ON s.record_id = h.record_id
		 WHERE s.dataset_id=$1 AND s.model_run_id=$2
		 GROUP BY %s ORDER BY COUNT(*) DESC`, groupBy, groupBy)

	rows, err := r.db.QueryContext(ctx, query, datasetID, modelRunID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get error distribution")
	}
	defer rows.Close()
	var out []ErrorDistributionEntry
	for rows.Next() {
		var e ErrorDistributionEntry
		var label sql.NullString
		var mean, p50, p95 sql.NullFloat64
		if err := rows.Scan(&label, &e.Count, &mean, &p50, &p95); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan error distribution row")
		}
		e.Label, e.Mean, e.P50, e.P95 = label.String, mean.Float64, p50.Float64, p95.Float64
		out = append(out, e)
	}
	return out, nil
}

// --- Maintenance ----------------------------------------------------

// ReconcileStaleJobs marks jobs still PENDING or RUNNING, last updated before olderThan, as FAILED with
// a fixed recovery message, across all three job tables. A zero olderThan
// performs an unconditional startup sweep.
func (r *PostgresRepository) ReconcileStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	const msg = "System restart/recovery"
	var total int64
	for _, table := range []string{"dataset_score_jobs", "model_runs", "generation_runs"} {
		var res sql.Result
		var err error
		if olderThan.IsZero() {
			res, err = r.db.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET status='FAILED', error=$1 WHERE status IN ('PENDING','RUNNING')`, table), msg)
		} else {
			res, err = r.db.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET status='FAILED', error=$1 WHERE status IN ('PENDING','RUNNING') AND updated_at < $2`, table),
				msg, olderThan)
		}
		if err != nil {
			return int(total), apierr.Wrap(apierr.KindDBInsertFailed, err, "reconcile stale jobs in %s", table)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return int(total), nil
}

func (r *PostgresRepository) RunRetentionCleanup(ctx context.Context, retentionDays int) error {
	_, err := r.db.ExecContext(ctx, `SELECT cleanup_old_telemetry($1)`, retentionDays)
	if err != nil {
		return apierr.Wrap(apierr.KindDBQueryFailed, err, "run retention cleanup")
	}
	return nil
}

// EnsurePartition idempotently creates the monthly archival partition
// covering tp, named host_telemetry_archival_{year}_{month:02d}.
func (r *PostgresRepository) EnsurePartition(ctx context.Context, tp time.Time) error {
	year, month, _ := tp.Date()
	partName := fmt.Sprintf("host_telemetry_archival_%04d_%02d", year, int(month))
	rangeStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd := rangeStart.AddDate(0, 1, 0)

	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF host_telemetry_archival
		 FOR VALUES FROM ('%s') TO ('%s')`,
		partName, rangeStart.Format("2006-01-02"), rangeEnd.Format("2006-01-02"))
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "ensure partition %s", partName)
	}
	return nil
}
