package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
)

// SQLiteRepository is the embedded test/dev Repository backend: a single
// unpartitioned archival table (SQLite has no native range partitioning)
// and analytics aggregated in Go rather than via PERCENTILE_CONT/
// width_bucket, neither of which SQLite provides.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens a SQLite database at path (use ":memory:" or a
// temp file) and enables foreign keys.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "connect sqlite")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "enable foreign keys")
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

// DB exposes the underlying handle for migration wiring in tests.
func (r *SQLiteRepository) DB() *sqlx.DB { return r.db }

// RunMigrations applies a schema SQL file. Every statement uses IF NOT
// EXISTS, so this is safe to call on every startup, including against the
// in-memory databases used by tests. Callers pass the embedded
// migrations.SQLite contents.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, migrationSQL string) error {
	if _, err := r.db.ExecContext(ctx, migrationSQL); err != nil {
		return apierr.Wrap(apierr.KindDBQueryFailed, err, "apply sqlite migrations")
	}
	return nil
}

func rebind(query string) string {
	var b strings.Builder
	n := 1
	for _, c := range query {
		if c == '$' {
			continue
		}
		b.WriteRune(c)
		_ = n
	}
	return b.String()
}

// qmarks rewrites "$1 $2 ..." placeholders to "?" for SQLite.
func qmarks(query string) string {
	var b strings.Builder
	i := 0
	for i < len(query) {
		if query[i] == '$' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			b.WriteByte('?')
			i = j
			continue
		}
		b.WriteByte(query[i])
		i++
	}
	return b.String()
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *models.GenerationRun) error {
	_, err := r.db.ExecContext(ctx, qmarks(
		`INSERT INTO generation_runs (run_id, tier, host_count, start_time, end_time, interval_seconds, seed, status, config, request_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`),
		run.RunID, run.Tier, run.HostCount, run.StartTime, run.EndTime, run.IntervalSeconds, run.Seed,
		run.Status, []byte(run.Config), nullableString(run.RequestID))
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "create generation run %s", run.RunID)
	}
	return nil
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, runID string, status models.Status, insertedRows int64, errMsg string) error {
	var err error
	if errMsg != "" {
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE generation_runs SET status=$1, inserted_rows=$2, error=$3, updated_at=CURRENT_TIMESTAMP WHERE run_id=$4`),
			status, insertedRows, errMsg, runID)
	} else {
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE generation_runs SET status=$1, inserted_rows=$2, updated_at=CURRENT_TIMESTAMP WHERE run_id=$3`),
			status, insertedRows, runID)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update run status %s", runID)
	}
	return nil
}

func (r *SQLiteRepository) GetRunStatus(ctx context.Context, runID string) (*models.GenerationRun, error) {
	var run models.GenerationRun
	err := r.db.GetContext(ctx, &run,
		qmarks(`SELECT run_id, status, inserted_rows, error, request_id FROM generation_runs WHERE run_id=$1`), runID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "generation run %s not found", runID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get run status %s", runID)
	}
	return &run, nil
}

func (r *SQLiteRepository) ListGenerationRuns(ctx context.Context, f ListFilter) ([]models.GenerationRun, error) {
	query := `SELECT run_id, status, inserted_rows, created_at, start_time, end_time, interval_seconds, host_count, tier
	          FROM generation_runs`
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.CreatedFrom != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.CreatedTo)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var runs []models.GenerationRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list generation runs")
	}
	return runs, nil
}

func (r *SQLiteRepository) GetDatasetDetail(ctx context.Context, runID string) (*models.GenerationRun, error) {
	var run models.GenerationRun
	err := r.db.GetContext(ctx, &run,
		qmarks(`SELECT run_id, status, inserted_rows, created_at, start_time, end_time, interval_seconds, host_count, tier, error, request_id
		 FROM generation_runs WHERE run_id=$1`), runID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "dataset %s not found", runID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset detail %s", runID)
	}
	return &run, nil
}

func (r *SQLiteRepository) BatchInsertTelemetry(ctx context.Context, records []models.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "begin telemetry batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, qmarks(
		`INSERT INTO host_telemetry_archival
		 (ingestion_time, metric_timestamp, host_id, project_id, region,
		  cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate,
		  labels, run_id, is_anomaly, anomaly_type)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`))
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

func (r *SQLiteRepository) GetDatasetSamples(ctx context.Context, runID string, limit int) ([]models.TelemetryRecord, error) {
	var rows []models.TelemetryRecord
	err := r.db.SelectContext(ctx, &rows, qmarks(
		`SELECT cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate, metric_timestamp, host_id
		 FROM host_telemetry_archival WHERE run_id=$1 ORDER BY metric_timestamp DESC LIMIT $2`), runID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset samples %s", runID)
	}
	return rows, nil
}

func (r *SQLiteRepository) CountDatasetRows(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, qmarks(
		`SELECT COUNT(*) FROM host_telemetry_archival WHERE run_id=$1`), runID)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindDBQueryFailed, err, "count dataset rows %s", runID)
	}
	return n, nil
}

func (r *SQLiteRepository) GetDatasetRecord(ctx context.Context, runID string, recordID int64) (*models.TelemetryRecord, error) {
	var rec models.TelemetryRecord
	err := r.db.GetContext(ctx, &rec, qmarks(
		`SELECT cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate, metric_timestamp, host_id, labels
		 FROM host_telemetry_archival WHERE run_id=$1 AND record_id=$2`), runID, recordID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "record %d not found in dataset %s", recordID, runID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset record %s/%d", runID, recordID)
	}
	return &rec, nil
}

func (r *SQLiteRepository) CreateModelRun(ctx context.Context, datasetID, name, requestID string) (string, error) {
	res, err := r.db.ExecContext(ctx, qmarks(
		`INSERT INTO model_runs (dataset_id, name, status, request_id) VALUES ($1,$2,'PENDING',$3)`), datasetID, name, requestID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBInsertFailed, err, "create model run for dataset %s", datasetID)
	}
	var modelRunID string
	err = r.db.GetContext(ctx, &modelRunID, `SELECT model_run_id FROM model_runs WHERE rowid = ?`, mustLastID(res))
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBQueryFailed, err, "read back model run id")
	}
	return modelRunID, nil
}

func mustLastID(res sql.Result) int64 {
	id, _ := res.LastInsertId()
	return id
}

func (r *SQLiteRepository) UpdateModelRunStatus(ctx context.Context, modelRunID string, status models.Status, artifactPath, errMsg string) error {
	var err error
	if status == models.StatusCompleted {
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE model_runs SET status=$1, artifact_path=$2, completed_at=CURRENT_TIMESTAMP WHERE model_run_id=$3`),
			status, artifactPath, modelRunID)
	} else {
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE model_runs SET status=$1, error=$2 WHERE model_run_id=$3`), status, errMsg, modelRunID)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update model run %s", modelRunID)
	}
	return nil
}

// CompleteHPORun marks an HPO parent run COMPLETED, recording the winning
// trial's run ID and its metric value rather than an artifact path: a parent
// run never trains a model itself, so it has none.
func (r *SQLiteRepository) CompleteHPORun(ctx context.Context, parentRunID, bestTrialRunID string, bestMetricValue float64) error {
	_, err := r.db.ExecContext(ctx, qmarks(
		`UPDATE model_runs SET status=$1, best_trial_run_id=$2, best_metric_value=$3, completed_at=CURRENT_TIMESTAMP WHERE model_run_id=$4`),
		models.StatusCompleted, bestTrialRunID, bestMetricValue, parentRunID)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "complete hpo run %s", parentRunID)
	}
	return nil
}

func (r *SQLiteRepository) GetModelRun(ctx context.Context, modelRunID string) (*models.ModelRun, error) {
	var run models.ModelRun
	err := r.db.GetContext(ctx, &run, qmarks(
		`SELECT model_run_id, dataset_id, name, status, artifact_path, best_trial_run_id, best_metric_value, error, created_at, completed_at, request_id
		 FROM model_runs WHERE model_run_id=$1`), modelRunID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "model run %s not found", modelRunID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get model run %s", modelRunID)
	}
	return &run, nil
}

func (r *SQLiteRepository) ListModelRuns(ctx context.Context, f ListFilter) ([]models.ModelRun, error) {
	query := `SELECT model_run_id, dataset_id, name, status, artifact_path, error, created_at, completed_at FROM model_runs`
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.DatasetID != "" {
		clauses = append(clauses, "dataset_id = ?")
		args = append(args, f.DatasetID)
	}
	if f.CreatedFrom != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.CreatedTo)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var runs []models.ModelRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list model runs")
	}
	return runs, nil
}

func (r *SQLiteRepository) GetModelsForDataset(ctx context.Context, datasetID string) ([]models.ModelRun, error) {
	var runs []models.ModelRun
	err := r.db.SelectContext(ctx, &runs, qmarks(
		`SELECT model_run_id, name, status, created_at FROM model_runs WHERE dataset_id=$1 ORDER BY created_at DESC`), datasetID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get models for dataset %s", datasetID)
	}
	return runs, nil
}

func (r *SQLiteRepository) GetScoredDatasetsForModel(ctx context.Context, modelRunID string) ([]ScoredDataset, error) {
	var out []ScoredDataset
	err := r.db.SelectContext(ctx, &out, qmarks(
		`SELECT DISTINCT ds.dataset_id, gr.created_at, ds.scored_at
		 FROM dataset_scores ds JOIN generation_runs gr ON ds.dataset_id = gr.run_id
		 WHERE ds.model_run_id=$1 ORDER BY ds.scored_at DESC`), modelRunID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get scored datasets for model %s", modelRunID)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateInferenceRun(ctx context.Context, modelRunID string) (string, error) {
	res, err := r.db.ExecContext(ctx, qmarks(
		`INSERT INTO inference_runs (model_run_id, status) VALUES ($1,'RUNNING')`), modelRunID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBInsertFailed, err, "create inference run for model %s", modelRunID)
	}
	var id string
	if err := r.db.GetContext(ctx, &id, `SELECT inference_id FROM inference_runs WHERE rowid = ?`, mustLastID(res)); err != nil {
		return "", apierr.Wrap(apierr.KindDBQueryFailed, err, "read back inference run id")
	}
	return id, nil
}

func (r *SQLiteRepository) UpdateInferenceRunStatus(ctx context.Context, inferenceID string, status models.Status, anomalyCount int, details []byte, latencyMs float64) error {
	_, err := r.db.ExecContext(ctx, qmarks(
		`UPDATE inference_runs SET status=$1, anomaly_count=$2, details=$3, latency_ms=$4 WHERE inference_id=$5`),
		status, anomalyCount, details, latencyMs, inferenceID)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update inference run %s", inferenceID)
	}
	return nil
}

func (r *SQLiteRepository) ListInferenceRuns(ctx context.Context, datasetID, modelRunID string, f ListFilter) ([]models.InferenceRun, error) {
	query := `SELECT i.inference_id, i.model_run_id, i.status, i.anomaly_count, i.latency_ms, i.created_at
	          FROM inference_runs i JOIN model_runs m ON i.model_run_id = m.model_run_id`
	var clauses []string
	var args []any
	if datasetID != "" {
		clauses = append(clauses, "m.dataset_id = ?")
		args = append(args, datasetID)
	}
	if modelRunID != "" {
		clauses = append(clauses, "i.model_run_id = ?")
		args = append(args, modelRunID)
	}
	if f.Status != "" {
		clauses = append(clauses, "i.status = ?")
		args = append(args, f.Status)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY i.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var runs []models.InferenceRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list inference runs")
	}
	return runs, nil
}

func (r *SQLiteRepository) GetInferenceRun(ctx context.Context, inferenceID string) (*models.InferenceRun, error) {
	var run models.InferenceRun
	err := r.db.GetContext(ctx, &run, qmarks(
		`SELECT inference_id, model_run_id, status, anomaly_count, latency_ms, details, created_at
		 FROM inference_runs WHERE inference_id=$1`), inferenceID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "inference run %s not found", inferenceID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get inference run %s", inferenceID)
	}
	return &run, nil
}

func (r *SQLiteRepository) InsertAlert(ctx context.Context, alert *models.Alert) error {
	detailsJSON, err := json.Marshal(alert.Details)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "marshal alert details")
	}
	_, err = r.db.ExecContext(ctx, qmarks(
		`INSERT INTO alerts (host_id, run_id, timestamp, severity, source, score, details)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`),
		alert.HostID, alert.RunID, alert.Timestamp, alert.Severity, alert.Source, alert.Score, detailsJSON)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "insert alert for host %s", alert.HostID)
	}
	return nil
}

// --- Analytics (computed in Go; SQLite lacks PERCENTILE_CONT/width_bucket) ---

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (r *SQLiteRepository) GetDatasetSummary(ctx context.Context, runID string, topK int) (*DatasetSummary, error) {
	var rows []models.TelemetryRecord
	err := r.db.SelectContext(ctx, &rows, qmarks(
		`SELECT metric_timestamp, ingestion_time, is_anomaly, anomaly_type, host_id, project_id, region
		 FROM host_telemetry_archival WHERE run_id=$1`), runID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset summary %s", runID)
	}

	summary := &DatasetSummary{RowCount: int64(len(rows))}
	if len(rows) == 0 {
		return summary, nil
	}

	hosts, projects, regions := map[string]bool{}, map[string]bool{}, map[string]bool{}
	typeCounts := map[string]int64{}
	var anomalies int64
	var minTS, maxTS time.Time
	var latencies []float64
	for i, rec := range rows {
		if i == 0 || rec.MetricTimestamp.Before(minTS) {
			minTS = rec.MetricTimestamp
		}
		if i == 0 || rec.MetricTimestamp.After(maxTS) {
			maxTS = rec.MetricTimestamp
		}
		if rec.IsAnomaly {
			anomalies++
			if rec.AnomalyType != nil {
				typeCounts[*rec.AnomalyType]++
			}
		}
		hosts[rec.HostID] = true
		projects[rec.ProjectID] = true
		regions[rec.Region] = true
		latencies = append(latencies, rec.IngestionTime.Sub(rec.MetricTimestamp).Seconds())
	}
	summary.TimeRange = DatasetTimeRange{MinTS: minTS.Format(time.RFC3339), MaxTS: maxTS.Format(time.RFC3339)}
	summary.AnomalyRate = float64(anomalies) / float64(len(rows))
	summary.DistinctHostCount = int64(len(hosts))
	summary.DistinctProjectCount = int64(len(projects))
	summary.DistinctRegionCount = int64(len(regions))

	type kv struct {
		k string
		v int64
	}
	var sorted []kv
	for k, v := range typeCounts {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].v > sorted[j].v })
	var other int64
	for i, e := range sorted {
		if i < topK {
			summary.AnomalyTypeCounts = append(summary.AnomalyTypeCounts, TopKEntry{Label: e.k, Count: e.v})
		} else {
			other += e.v
		}
	}
	if other > 0 {
		summary.AnomalyTypeCounts = append(summary.AnomalyTypeCounts, TopKEntry{Label: "other", Count: other})
	}

	sort.Float64s(latencies)
	summary.IngestionLatencyP50 = percentile(latencies, 0.5)
	summary.IngestionLatencyP95 = percentile(latencies, 0.95)

	cutoff := maxTS.Add(-24 * time.Hour)
	buckets := map[time.Time]*TrendPoint{}
	var order []time.Time
	for _, rec := range rows {
		if rec.MetricTimestamp.Before(cutoff) {
			continue
		}
		bucket := rec.MetricTimestamp.Truncate(time.Hour)
		tp, ok := buckets[bucket]
		if !ok {
			tp = &TrendPoint{Timestamp: bucket.Format(time.RFC3339)}
			buckets[bucket] = tp
			order = append(order, bucket)
		}
		tp.Total++
		if rec.IsAnomaly {
			tp.AnomalyRate++
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	for _, b := range order {
		tp := buckets[b]
		if tp.Total > 0 {
			tp.AnomalyRate = tp.AnomalyRate / float64(tp.Total)
		}
		summary.AnomalyRateTrend = append(summary.AnomalyRateTrend, *tp)
	}
	return summary, nil
}

func (r *SQLiteRepository) GetTopK(ctx context.Context, runID, column string, k int, isAnomaly *bool, anomalyType, startTime, endTime string) ([]TopKEntry, error) {
	if !IsValidDimension(column) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid column: %s", column)
	}
	column = strings.TrimPrefix(column, "h.")
	query := fmt.Sprintf("SELECT %s FROM host_telemetry_archival WHERE run_id = ?", column)
	args := []any{runID}
	if isAnomaly != nil {
		query += " AND is_anomaly = ?"
		args = append(args, *isAnomaly)
	}
	if anomalyType != "" {
		query += " AND anomaly_type = ?"
		args = append(args, anomalyType)
	}
	if startTime != "" {
		query += " AND metric_timestamp >= ?"
		args = append(args, startTime)
	}
	if endTime != "" {
		query += " AND metric_timestamp <= ?"
		args = append(args, endTime)
	}
	var labels []string
	if err := r.db.SelectContext(ctx, &labels, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get topk %s", runID)
	}
	counts := map[string]int64{}
	for _, l := range labels {
		counts[l]++
	}
	var out []TopKEntry
	for label, cnt := range counts {
		out = append(out, TopKEntry{Label: label, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func metricValue(rec models.TelemetryRecord, metric string) float64 {
	switch metric {
	case "cpu_usage":
		return rec.CPUUsage
	case "memory_usage":
		return rec.MemoryUsage
	case "disk_utilization":
		return rec.DiskUtilization
	case "network_rx_rate":
		return rec.NetworkRxRate
	case "network_tx_rate":
		return rec.NetworkTxRate
	default:
		return 0
	}
}

func (r *SQLiteRepository) fetchFiltered(ctx context.Context, runID string, isAnomaly *bool, anomalyType, startTime, endTime string) ([]models.TelemetryRecord, error) {
	query := `SELECT cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate,
	                 metric_timestamp, is_anomaly, anomaly_type
	          FROM host_telemetry_archival WHERE run_id = ?`
	args := []any{runID}
	if isAnomaly != nil {
		query += " AND is_anomaly = ?"
		args = append(args, *isAnomaly)
	}
	if anomalyType != "" {
		query += " AND anomaly_type = ?"
		args = append(args, anomalyType)
	}
	if startTime != "" {
		query += " AND metric_timestamp >= ?"
		args = append(args, startTime)
	}
	if endTime != "" {
		query += " AND metric_timestamp <= ?"
		args = append(args, endTime)
	}
	var rows []models.TelemetryRecord
	err := r.db.SelectContext(ctx, &rows, query, args...)
	return rows, err
}

func (r *SQLiteRepository) GetTimeSeries(ctx context.Context, runID string, f TimeSeriesFilter) ([]TimeSeriesPoint, error) {
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
	rows, err := r.fetchFiltered(ctx, runID, f.IsAnomaly, f.AnomalyType, f.StartTime, f.EndTime)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get timeseries %s", runID)
	}

	buckets := map[int64][]models.TelemetryRecord{}
	var order []int64
	for _, rec := range rows {
		b := rec.MetricTimestamp.Unix() / int64(f.BucketSeconds) * int64(f.BucketSeconds)
		if _, ok := buckets[b]; !ok {
			order = append(order, b)
		}
		buckets[b] = append(buckets[b], rec)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var out []TimeSeriesPoint
	for _, b := range order {
		group := buckets[b]
		point := TimeSeriesPoint{Timestamp: time.Unix(b, 0).UTC(), Values: map[string]float64{}}
		for _, m := range f.Metrics {
			vals := make([]float64, len(group))
			for i, rec := range group {
				vals[i] = metricValue(rec, m)
			}
			for _, a := range f.Aggregations {
				point.Values[m+"_"+a] = aggregate(vals, a)
			}
		}
		out = append(out, point)
	}
	return out, nil
}

func aggregate(vals []float64, agg string) float64 {
	if len(vals) == 0 {
		return 0
	}
	switch agg {
	case "mean":
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	case "min":
		m := vals[0]
		for _, v := range vals {
			if v < m {
				m = v
			}
		}
		return m
	case "max":
		m := vals[0]
		for _, v := range vals {
			if v > m {
				m = v
			}
		}
		return m
	case "p50":
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		return percentile(sorted, 0.5)
	case "p95":
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		return percentile(sorted, 0.95)
	default:
		return 0
	}
}

func (r *SQLiteRepository) GetHistogram(ctx context.Context, runID string, f HistogramFilter) (*Histogram, error) {
	if !IsValidMetric(f.Metric) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid metric: %s", f.Metric)
	}
	rows, err := r.fetchFiltered(ctx, runID, f.IsAnomaly, f.AnomalyType, f.StartTime, f.EndTime)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get histogram %s", runID)
	}
	minVal, maxVal := f.Min, f.Max
	if maxVal <= minVal {
		for i, rec := range rows {
			v := metricValue(rec, f.Metric)
			if i == 0 || v < minVal {
				minVal = v
			}
			if i == 0 || v > maxVal {
				maxVal = v
			}
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
	counts := make([]int64, f.Bins)
	for _, rec := range rows {
		v := metricValue(rec, f.Metric)
		b := int((v - minVal) / step)
		if b >= f.Bins {
			b = f.Bins - 1
		}
		if b < 0 {
			b = 0
		}
		counts[b]++
	}
	hist.Counts = counts
	return hist, nil
}

func (r *SQLiteRepository) GetMetricStats(ctx context.Context, runID, metric string) (*MetricStats, error) {
	if !IsValidMetric(metric) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid metric: %s", metric)
	}
	rows, err := r.fetchFiltered(ctx, runID, nil, "", "", "")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get metric stats %s/%s", runID, metric)
	}
	stats := &MetricStats{Count: int64(len(rows))}
	if len(rows) == 0 {
		return stats, nil
	}
	vals := make([]float64, len(rows))
	var sum float64
	for i, rec := range rows {
		v := metricValue(rec, metric)
		vals[i] = v
		sum += v
		if i == 0 || v < stats.Min {
			stats.Min = v
		}
		if i == 0 || v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(vals))
	sort.Float64s(vals)
	stats.P50 = percentile(vals, 0.5)
	stats.P95 = percentile(vals, 0.95)
	return stats, nil
}

func (r *SQLiteRepository) GetDatasetMetricsSummary(ctx context.Context, runID string) (*DatasetMetricsSummary, error) {
	rows, err := r.fetchFiltered(ctx, runID, nil, "", "", "")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get dataset metrics summary %s", runID)
	}
	entries := make([]VarianceEntry, len(models.Features))
	for i, m := range models.Features {
		vals := make([]float64, len(rows))
		var sum float64
		for j, rec := range rows {
			vals[j] = metricValue(rec, m)
			sum += vals[j]
		}
		entries[i] = VarianceEntry{Key: m, StdDev: stddev(vals, sum)}
	}
	sortVarianceDesc(entries)
	return &DatasetMetricsSummary{HighVariance: entries, HighMissingness: []VarianceEntry{}}, nil
}

func stddev(vals []float64, sum float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	mean := sum / float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return sqrtApprox(variance)
}

func sqrtApprox(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 32; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func (r *SQLiteRepository) CreateScoreJob(ctx context.Context, datasetID, modelRunID, requestID string) (string, error) {
	var existing string
	err := r.db.GetContext(ctx, &existing, qmarks(
		`SELECT job_id FROM dataset_score_jobs WHERE dataset_id=$1 AND model_run_id=$2 AND status IN ('PENDING','RUNNING')`),
		datasetID, modelRunID)
	if err == nil {
		return existing, apierr.New(apierr.KindConflict, "score job already in progress for dataset %s / model %s", datasetID, modelRunID)
	}
	if err != sql.ErrNoRows {
		return "", apierr.Wrap(apierr.KindDBQueryFailed, err, "check existing score job")
	}

	res, err := r.db.ExecContext(ctx, qmarks(
		`INSERT INTO dataset_score_jobs (dataset_id, model_run_id, status, request_id) VALUES ($1,$2,'PENDING',$3)`),
		datasetID, modelRunID, requestID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindDBInsertFailed, err, "create score job")
	}
	var jobID string
	if err := r.db.GetContext(ctx, &jobID, `SELECT job_id FROM dataset_score_jobs WHERE rowid = ?`, mustLastID(res)); err != nil {
		return "", apierr.Wrap(apierr.KindDBQueryFailed, err, "read back score job id")
	}
	return jobID, nil
}

func (r *SQLiteRepository) UpdateScoreJob(ctx context.Context, jobID string, status models.Status, totalRows, processedRows, lastRecordID int64, errMsg string) error {
	var err error
	switch {
	case status == models.StatusCompleted:
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE dataset_score_jobs SET status=$1, total_rows=$2, processed_rows=$3, last_record_id=$4, updated_at=CURRENT_TIMESTAMP, completed_at=CURRENT_TIMESTAMP
			 WHERE job_id=$5`), status, totalRows, processedRows, lastRecordID, jobID)
	case errMsg != "":
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE dataset_score_jobs SET status=$1, total_rows=$2, processed_rows=$3, last_record_id=$4, error=$5, updated_at=CURRENT_TIMESTAMP
			 WHERE job_id=$6`), status, totalRows, processedRows, lastRecordID, errMsg, jobID)
	default:
		_, err = r.db.ExecContext(ctx, qmarks(
			`UPDATE dataset_score_jobs SET status=$1, total_rows=$2, processed_rows=$3, last_record_id=$4, updated_at=CURRENT_TIMESTAMP
			 WHERE job_id=$5`), status, totalRows, processedRows, lastRecordID, jobID)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "update score job %s", jobID)
	}
	return nil
}

func (r *SQLiteRepository) GetScoreJob(ctx context.Context, jobID string) (*models.DatasetScoreJob, error) {
	var job models.DatasetScoreJob
	err := r.db.GetContext(ctx, &job, qmarks(
		`SELECT job_id, dataset_id, model_run_id, status, total_rows, processed_rows, last_record_id, error, created_at, updated_at, completed_at, request_id
		 FROM dataset_score_jobs WHERE job_id=$1`), jobID)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "score job %s not found", jobID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get score job %s", jobID)
	}
	return &job, nil
}

func (r *SQLiteRepository) ListScoreJobs(ctx context.Context, f ListFilter) ([]models.DatasetScoreJob, error) {
	query := `SELECT job_id, dataset_id, model_run_id, status, total_rows, processed_rows, last_record_id, error, created_at, updated_at, completed_at
	          FROM dataset_score_jobs`
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.DatasetID != "" {
		clauses = append(clauses, "dataset_id = ?")
		args = append(args, f.DatasetID)
	}
	if f.ModelRunID != "" {
		clauses = append(clauses, "model_run_id = ?")
		args = append(args, f.ModelRunID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var jobs []models.DatasetScoreJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "list score jobs")
	}
	return jobs, nil
}

func (r *SQLiteRepository) FetchScoringRowsAfterRecord(ctx context.Context, datasetID string, lastRecordID int64, limit int) ([]ScoringRow, error) {
	rows, err := r.db.QueryContext(ctx, qmarks(
		`SELECT record_id, is_anomaly, cpu_usage, memory_usage, disk_utilization, network_rx_rate, network_tx_rate
		 FROM host_telemetry_archival WHERE run_id=$1 AND record_id > $2 ORDER BY record_id ASC LIMIT $3`),
		datasetID, lastRecordID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "fetch scoring rows %s", datasetID)
	}
	defer rows.Close()
	var out []ScoringRow
	for rows.Next() {
		var sr ScoringRow
		if err := rows.Scan(&sr.RecordID, &sr.IsAnomaly, &sr.Features[0], &sr.Features[1], &sr.Features[2], &sr.Features[3], &sr.Features[4]); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan scoring row")
		}
		out = append(out, sr)
	}
	return out, nil
}

func (r *SQLiteRepository) InsertDatasetScores(ctx context.Context, datasetID, modelRunID string, scores []ScoreInput) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindDBInsertFailed, err, "begin score insert")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, qmarks(
		`INSERT INTO dataset_scores (dataset_id, model_run_id, record_id, reconstruction_error, predicted_is_anomaly)
		 VALUES ($1,$2,$3,$4,$5)`))
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

func (r *SQLiteRepository) GetScores(ctx context.Context, datasetID, modelRunID string, f ScoresFilter) (*ScoresPage, error) {
	where := "WHERE s.dataset_id = ? AND s.model_run_id = ?"
	args := []any{datasetID, modelRunID}
	if f.OnlyAnomalies {
		where += " AND s.predicted_is_anomaly = 1"
	}
	if f.MinScore > 0 {
		where += " AND s.reconstruction_error >= ?"
		args = append(args, f.MinScore)
	}
	if f.MaxScore > 0 {
		where += " AND s.reconstruction_error <= ?"
		args = append(args, f.MaxScore)
	}

	query := fmt.Sprintf(
		`SELECT s.score_id, s.record_id, s.reconstruction_error, s.predicted_is_anomaly, s.scored_at,
		        h.metric_timestamp, h.host_id, h.is_anomaly AS label
		 FROM dataset_scores s JOIN host_telemetry_archival h ON s.record_id = h.record_id
		 %s ORDER BY s.reconstruction_error DESC, s.score_id DESC LIMIT ? OFFSET ?`, where)
	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get scores")
	}
	page := &ScoresPage{Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		var rec ScoredRecord
		if err := rows.Scan(&rec.ScoreID, &rec.RecordID, &rec.Score, &rec.IsAnomaly, &rec.ScoredAt,
			&rec.Timestamp, &rec.HostID, &rec.Label); err != nil {
			rows.Close()
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan score row")
		}
		page.Items = append(page.Items, rec)
	}
	rows.Close()

	countQuery := "SELECT COUNT(*) FROM dataset_scores s " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "count scores")
	}

	var lo, hi sql.NullFloat64
	err = r.db.QueryRowContext(ctx,
		`SELECT MIN(reconstruction_error), MAX(reconstruction_error) FROM dataset_scores WHERE dataset_id = ? AND model_run_id = ?`,
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

func (r *SQLiteRepository) GetEvalMetrics(ctx context.Context, datasetID, modelRunID string, points, maxSamples int) (*EvalMetrics, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.reconstruction_error, s.predicted_is_anomaly, h.is_anomaly
		 FROM dataset_scores s JOIN host_telemetry_archival h ON s.record_id = h.record_id
		 WHERE s.dataset_id = ? AND s.model_run_id = ?`, datasetID, modelRunID)
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

	sort.Slice(samples, func(i, j int) bool { return samples[i].err > samples[j].err })

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

func (r *SQLiteRepository) GetErrorDistribution(ctx context.Context, datasetID, modelRunID, groupBy string) ([]ErrorDistributionEntry, error) {
	if !IsValidDimension(groupBy) {
		return nil, apierr.New(apierr.KindInvalidArgument, "invalid group_by: %s", groupBy)
	}
	col := strings.TrimPrefix(groupBy, "h.")
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT h.%s, s.reconstruction_error
		 FROM dataset_scores s JOIN host_telemetry_archival h ON s.record_id = h.record_id
		 WHERE s.dataset_id = ? AND s.model_run_id = ?`, col), datasetID, modelRunID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "get error distribution")
	}
	defer rows.Close()

	groups := map[string][]float64{}
	var order []string
	for rows.Next() {
		var label string
		var errVal float64
		if err := rows.Scan(&label, &errVal); err != nil {
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "scan error distribution row")
		}
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], errVal)
	}
	sort.Slice(order, func(i, j int) bool { return len(groups[order[i]]) > len(groups[order[j]]) })

	var out []ErrorDistributionEntry
	for _, label := range order {
		vals := groups[label]
		var sum float64
		for _, v := range vals {
			sum += v
		}
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		out = append(out, ErrorDistributionEntry{
			Label: label,
			Count: int64(len(vals)),
			Mean:  sum / float64(len(vals)),
			P50:   percentile(sorted, 0.5),
			P95:   percentile(sorted, 0.95),
		})
	}
	return out, nil
}

func (r *SQLiteRepository) ReconcileStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	const msg = "System restart/recovery"
	var total int64
	for _, table := range []string{"dataset_score_jobs", "model_runs", "generation_runs"} {
		var res sql.Result
		var err error
		if olderThan.IsZero() {
			res, err = r.db.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET status='FAILED', error=? WHERE status IN ('PENDING','RUNNING')`, table), msg)
		} else {
			res, err = r.db.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET status='FAILED', error=? WHERE status IN ('PENDING','RUNNING') AND updated_at < ?`, table),
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

func (r *SQLiteRepository) RunRetentionCleanup(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := r.db.ExecContext(ctx, `DELETE FROM host_telemetry_archival WHERE metric_timestamp < ?`, cutoff)
	if err != nil {
		return apierr.Wrap(apierr.KindDBQueryFailed, err, "run retention cleanup")
	}
	return nil
}

// EnsurePartition is a no-op on SQLite: there is no native range
// partitioning, and the embedded schema uses a single archival table.
func (r *SQLiteRepository) EnsurePartition(ctx context.Context, tp time.Time) error {
	return nil
}
