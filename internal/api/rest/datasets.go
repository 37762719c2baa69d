package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/generator"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
	"github.com/kubilitics/anomaly-platform/internal/repository"
)

// createDatasetRequest is the POST /datasets body.
type createDatasetRequest struct {
	Tier            string                  `json:"tier"`
	HostCount       int                     `json:"host_count"`
	Regions         []string                `json:"regions,omitempty"`
	StartTime       time.Time               `json:"start_time"`
	EndTime         time.Time               `json:"end_time"`
	IntervalSeconds int                     `json:"interval_seconds"`
	Seed            int64                   `json:"seed"`
	Anomaly         generator.AnomalyConfig `json:"anomaly,omitempty"`
}

func (req createDatasetRequest) validate() error {
	if req.HostCount <= 0 {
		return apierr.New(apierr.KindMissingField, "host_count must be positive")
	}
	if !req.EndTime.After(req.StartTime) {
		return apierr.New(apierr.KindInvalidArgument, "end_time must be after start_time")
	}
	if req.IntervalSeconds <= 0 {
		return apierr.New(apierr.KindMissingField, "interval_seconds must be positive")
	}
	return nil
}

// repoSink adapts internal/repository to generator.Sink.
type repoSink struct {
	repo  repository.Repository
	runID string
}

func (s repoSink) InsertBatch(ctx context.Context, records []models.TelemetryRecord) error {
	for _, month := range distinctMonths(records) {
		if err := s.repo.EnsurePartition(ctx, month); err != nil {
			return err
		}
	}
	return s.repo.BatchInsertTelemetry(ctx, records)
}

// distinctMonths returns one representative timestamp per distinct
// (year, month) covered by records, so repoSink only calls EnsurePartition
// once per month actually present in a batch instead of once per record.
func distinctMonths(records []models.TelemetryRecord) []time.Time {
	seen := make(map[time.Time]bool)
	var months []time.Time
	for _, rec := range records {
		y, m, _ := rec.MetricTimestamp.Date()
		key := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		if !seen[key] {
			seen[key] = true
			months = append(months, key)
		}
	}
	return months
}

func (s repoSink) UpdateProgress(ctx context.Context, insertedRows int64) error {
	return s.repo.UpdateRunStatus(ctx, s.runID, models.StatusRunning, insertedRows, "")
}

// PostDataset starts a synthetic-telemetry generation run as a tracked job.
func (h *Handler) PostDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, r, err)
		return
	}

	requestID := logger.FromContext(r.Context())
	runID := uuid.New().String()
	cfgJSON, _ := json.Marshal(req)

	run := &models.GenerationRun{
		RunID:           runID,
		Tier:            req.Tier,
		HostCount:       req.HostCount,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		IntervalSeconds: req.IntervalSeconds,
		Seed:            req.Seed,
		Status:          models.StatusPending,
		Config:          cfgJSON,
	}
	if requestID != "" {
		run.RequestID = &requestID
	}
	if err := h.repo.CreateRun(r.Context(), run); err != nil {
		respondError(w, r, err)
		return
	}

	genCfg := generator.Config{
		RunID:           runID,
		Tier:            req.Tier,
		HostCount:       req.HostCount,
		Regions:         req.Regions,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		IntervalSeconds: req.IntervalSeconds,
		Seed:            req.Seed,
		Anomaly:         req.Anomaly,
	}
	sink := repoSink{repo: h.repo, runID: runID}
	gen := generator.New(genCfg, sink)

	ok := h.startTrackedJob(w, r, runID, requestID, func(ctx context.Context, cancel *atomic.Bool) error {
		return gen.Run(ctx, cancel)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

// ListDatasets lists generation runs.
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	f := repository.ListFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
		Status: r.URL.Query().Get("status"),
	}
	runs, err := h.repo.ListGenerationRuns(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetDataset returns one generation run's detail.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	detail, err := h.repo.GetDatasetDetail(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// GetDatasetSummary returns the composite dataset overview.
func (h *Handler) GetDatasetSummary(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	topK := queryInt(r, "top_k", 10)
	summary, err := h.repo.GetDatasetSummary(r.Context(), runID, topK)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// GetDatasetTopK returns the top-K value breakdown for a dimension column.
func (h *Handler) GetDatasetTopK(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	q := r.URL.Query()
	column := q.Get("column")
	if column == "" {
		respondBadRequest(w, r, "column is required")
		return
	}
	entries, err := h.repo.GetTopK(r.Context(), runID, column, queryInt(r, "k", 10),
		queryBoolPtr(r, "is_anomaly"), q.Get("anomaly_type"), q.Get("start_time"), q.Get("end_time"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// GetDatasetTimeSeries returns bucketed metric aggregates over time.
func (h *Handler) GetDatasetTimeSeries(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	q := r.URL.Query()
	f := repository.TimeSeriesFilter{
		Metrics:       q["metric"],
		Aggregations:  q["agg"],
		BucketSeconds: queryInt(r, "bucket_seconds", 3600),
		IsAnomaly:     queryBoolPtr(r, "is_anomaly"),
		AnomalyType:   q.Get("anomaly_type"),
		StartTime:     q.Get("start_time"),
		EndTime:       q.Get("end_time"),
	}
	points, err := h.repo.GetTimeSeries(r.Context(), runID, f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// GetDatasetHistogram returns a fixed-width histogram over one metric.
func (h *Handler) GetDatasetHistogram(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		respondBadRequest(w, r, "metric is required")
		return
	}
	var minV, maxV float64
	if v := q.Get("min"); v != "" {
		minV = parseFloatOr(v, 0)
	}
	if v := q.Get("max"); v != "" {
		maxV = parseFloatOr(v, 0)
	}
	f := repository.HistogramFilter{
		Metric:      metric,
		Bins:        queryInt(r, "bins", 20),
		Min:         minV,
		Max:         maxV,
		IsAnomaly:   queryBoolPtr(r, "is_anomaly"),
		AnomalyType: q.Get("anomaly_type"),
		StartTime:   q.Get("start_time"),
		EndTime:     q.Get("end_time"),
	}
	hist, err := h.repo.GetHistogram(r.Context(), runID, f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, hist)
}

// GetDatasetSamples returns a bounded sample of raw telemetry rows.
func (h *Handler) GetDatasetSamples(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 100)
	rows, err := h.repo.GetDatasetSamples(r.Context(), runID, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// GetDatasetMetricStats returns one metric's distribution summary.
func (h *Handler) GetDatasetMetricStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stats, err := h.repo.GetMetricStats(r.Context(), vars["id"], vars["metric"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func parseFloatOr(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
