package repository

import "time"

// ListFilter bounds a paginated listing query. Empty string fields are
// omitted from the WHERE clause.
type ListFilter struct {
	Limit       int
	Offset      int
	Status      string
	DatasetID   string
	ModelRunID  string
	CreatedFrom string
	CreatedTo   string
}

// TopKEntry is one (label, count) bucket from GetTopK/GetDatasetSummary's
// anomaly-type breakdown.
type TopKEntry struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// TimeSeriesFilter scopes a bucketed GetTimeSeries query.
type TimeSeriesFilter struct {
	Metrics       []string
	Aggregations  []string
	BucketSeconds int
	IsAnomaly     *bool
	AnomalyType   string
	StartTime     string
	EndTime       string
}

// TimeSeriesPoint is one time bucket's aggregated metric values, keyed by
// "<metric>_<agg>".
type TimeSeriesPoint struct {
	Timestamp time.Time
	Values    map[string]float64
}

// HistogramFilter scopes a GetHistogram query.
type HistogramFilter struct {
	Metric      string
	Bins        int
	Min         float64
	Max         float64
	IsAnomaly   *bool
	AnomalyType string
	StartTime   string
	EndTime     string
}

// Histogram is a fixed-width bucket histogram over one metric.
type Histogram struct {
	Edges  []float64
	Counts []int64
}

// MetricStats summarizes one metric's distribution across a dataset.
type MetricStats struct {
	Count         int64   `json:"count"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	P50           float64 `json:"p50"`
	P95           float64 `json:"p95"`
	MissingCount  int64   `json:"missing_count"`
}

// DatasetTimeRange is the observed min/max metric_timestamp for a dataset.
type DatasetTimeRange struct {
	MinTS string
	MaxTS string
}

// DatasetSummary is the composite overview served by GetDatasetSummary.
type DatasetSummary struct {
	RowCount             int64
	TimeRange            DatasetTimeRange
	AnomalyRate          float64
	AnomalyTypeCounts    []TopKEntry
	DistinctHostCount    int64
	DistinctProjectCount int64
	DistinctRegionCount  int64
	IngestionLatencyP50  float64
	IngestionLatencyP95  float64
	AnomalyRateTrend     []TrendPoint
}

// TrendPoint is one hourly bucket of the 24h anomaly-rate trend.
type TrendPoint struct {
	Timestamp   string
	AnomalyRate float64
	Total       int64
}

// ScoringRow is one telemetry record fetched for dataset scoring.
type ScoringRow struct {
	RecordID  int64
	IsAnomaly bool
	Features  [5]float64
}

// ScoreInput pairs a record with its computed score, for batched insert.
type ScoreInput struct {
	RecordID            int64
	ReconstructionError float64
	PredictedIsAnomaly  bool
}

// ScoresFilter scopes a GetScores query.
type ScoresFilter struct {
	Limit         int
	Offset        int
	OnlyAnomalies bool
	MinScore      float64
	MaxScore      float64
}

// ScoredRecord is one row of a GetScores result, joined against the source
// telemetry record for its label and timestamp.
type ScoredRecord struct {
	ScoreID   string    `json:"score_id"`
	RecordID  int64     `json:"record_id"`
	Score     float64   `json:"score"`
	IsAnomaly bool      `json:"is_anomaly"`
	ScoredAt  time.Time `json:"scored_at"`
	Timestamp time.Time `json:"timestamp"`
	HostID    string    `json:"host_id"`
	Label     bool      `json:"label"`
}

// ScoresPage is the paginated, range-annotated result of GetScores.
type ScoresPage struct {
	Items    []ScoredRecord
	Total    int64
	MinScore float64
	MaxScore float64
	Limit    int
	Offset   int
}

// Confusion is a binary confusion matrix.
type Confusion struct {
	TP int64 `json:"tp"`
	FP int64 `json:"fp"`
	TN int64 `json:"tn"`
	FN int64 `json:"fn"`
}

// ROCPoint is one threshold-swept ROC curve sample.
type ROCPoint struct {
	FPR float64 `json:"fpr"`
	TPR float64 `json:"tpr"`
}

// PRPoint is one threshold-swept precision/recall curve sample.
type PRPoint struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// EvalMetrics is the composite evaluation report served for a scored dataset.
type EvalMetrics struct {
	Confusion Confusion
	ROC       []ROCPoint
	PR        []PRPoint
}

// ErrorDistributionEntry is one group's reconstruction-error summary.
type ErrorDistributionEntry struct {
	Label string  `json:"label"`
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// VarianceEntry pairs a metric with its standard deviation across a dataset.
type VarianceEntry struct {
	Key    string  `json:"key"`
	StdDev float64 `json:"stddev"`
}

// DatasetMetricsSummary ranks metrics by variance for quality triage.
type DatasetMetricsSummary struct {
	HighVariance    []VarianceEntry
	HighMissingness []VarianceEntry
}
