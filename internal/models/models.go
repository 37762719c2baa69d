// Package models defines the persisted entities of the anomaly-detection
// platform: generation runs, telemetry records, model runs, PCA artifacts,
// inference runs, dataset-score jobs and scores, and alerts.
package models

import (
	"encoding/json"
	"time"
)

// Status is the shared job-lifecycle enum driven by the job state machine.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Features lists the five numeric channels every telemetry record carries,
// in the fixed order the PCA pipeline depends on.
var Features = [5]string{"cpu_usage", "memory_usage", "disk_utilization", "network_rx_rate", "network_tx_rate"}

// GenerationRun tracks a synthetic-telemetry generation job.
type GenerationRun struct {
	RunID           string          `db:"run_id" json:"run_id"`
	Tier            string          `db:"tier" json:"tier"`
	HostCount       int             `db:"host_count" json:"host_count"`
	StartTime       time.Time       `db:"start_time" json:"start_time"`
	EndTime         time.Time       `db:"end_time" json:"end_time"`
	IntervalSeconds int             `db:"interval_seconds" json:"interval_seconds"`
	Seed            int64           `db:"seed" json:"seed"`
	Status          Status          `db:"status" json:"status"`
	InsertedRows    int64           `db:"inserted_rows" json:"inserted_rows"`
	Error           *string         `db:"error" json:"error,omitempty"`
	Config          json.RawMessage `db:"config" json:"config,omitempty"`
	RequestID       *string         `db:"request_id" json:"request_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// TelemetryRecord is one row of the archival, range-partitioned table.
type TelemetryRecord struct {
	RecordID        int64     `db:"record_id" json:"record_id"`
	RunID           string    `db:"run_id" json:"run_id"`
	HostID          string    `db:"host_id" json:"host_id"`
	ProjectID       string    `db:"project_id" json:"project_id"`
	Region          string    `db:"region" json:"region"`
	MetricTimestamp time.Time `db:"metric_timestamp" json:"metric_timestamp"`
	IngestionTime   time.Time `db:"ingestion_time" json:"ingestion_time"`
	CPUUsage        float64   `db:"cpu_usage" json:"cpu_usage"`
	MemoryUsage     float64   `db:"memory_usage" json:"memory_usage"`
	DiskUtilization float64   `db:"disk_utilization" json:"disk_utilization"`
	NetworkRxRate   float64   `db:"network_rx_rate" json:"network_rx_rate"`
	NetworkTxRate   float64   `db:"network_tx_rate" json:"network_tx_rate"`
	IsAnomaly       bool      `db:"is_anomaly" json:"is_anomaly"`
	AnomalyType     *string   `db:"anomaly_type" json:"anomaly_type,omitempty"`
	Labels          *string   `db:"labels" json:"labels,omitempty"`
}

// FeatureVector returns the record's five numeric channels in Features order.
func (r *TelemetryRecord) FeatureVector() [5]float64 {
	return [5]float64{r.CPUUsage, r.MemoryUsage, r.DiskUtilization, r.NetworkRxRate, r.NetworkTxRate}
}

// ModelRun tracks one PCA training (or one HPO trial within a sweep).
type ModelRun struct {
	ModelRunID           string          `db:"model_run_id" json:"model_run_id"`
	DatasetID            string          `db:"dataset_id" json:"dataset_id"`
	Name                 string          `db:"name" json:"name"`
	Status               Status          `db:"status" json:"status"`
	ArtifactPath         *string         `db:"artifact_path" json:"artifact_path,omitempty"`
	TrainingConfig       json.RawMessage `db:"training_config" json:"training_config,omitempty"`
	HPOConfig            json.RawMessage `db:"hpo_config" json:"hpo_config,omitempty"`
	ParentRunID          *string         `db:"parent_run_id" json:"parent_run_id,omitempty"`
	BestTrialRunID       *string         `db:"best_trial_run_id" json:"best_trial_run_id,omitempty"`
	BestMetricValue      *float64        `db:"best_metric_value" json:"best_metric_value,omitempty"`
	IsEligible           bool            `db:"is_eligible" json:"is_eligible"`
	CandidateFingerprint *string         `db:"candidate_fingerprint" json:"candidate_fingerprint,omitempty"`
	SeedUsed             *int64          `db:"seed_used" json:"seed_used,omitempty"`
	RequestID            *string         `db:"request_id" json:"request_id,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	CompletedAt          *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
	Error                *string         `db:"error" json:"error,omitempty"`
}

// InferenceRun tracks one synchronous scoring request against a cached model.
type InferenceRun struct {
	InferenceID string          `db:"inference_id" json:"inference_id"`
	ModelRunID  string          `db:"model_run_id" json:"model_run_id"`
	Status      Status          `db:"status" json:"status"`
	AnomalyCount int            `db:"anomaly_count" json:"anomaly_count"`
	LatencyMs   float64         `db:"latency_ms" json:"latency_ms"`
	Details     json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// DatasetScoreJob tracks a keyset-paginated scoring pass over a dataset.
type DatasetScoreJob struct {
	JobID         string     `db:"job_id" json:"job_id"`
	DatasetID     string     `db:"dataset_id" json:"dataset_id"`
	ModelRunID    string     `db:"model_run_id" json:"model_run_id"`
	Status        Status     `db:"status" json:"status"`
	TotalRows     *int64     `db:"total_rows" json:"total_rows,omitempty"`
	ProcessedRows int64      `db:"processed_rows" json:"processed_rows"`
	LastRecordID  int64      `db:"last_record_id" json:"last_record_id"`
	Error         *string    `db:"error" json:"error,omitempty"`
	RequestID     *string    `db:"request_id" json:"request_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// DatasetScore is one scored telemetry record, joinable for analytics.
type DatasetScore struct {
	ScoreID             string    `db:"score_id" json:"score_id"`
	DatasetID           string    `db:"dataset_id" json:"dataset_id"`
	ModelRunID          string    `db:"model_run_id" json:"model_run_id"`
	RecordID            int64     `db:"record_id" json:"record_id"`
	ReconstructionError float64   `db:"reconstruction_error" json:"reconstruction_error"`
	PredictedIsAnomaly  bool      `db:"predicted_is_anomaly" json:"predicted_is_anomaly"`
	ScoredAt            time.Time `db:"scored_at" json:"scored_at"`
}

// Severity is an alert's urgency level.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Source identifies which detector(s) produced an alert.
type Source string

const (
	SourceDetectorAStats Source = "DETECTOR_A_STATS"
	SourceDetectorBPCA   Source = "DETECTOR_B_PCA"
	SourceFusionAB       Source = "FUSION_A_B"
)

// Alert is one emitted anomaly notification for a host.
type Alert struct {
	HostID    string         `db:"host_id" json:"host_id"`
	RunID     string         `db:"run_id" json:"run_id"`
	Timestamp time.Time      `db:"timestamp" json:"timestamp"`
	Severity  Severity       `db:"severity" json:"severity"`
	Source    Source         `db:"source" json:"source"`
	Score     float64        `db:"score" json:"score"`
	Details   map[string]any `db:"-" json:"details,omitempty"`
}

// HPOAlgorithm selects how trial candidates are enumerated.
type HPOAlgorithm string

const (
	HPOAlgorithmGrid   HPOAlgorithm = "grid"
	HPOAlgorithmRandom HPOAlgorithm = "random"
)

// HPOSearchSpace bounds the axes an HPO sweep explores.
type HPOSearchSpace struct {
	NComponents []int     `json:"n_components"`
	Percentile  []float64 `json:"percentile"`
}

// HPOConfig is the user-supplied hyper-parameter sweep request.
type HPOConfig struct {
	Algorithm      HPOAlgorithm   `json:"algorithm"`
	MaxTrials      int            `json:"max_trials"`
	MaxConcurrency int            `json:"max_concurrency"`
	Seed           *int64         `json:"seed,omitempty"`
	SearchSpace    HPOSearchSpace `json:"search_space"`
}

// TrainingConfig is a single trial's resolved hyperparameters.
type TrainingConfig struct {
	NComponents int     `json:"n_components"`
	Percentile  float64 `json:"percentile"`
}
