package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/kubilitics/anomaly-platform/internal/pkg/metrics"
)

// inferenceSample is one scored vector. HostID and Timestamp are optional:
// when both are set and the handler has a pipeline wired, the sample also
// runs through the online detector/alert fusion path keyed by host, in
// addition to the plain PCA reconstruction score every sample gets.
type inferenceSample struct {
	HostID    string     `json:"host_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Features  [5]float64 `json:"features"`
}

// inferenceRequest is the POST /inference body: a batch of feature vectors
// scored synchronously against an already-trained model.
type inferenceRequest struct {
	ModelRunID string            `json:"model_run_id"`
	Samples    []inferenceSample `json:"samples"`
}

type inferenceResult struct {
	ReconstructionError float64       `json:"reconstruction_error"`
	IsAnomaly           bool          `json:"is_anomaly"`
	Alert               *models.Alert `json:"alert,omitempty"`
}

type inferenceResponse struct {
	InferenceID string            `json:"inference_id"`
	Results     []inferenceResult `json:"results"`
	LatencyMs   float64           `json:"latency_ms"`
}

// PostInference synchronously scores a batch of feature vectors against a
// cached PCA model, bounded by cfg.InferenceMaxSamples.
func (h *Handler) PostInference(w http.ResponseWriter, r *http.Request) {
	var req inferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ModelRunID == "" {
		respondBadRequest(w, r, "model_run_id is required")
		return
	}
	if len(req.Samples) == 0 {
		respondBadRequest(w, r, "samples must be non-empty")
		return
	}
	if h.cfg.InferenceMaxSamples > 0 && len(req.Samples) > h.cfg.InferenceMaxSamples {
		respondError(w, r, apierr.New(apierr.KindResourceExhausted,
			"inference request has %d samples, exceeding the %d limit", len(req.Samples), h.cfg.InferenceMaxSamples))
		return
	}

	run, err := h.repo.GetModelRun(r.Context(), req.ModelRunID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if run.ArtifactPath == nil {
		respondError(w, r, apierr.New(apierr.KindConflict, "model run %s has no trained artifact", req.ModelRunID))
		return
	}

	model, err := h.modelCache.GetOrCreate(req.ModelRunID, *run.ArtifactPath)
	if err != nil {
		respondError(w, r, err)
		return
	}

	inferenceID, err := h.repo.CreateInferenceRun(r.Context(), req.ModelRunID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	start := time.Now()
	results := make([]inferenceResult, len(req.Samples))
	anomalyCount := 0
	for i, sample := range req.Samples {
		var result pca.Score
		var alert *models.Alert
		if h.pipeline != nil && sample.HostID != "" && sample.Timestamp != nil {
			fused, err := h.pipeline.Process(sample.HostID, req.ModelRunID, *sample.Timestamp, sample.Features[:], model)
			if err != nil {
				_ = h.repo.UpdateInferenceRunStatus(r.Context(), inferenceID, models.StatusFailed, 0, nil, 0)
				respondError(w, r, err)
				return
			}
			result = fused.PCA
			alert = fused.Alert
			if alert != nil {
				metrics.DetectorAlertsTotal.WithLabelValues(string(alert.Source), string(alert.Severity)).Inc()
				if err := h.repo.InsertAlert(r.Context(), alert); err != nil {
					_ = h.repo.UpdateInferenceRunStatus(r.Context(), inferenceID, models.StatusFailed, 0, nil, 0)
					respondError(w, r, err)
					return
				}
			}
		} else {
			score, err := model.Score(linalg.Vector(sample.Features[:]))
			if err != nil {
				_ = h.repo.UpdateInferenceRunStatus(r.Context(), inferenceID, models.StatusFailed, 0, nil, 0)
				respondError(w, r, err)
				return
			}
			result = score
		}
		results[i] = inferenceResult{ReconstructionError: result.ReconstructionError, IsAnomaly: result.IsAnomaly, Alert: alert}
		if result.IsAnomaly {
			anomalyCount++
		}
	}
	latency := time.Since(start)
	metrics.ScorerRowsProcessedTotal.Add(float64(len(req.Samples)))

	details, _ := json.Marshal(results)
	if err := h.repo.UpdateInferenceRunStatus(r.Context(), inferenceID, models.StatusCompleted, anomalyCount, details, float64(latency.Milliseconds())); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, inferenceResponse{
		InferenceID: inferenceID,
		Results:     results,
		LatencyMs:   float64(latency.Milliseconds()),
	})
}
