package rest

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
	"github.com/kubilitics/anomaly-platform/internal/scorer"
)

// scoreDatasetRequest is the POST /jobs/score_dataset body.
type scoreDatasetRequest struct {
	DatasetID  string `json:"dataset_id"`
	ModelRunID string `json:"model_run_id"`
}

// PostScoreDatasetJob starts a keyset-paginated dataset scoring pass as a
// tracked job. Rejects with CONFLICT if a non-terminal job already exists
// for the same dataset/model pair.
func (h *Handler) PostScoreDatasetJob(w http.ResponseWriter, r *http.Request) {
	var req scoreDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.DatasetID == "" || req.ModelRunID == "" {
		respondBadRequest(w, r, "dataset_id and model_run_id are required")
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

	requestID := logger.FromContext(r.Context())
	jobID, err := h.repo.CreateScoreJob(r.Context(), req.DatasetID, req.ModelRunID, requestID)
	if err != nil {
		if apierr.Is(err, apierr.KindConflict) && jobID != "" {
			existing, getErr := h.repo.GetScoreJob(r.Context(), jobID)
			if getErr != nil {
				respondError(w, r, err)
				return
			}
			respondJSON(w, http.StatusConflict, existing)
			return
		}
		respondError(w, r, err)
		return
	}

	s := scorer.New(h.repo, func(modelRunID, artifactPath string) (*pca.Model, error) {
		return h.modelCache.GetOrCreate(modelRunID, artifactPath)
	}, scorer.Options{BatchSize: h.cfg.ScorerBatchSize, Logger: h.logger})

	ok := h.startTrackedJob(w, r, jobID, requestID, func(ctx context.Context, cancel *atomic.Bool) error {
		return s.Run(ctx, jobID, req.DatasetID, req.ModelRunID, *run.ArtifactPath, cancel)
	})
	if !ok {
		return
	}
	job, err := h.repo.GetScoreJob(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}
