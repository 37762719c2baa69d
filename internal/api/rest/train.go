package rest

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/hpo"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
	"github.com/kubilitics/anomaly-platform/internal/repository"
	"github.com/kubilitics/anomaly-platform/internal/trainer"
)

// trainRequest is the POST /train body. Either Training or HPO is set,
// never both: a plain fit, or a hyperparameter sweep over a search space.
type trainRequest struct {
	DatasetID string                `json:"dataset_id"`
	Name      string                `json:"name"`
	Training  *models.TrainingConfig `json:"training,omitempty"`
	HPO       *models.HPOConfig      `json:"hpo,omitempty"`
}

// datasetProducer streams a dataset's feature vectors via keyset pagination,
// restartable across the trainer's three passes. Grounded on the same
// FetchScoringRowsAfterRecord query internal/scorer uses, since both read
// the same archival rows keyed by record_id. Rows labeled is_anomaly=true
// are injected ground-truth anomalies and are excluded from training: a
// model fit on samples it already knows are anomalous would learn a skewed
// baseline.
type datasetProducer struct {
	repo      repository.Repository
	datasetID string
	batchSize int
}

func (p datasetProducer) ForEach(ctx context.Context, cb trainer.SampleFunc) error {
	var lastID int64
	for {
		rows, err := p.repo.FetchScoringRowsAfterRecord(ctx, p.datasetID, lastID, p.batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			if !row.IsAnomaly {
				cb(linalg.Vector(row.Features[:]))
			}
			lastID = row.RecordID
		}
	}
}

const trainProducerBatchSize = 5000

// PostTrain starts a PCA training run (plain fit or HPO sweep) as a tracked job.
func (h *Handler) PostTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.DatasetID == "" {
		respondBadRequest(w, r, "dataset_id is required")
		return
	}
	if req.Training == nil && req.HPO == nil {
		respondBadRequest(w, r, "one of training or hpo is required")
		return
	}

	requestID := logger.FromContext(r.Context())
	name := req.Name
	if name == "" {
		name = "model"
	}
	modelRunID, err := h.repo.CreateModelRun(r.Context(), req.DatasetID, name, requestID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	producer := datasetProducer{repo: h.repo, datasetID: req.DatasetID, batchSize: trainProducerBatchSize}

	ok := h.startTrackedJob(w, r, modelRunID, requestID, func(ctx context.Context, cancel *atomic.Bool) error {
		if req.HPO != nil {
			return h.runHPOSweep(ctx, modelRunID, req.DatasetID, *req.HPO, producer, cancel)
		}
		return h.runSingleFit(ctx, modelRunID, *req.Training, producer, cancel)
	})
	if !ok {
		return
	}
	run, err := h.repo.GetModelRun(r.Context(), modelRunID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

func (h *Handler) runSingleFit(ctx context.Context, modelRunID string, cfg models.TrainingConfig, producer datasetProducer, cancel *atomic.Bool) error {
	artifact, err := trainer.Train(ctx, producer, trainer.Options{
		NComponents: cfg.NComponents,
		Percentile:  cfg.Percentile,
		Heartbeat: func(ctx context.Context, pass int, samplesSeen int) {
			if cancel.Load() {
				return
			}
		},
	})
	if err != nil {
		return err
	}
	path, err := h.writeArtifact(modelRunID, artifact)
	if err != nil {
		return err
	}
	return h.repo.UpdateModelRunStatus(ctx, modelRunID, models.StatusCompleted, path, "")
}

func (h *Handler) runHPOSweep(ctx context.Context, parentRunID, datasetID string, cfg models.HPOConfig, producer datasetProducer, cancel *atomic.Bool) error {
	if err := hpo.Validate(cfg); err != nil {
		return err
	}
	plan, err := hpo.Enumerate(cfg)
	if err != nil {
		return err
	}

	var bestTrialID string
	var bestErr float64
	haveBest := false

	for _, trial := range plan.Trials {
		if cancel.Load() {
			break
		}
		requestID := logger.FromContext(ctx)
		trialID, err := h.repo.CreateModelRun(ctx, datasetID, "trial", requestID)
		if err != nil {
			return err
		}
		artifact, err := trainer.Train(ctx, producer, trainer.Options{
			NComponents: trial.NComponents,
			Percentile:  trial.Percentile,
		})
		if err != nil {
			_ = h.repo.UpdateModelRunStatus(ctx, trialID, models.StatusFailed, "", err.Error())
			continue
		}
		path, err := h.writeArtifact(trialID, artifact)
		if err != nil {
			_ = h.repo.UpdateModelRunStatus(ctx, trialID, models.StatusFailed, "", err.Error())
			continue
		}
		if err := h.repo.UpdateModelRunStatus(ctx, trialID, models.StatusCompleted, path, ""); err != nil {
			return err
		}
		if !haveBest || artifact.Thresholds.ReconstructionError < bestErr {
			haveBest = true
			bestErr = artifact.Thresholds.ReconstructionError
			bestTrialID = trialID
		}
	}

	if !haveBest {
		return apierr.New(apierr.KindNoData, "hpo sweep produced no eligible trial")
	}
	return h.repo.CompleteHPORun(ctx, parentRunID, bestTrialID, bestErr)
}

func (h *Handler) writeArtifact(modelRunID string, artifact *pca.Artifact) (string, error) {
	path := h.cfg.ArtifactDir + "/" + modelRunID + ".json"
	if err := pca.WriteAtomic(path, artifact); err != nil {
		return "", err
	}
	return path, nil
}

// GetModel returns one model run's detail.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	modelRunID := mux.Vars(r)["id"]
	run, err := h.repo.GetModelRun(r.Context(), modelRunID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// GetModelEval returns confusion/ROC/PR metrics for a scored dataset.
func (h *Handler) GetModelEval(w http.ResponseWriter, r *http.Request) {
	modelRunID := mux.Vars(r)["id"]
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID == "" {
		respondBadRequest(w, r, "dataset_id is required")
		return
	}
	metrics, err := h.repo.GetEvalMetrics(r.Context(), datasetID, modelRunID, queryInt(r, "points", 50), queryInt(r, "max_samples", 100000))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

// GetModelErrorDistribution returns reconstruction-error summaries grouped
// by a dimension column.
func (h *Handler) GetModelErrorDistribution(w http.ResponseWriter, r *http.Request) {
	modelRunID := mux.Vars(r)["id"]
	q := r.URL.Query()
	datasetID := q.Get("dataset_id")
	if datasetID == "" {
		respondBadRequest(w, r, "dataset_id is required")
		return
	}
	groupBy := q.Get("group_by")
	if groupBy == "" {
		groupBy = "is_anomaly"
	}
	entries, err := h.repo.GetErrorDistribution(r.Context(), datasetID, modelRunID, groupBy)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
