// Package rest implements the platform's HTTP surface: dataset generation
// and analytics, PCA training and inference, dataset scoring jobs, and job
// lifecycle management, wired onto a gorilla/mux router via the
// Handler/SetupRoutes idiom.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/config"
	"github.com/kubilitics/anomaly-platform/internal/jobs"
	"github.com/kubilitics/anomaly-platform/internal/modelcache"
	"github.com/kubilitics/anomaly-platform/internal/repository"
	"github.com/kubilitics/anomaly-platform/internal/streaming"
)

// Handler wires the platform's core packages (repository, job manager,
// model cache, the online anomaly pipeline) into HTTP handlers. Every
// handler is a thin adapter: request decoding and response shaping only,
// with all domain logic living in the wrapped package.
type Handler struct {
	repo       repository.Repository
	jobMgr     *jobs.Manager
	modelCache *modelcache.Cache
	cfg        *config.Config
	logger     *slog.Logger
	pipeline   *streaming.Pipeline
}

// NewHandler builds a Handler. logger defaults to slog.Default() if nil.
// pipeline may be nil; PostInference then scores samples without running
// them through the online detector/alert fusion path.
func NewHandler(repo repository.Repository, jobMgr *jobs.Manager, modelCache *modelcache.Cache, cfg *config.Config, logger *slog.Logger, pipeline *streaming.Pipeline) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, jobMgr: jobMgr, modelCache: modelCache, cfg: cfg, logger: logger, pipeline: pipeline}
}

// SetupRoutes registers every handler on router.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/datasets", h.PostDataset).Methods(http.MethodPost)
	router.HandleFunc("/datasets", h.ListDatasets).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}", h.GetDataset).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}/summary", h.GetDatasetSummary).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}/topk", h.GetDatasetTopK).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}/timeseries", h.GetDatasetTimeSeries).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}/histogram", h.GetDatasetHistogram).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}/samples", h.GetDatasetSamples).Methods(http.MethodGet)
	router.HandleFunc("/datasets/{id}/metrics/{metric}/stats", h.GetDatasetMetricStats).Methods(http.MethodGet)

	router.HandleFunc("/train", h.PostTrain).Methods(http.MethodPost)
	router.HandleFunc("/models/{id}", h.GetModel).Methods(http.MethodGet)
	router.HandleFunc("/models/{id}/eval", h.GetModelEval).Methods(http.MethodGet)
	router.HandleFunc("/models/{id}/error_distribution", h.GetModelErrorDistribution).Methods(http.MethodGet)

	router.HandleFunc("/inference", h.PostInference).Methods(http.MethodPost)

	router.HandleFunc("/jobs/score_dataset", h.PostScoreDatasetJob).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}", h.DeleteJob).Methods(http.MethodDelete)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.KindBadRequest, err, "decode request body")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBoolPtr(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

// startTrackedJob runs work through the job manager under jobID, pre-created
// as a PENDING row by the caller's repository insert. The manager's
// StatusUpdater callback (wired in cmd/server) persists the PENDING->RUNNING
// transition and, when work returns, the terminal status the manager derives
// from its result. Scoring and training work also record their own terminal
// state with the domain-specific fields that requires; generation work
// relies on the updater alone.
func (h *Handler) startTrackedJob(w http.ResponseWriter, r *http.Request, jobID, requestID string, work jobs.Work) bool {
	if err := h.jobMgr.StartJob(r.Context(), jobID, requestID, work); err != nil {
		respondError(w, r, err)
		return false
	}
	return true
}
