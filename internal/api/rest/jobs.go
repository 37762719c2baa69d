package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
)

// GetJob returns one dataset-score job's detail.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.repo.GetScoreJob(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// DeleteJob cancels a running job. Cancellation is cooperative: the job
// manager's flag is observed at the worker's next batch boundary, not
// immediately.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	status, tracked := h.jobMgr.Status(jobID)
	if !tracked {
		respondError(w, r, apierr.New(apierr.KindNotFound, "job %s is not tracked by this process", jobID))
		return
	}
	if status.Terminal() {
		respondError(w, r, apierr.New(apierr.KindIllegalTransition, "job %s is already %s", jobID, status))
		return
	}
	h.jobMgr.Cancel(jobID)
	w.WriteHeader(http.StatusAccepted)
}
