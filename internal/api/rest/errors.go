package rest

import (
	"encoding/json"
	"net/http"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
)

// errorResponse is the JSON envelope every non-2xx response uses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an apierr.Kind to its transport status code. Kinds not
// listed fall back to 500, since they indicate a bug rather than a client
// or expected-operational condition.
func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.KindBadRequest, apierr.KindMissingField, apierr.KindInvalidArgument, apierr.KindDimensionMismatch:
		return http.StatusBadRequest
	case apierr.KindNotFound, apierr.KindNoData:
		return http.StatusNotFound
	case apierr.KindConflict, apierr.KindIllegalTransition:
		return http.StatusConflict
	case apierr.KindResourceExhausted:
		return http.StatusTooManyRequests
	case apierr.KindPoolTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err (ideally an *apierr.Error) to its HTTP status and
// writes the standard error envelope.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := statusFor(kind)
	respondJSON(w, status, errorResponse{Error: errorBody{
		Code:      string(kind),
		Message:   err.Error(),
		RequestID: logger.FromContext(r.Context()),
	}})
}

func respondBadRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	respondError(w, r, apierr.New(apierr.KindBadRequest, format, args...))
}
