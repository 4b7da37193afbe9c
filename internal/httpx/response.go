package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the envelope for a request that failed before reaching the service.
func WriteError(w http.ResponseWriter, status int, code, details string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// WriteAppError maps a service error to its status via the error kind.
func WriteAppError(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(apperr.KindOf(err)), apperr.CodeOf(err), err.Error())
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransientRemote:
		return http.StatusServiceUnavailable
	case apperr.KindCompensationFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// KindFor is the inverse of StatusFor for 4xx statuses, used by clients
// rebuilding an error from a response.
func KindFor(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.KindValidation
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway, http.StatusTooManyRequests:
		return apperr.KindTransientRemote
	}
	return apperr.KindInternal
}
