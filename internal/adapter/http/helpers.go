package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nimlime/nimsuggestd/internal/domain"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

const maxRequestBodySize = 4 << 20 // dirty buffers can be large

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps analyzer and routing failures to HTTP statuses. The
// kind field carries the failure class for clients that branch on it.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, nsDomain.ErrInvalidQuery), errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, nsDomain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, nsDomain.ErrProcessCrashed), errors.Is(err, nsDomain.ErrSpawn):
		status = http.StatusBadGateway
	case errors.Is(err, nsDomain.ErrSessionStopped), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("unhandled request error", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal server error", Kind: nsDomain.OutcomeError})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: nsDomain.Outcome(err)})
}
