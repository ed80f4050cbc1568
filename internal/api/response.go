package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/gc"
	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/repository"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// writeErr maps err to a status code. Unexpected errors are logged and
// reported as 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *bulk.ValidationError
	if errors.As(err, &verr) {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Reason, Field: verr.Field})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromCtx(r.Context()).Errorf("request failed", map[string]any{"error": err.Error()})
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bulk.ErrInvalidCommand),
		errors.Is(err, repository.ErrInvalidDocument),
		errors.Is(err, repository.ErrInvalidQuery),
		errors.Is(err, blobstore.ErrEmptyKey),
		errors.Is(err, blobstore.ErrUnknownProvider),
		errors.Is(err, blobstore.ErrNoProvider):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrUnknownRepository),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gc.ErrBlobReferenced),
		errors.Is(err, gc.ErrSharedStorage):
		return http.StatusConflict
	case errors.Is(err, bulk.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, bulk.ErrServiceClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
