package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dray-io/bulkgc/internal/bulk"
)

// UserHeader names the submitting user when the command carries none.
const UserHeader = "X-Bulkgc-User"

// BulkHandler handles bulk command endpoints.
type BulkHandler struct {
	svc *bulk.Service
}

func NewBulkHandler(svc *bulk.Service) *BulkHandler {
	return &BulkHandler{svc: svc}
}

// SubmitResponse is returned by Submit.
type SubmitResponse struct {
	ID string `json:"id"`
}

// Submit handles POST /api/v1/bulk. Unset sizes take the bulk defaults;
// an unset batch size never exceeds the bucket size.
func (h *BulkHandler) Submit(w http.ResponseWriter, r *http.Request) {
	cmd := bulk.Command{BucketSize: bulk.DefaultBucketSize}
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cmd.ID = ""
	if cmd.Username == "" {
		cmd.Username = r.Header.Get(UserHeader)
	}
	if cmd.BatchSize == 0 {
		cmd.BatchSize = min(bulk.DefaultBatchSize, cmd.BucketSize)
	}

	id, err := h.svc.Submit(r.Context(), cmd)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, SubmitResponse{ID: id})
}

// Get handles GET /api/v1/bulk/{id}.
func (h *BulkHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "command not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// Abort handles POST /api/v1/bulk/{id}/abort.
func (h *BulkHandler) Abort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.svc.Abort(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "command not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// List handles GET /api/v1/bulk?user=.
func (h *BulkHandler) List(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		user = r.Header.Get(UserHeader)
	}
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	statuses, err := h.svc.GetStatuses(r.Context(), user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []*bulk.Status{}
	}
	WriteJSON(w, http.StatusOK, statuses)
}
