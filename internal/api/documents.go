package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/gc"
	"github.com/dray-io/bulkgc/internal/repository"
)

// DocumentHandler handles document and blob endpoints of a repository.
type DocumentHandler struct {
	repos     *repository.Registry
	blobs     *blobstore.Manager
	collector *gc.Collector
}

func NewDocumentHandler(repos *repository.Registry, blobs *blobstore.Manager, collector *gc.Collector) *DocumentHandler {
	return &DocumentHandler{repos: repos, blobs: blobs, collector: collector}
}

// BlobRequest is one blob of a created document. Content is base64 in JSON.
type BlobRequest struct {
	Content     []byte `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// CreateDocumentRequest is the body of Create.
type CreateDocumentRequest struct {
	ID         string            `json:"id"`
	VersionID  string            `json:"versionId,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Blobs      []BlobRequest     `json:"blobs,omitempty"`
}

// Create handles POST /api/v1/repositories/{repo}/documents. Blobs are
// written to their providers before the document is stored.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Get(chi.URLParam(r, "repo"))
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	contents := make([]repository.Content, 0, len(req.Blobs))
	for _, b := range req.Blobs {
		contents = append(contents, repository.Content{
			Reader:      bytes.NewReader(b.Content),
			ContentType: b.ContentType,
			Provider:    b.Provider,
		})
	}
	doc := repository.Document{
		ID:         req.ID,
		VersionID:  req.VersionID,
		Properties: req.Properties,
	}
	doc, err = repository.Ingest(r.Context(), repo, h.blobs, doc, contents...)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, doc)
}

// Delete handles DELETE /api/v1/repositories/{repo}/documents/{ref}. The
// document's blobs stay until garbage collected.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Get(chi.URLParam(r, "repo"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ref := chi.URLParam(r, "ref")
	existed, err := repo.Delete(r.Context(), ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "document not found: "+ref)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteBlob handles DELETE /api/v1/repositories/{repo}/blobs/{key}. The
// key may carry a "provider:" prefix; ?dryRun=true only reports.
func (h *DocumentHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dryRun must be a boolean")
			return
		}
		dryRun = b
	}

	res, err := h.collector.DeleteBlob(r.Context(), chi.URLParam(r, "repo"), chi.URLParam(r, "key"), dryRun)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
