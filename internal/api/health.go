package api

import (
	"net/http"
	"time"

	"github.com/dray-io/bulkgc/internal/repository"
)

// HealthResponse is the body of the liveness probe.
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	StartedAt    time.Time `json:"startedAt"`
	Uptime       string    `json:"uptime"`
	Repositories []string  `json:"repositories"`
}

// HealthHandler handles the liveness probe.
type HealthHandler struct {
	repos     *repository.Registry
	startTime time.Time
}

func NewHealthHandler(repos *repository.Registry) *HealthHandler {
	return &HealthHandler{repos: repos, startTime: time.Now()}
}

// Liveness handles GET /health. It succeeds while the server responds.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		StartedAt:    h.startTime.UTC(),
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Repositories: []string{},
	}
	if h.repos != nil {
		resp.Repositories = h.repos.Names()
	}
	WriteJSON(w, http.StatusOK, resp)
}
