// Package api exposes the bulk service and the document catalog over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dray-io/bulkgc/internal/blobstore"
	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/gc"
	"github.com/dray-io/bulkgc/internal/logging"
	"github.com/dray-io/bulkgc/internal/repository"
)

// Deps are the collaborators served by the router.
type Deps struct {
	Bulk         *bulk.Service
	Repositories *repository.Registry
	Blobs        *blobstore.Manager
	Collector    *gc.Collector

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler

	Logger *logging.Logger
}

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health
//   - POST /api/v1/bulk
//   - GET /api/v1/bulk?user=
//   - GET /api/v1/bulk/{id}
//   - POST /api/v1/bulk/{id}/abort
//   - POST /api/v1/repositories/{repo}/documents
//   - DELETE /api/v1/repositories/{repo}/documents/{ref}
//   - DELETE /api/v1/repositories/{repo}/blobs/{key}
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logging.Global()
	}
	log = log.Named("api")

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := NewHealthHandler(deps.Repositories)
	r.Get("/health", health.Liveness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	bulkHandler := NewBulkHandler(deps.Bulk)
	docHandler := NewDocumentHandler(deps.Repositories, deps.Blobs, deps.Collector)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/bulk", func(r chi.Router) {
			r.Post("/", bulkHandler.Submit)
			r.Get("/", bulkHandler.List)
			r.Get("/{id}", bulkHandler.Get)
			r.Post("/{id}/abort", bulkHandler.Abort)
		})

		r.Route("/repositories/{repo}", func(r chi.Router) {
			r.Post("/documents", docHandler.Create)
			r.Delete("/documents/{ref}", docHandler.Delete)
			r.Delete("/blobs/{key}", docHandler.DeleteBlob)
		})
	})

	return r
}

// requestLogger logs every request with its chi request id.
func requestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())
			reqLog := log.WithRequestID(requestID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := logging.WithRequestIDCtx(r.Context(), requestID)
			ctx = logging.WithLoggerCtx(ctx, reqLog)
			next.ServeHTTP(ww, r.WithContext(ctx))

			fields := map[string]any{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start).String(),
			}
			// Probes are frequent; keep them out of info logs.
			if isProbePath(r.URL.Path) {
				reqLog.Debugf("request completed", fields)
				return
			}
			reqLog.Infof("request completed", fields)
		})
	}
}

func isProbePath(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}
