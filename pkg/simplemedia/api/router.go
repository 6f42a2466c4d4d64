// Package api serves the content and upload endpoints over chi.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Options configures the router
type Options struct {
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
	// Checks run on /healthz/ready, keyed by dependency name
	Checks map[string]ReadinessCheck
	Logger *slog.Logger
}

// NewRouter wires every endpoint of the service
func NewRouter(repo simplemedia.Repository, uploads *upload.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New()
	contents := NewContentHandler(repo, validate, logger)
	uploadHandler := NewUploadHandler(uploads, validate, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Get("/healthz/ready", readiness(opts.Checks))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/contents", contents.CreateContent)
		r.Route("/contents/{content_id}", func(r chi.Router) {
			r.Get("/", contents.GetContent)
			r.Post("/uploads", uploadHandler.InitUploads)
			r.Post("/uploads/complete", uploadHandler.CompleteUploads)
		})
		r.Post("/uploads/abort", uploadHandler.AbortUpload)
	})
	return r
}

func readiness(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		ready := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				ready = false
				continue
			}
			results[name] = "ok"
		}

		status := "ready"
		if !ready {
			status = "not_ready"
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, map[string]interface{}{"status": status, "checks": results})
	}
}
