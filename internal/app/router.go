// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/spriteforge/orchestrator/internal/adapter/httpserver"
	"github.com/spriteforge/orchestrator/internal/adapter/observability"
	"github.com/spriteforge/orchestrator/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Rate limit the job submission endpoint (§4.2).
	r.Group(func(wr chi.Router) {
		if cfg.RateLimitEnabled {
			wr.Use(httprate.LimitByIP(cfg.RateLimitRequestsPerMinute, 1*time.Minute))
		}
		wr.Post("/v1/jobs", srv.SubmitHandler())
	})
	// Read-only job status endpoint.
	r.Get("/v1/jobs/{id}", srv.JobStatusHandler())

	// Health and readiness endpoints (§4.12).
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/health", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())

	// Admin DLQ surface (§4.10), gated behind admin credentials.
	if cfg.AdminEnabled() {
		admin, err := httpserver.NewAdminServer(cfg, srv)
		if err == nil {
			r.Post("/admin/token", admin.AdminTokenHandler())
			r.Group(func(wr chi.Router) {
				wr.Use(srv.AdminAPIGuard())
				wr.Get("/admin/api/status", admin.AdminStatusHandler())
				wr.Get("/admin/api/stats", admin.AdminStatsHandler())
				wr.Get("/admin/api/dlq", admin.DLQListHandler())
				wr.Get("/admin/api/dlq/{id}", admin.DLQGetHandler())
				wr.Post("/admin/api/dlq/{id}/retry", admin.DLQRetryHandler())
				wr.Delete("/admin/api/dlq/{id}", admin.DLQDeleteHandler())
			})
			r.Get("/admin/metrics", admin.AdminBearerRequired(srv.MetricsHandler()))
			r.Get("/admin/prometheus", admin.AdminBearerRequired(func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) }))
		}
	}

	return httpserver.SecurityHeaders(r)
}
