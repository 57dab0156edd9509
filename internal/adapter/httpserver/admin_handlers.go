// Package httpserver contains the Admin API server and HTTP adapters.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/spriteforge/orchestrator/internal/config"
)

// AdminServer handles admin API routes: token issuance and the DLQ
// list/get/retry/delete surface (§4.10).
type AdminServer struct {
	cfg            config.Config
	sessionManager *SessionManager
	server         *Server // reference to main server for DLQ/job access
}

// NewAdminServer creates a new admin server.
func NewAdminServer(cfg config.Config, server *Server) (*AdminServer, error) {
	sessionManager := NewSessionManager(cfg)
	return &AdminServer{
		cfg:            cfg,
		sessionManager: sessionManager,
		server:         server,
	}, nil
}

// AdminTokenHandler issues a JWT for admin APIs.
func (a *AdminServer) AdminTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		_, span := tracer.Start(r.Context(), "AdminServer.AdminTokenHandler")
		defer span.End()

		lg := LoggerFrom(r)
		var username, password string
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(strings.ToLower(ct), "application/json") {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			username = strings.TrimSpace(body["username"])
			password = strings.TrimSpace(body["password"])
		} else {
			username = strings.TrimSpace(r.FormValue("username"))
			password = strings.TrimSpace(r.FormValue("password"))
		}

		if username != a.cfg.AdminUsername || password != a.cfg.AdminPassword {
			span.SetAttributes(attribute.Bool("auth.success", false))
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			lg.Error("invalid credentials", slog.Any("username", username))
			return
		}

		token, err := a.sessionManager.GenerateJWT(username, 24*time.Hour)
		if err != nil {
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			lg.Error("failed to issue token", slog.Any("error", err))
			return
		}
		span.SetAttributes(
			attribute.Bool("auth.success", true),
			attribute.String("admin.username", username),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    token,
			"username": username,
			"expires":  time.Now().Add(24 * time.Hour).Unix(),
		})
		lg.Info("issued token", slog.Any("username", username))
	}
}

// AdminStatusHandler reports who the caller is authenticated as.
func (a *AdminServer) AdminStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		_, span := tracer.Start(r.Context(), "AdminServer.AdminStatusHandler")
		defer span.End()

		username := getSSOUsernameFromHeaders(r)
		if username == "" {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(authz[len("Bearer "):])
			sub, err := a.sessionManager.ValidateJWT(token)
			if err != nil || sub == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			username = sub
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "authenticated", "username": username})
	}
}

// AdminStatsHandler returns dashboard statistics (job counts, DLQ depth).
func (a *AdminServer) AdminStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.AdminStatsHandler")
		defer span.End()
		writeJSON(w, http.StatusOK, a.server.getDashboardStats(ctx))
	}
}

// DLQListHandler returns the dead-letter queue entries for the admin
// surface (§4.10).
func (a *AdminServer) DLQListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.DLQListHandler")
		defer span.End()

		limit := 50
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
			limit = l
		}
		entries, err := a.server.Retry.List(ctx, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
	}
}

// DLQGetHandler returns a single DLQ entry.
func (a *AdminServer) DLQGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.DLQGetHandler")
		defer span.End()

		jobID := SanitizeJobID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("job.id", jobID))
		if res := ValidateJobID(jobID); !res.Valid {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "invalid job id", Details: res.Errors}})
			return
		}
		entry, err := a.server.Retry.Get(ctx, jobID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

// DLQRetryHandler re-admits a dead-lettered job (§4.10 retry()).
func (a *AdminServer) DLQRetryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.DLQRetryHandler")
		defer span.End()

		jobID := SanitizeJobID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("job.id", jobID))
		if err := a.server.Retry.RetryFromDLQ(ctx, jobID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": jobID, "status": "requeued"})
	}
}

// DLQDeleteHandler permanently removes a DLQ entry.
func (a *AdminServer) DLQDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.DLQDeleteHandler")
		defer span.End()

		jobID := SanitizeJobID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("job.id", jobID))
		if err := a.server.Retry.Delete(ctx, jobID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminAuthRequired middleware for protecting admin routes.
func (a *AdminServer) AdminAuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return a.sessionManager.AuthRequired(next).ServeHTTP
}
