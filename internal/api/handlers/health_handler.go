package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 3 * time.Second

// HealthHandler handles health check requests.
type HealthHandler struct {
	checks map[string]ReadinessCheck
}

// NewHealthHandler creates a new health handler. checks are run by Ready, keyed by name.
func NewHealthHandler(checks map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

// Ready handles GET /ready: 200 when every check passes, otherwise 503 listing the failures.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	sort.Strings(names)

	var failures []ErrorDetail

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			failures = append(failures, ErrorDetail{Location: name, Message: err.Error()})
		}
	}

	if len(failures) > 0 {
		RespondProblem(w, ProblemDetails{
			Title:  "Service Unavailable",
			Status: http.StatusServiceUnavailable,
			Detail: "one or more dependencies are not ready",
			Errors: failures,
		})

		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
