package http

import (
	"context"
	"net/http"
	"time"
)

// readinessOwner is never assigned to a caller; listing it only proves the
// store answers.
const readinessOwner = "__readiness_probe__"

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	})
}

// handleReady checks that the budgets store answers within the store timeout.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := map[string]string{}
	status, code := "ready", http.StatusOK
	if s.budgets == nil {
		checks["store"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if _, err := s.budgets.ListByOwner(ctx, readinessOwner); err != nil {
		s.logger.WarnContext(r.Context(), "Readiness check failed", "backend", s.backend, "error", err)
		checks["store"] = "unavailable"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"backend":   s.backend,
		"checks":    checks,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// handleAPIHealth reports service identity and request counters.
func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"version":   s.version,
		"backend":   s.backend,
		"requests": map[string]int64{
			"total":         m.TotalRequests,
			"server_errors": m.ServerErrors,
			"rate_limited":  s.limiter.GetMetrics().TotalHits,
			"suspicious":    s.detector.GetMetrics().SuspiciousRequests,
		},
	})
}
