package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// pinger is anything with a context-aware liveness probe. The database,
// redis client, and job queue all fit.
type pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthChecker handles health check requests
type HealthChecker struct {
	checks map[string]pinger
}

// NewHealthChecker creates a health checker. Nil dependencies are skipped so
// the scheduler and worker binaries can reuse it with their subset.
func NewHealthChecker(db, cache, queue pinger) *HealthChecker {
	checks := make(map[string]pinger)
	if db != nil {
		checks["database"] = db
	}
	if cache != nil {
		checks["cache"] = cache
	}
	if queue != nil {
		checks["queue"] = queue
	}
	return &HealthChecker{checks: checks}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if mode == "extended" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string)
		for name, check := range h.checks {
			if err := check.HealthCheck(ctx); err != nil {
				response.Status = "unhealthy"
				results[name] = "unhealthy: " + err.Error()
			} else {
				results[name] = "healthy"
			}
		}
		response.Checks = results

		statusCode := http.StatusOK
		if response.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(response)
		return
	}

	// Basic mode - just return that the server is running
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
