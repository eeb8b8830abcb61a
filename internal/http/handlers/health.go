package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness with an optional database check.
type HealthHandler struct {
	db     Pinger
	logger *logging.Logger
}

func NewHealthHandler(db Pinger, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{db: db, logger: logger}
}

// HealthCheck returns {"status":"ok"} or 503 when the database is unreachable.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h != nil && h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
