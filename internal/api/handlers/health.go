package handlers

import (
	"context"
	"net/http"

	"github.com/lumenfeed/lumenfeed/internal/api"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health reports process and database health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			api.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	api.JSON(w, http.StatusOK, status)
}
