package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"

	xhttp "github.com/apysky/broadcast-scheduler/pkg/http"
)

// HealthCheck reports one dependency's availability.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func RegisterHealthRoutes(e *router.Router, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := xhttp.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(checkCtx); err != nil {
			deps[name] = "down"
			status = xhttp.StatusInternalServerError
			continue
		}
		deps[name] = "up"
	}

	overall := "ok"
	if status != xhttp.StatusOK {
		overall = "degraded"
	}
	writeJSON(ctx, status, map[string]any{
		"status":       overall,
		"dependencies": deps,
	})
}
