package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check tests one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	stats  func(ctx context.Context) (map[string]string, error)
	info   gin.H
}

// NewHealthHandler reports each named check. stats, if set, adds cache
// server statistics; info is echoed verbatim (enabled workers and the like).
func NewHealthHandler(checks map[string]Check, stats func(ctx context.Context) (map[string]string, error), info gin.H) *HealthHandler {
	return &HealthHandler{checks: checks, stats: stats, info: info}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	services := gin.H{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			services[name] = gin.H{"status": "down", "error": err.Error()}
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		services[name] = gin.H{"status": "up"}
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	}
	if h.stats != nil {
		if stats, err := h.stats(ctx); err == nil {
			body["redis"] = stats
		}
	}
	for k, v := range h.info {
		body[k] = v
	}
	c.JSON(code, body)
}
