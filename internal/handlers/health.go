package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/pkg/logger"
)

const defaultReadinessTimeout = 2 * time.Second

// Pinger is satisfied by every store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and store readiness.
type HealthHandler struct {
	store   Pinger
	timeout time.Duration
}

// NewHealthHandler returns a handler whose readiness depends on store.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store, timeout: defaultReadinessTimeout}
}

// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"status":     "up",
		"checked_at": time.Now().UTC(),
	})
}

// GET /health, /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{"store": "up"}
	success := true

	if h.store == nil {
		checks["store"] = "missing"
		success = false
	} else {
		ctx, cancel := context.WithTimeout(requestContext(c), h.timeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			logger.WithModule("health").Warn("store ping failed", zap.Error(err))
			checks["store"] = "down"
			success = false
		}
	}

	status, label := http.StatusOK, "up"
	if !success {
		status, label = http.StatusServiceUnavailable, "down"
	}
	c.JSON(status, gin.H{
		"success":    success,
		"status":     label,
		"checks":     checks,
		"checked_at": time.Now().UTC(),
	})
}
