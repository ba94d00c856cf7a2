package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/mailcode/internal/health"
)

// brokerProbe is satisfied by *health.BrokerChecker.
type brokerProbe interface {
	Check(ctx context.Context) error
	Snapshot() health.Status
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	probe brokerProbe
}

// NewHealthHandler creates a HealthHandler. probe may be nil, in which case
// readiness always succeeds.
func NewHealthHandler(probe brokerProbe) *HealthHandler {
	return &HealthHandler{probe: probe}
}

// Register mounts /healthz and /readyz on r.
func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
}

// Healthz reports that the process is up.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz dials the broker and reports 503 when it is unreachable.
func (h *HealthHandler) Readyz(c *gin.Context) {
	if h.probe == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	if err := h.probe.Check(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"broker": h.probe.Snapshot(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "broker": h.probe.Snapshot()})
}
