// Package health exposes liveness/readiness HTTP endpoints and the
// background monitor that drives the composite router's degraded-mode
// fallback.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"go.uber.org/zap"
)

// Pinger is the subset of the shared store the health handler and monitor
// depend on. Satisfied by *cluster.Store; nil when the service runs in
// single-node mode (cluster_mode=false), in which case the store is always
// considered healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the liveness and readiness HTTP probes.
type Handler struct {
	store Pinger
}

// NewHandler builds a Handler. store may be nil when cluster mode is
// disabled.
func NewHandler(store Pinger) *Handler {
	return &Handler{store: store}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /healthz. Returns 200 as long as the process is
// alive; it performs no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /readyz. It always returns 200 with status "ready";
// checks.shared_store reports "healthy", "unhealthy", or "disabled" (no
// store configured). A shared-store outage never fails readiness beyond
// reporting it: the service keeps accepting new connections and degrades to
// local-only routing (see Monitor), so callers that gate traffic on
// readiness should treat an "unhealthy" store as still serving.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"shared_store": h.checkStore(ctx)}

	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "disabled"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Warn(ctx, "shared store ping failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
