package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tasksync/pkg/logger"
)

// Replayer re-queues change feed events the dispatcher gave up on.
type Replayer interface {
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	replayer Replayer
	logger   *zap.Logger
}

func NewAdminHandler(replayer Replayer, l *zap.Logger) *AdminHandler {
	return &AdminHandler{replayer: replayer, logger: logger.OrNop(l)}
}

// ReplayFailedEvents puts failed outbox events back in the pending queue.
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	replayed, err := h.replayer.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay failed events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "completed",
		"replayed_count": replayed,
		"limit":          limit,
	})
}
