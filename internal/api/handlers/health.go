package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/database"
)

// HealthHandler reports whether the service can reach its database
type HealthHandler struct {
	db     *database.Database
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.Database, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// Health pings the database
// @Summary Health check
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /healthz [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		fail(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
