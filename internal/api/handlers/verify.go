package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/service"
)

// VerificationHandler serves public certificate scans
type VerificationHandler struct {
	verifier *service.VerificationService
	logger   *zap.Logger
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(verifier *service.VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		verifier: verifier,
		logger:   logger,
	}
}

// Verify checks a scanned token. Found certificates answer 200 whatever
// their status; the status itself is in the body.
// @Summary Verify certificate
// @Description Verify a certificate from the token encoded in its QR code
// @Produce json
// @Param token path string true "Scanned token"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /certificates/verify/{token} [get]
func (h *VerificationHandler) Verify(c *gin.Context) {
	result, err := h.verifier.Verify(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.logger.Error("Verification failed", zap.Error(err))
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "verification is temporarily unavailable")
		return
	}

	switch result.Status {
	case service.StatusMalformed:
		c.JSON(http.StatusBadRequest, Response{Success: false, Data: result, Error: result.Message})
	case service.StatusNotFound:
		c.JSON(http.StatusNotFound, Response{Success: false, Data: result, Error: result.Message})
	default:
		ok(c, http.StatusOK, result)
	}
}
