package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/service"
)

// maxWebhookBody bounds provider callback bodies
const maxWebhookBody = 1 << 20

// PaymentHandler connects payment providers to transactions
type PaymentHandler struct {
	payments *service.PaymentService
	logger   *zap.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
	}
}

// InitiatePaymentRequest starts collection for a pending transaction
type InitiatePaymentRequest struct {
	Provider      string `json:"provider" binding:"required"`
	TransactionID int64  `json:"transaction_id" binding:"required,gt=0"`
}

// InitiatePayment starts a payment at the chosen provider
// @Summary Initiate payment
// @Accept json
// @Produce json
// @Param request body InitiatePaymentRequest true "Payment request"
// @Success 201 {object} Response
// @Router /api/v1/payments [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), req.Provider, req.TransactionID)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, http.StatusCreated, result)
}

// ProcessPayment confirms a payment for providers settled by an operator
// @Summary Process payment
// @Produce json
// @Param provider path string true "Provider"
// @Param reference path string true "Payment reference"
// @Success 200 {object} Response
// @Router /api/v1/payments/{provider}/{reference}/process [post]
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	result, err := h.payments.Process(c.Request.Context(), c.Param("provider"), c.Param("reference"))
	if err != nil {
		h.logger.Error("Failed to process payment", zap.String("provider", c.Param("provider")), zap.Error(err))
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// GetPaymentStatus asks the provider for the current payment state
// @Summary Payment status
// @Produce json
// @Param provider path string true "Provider"
// @Param reference path string true "Payment reference"
// @Success 200 {object} Response
// @Router /api/v1/payments/{provider}/{reference} [get]
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	result, err := h.payments.CheckStatus(c.Request.Context(), c.Param("provider"), c.Param("reference"))
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Webhook receives a provider callback. Store failures answer 503 so the
// provider delivers again.
// @Summary Payment provider webhook
// @Accept json
// @Produce json
// @Param provider path string true "Provider"
// @Success 200 {object} Response
// @Router /api/v1/gateways/{provider}/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "webhook body too large")
			return
		}
		fail(c, http.StatusBadRequest, "failed to read webhook body")
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), provider, c.Request.Header, body)
	if err != nil {
		h.logger.Warn("Webhook rejected", zap.String("provider", provider), zap.Error(err))
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}
