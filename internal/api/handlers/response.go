// Package handlers implements the HTTP handlers of the certseal API. Every
// JSON response uses the same envelope: {"success": bool, "data": ..., "error": "..."}.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/gateway"
	"github.com/robcowart/certseal/internal/service"
)

// Response is the JSON envelope returned by every endpoint
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Success: false, Error: msg})
}

// failWith maps a service error to a status code. Client errors carry their
// message; server errors get a generic one and land in the request log.
func failWith(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		fail(c, status, http.StatusText(status))
		return
	}
	fail(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrCertificateNotFound),
		errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, gateway.ErrUnknownProvider),
		errors.Is(err, gateway.ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrTransactionNotCompleted),
		errors.Is(err, service.ErrTransactionNotPending),
		errors.Is(err, database.ErrTransactionState):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gateway.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
