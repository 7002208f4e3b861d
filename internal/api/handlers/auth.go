package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/api/middleware"
	"github.com/robcowart/certseal/internal/auth"
)

// AuthHandler handles operator authentication
type AuthHandler struct {
	authn  *auth.Authenticator
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authn *auth.Authenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authn:  authn,
		logger: logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an operator
// @Summary Operator login
// @Description Authenticate an operator and return a JWT token
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} Response
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.authn.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("Login failed", zap.String("username", req.Username))
			fail(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("Login failed", zap.String("username", req.Username), zap.Error(err))
		fail(c, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.logger.Info("Operator logged in", zap.String("username", session.Username), zap.String("role", session.Role))
	ok(c, http.StatusOK, session)
}

// GetCurrentOperator returns the authenticated operator
// @Summary Current operator
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) GetCurrentOperator(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"username": c.GetString(middleware.UsernameKey),
		"role":     c.GetString(middleware.RoleKey),
	})
}
