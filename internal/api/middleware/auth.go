// Package middleware provides the gin middleware shared by the certseal API:
// operator authentication, request logging and CORS.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/auth"
)

// Context keys set by AuthMiddleware
const (
	UsernameKey = "username"
	RoleKey     = "role"
)

// AuthMiddleware validates operator bearer tokens. The operator becomes the
// audit actor for everything the request does.
func AuthMiddleware(authn *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization header format"})
			return
		}

		claims, err := authn.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired token"})
			return
		}

		c.Set(UsernameKey, claims.Username)
		c.Set(RoleKey, claims.Role)
		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), claims.Username))

		c.Next()
	}
}

// RequireRole rejects operators without the given role. Admins pass every check.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(RoleKey)
		if userRole == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "no role in context"})
			return
		}

		if userRole != role && userRole != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "insufficient permissions"})
			return
		}

		c.Next()
	}
}
