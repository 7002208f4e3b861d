// Package api wires the certseal HTTP surface: public certificate
// verification, payment provider webhooks, and the operator API.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/api/handlers"
	"github.com/robcowart/certseal/internal/api/middleware"
	"github.com/robcowart/certseal/internal/auth"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/metrics"
	"github.com/robcowart/certseal/internal/service"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *database.Database, svc *service.Services, authn *auth.Authenticator, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(m.Middleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg))

	healthHandler := handlers.NewHealthHandler(db, logger)
	verifyHandler := handlers.NewVerificationHandler(svc.Verification, logger)
	authHandler := handlers.NewAuthHandler(authn, logger)
	certHandler := handlers.NewCertificateHandler(svc.Certificates, logger)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, logger)

	router.GET("/healthz", healthHandler.Health)
	router.GET("/metrics", m.Handler())

	// Printed QR codes point here
	router.GET("/certificates/verify/:token", verifyHandler.Verify)

	public := router.Group("/api/v1")
	{
		public.GET("/certificates/verify/:token", verifyHandler.Verify)
		public.POST("/gateways/:provider/webhook", paymentHandler.Webhook)
		public.POST("/auth/login", authHandler.Login)
	}

	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(authn))
	{
		protected.GET("/auth/me", authHandler.GetCurrentOperator)

		protected.GET("/certificates", certHandler.ListCertificates)
		protected.POST("/certificates", certHandler.IssueCertificate)
		protected.GET("/certificates/number/:number", certHandler.GetCertificateByNumber)
		protected.GET("/certificates/:id", certHandler.GetCertificate)
		protected.GET("/certificates/:id/document", certHandler.DownloadDocument)
		protected.GET("/certificates/:id/qr", certHandler.GetQRCode)
		protected.GET("/certificates/:id/metadata", middleware.RequireRole(auth.RoleAdmin), certHandler.GetMetadata)
		protected.PUT("/certificates/:id/revoke", middleware.RequireRole(auth.RoleAdmin), certHandler.RevokeCertificate)
		protected.PUT("/certificates/:id/suspend", middleware.RequireRole(auth.RoleAdmin), certHandler.SuspendCertificate)

		protected.POST("/payments", paymentHandler.InitiatePayment)
		protected.GET("/payments/:provider/:reference", paymentHandler.GetPaymentStatus)
		protected.POST("/payments/:provider/:reference/process", middleware.RequireRole(auth.RoleAdmin), paymentHandler.ProcessPayment)
	}

	return router
}
