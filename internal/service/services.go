package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/crypto"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/document"
	"github.com/robcowart/certseal/internal/gateway"
	"github.com/robcowart/certseal/internal/metrics"
)

// Services bundles the services built from one configuration
type Services struct {
	Cipher       *crypto.Cipher
	Certificates *CertificateService
	Verification *VerificationService
	Payments     *PaymentService
	Gateways     []string
}

// NewServices wires the certificate, verification and payment services.
// The signed-webhook gateway is enabled only when a webhook secret is set.
func NewServices(cfg *config.Config, db *database.Database, store document.Store, m *metrics.Metrics, logger *zap.Logger) (*Services, error) {
	cipher, err := crypto.NewCipher(crypto.KDFParams{N: cfg.Crypto.ScryptN, R: cfg.Crypto.ScryptR, P: cfg.Crypto.ScryptP})
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	sink := audit.NewLogSink(logger.Named("audit"))
	certs := NewCertificateService(db, cipher, document.NewPDFRenderer(cfg.Verification.Issuer), store, cfg, sink, m, logger)
	verifier := NewVerificationService(db, cipher, cfg, sink, m, logger)

	var gateways []gateway.Gateway
	var names []string
	for _, provider := range gateway.Providers() {
		if provider == gateway.SignedWebhookProvider && cfg.Gateways.WebhookSecret == "" {
			continue
		}
		g, err := gateway.New(provider, cfg.Gateways)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gateway: %w", provider, err)
		}
		gateways = append(gateways, g)
		names = append(names, provider)
	}

	return &Services{
		Cipher:       cipher,
		Certificates: certs,
		Verification: verifier,
		Payments:     NewPaymentService(db, gateways, certs, sink, logger),
		Gateways:     names,
	}, nil
}
