package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/crypto"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/database/models"
	"github.com/robcowart/certseal/internal/metrics"
	"github.com/robcowart/certseal/internal/qr"
)

// VerificationResult is the public answer to a scanned certificate code
type VerificationResult struct {
	Status             VerificationStatus `json:"status"`
	Message            string             `json:"message"`
	CertificateNumber  string             `json:"certificateNumber,omitempty"`
	Service            string             `json:"service,omitempty"`
	TransactionSummary string             `json:"transactionSummary,omitempty"`
	BuyerOrg           string             `json:"buyerOrg,omitempty"`
	SellerOrg          string             `json:"sellerOrg,omitempty"`
	VerificationHash   string             `json:"verificationHash,omitempty"`
	IssuedAt           *time.Time         `json:"issuedAt,omitempty"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`
	HasSignature       bool               `json:"hasSignature"`
	HashMatch          bool               `json:"hashMatch"`
	SignatureValid     bool               `json:"signatureValid"`
	VerifiedAt         time.Time          `json:"verifiedAt"`
}

// VerificationService answers public certificate scans. It never writes.
type VerificationService struct {
	db         *database.Database
	codec      *qr.Codec
	signingKey []byte
	workers    *semaphore.Weighted
	audit      audit.Sink
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewVerificationService creates a verification service. At most
// cfg.Verification.Workers token decryptions run at once.
func NewVerificationService(db *database.Database, cipher *crypto.Cipher, cfg *config.Config, sink audit.Sink, m *metrics.Metrics, logger *zap.Logger) *VerificationService {
	workers := cfg.Verification.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &VerificationService{
		db:         db,
		codec:      qr.NewCodec(cipher, []byte(cfg.Secrets.QRKey)),
		signingKey: []byte(cfg.Secrets.SigningKey),
		workers:    semaphore.NewWeighted(int64(workers)),
		audit:      sink,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Verify evaluates a scanned token. Unreadable tokens and unknown
// certificates are reported in the result; the only errors returned are
// store failures and context cancellation.
func (s *VerificationService) Verify(ctx context.Context, token string) (*VerificationResult, error) {
	now := s.now().UTC()

	payload, err := s.decode(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("Rejected certificate token", zap.Error(err))
		return s.finish(&VerificationResult{
			Status:     StatusMalformed,
			Message:    "The scanned code is not a valid certificate code",
			VerifiedAt: now,
		}), nil
	}

	rec, err := s.db.GetCertificateRecordByNumber(ctx, payload.CertificateNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.finish(&VerificationResult{
				Status:            StatusNotFound,
				Message:           "No certificate matches the scanned code",
				CertificateNumber: payload.CertificateNumber,
				VerifiedAt:        now,
			}), nil
		}
		s.logger.Error("Certificate lookup failed", zap.String("certificate_number", payload.CertificateNumber), zap.Error(err))
		return nil, storeError("load certificate", err)
	}

	return s.finish(s.evaluate(payload, rec, now)), nil
}

func (s *VerificationService) decode(ctx context.Context, token string) (*qr.Payload, error) {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.workers.Release(1)

	payload, err := s.codec.Decode(token)
	if errors.Is(err, crypto.ErrDecryption) {
		audit.Record(ctx, s.audit, audit.OpDecrypt, "", err)
	} else if err == nil {
		audit.Record(ctx, s.audit, audit.OpDecrypt, payload.CertificateID, nil)
	}
	return payload, err
}

func (s *VerificationService) evaluate(payload *qr.Payload, rec *models.CertificateRecord, now time.Time) *VerificationResult {
	cert := &rec.Certificate
	tx := &rec.Transaction

	recomputed := crypto.VerificationHash(cert.CertificateNumber, tx.TotalPriceCents, cert.IssuedAt)
	hashMatch := recomputed == cert.VerificationHash &&
		recomputed == payload.VerificationHash &&
		payload.CertificateID == cert.ID

	documentHash := crypto.DocumentHash(crypto.DocumentFields{
		CertificateNumber: cert.CertificateNumber,
		ServiceName:       rec.Service.Name,
		BuyerName:         rec.Buyer.DisplayName,
		SellerName:        rec.Seller.DisplayName,
		AmountCents:       tx.TotalPriceCents,
		IssuedAt:          cert.IssuedAt,
		ExpiresAt:         cert.ExpiresAt,
	})
	signatureValid := cert.Signature != "" &&
		documentHash == cert.DocumentHash &&
		crypto.VerifySignature(cert.DocumentHash, cert.Signature, s.signingKey)

	status := EvaluateStatus(cert.Status, cert.ExpiresAt, now)
	message := statusMessage(status, cert)
	if !hashMatch {
		message += ". Warning: the certificate record does not match the scanned code"
	}

	issuedAt, expiresAt := cert.IssuedAt, cert.ExpiresAt
	return &VerificationResult{
		Status:             status,
		Message:            message,
		CertificateNumber:  cert.CertificateNumber,
		Service:            rec.Service.Name,
		TransactionSummary: fmt.Sprintf("Transaction #%d: %s %s", tx.ID, crypto.FormatAmount(tx.TotalPriceCents), tx.Currency),
		BuyerOrg:           rec.Buyer.Organization,
		SellerOrg:          rec.Seller.Organization,
		VerificationHash:   cert.VerificationHash,
		IssuedAt:           &issuedAt,
		ExpiresAt:          &expiresAt,
		HasSignature:       cert.Signature != "",
		HashMatch:          hashMatch,
		SignatureValid:     signatureValid,
		VerifiedAt:         now,
	}
}

func statusMessage(status VerificationStatus, cert *models.Certificate) string {
	switch status {
	case StatusRevoked:
		if cert.RevokedAt.Valid {
			return "Certificate was revoked on " + cert.RevokedAt.Time.Format(time.DateOnly)
		}
		return "Certificate was revoked"
	case StatusSuspended:
		return "Certificate is suspended"
	case StatusExpired:
		return "Certificate expired on " + cert.ExpiresAt.Format(time.DateOnly)
	default:
		return "Certificate is valid until " + cert.ExpiresAt.Format(time.DateOnly)
	}
}

func (s *VerificationService) finish(r *VerificationResult) *VerificationResult {
	s.metrics.Verified(string(r.Status))
	s.logger.Info("Certificate verified",
		zap.String("status", string(r.Status)),
		zap.String("certificate_number", r.CertificateNumber),
		zap.Bool("hash_match", r.HashMatch))
	return r
}
