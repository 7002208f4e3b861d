package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/crypto"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/database/models"
	"github.com/robcowart/certseal/internal/document"
	"github.com/robcowart/certseal/internal/metrics"
	"github.com/robcowart/certseal/internal/qr"
)

// Purposes bound to the at-rest ciphertexts
const (
	DocumentPurpose = "document"
	MetadataPurpose = "metadata"
)

// CertificateService issues certificates and manages their lifecycle
type CertificateService struct {
	db       *database.Database
	cipher   *crypto.Cipher
	codec    *qr.Codec
	sealer   *Sealer
	renderer document.Renderer
	store    document.Store
	cfg      *config.Config
	audit    audit.Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewCertificateService creates a new certificate service
func NewCertificateService(
	db *database.Database,
	cipher *crypto.Cipher,
	renderer document.Renderer,
	store document.Store,
	cfg *config.Config,
	sink audit.Sink,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CertificateService {
	codec := qr.NewCodec(cipher, []byte(cfg.Secrets.QRKey))
	return &CertificateService{
		db:       db,
		cipher:   cipher,
		codec:    codec,
		sealer:   NewSealer(codec, []byte(cfg.Secrets.SigningKey), cfg.Verification.BaseURL),
		renderer: renderer,
		store:    store,
		cfg:      cfg,
		audit:    sink,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// IssueResult is returned by Issue. Created is false when the transaction
// already had a certificate.
type IssueResult struct {
	Certificate *models.Certificate `json:"certificate"`
	Created     bool                `json:"created"`
}

// CertificateMetadata is the encrypted key-value bag stored with a certificate
type CertificateMetadata struct {
	Gateway          string    `json:"gateway,omitempty"`
	GatewayReference string    `json:"gateway_reference,omitempty"`
	CommissionCents  int64     `json:"commission_cents"`
	Currency         string    `json:"currency"`
	ServiceID        string    `json:"service_id"`
	BuyerID          string    `json:"buyer_id"`
	SellerID         string    `json:"seller_id"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
}

// CertificateNumber formats the public number of the certificate for a transaction
func CertificateNumber(txID int64) string {
	return fmt.Sprintf("CERT-%04d", txID)
}

func newIssuanceInput(id string, data *models.IssuanceData, issuedAt, expiresAt time.Time) *IssuanceInput {
	return &IssuanceInput{
		CertificateID:     id,
		CertificateNumber: CertificateNumber(data.Transaction.ID),
		TransactionID:     data.Transaction.ID,
		ServiceName:       data.Service.Name,
		BuyerID:           data.Buyer.ID,
		BuyerName:         data.Buyer.DisplayName,
		SellerID:          data.Seller.ID,
		SellerName:        data.Seller.DisplayName,
		AmountCents:       data.Transaction.TotalPriceCents,
		Currency:          data.Transaction.Currency,
		IssuedAt:          issuedAt,
		ExpiresAt:         expiresAt,
	}
}

// Issue seals and stores the certificate for a completed transaction. It is
// at-most-once per transaction: a concurrent or repeated call returns the
// existing certificate with Created set to false. A sealing failure leaves
// nothing persisted.
func (s *CertificateService) Issue(ctx context.Context, txID int64) (*IssueResult, error) {
	data, err := s.db.GetIssuanceData(ctx, txID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, txID)
		}
		return nil, storeError("load transaction", err)
	}
	if data.Transaction.Status != models.TransactionCompleted {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrTransactionNotCompleted, txID, data.Transaction.Status)
	}

	existing, err := s.db.GetCertificateByTransaction(ctx, txID)
	if err == nil {
		return &IssueResult{Certificate: existing}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeError("load certificate", err)
	}

	issuedAt := crypto.CanonicalTime(s.now())
	in := newIssuanceInput(uuid.New().String(), data, issuedAt, issuedAt.Add(s.cfg.Crypto.CertificateValidity))

	sealed, err := s.sealer.Seal(in)
	if err != nil {
		s.issueFailed(ctx, in, err)
		if !errors.Is(err, ErrSealingFailure) {
			err = sealingError("validate", err)
		}
		return nil, err
	}

	cert, raw, err := s.seal(ctx, in, data, sealed)
	if err != nil {
		s.issueFailed(ctx, in, err)
		return nil, err
	}

	if err := s.store.Put(ctx, cert.EncryptedDocumentPath, raw); err != nil {
		s.issueFailed(ctx, in, err)
		return nil, storeError("store document", err)
	}

	if err := s.db.CreateCertificate(ctx, cert); err != nil {
		s.discardDocument(ctx, cert.EncryptedDocumentPath)

		if errors.Is(err, database.ErrDuplicate) {
			existing, err := s.db.GetCertificateByTransaction(ctx, txID)
			if err != nil {
				return nil, storeError("load certificate", err)
			}
			s.logger.Info("Certificate already issued",
				zap.Int64("transaction_id", txID),
				zap.String("certificate_number", existing.CertificateNumber))
			return &IssueResult{Certificate: existing}, nil
		}

		s.issueFailed(ctx, in, err)
		return nil, storeError("insert certificate", err)
	}

	audit.Record(ctx, s.audit, audit.OpIssue, cert.ID, nil)
	s.metrics.CertificateIssued()
	s.logger.Info("Certificate issued",
		zap.String("certificate_id", cert.ID),
		zap.String("certificate_number", cert.CertificateNumber),
		zap.Int64("transaction_id", txID),
		zap.Time("expires_at", cert.ExpiresAt))

	return &IssueResult{Certificate: cert, Created: true}, nil
}

// seal renders, encrypts and assembles the certificate row and its document
// bytes without touching any store
func (s *CertificateService) seal(ctx context.Context, in *IssuanceInput, data *models.IssuanceData, sealed *SealedCertificate) (*models.Certificate, []byte, error) {
	png, err := qr.Render(sealed.VerifyURL, qr.DefaultImageSize)
	if err != nil {
		return nil, nil, sealingError("qr image", err)
	}

	pdf, err := s.renderer.Render(&document.Data{
		CertificateNumber:  in.CertificateNumber,
		TransactionID:      in.TransactionID,
		ServiceName:        data.Service.Name,
		ServiceDescription: data.Service.Description,
		AmountCents:        in.AmountCents,
		Currency:           in.Currency,
		BuyerName:          data.Buyer.DisplayName,
		BuyerOrganization:  data.Buyer.Organization,
		SellerName:         data.Seller.DisplayName,
		SellerOrganization: data.Seller.Organization,
		IssuedAt:           in.IssuedAt,
		ExpiresAt:          in.ExpiresAt,
		VerificationHash:   sealed.VerificationHash,
		DocumentHash:       sealed.DocumentHash,
		VerifyURL:          sealed.VerifyURL,
		QRCode:             png,
	})
	if err != nil {
		return nil, nil, sealingError("render", err)
	}

	blob, err := s.cipher.Encrypt(pdf, []byte(s.cfg.Secrets.DocumentKey), DocumentPurpose)
	audit.Record(ctx, s.audit, audit.OpEncrypt, in.CertificateID, err)
	if err != nil {
		return nil, nil, sealingError("encrypt document", err)
	}
	raw, err := blob.MarshalBinary()
	if err != nil {
		return nil, nil, sealingError("encode document", err)
	}

	metadata, err := s.encryptMetadata(ctx, in.CertificateID, &data.Transaction)
	if err != nil {
		return nil, nil, sealingError("encrypt metadata", err)
	}

	now := s.now().UTC()
	return &models.Certificate{
		ID:                    in.CertificateID,
		CertificateNumber:     in.CertificateNumber,
		TransactionID:         in.TransactionID,
		QRPayloadCiphertext:   sealed.QRToken,
		EncryptedDocumentPath: document.ObjectPath(in.CertificateID),
		DocumentHash:          sealed.DocumentHash,
		VerificationHash:      sealed.VerificationHash,
		Signature:             sealed.Signature,
		Status:                models.StatusValid,
		IssuedAt:              in.IssuedAt,
		ExpiresAt:             in.ExpiresAt,
		MetadataCiphertext:    sql.NullString{String: metadata, Valid: true},
		CreatedAt:             now,
		UpdatedAt:             now,
	}, raw, nil
}

func (s *CertificateService) encryptMetadata(ctx context.Context, certID string, tx *models.Transaction) (string, error) {
	md := CertificateMetadata{
		Gateway:          tx.Gateway.String,
		GatewayReference: tx.GatewayReference.String,
		CommissionCents:  tx.CommissionCents,
		Currency:         tx.Currency,
		ServiceID:        tx.ServiceID,
		BuyerID:          tx.BuyerID,
		SellerID:         tx.SellerID,
	}
	if tx.CompletedAt.Valid {
		md.CompletedAt = tx.CompletedAt.Time.UTC()
	}

	data, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	ciphertext, err := s.cipher.EncryptString(data, []byte(s.cfg.Secrets.DataKey), MetadataPurpose)
	audit.Record(ctx, s.audit, audit.OpEncrypt, certID, err)
	return ciphertext, err
}

func (s *CertificateService) issueFailed(ctx context.Context, in *IssuanceInput, err error) {
	audit.Record(ctx, s.audit, audit.OpIssue, in.CertificateID, err)
	s.logger.Error("Certificate issuance failed",
		zap.Int64("transaction_id", in.TransactionID),
		zap.String("certificate_number", in.CertificateNumber),
		zap.Error(err))
}

func (s *CertificateService) discardDocument(ctx context.Context, path string) {
	if err := s.store.Delete(ctx, path); err != nil && !errors.Is(err, document.ErrNotExist) {
		s.logger.Warn("Failed to remove orphaned document", zap.String("path", path), zap.Error(err))
	}
}

// Revoke permanently revokes a valid or suspended certificate
func (s *CertificateService) Revoke(ctx context.Context, id, reason string) (*CertificateStatus, error) {
	return s.transition(ctx, id, models.StatusRevoked, audit.OpRevoke, reason)
}

// Suspend suspends a valid certificate. Expired certificates can be suspended
// because expiry is not stored.
func (s *CertificateService) Suspend(ctx context.Context, id, reason string) (*CertificateStatus, error) {
	return s.transition(ctx, id, models.StatusSuspended, audit.OpSuspend, reason)
}

func (s *CertificateService) transition(ctx context.Context, id, to, op, reason string) (*CertificateStatus, error) {
	err := s.db.UpdateCertificateStatus(ctx, id, to, allowedSources[to], reason, s.now())
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrCertificateNotFound
	case errors.Is(err, database.ErrStatusConflict):
		err = fmt.Errorf("%w: cannot move certificate to %s", ErrInvalidTransition, to)
		audit.Record(ctx, s.audit, op, id, err)
		return nil, err
	default:
		audit.Record(ctx, s.audit, op, id, err)
		return nil, storeError("update status", err)
	}

	audit.Record(ctx, s.audit, op, id, nil)
	s.metrics.StatusChanged(to)
	s.logger.Info("Certificate status changed",
		zap.String("certificate_id", id),
		zap.String("status", to),
		zap.String("reason", reason))

	return s.Get(ctx, id)
}

// CertificateStatus is a certificate with its derived status
type CertificateStatus struct {
	*models.Certificate
	EffectiveStatus VerificationStatus `json:"effective_status"`
	DaysUntilExp    int                `json:"days_until_exp"`
}

// MarshalJSON implements custom JSON marshaling to flatten sql.Null* types
func (cs *CertificateStatus) MarshalJSON() ([]byte, error) {
	type Alias CertificateStatus
	out := struct {
		*Alias
		RevokedAt        *time.Time `json:"revoked_at,omitempty"`
		RevocationReason string     `json:"revocation_reason,omitempty"`
		SuspendedAt      *time.Time `json:"suspended_at,omitempty"`
	}{
		Alias:            (*Alias)(cs),
		RevocationReason: cs.Certificate.RevocationReason.String,
	}
	if cs.Certificate.RevokedAt.Valid {
		out.RevokedAt = &cs.Certificate.RevokedAt.Time
	}
	if cs.Certificate.SuspendedAt.Valid {
		out.SuspendedAt = &cs.Certificate.SuspendedAt.Time
	}
	return json.Marshal(&out)
}

func (s *CertificateService) buildCertificateStatus(cert *models.Certificate) *CertificateStatus {
	now := s.now()
	status := &CertificateStatus{
		Certificate:     cert,
		EffectiveStatus: EvaluateStatus(cert.Status, cert.ExpiresAt, now),
	}
	if status.EffectiveStatus == StatusValid {
		status.DaysUntilExp = int(cert.ExpiresAt.Sub(now).Hours() / 24)
	}
	return status
}

func (s *CertificateService) lookup(ctx context.Context, get func() (*models.Certificate, error)) (*models.Certificate, error) {
	cert, err := get()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, storeError("load certificate", err)
	}
	return cert, nil
}

// Get returns a certificate by ID
func (s *CertificateService) Get(ctx context.Context, id string) (*CertificateStatus, error) {
	cert, err := s.lookup(ctx, func() (*models.Certificate, error) { return s.db.GetCertificate(ctx, id) })
	if err != nil {
		return nil, err
	}
	return s.buildCertificateStatus(cert), nil
}

// GetByNumber returns a certificate by its public number
func (s *CertificateService) GetByNumber(ctx context.Context, number string) (*CertificateStatus, error) {
	cert, err := s.lookup(ctx, func() (*models.Certificate, error) { return s.db.GetCertificateByNumber(ctx, number) })
	if err != nil {
		return nil, err
	}
	return s.buildCertificateStatus(cert), nil
}

// List returns certificates newest first
func (s *CertificateService) List(ctx context.Context, limit, offset int) ([]*CertificateStatus, error) {
	certs, err := s.db.ListCertificates(ctx, limit, offset)
	if err != nil {
		return nil, storeError("list certificates", err)
	}

	result := make([]*CertificateStatus, len(certs))
	for i, cert := range certs {
		result[i] = s.buildCertificateStatus(cert)
	}
	return result, nil
}

// Document returns the decrypted certificate document
func (s *CertificateService) Document(ctx context.Context, id string) ([]byte, error) {
	cert, err := s.lookup(ctx, func() (*models.Certificate, error) { return s.db.GetCertificate(ctx, id) })
	if err != nil {
		return nil, err
	}

	raw, err := s.store.Get(ctx, cert.EncryptedDocumentPath)
	if err != nil {
		return nil, storeError("load document", err)
	}
	blob, err := crypto.UnmarshalBlob(raw)
	if err != nil {
		audit.Record(ctx, s.audit, audit.OpDecrypt, id, err)
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	pdf, err := s.cipher.Decrypt(blob, []byte(s.cfg.Secrets.DocumentKey), DocumentPurpose)
	audit.Record(ctx, s.audit, audit.OpDecrypt, id, err)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt document: %w", err)
	}
	return pdf, nil
}

// Metadata returns the decrypted metadata of a certificate
func (s *CertificateService) Metadata(ctx context.Context, id string) (*CertificateMetadata, error) {
	cert, err := s.lookup(ctx, func() (*models.Certificate, error) { return s.db.GetCertificate(ctx, id) })
	if err != nil {
		return nil, err
	}
	if !cert.MetadataCiphertext.Valid {
		return &CertificateMetadata{}, nil
	}

	data, err := s.cipher.DecryptString(cert.MetadataCiphertext.String, []byte(s.cfg.Secrets.DataKey), MetadataPurpose)
	audit.Record(ctx, s.audit, audit.OpDecrypt, id, err)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt metadata: %w", err)
	}

	var md CertificateMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &md, nil
}

// QRCode renders the certificate's verification URL as a PNG
func (s *CertificateService) QRCode(ctx context.Context, id string, size int) ([]byte, error) {
	cert, err := s.lookup(ctx, func() (*models.Certificate, error) { return s.db.GetCertificate(ctx, id) })
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = qr.DefaultImageSize
	}
	return qr.Render(qr.VerifyURL(s.cfg.Verification.BaseURL, cert.QRPayloadCiphertext), size)
}
