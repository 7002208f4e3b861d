package service

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/robcowart/certseal/internal/crypto"
	"github.com/robcowart/certseal/internal/qr"
)

// IssuanceInput carries everything sealed into a certificate
type IssuanceInput struct {
	CertificateID     string    `validate:"required,uuid4"`
	CertificateNumber string    `validate:"required,max=64"`
	TransactionID     int64     `validate:"gt=0"`
	ServiceName       string    `validate:"required"`
	BuyerID           string    `validate:"required"`
	BuyerName         string    `validate:"required"`
	SellerID          string    `validate:"required"`
	SellerName        string    `validate:"required"`
	AmountCents       int64     `validate:"gt=0"`
	Currency          string    `validate:"required,len=3"`
	IssuedAt          time.Time `validate:"required"`
	ExpiresAt         time.Time `validate:"required,gtfield=IssuedAt"`
}

// SealedCertificate is the output of Seal
type SealedCertificate struct {
	DocumentHash     string
	VerificationHash string
	Signature        string
	QRToken          string
	VerifyURL        string
}

// Sealer computes the hashes, signature and QR token of a certificate. It
// holds no lock and touches no store.
type Sealer struct {
	codec      *qr.Codec
	signingKey []byte
	baseURL    string
	validate   *validator.Validate
}

// NewSealer creates a sealer
func NewSealer(codec *qr.Codec, signingKey []byte, baseURL string) *Sealer {
	return &Sealer{
		codec:      codec,
		signingKey: signingKey,
		baseURL:    baseURL,
		validate:   validator.New(),
	}
}

// Seal validates in and produces its sealed form. Timestamps are truncated to
// millisecond precision before hashing.
func (s *Sealer) Seal(in *IssuanceInput) (*SealedCertificate, error) {
	in.IssuedAt = crypto.CanonicalTime(in.IssuedAt)
	in.ExpiresAt = crypto.CanonicalTime(in.ExpiresAt)

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	documentHash := crypto.DocumentHash(documentFields(in))
	verificationHash := crypto.VerificationHash(in.CertificateNumber, in.AmountCents, in.IssuedAt)

	token, err := s.codec.Encode(qr.Payload{
		CertificateID:     in.CertificateID,
		CertificateNumber: in.CertificateNumber,
		VerificationHash:  verificationHash,
		IssuedAt:          in.IssuedAt,
		ExpiresAt:         in.ExpiresAt,
		BuyerID:           in.BuyerID,
		SellerID:          in.SellerID,
	})
	if err != nil {
		return nil, sealingError("qr", err)
	}

	return &SealedCertificate{
		DocumentHash:     documentHash,
		VerificationHash: verificationHash,
		Signature:        crypto.Sign(documentHash, s.signingKey),
		QRToken:          token,
		VerifyURL:        qr.VerifyURL(s.baseURL, token),
	}, nil
}

func documentFields(in *IssuanceInput) crypto.DocumentFields {
	return crypto.DocumentFields{
		CertificateNumber: in.CertificateNumber,
		ServiceName:       in.ServiceName,
		BuyerName:         in.BuyerName,
		SellerName:        in.SellerName,
		AmountCents:       in.AmountCents,
		IssuedAt:          in.IssuedAt,
		ExpiresAt:         in.ExpiresAt,
	}
}
