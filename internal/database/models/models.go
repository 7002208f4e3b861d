// Package models defines the data structures for database entities in certseal.
// It includes marketplace services, profiles, transactions, and issued
// certificates, plus the joined views the issuance and verification paths read.
package models

import (
	"database/sql"
	"time"
)

// Certificate statuses persisted in storage. Expiry is never stored: it is
// derived from ExpiresAt at read time.
const (
	StatusValid     = "valid"
	StatusRevoked   = "revoked"
	StatusSuspended = "suspended"
)

// Transaction statuses
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionFailed    = "failed"
)

// Service represents a marketplace service offering
type Service struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Profile represents a buyer or seller organization
type Profile struct {
	ID           string    `db:"id" json:"id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Organization string    `db:"organization" json:"organization"`
	Email        string    `db:"email" json:"email"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Transaction represents a purchase of a service by a buyer from a seller
type Transaction struct {
	ID               int64          `db:"id" json:"id"`
	ServiceID        string         `db:"service_id" json:"service_id"`
	BuyerID          string         `db:"buyer_id" json:"buyer_id"`
	SellerID         string         `db:"seller_id" json:"seller_id"`
	TotalPriceCents  int64          `db:"total_price_cents" json:"total_price_cents"`
	CommissionCents  int64          `db:"commission_cents" json:"commission_cents"`
	Currency         string         `db:"currency" json:"currency"`
	Status           string         `db:"status" json:"status"`
	Gateway          sql.NullString `db:"gateway" json:"gateway"`
	GatewayReference sql.NullString `db:"gateway_reference" json:"gateway_reference"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	CompletedAt      sql.NullTime   `db:"completed_at" json:"completed_at"`
}

// Certificate represents an issued, sealed transaction certificate
type Certificate struct {
	ID                    string         `db:"id" json:"id"`
	CertificateNumber     string         `db:"certificate_number" json:"certificate_number"`
	TransactionID         int64          `db:"transaction_id" json:"transaction_id"`
	QRPayloadCiphertext   string         `db:"qr_payload_ciphertext" json:"-"`
	EncryptedDocumentPath string         `db:"encrypted_document_path" json:"-"`
	DocumentHash          string         `db:"document_hash" json:"document_hash"`
	VerificationHash      string         `db:"verification_hash" json:"verification_hash"`
	Signature             string         `db:"signature" json:"-"`
	Status                string         `db:"status" json:"status"`
	IssuedAt              time.Time      `db:"issued_at" json:"issued_at"`
	ExpiresAt             time.Time      `db:"expires_at" json:"expires_at"`
	RevokedAt             sql.NullTime   `db:"revoked_at" json:"revoked_at"`
	RevocationReason      sql.NullString `db:"revocation_reason" json:"revocation_reason"`
	SuspendedAt           sql.NullTime   `db:"suspended_at" json:"suspended_at"`
	MetadataCiphertext    sql.NullString `db:"metadata_ciphertext" json:"-"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// IssuanceData is a completed transaction joined with its service and both parties
type IssuanceData struct {
	Transaction Transaction
	Service     Service
	Buyer       Profile
	Seller      Profile
}

// CertificateRecord is a certificate joined with its transaction, service and parties
type CertificateRecord struct {
	Certificate Certificate
	IssuanceData
}
