package service

import (
	"time"

	"github.com/robcowart/certseal/internal/database/models"
)

// VerificationStatus is the outcome of evaluating a scanned certificate
type VerificationStatus string

const (
	StatusNotFound  VerificationStatus = "NOT_FOUND"
	StatusMalformed VerificationStatus = "MALFORMED"
	StatusValid     VerificationStatus = "VALID"
	StatusExpired   VerificationStatus = "EXPIRED"
	StatusRevoked   VerificationStatus = "REVOKED"
	StatusSuspended VerificationStatus = "SUSPENDED"
)

// EvaluateStatus derives the current status of a certificate. Manual states
// win over expiry: revoked > suspended > expired > valid. A certificate is
// expired only once now is strictly after expiresAt.
func EvaluateStatus(stored string, expiresAt, now time.Time) VerificationStatus {
	switch stored {
	case models.StatusRevoked:
		return StatusRevoked
	case models.StatusSuspended:
		return StatusSuspended
	case models.StatusValid:
	default:
		// unknown stored states never verify as valid
		return StatusSuspended
	}

	if now.After(expiresAt) {
		return StatusExpired
	}
	return StatusValid
}

// allowedSources lists the stored states a manual transition may start from.
// Revoked is terminal and nothing returns to valid.
var allowedSources = map[string][]string{
	models.StatusRevoked:   {models.StatusValid, models.StatusSuspended},
	models.StatusSuspended: {models.StatusValid},
}
