package service

import (
	"errors"
	"fmt"
)

var (
	// ErrCertificateNotFound is returned when no certificate matches a lookup
	ErrCertificateNotFound = errors.New("certificate not found")
	// ErrTransactionNotFound is returned when the transaction does not exist
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionNotCompleted is returned when issuing for an unsettled transaction
	ErrTransactionNotCompleted = errors.New("transaction is not completed")
	// ErrInvalidTransition is returned for a status change the certificate's state does not allow
	ErrInvalidTransition = errors.New("invalid certificate status transition")
	// ErrStoreUnavailable is returned when the database or document store fails.
	// Callers may retry it.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSealingFailure is matched by every *SealingError
	ErrSealingFailure = errors.New("certificate sealing failed")
	// ErrInvalidInput is returned when issuance input fails validation
	ErrInvalidInput = errors.New("invalid issuance input")
)

// SealingError reports a failure while hashing, signing, encoding or
// rendering a certificate. Nothing is persisted when it is returned.
type SealingError struct {
	Stage string
	Err   error
}

func (e *SealingError) Error() string {
	return fmt.Sprintf("certificate sealing failed at %s: %v", e.Stage, e.Err)
}

func (e *SealingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrSealingFailure
func (e *SealingError) Is(target error) bool {
	return target == ErrSealingFailure
}

func sealingError(stage string, err error) error {
	return &SealingError{Stage: stage, Err: err}
}

// storeError marks err as a retryable store failure
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
