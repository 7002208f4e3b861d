package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/database/models"
	"github.com/robcowart/certseal/internal/gateway"
)

// ErrTransactionNotPending is returned when starting a payment for a settled transaction
var ErrTransactionNotPending = errors.New("transaction is not pending")

// SettlementResult reports what a payment update did to its transaction
type SettlementResult struct {
	TransactionID int64          `json:"transaction_id"`
	Status        gateway.Status `json:"status"`
	Certificate   *IssueResult   `json:"certificate,omitempty"`
}

// PaymentService connects payment gateways to transactions and triggers
// issuance once a payment settles
type PaymentService struct {
	db       *database.Database
	gateways map[string]gateway.Gateway
	certs    *CertificateService
	audit    audit.Sink
	logger   *zap.Logger
	retry    RetryPolicy
	now      func() time.Time
}

// NewPaymentService creates a payment service over the given gateways
func NewPaymentService(db *database.Database, gateways []gateway.Gateway, certs *CertificateService, sink audit.Sink, logger *zap.Logger) *PaymentService {
	byName := make(map[string]gateway.Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &PaymentService{
		db:       db,
		gateways: byName,
		certs:    certs,
		audit:    sink,
		logger:   logger,
		retry:    DefaultRetryPolicy,
		now:      time.Now,
	}
}

func (s *PaymentService) gateway(provider string) (gateway.Gateway, error) {
	g, ok := s.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownProvider, provider)
	}
	return g, nil
}

func (s *PaymentService) transaction(ctx context.Context, get func() (*models.Transaction, error)) (*models.Transaction, error) {
	tx, err := get()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, storeError("load transaction", err)
	}
	return tx, nil
}

// Initiate starts collecting payment for a pending transaction
func (s *PaymentService) Initiate(ctx context.Context, provider string, txID int64) (*gateway.Result, error) {
	g, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}

	tx, err := s.transaction(ctx, func() (*models.Transaction, error) { return s.db.GetTransaction(ctx, txID) })
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionPending {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrTransactionNotPending, txID, tx.Status)
	}

	result, err := g.Initiate(ctx, gateway.Payment{
		TransactionID: tx.ID,
		AmountCents:   tx.TotalPriceCents,
		Currency:      tx.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate payment: %w", err)
	}

	if err := s.db.SetTransactionGateway(ctx, tx.ID, provider, result.Reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %d", ErrTransactionNotPending, tx.ID)
		}
		return nil, storeError("record payment reference", err)
	}

	s.logger.Info("Payment initiated",
		zap.String("provider", provider),
		zap.String("reference", result.Reference),
		zap.Int64("transaction_id", tx.ID))
	return result, nil
}

// Process asks the provider to settle a payment and applies the outcome
func (s *PaymentService) Process(ctx context.Context, provider, reference string) (*SettlementResult, error) {
	g, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}

	result, err := g.Process(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to process payment: %w", err)
	}
	return s.apply(ctx, provider, result.Reference, result.TransactionID, result.Status)
}

// CheckStatus asks the provider for the state of a payment and applies it
func (s *PaymentService) CheckStatus(ctx context.Context, provider, reference string) (*SettlementResult, error) {
	g, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}

	result, err := g.CheckStatus(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment status: %w", err)
	}
	return s.apply(ctx, provider, reference, result.TransactionID, result.Status)
}

// HandleWebhook authenticates a provider callback and applies it
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, header http.Header, body []byte) (*SettlementResult, error) {
	g, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}

	event, err := g.HandleWebhook(ctx, header, body)
	if err != nil {
		audit.Record(ctx, s.audit, audit.OpWebhook, provider, err)
		return nil, err
	}
	audit.Record(ctx, s.audit, audit.OpWebhook, event.Reference, nil)

	return s.apply(ctx, provider, event.Reference, event.TransactionID, event.Status)
}

// apply moves the transaction behind reference to status. A completed
// payment issues the certificate; both steps retry store failures.
func (s *PaymentService) apply(ctx context.Context, provider, reference string, txID int64, status gateway.Status) (*SettlementResult, error) {
	tx, err := s.transaction(ctx, func() (*models.Transaction, error) { return s.db.GetTransactionByReference(ctx, reference) })
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownReference, reference)
		}
		return nil, err
	}
	if tx.Gateway.String != provider || (txID != 0 && tx.ID != txID) {
		return nil, fmt.Errorf("%w: reference %s does not belong to transaction %d", gateway.ErrUnknownReference, reference, txID)
	}

	out := &SettlementResult{TransactionID: tx.ID, Status: status}
	switch status {
	case gateway.StatusCompleted:
		_, err := RetryStore(ctx, s.retry, func() (struct{}, error) {
			return struct{}{}, s.settleError("complete transaction", s.db.CompleteTransaction(ctx, tx.ID, s.now()))
		})
		audit.Record(ctx, s.audit, audit.OpComplete, fmt.Sprint(tx.ID), err)
		if err != nil {
			return nil, err
		}

		issued, err := RetryStore(ctx, s.retry, func() (*IssueResult, error) {
			return s.certs.Issue(ctx, tx.ID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to issue certificate: %w", err)
		}
		out.Certificate = issued

	case gateway.StatusFailed:
		if err := s.settleError("fail transaction", s.db.FailTransaction(ctx, tx.ID)); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Payment status applied",
		zap.String("provider", provider),
		zap.String("reference", reference),
		zap.Int64("transaction_id", tx.ID),
		zap.String("status", string(status)))
	return out, nil
}

func (s *PaymentService) settleError(op string, err error) error {
	if err == nil || errors.Is(err, database.ErrTransactionState) {
		return err
	}
	return storeError(op, err)
}
