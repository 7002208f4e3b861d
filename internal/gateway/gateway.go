// Package gateway defines the payment gateway contract and its providers.
// Providers are selected by identifier through New; each one is a separate
// implementation of Gateway with no shared state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/robcowart/certseal/internal/config"
)

// Status is the settlement state of a payment
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrUnknownProvider is returned by New for an unregistered identifier
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrUnknownReference is returned for a reference the provider never issued
	ErrUnknownReference = errors.New("unknown payment reference")
	// ErrInvalidSignature is returned for a webhook whose signature does not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnsupported is returned when a provider does not implement an operation
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Payment is a request to collect payment for a transaction
type Payment struct {
	TransactionID int64
	AmountCents   int64
	Currency      string
}

// Result describes the state of a payment at the provider
type Result struct {
	Provider      string `json:"provider"`
	Reference     string `json:"reference"`
	TransactionID int64  `json:"transaction_id"`
	Status        Status `json:"status"`
}

// Event is a parsed, authenticated provider callback
type Event struct {
	Provider      string `json:"provider"`
	Type          string `json:"event"`
	Reference     string `json:"reference"`
	TransactionID int64  `json:"transaction_id"`
	Status        Status `json:"status"`
}

// Gateway is implemented by every payment provider
type Gateway interface {
	// Name returns the provider identifier
	Name() string
	// Initiate starts collecting a payment and returns its provider reference
	Initiate(ctx context.Context, p Payment) (*Result, error)
	// Process settles a payment on the provider side when the provider allows it
	Process(ctx context.Context, reference string) (*Result, error)
	// CheckStatus asks the provider for the current state of a payment
	CheckStatus(ctx context.Context, reference string) (*Result, error)
	// HandleWebhook authenticates and parses a provider callback
	HandleWebhook(ctx context.Context, header http.Header, body []byte) (*Event, error)
}

type factory func(cfg config.GatewaysConfig) (Gateway, error)

var providers = map[string]factory{
	ManualProvider:        func(config.GatewaysConfig) (Gateway, error) { return NewManual(), nil },
	SignedWebhookProvider: func(cfg config.GatewaysConfig) (Gateway, error) { return NewSignedWebhook(cfg) },
}

// New creates the gateway registered under provider
func New(provider string, cfg config.GatewaysConfig) (Gateway, error) {
	f, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return f(cfg)
}

// Providers returns the registered provider identifiers
func Providers() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
