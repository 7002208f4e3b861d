package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// ManualProvider identifies the operator-confirmed gateway
const ManualProvider = "manual"

// Manual settles payments when an operator confirms them through Process.
// It has no callbacks.
type Manual struct {
	mu       sync.Mutex
	payments map[string]*Result
}

// NewManual creates a manual gateway
func NewManual() *Manual {
	return &Manual{payments: make(map[string]*Result)}
}

// Name returns the provider identifier
func (m *Manual) Name() string {
	return ManualProvider
}

// Initiate records a pending payment
func (m *Manual) Initiate(_ context.Context, p Payment) (*Result, error) {
	if p.AmountCents <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %d", p.AmountCents)
	}

	r := &Result{
		Provider:      ManualProvider,
		Reference:     "manual-" + uuid.New().String(),
		TransactionID: p.TransactionID,
		Status:        StatusPending,
	}

	m.mu.Lock()
	m.payments[r.Reference] = r
	m.mu.Unlock()

	copied := *r
	return &copied, nil
}

// Process marks a payment completed. References not created by this
// instance are accepted as already confirmed out of band.
func (m *Manual) Process(_ context.Context, reference string) (*Result, error) {
	if reference == "" {
		return nil, ErrUnknownReference
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.payments[reference]
	if !ok {
		r = &Result{Provider: ManualProvider, Reference: reference}
		m.payments[reference] = r
	}
	r.Status = StatusCompleted

	copied := *r
	return &copied, nil
}

// CheckStatus returns the recorded state of a payment
func (m *Manual) CheckStatus(_ context.Context, reference string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.payments[reference]
	if !ok {
		return nil, ErrUnknownReference
	}
	copied := *r
	return &copied, nil
}

// HandleWebhook is not supported: manual payments have no provider callbacks
func (m *Manual) HandleWebhook(context.Context, http.Header, []byte) (*Event, error) {
	return nil, ErrUnsupported
}
