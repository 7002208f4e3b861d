package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robcowart/certseal/internal/config"
)

const (
	// SignedWebhookProvider identifies the HMAC-signed callback gateway
	SignedWebhookProvider = "signed-webhook"
	// SignatureHeader carries "sha256=<hex HMAC of the body>"
	SignatureHeader = "X-Signature"

	signaturePrefix = "sha256="
)

// SignedWebhook settles payments through HMAC-SHA256 signed callbacks. The
// provider is asked for status over HTTP when a status URL is configured.
type SignedWebhook struct {
	secret    []byte
	statusURL string
	client    *http.Client
}

// NewSignedWebhook creates a signed webhook gateway
func NewSignedWebhook(cfg config.GatewaysConfig) (*SignedWebhook, error) {
	if len(cfg.WebhookSecret) < config.MinSecretLength {
		return nil, fmt.Errorf("webhook secret must be at least %d characters", config.MinSecretLength)
	}
	return &SignedWebhook{
		secret:    []byte(cfg.WebhookSecret),
		statusURL: strings.TrimRight(cfg.StatusURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name returns the provider identifier
func (g *SignedWebhook) Name() string {
	return SignedWebhookProvider
}

// Initiate allocates a reference; the provider reports settlement by webhook
func (g *SignedWebhook) Initiate(_ context.Context, p Payment) (*Result, error) {
	if p.AmountCents <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %d", p.AmountCents)
	}
	return &Result{
		Provider:      SignedWebhookProvider,
		Reference:     uuid.New().String(),
		TransactionID: p.TransactionID,
		Status:        StatusPending,
	}, nil
}

// Process is not supported: settlement only arrives through webhooks
func (g *SignedWebhook) Process(context.Context, string) (*Result, error) {
	return nil, ErrUnsupported
}

// CheckStatus queries the provider's status endpoint
func (g *SignedWebhook) CheckStatus(ctx context.Context, reference string) (*Result, error) {
	if g.statusURL == "" {
		return nil, ErrUnsupported
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.statusURL+"/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrUnknownReference
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status request returned %d", resp.StatusCode)
	}

	var body struct {
		TransactionID int64  `json:"transaction_id"`
		Status        Status `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}

	return &Result{
		Provider:      SignedWebhookProvider,
		Reference:     reference,
		TransactionID: body.TransactionID,
		Status:        body.Status,
	}, nil
}

// HandleWebhook verifies the body signature and parses the event
func (g *SignedWebhook) HandleWebhook(_ context.Context, header http.Header, body []byte) (*Event, error) {
	if !g.verify(header.Get(SignatureHeader), body) {
		return nil, ErrInvalidSignature
	}

	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	if e.Reference == "" || e.TransactionID <= 0 {
		return nil, fmt.Errorf("webhook is missing reference or transaction id")
	}
	switch e.Status {
	case StatusPending, StatusCompleted, StatusFailed:
	default:
		return nil, fmt.Errorf("unknown payment status %q", e.Status)
	}

	e.Provider = SignedWebhookProvider
	return &e, nil
}

// Sign returns the signature header value for body
func (g *SignedWebhook) Sign(body []byte) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func (g *SignedWebhook) verify(signature string, body []byte) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
