package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/database/models"
	"github.com/robcowart/certseal/internal/gateway"
)

const testWebhookSecret = "webhook-secret-0123456789abcdef012345"

func newTestPayments(t *testing.T, env *testEnv) (*PaymentService, *gateway.SignedWebhook) {
	t.Helper()
	webhook, err := gateway.NewSignedWebhook(config.GatewaysConfig{WebhookSecret: testWebhookSecret})
	require.NoError(t, err)

	payments := NewPaymentService(env.db, []gateway.Gateway{gateway.NewManual(), webhook}, env.certs, env.sink, zaptest.NewLogger(t))
	payments.retry = testRetryPolicy
	payments.now = env.clock.Now
	return payments, webhook
}

func webhookBody(t *testing.T, reference string, txID int64, status gateway.Status) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event":          "payment." + string(status),
		"reference":      reference,
		"transaction_id": txID,
		"status":         status,
	})
	require.NoError(t, err)
	return body
}

func TestPaymentService_Manual(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	payments, _ := newTestPayments(t, env)
	env.seedTransaction(t, 42, 10000, models.TransactionPending)

	started, err := payments.Initiate(ctx, gateway.ManualProvider, 42)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, started.Status)

	tx, err := env.db.GetTransaction(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, gateway.ManualProvider, tx.Gateway.String)
	assert.Equal(t, started.Reference, tx.GatewayReference.String)

	settled, err := payments.Process(ctx, gateway.ManualProvider, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCompleted, settled.Status)
	require.NotNil(t, settled.Certificate)
	assert.True(t, settled.Certificate.Created)
	assert.Equal(t, "CERT-0042", settled.Certificate.Certificate.CertificateNumber)

	tx, err = env.db.GetTransaction(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, tx.Status)

	md, err := env.certs.Metadata(ctx, settled.Certificate.Certificate.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.ManualProvider, md.Gateway)
	assert.Equal(t, started.Reference, md.GatewayReference)
	assert.Equal(t, 1, env.sink.count(audit.OpComplete, audit.OutcomeSuccess))

	t.Run("Settled transactions cannot be initiated again", func(t *testing.T) {
		_, err := payments.Initiate(ctx, gateway.ManualProvider, 42)
		assert.ErrorIs(t, err, ErrTransactionNotPending)
	})

	t.Run("Unknown transaction", func(t *testing.T) {
		_, err := payments.Initiate(ctx, gateway.ManualProvider, 404)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})

	t.Run("Unknown provider", func(t *testing.T) {
		_, err := payments.Initiate(ctx, "paypal", 42)
		assert.ErrorIs(t, err, gateway.ErrUnknownProvider)
	})
}

func TestPaymentService_Webhook(t *testing.T) {
	ctx := context.Background()

	t.Run("Completed event issues once", func(t *testing.T) {
		env := newTestEnv(t, nil)
		payments, webhook := newTestPayments(t, env)
		env.seedTransaction(t, 43, 25000, models.TransactionPending)

		started, err := payments.Initiate(ctx, gateway.SignedWebhookProvider, 43)
		require.NoError(t, err)

		body := webhookBody(t, started.Reference, 43, gateway.StatusCompleted)
		header := http.Header{}
		header.Set(gateway.SignatureHeader, webhook.Sign(body))

		first, err := payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, body)
		require.NoError(t, err)
		require.NotNil(t, first.Certificate)
		assert.True(t, first.Certificate.Created)

		replay, err := payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, body)
		require.NoError(t, err)
		assert.False(t, replay.Certificate.Created)
		assert.Equal(t, first.Certificate.Certificate.ID, replay.Certificate.Certificate.ID)
		assert.Equal(t, 2, env.sink.count(audit.OpWebhook, audit.OutcomeSuccess))
	})

	t.Run("Failed event fails the transaction", func(t *testing.T) {
		env := newTestEnv(t, nil)
		payments, webhook := newTestPayments(t, env)
		env.seedTransaction(t, 44, 25000, models.TransactionPending)

		started, err := payments.Initiate(ctx, gateway.SignedWebhookProvider, 44)
		require.NoError(t, err)

		body := webhookBody(t, started.Reference, 44, gateway.StatusFailed)
		header := http.Header{}
		header.Set(gateway.SignatureHeader, webhook.Sign(body))

		result, err := payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, body)
		require.NoError(t, err)
		assert.Nil(t, result.Certificate)

		tx, err := env.db.GetTransaction(ctx, 44)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionFailed, tx.Status)

		completed := webhookBody(t, started.Reference, 44, gateway.StatusCompleted)
		header.Set(gateway.SignatureHeader, webhook.Sign(completed))
		_, err = payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, completed)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)

		_, err = env.db.GetCertificateByTransaction(ctx, 44)
		assert.Error(t, err)
	})

	t.Run("Bad signature", func(t *testing.T) {
		env := newTestEnv(t, nil)
		payments, _ := newTestPayments(t, env)

		body := webhookBody(t, "ref", 1, gateway.StatusCompleted)
		header := http.Header{}
		header.Set(gateway.SignatureHeader, "sha256=00")

		_, err := payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, body)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
		assert.Equal(t, 1, env.sink.count(audit.OpWebhook, audit.OutcomeFailure))
	})

	t.Run("Reference for another transaction", func(t *testing.T) {
		env := newTestEnv(t, nil)
		payments, webhook := newTestPayments(t, env)
		env.seedTransaction(t, 45, 25000, models.TransactionPending)
		env.seedTransaction(t, 46, 25000, models.TransactionPending)

		started, err := payments.Initiate(ctx, gateway.SignedWebhookProvider, 45)
		require.NoError(t, err)

		body := webhookBody(t, started.Reference, 46, gateway.StatusCompleted)
		header := http.Header{}
		header.Set(gateway.SignatureHeader, webhook.Sign(body))

		_, err = payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, body)
		assert.ErrorIs(t, err, gateway.ErrUnknownReference)

		tx, err := env.db.GetTransaction(ctx, 46)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionPending, tx.Status)
	})

	t.Run("Unknown reference", func(t *testing.T) {
		env := newTestEnv(t, nil)
		payments, webhook := newTestPayments(t, env)

		body := webhookBody(t, "never-issued", 1, gateway.StatusCompleted)
		header := http.Header{}
		header.Set(gateway.SignatureHeader, webhook.Sign(body))

		_, err := payments.HandleWebhook(ctx, gateway.SignedWebhookProvider, header, body)
		assert.ErrorIs(t, err, gateway.ErrUnknownReference)
	})

	t.Run("Manual gateway has no webhooks", func(t *testing.T) {
		env := newTestEnv(t, nil)
		payments, _ := newTestPayments(t, env)

		_, err := payments.HandleWebhook(ctx, gateway.ManualProvider, http.Header{}, []byte("{}"))
		assert.ErrorIs(t, err, gateway.ErrUnsupported)
	})
}
