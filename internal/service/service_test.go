package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/crypto"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/database/models"
	"github.com/robcowart/certseal/internal/document"
	"github.com/robcowart/certseal/internal/metrics"
)

var testKDF = crypto.KDFParams{N: 1 << 10, R: 8, P: 1}

var testRetryPolicy = RetryPolicy{
	MaxTries:   3,
	NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count(op, outcome string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Operation == op && e.Outcome == outcome {
			n++
		}
	}
	return n
}

type stubRenderer struct {
	err error
}

func (r *stubRenderer) Render(d *document.Data) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-stub " + d.CertificateNumber), nil
}

type testEnv struct {
	cfg      *config.Config
	db       *database.Database
	cipher   *crypto.Cipher
	store    *document.LocalStore
	storeDir string
	sink     *recordingSink
	metrics  *metrics.Metrics
	clock    *testClock
	certs    *CertificateService
	verifier *VerificationService
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLite.Path = t.TempDir() + "/test.db"
	cfg.Crypto.CertificateValidity = 365 * 24 * time.Hour
	cfg.Secrets = config.SecretsConfig{
		QRKey:       "qr-key-0123456789abcdef0123456789abcdef",
		DataKey:     "data-key-0123456789abcdef0123456789abcdef",
		DocumentKey: "document-key-0123456789abcdef0123456789",
		SigningKey:  "signing-key-0123456789abcdef0123456789ab",
	}
	cfg.Verification.BaseURL = "https://certs.example.com"
	cfg.Verification.Workers = 2
	return cfg
}

func newTestEnv(t *testing.T, renderer document.Renderer) *testEnv {
	t.Helper()
	cfg := testConfig(t)

	db, err := database.New(cfg)
	require.NoError(t, err, "Failed to create test database")
	require.NoError(t, db.Migrate(), "Failed to run migrations")
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.NewCipher(testKDF)
	require.NoError(t, err)

	storeDir := t.TempDir()
	store, err := document.NewLocalStore(storeDir)
	require.NoError(t, err)

	if renderer == nil {
		renderer = &stubRenderer{}
	}

	env := &testEnv{
		cfg:      cfg,
		db:       db,
		cipher:   cipher,
		store:    store,
		storeDir: storeDir,
		sink:     &recordingSink{},
		metrics:  metrics.New(),
		clock:    &testClock{now: time.Date(2025, 3, 14, 9, 26, 53, 589_793_238, time.UTC)},
	}
	logger := zaptest.NewLogger(t)
	env.certs = NewCertificateService(db, cipher, renderer, store, cfg, env.sink, env.metrics, logger)
	env.certs.now = env.clock.Now
	env.verifier = NewVerificationService(db, cipher, cfg, env.sink, env.metrics, logger)
	env.verifier.now = env.clock.Now
	return env
}

// seedTransaction creates a service, two parties and a transaction
func (env *testEnv) seedTransaction(t *testing.T, txID, cents int64, status string) {
	t.Helper()
	ctx := context.Background()
	now := env.clock.Now()

	svc := &models.Service{ID: uuid.New().String(), Name: "Penetration Test", Description: "External network assessment", CreatedAt: now}
	require.NoError(t, env.db.CreateService(ctx, svc))

	buyer := &models.Profile{ID: uuid.New().String(), DisplayName: "Alice Buyer", Organization: "Acme Corp", CreatedAt: now}
	require.NoError(t, env.db.CreateProfile(ctx, buyer))

	seller := &models.Profile{ID: uuid.New().String(), DisplayName: "Bob Seller", Organization: "Redteam Ltd", CreatedAt: now}
	require.NoError(t, env.db.CreateProfile(ctx, seller))

	tx := &models.Transaction{
		ID:              txID,
		ServiceID:       svc.ID,
		BuyerID:         buyer.ID,
		SellerID:        seller.ID,
		TotalPriceCents: cents,
		CommissionCents: cents / 10,
		Currency:        "USD",
		Status:          status,
		CreatedAt:       now,
	}
	if status == models.TransactionCompleted {
		tx.CompletedAt = sql.NullTime{Time: now, Valid: true}
	}
	require.NoError(t, env.db.CreateTransaction(ctx, tx))
}

func (env *testEnv) issue(t *testing.T, txID int64) *models.Certificate {
	t.Helper()
	env.seedTransaction(t, txID, 10000, models.TransactionCompleted)
	res, err := env.certs.Issue(context.Background(), txID)
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Certificate
}

var errRender = errors.New("font not found")
