package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robcowart/certseal/internal/auth"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/database/models"
	"github.com/robcowart/certseal/internal/service"
)

const testDocumentKey = "document-key-0123456789abcdef0123456789"

// writeConfig writes a sqlite + local storage configuration into a temp dir
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`database:
  type: sqlite
  sqlite:
    path: %s
storage:
  type: local
  local:
    path: %s
crypto:
  scrypt_n: 1024
jwt:
  secret: jwt-secret-0123456789abcdef0123456789abcd
secrets:
  qr_key: qr-key-0123456789abcdef0123456789abcdef
  data_key: data-key-0123456789abcdef0123456789abcdef
  document_key: %s
  signing_key: signing-key-0123456789abcdef0123456789ab
verification:
  base_url: https://certs.example.com
`, filepath.Join(dir, "certseal.db"), filepath.Join(dir, "documents"), testDocumentKey)

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cli := &CLI{Stdin: strings.NewReader(stdin), Stdout: &stdout, Stderr: &stderr}
	err := cli.Run(context.Background(), args...)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func seedCompletedTransaction(t *testing.T, configPath string, txID int64) {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.Load(configPath, nil)
	require.NoError(t, err)
	db, err := database.New(cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	now := time.Now().UTC()
	svc := &models.Service{ID: uuid.New().String(), Name: "Code Review", CreatedAt: now}
	require.NoError(t, db.CreateService(ctx, svc))
	buyer := &models.Profile{ID: uuid.New().String(), DisplayName: "Alice Buyer", CreatedAt: now}
	require.NoError(t, db.CreateProfile(ctx, buyer))
	seller := &models.Profile{ID: uuid.New().String(), DisplayName: "Bob Seller", CreatedAt: now}
	require.NoError(t, db.CreateProfile(ctx, seller))

	require.NoError(t, db.CreateTransaction(ctx, &models.Transaction{
		ID:              txID,
		ServiceID:       svc.ID,
		BuyerID:         buyer.ID,
		SellerID:        seller.ID,
		TotalPriceCents: 4999,
		CommissionCents: 500,
		Currency:        "EUR",
		Status:          models.TransactionCompleted,
		CreatedAt:       now,
		CompletedAt:     sql.NullTime{Time: now, Valid: true},
	}))
}

func qrToken(t *testing.T, configPath, certID string) string {
	t.Helper()
	cfg, err := config.Load(configPath, nil)
	require.NoError(t, err)
	db, err := database.New(cfg)
	require.NoError(t, err)
	defer db.Close()

	cert, err := db.GetCertificate(context.Background(), certID)
	require.NoError(t, err)
	return cert.QRPayloadCiphertext
}

func TestGenkey(t *testing.T) {
	r := run(t, "", "genkey", "--count", "3")
	require.NoError(t, r.err)

	lines := strings.Fields(r.stdout)
	require.Len(t, lines, 3)
	seen := map[string]bool{}
	for _, line := range lines {
		raw, err := base64.StdEncoding.DecodeString(line)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
		assert.GreaterOrEqual(t, len(line), config.MinSecretLength)
		assert.False(t, seen[line])
		seen[line] = true
	}

	assert.Error(t, run(t, "", "genkey", "--count", "0").err)
}

func TestHashPassword(t *testing.T) {
	t.Run("Strong password", func(t *testing.T) {
		r := run(t, "correct-horse-42\n", "hash-password", "--username", "alice")
		require.NoError(t, r.err)

		hash := strings.TrimSpace(r.stdout)
		assert.True(t, strings.HasPrefix(hash, "$2a$"))
		assert.NoError(t, auth.VerifyPassword("correct-horse-42", hash))
	})

	t.Run("Weak password", func(t *testing.T) {
		r := run(t, "short1\n", "hash-password")
		assert.Error(t, r.err)
		assert.Empty(t, r.stdout)
	})

	t.Run("Empty stdin", func(t *testing.T) {
		assert.Error(t, run(t, "", "hash-password").err)
	})
}

func TestToken(t *testing.T) {
	configPath := writeConfig(t)

	r := run(t, "", "--config", configPath, "token", "--username", "ci", "--role", auth.RoleAdmin)
	require.NoError(t, r.err)

	claims, err := auth.ValidateToken(strings.TrimSpace(r.stdout), "jwt-secret-0123456789abcdef0123456789abcd", "certseal")
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Username)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	assert.Error(t, run(t, "", "--config", configPath, "token", "--username", "ci", "--role", "root").err)
	assert.Error(t, run(t, "", "--config", configPath, "token").err)
}

func TestCertificateCommands(t *testing.T) {
	configPath := writeConfig(t)

	r := run(t, "", "--config", configPath, "migrate")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "up to date")

	seedCompletedTransaction(t, configPath, 5)

	r = run(t, "", "--config", configPath, "issue", "5")
	require.NoError(t, r.err, r.stderr)
	var issued service.IssueResult
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &issued))
	assert.True(t, issued.Created)
	assert.Equal(t, "CERT-0005", issued.Certificate.CertificateNumber)

	r = run(t, "", "--config", configPath, "issue", "5")
	require.NoError(t, r.err)
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &issued))
	assert.False(t, issued.Created)

	token := qrToken(t, configPath, issued.Certificate.ID)

	verify := func() service.VerificationResult {
		r := run(t, "", "--config", configPath, "verify", token)
		require.NoError(t, r.err, r.stderr)
		var v service.VerificationResult
		require.NoError(t, json.Unmarshal([]byte(r.stdout), &v))
		return v
	}

	v := verify()
	assert.Equal(t, service.StatusValid, v.Status)
	assert.Equal(t, "Transaction #5: 49.99 EUR", v.TransactionSummary)

	t.Run("Rotate documents", func(t *testing.T) {
		newKey := "rotated-document-key-0123456789abcdef01"

		r := run(t, "", "--config", configPath, "rotate", "--kind", "document", "--old-key", testDocumentKey, "--new-key", newKey)
		require.NoError(t, r.err, r.stderr)
		var report service.RotationReport
		require.NoError(t, json.Unmarshal([]byte(r.stdout), &report))
		assert.Equal(t, service.RotationReport{Kind: service.RotationDocuments, Total: 1, Rotated: 1}, report)

		r = run(t, "", "--config", configPath, "rotate", "--kind", "document", "--old-key", testDocumentKey, "--new-key", newKey)
		require.NoError(t, r.err, r.stderr)
		require.NoError(t, json.Unmarshal([]byte(r.stdout), &report))
		assert.Equal(t, 1, report.Skipped)

		assert.Error(t, run(t, "", "--config", configPath, "rotate", "--kind", "qr", "--old-key", "a", "--new-key", "b").err)
		assert.Error(t, run(t, "", "--config", configPath, "rotate", "--old-key", newKey, "--new-key", newKey).err)
	})

	t.Run("Suspend then revoke", func(t *testing.T) {
		r := run(t, "", "--config", configPath, "suspend", issued.Certificate.ID, "--reason", "dispute")
		require.NoError(t, r.err, r.stderr)
		assert.Equal(t, service.StatusSuspended, verify().Status)

		r = run(t, "", "--config", configPath, "revoke", issued.Certificate.ID, "--reason", "refund")
		require.NoError(t, r.err, r.stderr)
		assert.Contains(t, r.stdout, `"revocation_reason": "refund"`)
		assert.Equal(t, service.StatusRevoked, verify().Status)

		r = run(t, "", "--config", configPath, "suspend", issued.Certificate.ID)
		assert.ErrorIs(t, r.err, service.ErrInvalidTransition)
	})

	t.Run("Bad arguments", func(t *testing.T) {
		assert.Error(t, run(t, "", "--config", configPath, "issue", "abc").err)
		assert.Error(t, run(t, "", "--config", configPath, "issue").err)

		r := run(t, "", "--config", configPath, "issue", "404")
		assert.ErrorIs(t, r.err, service.ErrTransactionNotFound)
	})
}
