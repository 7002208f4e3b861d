// Package database provides database connection management, migrations, and data access methods for certseal.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/database/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrDuplicate is returned when an insert violates a uniqueness constraint
	ErrDuplicate = errors.New("duplicate record")
	// ErrStatusConflict is returned when a conditional status update matched no row in an allowed state
	ErrStatusConflict = errors.New("certificate is not in an allowed state")
	// ErrTransactionState is returned when a transaction cannot move to the requested status
	ErrTransactionState = errors.New("transaction is not in an allowed state")
)

// Database represents the database connection and operations
type Database struct {
	db     *sql.DB
	dbType string
}

// New creates a new database connection
func New(cfg *config.Config) (*Database, error) {
	var db *sql.DB
	var err error

	switch cfg.Database.Type {
	case "sqlite":
		db, err = sql.Open("sqlite3", cfg.Database.SQLite.Path+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// SQLite only allows one writer at a time
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sql.Open("postgres", cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		db:     db,
		dbType: cfg.Database.Type,
	}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	var migrationFiles []string
	if d.dbType == "postgres" {
		migrationFiles = []string{"migrations/000001_init_schema.postgres.up.sql"}
	} else {
		migrationFiles = []string{"migrations/000001_init_schema.up.sql"}
	}

	for _, migrationFile := range migrationFiles {
		content, err := migrationsFS.ReadFile(migrationFile)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", migrationFile, err)
		}

		for _, stmt := range splitStatements(string(content)) {
			if _, err := d.db.Exec(stmt); err != nil {
				if !strings.Contains(err.Error(), "already exists") {
					return fmt.Errorf("migration %s failed: %w\nStatement: %s", migrationFile, err, stmt)
				}
			}
		}
	}

	return nil
}

// splitStatements drops comment lines and splits a migration into statements
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "--") || line == "" {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}
	return statements
}

// DB returns the underlying database connection for direct queries
func (d *Database) DB() *sql.DB {
	return d.db
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (d *Database) rebind(query string) string {
	if d.dbType != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation reports whether err is a uniqueness violation from either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Service and profile operations

// CreateService creates a new marketplace service
func (d *Database) CreateService(ctx context.Context, svc *models.Service) error {
	query := d.rebind(`INSERT INTO marketplace_services (id, name, description, created_at) VALUES (?, ?, ?, ?)`)

	_, err := d.db.ExecContext(ctx, query, svc.ID, svc.Name, svc.Description, svc.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// CreateProfile creates a new buyer or seller profile
func (d *Database) CreateProfile(ctx context.Context, p *models.Profile) error {
	query := d.rebind(`INSERT INTO profiles (id, display_name, organization, email, created_at) VALUES (?, ?, ?, ?, ?)`)

	_, err := d.db.ExecContext(ctx, query, p.ID, p.DisplayName, p.Organization, p.Email, p.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Transaction operations

const transactionColumns = `t.id, t.service_id, t.buyer_id, t.seller_id, t.total_price_cents, t.commission_cents,
	t.currency, t.status, t.gateway, t.gateway_reference, t.created_at, t.completed_at`

func scanTransactionInto(tx *models.Transaction) []any {
	return []any{
		&tx.ID, &tx.ServiceID, &tx.BuyerID, &tx.SellerID, &tx.TotalPriceCents, &tx.CommissionCents,
		&tx.Currency, &tx.Status, &tx.Gateway, &tx.GatewayReference, &tx.CreatedAt, &tx.CompletedAt,
	}
}

func normalizeTransaction(tx *models.Transaction) {
	tx.CreatedAt = tx.CreatedAt.UTC()
	if tx.CompletedAt.Valid {
		tx.CompletedAt.Time = tx.CompletedAt.Time.UTC()
	}
}

// CreateTransaction creates a new transaction
func (d *Database) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := d.rebind(`INSERT INTO transactions
	          (id, service_id, buyer_id, seller_id, total_price_cents, commission_cents, currency,
	           status, gateway, gateway_reference, created_at, completed_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	completedAt := tx.CompletedAt
	if completedAt.Valid {
		completedAt.Time = completedAt.Time.UTC()
	}

	_, err := d.db.ExecContext(ctx, query,
		tx.ID, tx.ServiceID, tx.BuyerID, tx.SellerID, tx.TotalPriceCents, tx.CommissionCents, tx.Currency,
		tx.Status, tx.Gateway, tx.GatewayReference, tx.CreatedAt.UTC(), completedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetTransaction retrieves a transaction by ID
func (d *Database) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	query := d.rebind(`SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = ?`)

	var tx models.Transaction
	if err := d.db.QueryRowContext(ctx, query, id).Scan(scanTransactionInto(&tx)...); err != nil {
		return nil, err
	}
	normalizeTransaction(&tx)
	return &tx, nil
}

// GetTransactionByReference retrieves a transaction by its gateway reference
func (d *Database) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	query := d.rebind(`SELECT ` + transactionColumns + ` FROM transactions t WHERE t.gateway_reference = ?`)

	var tx models.Transaction
	if err := d.db.QueryRowContext(ctx, query, reference).Scan(scanTransactionInto(&tx)...); err != nil {
		return nil, err
	}
	normalizeTransaction(&tx)
	return &tx, nil
}

// SetTransactionGateway records the gateway and reference a pending transaction was initiated with
func (d *Database) SetTransactionGateway(ctx context.Context, id int64, gateway, reference string) error {
	query := d.rebind(`UPDATE transactions SET gateway = ?, gateway_reference = ? WHERE id = ? AND status = ?`)

	res, err := d.db.ExecContext(ctx, query, gateway, reference, id, models.TransactionPending)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return requireRow(res)
}

// CompleteTransaction marks a pending transaction completed. Completing an
// already completed transaction is a no-op.
func (d *Database) CompleteTransaction(ctx context.Context, id int64, at time.Time) error {
	query := d.rebind(`UPDATE transactions SET status = ?, completed_at = ? WHERE id = ? AND status = ?`)

	res, err := d.db.ExecContext(ctx, query, models.TransactionCompleted, at.UTC(), id, models.TransactionPending)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	tx, err := d.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status != models.TransactionCompleted {
		return fmt.Errorf("%w: transaction %d is %s", ErrTransactionState, id, tx.Status)
	}
	return nil
}

// FailTransaction marks a pending transaction failed. Failing an already
// failed transaction is a no-op.
func (d *Database) FailTransaction(ctx context.Context, id int64) error {
	query := d.rebind(`UPDATE transactions SET status = ? WHERE id = ? AND status = ?`)

	res, err := d.db.ExecContext(ctx, query, models.TransactionFailed, id, models.TransactionPending)
	if err != nil {
		return err
	}
	if err := requireRow(res); !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	tx, err := d.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status != models.TransactionFailed {
		return fmt.Errorf("%w: transaction %d is %s", ErrTransactionState, id, tx.Status)
	}
	return nil
}

const issuanceJoin = `FROM transactions t
	JOIN marketplace_services s ON s.id = t.service_id
	JOIN profiles b ON b.id = t.buyer_id
	JOIN profiles sl ON sl.id = t.seller_id`

const issuanceColumns = transactionColumns + `,
	s.id, s.name, s.description, s.created_at,
	b.id, b.display_name, b.organization, b.email, b.created_at,
	sl.id, sl.display_name, sl.organization, sl.email, sl.created_at`

func scanIssuanceInto(data *models.IssuanceData) []any {
	dest := scanTransactionInto(&data.Transaction)
	return append(dest,
		&data.Service.ID, &data.Service.Name, &data.Service.Description, &data.Service.CreatedAt,
		&data.Buyer.ID, &data.Buyer.DisplayName, &data.Buyer.Organization, &data.Buyer.Email, &data.Buyer.CreatedAt,
		&data.Seller.ID, &data.Seller.DisplayName, &data.Seller.Organization, &data.Seller.Email, &data.Seller.CreatedAt,
	)
}

func normalizeIssuance(data *models.IssuanceData) {
	normalizeTransaction(&data.Transaction)
	data.Service.CreatedAt = data.Service.CreatedAt.UTC()
	data.Buyer.CreatedAt = data.Buyer.CreatedAt.UTC()
	data.Seller.CreatedAt = data.Seller.CreatedAt.UTC()
}

// GetIssuanceData retrieves a transaction joined with its service and both parties
func (d *Database) GetIssuanceData(ctx context.Context, txID int64) (*models.IssuanceData, error) {
	query := d.rebind(`SELECT ` + issuanceColumns + ` ` + issuanceJoin + ` WHERE t.id = ?`)

	var data models.IssuanceData
	if err := d.db.QueryRowContext(ctx, query, txID).Scan(scanIssuanceInto(&data)...); err != nil {
		return nil, err
	}
	normalizeIssuance(&data)
	return &data, nil
}

// Certificate operations

const certificateColumns = `c.id, c.certificate_number, c.transaction_id, c.qr_payload_ciphertext,
	c.encrypted_document_path, c.document_hash, c.verification_hash, c.signature, c.status,
	c.issued_at, c.expires_at, c.revoked_at, c.revocation_reason, c.suspended_at,
	c.metadata_ciphertext, c.created_at, c.updated_at`

func scanCertificateInto(cert *models.Certificate) []any {
	return []any{
		&cert.ID, &cert.CertificateNumber, &cert.TransactionID, &cert.QRPayloadCiphertext,
		&cert.EncryptedDocumentPath, &cert.DocumentHash, &cert.VerificationHash, &cert.Signature, &cert.Status,
		&cert.IssuedAt, &cert.ExpiresAt, &cert.RevokedAt, &cert.RevocationReason, &cert.SuspendedAt,
		&cert.MetadataCiphertext, &cert.CreatedAt, &cert.UpdatedAt,
	}
}

func normalizeCertificate(cert *models.Certificate) {
	cert.IssuedAt = cert.IssuedAt.UTC()
	cert.ExpiresAt = cert.ExpiresAt.UTC()
	cert.CreatedAt = cert.CreatedAt.UTC()
	cert.UpdatedAt = cert.UpdatedAt.UTC()
	if cert.RevokedAt.Valid {
		cert.RevokedAt.Time = cert.RevokedAt.Time.UTC()
	}
	if cert.SuspendedAt.Valid {
		cert.SuspendedAt.Time = cert.SuspendedAt.Time.UTC()
	}
}

func (d *Database) getCertificateWhere(ctx context.Context, where string, arg any) (*models.Certificate, error) {
	query := d.rebind(`SELECT ` + certificateColumns + ` FROM certificates c WHERE ` + where)

	var cert models.Certificate
	if err := d.db.QueryRowContext(ctx, query, arg).Scan(scanCertificateInto(&cert)...); err != nil {
		return nil, err
	}
	normalizeCertificate(&cert)
	return &cert, nil
}

// CreateCertificate inserts a certificate. A second certificate for the same
// transaction or number fails with ErrDuplicate.
func (d *Database) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	query := d.rebind(`INSERT INTO certificates
	          (id, certificate_number, transaction_id, qr_payload_ciphertext, encrypted_document_path,
	           document_hash, verification_hash, signature, status, issued_at, expires_at,
	           revoked_at, revocation_reason, suspended_at, metadata_ciphertext, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := d.db.ExecContext(ctx, query,
		cert.ID, cert.CertificateNumber, cert.TransactionID, cert.QRPayloadCiphertext, cert.EncryptedDocumentPath,
		cert.DocumentHash, cert.VerificationHash, cert.Signature, cert.Status, cert.IssuedAt.UTC(), cert.ExpiresAt.UTC(),
		cert.RevokedAt, cert.RevocationReason, cert.SuspendedAt, cert.MetadataCiphertext,
		cert.CreatedAt.UTC(), cert.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetCertificate retrieves a certificate by ID
func (d *Database) GetCertificate(ctx context.Context, id string) (*models.Certificate, error) {
	return d.getCertificateWhere(ctx, `c.id = ?`, id)
}

// GetCertificateByNumber retrieves a certificate by its public certificate number
func (d *Database) GetCertificateByNumber(ctx context.Context, number string) (*models.Certificate, error) {
	return d.getCertificateWhere(ctx, `c.certificate_number = ?`, number)
}

// GetCertificateByTransaction retrieves the certificate issued for a transaction
func (d *Database) GetCertificateByTransaction(ctx context.Context, txID int64) (*models.Certificate, error) {
	return d.getCertificateWhere(ctx, `c.transaction_id = ?`, txID)
}

// GetCertificateRecordByNumber retrieves a certificate joined with its
// transaction, service, buyer and seller by certificate number
func (d *Database) GetCertificateRecordByNumber(ctx context.Context, number string) (*models.CertificateRecord, error) {
	query := d.rebind(`SELECT ` + certificateColumns + `, ` + issuanceColumns + `
	          ` + issuanceJoin + `
	          JOIN certificates c ON c.transaction_id = t.id
	          WHERE c.certificate_number = ?`)

	var rec models.CertificateRecord
	dest := append(scanCertificateInto(&rec.Certificate), scanIssuanceInto(&rec.IssuanceData)...)
	if err := d.db.QueryRowContext(ctx, query, number).Scan(dest...); err != nil {
		return nil, err
	}
	normalizeCertificate(&rec.Certificate)
	normalizeIssuance(&rec.IssuanceData)
	return &rec, nil
}

// ListCertificates retrieves certificates, newest first. A limit of zero returns all rows.
func (d *Database) ListCertificates(ctx context.Context, limit, offset int) ([]*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates c ORDER BY c.issued_at DESC, c.certificate_number DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certificates []*models.Certificate
	for rows.Next() {
		var cert models.Certificate
		if err := rows.Scan(scanCertificateInto(&cert)...); err != nil {
			return nil, err
		}
		normalizeCertificate(&cert)
		certificates = append(certificates, &cert)
	}

	return certificates, rows.Err()
}

// UpdateCertificateStatus moves a certificate to status `to` if its current
// status is one of allowedFrom. It returns sql.ErrNoRows if the certificate
// does not exist and ErrStatusConflict if it is in any other state.
func (d *Database) UpdateCertificateStatus(ctx context.Context, id, to string, allowedFrom []string, reason string, at time.Time) error {
	if len(allowedFrom) == 0 {
		return fmt.Errorf("no allowed source states for %s", to)
	}

	var set string
	switch to {
	case models.StatusRevoked:
		set = `status = ?, revoked_at = ?, revocation_reason = ?, updated_at = ?`
	case models.StatusSuspended:
		set = `status = ?, suspended_at = ?, revocation_reason = ?, updated_at = ?`
	default:
		return fmt.Errorf("unsupported target status: %s", to)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(allowedFrom)), ", ")
	query := d.rebind(`UPDATE certificates SET ` + set + ` WHERE id = ? AND status IN (` + placeholders + `)`)

	at = at.UTC()
	args := []any{to, at, sql.NullString{String: reason, Valid: reason != ""}, at, id}
	for _, s := range allowedFrom {
		args = append(args, s)
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	if _, err := d.GetCertificate(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// UpdateDocumentPath points a certificate at a new encrypted document object
func (d *Database) UpdateDocumentPath(ctx context.Context, id, path string) error {
	query := d.rebind(`UPDATE certificates SET encrypted_document_path = ?, updated_at = ? WHERE id = ?`)

	res, err := d.db.ExecContext(ctx, query, path, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateMetadataCiphertext replaces the encrypted metadata of a certificate
func (d *Database) UpdateMetadataCiphertext(ctx context.Context, id, ciphertext string) error {
	query := d.rebind(`UPDATE certificates SET metadata_ciphertext = ?, updated_at = ? WHERE id = ?`)

	res, err := d.db.ExecContext(ctx, query, sql.NullString{String: ciphertext, Valid: ciphertext != ""}, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
