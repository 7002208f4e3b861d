// Package config provides configuration management for the certseal service.
// It handles loading configuration from YAML files, applying environment variable
// overrides, applying command line flag overrides, and validating configuration
// values for server, database, JWT, crypto, secrets, storage, verification,
// logging, and security settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinSecretLength is the minimum accepted length of each long-term secret
const MinSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	JWT          JWTConfig          `yaml:"jwt"`
	Crypto       CryptoConfig       `yaml:"crypto"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	Storage      StorageConfig      `yaml:"storage"`
	Verification VerificationConfig `yaml:"verification"`
	Gateways     GatewaysConfig     `yaml:"gateways"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Operators    []OperatorConfig   `yaml:"operators"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	TLSCert      string        `yaml:"tls_cert"`
	TLSKey       string        `yaml:"tls_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// JWTConfig holds operator token configuration
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Expiration time.Duration `yaml:"expiration"`
	Issuer     string        `yaml:"issuer"`
}

// CryptoConfig holds certificate and key-derivation defaults
type CryptoConfig struct {
	CertificateValidity time.Duration `yaml:"certificate_validity"`
	ScryptN             int           `yaml:"scrypt_n"`
	ScryptR             int           `yaml:"scrypt_r"`
	ScryptP             int           `yaml:"scrypt_p"`
}

// SecretsConfig holds the long-term secrets. Each one is independently rotatable
// and none of them has a default value.
type SecretsConfig struct {
	QRKey       string `yaml:"qr_key"`
	DataKey     string `yaml:"data_key"`
	DocumentKey string `yaml:"document_key"`
	SigningKey  string `yaml:"signing_key"`
}

// StorageConfig holds encrypted document storage configuration
type StorageConfig struct {
	Type  string       `yaml:"type"`
	Local LocalStorage `yaml:"local"`
	S3    S3Storage    `yaml:"s3"`
}

// LocalStorage holds filesystem storage configuration
type LocalStorage struct {
	Path string `yaml:"path"`
}

// S3Storage holds S3-compatible object storage configuration
type S3Storage struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// VerificationConfig holds public verification settings
type VerificationConfig struct {
	BaseURL string `yaml:"base_url"`
	Workers int    `yaml:"workers"`
	// Issuer is the name printed on certificate documents
	Issuer string `yaml:"issuer"`
}

// GatewaysConfig holds payment gateway settings
type GatewaysConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	StatusURL     string `yaml:"status_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// OperatorConfig is an operator account allowed to log in to the API
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSEnabled bool     `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Default returns a configuration populated with default values.
// Secrets are intentionally left empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/certseal.db",
			},
			Postgres: PostgresConfig{
				Port:         5432,
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		JWT: JWTConfig{
			Expiration: 24 * time.Hour,
			Issuer:     "certseal",
		},
		Crypto: CryptoConfig{
			CertificateValidity: 8760 * time.Hour,
			ScryptN:             1 << 15,
			ScryptR:             8,
			ScryptP:             1,
		},
		Storage: StorageConfig{
			Type: "local",
			Local: LocalStorage{
				Path: "./data/documents",
			},
			S3: S3Storage{
				Region: "us-east-1",
			},
		},
		Verification: VerificationConfig{
			BaseURL: "http://localhost:8000",
			Workers: 4,
			Issuer:  "Certseal Marketplace",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, then applies environment variable and
// command line flag overrides. A missing configuration file is not an error;
// defaults are used instead. flags may be nil.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Existing environment variables always win over .env entries
	_ = godotenv.Load()

	cfg.applyEnvOverrides()

	if flags != nil {
		if err := cfg.applyFlagOverrides(flags); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	// Server overrides
	if port := os.Getenv("CERTSEAL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv("CERTSEAL_SERVER_HOST"); host != "" {
		c.Server.Host = host
	}

	// Database overrides
	if dbType := os.Getenv("CERTSEAL_DB_TYPE"); dbType != "" {
		c.Database.Type = dbType
	}
	if dbPath := os.Getenv("CERTSEAL_DB_SQLITE_PATH"); dbPath != "" {
		c.Database.SQLite.Path = dbPath
	}
	if pgHost := os.Getenv("CERTSEAL_DB_POSTGRES_HOST"); pgHost != "" {
		c.Database.Postgres.Host = pgHost
	}
	if pgPort := os.Getenv("CERTSEAL_DB_POSTGRES_PORT"); pgPort != "" {
		if p, err := strconv.Atoi(pgPort); err == nil {
			c.Database.Postgres.Port = p
		}
	}
	if pgDB := os.Getenv("CERTSEAL_DB_POSTGRES_DATABASE"); pgDB != "" {
		c.Database.Postgres.Database = pgDB
	}
	if pgUser := os.Getenv("CERTSEAL_DB_POSTGRES_USER"); pgUser != "" {
		c.Database.Postgres.User = pgUser
	}
	if pgPass := os.Getenv("CERTSEAL_DB_POSTGRES_PASSWORD"); pgPass != "" {
		c.Database.Postgres.Password = pgPass
	}

	// Secrets
	if v := os.Getenv("CERTSEAL_QR_KEY"); v != "" {
		c.Secrets.QRKey = v
	}
	if v := os.Getenv("CERTSEAL_DATA_KEY"); v != "" {
		c.Secrets.DataKey = v
	}
	if v := os.Getenv("CERTSEAL_DOCUMENT_KEY"); v != "" {
		c.Secrets.DocumentKey = v
	}
	if v := os.Getenv("CERTSEAL_SIGNING_KEY"); v != "" {
		c.Secrets.SigningKey = v
	}
	if v := os.Getenv("CERTSEAL_JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("CERTSEAL_GATEWAY_WEBHOOK_SECRET"); v != "" {
		c.Gateways.WebhookSecret = v
	}

	// Storage overrides
	if v := os.Getenv("CERTSEAL_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("CERTSEAL_STORAGE_S3_ACCESS_KEY"); v != "" {
		c.Storage.S3.AccessKey = v
	}
	if v := os.Getenv("CERTSEAL_STORAGE_S3_SECRET_KEY"); v != "" {
		c.Storage.S3.SecretKey = v
	}

	if v := os.Getenv("CERTSEAL_VERIFY_BASE_URL"); v != "" {
		c.Verification.BaseURL = v
	}

	// Logging overrides
	if logLevel := os.Getenv("CERTSEAL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// applyFlagOverrides applies explicitly set command line flags
func (c *Config) applyFlagOverrides(f *Flags) error {
	if v, ok := f.GetServerPort(); ok {
		c.Server.Port = v
	}
	if v, ok := f.GetServerHost(); ok {
		c.Server.Host = v
	}
	if v, ok := f.GetServerTLSEnabled(); ok {
		c.Server.TLSEnabled = v
	}
	if v, ok := f.GetServerTLSCert(); ok {
		c.Server.TLSCert = v
	}
	if v, ok := f.GetServerTLSKey(); ok {
		c.Server.TLSKey = v
	}
	if v, ok := f.GetDBType(); ok {
		c.Database.Type = v
	}
	if v, ok := f.GetDBSQLitePath(); ok {
		c.Database.SQLite.Path = v
	}
	if v, ok := f.GetDBPostgresHost(); ok {
		c.Database.Postgres.Host = v
	}
	if v, ok := f.GetDBPostgresDatabase(); ok {
		c.Database.Postgres.Database = v
	}
	if v, ok := f.GetStorageType(); ok {
		c.Storage.Type = v
	}
	if v, ok := f.GetStorageLocalPath(); ok {
		c.Storage.Local.Path = v
	}
	if v, ok := f.GetStorageS3Bucket(); ok {
		c.Storage.S3.Bucket = v
	}
	if v, ok := f.GetVerifyBaseURL(); ok {
		c.Verification.BaseURL = v
	}
	if v, ok := f.GetVerifyWorkers(); ok {
		c.Verification.Workers = v
	}
	if v, ok := f.GetCertificateValidity(); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid certificate validity %q: %w", v, err)
		}
		c.Crypto.CertificateValidity = d
	}
	if v, ok := f.GetLogLevel(); ok {
		c.Logging.Level = v
	}
	if v, ok := f.GetLogFormat(); ok {
		c.Logging.Format = v
	}
	if v, ok := f.GetSecurityCORSEnabled(); ok {
		c.Security.CORSEnabled = v
	}
	if v, ok := f.GetSecurityCORSOrigins(); ok {
		c.Security.CORSOrigins = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key not specified")
		}
	}

	// Validate database config
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database type: %s (must be 'sqlite' or 'postgres')", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("SQLite path not specified")
	}
	if c.Database.Type == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("PostgreSQL host and database must be specified")
		}
	}

	// Validate crypto config
	if c.Crypto.CertificateValidity <= 0 {
		return fmt.Errorf("certificate validity must be positive")
	}
	if c.Crypto.ScryptN < 1<<10 || c.Crypto.ScryptN&(c.Crypto.ScryptN-1) != 0 {
		return fmt.Errorf("scrypt N must be a power of two >= 1024, got %d", c.Crypto.ScryptN)
	}
	if c.Crypto.ScryptR < 1 || c.Crypto.ScryptP < 1 {
		return fmt.Errorf("scrypt r and p must be positive")
	}

	if err := c.Secrets.Validate(); err != nil {
		return err
	}
	if len(c.JWT.Secret) < MinSecretLength {
		return fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}

	// Validate storage config
	switch c.Storage.Type {
	case "local":
		if c.Storage.Local.Path == "" {
			return fmt.Errorf("local storage path not specified")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket not specified")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be 'local' or 's3')", c.Storage.Type)
	}

	if c.Verification.Workers < 1 {
		return fmt.Errorf("verification workers must be at least 1")
	}
	if !strings.HasPrefix(c.Verification.BaseURL, "http://") && !strings.HasPrefix(c.Verification.BaseURL, "https://") {
		return fmt.Errorf("invalid verification base URL: %q", c.Verification.BaseURL)
	}

	seenOperators := make(map[string]bool, len(c.Operators))
	for i, op := range c.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			return fmt.Errorf("operator %d must have a username and password hash", i)
		}
		if op.Role != "operator" && op.Role != "admin" {
			return fmt.Errorf("invalid role for operator %s: %q", op.Username, op.Role)
		}
		if seenOperators[op.Username] {
			return fmt.Errorf("duplicate operator: %s", op.Username)
		}
		seenOperators[op.Username] = true
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// Validate checks that every secret is present, long enough, and distinct from the others
func (s SecretsConfig) Validate() error {
	named := []struct {
		name  string
		value string
	}{
		{"qr_key", s.QRKey},
		{"data_key", s.DataKey},
		{"document_key", s.DocumentKey},
		{"signing_key", s.SigningKey},
	}

	seen := make(map[string]string, len(named))
	for _, n := range named {
		if len(n.value) < MinSecretLength {
			return fmt.Errorf("secret %s must be at least %d characters", n.name, MinSecretLength)
		}
		if other, dup := seen[n.value]; dup {
			return fmt.Errorf("secret %s must differ from %s", n.name, other)
		}
		seen[n.value] = n.name
	}
	return nil
}

// GetDSN returns the database connection string based on the configured type
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}
