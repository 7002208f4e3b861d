package config

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// Flags holds all command line flag values
type Flags struct {
	fs *flag.FlagSet

	// General
	configFile *string
	version    *bool

	// Server
	serverPort       *int
	serverHost       *string
	serverTLSEnabled *bool
	serverTLSCert    *string
	serverTLSKey     *string

	// Database
	dbType             *string
	dbSQLitePath       *string
	dbPostgresHost     *string
	dbPostgresDatabase *string

	// Storage
	storageType      *string
	storageLocalPath *string
	storageS3Bucket  *string

	// Verification
	verifyBaseURL *string
	verifyWorkers *int

	// Crypto
	certificateValidity *string

	// Logging
	logLevel  *string
	logFormat *string

	// Security
	securityCORSEnabled *bool
	securityCORSOrigins *[]string
}

// NewFlags defines all command line flags on a new flag set
func NewFlags(name string) *Flags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &Flags{fs: fs}

	// General flags
	f.configFile = fs.StringP("config", "c", "config.yaml", "Path to configuration file")
	f.version = fs.BoolP("version", "v", false, "Print version and exit")

	// Server flags
	f.serverPort = fs.Int("server.port", 0, "HTTP server port")
	f.serverHost = fs.String("server.host", "", "HTTP server bind address")
	f.serverTLSEnabled = fs.Bool("server.tls-enabled", false, "Enable HTTPS")
	f.serverTLSCert = fs.String("server.tls-cert", "", "Path to TLS certificate")
	f.serverTLSKey = fs.String("server.tls-key", "", "Path to TLS key")

	// Database flags
	f.dbType = fs.String("db.type", "", "Database type (sqlite or postgres)")
	f.dbSQLitePath = fs.String("db.sqlite.path", "", "SQLite database file path")
	f.dbPostgresHost = fs.String("db.postgres.host", "", "PostgreSQL host")
	f.dbPostgresDatabase = fs.String("db.postgres.database", "", "PostgreSQL database name")

	// Storage flags
	f.storageType = fs.String("storage.type", "", "Document storage type (local or s3)")
	f.storageLocalPath = fs.String("storage.local.path", "", "Directory for encrypted documents")
	f.storageS3Bucket = fs.String("storage.s3.bucket", "", "S3 bucket for encrypted documents")

	// Verification flags
	f.verifyBaseURL = fs.String("verify.base-url", "", "Public base URL embedded in QR codes")
	f.verifyWorkers = fs.Int("verify.workers", 0, "Maximum concurrent payload decryptions")

	// Crypto flags
	f.certificateValidity = fs.String("crypto.certificate-validity", "", "Certificate validity period (e.g., 8760h)")

	// Logging flags
	f.logLevel = fs.StringP("log.level", "l", "", "Log level (debug, info, warn, error)")
	f.logFormat = fs.String("log.format", "", "Log format (json or console)")

	// Security flags
	f.securityCORSEnabled = fs.Bool("security.cors-enabled", false, "Enable CORS")
	f.securityCORSOrigins = fs.StringSlice("security.cors-origins", nil, "CORS allowed origins (can be specified multiple times)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", name)
		fmt.Fprintf(os.Stderr, "certseal - transaction certificate issuance and verification service\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration priority (highest to lowest):\n")
		fmt.Fprintf(os.Stderr, "  1. Command line flags\n")
		fmt.Fprintf(os.Stderr, "  2. Environment variables (CERTSEAL_*, optionally from .env)\n")
		fmt.Fprintf(os.Stderr, "  3. Configuration file (default: config.yaml)\n\n")
		fmt.Fprintf(os.Stderr, "Secrets are only read from the configuration file or the environment:\n")
		fmt.Fprintf(os.Stderr, "  CERTSEAL_QR_KEY, CERTSEAL_DATA_KEY, CERTSEAL_DOCUMENT_KEY, CERTSEAL_SIGNING_KEY, CERTSEAL_JWT_SECRET\n")
	}

	return f
}

// Parse parses the given arguments (without the program name)
func (f *Flags) Parse(args []string) error {
	return f.fs.Parse(args)
}

// ParseFlags defines and parses all command line flags from os.Args
func ParseFlags() (*Flags, string, bool) {
	f := NewFlags(os.Args[0])
	if err := f.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	return f, *f.configFile, *f.version
}

// ConfigFile returns the configuration file path
func (f *Flags) ConfigFile() string {
	return *f.configFile
}

func (f *Flags) changed(name string) bool {
	fl := f.fs.Lookup(name)
	return fl != nil && fl.Changed
}

// GetServerPort returns the server port flag value and whether it was set
func (f *Flags) GetServerPort() (int, bool) {
	return *f.serverPort, f.changed("server.port")
}

// GetServerHost returns the server host flag value and whether it was set
func (f *Flags) GetServerHost() (string, bool) {
	return *f.serverHost, f.changed("server.host")
}

// GetServerTLSEnabled returns the server TLS enabled flag value and whether it was set
func (f *Flags) GetServerTLSEnabled() (bool, bool) {
	return *f.serverTLSEnabled, f.changed("server.tls-enabled")
}

// GetServerTLSCert returns the server TLS cert flag value and whether it was set
func (f *Flags) GetServerTLSCert() (string, bool) {
	return *f.serverTLSCert, f.changed("server.tls-cert")
}

// GetServerTLSKey returns the server TLS key flag value and whether it was set
func (f *Flags) GetServerTLSKey() (string, bool) {
	return *f.serverTLSKey, f.changed("server.tls-key")
}

// GetDBType returns the database type flag value and whether it was set
func (f *Flags) GetDBType() (string, bool) {
	return *f.dbType, f.changed("db.type")
}

// GetDBSQLitePath returns the SQLite path flag value and whether it was set
func (f *Flags) GetDBSQLitePath() (string, bool) {
	return *f.dbSQLitePath, f.changed("db.sqlite.path")
}

// GetDBPostgresHost returns the PostgreSQL host flag value and whether it was set
func (f *Flags) GetDBPostgresHost() (string, bool) {
	return *f.dbPostgresHost, f.changed("db.postgres.host")
}

// GetDBPostgresDatabase returns the PostgreSQL database flag value and whether it was set
func (f *Flags) GetDBPostgresDatabase() (string, bool) {
	return *f.dbPostgresDatabase, f.changed("db.postgres.database")
}

// GetStorageType returns the storage type flag value and whether it was set
func (f *Flags) GetStorageType() (string, bool) {
	return *f.storageType, f.changed("storage.type")
}

// GetStorageLocalPath returns the local storage path flag value and whether it was set
func (f *Flags) GetStorageLocalPath() (string, bool) {
	return *f.storageLocalPath, f.changed("storage.local.path")
}

// GetStorageS3Bucket returns the S3 bucket flag value and whether it was set
func (f *Flags) GetStorageS3Bucket() (string, bool) {
	return *f.storageS3Bucket, f.changed("storage.s3.bucket")
}

// GetVerifyBaseURL returns the verification base URL flag value and whether it was set
func (f *Flags) GetVerifyBaseURL() (string, bool) {
	return *f.verifyBaseURL, f.changed("verify.base-url")
}

// GetVerifyWorkers returns the verification worker count flag value and whether it was set
func (f *Flags) GetVerifyWorkers() (int, bool) {
	return *f.verifyWorkers, f.changed("verify.workers")
}

// GetCertificateValidity returns the certificate validity flag value and whether it was set
func (f *Flags) GetCertificateValidity() (string, bool) {
	return *f.certificateValidity, f.changed("crypto.certificate-validity")
}

// GetLogLevel returns the log level flag value and whether it was set
func (f *Flags) GetLogLevel() (string, bool) {
	return *f.logLevel, f.changed("log.level")
}

// GetLogFormat returns the log format flag value and whether it was set
func (f *Flags) GetLogFormat() (string, bool) {
	return *f.logFormat, f.changed("log.format")
}

// GetSecurityCORSEnabled returns the CORS enabled flag value and whether it was set
func (f *Flags) GetSecurityCORSEnabled() (bool, bool) {
	return *f.securityCORSEnabled, f.changed("security.cors-enabled")
}

// GetSecurityCORSOrigins returns the CORS origins flag value and whether it was set
func (f *Flags) GetSecurityCORSOrigins() ([]string, bool) {
	return *f.securityCORSOrigins, f.changed("security.cors-origins")
}
