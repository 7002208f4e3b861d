package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DocumentHashVersion prefixes the canonical document string. Changing the
// field order or formatting below requires a new version.
const DocumentHashVersion = "v1"

// TimestampLayout is the ISO-8601 form used in every hashed timestamp
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// CanonicalTime truncates t to the precision that survives hashing and storage
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// FormatTimestamp formats t as UTC ISO-8601 with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatAmount formats an amount in minor units with two decimals (10000 -> "100.00")
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// DocumentFields are the certificate fields covered by the document hash
type DocumentFields struct {
	CertificateNumber string
	ServiceName       string
	BuyerName         string
	SellerName        string
	AmountCents       int64
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// CanonicalDocument returns the canonical string hashed by DocumentHash
func CanonicalDocument(f DocumentFields) string {
	parts := []string{
		DocumentHashVersion,
		f.CertificateNumber,
		f.ServiceName,
		f.BuyerName,
		f.SellerName,
		FormatAmount(f.AmountCents),
		FormatTimestamp(f.IssuedAt),
		FormatTimestamp(f.ExpiresAt),
	}
	for i, p := range parts {
		parts[i] = escapeField(p)
	}
	return strings.Join(parts, "|")
}

// DocumentHash returns the hex SHA-256 digest of the canonical document
func DocumentHash(f DocumentFields) string {
	sum := sha256.Sum256([]byte(CanonicalDocument(f)))
	return hex.EncodeToString(sum[:])
}

// CanonicalVerification returns the string hashed by VerificationHash. It only
// carries fields that are safe to disclose publicly.
func CanonicalVerification(certificateNumber string, amountCents int64, issuedAt time.Time) string {
	return certificateNumber + ":" + FormatAmount(amountCents) + ":" + FormatTimestamp(issuedAt)
}

// VerificationHash returns the hex SHA-256 digest of the public verification tuple
func VerificationHash(certificateNumber string, amountCents int64, issuedAt time.Time) string {
	sum := sha256.Sum256([]byte(CanonicalVerification(certificateNumber, amountCents, issuedAt)))
	return hex.EncodeToString(sum[:])
}

// Sign returns the base64 HMAC-SHA256 of documentHash. This is a symmetric
// integrity tag: only holders of key can produce or check it, so it does not
// give third parties non-repudiation.
func Sign(documentHash string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(documentHash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign in constant time
func VerifySignature(documentHash, signature string, key []byte) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(documentHash))
	return hmac.Equal(got, mac.Sum(nil))
}

func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}
