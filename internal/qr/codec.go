// Package qr encodes certificate payloads into encrypted, URL-safe tokens and
// renders them as QR code images pointing at the public verification endpoint.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/robcowart/certseal/internal/crypto"
)

const (
	// PayloadType is the only accepted payload discriminator
	PayloadType = "certificate"
	// PayloadVersion is the current payload format version
	PayloadVersion = 1
	// Purpose is bound to every QR ciphertext as associated data
	Purpose = "qr-payload"

	// DefaultImageSize is the rendered QR image width and height in pixels
	DefaultImageSize = 256

	verifyPath = "/certificates/verify/"
)

// ErrMalformedPayload is returned for any token that does not decode to a
// well-formed certificate payload
var ErrMalformedPayload = errors.New("malformed QR payload")

// Payload is the structured content of a QR code. It is never stored in
// plaintext; it is rebuilt from the token on every scan.
type Payload struct {
	CertificateID     string    `json:"cid"`
	CertificateNumber string    `json:"num"`
	VerificationHash  string    `json:"vh"`
	IssuedAt          time.Time `json:"iat"`
	ExpiresAt         time.Time `json:"exp"`
	BuyerID           string    `json:"buyer"`
	SellerID          string    `json:"seller"`
	Type              string    `json:"type"`
	Version           int       `json:"ver"`
	// CreatedAt is when the QR code was minted, in Unix milliseconds
	CreatedAt int64 `json:"ts"`
}

// Validate checks that every required field is present and the type and
// version are the ones this codec produces
func (p *Payload) Validate() error {
	if p.Type != PayloadType {
		return fmt.Errorf("unexpected payload type %q", p.Type)
	}
	if p.Version != PayloadVersion {
		return fmt.Errorf("unsupported payload version %d", p.Version)
	}

	missing := []string{}
	for name, v := range map[string]string{
		"cid":    p.CertificateID,
		"num":    p.CertificateNumber,
		"vh":     p.VerificationHash,
		"buyer":  p.BuyerID,
		"seller": p.SellerID,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if p.IssuedAt.IsZero() {
		missing = append(missing, "iat")
	}
	if p.ExpiresAt.IsZero() {
		missing = append(missing, "exp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Codec turns payloads into encrypted tokens and back
type Codec struct {
	cipher *crypto.Cipher
	key    []byte
	now    func() time.Time
}

// NewCodec creates a codec that encrypts payloads with key
func NewCodec(cipher *crypto.Cipher, key []byte) *Codec {
	return &Codec{cipher: cipher, key: key, now: time.Now}
}

// Encode stamps p with the current type, version and mint time, then
// encrypts it into a URL-safe token
func (c *Codec) Encode(p Payload) (string, error) {
	p.Type = PayloadType
	p.Version = PayloadVersion
	if p.CreatedAt == 0 {
		p.CreatedAt = c.now().UnixMilli()
	}
	p.IssuedAt = p.IssuedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()

	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	token, err := c.cipher.EncryptString(data, c.key, Purpose)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return token, nil
}

// Decode reverses Encode. The token may still be URL path escaped. Every
// failure matches ErrMalformedPayload; decryption failures also match
// crypto.ErrDecryption.
func (c *Codec) Decode(token string) (*Payload, error) {
	raw, err := url.PathUnescape(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedPayload)
	}

	data, err := c.cipher.DecryptString(raw, c.key, Purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// VerifyURL returns the public verification URL for a token
func VerifyURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + verifyPath + url.PathEscape(token)
}

// Render encodes content as a PNG QR code with medium error correction
func Render(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
