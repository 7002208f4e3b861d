// Package crypto provides the cryptographic primitives for certseal.
// It includes password-derived AES-256-GCM encryption of opaque blobs (with
// decrypt-only support for the legacy AES-256-CBC format), key rotation by
// re-encryption, and the hashing and HMAC signing used to seal certificates.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// AlgorithmAESGCM is the current algorithm: scrypt key derivation and AES-256-GCM
	AlgorithmAESGCM = "aes-256-gcm/scrypt"
	// AlgorithmAESCBC is the legacy algorithm. It can be decrypted but never produced.
	AlgorithmAESCBC = "aes-256-cbc/scrypt"

	// SaltSize is the size of the per-operation scrypt salt
	SaltSize = 32
	// NonceSize is the size of the GCM nonce
	NonceSize = 12
	// TagSize is the size of the GCM authentication tag
	TagSize = 16

	keySize = 32
)

// KDFParams holds scrypt cost parameters
type KDFParams struct {
	N int
	R int
	P int
}

// DefaultKDFParams are the production scrypt parameters
var DefaultKDFParams = KDFParams{N: 1 << 15, R: 8, P: 1}

// Validate checks the parameters are within the accepted range
func (p KDFParams) Validate() error {
	if p.N < 1<<10 || p.N > 1<<20 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("scrypt N out of range: %d", p.N)
	}
	if p.R < 1 || p.P < 1 || p.R*p.P >= 1<<30 {
		return fmt.Errorf("scrypt r/p out of range: r=%d p=%d", p.R, p.P)
	}
	return nil
}

// Blob is a self-describing encrypted value. Every Encrypt call produces a
// new Blob with a fresh salt and IV; blobs are never modified in place.
type Blob struct {
	Algorithm  string
	KDF        KDFParams
	Salt       []byte
	IV         []byte
	AuthTag    []byte // empty for the legacy CBC algorithm
	Ciphertext []byte
}

// Cipher encrypts and decrypts blobs using keys derived from long-term secrets
type Cipher struct {
	kdf  KDFParams
	rand io.Reader
}

// NewCipher creates a Cipher that derives keys with the given scrypt parameters
func NewCipher(kdf KDFParams) (*Cipher, error) {
	if err := kdf.Validate(); err != nil {
		return nil, err
	}
	return &Cipher{kdf: kdf, rand: rand.Reader}, nil
}

// Encrypt encrypts plaintext with a key derived from secret. purpose is bound
// to the ciphertext as associated data and must be given again to Decrypt.
func (c *Cipher) Encrypt(plaintext, secret []byte, purpose string) (*Blob, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("missing secret")
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := deriveKey(secret, salt, c.kdf)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, []byte(purpose))
	split := len(sealed) - TagSize

	return &Blob{
		Algorithm:  AlgorithmAESGCM,
		KDF:        c.kdf,
		Salt:       salt,
		IV:         iv,
		AuthTag:    sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}

// Decrypt authenticates and decrypts a blob. Every failure is reported as a
// *DecryptionError; no partial plaintext is ever returned.
func (c *Cipher) Decrypt(b *Blob, secret []byte, purpose string) ([]byte, error) {
	if b == nil {
		return nil, decryptionError("missing blob", nil)
	}
	if err := b.KDF.Validate(); err != nil {
		return nil, decryptionError("invalid key derivation parameters", err)
	}
	if len(b.Salt) != SaltSize {
		return nil, decryptionError("malformed salt", nil)
	}

	switch b.Algorithm {
	case AlgorithmAESGCM:
		return decryptGCM(b, secret, purpose)
	case AlgorithmAESCBC:
		return decryptLegacyCBC(b, secret)
	default:
		return nil, decryptionError(fmt.Sprintf("unrecognized algorithm %q", b.Algorithm), nil)
	}
}

// Reencrypt decrypts b with oldSecret and encrypts the plaintext with
// newSecret, returning a new blob. b is left untouched, so a failure at any
// point leaves the caller holding the original blob.
func (c *Cipher) Reencrypt(b *Blob, oldSecret, newSecret []byte, purpose string) (*Blob, error) {
	plaintext, err := c.Decrypt(b, oldSecret, purpose)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(plaintext, newSecret, purpose)
}

// EncryptString encrypts plaintext and returns the blob in its text form
func (c *Cipher) EncryptString(plaintext, secret []byte, purpose string) (string, error) {
	b, err := c.Encrypt(plaintext, secret, purpose)
	if err != nil {
		return "", err
	}
	return b.String()
}

// DecryptString parses a blob in text form and decrypts it
func (c *Cipher) DecryptString(s string, secret []byte, purpose string) ([]byte, error) {
	b, err := ParseBlob(s)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(b, secret, purpose)
}

func decryptGCM(b *Blob, secret []byte, purpose string) ([]byte, error) {
	if len(b.IV) != NonceSize {
		return nil, decryptionError("malformed iv", nil)
	}
	if len(b.AuthTag) != TagSize {
		return nil, decryptionError("malformed authentication tag", nil)
	}

	key, err := deriveKey(secret, b.Salt, b.KDF)
	if err != nil {
		return nil, decryptionError("key derivation failed", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, decryptionError("cipher setup failed", err)
	}

	sealed := make([]byte, 0, len(b.Ciphertext)+len(b.AuthTag))
	sealed = append(sealed, b.Ciphertext...)
	sealed = append(sealed, b.AuthTag...)

	plaintext, err := gcm.Open(nil, b.IV, sealed, []byte(purpose))
	if err != nil {
		return nil, decryptionError("authentication failed", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// decryptLegacyCBC decrypts blobs written before the switch to GCM. The
// legacy format has no authentication tag and no associated data.
func decryptLegacyCBC(b *Blob, secret []byte) ([]byte, error) {
	if len(b.IV) != aes.BlockSize {
		return nil, decryptionError("malformed iv", nil)
	}
	if len(b.Ciphertext) == 0 || len(b.Ciphertext)%aes.BlockSize != 0 {
		return nil, decryptionError("malformed ciphertext", nil)
	}

	key, err := deriveKey(secret, b.Salt, b.KDF)
	if err != nil {
		return nil, decryptionError("key derivation failed", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, decryptionError("cipher setup failed", err)
	}

	plaintext := make([]byte, len(b.Ciphertext))
	cipher.NewCBCDecrypter(block, b.IV).CryptBlocks(plaintext, b.Ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return nil, decryptionError("invalid padding", err)
	}
	return unpadded, nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("empty input")
	}
	pad := int(data[n-1])
	if pad == 0 || pad > aes.BlockSize || pad > n {
		return nil, fmt.Errorf("bad padding length %d", pad)
	}
	if !bytes.Equal(data[n-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, fmt.Errorf("bad padding bytes")
	}
	return data[:n-pad], nil
}

func deriveKey(secret, salt []byte, p KDFParams) ([]byte, error) {
	key, err := scrypt.Key(secret, salt, p.N, p.R, p.P, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateSecret generates a new random 32-byte (256-bit) secret, base64 encoded
func GenerateSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
