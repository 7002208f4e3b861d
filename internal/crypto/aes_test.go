package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKDF = KDFParams{N: 1 << 10, R: 8, P: 1}

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKDF)
	require.NoError(t, err)
	return c
}

// encryptLegacyCBC produces a blob in the legacy CBC format
func encryptLegacyCBC(t *testing.T, plaintext, secret []byte) *Blob {
	t.Helper()

	salt := make([]byte, SaltSize)
	_, err := io.ReadFull(rand.Reader, salt)
	require.NoError(t, err)

	iv := make([]byte, aes.BlockSize)
	_, err = io.ReadFull(rand.Reader, iv)
	require.NoError(t, err)

	key, err := deriveKey(secret, salt, testKDF)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &Blob{Algorithm: AlgorithmAESCBC, KDF: testKDF, Salt: salt, IV: iv, Ciphertext: ciphertext}
}

func TestNewCipher(t *testing.T) {
	t.Run("Accepts valid parameters", func(t *testing.T) {
		_, err := NewCipher(DefaultKDFParams)
		assert.NoError(t, err)
	})

	testCases := []struct {
		name string
		kdf  KDFParams
	}{
		{"N too small", KDFParams{N: 1 << 9, R: 8, P: 1}},
		{"N too large", KDFParams{N: 1 << 21, R: 8, P: 1}},
		{"N not a power of two", KDFParams{N: 3000, R: 8, P: 1}},
		{"Zero r", KDFParams{N: 1 << 10, R: 0, P: 1}},
		{"r*p too large", KDFParams{N: 1 << 10, R: 1 << 15, P: 1 << 15}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCipher(tc.kdf)
			assert.Error(t, err)
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	c := newTestCipher(t)
	secret := []byte("primary-secret-0123456789abcdef0123")

	t.Run("Round trip", func(t *testing.T) {
		plaintext := []byte(`{"cid":"abc","num":"CERT-0042"}`)

		blob, err := c.Encrypt(plaintext, secret, "qr-payload")
		require.NoError(t, err)
		assert.Equal(t, AlgorithmAESGCM, blob.Algorithm)
		assert.Len(t, blob.Salt, SaltSize)
		assert.Len(t, blob.IV, NonceSize)
		assert.Len(t, blob.AuthTag, TagSize)
		assert.Equal(t, testKDF, blob.KDF)

		decrypted, err := c.Decrypt(blob, secret, "qr-payload")
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("Empty plaintext round trip", func(t *testing.T) {
		blob, err := c.Encrypt([]byte{}, secret, "metadata")
		require.NoError(t, err)

		decrypted, err := c.Decrypt(blob, secret, "metadata")
		require.NoError(t, err)
		assert.Empty(t, decrypted)
	})

	t.Run("Fresh salt and IV every call", func(t *testing.T) {
		plaintext := []byte("same plaintext")

		b1, err := c.Encrypt(plaintext, secret, "document")
		require.NoError(t, err)
		b2, err := c.Encrypt(plaintext, secret, "document")
		require.NoError(t, err)

		assert.NotEqual(t, b1.Salt, b2.Salt)
		assert.NotEqual(t, b1.IV, b2.IV)
		assert.NotEqual(t, b1.Ciphertext, b2.Ciphertext)
	})

	t.Run("Missing secret", func(t *testing.T) {
		_, err := c.Encrypt([]byte("x"), nil, "document")
		assert.Error(t, err)
	})

	t.Run("Wrong secret fails", func(t *testing.T) {
		blob, err := c.Encrypt([]byte("secret data"), secret, "document")
		require.NoError(t, err)

		_, err = c.Decrypt(blob, []byte("another-secret-0123456789abcdef0123"), "document")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDecryption))

		var decErr *DecryptionError
		assert.True(t, errors.As(err, &decErr))
	})

	t.Run("Wrong purpose fails", func(t *testing.T) {
		blob, err := c.Encrypt([]byte("secret data"), secret, "document")
		require.NoError(t, err)

		_, err = c.Decrypt(blob, secret, "metadata")
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("Flipping any ciphertext or tag byte fails", func(t *testing.T) {
		blob, err := c.Encrypt([]byte("tamper evident payload"), secret, "qr-payload")
		require.NoError(t, err)

		for i := range blob.Ciphertext {
			tampered := *blob
			tampered.Ciphertext = append([]byte{}, blob.Ciphertext...)
			tampered.Ciphertext[i] ^= 0x01

			_, err := c.Decrypt(&tampered, secret, "qr-payload")
			assert.ErrorIs(t, err, ErrDecryption, "ciphertext byte %d", i)
		}

		for i := range blob.AuthTag {
			tampered := *blob
			tampered.AuthTag = append([]byte{}, blob.AuthTag...)
			tampered.AuthTag[i] ^= 0x80

			_, err := c.Decrypt(&tampered, secret, "qr-payload")
			assert.ErrorIs(t, err, ErrDecryption, "tag byte %d", i)
		}
	})

	t.Run("Malformed fields fail", func(t *testing.T) {
		blob, err := c.Encrypt([]byte("x"), secret, "document")
		require.NoError(t, err)

		short := *blob
		short.Salt = blob.Salt[:8]
		_, err = c.Decrypt(&short, secret, "document")
		assert.ErrorIs(t, err, ErrDecryption)

		badIV := *blob
		badIV.IV = blob.IV[:4]
		_, err = c.Decrypt(&badIV, secret, "document")
		assert.ErrorIs(t, err, ErrDecryption)

		unknown := *blob
		unknown.Algorithm = "rot13"
		_, err = c.Decrypt(&unknown, secret, "document")
		assert.ErrorIs(t, err, ErrDecryption)

		_, err = c.Decrypt(nil, secret, "document")
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("Out of range KDF parameters are rejected before derivation", func(t *testing.T) {
		blob, err := c.Encrypt([]byte("x"), secret, "document")
		require.NoError(t, err)

		expensive := *blob
		expensive.KDF = KDFParams{N: 1 << 24, R: 8, P: 1}
		_, err = c.Decrypt(&expensive, secret, "document")
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestLegacyCBC(t *testing.T) {
	c := newTestCipher(t)
	secret := []byte("legacy-secret-0123456789abcdef012345")

	t.Run("Decrypts legacy blobs", func(t *testing.T) {
		plaintext := []byte("legacy certificate metadata")
		blob := encryptLegacyCBC(t, plaintext, secret)

		decrypted, err := c.Decrypt(blob, secret, "")
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("Block aligned plaintext", func(t *testing.T) {
		plaintext := bytes.Repeat([]byte("a"), aes.BlockSize*2)
		blob := encryptLegacyCBC(t, plaintext, secret)

		decrypted, err := c.Decrypt(blob, secret, "")
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("Misaligned ciphertext fails", func(t *testing.T) {
		blob := encryptLegacyCBC(t, []byte("data"), secret)
		blob.Ciphertext = blob.Ciphertext[:aes.BlockSize-1]

		_, err := c.Decrypt(blob, secret, "")
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("Legacy blobs migrate to GCM on reencrypt", func(t *testing.T) {
		plaintext := []byte("migrate me")
		blob := encryptLegacyCBC(t, plaintext, secret)
		newSecret := []byte("new-secret-0123456789abcdef0123456789")

		migrated, err := c.Reencrypt(blob, secret, newSecret, "")
		require.NoError(t, err)
		assert.Equal(t, AlgorithmAESGCM, migrated.Algorithm)

		decrypted, err := c.Decrypt(migrated, newSecret, "")
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})
}

func TestReencrypt(t *testing.T) {
	c := newTestCipher(t)
	oldSecret := []byte("old-secret-0123456789abcdef0123456789")
	newSecret := []byte("new-secret-0123456789abcdef0123456789")

	t.Run("New secret decrypts, old does not", func(t *testing.T) {
		plaintext := []byte("rotating document")
		blob, err := c.Encrypt(plaintext, oldSecret, "document")
		require.NoError(t, err)

		rotated, err := c.Reencrypt(blob, oldSecret, newSecret, "document")
		require.NoError(t, err)

		decrypted, err := c.Decrypt(rotated, newSecret, "document")
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)

		_, err = c.Decrypt(rotated, oldSecret, "document")
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("Failure leaves the original usable", func(t *testing.T) {
		plaintext := []byte("keep me")
		blob, err := c.Encrypt(plaintext, oldSecret, "document")
		require.NoError(t, err)
		original, err := blob.MarshalBinary()
		require.NoError(t, err)

		_, err = c.Reencrypt(blob, newSecret, oldSecret, "document")
		require.ErrorIs(t, err, ErrDecryption)

		after, err := blob.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, original, after)

		decrypted, err := c.Decrypt(blob, oldSecret, "document")
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})
}

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(s1), 32)
	assert.NotEqual(t, s1, s2)
}
