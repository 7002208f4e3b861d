package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const blobFormatVersion uint8 = 1

// ErrDecryption is matched by every *DecryptionError
var ErrDecryption = errors.New("decryption failed")

// DecryptionError reports an integrity or format failure of an encrypted blob
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDecryption
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}

func decryptionError(reason string, err error) error {
	return &DecryptionError{Reason: reason, Err: err}
}

// MarshalBinary encodes the blob as length-prefixed big-endian fields
func (b *Blob) MarshalBinary() ([]byte, error) {
	if len(b.Algorithm) > math.MaxUint8 || len(b.Salt) > math.MaxUint8 ||
		len(b.IV) > math.MaxUint8 || len(b.AuthTag) > math.MaxUint8 {
		return nil, fmt.Errorf("blob header field too long")
	}
	if uint64(len(b.Ciphertext)) > math.MaxUint32 {
		return nil, fmt.Errorf("ciphertext too long")
	}

	buf := bytes.NewBuffer(nil)
	buf.WriteByte(blobFormatVersion)

	writeShort(buf, []byte(b.Algorithm))
	for _, v := range []int{b.KDF.N, b.KDF.R, b.KDF.P} {
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("kdf parameter out of range: %d", v)
		}
		_ = binary.Write(buf, binary.BigEndian, uint32(v))
	}
	writeShort(buf, b.Salt)
	writeShort(buf, b.IV)
	writeShort(buf, b.AuthTag)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(b.Ciphertext)))
	buf.Write(b.Ciphertext)

	return buf.Bytes(), nil
}

// UnmarshalBlob decodes a blob produced by MarshalBinary. Malformed input is
// reported as a *DecryptionError.
func UnmarshalBlob(data []byte) (*Blob, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, decryptionError("empty blob", nil)
	}
	if version != blobFormatVersion {
		return nil, decryptionError(fmt.Sprintf("unsupported blob format %d", version), nil)
	}

	b := &Blob{}

	alg, err := readShort(r)
	if err != nil {
		return nil, decryptionError("malformed algorithm", err)
	}
	b.Algorithm = string(alg)

	var kdf [3]uint32
	if err := binary.Read(r, binary.BigEndian, &kdf); err != nil {
		return nil, decryptionError("malformed key derivation parameters", err)
	}
	b.KDF = KDFParams{N: int(kdf[0]), R: int(kdf[1]), P: int(kdf[2])}

	if b.Salt, err = readShort(r); err != nil {
		return nil, decryptionError("malformed salt", err)
	}
	if b.IV, err = readShort(r); err != nil {
		return nil, decryptionError("malformed iv", err)
	}
	if b.AuthTag, err = readShort(r); err != nil {
		return nil, decryptionError("malformed authentication tag", err)
	}

	var ln uint32
	if err := binary.Read(r, binary.BigEndian, &ln); err != nil {
		return nil, decryptionError("malformed ciphertext length", err)
	}
	if int64(ln) != int64(r.Len()) {
		return nil, decryptionError("ciphertext length mismatch", nil)
	}
	b.Ciphertext = make([]byte, ln)
	if _, err := r.Read(b.Ciphertext); err != nil && ln > 0 {
		return nil, decryptionError("malformed ciphertext", err)
	}

	return b, nil
}

// String returns the blob in its URL-safe text form
func (b *Blob) String() (string, error) {
	data, err := b.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseBlob decodes the URL-safe text form of a blob
func ParseBlob(s string) (*Blob, error) {
	data, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, decryptionError("invalid encoding", err)
	}
	return UnmarshalBlob(data)
}

func writeShort(buf *bytes.Buffer, field []byte) {
	buf.WriteByte(uint8(len(field)))
	buf.Write(field)
}

func readShort(r *bytes.Reader) ([]byte, error) {
	length, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(length) > r.Len() {
		return nil, fmt.Errorf("field length %d exceeds remaining %d bytes", length, r.Len())
	}
	field := make([]byte, length)
	if _, err := r.Read(field); err != nil && length > 0 {
		return nil, err
	}
	return field, nil
}
