package document

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/qr"
)

func testData(t *testing.T) *Data {
	t.Helper()
	url := qr.VerifyURL("https://verify.example.com", "token")
	png, err := qr.Render(url, 128)
	require.NoError(t, err)

	issued := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	return &Data{
		CertificateNumber:  "CERT-0042",
		TransactionID:      42,
		ServiceName:        "Penetration Test",
		AmountCents:        10000,
		Currency:           "EUR",
		BuyerName:          "Zoë Buyer",
		BuyerOrganization:  "Acme Corp",
		SellerName:         "Bob Seller",
		SellerOrganization: "Redteam Ltd",
		IssuedAt:           issued,
		ExpiresAt:          issued.Add(365 * 24 * time.Hour),
		VerificationHash:   "ab12",
		DocumentHash:       "cd34",
		VerifyURL:          url,
		QRCode:             png,
	}
}

func TestPDFRenderer(t *testing.T) {
	r := NewPDFRenderer("certseal marketplace")

	t.Run("Renders a PDF", func(t *testing.T) {
		out, err := r.Render(testData(t))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	})

	t.Run("Missing QR image fails", func(t *testing.T) {
		d := testData(t)
		d.QRCode = nil
		_, err := r.Render(d)
		assert.Error(t, err)
	})

	t.Run("Invalid QR image fails", func(t *testing.T) {
		d := testData(t)
		d.QRCode = []byte("not a png")
		_, err := r.Render(d)
		assert.Error(t, err)
	})

	t.Run("Nil data fails", func(t *testing.T) {
		_, err := r.Render(nil)
		assert.Error(t, err)
	})
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	t.Run("Put, get and delete", func(t *testing.T) {
		path := ObjectPath("abc")
		require.NoError(t, store.Put(ctx, path, []byte("encrypted")))

		data, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("encrypted"), data)

		_, err = os.Stat(filepath.Join(root, "certificates", "abc.bin"))
		assert.NoError(t, err)

		require.NoError(t, store.Delete(ctx, path))
		_, err = store.Get(ctx, path)
		assert.ErrorIs(t, err, ErrNotExist)
	})

	t.Run("Put replaces existing content and leaves no temp files", func(t *testing.T) {
		path := ObjectPath("replace")
		require.NoError(t, store.Put(ctx, path, []byte("first")))
		require.NoError(t, store.Put(ctx, path, []byte("second")))

		data, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), data)

		entries, err := os.ReadDir(filepath.Join(root, "certificates"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), e.Name())
		}
	})

	t.Run("Deleting a missing document succeeds", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, ObjectPath("missing")))
	})

	t.Run("Paths outside the root are rejected", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, "../escape.bin", []byte("x")))
		_, err := store.Get(ctx, "/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.Put(cctx, ObjectPath("x"), []byte("x")), context.Canceled)
	})
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "certificates/abc.bin", ObjectPath("abc"))
	assert.Equal(t, "certificates/abc.3.bin", RotatedPath("abc", 3))
}

// fakeS3 implements the object calls S3Store makes with path-style addressing
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	store, err := NewS3Store(config.S3Storage{
		Endpoint:  server.URL,
		Region:    "us-east-1",
		Bucket:    "documents",
		AccessKey: "access",
		SecretKey: "secret",
		PathStyle: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Put and get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, ObjectPath("abc"), []byte("encrypted")))
		assert.True(t, fake.has("/documents/certificates/abc.bin"))

		data, err := store.Get(ctx, ObjectPath("abc"))
		require.NoError(t, err)
		assert.Equal(t, []byte("encrypted"), data)
	})

	t.Run("Missing key maps to ErrNotExist", func(t *testing.T) {
		_, err := store.Get(ctx, ObjectPath("missing"))
		assert.ErrorIs(t, err, ErrNotExist)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, ObjectPath("abc")))
		assert.False(t, fake.has("/documents/certificates/abc.bin"))
	})

	t.Run("Bucket is required", func(t *testing.T) {
		_, err := NewS3Store(config.S3Storage{})
		assert.Error(t, err)
	})
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Type: "local", Local: config.LocalStorage{Path: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = NewStore(config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}
