package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robcowart/certseal/internal/config"
)

// ErrNotExist is returned when a document object does not exist
var ErrNotExist = errors.New("document does not exist")

// Store holds encrypted document bytes under slash-separated object paths
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// ObjectPath returns the initial object path of a certificate document
func ObjectPath(certificateID string) string {
	return "certificates/" + certificateID + ".bin"
}

// RotatedPath returns the object path of a document re-encrypted at generation
func RotatedPath(certificateID string, generation int64) string {
	return fmt.Sprintf("certificates/%s.%d.bin", certificateID, generation)
}

// NewStore creates the store selected by cfg
func NewStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStore(cfg.Local.Path)
	case "s3":
		return NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// LocalStore keeps documents on the local filesystem
type LocalStore struct {
	root string
}

// NewLocalStore creates a local store rooted at dir
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local storage path must be specified")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	local := filepath.FromSlash(path)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid object path: %q", path)
	}
	return filepath.Join(s.root, local), nil
}

// Put writes data atomically through a temporary file and rename
func (s *LocalStore) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document: %w", err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// Get reads a document
func (s *LocalStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
