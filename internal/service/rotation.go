package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/audit"
	"github.com/robcowart/certseal/internal/crypto"
	"github.com/robcowart/certseal/internal/document"
)

// Rotation kinds
const (
	RotationDocuments = "document"
	RotationMetadata  = "metadata"
)

// RotationReport summarizes a key rotation run
type RotationReport struct {
	Kind    string `json:"kind"`
	Total   int    `json:"total"`
	Rotated int    `json:"rotated"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// RotateDocuments re-encrypts every stored document from oldKey to newKey.
// Each document is written to a new object before the certificate row is
// repointed, so a failure at any step leaves the previous blob readable.
// Documents that already open with newKey are skipped.
func (s *CertificateService) RotateDocuments(ctx context.Context, oldKey, newKey []byte) (*RotationReport, error) {
	certs, err := s.db.ListCertificates(ctx, 0, 0)
	if err != nil {
		return nil, storeError("list certificates", err)
	}

	report := &RotationReport{Kind: RotationDocuments, Total: len(certs)}
	for _, cert := range certs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		skipped, err := s.rotateDocument(ctx, cert.ID, cert.EncryptedDocumentPath, oldKey, newKey)
		s.countRotation(ctx, report, cert.ID, skipped, err)
	}

	s.logRotation(report)
	return report, nil
}

func (s *CertificateService) rotateDocument(ctx context.Context, id, path string, oldKey, newKey []byte) (bool, error) {
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return false, fmt.Errorf("load document: %w", err)
	}
	blob, err := crypto.UnmarshalBlob(raw)
	if err != nil {
		return false, err
	}

	rotated, err := s.cipher.Reencrypt(blob, oldKey, newKey, DocumentPurpose)
	if err != nil {
		if s.alreadyRotated(blob, newKey, DocumentPurpose) {
			return true, nil
		}
		return false, err
	}
	out, err := rotated.MarshalBinary()
	if err != nil {
		return false, err
	}

	newPath := document.RotatedPath(id, s.now().UnixNano())
	if err := s.store.Put(ctx, newPath, out); err != nil {
		return false, fmt.Errorf("store document: %w", err)
	}
	if err := s.db.UpdateDocumentPath(ctx, id, newPath); err != nil {
		s.discardDocument(ctx, newPath)
		return false, fmt.Errorf("update document path: %w", err)
	}
	s.discardDocument(ctx, path)
	return false, nil
}

// RotateMetadata re-encrypts every certificate's metadata from oldKey to newKey
func (s *CertificateService) RotateMetadata(ctx context.Context, oldKey, newKey []byte) (*RotationReport, error) {
	certs, err := s.db.ListCertificates(ctx, 0, 0)
	if err != nil {
		return nil, storeError("list certificates", err)
	}

	report := &RotationReport{Kind: RotationMetadata, Total: len(certs)}
	for _, cert := range certs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !cert.MetadataCiphertext.Valid {
			report.Skipped++
			continue
		}

		skipped, err := s.rotateMetadata(ctx, cert.ID, cert.MetadataCiphertext.String, oldKey, newKey)
		s.countRotation(ctx, report, cert.ID, skipped, err)
	}

	s.logRotation(report)
	return report, nil
}

func (s *CertificateService) rotateMetadata(ctx context.Context, id, ciphertext string, oldKey, newKey []byte) (bool, error) {
	blob, err := crypto.ParseBlob(ciphertext)
	if err != nil {
		return false, err
	}

	rotated, err := s.cipher.Reencrypt(blob, oldKey, newKey, MetadataPurpose)
	if err != nil {
		if s.alreadyRotated(blob, newKey, MetadataPurpose) {
			return true, nil
		}
		return false, err
	}
	out, err := rotated.String()
	if err != nil {
		return false, err
	}
	return false, s.db.UpdateMetadataCiphertext(ctx, id, out)
}

func (s *CertificateService) alreadyRotated(blob *crypto.Blob, newKey []byte, purpose string) bool {
	_, err := s.cipher.Decrypt(blob, newKey, purpose)
	return err == nil
}

func (s *CertificateService) countRotation(ctx context.Context, report *RotationReport, id string, skipped bool, err error) {
	switch {
	case err != nil:
		report.Failed++
		s.logger.Warn("Key rotation failed for certificate",
			zap.String("kind", report.Kind),
			zap.String("certificate_id", id),
			zap.Bool("decryption", errors.Is(err, crypto.ErrDecryption)),
			zap.Error(err))
	case skipped:
		report.Skipped++
	default:
		report.Rotated++
	}
	if !skipped {
		audit.Record(ctx, s.audit, audit.OpRotate, id, err)
		s.metrics.Rotated(report.Kind, err)
	}
}

func (s *CertificateService) logRotation(report *RotationReport) {
	s.logger.Info("Key rotation finished",
		zap.String("kind", report.Kind),
		zap.Int("total", report.Total),
		zap.Int("rotated", report.Rotated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
}
