package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/blob"
	"github.com/secura/vault/internal/envelope"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
	"github.com/secura/vault/pkg/logger"
)

const maxFileNameBytes = 255

// FileService stores owner files encrypted at rest and keeps their version history.
type FileService struct {
	files    *repository.FileRepository
	blobs    blob.Store
	cipher   *envelope.Cipher
	audit    audit.Sink
	maxBytes int64
	now      func() time.Time
}

// NewFileService wires the file pipeline. maxBytes <= 0 disables the size limit.
func NewFileService(
	files *repository.FileRepository,
	blobs blob.Store,
	cipher *envelope.Cipher,
	sink audit.Sink,
	maxBytes int64,
) *FileService {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &FileService{
		files:    files,
		blobs:    blobs,
		cipher:   cipher,
		audit:    sink,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return validationErrorf("file name is required")
	}
	if len(name) > maxFileNameBytes {
		return validationErrorf("file name exceeds %d bytes", maxFileNameBytes)
	}
	if !utf8.ValidString(name) || strings.ContainsFunc(name, unicode.IsControl) {
		return validationErrorf("file name contains invalid characters")
	}
	return nil
}

// Upload checksums, seals and stores plaintext as the next version of name.
func (s *FileService) Upload(ctx context.Context, owner, name string, plaintext []byte, ip string) (*models.StoredFile, error) {
	if err := validateFileName(name); err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && int64(len(plaintext)) > s.maxBytes {
		return nil, validationErrorf("file exceeds the %d byte limit", s.maxBytes)
	}

	sum := checksum(plaintext)
	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal file: %w", err)
	}

	ref, err := s.blobs.Put(ctx, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	record := &models.StoredFile{
		ID:           uuid.NewString(),
		LogicalID:    uuid.NewString(),
		OwnerID:      owner,
		OriginalName: name,
		BlobRef:      ref,
		MimeType:     mimetype.Detect(plaintext).String(),
		SizeBytes:    int64(len(plaintext)),
		Checksum:     sum,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.files.CreateVersion(ctx, record); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			logger.Warn().Err(delErr).Str("component", "files").Str("blob_ref", ref).
				Msg("Failed to remove orphaned blob after metadata error")
		}
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}

	s.audit.Record(ctx, audit.Actor(owner), audit.UploadFile, ip)
	return record, nil
}

// Download returns the verified plaintext of an owner's file.
func (s *FileService) Download(ctx context.Context, owner, fileID, ip string) (*models.StoredFile, []byte, error) {
	record, err := s.Get(ctx, owner, fileID)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := s.openVerified(ctx, record)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Record(ctx, audit.Actor(owner), audit.DownloadFile, ip)
	return record, plaintext, nil
}

// openVerified reads, decrypts and checksums a record without any owner check.
func (s *FileService) openVerified(ctx context.Context, record *models.StoredFile) ([]byte, error) {
	sealed, err := s.blobs.Get(ctx, record.BlobRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			logger.Error().Str("component", "files").Str("file_id", record.ID).
				Msg("File record points to a missing blob")
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	plaintext, err := s.cipher.Open(sealed)
	if err != nil {
		if errors.Is(err, envelope.ErrIntegrity) {
			logger.Error().Str("component", "files").Str("file_id", record.ID).
				Msg("Sealed file failed authentication")
			return nil, ErrIntegrity
		}
		return nil, err
	}

	if record.Checksum != "" && checksum(plaintext) != record.Checksum {
		logger.Error().Str("component", "files").Str("file_id", record.ID).
			Msg("Decrypted file checksum mismatch")
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// List returns every version of every file of the owner, newest first.
func (s *FileService) List(ctx context.Context, owner string) ([]*models.StoredFile, error) {
	return s.files.ListByOwner(ctx, owner)
}

func (s *FileService) Get(ctx context.Context, owner, fileID string) (*models.StoredFile, error) {
	record, err := s.files.GetByIDForOwner(ctx, fileID, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// ListVersions returns the history of one logical file, highest version first.
func (s *FileService) ListVersions(ctx context.Context, owner, logicalID string) ([]*models.StoredFile, error) {
	versions, err := s.files.ListVersions(ctx, owner, logicalID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}

// TotalStored returns the plaintext bytes held for all owners.
func (s *FileService) TotalStored(ctx context.Context) (int64, error) {
	return s.files.TotalSize(ctx)
}

func (s *FileService) getAnyOwner(ctx context.Context, fileID string) (*models.StoredFile, error) {
	record, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}
