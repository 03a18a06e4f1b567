package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
)

const (
	// MaxShareTTLMinutes caps share lifetimes at one year.
	MaxShareTTLMinutes = 365 * 24 * 60

	shareTokenBytes      = 32
	maxTokenCollisionTry = 3
)

// ShareService issues and redeems bearer links to single file versions.
type ShareService struct {
	shares *repository.ShareRepository
	files  *FileService
	audit  audit.Sink
	now    func() time.Time
	token  func() (string, error)
}

func NewShareService(shares *repository.ShareRepository, files *FileService, sink audit.Sink) *ShareService {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &ShareService{
		shares: shares,
		files:  files,
		audit:  sink,
		now:    time.Now,
		token:  newShareToken,
	}
}

// newShareToken returns 256 random bits, URL-safe.
func newShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create issues a link to one of the owner's files. ttlMinutes <= 0 never expires.
func (s *ShareService) Create(ctx context.Context, owner, fileID string, ttlMinutes int, ip string) (*models.ShareLink, error) {
	if ttlMinutes > MaxShareTTLMinutes {
		return nil, validationErrorf("ttl must not exceed %d minutes", MaxShareTTLMinutes)
	}

	file, err := s.files.Get(ctx, owner, fileID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	link := &models.ShareLink{
		ID:        uuid.NewString(),
		FileID:    file.ID,
		CreatedBy: owner,
		CreatedAt: now,
	}
	if ttlMinutes > 0 {
		expiresAt := now.Add(time.Duration(ttlMinutes) * time.Minute)
		link.ExpiresAt = &expiresAt
	}

	for attempt := 1; ; attempt++ {
		link.Token, err = s.token()
		if err != nil {
			return nil, err
		}
		err = s.shares.Create(ctx, link)
		if err == nil {
			break
		}
		if !repository.IsUniqueViolation(err) || attempt >= maxTokenCollisionTry {
			return nil, fmt.Errorf("failed to save share link: %w", err)
		}
	}

	s.audit.Record(ctx, audit.Actor(owner), audit.ShareCreated, ip)
	return link, nil
}

// Consume redeems a token and returns the verified plaintext of the shared file.
// The download is attributed to the file owner.
func (s *ShareService) Consume(ctx context.Context, token, ip string) (*models.StoredFile, []byte, error) {
	link, err := s.shares.GetByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, s.missingLinkErr(ctx, token)
	}
	if err != nil {
		return nil, nil, err
	}
	if link.Expired(s.now()) {
		return nil, nil, ErrExpired
	}

	file, err := s.files.getAnyOwner(ctx, link.FileID)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := s.files.openVerified(ctx, file)
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(ctx, audit.Actor(file.OwnerID), audit.ShareDownloaded, ip)
	return file, plaintext, nil
}

// missingLinkErr tells a purged expired link apart from one that never
// existed or was revoked.
func (s *ShareService) missingLinkErr(ctx context.Context, token string) error {
	_, err := s.shares.ExpiredAt(ctx, token)
	switch {
	case err == nil:
		return ErrExpired
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	default:
		return err
	}
}

// ListByFile returns the links of one of the owner's files, newest first.
func (s *ShareService) ListByFile(ctx context.Context, owner, fileID string) ([]*models.ShareLink, error) {
	if _, err := s.files.Get(ctx, owner, fileID); err != nil {
		return nil, err
	}
	return s.shares.ListByFile(ctx, fileID)
}

// Revoke deletes a link immediately.
func (s *ShareService) Revoke(ctx context.Context, owner, token, ip string) error {
	_, err := s.shares.DeleteForOwner(ctx, token, owner)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, repository.ErrNotOwner):
		return ErrForbidden
	default:
		return err
	}

	s.audit.Record(ctx, audit.Actor(owner), audit.ShareRevoked, ip)
	return nil
}

// DeleteExpired purges links that can no longer be redeemed. Their tokens
// keep reporting ErrExpired.
func (s *ShareService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.shares.DeleteExpired(ctx, s.now())
}
