package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/pkg/database"
)

// ErrNotOwner is returned when a share link exists but belongs to another owner's file.
var ErrNotOwner = errors.New("share link belongs to another owner")

type ShareRepository struct {
	db *sql.DB
}

func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

const shareColumns = `id, token, file_id, created_by, expires_at, created_at`

func (r *ShareRepository) Create(ctx context.Context, link *models.ShareLink) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO share_links (`+shareColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, link.ID, link.Token, link.FileID, link.CreatedBy, nullMillis(link.ExpiresAt), toMillis(link.CreatedAt))
	return err
}

func scanShare(row interface{ Scan(...any) error }) (*models.ShareLink, error) {
	link := &models.ShareLink{}
	var expiresAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&link.ID, &link.Token, &link.FileID, &link.CreatedBy, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	link.ExpiresAt = timePtr(expiresAt)
	link.CreatedAt = fromMillis(createdAt)
	return link, nil
}

func (r *ShareRepository) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	return scanShare(r.db.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM share_links WHERE token = ?`, token))
}

func (r *ShareRepository) ListByFile(ctx context.Context, fileID string) ([]*models.ShareLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+shareColumns+` FROM share_links
		WHERE file_id = ? ORDER BY created_at DESC, rowid DESC
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]*models.ShareLink, 0)
	for rows.Next() {
		link, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// DeleteForOwner removes the link if its file belongs to ownerID. It returns
// sql.ErrNoRows for unknown tokens and ErrNotOwner for links of other owners.
// The removed link is returned.
func (r *ShareRepository) DeleteForOwner(ctx context.Context, token, ownerID string) (*models.ShareLink, error) {
	var removed *models.ShareLink
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var fileOwner string
		link := &models.ShareLink{}
		var expiresAt sql.NullInt64
		var createdAt int64
		err := tx.QueryRowContext(ctx, `
			SELECT s.id, s.token, s.file_id, s.created_by, s.expires_at, s.created_at, f.owner_id
			FROM share_links s JOIN files f ON f.id = s.file_id
			WHERE s.token = ?
		`, token).Scan(&link.ID, &link.Token, &link.FileID, &link.CreatedBy, &expiresAt, &createdAt, &fileOwner)
		if err != nil {
			return err
		}
		if fileOwner != ownerID {
			return ErrNotOwner
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM share_links WHERE id = ?`, link.ID); err != nil {
			return err
		}
		link.ExpiresAt = timePtr(expiresAt)
		link.CreatedAt = fromMillis(createdAt)
		removed = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteExpired removes links whose expiry is at or before now. Their tokens
// are kept in expired_share_tokens so that redeeming one still reads as
// expired rather than unknown.
func (r *ShareRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		nowMs := toMillis(now)
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO expired_share_tokens (token, expired_at)
			SELECT token, expires_at FROM share_links
			WHERE expires_at IS NOT NULL AND expires_at <= ?
		`, nowMs); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM share_links WHERE expires_at IS NOT NULL AND expires_at <= ?`, nowMs)
		if err != nil {
			return err
		}
		purged, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// ExpiredAt reports when a purged link expired. It returns sql.ErrNoRows for
// tokens that were never purged as expired.
func (r *ShareRepository) ExpiredAt(ctx context.Context, token string) (time.Time, error) {
	var expiredAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT expired_at FROM expired_share_tokens WHERE token = ?`, token).Scan(&expiredAt)
	if err != nil {
		return time.Time{}, err
	}
	return fromMillis(expiredAt), nil
}
