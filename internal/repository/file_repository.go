package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/secura/vault/internal/models"
)

const maxVersionRetries = 5

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, logical_id, owner_id, original_name, blob_ref, mime_type, size_bytes, version, checksum, created_at`

// CreateVersion inserts f as the next version of the owner's file with the same
// name. LogicalID and Version are assigned inside the INSERT so concurrent
// uploads cannot share a version; f.LogicalID is used only when no prior
// version exists. The assigned values are written back to f.
func (r *FileRepository) CreateVersion(ctx context.Context, f *models.StoredFile) error {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO files (`+fileColumns+`)
			SELECT ?,
				COALESCE(
					(SELECT logical_id FROM files WHERE owner_id = ? AND original_name = ? ORDER BY version DESC LIMIT 1),
					?
				),
				?, ?, ?, ?, ?,
				COALESCE((SELECT MAX(version) FROM files WHERE owner_id = ? AND original_name = ?), 0) + 1,
				?, ?
			RETURNING logical_id, version
		`,
			f.ID,
			f.OwnerID, f.OriginalName,
			f.LogicalID,
			f.OwnerID, f.OriginalName, f.BlobRef, f.MimeType, f.SizeBytes,
			f.OwnerID, f.OriginalName,
			f.Checksum, toMillis(f.CreatedAt),
		).Scan(&f.LogicalID, &f.Version)
		if err == nil {
			return nil
		}
		if !IsUniqueViolation(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("version assignment kept conflicting: %w", lastErr)
}

func scanFile(row interface{ Scan(...any) error }) (*models.StoredFile, error) {
	f := &models.StoredFile{}
	var createdAt int64
	if err := row.Scan(&f.ID, &f.LogicalID, &f.OwnerID, &f.OriginalName, &f.BlobRef, &f.MimeType,
		&f.SizeBytes, &f.Version, &f.Checksum, &createdAt); err != nil {
		return nil, err
	}
	f.CreatedAt = fromMillis(createdAt)
	return f, nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.StoredFile, error) {
	return scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
}

// GetByIDForOwner returns sql.ErrNoRows both for missing files and for files of other owners.
func (r *FileRepository) GetByIDForOwner(ctx context.Context, id, ownerID string) (*models.StoredFile, error) {
	return scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ? AND owner_id = ?`, id, ownerID))
}

// ListByOwner returns every version of every file of the owner, newest first.
func (r *FileRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.StoredFile, error) {
	return r.query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, ownerID)
}

// ListVersions returns the versions of one logical file, highest version first.
func (r *FileRepository) ListVersions(ctx context.Context, ownerID, logicalID string) ([]*models.StoredFile, error) {
	return r.query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = ? AND logical_id = ?
		ORDER BY version DESC
	`, ownerID, logicalID)
}

func (r *FileRepository) query(ctx context.Context, q string, args ...any) ([]*models.StoredFile, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]*models.StoredFile, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SumSizeByOwner returns the plaintext bytes stored by the owner across all versions.
func (r *FileRepository) SumSizeByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE owner_id = ?`, ownerID).Scan(&total)
	return total, err
}

// TotalSize returns the plaintext bytes stored across all owners.
func (r *FileRepository) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM files`).Scan(&total)
	return total, err
}

// Count returns the number of stored file versions across all owners.
func (r *FileRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}
