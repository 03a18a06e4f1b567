package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/secura/vault/internal/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	var userID sql.NullString
	if e.UserID != nil {
		userID = sql.NullString{String: *e.UserID, Valid: true}
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, ip, created_at) VALUES (?, ?, ?, ?)
	`, userID, e.Action, e.IP, toMillis(e.CreatedAt))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err == nil {
		e.ID = id
	}
	return nil
}

// ListByUser returns the newest events attributed to userID.
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditEvent, error) {
	return r.query(ctx, `
		SELECT id, user_id, action, ip, created_at FROM audit_logs
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, userID, limit)
}

// ListByUserSince returns the user's events at or after since, oldest first.
func (r *AuditRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*models.AuditEvent, error) {
	return r.query(ctx, `
		SELECT id, user_id, action, ip, created_at FROM audit_logs
		WHERE user_id = ? AND created_at >= ? ORDER BY created_at ASC, id ASC
	`, userID, toMillis(since))
}

// ListRecent returns the newest events across all users.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	return r.query(ctx, `
		SELECT id, user_id, action, ip, created_at FROM audit_logs
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
}

func (r *AuditRepository) query(ctx context.Context, q string, args ...any) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		e := &models.AuditEvent{}
		var userID sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.IP, &createdAt); err != nil {
			return nil, err
		}
		if userID.Valid {
			uid := userID.String
			e.UserID = &uid
		}
		e.CreatedAt = fromMillis(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
