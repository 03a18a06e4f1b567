package repository

import (
	"context"
	"database/sql"
	"time"
)

// RateLimitRepository keeps fixed-window counters in the shared database so
// that limits survive restarts and apply across replicas.
type RateLimitRepository struct {
	db *sql.DB
}

func NewRateLimitRepository(db *sql.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// Increment adds one hit to key. A window that ended at or before now is
// replaced by a fresh one of length window starting at now.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	nowMs := toMillis(now)
	var count int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_counters (scope_key, count, window_end, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			count = CASE
				WHEN rate_limit_counters.window_end <= excluded.updated_at THEN 1
				ELSE rate_limit_counters.count + 1
			END,
			window_end = CASE
				WHEN rate_limit_counters.window_end <= excluded.updated_at THEN excluded.window_end
				ELSE rate_limit_counters.window_end
			END,
			updated_at = excluded.updated_at
		RETURNING count
	`, key, toMillis(now.Add(window)), nowMs).Scan(&count)
	return count, err
}

// DeleteExpired drops counters whose window has ended.
func (r *RateLimitRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE window_end <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
