package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/secura/vault/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, role, failed_attempts, lock_until, created_at`

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, failed_attempts, lock_until, created_at)
		VALUES (?, ?, ?, ?, 0, NULL, ?)
	`, user.ID, user.Email, user.PasswordHash, string(user.Role), toMillis(user.CreatedAt))
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	var role string
	var lockUntil sql.NullInt64
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role, &user.FailedAttempts, &lockUntil, &createdAt); err != nil {
		return nil, err
	}
	user.Role = models.ParseRole(role)
	user.LockUntil = timePtr(lockUntil)
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role models.Role) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LoginState returns the failed-attempt counter and lock of an account.
func (r *UserRepository) LoginState(ctx context.Context, id string) (*models.LoginAttemptState, error) {
	state := &models.LoginAttemptState{}
	var lockUntil sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT failed_attempts, lock_until FROM users WHERE id = ?`, id,
	).Scan(&state.FailedAttempts, &lockUntil)
	if err != nil {
		return nil, err
	}
	state.LockUntil = timePtr(lockUntil)
	return state, nil
}

// RecordLoginFailure counts one failed attempt in a single statement. When the
// count reaches threshold the account is locked until now+lockFor and the
// counter restarts at zero. Attempts made while the account is locked do not
// count; in that case applied is false and the unchanged state is returned.
func (r *UserRepository) RecordLoginFailure(
	ctx context.Context,
	id string,
	now time.Time,
	threshold int,
	lockFor time.Duration,
) (state *models.LoginAttemptState, applied bool, err error) {
	nowMs := toMillis(now)
	lockUntilMs := toMillis(now.Add(lockFor))

	state = &models.LoginAttemptState{}
	var lockUntil sql.NullInt64
	err = r.db.QueryRowContext(ctx, `
		UPDATE users SET
			failed_attempts = CASE WHEN failed_attempts + 1 >= ? THEN 0 ELSE failed_attempts + 1 END,
			lock_until = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE lock_until END
		WHERE id = ? AND (lock_until IS NULL OR lock_until <= ?)
		RETURNING failed_attempts, lock_until
	`, threshold, threshold, lockUntilMs, id, nowMs).Scan(&state.FailedAttempts, &lockUntil)
	if errors.Is(err, sql.ErrNoRows) {
		current, lookupErr := r.LoginState(ctx, id)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	state.LockUntil = timePtr(lockUntil)
	return state, true, nil
}

// RecordLoginSuccess resets the counter and clears an elapsed lock. A lock
// still in force at now is left alone and applied is false, so a lock set by a
// concurrent failure is never cleared by a login that checked before it.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string, now time.Time) (applied bool, err error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET failed_attempts = 0, lock_until = NULL
		WHERE id = ? AND (lock_until IS NULL OR lock_until <= ?)
	`, id, toMillis(now))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// UnregisteredLoginState returns the attempt state kept for an email that has
// no account. An email never seen reports the zero state.
func (r *UserRepository) UnregisteredLoginState(ctx context.Context, email string) (*models.LoginAttemptState, error) {
	state := &models.LoginAttemptState{}
	var lockUntil sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT failed_attempts, lock_until FROM unregistered_login_attempts WHERE email = ?`, email,
	).Scan(&state.FailedAttempts, &lockUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	state.LockUntil = timePtr(lockUntil)
	return state, nil
}

// RecordUnregisteredLoginFailure is RecordLoginFailure for an email that has
// no account: same threshold, same lock, same treatment of attempts made
// while locked.
func (r *UserRepository) RecordUnregisteredLoginFailure(
	ctx context.Context,
	email string,
	now time.Time,
	threshold int,
	lockFor time.Duration,
) (state *models.LoginAttemptState, applied bool, err error) {
	nowMs := toMillis(now)
	lockUntilMs := toMillis(now.Add(lockFor))

	state = &models.LoginAttemptState{}
	var lockUntil sql.NullInt64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO unregistered_login_attempts (email, failed_attempts, lock_until)
		VALUES (?,
			CASE WHEN 1 >= ? THEN 0 ELSE 1 END,
			CASE WHEN 1 >= ? THEN ? ELSE NULL END)
		ON CONFLICT(email) DO UPDATE SET
			failed_attempts = CASE
				WHEN unregistered_login_attempts.failed_attempts + 1 >= ? THEN 0
				ELSE unregistered_login_attempts.failed_attempts + 1
			END,
			lock_until = CASE
				WHEN unregistered_login_attempts.failed_attempts + 1 >= ? THEN ?
				ELSE unregistered_login_attempts.lock_until
			END
		WHERE unregistered_login_attempts.lock_until IS NULL
			OR unregistered_login_attempts.lock_until <= ?
		RETURNING failed_attempts, lock_until
	`, email, threshold, threshold, lockUntilMs, threshold, threshold, lockUntilMs, nowMs,
	).Scan(&state.FailedAttempts, &lockUntil)
	if errors.Is(err, sql.ErrNoRows) {
		current, lookupErr := r.UnregisteredLoginState(ctx, email)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	state.LockUntil = timePtr(lockUntil)
	return state, true, nil
}

// ClearUnregisteredLoginAttempts forgets the attempts made against an email
// before it was registered.
func (r *UserRepository) ClearUnregisteredLoginAttempts(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM unregistered_login_attempts WHERE email = ?`, email)
	return err
}

// DeleteIdleUnregisteredAttempts drops rows that hold no failures and no lock
// in force; such a row behaves exactly like a missing one.
func (r *UserRepository) DeleteIdleUnregisteredAttempts(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM unregistered_login_attempts
		WHERE failed_attempts = 0 AND (lock_until IS NULL OR lock_until <= ?)
	`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// List returns all users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
