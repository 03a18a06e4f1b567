package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
	"github.com/secura/vault/pkg/logger"
)

const (
	DefaultMaxFailedLogins = 5
	DefaultLockDuration    = 15 * time.Minute
)

// Rate limit actions.
const (
	ActionRegister      = "register"
	ActionLogin         = "login"
	ActionShareDownload = "share_download"
)

// CounterStore counts hits per key in fixed windows that start with the
// first hit. Increment returns the count including the current hit.
type CounterStore interface {
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
}

// MemoryCounterStore is a process-local CounterStore.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	count     int
	windowEnd time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*windowCounter)}
}

func (m *MemoryCounterStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !now.Before(c.windowEnd) {
		m.counters[key] = &windowCounter{count: 1, windowEnd: now.Add(window)}
		return 1, nil
	}
	c.count++
	return c.count, nil
}

// Sweep drops counters whose window has ended.
func (m *MemoryCounterStore) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.counters {
		if !now.Before(c.windowEnd) {
			delete(m.counters, key)
		}
	}
}

// LoginGuard applies the per-account lockout and per-source rate limits.
// Emails without an account get the same lockout, so a lock never tells a
// caller whether the account exists.
type LoginGuard struct {
	users       *repository.UserRepository
	counters    CounterStore
	fallback    *MemoryCounterStore
	maxFailures int
	lockFor     time.Duration
	now         func() time.Time

	mu sync.Mutex
	// fallbackUntil keeps rate limiting on the in-memory store until the
	// window in which the shared store failed has ended.
	fallbackUntil time.Time
}

// NewLoginGuard builds a guard. A nil counters store keeps counts in memory.
func NewLoginGuard(users *repository.UserRepository, counters CounterStore, maxFailures int, lockFor time.Duration) *LoginGuard {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailedLogins
	}
	if lockFor <= 0 {
		lockFor = DefaultLockDuration
	}
	fallback := NewMemoryCounterStore()
	if counters == nil {
		counters = fallback
	}
	return &LoginGuard{
		users:       users,
		counters:    counters,
		fallback:    fallback,
		maxFailures: maxFailures,
		lockFor:     lockFor,
		now:         time.Now,
	}
}

// CheckLock returns a *LockedError while the account is locked.
func (g *LoginGuard) CheckLock(ctx context.Context, accountID string) error {
	state, err := g.users.LoginState(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	return lockedErr(state, g.now())
}

func lockedErr(state *models.LoginAttemptState, now time.Time) error {
	if !state.Locked(now) {
		return nil
	}
	return &LockedError{Remaining: state.Remaining(now)}
}

// RecordFailure counts a failed credential check. It returns a *LockedError
// when this failure locks the account.
func (g *LoginGuard) RecordFailure(ctx context.Context, accountID string) error {
	now := g.now()
	state, applied, err := g.users.RecordLoginFailure(ctx, accountID, now, g.maxFailures, g.lockFor)
	if err != nil {
		return err
	}
	if applied && state.Locked(now) {
		logger.Warn().Str("component", "login_guard").Str("user_id", accountID).
			Time("lock_until", *state.LockUntil).
			Msg("Account locked after repeated failed logins")
	}
	return lockedErr(state, now)
}

// RecordSuccess resets the failure counter. If a concurrent failure locked
// the account after CheckLock ran, the lock stays and a *LockedError is
// returned.
func (g *LoginGuard) RecordSuccess(ctx context.Context, accountID string) error {
	now := g.now()
	applied, err := g.users.RecordLoginSuccess(ctx, accountID, now)
	if err != nil || applied {
		return err
	}
	state, err := g.users.LoginState(ctx, accountID)
	if err != nil {
		return err
	}
	return lockedErr(state, now)
}

// CheckUnregisteredLock is CheckLock for an email that has no account.
func (g *LoginGuard) CheckUnregisteredLock(ctx context.Context, email string) error {
	state, err := g.users.UnregisteredLoginState(ctx, email)
	if err != nil {
		return err
	}
	return lockedErr(state, g.now())
}

// RecordUnregisteredFailure is RecordFailure for an email that has no account.
func (g *LoginGuard) RecordUnregisteredFailure(ctx context.Context, email string) error {
	now := g.now()
	state, _, err := g.users.RecordUnregisteredLoginFailure(ctx, email, now, g.maxFailures, g.lockFor)
	if err != nil {
		return err
	}
	return lockedErr(state, now)
}

// Allow counts one request for (action, source) and reports whether it is
// within limit for the current window. When the shared store fails, all keys
// move to the process-local store until one window has passed, so hits are
// not split between the two stores request by request.
func (g *LoginGuard) Allow(ctx context.Context, action, source string, limit int, window time.Duration) bool {
	key := action + ":" + source
	now := g.now()

	if g.usingFallback(now) {
		count, _ := g.fallback.Increment(ctx, key, now, window)
		return count <= limit
	}

	count, err := g.counters.Increment(ctx, key, now, window)
	if err != nil {
		g.switchToFallback(now, window)
		logger.Warn().Err(err).Str("component", "login_guard").Str("action", action).
			Dur("for", window).
			Msg("Rate limit store unavailable; using in-memory counters")
		count, _ = g.fallback.Increment(ctx, key, now, window)
	}
	return count <= limit
}

func (g *LoginGuard) usingFallback(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.fallbackUntil)
}

func (g *LoginGuard) switchToFallback(now time.Time, window time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := now.Add(window); until.After(g.fallbackUntil) {
		g.fallbackUntil = until
	}
}

// RateLimit is Allow returning ErrRateLimited when the limit is exceeded.
func (g *LoginGuard) RateLimit(ctx context.Context, action, source string, limit int, window time.Duration) error {
	if !g.Allow(ctx, action, source, limit, window) {
		return ErrRateLimited
	}
	return nil
}

// Sweep drops expired in-memory counters and idle attempt rows of
// unregistered emails.
func (g *LoginGuard) Sweep(ctx context.Context) error {
	now := g.now()
	g.fallback.Sweep(now)
	if m, ok := g.counters.(*MemoryCounterStore); ok && m != g.fallback {
		m.Sweep(now)
	}
	_, err := g.users.DeleteIdleUnregisteredAttempts(ctx, now)
	return err
}
