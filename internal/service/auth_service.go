package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLength = 72
)

// AuthOptions configures AuthService.
type AuthOptions struct {
	JWTSecret     string
	TokenTTL      time.Duration
	RateWindow    time.Duration
	RegisterLimit int
	LoginLimit    int
	BcryptCost    int
}

type AuthService struct {
	users     *repository.UserRepository
	guard     *LoginGuard
	audit     audit.Sink
	opts      AuthOptions
	dummyHash []byte
	now       func() time.Time
}

type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthService(users *repository.UserRepository, guard *LoginGuard, sink audit.Sink, opts AuthOptions) (*AuthService, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 8 * time.Hour
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.RegisterLimit <= 0 {
		opts.RegisterLimit = 8
	}
	if opts.LoginLimit <= 0 {
		opts.LoginLimit = 12
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if sink == nil {
		sink = audit.Discard{}
	}

	// Unknown emails are checked against this hash so they cost as much as real ones.
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("failed to seed dummy hash: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(random[:maxPasswordLength/3], opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to build dummy hash: %w", err)
	}

	return &AuthService{
		users:     users,
		guard:     guard,
		audit:     sink,
		opts:      opts,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

func canonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationErrorf("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return validationErrorf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return validationErrorf("password must be at most %d bytes", maxPasswordLength)
	}
	return nil
}

// Register creates a user account with the default role and signs it in.
func (s *AuthService) Register(ctx context.Context, email, password, ip string) (*models.User, string, error) {
	if err := s.guard.RateLimit(ctx, ActionRegister, ip, s.opts.RegisterLimit, s.opts.RateWindow); err != nil {
		return nil, "", err
	}

	email = canonicalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.users.ClearUnregisteredLoginAttempts(ctx, email); err != nil {
		return nil, "", fmt.Errorf("failed to reset login attempts: %w", err)
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}

	s.audit.Record(ctx, audit.Actor(user.ID), audit.Register, ip)
	return user, token, nil
}

// Login verifies credentials. A locked account is rejected before its
// password is evaluated. Emails without an account go through the same
// sequence of lock check, hash comparison and failure count, so every
// response matches the one a real account would give.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*models.User, string, error) {
	if err := s.guard.RateLimit(ctx, ActionLogin, ip, s.opts.LoginLimit, s.opts.RateWindow); err != nil {
		return nil, "", err
	}

	email = canonicalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", s.rejectUnregistered(ctx, email, password)
	}
	if err != nil {
		return nil, "", err
	}

	if err := s.guard.CheckLock(ctx, user.ID); err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if lockErr := s.guard.RecordFailure(ctx, user.ID); lockErr != nil {
			return nil, "", lockErr
		}
		return nil, "", ErrInvalidCredentials
	}

	if err := s.guard.RecordSuccess(ctx, user.ID); err != nil {
		return nil, "", err
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}

	s.audit.Record(ctx, audit.Actor(user.ID), audit.Login, ip)
	return user, token, nil
}

func (s *AuthService) rejectUnregistered(ctx context.Context, email, password string) error {
	if err := s.guard.CheckUnregisteredLock(ctx, email); err != nil {
		return err
	}
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	if lockErr := s.guard.RecordUnregisteredFailure(ctx, email); lockErr != nil {
		return lockErr
	}
	return ErrInvalidCredentials
}

func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.opts.JWTSecret))
}

// ValidateToken parses a session token into the caller identity.
func (s *AuthService) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %v, expected HS256", token.Method.Alg())
		}
		return []byte(s.opts.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, errors.New("invalid token")
	}
	return Identity{UserID: claims.UserID, Role: models.ParseRole(string(claims.Role))}, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}
