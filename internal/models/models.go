package models

import "time"

// Role is the authorization role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole maps a stored value to a Role, defaulting to RoleUser.
func ParseRole(s string) Role {
	r := Role(s)
	if !r.Valid() {
		return RoleUser
	}
	return r
}

type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	FailedAttempts int        `json:"-"`
	LockUntil      *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StoredFile is the metadata of one immutable version of a logical file.
type StoredFile struct {
	ID           string    `json:"id"`
	LogicalID    string    `json:"logical_id"`
	OwnerID      string    `json:"owner_id"`
	OriginalName string    `json:"original_name"`
	BlobRef      string    `json:"-"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Version      int       `json:"version"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShareLink grants bearer access to exactly one file version.
type ShareLink struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	FileID    string     `json:"file_id"`
	CreatedBy string     `json:"created_by"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the link is past its expiry at now.
func (s *ShareLink) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

type AuditEvent struct {
	ID        int64     `json:"id"`
	UserID    *string   `json:"user_id"`
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginAttemptState tracks consecutive failed logins and the temporary lock.
type LoginAttemptState struct {
	FailedAttempts int
	LockUntil      *time.Time
}

// Locked reports whether the account is locked at now.
func (s LoginAttemptState) Locked(now time.Time) bool {
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// Remaining is the lock time left at now, or zero when open.
func (s LoginAttemptState) Remaining(now time.Time) time.Duration {
	if !s.Locked(now) {
		return 0
	}
	return s.LockUntil.Sub(now)
}
