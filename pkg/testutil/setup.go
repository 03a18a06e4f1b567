package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/secura/vault/pkg/database"
)

// TestConfig points at the per-test database file and blob directory.
type TestConfig struct {
	DBPath      string
	StoragePath string
}

// SetupTest opens a migrated SQLite database in a fresh temp directory.
// The directory itself is removed by the testing package; the returned
// func only closes the database so callers can defer it.
func SetupTest(t *testing.T) (*sql.DB, *TestConfig, func()) {
	t.Helper()

	dir := t.TempDir()
	cfg := &TestConfig{
		DBPath:      filepath.Join(dir, "vault.db"),
		StoragePath: filepath.Join(dir, "blobs"),
	}
	if err := os.Mkdir(cfg.StoragePath, 0o750); err != nil {
		t.Fatalf("create blob dir: %v", err)
	}

	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := database.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("migrate test database: %v", err)
	}

	var once sync.Once
	closeDB := func() {
		once.Do(func() {
			if err := db.Close(); err != nil {
				t.Logf("close test database: %v", err)
			}
		})
	}
	// Close before TempDir removal even when the caller forgets to.
	t.Cleanup(closeDB)

	return db, cfg, closeDB
}

// InsertUser creates a bare user row for tests that only need an owner.
func InsertUser(t *testing.T, db *sql.DB, id, email string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO users (id, email, password_hash, role, failed_attempts, created_at)
		VALUES (?, ?, 'x', 'user', 0, ?)
	`, id, email, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("insert user %q: %v", id, err)
	}
}

// Clock is a settable time source for tests.
type Clock struct {
	T time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{T: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	return c.T
}

func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
