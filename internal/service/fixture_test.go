package service

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/blob"
	"github.com/secura/vault/internal/envelope"
	"github.com/secura/vault/internal/repository"
	"github.com/secura/vault/pkg/testutil"
	"golang.org/x/crypto/bcrypt"
)

type recordedEvent struct {
	actor string
	kind  audit.EventKind
	ip    string
}

// recordingSink captures events synchronously.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) Record(_ context.Context, actor *string, kind audit.EventKind, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := recordedEvent{kind: kind, ip: ip}
	if actor != nil {
		e.actor = *actor
	}
	r.events = append(r.events, e)
}

func (r *recordingSink) last() recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return recordedEvent{}
	}
	return r.events[len(r.events)-1]
}

func (r *recordingSink) count(kind audit.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	db          *sql.DB
	storagePath string
	clock       *testutil.Clock
	sink        *recordingSink
	blobs       *blob.FileStore
	fileRepo    *repository.FileRepository
	files       *FileService
	shares      *ShareService
	guard       *LoginGuard
	auth        *AuthService
	activity    *ActivityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, cfg, cleanup := testutil.SetupTest(t)
	t.Cleanup(cleanup)

	keys, err := envelope.NewKeyManager(bytes.Repeat([]byte{0x5a}, envelope.KeySize))
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	cipher, err := envelope.NewCipher(keys, envelope.SuiteAESGCM)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	blobs, err := blob.NewFileStore(cfg.StoragePath)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	clock := testutil.NewClock()
	sink := &recordingSink{}
	fileRepo := repository.NewFileRepository(db)
	userRepo := repository.NewUserRepository(db)

	files := NewFileService(fileRepo, blobs, cipher, sink, 0)
	files.now = clock.Now
	shares := NewShareService(repository.NewShareRepository(db), files, sink)
	shares.now = clock.Now

	guard := NewLoginGuard(userRepo, repository.NewRateLimitRepository(db), 5, 15*time.Minute)
	guard.now = clock.Now

	auth, err := NewAuthService(userRepo, guard, sink, AuthOptions{
		JWTSecret:  "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	auth.now = clock.Now

	activity := NewActivityService(repository.NewAuditRepository(db), fileRepo, userRepo)
	activity.now = clock.Now

	return &fixture{
		db:          db,
		storagePath: cfg.StoragePath,
		clock:       clock,
		sink:        sink,
		blobs:       blobs,
		fileRepo:    fileRepo,
		files:       files,
		shares:      shares,
		guard:       guard,
		auth:        auth,
		activity:    activity,
	}
}

// addUser inserts a user directly and returns its id.
func (f *fixture) addUser(t *testing.T, id string) string {
	t.Helper()
	testutil.InsertUser(t, f.db, id, id+"@example.com")
	return id
}
