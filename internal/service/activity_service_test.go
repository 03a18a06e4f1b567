package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertEvent(t *testing.T, f *fixture, user string, kind audit.EventKind, at time.Time) {
	t.Helper()
	err := repository.NewAuditRepository(f.db).Insert(context.Background(), &models.AuditEvent{
		UserID:    audit.Actor(user),
		Action:    string(kind),
		IP:        "10.0.0.1",
		CreatedAt: at,
	})
	require.NoError(t, err)
}

func insertFile(t *testing.T, f *fixture, owner string, size int64, at time.Time) {
	t.Helper()
	err := f.fileRepo.CreateVersion(context.Background(), &models.StoredFile{
		ID:           uuid.NewString(),
		LogicalID:    uuid.NewString(),
		OwnerID:      owner,
		OriginalName: uuid.NewString() + ".bin",
		BlobRef:      uuid.NewString(),
		MimeType:     "application/octet-stream",
		SizeBytes:    size,
		CreatedAt:    at,
	})
	require.NoError(t, err)
}

func TestActivityService_ListForUser(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	now := f.clock.Now()

	for i := 0; i < 3; i++ {
		insertEvent(t, f, alice, audit.UploadFile, now.Add(time.Duration(i)*time.Minute))
	}
	insertEvent(t, f, bob, audit.Login, now)

	events, err := f.activity.ListForUser(context.Background(), alice, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].CreatedAt.After(events[2].CreatedAt), "newest first")
	for _, e := range events {
		assert.Equal(t, alice, *e.UserID)
	}

	events, err = f.activity.ListForUser(context.Background(), alice, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = f.activity.ListForUser(context.Background(), alice, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActivityService_ClampLimit(t *testing.T) {
	for in, want := range map[int]int{0: 50, 1: 1, 100: 100, 1000: 100} {
		got, err := clampLimit(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "limit %d", in)
	}
}

func TestActivityService_AdminOnlyViews(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	insertEvent(t, f, alice, audit.Login, f.clock.Now())
	insertEvent(t, f, bob, audit.Login, f.clock.Now())
	ctx := context.Background()

	user := Identity{UserID: alice, Role: models.RoleUser}
	_, err := f.activity.ListAll(ctx, user, 10)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.activity.ListUsers(ctx, user)
	assert.ErrorIs(t, err, ErrForbidden)

	admin := Identity{UserID: bob, Role: models.RoleAdmin}
	events, err := f.activity.ListAll(ctx, admin, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	users, err := f.activity.ListUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestActivityService_Summary(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser(t, "owner-1")
	other := f.addUser(t, "other")
	now := f.clock.Now()
	day := 24 * time.Hour

	insertEvent(t, f, owner, audit.UploadFile, now)
	insertEvent(t, f, owner, audit.UploadFile, now.Add(-2*day))
	insertEvent(t, f, owner, audit.DownloadFile, now.Add(-2*day))
	// Inside the seven day window but before the first day of the series.
	insertEvent(t, f, owner, audit.DownloadFile, now.Add(-7*day+time.Hour))
	// Outside the window.
	insertEvent(t, f, owner, audit.UploadFile, now.Add(-8*day))
	insertEvent(t, f, owner, audit.Login, now)
	insertEvent(t, f, other, audit.UploadFile, now)

	insertFile(t, f, owner, 300, now.Add(-time.Hour))
	insertFile(t, f, owner, 100, now.Add(-10*day))
	insertFile(t, f, owner, 50, now.Add(-30*day))
	insertFile(t, f, other, 999, now)

	summary, err := f.activity.Summary(context.Background(), owner)
	require.NoError(t, err)

	assert.Equal(t, 7, summary.RangeDays)
	assert.Equal(t, 2, summary.UploadsLast7)
	assert.Equal(t, 2, summary.DownloadsLast7)

	require.Len(t, summary.Series, 7)
	assert.Equal(t, "2024-04-25", summary.Series[0].Date)
	assert.Equal(t, "2024-05-01", summary.Series[6].Date)
	assert.Equal(t, DailyActivity{Date: "2024-05-01", Uploads: 1}, summary.Series[6])
	assert.Equal(t, DailyActivity{Date: "2024-04-29", Uploads: 1, Downloads: 1}, summary.Series[4])

	assert.Equal(t, 3, summary.FilesTotal)
	assert.Equal(t, int64(450), summary.Storage.TotalBytes)
	assert.Equal(t, int64(300), summary.Storage.AddedLast7Bytes)
	assert.Equal(t, 200.0, summary.Storage.TrendPercent)
}

func TestTrendPercent(t *testing.T) {
	assert.Equal(t, 0.0, trendPercent(0, 0))
	assert.Equal(t, 100.0, trendPercent(10, 0))
	assert.Equal(t, -50.0, trendPercent(50, 100))
	assert.Equal(t, 33.3, trendPercent(4, 3))
}
