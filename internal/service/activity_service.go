package service

import (
	"context"
	"math"
	"time"

	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 100
	summaryDays          = 7
)

// ActivityService exposes the audit trail and usage figures.
type ActivityService struct {
	events *repository.AuditRepository
	files  *repository.FileRepository
	users  *repository.UserRepository
	now    func() time.Time
}

func NewActivityService(events *repository.AuditRepository, files *repository.FileRepository, users *repository.UserRepository) *ActivityService {
	return &ActivityService{events: events, files: files, users: users, now: time.Now}
}

func clampLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, validationErrorf("limit must not be negative")
	}
	if limit == 0 {
		return defaultActivityLimit, nil
	}
	if limit > maxActivityLimit {
		return maxActivityLimit, nil
	}
	return limit, nil
}

// ListForUser returns the caller's own events, newest first.
func (s *ActivityService) ListForUser(ctx context.Context, userID string, limit int) ([]*models.AuditEvent, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	return s.events.ListByUser(ctx, userID, limit)
}

// ListAll returns events of every user. Admin only.
func (s *ActivityService) ListAll(ctx context.Context, caller Identity, limit int) ([]*models.AuditEvent, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	return s.events.ListRecent(ctx, limit)
}

// ListUsers returns every account. Admin only.
func (s *ActivityService) ListUsers(ctx context.Context, caller Identity) ([]*models.User, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.users.List(ctx)
}

type DailyActivity struct {
	Date      string `json:"date"`
	Uploads   int    `json:"uploads"`
	Downloads int    `json:"downloads"`
}

type StorageSummary struct {
	TotalBytes      int64   `json:"total_bytes"`
	AddedLast7Bytes int64   `json:"added_last7_bytes"`
	TrendPercent    float64 `json:"trend_percent"`
}

type Summary struct {
	RangeDays      int             `json:"range_days"`
	UploadsLast7   int             `json:"uploads_last7"`
	DownloadsLast7 int             `json:"downloads_last7"`
	Series         []DailyActivity `json:"activity_series"`
	Storage        StorageSummary  `json:"storage"`
	FilesTotal     int             `json:"files_total"`
}

// Summary reports the caller's uploads and downloads per day over the last
// seven days and compares storage added this week against the week before.
func (s *ActivityService) Summary(ctx context.Context, userID string) (*Summary, error) {
	now := s.now().UTC()
	last7 := now.Add(-summaryDays * 24 * time.Hour)
	prev7 := now.Add(-2 * summaryDays * 24 * time.Hour)

	events, err := s.events.ListByUserSince(ctx, userID, last7)
	if err != nil {
		return nil, err
	}

	out := &Summary{RangeDays: summaryDays, Series: make([]DailyActivity, summaryDays)}
	index := make(map[string]int, summaryDays)
	for i := 0; i < summaryDays; i++ {
		day := startOfDay(now).AddDate(0, 0, i-(summaryDays-1)).Format("2006-01-02")
		out.Series[i].Date = day
		index[day] = i
	}

	for _, e := range events {
		recent := !e.CreatedAt.Before(last7)
		i, inSeries := index[e.CreatedAt.UTC().Format("2006-01-02")]
		switch audit.EventKind(e.Action) {
		case audit.UploadFile:
			if recent {
				out.UploadsLast7++
			}
			if inSeries {
				out.Series[i].Uploads++
			}
		case audit.DownloadFile:
			if recent {
				out.DownloadsLast7++
			}
			if inSeries {
				out.Series[i].Downloads++
			}
		}
	}

	files, err := s.files.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	var addedPrev7 int64
	for _, f := range files {
		out.Storage.TotalBytes += f.SizeBytes
		switch {
		case !f.CreatedAt.Before(last7):
			out.Storage.AddedLast7Bytes += f.SizeBytes
		case !f.CreatedAt.Before(prev7):
			addedPrev7 += f.SizeBytes
		}
	}
	out.FilesTotal = len(files)
	out.Storage.TrendPercent = trendPercent(out.Storage.AddedLast7Bytes, addedPrev7)

	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func trendPercent(current, previous int64) float64 {
	if previous > 0 {
		pct := float64(current-previous) / float64(previous) * 100
		return math.Round(pct*10) / 10
	}
	if current > 0 {
		return 100
	}
	return 0
}
