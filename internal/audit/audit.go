// Package audit records security-relevant events without slowing down or
// failing the operation that produced them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/pkg/logger"
)

type EventKind string

const (
	UploadFile      EventKind = "UPLOAD_FILE"
	DownloadFile    EventKind = "DOWNLOAD_FILE"
	ShareCreated    EventKind = "SHARE_CREATED"
	ShareDownloaded EventKind = "SHARE_DOWNLOADED"
	ShareRevoked    EventKind = "SHARE_REVOKED"
	Login           EventKind = "LOGIN"
	Register        EventKind = "REGISTER"
)

// UnknownIP is recorded when the source address is not known.
const UnknownIP = "unknown"

// Sink accepts audit events. Record must not block and never fails the caller.
type Sink interface {
	Record(ctx context.Context, actor *string, kind EventKind, ip string)
}

// Store persists audit events.
type Store interface {
	Insert(ctx context.Context, e *models.AuditEvent) error
}

// Discard is a Sink that drops every event.
type Discard struct{}

func (Discard) Record(context.Context, *string, EventKind, string) {}

// Actor returns a pointer suitable for Record's actor argument.
func Actor(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

const (
	defaultQueueSize = 1024
	defaultWorkers   = 2
	writeTimeout     = 5 * time.Second
)

// Recorder queues events and persists them from a fixed pool of workers.
// Events are dropped with a warning when the queue is full.
type Recorder struct {
	store Store
	now   func() time.Time

	jobs     chan *models.AuditEvent
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

func NewRecorder(store Store, queueSize, workers int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	r := &Recorder{
		store: store,
		now:   time.Now,
		jobs:  make(chan *models.AuditEvent, queueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.worker()
		}()
	}
	return r
}

func (r *Recorder) worker() {
	for {
		select {
		case e := <-r.jobs:
			r.persist(e)
		case <-r.stop:
			// Drain whatever was queued before Stop.
			for {
				select {
				case e := <-r.jobs:
					r.persist(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(e *models.AuditEvent) {
	userID := ""
	if e.UserID != nil {
		userID = *e.UserID
	}
	logger.Audit(e.Action, userID, map[string]string{"ip": e.IP})

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Insert(ctx, e); err != nil {
		logger.Warn().
			Err(err).
			Str("component", "audit").
			Str("action", e.Action).
			Msg("Failed to persist audit event")
	}
}

func (r *Recorder) Record(ctx context.Context, actor *string, kind EventKind, ip string) {
	if ip == "" {
		ip = UnknownIP
	}
	var userID *string
	if actor != nil {
		id := *actor
		userID = &id
	}
	e := &models.AuditEvent{UserID: userID, Action: string(kind), IP: ip, CreatedAt: r.now()}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		logger.Warn().Str("component", "audit").Str("action", e.Action).
			Msg("Audit recorder is stopped; dropping event")
		return
	}

	select {
	case r.jobs <- e:
	default:
		logger.Warn().Str("component", "audit").Str("action", e.Action).
			Msg("Audit queue is full; dropping event")
	}
}

// Stop rejects new events, persists queued ones and waits for the workers.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.stop)
		r.wg.Wait()
	})
}
