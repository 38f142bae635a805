// Package memory provides process-local repositories backed by go-cache. They back single-instance
// deployments and tests; state is lost on restart.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/repositories"
)

const defaultCleanupInterval = 5 * time.Minute

var (
	errSessionIDRequired = errors.New("session id is required")
	errStaleSession      = errors.New("session changed since it was read")
)

// Option customises memory repositories.
type Option func(*options)

type options struct {
	cleanup time.Duration
	now     func() time.Time
}

// WithCleanupInterval overrides how often go-cache evicts expired entries in the background.
func WithCleanupInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.cleanup = interval
		}
	}
}

// WithClock injects the clock used to derive entry lifetimes from ExpiresAt.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{cleanup: defaultCleanupInterval, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// SessionRepository keeps configurator sessions in memory with per-entry expiry.
type SessionRepository struct {
	// mu orders writers so Update can compare and replace in one step.
	mu    sync.Mutex
	items *cache.Cache
	now   func() time.Time
}

var _ repositories.ConfigurationSessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs an empty in-memory session repository.
func NewSessionRepository(opts ...Option) *SessionRepository {
	o := buildOptions(opts)
	return &SessionRepository{
		items: cache.New(cache.NoExpiration, o.cleanup),
		now:   o.now,
	}
}

// Insert stores a new session. Existing ids are rejected as conflicts.
func (r *SessionRepository) Insert(ctx context.Context, session domain.ConfigurationSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return repositories.NewConflictError("sessions.insert", errSessionIDRequired)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.items.Add(id, cloneSession(session), r.lifetime(session.ExpiresAt)); err != nil {
		return repositories.NewConflictError("sessions.insert", err)
	}
	return nil
}

// Get returns a copy of the stored session.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.ConfigurationSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConfigurationSession{}, err
	}
	value, ok := r.items.Get(strings.TrimSpace(sessionID))
	if !ok {
		return domain.ConfigurationSession{}, repositories.NewNotFoundError("sessions.get", nil)
	}
	session := value.(domain.ConfigurationSession)
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(r.now()) {
		return domain.ConfigurationSession{}, repositories.NewNotFoundError("sessions.get", nil)
	}
	return cloneSession(session), nil
}

// Update replaces a live session and refreshes its expiry, provided nobody wrote it after expectedUpdatedAt.
func (r *SessionRepository) Update(ctx context.Context, session domain.ConfigurationSession, expectedUpdatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(session.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.items.Get(id)
	if !ok {
		return repositories.NewNotFoundError("sessions.update", nil)
	}
	stored := value.(domain.ConfigurationSession)
	if !stored.ExpiresAt.IsZero() && !stored.ExpiresAt.After(r.now()) {
		return repositories.NewNotFoundError("sessions.update", nil)
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return repositories.NewConflictError("sessions.update", errStaleSession)
	}
	r.items.Set(id, cloneSession(session), r.lifetime(session.ExpiresAt))
	return nil
}

// Delete removes the session. Missing sessions report not found.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items.Get(id); !ok {
		return repositories.NewNotFoundError("sessions.delete", nil)
	}
	r.items.Delete(id)
	return nil
}

// DeleteExpired evicts every session that expired at or before cutoff, including entries whose
// cache lifetime already ran out, and reports how many were removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// ItemCount includes entries past their cache lifetime, which Items skips.
	before := r.items.ItemCount()
	for id, item := range r.items.Items() {
		session, ok := item.Object.(domain.ConfigurationSession)
		if !ok || session.ExpiresAt.IsZero() || session.ExpiresAt.After(cutoff) {
			continue
		}
		r.items.Delete(id)
	}
	r.items.DeleteExpired()
	return max(before-r.items.ItemCount(), 0), nil
}

// Count reports the number of live sessions.
func (r *SessionRepository) Count() int {
	return r.items.ItemCount()
}

func (r *SessionRepository) lifetime(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return cache.NoExpiration
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		// go-cache treats zero as "use default"; keep the entry briefly so Get reports it expired.
		return time.Millisecond
	}
	return ttl
}

func cloneSession(session domain.ConfigurationSession) domain.ConfigurationSession {
	if session.Uploads != nil {
		session.Uploads = append([]domain.ArtReference(nil), session.Uploads...)
	}
	return session
}
