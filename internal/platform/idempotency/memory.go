package idempotency

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps records in a process-local go-cache. Expiry is judged on each record's
// ExpiresAt against the caller's clock, the cache TTL only bounds memory.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(DefaultTTL, 0)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = normalize(now, ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	res, err := reserve(s.get(id), key, fingerprint, now, ttl)
	if err == nil && res.State == ReservationStateNew {
		s.cache.Set(id, res.Record, ttl)
	}
	return res, err
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = normalize(now, ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, err := complete(s.get(id), key, fingerprint, resp, now, ttl)
	if err != nil {
		return err
	}
	s.cache.Set(id, record, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.cache.Delete(documentID(key))
	return nil
}

// CleanupExpired removes up to limit records expired at now. A non-positive limit removes all.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.DeleteExpired()
	removed := 0
	for id, item := range s.cache.Items() {
		if limit > 0 && removed == limit {
			break
		}
		if record, ok := item.Object.(Record); ok && !record.expired(now) {
			continue
		}
		s.cache.Delete(id)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) get(id string) *Record {
	if value, ok := s.cache.Get(id); ok {
		if record, ok := value.(Record); ok {
			return &record
		}
	}
	return nil
}
