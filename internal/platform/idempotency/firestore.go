package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/pv-frame/api/internal/platform/firestore"
)

const (
	defaultCollection   = "quote_idempotency_keys"
	defaultCleanupLimit = 100
)

// FirestoreStore shares records across replicas through Firestore transactions.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

var _ Store = (*FirestoreStore)(nil)

// FirestoreOption customises NewFirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding the records.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore returns a store on provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	s := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = normalize(now, ttl)
	var res Reservation
	err := s.update(ctx, key, "idempotency.reserve", func(current *Record) (*Record, error) {
		var err error
		res, err = reserve(current, key, fingerprint, now, ttl)
		if err != nil || res.State != ReservationStateNew {
			return nil, err
		}
		return &res.Record, nil
	})
	return res, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = normalize(now, ttl)
	return s.update(ctx, key, "idempotency.save", func(current *Record) (*Record, error) {
		record, err := complete(current, key, fingerprint, resp, now, ttl)
		return &record, err
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// CleanupExpired deletes up to limit records whose expires_at has passed.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bulk := client.BulkWriter(ctx)
	defer bulk.End()
	for _, doc := range docs {
		if _, err := bulk.Delete(doc.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	return len(docs), nil
}

// update reads the record in a transaction and writes whatever fn returns. A nil record leaves
// the document untouched.
func (s *FirestoreStore) update(ctx context.Context, key, op string, fn func(current *Record) (*Record, error)) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *Record
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = new(Record)
			if err := snap.DataTo(current); err != nil {
				return err
			}
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		return tx.Set(ref, *next)
	})
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return pfirestore.WrapError(op, err)
	}
	return err
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}
