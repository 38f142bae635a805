// Package idempotency makes quote issuance safe to retry: the first response for an
// Idempotency-Key is stored and replayed to every later request carrying the same key and body.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of a record.
type Status string

const (
	// DefaultTTL is how long records are kept when no TTL is configured.
	DefaultTTL = 24 * time.Hour
	// MaxKeyLength bounds client-supplied keys.
	MaxKeyLength = 255

	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and must run the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response is ready to replay.
	ReservationStateCompleted
	// ReservationStatePending means a concurrent request still holds the key.
	ReservationStatePending
)

// Reservation pairs a ReservationState with the record it was decided on.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is one stored key. The Firestore store persists it as is.
type Record struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          Status              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the handler output captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	// ErrFingerprintMismatch is returned when a key is reused for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")
	// ErrInvalidKey is returned for keys that are too long or contain non-printable characters.
	ErrInvalidKey = errors.New("idempotency: invalid key")
)

// replayedHeaders are the only response headers stored with a record.
var replayedHeaders = []string{"Content-Type", "Location", "Cache-Control", "Etag"}

// ValidateKey checks a client-supplied key: 1..MaxKeyLength visible ASCII characters.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// documentID maps a scoped key to a fixed-length storage id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func storableHeaders(header http.Header) map[string][]string {
	stored := make(map[string][]string)
	for _, name := range replayedHeaders {
		if values := header.Values(name); len(values) > 0 {
			stored[http.CanonicalHeaderKey(name)] = slices.Clone(values)
		}
	}
	if len(stored) == 0 {
		return nil
	}
	return stored
}

// header rebuilds the stored response headers.
func (r Record) header() http.Header {
	header := make(http.Header, len(r.ResponseHeaders))
	for name, values := range r.ResponseHeaders {
		header[http.CanonicalHeaderKey(name)] = slices.Clone(values)
	}
	return header
}

// reserve decides Reserve against the stored record (nil when absent). On ReservationStateNew the
// returned record is the pending entry the store must write.
func reserve(current *Record, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if current == nil || current.expired(now) {
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}}, nil
	}
	switch {
	case current.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case current.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: *current}, nil
	default:
		return Reservation{State: ReservationStatePending, Record: *current}, nil
	}
}

// complete builds the completed record that replaces current (nil when absent).
func complete(current *Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	created := now
	if current != nil {
		if current.Fingerprint != fingerprint {
			return Record{}, ErrFingerprintMismatch
		}
		if !current.CreatedAt.IsZero() {
			created = current.CreatedAt
		}
	}
	record := Record{
		Key:             key,
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: storableHeaders(resp.Headers),
		CreatedAt:       created,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if len(resp.Body) > 0 {
		record.ResponseBody = bytes.Clone(resp.Body)
	}
	return record, nil
}

func normalize(now time.Time, ttl time.Duration) (time.Time, time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.UTC(), ttl
}
