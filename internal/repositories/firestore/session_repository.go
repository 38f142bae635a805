package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pv-frame/api/internal/domain"
	pfirestore "github.com/pv-frame/api/internal/platform/firestore"
	"github.com/pv-frame/api/internal/repositories"
)

const sessionCollection = "configuratorSessions"

var (
	errStaleSession = errors.New("session changed since it was read")
	errSessionGone  = errors.New("session expired")
)

// SessionRepository persists configurator sessions in Firestore. Expired documents are hidden on read
// and removed by DeleteExpired; a Firestore TTL policy on expiresAt may also be configured.
type SessionRepository struct {
	provider *pfirestore.Provider
	sessions *pfirestore.Collection[sessionDocument]
	now      func() time.Time
}

var _ repositories.ConfigurationSessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider, clock func() time.Time) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionRepository{
		provider: provider,
		sessions: pfirestore.NewCollection[sessionDocument](provider, sessionCollection),
		now:      clock,
	}, nil
}

// Insert creates the session document.
func (r *SessionRepository) Insert(ctx context.Context, session domain.ConfigurationSession) error {
	return r.sessions.Create(ctx, strings.TrimSpace(session.ID), encodeSession(session))
}

// Get loads a live session.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.ConfigurationSession, error) {
	doc, err := r.sessions.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.ConfigurationSession{}, err
	}
	session := decodeSession(doc.ID, doc.Data)
	if r.expired(session) {
		return domain.ConfigurationSession{}, repositories.NewNotFoundError("configuratorSessions.get", errSessionGone)
	}
	return session, nil
}

// Update overwrites a live session inside a transaction. The stored updatedAt must still equal
// expectedUpdatedAt, so a concurrent writer on another instance turns this write into a conflict
// instead of being silently overwritten, and deleted sessions are not resurrected.
func (r *SessionRepository) Update(ctx context.Context, session domain.ConfigurationSession, expectedUpdatedAt time.Time) error {
	id := strings.TrimSpace(session.ID)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sessions.Doc(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("configuratorSessions.update", err)
		}
		current, err := r.sessions.Decode(snap)
		if err != nil {
			return err
		}
		if r.expired(decodeSession(current.ID, current.Data)) {
			return errSessionGone
		}
		if !sameInstant(current.Data.UpdatedAt, expectedUpdatedAt) {
			return errStaleSession
		}
		return tx.Set(ref, encodeSession(session))
	})
	switch {
	case errors.Is(err, errStaleSession):
		return repositories.NewConflictError("configuratorSessions.update", errStaleSession)
	case errors.Is(err, errSessionGone):
		return repositories.NewNotFoundError("configuratorSessions.update", errSessionGone)
	}
	return err
}

// Delete removes the session document.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.sessions.Delete(ctx, strings.TrimSpace(sessionID), true)
}

// DeleteExpired removes sessions whose expiresAt is at or before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	docs, err := r.sessions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", cutoff.UTC()).Limit(500)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if err := r.sessions.Delete(ctx, doc.ID, false); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// sameInstant compares at the microsecond precision Firestore stores timestamps with.
func sameInstant(stored, expected time.Time) bool {
	return stored.Truncate(time.Microsecond).Equal(expected.Truncate(time.Microsecond))
}

func (r *SessionRepository) expired(session domain.ConfigurationSession) bool {
	return !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(r.now())
}

type sessionDocument struct {
	Configuration configurationDocument `firestore:"configuration"`
	Uploads       []artDocument         `firestore:"uploads,omitempty"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
	ExpiresAt     time.Time             `firestore:"expiresAt"`
}

type configurationDocument struct {
	Art              artDocument `firestore:"art"`
	FrameColor       string      `firestore:"frameColor"`
	FrameThicknessMm int         `firestore:"frameThicknessMm"`
	FrameDepthMm     int         `firestore:"frameDepthMm"`
	MatteEnabled     bool        `firestore:"matteEnabled"`
	MatteWidthCm     int         `firestore:"matteWidthCm"`
	MatteColor       string      `firestore:"matteColor"`
	WidthCm          float64     `firestore:"widthCm"`
	HeightCm         float64     `firestore:"heightCm"`
	Material         string      `firestore:"material"`
	Glass            string      `firestore:"glass"`
	SnapshotURL      string      `firestore:"snapshotUrl,omitempty"`
	BaseSKU          string      `firestore:"baseSku"`
	Price            int64       `firestore:"price"`
}

type artDocument struct {
	ID     string `firestore:"id"`
	URL    string `firestore:"url"`
	Ratio  string `firestore:"ratio,omitempty"`
	Title  string `firestore:"title,omitempty"`
	Source string `firestore:"source"`
}

func encodeSession(session domain.ConfigurationSession) sessionDocument {
	cfg := session.Configuration
	doc := sessionDocument{
		Configuration: configurationDocument{
			Art:              encodeArt(cfg.Art),
			FrameColor:       cfg.Frame.Color,
			FrameThicknessMm: cfg.Frame.ThicknessMm,
			FrameDepthMm:     cfg.Frame.DepthMm,
			MatteEnabled:     cfg.Matte.Enabled,
			MatteWidthCm:     cfg.Matte.WidthCm,
			MatteColor:       cfg.Matte.Color,
			WidthCm:          cfg.Size.WidthCm,
			HeightCm:         cfg.Size.HeightCm,
			Material:         cfg.Material,
			Glass:            cfg.Glass,
			SnapshotURL:      cfg.SnapshotURL,
			BaseSKU:          cfg.BaseSKU,
			Price:            cfg.Price,
		},
		CreatedAt: session.CreatedAt.UTC(),
		UpdatedAt: session.UpdatedAt.UTC(),
		ExpiresAt: session.ExpiresAt.UTC(),
	}
	for _, upload := range session.Uploads {
		doc.Uploads = append(doc.Uploads, encodeArt(upload))
	}
	return doc
}

func decodeSession(id string, doc sessionDocument) domain.ConfigurationSession {
	c := doc.Configuration
	session := domain.ConfigurationSession{
		ID: id,
		Configuration: domain.Configuration{
			Art:         decodeArt(c.Art),
			Frame:       domain.FrameOptions{Color: c.FrameColor, ThicknessMm: c.FrameThicknessMm, DepthMm: c.FrameDepthMm},
			Matte:       domain.MatteOptions{Enabled: c.MatteEnabled, WidthCm: c.MatteWidthCm, Color: c.MatteColor},
			Size:        domain.PrintSize{WidthCm: c.WidthCm, HeightCm: c.HeightCm},
			Material:    c.Material,
			Glass:       c.Glass,
			SnapshotURL: c.SnapshotURL,
			BaseSKU:     c.BaseSKU,
			Price:       c.Price,
		},
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
		ExpiresAt: doc.ExpiresAt.UTC(),
	}
	for _, upload := range doc.Uploads {
		session.Uploads = append(session.Uploads, decodeArt(upload))
	}
	return session
}

func encodeArt(ref domain.ArtReference) artDocument {
	return artDocument{ID: ref.ID, URL: ref.URL, Ratio: ref.Ratio, Title: ref.Title, Source: string(ref.Source)}
}

func decodeArt(doc artDocument) domain.ArtReference {
	return domain.ArtReference{ID: doc.ID, URL: doc.URL, Ratio: doc.Ratio, Title: doc.Title, Source: domain.ArtSource(doc.Source)}
}
