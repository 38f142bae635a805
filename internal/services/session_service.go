package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/pv-frame/api/internal/catalog"
	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/repositories"
)

const (
	defaultSessionTTL = 24 * time.Hour
	// MaxRecentUploads bounds the per-session list of uploaded artworks.
	MaxRecentUploads = 8
	// mutateAttempts bounds how often a batch is re-applied when another instance wrote the session first.
	mutateAttempts = 3
)

var (
	errSessionRepositoryRequired = errors.New("session service: repository is required")
	errSessionCatalogRequired    = errors.New("session service: catalog is required")
)

// ErrSessionInvalidInput indicates the caller supplied invalid input.
var ErrSessionInvalidInput = errors.New("session service: invalid input")

// ErrSessionNotFound indicates the session does not exist or has expired.
var ErrSessionNotFound = errors.New("session service: not found")

// ErrSessionConflict indicates the session kept changing on another instance while the batch was applied.
var ErrSessionConflict = errors.New("session service: concurrent update")

// ErrSessionUnavailable indicates the session backend could not serve the request.
var ErrSessionUnavailable = errors.New("session service: unavailable")

// SessionServiceDeps wires the collaborators of the session service.
type SessionServiceDeps struct {
	Repository  repositories.ConfigurationSessionRepository
	Catalog     *catalog.Catalog
	Formatter   *PriceFormatter
	TTL         time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type sessionService struct {
	repo      repositories.ConfigurationSessionRepository
	catalog   *catalog.Catalog
	rates     domain.PricingRates
	formatter *PriceFormatter
	ttl       time.Duration
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	locks     *keyedLock
	titles    *bluemonday.Policy
}

var _ SessionService = (*sessionService)(nil)

// NewSessionService constructs a SessionService enforcing dependency validation.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Repository == nil {
		return nil, errSessionRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errSessionCatalogRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	formatter := deps.Formatter
	if formatter == nil {
		formatter = DefaultPriceFormatter()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &sessionService{
		repo:      deps.Repository,
		catalog:   deps.Catalog,
		rates:     deps.Catalog.Rates(),
		formatter: formatter,
		ttl:       ttl,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
		locks:     newKeyedLock(),
		titles:    bluemonday.StrictPolicy(),
	}, nil
}

func (s *sessionService) CreateSession(ctx context.Context) (SessionView, error) {
	now := s.now()
	configurator := NewConfigurator(s.rates)
	configurator.CalculatePrice()

	session := ConfigurationSession{
		ID:            s.newID(),
		Configuration: configurator.Snapshot(),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.repo.Insert(ctx, session); err != nil {
		return SessionView{}, s.translateRepoError(err)
	}

	s.logger(ctx, "session.created", map[string]any{
		"sessionId": session.ID,
		"price":     session.Configuration.Price,
	})
	return s.view(session), nil
}

func (s *sessionService) GetSession(ctx context.Context, sessionID string) (SessionView, error) {
	id, err := normaliseSessionID(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return SessionView{}, s.translateRepoError(err)
	}
	return s.view(session), nil
}

func (s *sessionService) UpdateSession(ctx context.Context, cmd UpdateSessionCommand) (SessionView, error) {
	return s.mutate(ctx, cmd.SessionID, "session.updated", func(session *ConfigurationSession, c *Configurator) error {
		if cmd.Art != nil {
			ref, err := s.resolveArt(*cmd.Art, session.Uploads)
			if err != nil {
				return err
			}
			c.SetArt(ref)
		}
		if cmd.FrameColor != nil {
			c.SetFrameColor(*cmd.FrameColor)
		}
		if cmd.FrameThicknessMm != nil {
			c.SetFrameThickness(*cmd.FrameThicknessMm)
		}
		if cmd.FrameDepthMm != nil {
			c.SetFrameDepth(*cmd.FrameDepthMm)
		}
		if cmd.MatteEnabled != nil {
			c.SetMatteEnabled(*cmd.MatteEnabled)
		}
		if cmd.MatteWidthCm != nil {
			c.SetMatteWidth(*cmd.MatteWidthCm)
		}
		if cmd.MatteColor != nil {
			c.SetMatteColor(*cmd.MatteColor)
		}
		if cmd.Size != nil {
			c.SetSize(cmd.Size.WidthCm, cmd.Size.HeightCm)
		}
		if cmd.Material != nil {
			c.SetMaterial(*cmd.Material)
		}
		if cmd.Glass != nil {
			c.SetGlass(*cmd.Glass)
		}
		if cmd.SnapshotURL != nil {
			c.SetSnapshotURL(*cmd.SnapshotURL)
		}
		return nil
	})
}

func (s *sessionService) ResetSession(ctx context.Context, sessionID string) (SessionView, error) {
	return s.mutate(ctx, sessionID, "session.reset", func(_ *ConfigurationSession, c *Configurator) error {
		c.Reset()
		return nil
	})
}

func (s *sessionService) RecordUpload(ctx context.Context, sessionID string, ref ArtReference) (SessionView, error) {
	if strings.TrimSpace(ref.ID) == "" || strings.TrimSpace(ref.URL) == "" {
		return SessionView{}, ErrSessionInvalidInput
	}
	ref.Source = domain.ArtSourceUpload
	return s.mutate(ctx, sessionID, "session.upload_recorded", func(session *ConfigurationSession, c *Configurator) error {
		session.Uploads = pushRecentUpload(session.Uploads, ref)
		c.SetArt(ref)
		return nil
	})
}

func (s *sessionService) DeleteSession(ctx context.Context, sessionID string) error {
	id, err := normaliseSessionID(sessionID)
	if err != nil {
		return err
	}
	release := s.locks.Lock(id)
	defer release()

	if err := s.repo.Delete(ctx, id); err != nil {
		return s.translateRepoError(err)
	}
	s.logger(ctx, "session.deleted", map[string]any{"sessionId": id})
	return nil
}

func (s *sessionService) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return removed, s.translateRepoError(err)
	}
	if removed > 0 {
		s.logger(ctx, "session.purged", map[string]any{"removed": removed})
	}
	return removed, nil
}

// mutate loads the session under its lock, applies the batch, recomputes once and persists. The
// write is conditional on the session being unchanged since the load; the local lock only covers
// this process, so a conflict from the repository reloads and re-applies the batch.
func (s *sessionService) mutate(ctx context.Context, sessionID, event string, apply func(*ConfigurationSession, *Configurator) error) (SessionView, error) {
	id, err := normaliseSessionID(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	release := s.locks.Lock(id)
	defer release()

	for attempt := 1; ; attempt++ {
		session, previous, err := s.applyBatch(ctx, id, apply)
		if err == nil {
			s.logger(ctx, event, map[string]any{
				"sessionId":     id,
				"price":         session.Configuration.Price,
				"previousPrice": previous,
			})
			return s.view(session), nil
		}
		if !errors.Is(err, ErrSessionConflict) || attempt == mutateAttempts {
			return SessionView{}, err
		}
		s.logger(ctx, "session.update_retried", map[string]any{"sessionId": id, "attempt": attempt})
	}
}

func (s *sessionService) applyBatch(ctx context.Context, id string, apply func(*ConfigurationSession, *Configurator) error) (ConfigurationSession, int64, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return ConfigurationSession{}, 0, s.translateRepoError(err)
	}
	readAt := session.UpdatedAt

	configurator := RestoreConfigurator(session.Configuration, s.rates)
	if err := apply(&session, configurator); err != nil {
		return ConfigurationSession{}, 0, err
	}
	previous := session.Configuration.Price
	configurator.CalculatePrice()

	now := s.now()
	session.Configuration = configurator.Snapshot()
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(s.ttl)

	if err := s.repo.Update(ctx, session, readAt); err != nil {
		return ConfigurationSession{}, 0, s.translateRepoError(err)
	}
	return session, previous, nil
}

// resolveArt completes a reference that only names a library artwork or a recorded upload. A
// reference carrying its own URL is kept, but its title is sanitised and it only counts as an
// upload when the id matches one recorded on the session.
func (s *sessionService) resolveArt(ref ArtReference, uploads []ArtReference) (ArtReference, error) {
	id := strings.TrimSpace(ref.ID)
	if id == "" {
		return ArtReference{}, ErrSessionInvalidInput
	}
	var recorded *ArtReference
	for i := range uploads {
		if uploads[i].ID == id {
			recorded = &uploads[i]
			break
		}
	}

	if url := strings.TrimSpace(ref.URL); url != "" {
		resolved := ArtReference{
			ID:     id,
			URL:    url,
			Ratio:  strings.TrimSpace(ref.Ratio),
			Title:  sanitizeTitle(s.titles, ref.Title),
			Source: domain.ArtSourceLibrary,
		}
		if recorded != nil {
			resolved.Source = domain.ArtSourceUpload
		}
		return resolved, nil
	}
	if art, ok := s.catalog.Artwork(id); ok {
		return ArtReference{ID: art.ID, URL: art.URL, Ratio: art.Ratio, Title: art.Title, Source: domain.ArtSourceLibrary}, nil
	}
	if recorded != nil {
		return *recorded, nil
	}
	return ArtReference{}, ErrSessionInvalidInput
}

func (s *sessionService) view(session ConfigurationSession) SessionView {
	cfg := session.Configuration
	return SessionView{
		Session:      session,
		Breakdown:    PriceBreakdown(cfg, s.rates),
		DisplayPrice: s.formatter.Format(cfg.Price),
		Preview:      PreviewGeometry(cfg),
		SKU:          BuildSKU(cfg),
	}
}

func (s *sessionService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrSessionNotFound
		case repoErr.IsConflict():
			return ErrSessionConflict
		}
	}
	return ErrSessionUnavailable
}

// pushRecentUpload puts ref first, removes an older entry with the same id and caps the list.
func pushRecentUpload(uploads []ArtReference, ref ArtReference) []ArtReference {
	out := make([]ArtReference, 0, MaxRecentUploads)
	out = append(out, ref)
	for _, existing := range uploads {
		if existing.ID == ref.ID {
			continue
		}
		if len(out) == MaxRecentUploads {
			break
		}
		out = append(out, existing)
	}
	return out
}

func normaliseSessionID(sessionID string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", ErrSessionInvalidInput
	}
	return id, nil
}
