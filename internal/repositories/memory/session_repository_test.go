package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/repositories"
)

func TestSessionRepositoryLifecycle(t *testing.T) {
	now := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	session := domain.ConfigurationSession{
		ID:        "01HZSESSION",
		Uploads:   []domain.ArtReference{{ID: "upload:1", URL: "https://cdn/u1.jpg"}},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := repo.Insert(ctx, session); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, session); !isConflict(err) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	got, err := repo.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Uploads[0].ID = "mutated"

	again, err := repo.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Uploads[0].ID != "upload:1" {
		t.Fatalf("expected stored uploads to be isolated from callers, got %q", again.Uploads[0].ID)
	}

	again.Configuration.Material = "canvas"
	if err := repo.Update(ctx, again, again.UpdatedAt); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, _ := repo.Get(ctx, session.ID)
	if updated.Configuration.Material != "canvas" {
		t.Fatalf("expected material canvas, got %q", updated.Configuration.Material)
	}

	if err := repo.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, session.ID); !isNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := repo.Delete(ctx, session.ID); !isNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := repo.Update(ctx, session, session.UpdatedAt); !isNotFound(err) {
		t.Fatalf("expected not found updating deleted session, got %v", err)
	}
}

func TestSessionRepositoryExpiry(t *testing.T) {
	now := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	repo := NewSessionRepository(WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	for _, s := range []domain.ConfigurationSession{
		{ID: "short", ExpiresAt: now.Add(10 * time.Minute)},
		{ID: "long", ExpiresAt: now.Add(2 * time.Hour)},
	} {
		if err := repo.Insert(ctx, s); err != nil {
			t.Fatalf("Insert %s: %v", s.ID, err)
		}
	}

	clock = now.Add(30 * time.Minute)
	if _, err := repo.Get(ctx, "short"); !isNotFound(err) {
		t.Fatalf("expected short session to be expired, got %v", err)
	}

	removed, err := repo.DeleteExpired(ctx, now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 sessions removed, got %d", removed)
	}
	if repo.Count() != 0 {
		t.Fatalf("expected empty repository, got %d", repo.Count())
	}
}

func TestSessionRepositoryCountsLapsedEntries(t *testing.T) {
	now := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(WithClock(func() time.Time { return now }), WithCleanupInterval(time.Hour))
	ctx := context.Background()

	// Already past expiry: the cache keeps it for a millisecond only.
	if err := repo.Insert(ctx, domain.ConfigurationSession{ID: "lapsed", ExpiresAt: now}); err != nil {
		t.Fatalf("Insert lapsed: %v", err)
	}
	if err := repo.Insert(ctx, domain.ConfigurationSession{ID: "live", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Insert live: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	removed, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the lapsed session to be counted, got %d", removed)
	}
	if repo.Count() != 1 {
		t.Fatalf("expected live session to remain, got %d", repo.Count())
	}
}

func TestSessionRepositoryRejectsStaleUpdate(t *testing.T) {
	now := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	session := domain.ConfigurationSession{ID: "s1", UpdatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := repo.Insert(ctx, session); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	first, second := session, session
	first.Configuration.Size = domain.PrintSize{WidthCm: 30, HeightCm: 40}
	first.UpdatedAt = now.Add(time.Second)
	second.Configuration.Material = "canvas"
	second.UpdatedAt = now.Add(2 * time.Second)

	if err := repo.Update(ctx, first, session.UpdatedAt); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if err := repo.Update(ctx, second, session.UpdatedAt); !isConflict(err) {
		t.Fatalf("expected conflict for stale update, got %v", err)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Configuration.Size.WidthCm != 30 || got.Configuration.Material != "" {
		t.Fatalf("expected first write to survive, got %+v", got.Configuration)
	}
}

func TestQuoteRepositoryInsertOnce(t *testing.T) {
	repo := NewQuoteRepository()
	ctx := context.Background()

	quote := domain.Quote{ID: "q1", SessionID: "s1", Total: 232}
	if err := repo.Insert(ctx, quote); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, domain.Quote{ID: "q1", Total: 1}); !isConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := repo.Get(ctx, "q1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Total != 232 {
		t.Fatalf("expected original quote to be kept, got total %d", got.Total)
	}
	if _, err := repo.Get(ctx, "missing"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoriesHonourCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewSessionRepository().Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := NewQuoteRepository().Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
