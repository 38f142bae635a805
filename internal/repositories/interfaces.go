package repositories

import (
	"context"
	"time"

	domain "github.com/pv-frame/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ConfigurationSessionRepository persists configurator sessions. Implementations must return a
// RepositoryError with IsNotFound for missing or expired sessions.
type ConfigurationSessionRepository interface {
	Insert(ctx context.Context, session domain.ConfigurationSession) error
	Get(ctx context.Context, sessionID string) (domain.ConfigurationSession, error)
	// Update replaces the session only while the stored UpdatedAt still equals expectedUpdatedAt.
	// A session written by someone else since it was read yields a RepositoryError with IsConflict.
	Update(ctx context.Context, session domain.ConfigurationSession, expectedUpdatedAt time.Time) error
	Delete(ctx context.Context, sessionID string) error
	// DeleteExpired removes sessions whose ExpiresAt is at or before the cutoff and reports how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// QuoteRepository stores issued quotes. Quotes are immutable; inserting an existing id is a conflict.
type QuoteRepository interface {
	Insert(ctx context.Context, quote domain.Quote) error
	Get(ctx context.Context, quoteID string) (domain.Quote, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
