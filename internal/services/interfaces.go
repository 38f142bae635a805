package services

import (
	"context"
	"time"

	domain "github.com/pv-frame/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Configuration        = domain.Configuration
	ConfigurationSession = domain.ConfigurationSession
	ArtReference         = domain.ArtReference
	PrintSize            = domain.PrintSize
	Quote                = domain.Quote
	SystemHealthReport   = domain.SystemHealthReport
)

// SessionService owns the configurator sessions. Every mutation batch is applied under a per-session
// lock and followed by exactly one price recomputation.
type SessionService interface {
	CreateSession(ctx context.Context) (SessionView, error)
	GetSession(ctx context.Context, sessionID string) (SessionView, error)
	UpdateSession(ctx context.Context, cmd UpdateSessionCommand) (SessionView, error)
	ResetSession(ctx context.Context, sessionID string) (SessionView, error)
	DeleteSession(ctx context.Context, sessionID string) error
	RecordUpload(ctx context.Context, sessionID string, ref ArtReference) (SessionView, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// QuoteService issues immutable priced quotes from a session's current configuration.
type QuoteService interface {
	IssueQuote(ctx context.Context, cmd IssueQuoteCommand) (Quote, error)
	GetQuote(ctx context.Context, quoteID string) (Quote, error)
}

// UploadService hands out signed upload targets for visitor artwork.
type UploadService interface {
	RegisterUpload(ctx context.Context, cmd RegisterUploadCommand) (UploadResult, error)
}

// SystemService aggregates health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// QuoteEventPublisher announces issued quotes to downstream consumers.
type QuoteEventPublisher interface {
	PublishQuoteIssued(ctx context.Context, quote Quote) error
}

// UploadSigner issues a signed PUT target for an object in the uploads bucket.
type UploadSigner interface {
	SignUpload(ctx context.Context, req SignedUploadRequest) (SignedUpload, error)
}

// SessionView is a session together with the values derived from its configuration.
type SessionView struct {
	Session      ConfigurationSession
	Breakdown    domain.PriceBreakdown
	DisplayPrice string
	Preview      domain.PreviewGeometry
	SKU          string
}

// UpdateSessionCommand carries a batch of setter operations. Nil fields are left untouched.
type UpdateSessionCommand struct {
	SessionID        string
	Art              *ArtReference
	FrameColor       *string
	FrameThicknessMm *int
	FrameDepthMm     *int
	MatteEnabled     *bool
	MatteWidthCm     *int
	MatteColor       *string
	Size             *PrintSize
	Material         *string
	Glass            *string
	SnapshotURL      *string
}

// IssueQuoteCommand requests a quote for the session's current configuration.
type IssueQuoteCommand struct {
	SessionID string
}

// RegisterUploadCommand describes artwork the visitor is about to upload.
type RegisterUploadCommand struct {
	SessionID   string
	FileName    string
	Title       string
	ContentType string
	SizeBytes   int64
	WidthPx     int
	HeightPx    int
}

// UploadResult returns the art reference to select and where to PUT the bytes.
type UploadResult struct {
	Art     ArtReference
	Upload  SignedUpload
	Session SessionView
}

// SignedUploadRequest describes the upload to sign. The signer derives the object path.
type SignedUploadRequest struct {
	SessionID   string
	UploadID    string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// SignedUpload is a pre-authorised upload target.
type SignedUpload struct {
	URL       string
	Method    string
	Headers   map[string]string
	ObjectURL string
	ExpiresAt time.Time
}
