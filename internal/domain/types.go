package domain

import (
	"time"
)

// ArtSource identifies where the selected artwork comes from.
type ArtSource string

const (
	// ArtSourceLibrary marks artwork picked from the curated library.
	ArtSourceLibrary ArtSource = "library"
	// ArtSourceUpload marks artwork uploaded by the visitor.
	ArtSourceUpload ArtSource = "upload"
)

// ArtReference is the contract shared with the presentation layer for the selected artwork.
// The URL is never dereferenced by the service.
type ArtReference struct {
	ID     string
	URL    string
	Ratio  string
	Title  string
	Source ArtSource
}

// FrameOptions captures the frame moulding selection.
type FrameOptions struct {
	Color       string
	ThicknessMm int
	DepthMm     int
}

// MatteOptions captures the passe-partout selection. Width is ignored while disabled.
type MatteOptions struct {
	Enabled bool
	WidthCm int
	Color   string
}

// PrintSize is the artwork size in centimetres.
type PrintSize struct {
	WidthCm  float64
	HeightCm float64
}

// AreaM2 returns the printed area in square metres.
func (s PrintSize) AreaM2() float64 {
	return (s.WidthCm * s.HeightCm) / 10000
}

// Configuration is the full set of options selected for one custom frame.
// Price is derived and only written by the pricing computation.
type Configuration struct {
	Art         ArtReference
	Frame       FrameOptions
	Matte       MatteOptions
	Size        PrintSize
	Material    string
	Glass       string
	SnapshotURL string
	BaseSKU     string
	Price       int64
}

// ConfigurationSession binds a configuration to one visitor session.
type ConfigurationSession struct {
	ID            string
	Configuration Configuration
	Uploads       []ArtReference
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// Quote is an immutable priced snapshot of a configuration issued for checkout.
type Quote struct {
	ID            string
	SessionID     string
	SKU           string
	Currency      string
	Configuration Configuration
	Breakdown     PriceBreakdown
	Total         int64
	DisplayTotal  string
	CreatedAt     time.Time
}

// PreviewGeometry holds the scene units derived for the 3D preview.
type PreviewGeometry struct {
	ArtWidth       float64
	ArtHeight      float64
	FrameThickness float64
	FrameDepth     float64
	MatteWidth     float64
	FrameColor     string
	MatteColor     string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
