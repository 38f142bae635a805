package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pv-frame/api/internal/catalog"
	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/repositories"
)

const quoteMetricNamespace = "github.com/pv-frame/api/pricing"

var (
	errQuoteSessionsRequired = errors.New("quote service: session repository is required")
	errQuoteRepoRequired     = errors.New("quote service: quote repository is required")
	errQuoteCatalogRequired  = errors.New("quote service: catalog is required")
)

// ErrQuoteInvalid indicates the configuration does not match the catalog and cannot be sold.
var ErrQuoteInvalid = errors.New("quote service: configuration is not quotable")

// ErrQuoteNotFound indicates the quote does not exist.
var ErrQuoteNotFound = errors.New("quote service: not found")

// ErrQuoteUnavailable indicates the ledger could not serve the request.
var ErrQuoteUnavailable = errors.New("quote service: unavailable")

// QuoteValidationError lists the configuration fields rejected by strict catalog validation.
type QuoteValidationError struct {
	Fields []string
}

func (e *QuoteValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrQuoteInvalid.Error(), strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrQuoteInvalid.
func (e *QuoteValidationError) Unwrap() error {
	return ErrQuoteInvalid
}

// QuoteServiceDeps wires the collaborators of the quote service.
type QuoteServiceDeps struct {
	Sessions    repositories.ConfigurationSessionRepository
	Quotes      repositories.QuoteRepository
	Catalog     *catalog.Catalog
	Formatter   *PriceFormatter
	Publisher   QuoteEventPublisher
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type quoteService struct {
	sessions  repositories.ConfigurationSessionRepository
	quotes    repositories.QuoteRepository
	catalog   *catalog.Catalog
	rates     domain.PricingRates
	formatter *PriceFormatter
	publisher QuoteEventPublisher
	issued    metric.Int64Counter
	amounts   metric.Int64Histogram
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ QuoteService = (*quoteService)(nil)

// NewQuoteService constructs a QuoteService enforcing dependency validation.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Sessions == nil {
		return nil, errQuoteSessionsRequired
	}
	if deps.Quotes == nil {
		return nil, errQuoteRepoRequired
	}
	if deps.Catalog == nil {
		return nil, errQuoteCatalogRequired
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(quoteMetricNamespace)
	}
	issued, err := meter.Int64Counter(
		"pricing.quotes.issued",
		metric.WithDescription("Count of quotes issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("quote service: create counter: %w", err)
	}
	amounts, err := meter.Int64Histogram(
		"pricing.quotes.amount",
		metric.WithUnit("{BRL}"),
		metric.WithDescription("Total of issued quotes"),
	)
	if err != nil {
		return nil, fmt.Errorf("quote service: create histogram: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
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

	return &quoteService{
		sessions:  deps.Sessions,
		quotes:    deps.Quotes,
		catalog:   deps.Catalog,
		rates:     deps.Catalog.Rates(),
		formatter: formatter,
		publisher: deps.Publisher,
		issued:    issued,
		amounts:   amounts,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *quoteService) IssueQuote(ctx context.Context, cmd IssueQuoteCommand) (Quote, error) {
	sessionID, err := normaliseSessionID(cmd.SessionID)
	if err != nil {
		return Quote{}, err
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Quote{}, ErrSessionNotFound
		}
		return Quote{}, s.translateRepoError(err)
	}

	cfg := session.Configuration
	if fields := s.validate(cfg); len(fields) > 0 {
		s.logger(ctx, "quote.rejected", map[string]any{
			"sessionId": sessionID,
			"fields":    fields,
		})
		return Quote{}, &QuoteValidationError{Fields: fields}
	}

	breakdown := PriceBreakdown(cfg, s.rates)
	cfg.Price = breakdown.Total
	quote := Quote{
		ID:            s.newID(),
		SessionID:     sessionID,
		SKU:           BuildSKU(cfg),
		Currency:      s.formatter.Currency(),
		Configuration: cfg,
		Breakdown:     breakdown,
		Total:         breakdown.Total,
		DisplayTotal:  s.formatter.Format(breakdown.Total),
		CreatedAt:     s.now(),
	}

	if err := s.quotes.Insert(ctx, quote); err != nil {
		return Quote{}, s.translateRepoError(err)
	}

	attrs := metric.WithAttributes(
		attribute.String("material", cfg.Material),
		attribute.String("glass", cfg.Glass),
	)
	s.issued.Add(ctx, 1, attrs)
	s.amounts.Record(ctx, quote.Total, attrs)

	if s.publisher != nil {
		if err := s.publisher.PublishQuoteIssued(ctx, quote); err != nil {
			s.logger(ctx, "quote.publish_failed", map[string]any{
				"quoteId": quote.ID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "quote.issued", map[string]any{
		"quoteId":   quote.ID,
		"sessionId": sessionID,
		"sku":       quote.SKU,
		"total":     quote.Total,
	})
	return quote, nil
}

func (s *quoteService) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	id := strings.TrimSpace(quoteID)
	if id == "" {
		return Quote{}, ErrQuoteNotFound
	}
	quote, err := s.quotes.Get(ctx, id)
	if err != nil {
		return Quote{}, s.translateRepoError(err)
	}
	return quote, nil
}

// validate checks every priced or printed field against the catalog and returns the offending field names.
func (s *quoteService) validate(cfg Configuration) []string {
	var fields []string
	if strings.TrimSpace(cfg.Art.ID) == "" || strings.TrimSpace(cfg.Art.URL) == "" {
		fields = append(fields, "art")
	}
	if _, ok := s.catalog.FrameColor(cfg.Frame.Color); !ok {
		fields = append(fields, "frame_color")
	}
	if cfg.Frame.ThicknessMm < MinFrameThicknessMm || cfg.Frame.ThicknessMm > MaxFrameThicknessMm {
		fields = append(fields, "frame_thickness_mm")
	}
	if cfg.Frame.DepthMm < MinFrameDepthMm || cfg.Frame.DepthMm > MaxFrameDepthMm {
		fields = append(fields, "frame_depth_mm")
	}
	if cfg.Matte.Enabled {
		if cfg.Matte.WidthCm < MinMatteWidthCm || cfg.Matte.WidthCm > MaxMatteWidthCm {
			fields = append(fields, "matte_width_cm")
		}
		if _, ok := s.catalog.MatteColor(cfg.Matte.Color); !ok {
			fields = append(fields, "matte_color")
		}
	}
	if _, ok := s.catalog.Size(cfg.Size.WidthCm, cfg.Size.HeightCm); !ok {
		fields = append(fields, "size")
	}
	if _, ok := s.catalog.Material(cfg.Material); !ok {
		fields = append(fields, "material")
	}
	if _, ok := s.catalog.Glass(cfg.Glass); !ok {
		fields = append(fields, "glass")
	}
	return fields
}

func (s *quoteService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrQuoteNotFound
	}
	return ErrQuoteUnavailable
}
