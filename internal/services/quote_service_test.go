package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pv-frame/api/internal/catalog"
	"github.com/pv-frame/api/internal/repositories/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	quotes []Quote
	err    error
}

func (p *recordingPublisher) PublishQuoteIssued(_ context.Context, quote Quote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes = append(p.quotes, quote)
	return p.err
}

type quoteFixture struct {
	sessions  SessionService
	quotes    QuoteService
	publisher *recordingPublisher
	events    []string
}

func newQuoteFixture(t *testing.T) *quoteFixture {
	t.Helper()
	now := time.Date(2025, time.August, 5, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	sessionRepo := memory.NewSessionRepository(memory.WithClock(clock))

	fx := &quoteFixture{publisher: &recordingPublisher{}}
	sessions, err := NewSessionService(SessionServiceDeps{Repository: sessionRepo, Catalog: catalog.Default(), Clock: clock})
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	quotes, err := NewQuoteService(QuoteServiceDeps{
		Sessions:    sessionRepo,
		Quotes:      memory.NewQuoteRepository(),
		Catalog:     catalog.Default(),
		Publisher:   fx.publisher,
		Clock:       clock,
		IDGenerator: func() string { return "quote-1" },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			fx.events = append(fx.events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewQuoteService: %v", err)
	}
	fx.sessions = sessions
	fx.quotes = quotes
	return fx
}

func TestQuoteServiceIssuesQuote(t *testing.T) {
	fx := newQuoteFixture(t)
	ctx := context.Background()

	created, err := fx.sessions.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := fx.sessions.UpdateSession(ctx, UpdateSessionCommand{
		SessionID:        created.Session.ID,
		Size:             &PrintSize{WidthCm: 70, HeightCm: 100},
		Material:         ptr("vidro"),
		Glass:            ptr("museu"),
		FrameThicknessMm: ptr(30),
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	quote, err := fx.quotes.IssueQuote(ctx, IssueQuoteCommand{SessionID: created.Session.ID})
	if err != nil {
		t.Fatalf("IssueQuote: %v", err)
	}
	if quote.Total != 555 {
		t.Fatalf("expected total 555, got %d", quote.Total)
	}
	if quote.SKU != "QUAD-PERS-70X100-VIDRO-MUSEU" {
		t.Fatalf("unexpected sku %q", quote.SKU)
	}
	if quote.Currency != "BRL" || quote.DisplayTotal != "R$ 555,00" {
		t.Fatalf("unexpected currency fields %q %q", quote.Currency, quote.DisplayTotal)
	}
	if quote.Breakdown.Total != quote.Total || quote.Configuration.Price != quote.Total {
		t.Fatalf("expected breakdown and configuration to agree with total")
	}
	if len(fx.publisher.quotes) != 1 || fx.publisher.quotes[0].ID != "quote-1" {
		t.Fatalf("expected quote to be published once, got %d", len(fx.publisher.quotes))
	}

	stored, err := fx.quotes.GetQuote(ctx, "quote-1")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.Total != 555 || stored.SessionID != created.Session.ID {
		t.Fatalf("unexpected stored quote %+v", stored)
	}
}

func TestQuoteServiceRejectsOffCatalogConfiguration(t *testing.T) {
	fx := newQuoteFixture(t)
	ctx := context.Background()

	created, _ := fx.sessions.CreateSession(ctx)
	if _, err := fx.sessions.UpdateSession(ctx, UpdateSessionCommand{
		SessionID:    created.Session.ID,
		Material:     ptr("bamboo"),
		Size:         &PrintSize{WidthCm: 33, HeightCm: 44},
		FrameColor:   ptr("#123456"),
		MatteEnabled: ptr(true),
		MatteColor:   ptr("#000000"),
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	_, err := fx.quotes.IssueQuote(ctx, IssueQuoteCommand{SessionID: created.Session.ID})
	if !errors.Is(err, ErrQuoteInvalid) {
		t.Fatalf("expected ErrQuoteInvalid, got %v", err)
	}
	var validation *QuoteValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected QuoteValidationError, got %T", err)
	}
	want := map[string]bool{"material": true, "size": true, "frame_color": true, "matte_color": true}
	if len(validation.Fields) != len(want) {
		t.Fatalf("unexpected fields %v", validation.Fields)
	}
	for _, f := range validation.Fields {
		if !want[f] {
			t.Fatalf("unexpected field %q in %v", f, validation.Fields)
		}
	}
	if len(fx.publisher.quotes) != 0 {
		t.Fatalf("rejected configuration must not be published")
	}
}

func TestQuoteServicePublishFailureDoesNotFailIssue(t *testing.T) {
	fx := newQuoteFixture(t)
	fx.publisher.err = errors.New("pubsub down")
	ctx := context.Background()

	created, _ := fx.sessions.CreateSession(ctx)
	if _, err := fx.quotes.IssueQuote(ctx, IssueQuoteCommand{SessionID: created.Session.ID}); err != nil {
		t.Fatalf("IssueQuote: %v", err)
	}
	found := false
	for _, e := range fx.events {
		if e == "quote.publish_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish failure to be logged, events=%v", fx.events)
	}
}

func TestQuoteServiceNotFound(t *testing.T) {
	fx := newQuoteFixture(t)
	ctx := context.Background()

	if _, err := fx.quotes.IssueQuote(ctx, IssueQuoteCommand{SessionID: "ghost"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
	if _, err := fx.quotes.GetQuote(ctx, "ghost"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected quote not found, got %v", err)
	}
}

func TestQuoteServiceQuotesDefaultMatte(t *testing.T) {
	fx := newQuoteFixture(t)
	ctx := context.Background()

	created, err := fx.sessions.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := fx.sessions.UpdateSession(ctx, UpdateSessionCommand{
		SessionID:    created.Session.ID,
		MatteEnabled: ptr(true),
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	quote, err := fx.quotes.IssueQuote(ctx, IssueQuoteCommand{SessionID: created.Session.ID})
	if err != nil {
		t.Fatalf("IssueQuote with default matte: %v", err)
	}
	if quote.Total != 240 {
		t.Fatalf("expected 232 + 4cm matte = 240, got %d", quote.Total)
	}
	if quote.SKU != "QUAD-PERS-50X70-PAPEL-NENHUM-M4" {
		t.Fatalf("unexpected sku %q", quote.SKU)
	}
}
