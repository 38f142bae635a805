package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/repositories"
)

// QuoteRepository persists issued quotes. Configuration and breakdown are stored as JSONB so the
// ledger keeps the exact priced snapshot.
type QuoteRepository struct {
	db *sql.DB
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

// NewQuoteRepository wraps an open database handle.
func NewQuoteRepository(db *sql.DB) (*QuoteRepository, error) {
	if db == nil {
		return nil, errors.New("quote repository requires a database handle")
	}
	return &QuoteRepository{db: db}, nil
}

// Insert writes the quote. Duplicate ids are reported as conflicts.
func (r *QuoteRepository) Insert(ctx context.Context, quote domain.Quote) error {
	payload, err := json.Marshal(encodeQuote(quote))
	if err != nil {
		return fmt.Errorf("quotes.insert: encode payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO frame_quotes (id, session_id, sku, currency, total, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		strings.TrimSpace(quote.ID), quote.SessionID, quote.SKU, quote.Currency, quote.Total, payload, quote.CreatedAt.UTC(),
	)
	return wrapError("quotes.insert", err)
}

// Get loads a quote by id.
func (r *QuoteRepository) Get(ctx context.Context, quoteID string) (domain.Quote, error) {
	var (
		quote   domain.Quote
		payload []byte
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, session_id, sku, currency, total, payload, created_at
FROM frame_quotes WHERE id = $1`, strings.TrimSpace(quoteID),
	).Scan(&quote.ID, &quote.SessionID, &quote.SKU, &quote.Currency, &quote.Total, &payload, &quote.CreatedAt)
	if err != nil {
		return domain.Quote{}, wrapError("quotes.get", err)
	}

	var doc quotePayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.Quote{}, fmt.Errorf("quotes.get: decode payload: %w", err)
	}
	quote.Configuration = doc.Configuration
	quote.Breakdown = doc.Breakdown
	quote.DisplayTotal = doc.DisplayTotal
	quote.CreatedAt = quote.CreatedAt.UTC()
	return quote, nil
}

// Ping checks connectivity for readiness probes.
func (r *QuoteRepository) Ping(ctx context.Context) error {
	return wrapError("quotes.ping", r.db.PingContext(ctx))
}

type quotePayload struct {
	Configuration domain.Configuration  `json:"configuration"`
	Breakdown     domain.PriceBreakdown `json:"breakdown"`
	DisplayTotal  string                `json:"display_total"`
	IssuedAt      time.Time             `json:"issued_at"`
}

func encodeQuote(quote domain.Quote) quotePayload {
	return quotePayload{
		Configuration: quote.Configuration,
		Breakdown:     quote.Breakdown,
		DisplayTotal:  quote.DisplayTotal,
		IssuedAt:      quote.CreatedAt.UTC(),
	}
}
