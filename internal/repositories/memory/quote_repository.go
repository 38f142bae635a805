package memory

import (
	"context"
	"errors"
	"strings"

	"github.com/patrickmn/go-cache"

	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/repositories"
)

// QuoteRepository keeps issued quotes in memory for the lifetime of the process.
type QuoteRepository struct {
	items *cache.Cache
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

// NewQuoteRepository constructs an empty in-memory quote ledger.
func NewQuoteRepository(opts ...Option) *QuoteRepository {
	o := buildOptions(opts)
	return &QuoteRepository{items: cache.New(cache.NoExpiration, o.cleanup)}
}

// Insert stores the quote once; a second insert with the same id conflicts.
func (r *QuoteRepository) Insert(ctx context.Context, quote domain.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(quote.ID)
	if id == "" {
		return repositories.NewConflictError("quotes.insert", errors.New("quote id is required"))
	}
	if err := r.items.Add(id, quote, cache.NoExpiration); err != nil {
		return repositories.NewConflictError("quotes.insert", err)
	}
	return nil
}

// Get fetches a quote by id.
func (r *QuoteRepository) Get(ctx context.Context, quoteID string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	value, ok := r.items.Get(strings.TrimSpace(quoteID))
	if !ok {
		return domain.Quote{}, repositories.NewNotFoundError("quotes.get", nil)
	}
	return value.(domain.Quote), nil
}
