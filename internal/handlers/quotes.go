package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pv-frame/api/internal/platform/auth"
	"github.com/pv-frame/api/internal/platform/httpx"
	"github.com/pv-frame/api/internal/services"
)

// QuoteHandlers serves issued quotes to the session that requested them.
type QuoteHandlers struct {
	authn  *auth.Authenticator
	quotes services.QuoteService
}

// NewQuoteHandlers constructs the quote lookup handlers.
func NewQuoteHandlers(authn *auth.Authenticator, quotes services.QuoteService) *QuoteHandlers {
	return &QuoteHandlers{authn: authn, quotes: quotes}
}

// Routes wires GET /quotes/{quoteId}.
func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireSession(nil))
	}
	r.Get("/{quoteId}", h.getQuote)
}

func (h *QuoteHandlers) getQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	quote, err := h.quotes.GetQuote(ctx, chi.URLParam(r, "quoteId"))
	if err != nil {
		writeQuoteError(ctx, w, err)
		return
	}
	// Quotes of other sessions are reported as missing.
	if quote.SessionID != identity.SessionID {
		httpx.WriteError(ctx, w, httpx.NewError("quote_not_found", "quote not found", http.StatusNotFound))
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=3600")
	writeJSONResponse(w, http.StatusOK, buildQuotePayload(quote))
}

type quotePayload struct {
	ID            string               `json:"id"`
	SessionID     string               `json:"session_id"`
	SKU           string               `json:"sku"`
	Currency      string               `json:"currency"`
	Configuration configurationPayload `json:"configuration"`
	Breakdown     breakdownPayload     `json:"breakdown"`
	Total         int64                `json:"total"`
	DisplayTotal  string               `json:"display_total"`
	CreatedAt     string               `json:"created_at"`
}

func buildQuotePayload(q services.Quote) quotePayload {
	return quotePayload{
		ID:            q.ID,
		SessionID:     q.SessionID,
		SKU:           q.SKU,
		Currency:      q.Currency,
		Configuration: buildConfigurationPayload(q.Configuration),
		Breakdown:     buildBreakdownPayload(q.Breakdown),
		Total:         q.Total,
		DisplayTotal:  q.DisplayTotal,
		CreatedAt:     formatTime(q.CreatedAt),
	}
}
