package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/platform/auth"
	"github.com/pv-frame/api/internal/platform/httpx"
	"github.com/pv-frame/api/internal/services"
)

const (
	maxConfigurationBodySize = 16 * 1024
	sessionIDParam           = "sessionId"
)

// SessionTokenIssuer mints the bearer token handed out with a new session.
type SessionTokenIssuer interface {
	Issue(sessionID string) (string, time.Time, error)
}

// ConfigurationHandlers exposes the configurator session endpoints.
type ConfigurationHandlers struct {
	authn    *auth.Authenticator
	tokens   SessionTokenIssuer
	sessions services.SessionService
	uploads  services.UploadService
	quotes   services.QuoteService

	quoteMiddlewares []func(http.Handler) http.Handler
}

// ConfigurationOption customises the configuration handlers.
type ConfigurationOption func(*ConfigurationHandlers)

// WithUploadService enables POST /configurations/{sessionId}/uploads.
func WithUploadService(svc services.UploadService) ConfigurationOption {
	return func(h *ConfigurationHandlers) {
		h.uploads = svc
	}
}

// WithQuoteService enables POST /configurations/{sessionId}/quotes.
func WithQuoteService(svc services.QuoteService) ConfigurationOption {
	return func(h *ConfigurationHandlers) {
		h.quotes = svc
	}
}

// WithQuoteMiddlewares wraps the quote issuing endpoint, typically with idempotency.
func WithQuoteMiddlewares(mw ...func(http.Handler) http.Handler) ConfigurationOption {
	return func(h *ConfigurationHandlers) {
		h.quoteMiddlewares = append(h.quoteMiddlewares, mw...)
	}
}

// NewConfigurationHandlers constructs handlers enforcing session tokens before invoking the session service.
func NewConfigurationHandlers(authn *auth.Authenticator, tokens SessionTokenIssuer, sessions services.SessionService, opts ...ConfigurationOption) *ConfigurationHandlers {
	h := &ConfigurationHandlers{
		authn:    authn,
		tokens:   tokens,
		sessions: sessions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /configurations endpoints onto the provided router.
func (h *ConfigurationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createConfiguration)

	guarded := r.With(h.requireSession())
	guarded.Get("/{sessionId}", h.getConfiguration)
	guarded.Patch("/{sessionId}", h.patchConfiguration)
	guarded.Delete("/{sessionId}", h.deleteConfiguration)
	guarded.Post("/{sessionId}:reset", h.resetConfiguration)
	guarded.Post("/{sessionId}/uploads", h.registerUpload)
	guarded.With(h.quoteMiddlewares...).Post("/{sessionId}/quotes", h.issueQuote)
}

func (h *ConfigurationHandlers) requireSession() func(http.Handler) http.Handler {
	if h.authn == nil {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
			})
		}
	}
	return h.authn.RequireSession(func(r *http.Request) string {
		return chi.URLParam(r, sessionIDParam)
	})
}

func (h *ConfigurationHandlers) createConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil || h.tokens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service is unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.sessions.CreateSession(ctx)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(view.Session.ID)
	if err != nil {
		_ = h.sessions.DeleteSession(ctx, view.Session.ID)
		httpx.WriteError(ctx, w, httpx.NewError("token_issue_failed", "unable to issue session token", http.StatusInternalServerError))
		return
	}

	setNoStore(w)
	w.Header().Set("Location", "/api/v1/configurations/"+view.Session.ID)
	writeJSONResponse(w, http.StatusCreated, createConfigurationResponse{
		Session:        buildSessionPayload(view),
		Token:          token,
		TokenType:      "Bearer",
		TokenExpiresAt: formatTime(expiresAt),
	})
}

func (h *ConfigurationHandlers) getConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service is unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.sessions.GetSession(ctx, chi.URLParam(r, sessionIDParam))
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(view))
}

func (h *ConfigurationHandlers) patchConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxConfigurationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd, err := parseUpdateConfigurationRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.SessionID = chi.URLParam(r, sessionIDParam)

	view, err := h.sessions.UpdateSession(ctx, cmd)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(view))
}

func (h *ConfigurationHandlers) resetConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service is unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.sessions.ResetSession(ctx, chi.URLParam(r, sessionIDParam))
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(view))
}

func (h *ConfigurationHandlers) deleteConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.sessions.DeleteSession(ctx, chi.URLParam(r, sessionIDParam)); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConfigurationHandlers) registerUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_unavailable", "uploads are not enabled", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxConfigurationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req registerUploadRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid upload payload", http.StatusBadRequest))
		return
	}

	result, err := h.uploads.RegisterUpload(ctx, services.RegisterUploadCommand{
		SessionID:   chi.URLParam(r, sessionIDParam),
		FileName:    req.FileName,
		Title:       req.Title,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		WidthPx:     req.WidthPx,
		HeightPx:    req.HeightPx,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUploadInvalid):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_upload", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrUploadUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("upload_unavailable", "unable to prepare upload", http.StatusServiceUnavailable))
		default:
			writeSessionError(ctx, w, err)
		}
		return
	}

	setNoStore(w)
	writeJSONResponse(w, http.StatusCreated, registerUploadResponse{
		Art: buildArtPayload(result.Art),
		Upload: signedUploadPayload{
			URL:       result.Upload.URL,
			Method:    result.Upload.Method,
			Headers:   result.Upload.Headers,
			ObjectURL: result.Upload.ObjectURL,
			ExpiresAt: formatTime(result.Upload.ExpiresAt),
		},
		Session: buildSessionPayload(result.Session),
	})
}

func (h *ConfigurationHandlers) issueQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	quote, err := h.quotes.IssueQuote(ctx, services.IssueQuoteCommand{SessionID: chi.URLParam(r, sessionIDParam)})
	if err != nil {
		writeQuoteError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/quotes/"+quote.ID)
	writeJSONResponse(w, http.StatusCreated, buildQuotePayload(quote))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "configuration session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "configuration session was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("session_error", "failed to process configuration session", http.StatusInternalServerError))
	}
}

func writeQuoteError(ctx context.Context, w http.ResponseWriter, err error) {
	var validation *services.QuoteValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("quote_invalid", "configuration is not quotable", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": validation.Fields}))
	case errors.Is(err, services.ErrQuoteInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("quote_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrQuoteNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("quote_not_found", "quote not found", http.StatusNotFound))
	case errors.Is(err, services.ErrQuoteUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
	default:
		writeSessionError(ctx, w, err)
	}
}

type createConfigurationResponse struct {
	Session        sessionPayload `json:"session"`
	Token          string         `json:"token"`
	TokenType      string         `json:"token_type"`
	TokenExpiresAt string         `json:"token_expires_at"`
}

type updateConfigurationRequest struct {
	Art              *artRequest  `json:"art"`
	FrameColor       *string      `json:"frame_color"`
	FrameThicknessMm *int         `json:"frame_thickness_mm"`
	FrameDepthMm     *int         `json:"frame_depth_mm"`
	MatteEnabled     *bool        `json:"matte_enabled"`
	MatteWidthCm     *int         `json:"matte_width_cm"`
	MatteColor       *string      `json:"matte_color"`
	Size             *sizeRequest `json:"size"`
	Material         *string      `json:"material"`
	Glass            *string      `json:"glass"`
	SnapshotURL      *string      `json:"snapshot_url"`
}

type artRequest struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Ratio  string `json:"ratio"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

type sizeRequest struct {
	WidthCm  float64 `json:"width_cm"`
	HeightCm float64 `json:"height_cm"`
}

func parseUpdateConfigurationRequest(body []byte) (services.UpdateSessionCommand, error) {
	var req updateConfigurationRequest
	if err := decodeStrict(body, &req); err != nil {
		return services.UpdateSessionCommand{}, errors.New("invalid configuration payload")
	}

	cmd := services.UpdateSessionCommand{
		FrameColor:       req.FrameColor,
		FrameThicknessMm: req.FrameThicknessMm,
		FrameDepthMm:     req.FrameDepthMm,
		MatteEnabled:     req.MatteEnabled,
		MatteWidthCm:     req.MatteWidthCm,
		MatteColor:       req.MatteColor,
		Material:         req.Material,
		Glass:            req.Glass,
		SnapshotURL:      req.SnapshotURL,
	}
	if req.Art != nil {
		cmd.Art = &services.ArtReference{
			ID:     req.Art.ID,
			URL:    req.Art.URL,
			Ratio:  req.Art.Ratio,
			Title:  req.Art.Title,
			Source: domain.ArtSource(strings.ToLower(strings.TrimSpace(req.Art.Source))),
		}
	}
	if req.Size != nil {
		cmd.Size = &services.PrintSize{WidthCm: req.Size.WidthCm, HeightCm: req.Size.HeightCm}
	}

	if cmd.Art == nil && cmd.FrameColor == nil && cmd.FrameThicknessMm == nil && cmd.FrameDepthMm == nil &&
		cmd.MatteEnabled == nil && cmd.MatteWidthCm == nil && cmd.MatteColor == nil && cmd.Size == nil &&
		cmd.Material == nil && cmd.Glass == nil && cmd.SnapshotURL == nil {
		return services.UpdateSessionCommand{}, errNoEditableFields
	}
	return cmd, nil
}

type registerUploadRequest struct {
	FileName    string `json:"file_name"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	WidthPx     int    `json:"width_px"`
	HeightPx    int    `json:"height_px"`
}

type registerUploadResponse struct {
	Art     artPayload          `json:"art"`
	Upload  signedUploadPayload `json:"upload"`
	Session sessionPayload      `json:"session"`
}

type signedUploadPayload struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ObjectURL string            `json:"object_url"`
	ExpiresAt string            `json:"expires_at"`
}

type sessionPayload struct {
	ID            string               `json:"id"`
	Configuration configurationPayload `json:"configuration"`
	Price         int64                `json:"price"`
	DisplayPrice  string               `json:"display_price"`
	SKU           string               `json:"sku"`
	Breakdown     breakdownPayload     `json:"breakdown"`
	Preview       previewPayload       `json:"preview"`
	Uploads       []artPayload         `json:"uploads"`
	CreatedAt     string               `json:"created_at,omitempty"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
	ExpiresAt     string               `json:"expires_at,omitempty"`
}

type configurationPayload struct {
	Art         artPayload   `json:"art"`
	Frame       framePayload `json:"frame"`
	Matte       mattePayload `json:"matte"`
	Size        sizePayload  `json:"size"`
	Material    string       `json:"material"`
	Glass       string       `json:"glass"`
	SnapshotURL string       `json:"snapshot_url,omitempty"`
	BaseSKU     string       `json:"base_sku"`
	Price       int64        `json:"price"`
}

type artPayload struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Ratio  string `json:"ratio,omitempty"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source"`
}

type framePayload struct {
	Color       string `json:"color"`
	ThicknessMm int    `json:"thickness_mm"`
	DepthMm     int    `json:"depth_mm"`
}

type mattePayload struct {
	Enabled bool   `json:"enabled"`
	WidthCm int    `json:"width_cm"`
	Color   string `json:"color"`
}

type sizePayload struct {
	WidthCm  float64 `json:"width_cm"`
	HeightCm float64 `json:"height_cm"`
}

type breakdownPayload struct {
	AreaM2   float64 `json:"area_m2"`
	BaseFee  float64 `json:"base_fee"`
	AreaBase float64 `json:"area_base"`
	Material float64 `json:"material"`
	Frame    float64 `json:"frame"`
	Glass    float64 `json:"glass"`
	Matte    float64 `json:"matte"`
	Subtotal float64 `json:"subtotal"`
	Total    int64   `json:"total"`
}

type previewPayload struct {
	ArtWidth       float64 `json:"art_width"`
	ArtHeight      float64 `json:"art_height"`
	FrameThickness float64 `json:"frame_thickness"`
	FrameDepth     float64 `json:"frame_depth"`
	MatteWidth     float64 `json:"matte_width"`
	FrameColor     string  `json:"frame_color"`
	MatteColor     string  `json:"matte_color"`
}

func buildSessionPayload(view services.SessionView) sessionPayload {
	session := view.Session
	payload := sessionPayload{
		ID:            session.ID,
		Configuration: buildConfigurationPayload(session.Configuration),
		Price:         session.Configuration.Price,
		DisplayPrice:  view.DisplayPrice,
		SKU:           view.SKU,
		Breakdown:     buildBreakdownPayload(view.Breakdown),
		Preview: previewPayload{
			ArtWidth:       view.Preview.ArtWidth,
			ArtHeight:      view.Preview.ArtHeight,
			FrameThickness: view.Preview.FrameThickness,
			FrameDepth:     view.Preview.FrameDepth,
			MatteWidth:     view.Preview.MatteWidth,
			FrameColor:     view.Preview.FrameColor,
			MatteColor:     view.Preview.MatteColor,
		},
		Uploads:   make([]artPayload, 0, len(session.Uploads)),
		CreatedAt: formatTime(session.CreatedAt),
		UpdatedAt: formatTime(session.UpdatedAt),
		ExpiresAt: formatTime(session.ExpiresAt),
	}
	for _, upload := range session.Uploads {
		payload.Uploads = append(payload.Uploads, buildArtPayload(upload))
	}
	return payload
}

func buildConfigurationPayload(cfg domain.Configuration) configurationPayload {
	return configurationPayload{
		Art: buildArtPayload(cfg.Art),
		Frame: framePayload{
			Color:       cfg.Frame.Color,
			ThicknessMm: cfg.Frame.ThicknessMm,
			DepthMm:     cfg.Frame.DepthMm,
		},
		Matte: mattePayload{
			Enabled: cfg.Matte.Enabled,
			WidthCm: cfg.Matte.WidthCm,
			Color:   cfg.Matte.Color,
		},
		Size:        sizePayload{WidthCm: cfg.Size.WidthCm, HeightCm: cfg.Size.HeightCm},
		Material:    cfg.Material,
		Glass:       cfg.Glass,
		SnapshotURL: cfg.SnapshotURL,
		BaseSKU:     cfg.BaseSKU,
		Price:       cfg.Price,
	}
}

func buildArtPayload(ref domain.ArtReference) artPayload {
	return artPayload{
		ID:     ref.ID,
		URL:    ref.URL,
		Ratio:  ref.Ratio,
		Title:  ref.Title,
		Source: string(ref.Source),
	}
}

func buildBreakdownPayload(b domain.PriceBreakdown) breakdownPayload {
	return breakdownPayload{
		AreaM2:   b.AreaM2,
		BaseFee:  b.BaseFee,
		AreaBase: b.AreaBase,
		Material: b.Material,
		Frame:    b.Frame,
		Glass:    b.Glass,
		Matte:    b.Matte,
		Subtotal: b.Subtotal,
		Total:    b.Total,
	}
}
