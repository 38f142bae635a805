package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pv-frame/api/internal/platform/auth"
	"github.com/pv-frame/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxBodyBytes      = 64 << 10
)

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]bool
	clock      clockFunc
	logger     *zap.Logger
	optional   bool
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods. The default is POST only.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		guarded := make(map[string]bool, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				guarded[method] = true
			}
		}
		if len(guarded) > 0 {
			cfg.methods = guarded
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware guards mutating requests with an idempotency key scoped to the calling session.
//
// The first request for a key runs and, unless it fails with a 5xx, its response is stored and
// replayed with X-Idempotent-Replay: true to later requests with the same key and body. A 5xx
// releases the key so the client can retry. Reusing a key for a different body is a 409, as is a
// retry that arrives while the first request is still running.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    map[string]bool{http.MethodPost: true},
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.methods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			switch {
			case key == "" && cfg.optional:
				next.ServeHTTP(w, r)
				return
			case key == "":
				respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing "+cfg.headerName+" header")
				return
			case ValidateKey(key) != nil:
				respondError(w, r, http.StatusBadRequest, "idempotency_key_invalid", cfg.headerName+" must be 1-255 printable ASCII characters")
				return
			}

			body, err := bufferBody(w, r)
			if err != nil {
				respondError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			}

			ctx := r.Context()
			session := requester(ctx)
			scoped := key + "|" + session
			fingerprint := fingerprintOf(r, session, body)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if errors.Is(err, ErrFingerprintMismatch) {
				respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			}
			if err != nil {
				cfg.logger.Error("idempotency: reserve failed", zap.String("session_id", session), zap.Error(err))
				respondError(w, r, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process idempotency key")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				w.Header().Set("Retry-After", "1")
				respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}

			rec := &bufferedResponse{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.logger.Warn("idempotency: release failed", zap.String("session_id", session), zap.Error(err))
				}
				rec.flush(w)
				return
			}

			resp := Response{Status: rec.status(), Headers: rec.header, Body: rec.body.Bytes()}
			if err := store.SaveResponse(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
				cfg.logger.Warn("idempotency: persist response failed", zap.String("session_id", session), zap.Error(err))
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.logger.Warn("idempotency: release failed", zap.String("session_id", session), zap.Error(err))
				}
				respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}
			rec.flush(w)
		})
	}
}

// bufferBody reads the (bounded) body and puts it back for the handler.
func bufferBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprintOf(r *http.Request, session string, body []byte) string {
	parts := []string{r.Method, r.URL.Path, r.URL.RawQuery, session, sha256Hex(body)}
	return sha256Hex([]byte(strings.Join(parts, "\x00")))
}

// requester is the session that owns the key, so two sessions never share a replay.
func requester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.SessionID != "" {
		return identity.SessionID
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.header() {
		header[name] = values
	}
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the handler output until it is known whether it will be stored.
type bufferedResponse struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.code == 0 {
		b.code = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	header := w.Header()
	for name, values := range b.header {
		header[name] = values
	}
	w.WriteHeader(b.status())
	_, _ = w.Write(b.body.Bytes())
}
