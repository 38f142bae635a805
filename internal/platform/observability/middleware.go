package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pv-frame/api/internal/platform/httpx"
	"github.com/pv-frame/api/internal/platform/requestctx"
)

// idempotentReplayHeader is set by the idempotency middleware on replayed quote responses.
const idempotentReplayHeader = "X-Idempotent-Replay"

var requestDuration, _ = otel.Meter("github.com/pv-frame/api/internal/platform/observability").Float64Histogram(
	"http.server.request.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Duration of configurator API requests by route and status."),
)

// InjectLoggerMiddleware places logger on every request context.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware scopes the request logger with request, trace and client fields and writes one
// "request completed" entry per request. 5xx responses log at error level, 4xx at warn.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			if traceInfo.ProjectID == "" {
				traceInfo.ProjectID = projectID
			}

			logger := requestctx.Logger(ctx).With(
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", SanitizeMethod(r.Method)),
				zap.String("trace_id", traceInfo.TraceID),
				zap.String("remote_ip", clientIP(r)),
			)
			if resource := traceInfo.Resource(); resource != "" {
				logger = logger.With(zap.String("logging.googleapis.com/trace", resource))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if rec := recover(); rec != nil {
					logCompletion(ctx, logger, r, http.StatusInternalServerError, ww.BytesWritten(), time.Since(start), false)
					panic(rec)
				}
				replayed := ww.Header().Get(idempotentReplayHeader) == "true"
				logCompletion(ctx, logger, r, status, ww.BytesWritten(), time.Since(start), replayed)
			}()

			next.ServeHTTP(ww, r.WithContext(requestctx.WithLogger(ctx, logger)))
		})
	}
}

func logCompletion(ctx context.Context, logger *zap.Logger, r *http.Request, status, bytes int, latency time.Duration, replayed bool) {
	route := SanitizeRoute(routePattern(r))

	attrs := []attribute.KeyValue{
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(status),
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	if requestDuration != nil {
		requestDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(
			append(attrs, semconv.HTTPRequestMethodKey.String(r.Method))...,
		))
	}

	fields := []zap.Field{
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.Int("bytes", bytes),
	}
	if id := SanitizeSessionID(urlParam(r, "sessionId")); id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	if id := SanitizeSessionID(urlParam(r, "quoteId")); id != "" {
		fields = append(fields, zap.String("quote_id", id))
	}
	if replayed {
		fields = append(fields, zap.Bool("idempotent_replay", true))
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request completed", fields...)
	case status >= http.StatusBadRequest:
		logger.Warn("request completed", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}

// RecoveryMiddleware turns a panic into a 500 envelope and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
				)
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func urlParam(r *http.Request, name string) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam(name)
	}
	return ""
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return truncate(host, 64)
}
