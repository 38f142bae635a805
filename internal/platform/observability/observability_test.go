package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pv-frame/api/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	scopedCore, scopedLogs := observer.New(zapcore.InfoLevel)

	hook := EventLogger(zap.New(fallbackCore))
	hook(context.Background(), "session.created", map[string]any{"sessionId": "s-1", "price": int64(232)})
	hook(requestctx.WithLogger(context.Background(), zap.New(scopedCore)), "quote.publish_failed", map[string]any{"quoteId": "q-1"})

	if fallbackLogs.Len() != 1 {
		t.Fatalf("expected one fallback entry, got %d", fallbackLogs.Len())
	}
	entry := fallbackLogs.All()[0]
	fields := entry.ContextMap()
	if entry.Message != "session.created" || fields["sessionId"] != "s-1" || fields["event"] != "session.created" {
		t.Fatalf("unexpected entry %+v %v", entry.Entry, fields)
	}

	if scopedLogs.Len() != 1 {
		t.Fatalf("expected one scoped entry, got %d", scopedLogs.Len())
	}
	if got := scopedLogs.All()[0]; got.Level != zapcore.WarnLevel {
		t.Fatalf("expected failure events at warn level, got %s", got.Level)
	}
}

func TestRequestLoggerRecordsSessionID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware("frames"))
	router.Get("/configurations/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configurations/01JSESSION", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["session_id"] != "01JSESSION" {
		t.Fatalf("expected session id logged, got %v", fields["session_id"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", fields["status"])
	}
	if completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 4xx, got %s", completed[0].Level)
	}
}

func TestParseCloudTraceDecimalSpan(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if got := sc.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", got)
	}
	if got := sc.SpanID().String(); got != "0000000000000001" {
		t.Fatalf("expected decimal span 1, got %s", got)
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := formatCloudTrace(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("expected round trip, got %s", got)
	}
}

func TestParseCloudTraceRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "abc", "105445aa7843bc8bf206b12000100000", "nothex/1", "105445aa7843bc8bf206b12000100000/0", "105445aa7843bc8bf206b12000100000/xyz;o=1"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/configurations", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"internal_server_error"`) {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestTraceMiddlewareExposesTraceOnContext(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("frames")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/42;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.ProjectID != "frames" {
		t.Fatalf("expected project id, got %q", got.ProjectID)
	}
	if got.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected incoming trace id to be continued, got %q", got.TraceID)
	}
	if got.Resource() != "projects/frames/traces/105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace resource %q", got.Resource())
	}
	if rec.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected trace header on response")
	}
}
