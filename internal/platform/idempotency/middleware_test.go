package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pv-frame/api/internal/platform/auth"
)

var epoch = time.Date(2026, time.February, 2, 9, 30, 0, 0, time.UTC)

const quotesPath = "/api/v1/configurations/01JSESSION/quotes"

// harness wraps a scripted handler with the middleware and counts how often it runs.
type harness struct {
	t       *testing.T
	handler http.Handler
	runs    int
}

func newHarness(t *testing.T, store Store, respond func(run int, w http.ResponseWriter), opts ...MiddlewareOption) *harness {
	h := &harness{t: t}
	opts = append([]MiddlewareOption{WithClock(func() time.Time { return epoch })}, opts...)
	h.handler = Middleware(store, opts...)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.runs++
		respond(h.runs, w)
	}))
	return h
}

func created(_ int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/v1/quotes/01JQUOTE")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"id":"01JQUOTE","price":232}`))
}

type call struct {
	key     string
	body    string
	session string
}

func (h *harness) send(c call) *httptest.ResponseRecorder {
	var req *http.Request
	if c.body == "" {
		req = httptest.NewRequest(http.MethodPost, quotesPath, nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, quotesPath, strings.NewReader(c.body))
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	if c.session != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{SessionID: c.session}))
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), created)
	first := h.send(call{key: "quote-1", body: `{"note":"gift"}`})
	second := h.send(call{key: "quote-1", body: `{"note":"gift"}`})

	if h.runs != 1 {
		t.Fatalf("handler ran %d times", h.runs)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %d %s, want %d %s", second.Code, second.Body, first.Code, first.Body)
	}
	if second.Header().Get(replayHeaderName) != "true" || first.Header().Get(replayHeaderName) != "" {
		t.Fatal("only the replay carries the replay header")
	}
	if second.Header().Get("Location") != "/api/v1/quotes/01JQUOTE" || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replayed headers %v", second.Header())
	}
}

func TestMiddlewareRejections(t *testing.T) {
	tests := []struct {
		name   string
		calls  []call
		status int
		code   string
	}{
		{name: "missing key", calls: []call{{body: `{}`}}, status: http.StatusBadRequest, code: "idempotency_key_required"},
		{name: "key with space", calls: []call{{key: "two words"}}, status: http.StatusBadRequest, code: "idempotency_key_invalid"},
		{name: "key with tab", calls: []call{{key: "tab\tkey"}}, status: http.StatusBadRequest, code: "idempotency_key_invalid"},
		{name: "key too long", calls: []call{{key: strings.Repeat("k", MaxKeyLength+1)}}, status: http.StatusBadRequest, code: "idempotency_key_invalid"},
		{name: "body too large", calls: []call{{key: "big", body: strings.Repeat("x", maxBodyBytes+1)}}, status: http.StatusRequestEntityTooLarge, code: "payload_too_large"},
		{
			name:   "key reused with another body",
			calls:  []call{{key: "reuse", body: `{"a":1}`}, {key: "reuse", body: `{"a":2}`}},
			status: http.StatusConflict,
			code:   "idempotency_key_conflict",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, NewMemoryStore(), created)
			var rr *httptest.ResponseRecorder
			for _, c := range tc.calls {
				rr = h.send(c)
			}
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("error = %s, want %s", got, tc.code)
			}
			if h.runs > len(tc.calls)-1 {
				t.Fatalf("handler ran for the rejected call")
			}
		})
	}
}

func TestMiddlewareInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, func(int, http.ResponseWriter) { t.Fatal("handler must not run while the key is held") })

	req := httptest.NewRequest(http.MethodPost, quotesPath, strings.NewReader(`{}`))
	body, err := bufferBody(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("bufferBody: %v", err)
	}
	session := requester(req.Context())
	if _, err := store.Reserve(context.Background(), "held|"+session, fingerprintOf(req, session, body), epoch, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := h.send(call{key: "held", body: `{}`})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "idempotency_in_progress" {
		t.Fatalf("got %d %s", rr.Code, rr.Body)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestMiddlewareServerErrorIsRetryable(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), func(run int, w http.ResponseWriter) {
		if run == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("X-Debug", "not replayed")
		created(run, w)
	})

	if rr := h.send(call{key: "retry"}); rr.Code != http.StatusBadGateway {
		t.Fatalf("first attempt = %d", rr.Code)
	}
	if rr := h.send(call{key: "retry"}); rr.Code != http.StatusCreated {
		t.Fatalf("retry = %d", rr.Code)
	}
	replay := h.send(call{key: "retry"})
	if h.runs != 2 {
		t.Fatalf("handler ran %d times, want 2", h.runs)
	}
	if replay.Header().Get("X-Debug") != "" {
		t.Fatal("headers outside the allowlist must not be replayed")
	}
}

func TestMiddlewareKeyScope(t *testing.T) {
	t.Run("sessions do not share keys", func(t *testing.T) {
		h := newHarness(t, NewMemoryStore(), created)
		h.send(call{key: "shared", body: `{}`, session: "01JSESSIONA"})
		rr := h.send(call{key: "shared", body: `{}`, session: "01JSESSIONB"})
		if h.runs != 2 || rr.Header().Get(replayHeaderName) != "" {
			t.Fatalf("second session was served a replay")
		}
	})
	t.Run("optional key passes keyless requests", func(t *testing.T) {
		h := newHarness(t, NewMemoryStore(), created, WithOptionalKey())
		h.send(call{})
		rr := h.send(call{})
		if h.runs != 2 || rr.Header().Get(replayHeaderName) != "" {
			t.Fatalf("keyless requests must each run, ran %d", h.runs)
		}
	})
	t.Run("unguarded methods pass", func(t *testing.T) {
		h := newHarness(t, NewMemoryStore(), created)
		rr := httptest.NewRecorder()
		h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, quotesPath, nil))
		if h.runs != 1 || rr.Code != http.StatusCreated {
			t.Fatalf("GET was intercepted: %d", rr.Code)
		}
	})
}

// failingSave accepts every reservation and fails to persist responses.
type failingSave struct{ released bool }

func (f *failingSave) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (f *failingSave) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("firestore unavailable")
}

func (f *failingSave) Release(context.Context, string, string) error {
	f.released = true
	return nil
}

func (f *failingSave) CleanupExpired(context.Context, time.Time, int) (int, error) { return 0, nil }

func TestMiddlewareSaveFailureReleasesKey(t *testing.T) {
	store := &failingSave{}
	rr := newHarness(t, store, created).send(call{key: "lost"})
	if rr.Code != http.StatusInternalServerError || errorCode(t, rr) != "idempotency_store_error" {
		t.Fatalf("got %d %s", rr.Code, rr.Body)
	}
	if !store.released {
		t.Fatal("reservation was not released")
	}
}
