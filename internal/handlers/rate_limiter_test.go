package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRateLimiter_PerClientBuckets(t *testing.T) {
	limiter := newClientRateLimiter(60, 2)

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected burst of two to be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("expected third immediate request to be throttled")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("expected another client to have its own bucket")
	}
}

func TestClientRateLimiter_DisabledWhenRateNotPositive(t *testing.T) {
	if newClientRateLimiter(0, 5) != nil {
		t.Fatalf("expected nil limiter for zero rate")
	}

	called := false
	handler := RateLimitMiddleware(0, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected disabled middleware to pass requests through")
	}
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	handler := RateLimitMiddleware(30, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", second.Header().Get("Retry-After"))
	}
	assertErrorCode(t, second, "rate_limited")
}
