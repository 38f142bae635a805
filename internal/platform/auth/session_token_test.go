package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSessionTokensRoundTrip(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	tokens, err := NewSessionTokens(testSecret, WithTokenClock(func() time.Time { return now }), WithTokenTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewSessionTokens: %v", err)
	}

	token, expiresAt, err := tokens.Issue("01JSESSION")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	identity, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.SessionID != "01JSESSION" {
		t.Fatalf("expected subject 01JSESSION, got %q", identity.SessionID)
	}
	if !identity.IssuedAt.Equal(now) || !identity.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected identity times %+v", identity)
	}
}

func TestSessionTokensExpired(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	tokens, _ := NewSessionTokens(testSecret, WithTokenClock(func() time.Time { return clock }), WithTokenTTL(time.Minute))

	token, _, err := tokens.Issue("s-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock = now.Add(2 * time.Minute)

	if _, err := tokens.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestSessionTokensRejectsForgedAndForeign(t *testing.T) {
	tokens, _ := NewSessionTokens(testSecret)
	other, _ := NewSessionTokens(strings.Repeat("x", 32))
	foreignIssuer, _ := NewSessionTokens(testSecret, WithIssuer("someone-else"))

	forged, _, _ := other.Issue("s-1")
	if _, err := tokens.Verify(forged); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for wrong secret, got %v", err)
	}

	foreign, _, _ := foreignIssuer.Issue("s-1")
	if _, err := tokens.Verify(foreign); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for foreign issuer, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "s-1", Issuer: defaultTokenIssuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := tokens.Verify(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for alg none, got %v", err)
	}

	if _, err := tokens.Verify("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for garbage, got %v", err)
	}
}

func TestNewSessionTokensRequiresLongSecret(t *testing.T) {
	if _, err := NewSessionTokens("short"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
