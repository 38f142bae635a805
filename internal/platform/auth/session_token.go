package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	defaultTokenIssuer = "pv-frame-api"
	defaultTokenTTL    = 7 * 24 * time.Hour
	minSecretLength    = 32
)

var (
	// ErrTokenExpired signals that the session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the session token is malformed, forged or issued elsewhere.
	ErrTokenInvalid = errors.New("auth: session token invalid")
)

// SessionTokens issues and verifies HS256 bearer tokens whose subject is a configurator session id.
type SessionTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption customises SessionTokens.
type TokenOption func(*SessionTokens)

// WithIssuer overrides the iss claim written and required on tokens.
func WithIssuer(issuer string) TokenOption {
	return func(t *SessionTokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(t *SessionTokens) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTokenClock injects a custom time source (useful for tests).
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *SessionTokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewSessionTokens constructs the token codec. The secret must be at least 32 bytes.
func NewSessionTokens(secret string, opts ...TokenOption) (*SessionTokens, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: session token secret must be at least %d bytes", minSecretLength)
	}
	t := &SessionTokens{
		secret: []byte(secret),
		issuer: defaultTokenIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Issue signs a token for the session and returns it with its expiry.
func (t *SessionTokens) Issue(sessionID string) (string, time.Time, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", time.Time{}, errors.New("auth: session id is required")
	}
	now := t.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer and lifetime and returns the identity carried by the token.
func (t *SessionTokens) Verify(token string) (*Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := t.now()
	if !claims.VerifyIssuer(t.issuer, true) {
		return nil, ErrTokenInvalid
	}
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, ErrTokenInvalid
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, ErrTokenInvalid
	}

	identity := &Identity{SessionID: subject, ExpiresAt: claims.ExpiresAt.Time}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	return identity, nil
}
