package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pv-frame/api/internal/platform/httpx"
)

// TokenVerifier verifies session bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// Authenticator turns a TokenVerifier into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator returns an Authenticator backed by verifier.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

var (
	errMissingToken    = httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized)
	errNoVerifier      = httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized)
	errExpiredToken    = httpx.NewError("token_expired", "session token expired", http.StatusUnauthorized)
	errInvalidToken    = httpx.NewError("invalid_token", "session token invalid", http.StatusUnauthorized)
	errSessionMismatch = httpx.NewError("session_mismatch", "token does not grant access to this session", http.StatusForbidden)
)

// RequireSession admits requests whose bearer token is valid and, when sessionParam yields a
// non-empty id, was issued for that session. The verified Identity is placed on the context.
func (a *Authenticator) RequireSession(sessionParam func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := a.authenticate(r, sessionParam)
			if failure != nil {
				httpx.WriteError(r.Context(), w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request, sessionParam func(*http.Request) string) (*Identity, *httpx.Error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, &errMissingToken
	}
	if a == nil || a.verifier == nil {
		return nil, &errNoVerifier
	}
	identity, err := a.verifier.Verify(token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, &errExpiredToken
	case err != nil:
		return nil, &errInvalidToken
	}
	if sessionParam != nil {
		if want := strings.TrimSpace(sessionParam(r)); want != "" && want != identity.SessionID {
			return nil, &errSessionMismatch
		}
	}
	return identity, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
