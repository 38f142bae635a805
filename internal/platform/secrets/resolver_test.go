package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeAccess answers from a map of resource name to value or error.
type fakeAccess struct {
	mu        sync.Mutex
	responses map[string]any
	calls     map[string]int
}

func newFakeAccess(responses map[string]any) *fakeAccess {
	return &fakeAccess{responses: responses, calls: map[string]int{}}
}

func (f *fakeAccess) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	switch v := f.responses[req.GetName()].(type) {
	case string:
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(v)}}, nil
	case error:
		return nil, v
	default:
		return nil, status.Error(codes.NotFound, "secret not found")
	}
}

func (f *fakeAccess) Close() error { return nil }

func (f *fakeAccess) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func fallbackPath(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveSecretSources(t *testing.T) {
	const tokenVersion = "projects/frames/secrets/session-token/versions/latest"
	tests := []struct {
		name      string
		responses map[string]any
		fallback  string
		ref       string
		want      string
		wantErr   bool
	}{
		{
			name:      "secret manager",
			responses: map[string]any{tokenVersion: "remote"},
			ref:       "secret://session-token",
			want:      "remote",
		},
		{
			name:      "pinned version in another project",
			responses: map[string]any{"projects/shared/secrets/dsn/versions/3": "pinned"},
			ref:       "secret://dsn?version=3&project=shared",
			want:      "pinned",
		},
		{
			name:      "nested name maps to dashed id",
			responses: map[string]any{"projects/frames/secrets/storage-signer/versions/latest": "key"},
			ref:       "sm://storage/signer",
			want:      "key",
		},
		{
			name:      "permission denied falls back",
			responses: map[string]any{tokenVersion: status.Error(codes.PermissionDenied, "denied")},
			fallback:  "# local\nsm://session-token = local=value\n",
			ref:       "secret://session-token",
			want:      "local=value",
		},
		{
			name:     "not found does not fall back",
			fallback: "secret://session-token=local\n",
			ref:      "secret://session-token",
			wantErr:  true,
		},
		{
			name:    "unsupported scheme",
			ref:     "https://vault/session-token",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := ""
			if tc.fallback != "" {
				path = fallbackPath(t, tc.fallback)
			}
			r, err := NewResolver(context.Background(),
				WithSecretManagerClient(newFakeAccess(tc.responses)),
				WithProject("frames"),
				WithFallbackFile(path),
			)
			if err != nil {
				t.Fatalf("NewResolver: %v", err)
			}
			got, err := r.ResolveSecret(context.Background(), tc.ref)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestResolveSecretCaches(t *testing.T) {
	const name = "projects/frames/secrets/session-token/versions/latest"
	client := newFakeAccess(map[string]any{name: "remote"})
	r, err := NewResolver(context.Background(), WithSecretManagerClient(client), WithProject("frames"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	for range 3 {
		if _, err := r.ResolveSecret(context.Background(), "secret://session-token"); err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
	}
	if n := client.count(name); n != 1 {
		t.Fatalf("expected one remote call, got %d", n)
	}
}

func TestResolveSecretNotFoundKeepsStatus(t *testing.T) {
	r, _ := NewResolver(context.Background(), WithSecretManagerClient(newFakeAccess(nil)), WithProject("frames"), WithFallbackFile(""))
	_, err := r.ResolveSecret(context.Background(), "secret://missing")
	if status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected wrapped NotFound status, got %v", err)
	}
}

func TestNewResolverWithoutCredentials(t *testing.T) {
	original := newAccessClient
	newAccessClient = func(context.Context, ...option.ClientOption) (AccessClient, error) {
		return nil, errors.New("could not find default credentials")
	}
	t.Cleanup(func() { newAccessClient = original })

	r, err := NewResolver(context.Background(), WithProject("frames"), WithFallbackFile(fallbackPath(t, "secret://signer=key\n")))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if got, err := r.ResolveSecret(context.Background(), "secret://signer"); err != nil || got != "key" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := r.ResolveSecret(context.Background(), "secret://absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		raw     string
		want    Reference
		wantErr bool
	}{
		{raw: "secret://token", want: Reference{Name: "token", Version: "latest"}},
		{raw: " sm://token?version=2 ", want: Reference{Name: "token", Version: "2"}},
		{raw: "secret://a/b?project=p", want: Reference{Name: "a/b", Version: "latest", Project: "p"}},
		{raw: "secret://", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "https://example.com/token", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseReference(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v", tc.raw, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("%q: got %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}
