package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

const tokenSecret = "0123456789abcdef0123456789abcdef"

// load runs Load against env only, isolated from the process environment and any .env file.
func load(env map[string]string, opts ...Option) (Config, error) {
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func mustLoad(t *testing.T, env map[string]string, opts ...Option) Config {
	t.Helper()
	cfg, err := load(env, opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func withToken(extra map[string]string) map[string]string {
	env := map[string]string{"API_SESSIONS_TOKEN_SECRET": tokenSecret}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func TestLoadDefaults(t *testing.T) {
	cfg := mustLoad(t, withToken(nil))

	want := Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     2 * time.Minute,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Sessions: SessionConfig{
			Backend:         SessionBackendMemory,
			TTL:             24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
			TokenSecret:     tokenSecret,
			TokenIssuer:     "pv-frame-api",
			TokenTTL:        7 * 24 * time.Hour,
		},
		Storage:     StorageConfig{UploadExpiry: 15 * time.Minute, MaxUploadBytes: 25 << 20},
		Display:     DisplayConfig{Locale: "pt-BR", Currency: "BRL"},
		RateLimits:  RateLimitConfig{PerMinute: 120, Burst: 30},
		Security:    SecurityConfig{Environment: "local"},
		Idempotency: IdempotencyConfig{Header: "Idempotency-Key", TTL: 24 * time.Hour, CleanupInterval: time.Hour, CleanupBatchSize: 200},
	}
	if cfg != want {
		t.Fatalf("defaults mismatch\n got %+v\nwant %+v", cfg, want)
	}
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	secrets := map[string]string{
		"secret://sessions/token": tokenSecret,
		"secret://quotes/dsn":     "postgres://frames@db/frames",
		"secret://storage/signer": `{"client_email":"x"}`,
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg := mustLoad(t, map[string]string{
		"API_SERVER_PORT":              "9090",
		"API_SERVER_REQUEST_TIMEOUT":   "5s",
		"API_SESSIONS_BACKEND":         "Firestore",
		"API_SESSIONS_TTL":             "2h",
		"API_SESSIONS_TOKEN_SECRET":    "secret://sessions/token",
		"API_SESSIONS_TOKEN_TTL":       "12h",
		"API_FIRESTORE_PROJECT_ID":     "frames-prod",
		"API_POSTGRES_DSN":             "sm://quotes/dsn",
		"API_PUBSUB_QUOTE_TOPIC":       "quote-issued",
		"API_STORAGE_UPLOADS_BUCKET":   "frames-uploads",
		"API_STORAGE_SIGNER_KEY":       "secret://storage/signer",
		"API_STORAGE_MAX_UPLOAD_BYTES": "1048576",
		"API_CATALOG_FILE":             "/etc/frames/catalog.yaml",
		"API_DISPLAY_CURRENCY":         "usd",
		"API_DISPLAY_LOCALE":           "en-US",
		"API_SECURITY_ENVIRONMENT":     "PROD",
		"API_IDEMPOTENCY_HEADER":       "X-Idem-Key",
	}, WithSecretResolver(resolver))

	checks := []struct {
		name      string
		got, want any
	}{
		{"port", cfg.Server.Port, "9090"},
		{"request timeout", cfg.Server.RequestTimeout, 5 * time.Second},
		{"backend is lower-cased", cfg.Sessions.Backend, SessionBackendFirestore},
		{"session ttl", cfg.Sessions.TTL, 2 * time.Hour},
		{"token ttl", cfg.Sessions.TokenTTL, 12 * time.Hour},
		{"token secret resolved", cfg.Sessions.TokenSecret, tokenSecret},
		{"legacy scheme resolved", cfg.Postgres.DSN, "postgres://frames@db/frames"},
		{"pubsub inherits project", cfg.PubSub.ProjectID, "frames-prod"},
		{"signer key resolved", cfg.Storage.SignerKey, `{"client_email":"x"}`},
		{"max upload", cfg.Storage.MaxUploadBytes, int64(1 << 20)},
		{"catalog file", cfg.Catalog.File, "/etc/frames/catalog.yaml"},
		{"currency is upper-cased", cfg.Display.Currency, "USD"},
		{"environment is lower-cased", cfg.Security.Environment, "prod"},
		{"idempotency header", cfg.Idempotency.Header, "X-Idem-Key"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"missing token secret", map[string]string{}, "Sessions.TokenSecret"},
		{"short token secret", map[string]string{"API_SESSIONS_TOKEN_SECRET": "short"}, "Sessions.TokenSecret"},
		{"unknown backend", withToken(map[string]string{"API_SESSIONS_BACKEND": "redis"}), "Sessions.Backend"},
		{"firestore without project", withToken(map[string]string{"API_SESSIONS_BACKEND": "firestore"}), "Firestore.ProjectID"},
		{"topic without project", withToken(map[string]string{"API_PUBSUB_QUOTE_TOPIC": "quotes"}), "PubSub.ProjectID"},
		{"bucket without signer", withToken(map[string]string{"API_STORAGE_UPLOADS_BUCKET": "uploads"}), "Storage.SignerKey"},
		{"bad currency", withToken(map[string]string{"API_DISPLAY_CURRENCY": "REAL"}), "Display.Currency"},
		{"negative burst", withToken(map[string]string{"API_RATELIMIT_BURST": "-1"}), "RateLimits"},
		{"malformed duration", withToken(map[string]string{"API_SESSIONS_TTL": "a day"}), "API_SESSIONS_TTL"},
		{"malformed integer", withToken(map[string]string{"API_RATELIMIT_BURST": "many"}), "API_RATELIMIT_BURST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(tc.env)
			var invalid *ValidationError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !slices.Contains(invalid.Fields(), tc.field) {
				t.Fatalf("%s not in %v", tc.field, invalid.Fields())
			}
		})
	}
}

func TestLoadSecretErrors(t *testing.T) {
	t.Run("no resolver", func(t *testing.T) {
		_, err := load(withToken(map[string]string{"API_POSTGRES_DSN": "sm://quotes/dsn"}))
		var secretErr *SecretError
		if !errors.As(err, &secretErr) || secretErr.Ref != "secret://quotes/dsn" {
			t.Fatalf("expected SecretError for the normalised ref, got %v", err)
		}
	})

	t.Run("required secret empty", func(t *testing.T) {
		_, err := load(withToken(nil), WithRequiredSecrets("Postgres.DSN", " ", "Postgres.DSN"))
		var missing *MissingSecretsError
		if !errors.As(err, &missing) {
			t.Fatalf("expected MissingSecretsError, got %v", err)
		}
		if got := missing.Names(); !slices.Equal(got, []string{"Postgres.DSN"}) {
			t.Fatalf("names = %v", got)
		}
		if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Postgres.DSN") || got[0] == "Postgres.DSN" {
			t.Fatalf("redacted = %v", got)
		}
	})

	t.Run("panic mode", func(t *testing.T) {
		defer func() {
			missing, ok := recover().(*MissingSecretsError)
			if !ok || !slices.Equal(missing.Names(), []string{"Storage.SignerKey"}) {
				t.Fatalf("expected MissingSecretsError panic, got %v", missing)
			}
		}()
		_, _ = load(withToken(nil), WithRequiredSecrets("Storage.SignerKey"), WithPanicOnMissingSecrets())
	})
}

func TestDotEnvSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_SESSIONS_TOKEN_SECRET=\"" + tokenSecret + "\"\nAPI_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Sessions.TokenSecret != tokenSecret {
		t.Fatalf("dotenv values not applied: %+v", cfg.Server)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_DEFAULT_PROJECT", "os-secrets")
	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{"API_FIRESTORE_PROJECT_ID": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	for key, want := range map[string]string{
		"API_FIRESTORE_PROJECT_ID":   "explicit",
		"API_SECRET_DEFAULT_PROJECT": "os-secrets",
		"API_SECRET_FALLBACK_FILE":   ".dot.local",
	} {
		if values[key] != want {
			t.Errorf("%s = %q, want %q", key, values[key], want)
		}
	}
}

func TestReadDotEnvQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "A=\"line\\nbreak\"\nB='raw \\n'\nC= spaced \nnot a pair\n=orphan\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	values, err := readDotEnv(path)
	if err != nil {
		t.Fatalf("readDotEnv: %v", err)
	}
	want := map[string]string{"A": "line\nbreak", "B": `raw \n`, "C": "spaced"}
	if len(values) != len(want) {
		t.Fatalf("values = %q", values)
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %q, want %q", k, values[k], v)
		}
	}

	if missing, err := readDotEnv(filepath.Join(t.TempDir(), "absent")); err != nil || missing != nil {
		t.Fatalf("missing file: %v %v", missing, err)
	}
}
