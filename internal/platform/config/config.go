// Package config loads the API configuration from API_* environment variables, an optional
// dotenv file and Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 20 * time.Second
	defaultShutdownTimeout      = 15 * time.Second
	defaultSessionBackend       = SessionBackendMemory
	defaultSessionTTL           = 24 * time.Hour
	defaultSessionCleanup       = 5 * time.Minute
	defaultTokenIssuer          = "pv-frame-api"
	defaultTokenTTL             = 7 * 24 * time.Hour
	defaultUploadExpiry         = 15 * time.Minute
	defaultMaxUploadBytes       = 25 << 20
	defaultDisplayLocale        = "pt-BR"
	defaultDisplayCurrency      = "BRL"
	defaultRateLimitPerMinute   = 120
	defaultRateLimitBurst       = 30
	defaultSecurityEnvironment  = "local"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	minTokenSecretLength        = 32
)

// Session store backends.
const (
	SessionBackendMemory    = "memory"
	SessionBackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Sessions    SessionConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Catalog     CatalogConfig
	Display     DisplayConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// SessionConfig controls configurator session storage and bearer tokens.
type SessionConfig struct {
	Backend         string
	TTL             time.Duration
	CleanupInterval time.Duration
	TokenSecret     string
	TokenIssuer     string
	TokenTTL        time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig points at the quote ledger. An empty DSN keeps quotes in memory.
type PostgresConfig struct {
	DSN string
}

// PubSubConfig names the topic receiving quote issued events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID  string
	QuoteTopic string
}

// StorageConfig configures signed artwork uploads. An empty bucket disables uploads.
type StorageConfig struct {
	UploadsBucket  string
	SignerKey      string
	PublicBaseURL  string
	UploadExpiry   time.Duration
	MaxUploadBytes int64
}

// CatalogConfig optionally overrides the embedded catalog document.
type CatalogConfig struct {
	File string
}

// DisplayConfig controls price formatting.
type DisplayConfig struct {
	Locale   string
	Currency string
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// SecurityConfig describes the deployment environment.
type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists the fields or keys that are missing or malformed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile sets the dotenv file. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap layers values above the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret fields ("Sessions.TokenSecret", "Postgres.DSN",
// "Storage.SignerKey") that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with the *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment with Load's precedence
// (explicit map, then process env, then dotenv). main uses it to build the secret resolver
// before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.flatten(), nil
}

// Load builds the Config, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  src.duration("API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: src.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Sessions: SessionConfig{
			Backend:         strings.ToLower(src.str("API_SESSIONS_BACKEND", defaultSessionBackend)),
			TTL:             src.duration("API_SESSIONS_TTL", defaultSessionTTL),
			CleanupInterval: src.duration("API_SESSIONS_CLEANUP_INTERVAL", defaultSessionCleanup),
			TokenSecret:     src.str("API_SESSIONS_TOKEN_SECRET", ""),
			TokenIssuer:     src.str("API_SESSIONS_TOKEN_ISSUER", defaultTokenIssuer),
			TokenTTL:        src.duration("API_SESSIONS_TOKEN_TTL", defaultTokenTTL),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{DSN: src.str("API_POSTGRES_DSN", "")},
		PubSub: PubSubConfig{
			ProjectID:  src.str("API_PUBSUB_PROJECT_ID", ""),
			QuoteTopic: src.str("API_PUBSUB_QUOTE_TOPIC", ""),
		},
		Storage: StorageConfig{
			UploadsBucket:  src.str("API_STORAGE_UPLOADS_BUCKET", ""),
			SignerKey:      src.str("API_STORAGE_SIGNER_KEY", ""),
			PublicBaseURL:  src.str("API_STORAGE_PUBLIC_BASE_URL", ""),
			UploadExpiry:   src.duration("API_STORAGE_UPLOAD_EXPIRY", defaultUploadExpiry),
			MaxUploadBytes: int64(src.integer("API_STORAGE_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		},
		Catalog: CatalogConfig{File: src.str("API_CATALOG_FILE", "")},
		Display: DisplayConfig{
			Locale:   src.str("API_DISPLAY_LOCALE", defaultDisplayLocale),
			Currency: strings.ToUpper(src.str("API_DISPLAY_CURRENCY", defaultDisplayCurrency)),
		},
		RateLimits: RateLimitConfig{
			PerMinute: src.integer("API_RATELIMIT_PER_MIN", defaultRateLimitPerMinute),
			Burst:     src.integer("API_RATELIMIT_BURST", defaultRateLimitBurst),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
	if len(src.invalid) > 0 {
		return Config{}, &ValidationError{fields: src.invalid}
	}

	// Pub/Sub shares the Firestore project unless set explicitly.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secrets := map[string]*string{
		"Sessions.TokenSecret": &cfg.Sessions.TokenSecret,
		"Postgres.DSN":         &cfg.Postgres.DSN,
		"Storage.SignerKey":    &cfg.Storage.SignerKey,
	}
	resolved := make(map[string]string, len(secrets))
	for name, field := range secrets {
		value, err := resolveSecret(ctx, *field, o.secret)
		if err != nil {
			return Config{}, err
		}
		*field = value
		resolved[name] = value
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(o.requiredSecrets, resolved); missing != nil {
		if o.panicOnMissingSecrets {
			fmt.Fprintln(os.Stderr, missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func (c Config) validate() error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	require(c.Sessions.Backend == SessionBackendMemory || c.Sessions.Backend == SessionBackendFirestore, "Sessions.Backend")
	require(c.Sessions.Backend != SessionBackendFirestore || c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(c.Sessions.TTL > 0, "Sessions.TTL")
	require(c.Sessions.TokenTTL > 0, "Sessions.TokenTTL")
	require(len(c.Sessions.TokenSecret) >= minTokenSecretLength, "Sessions.TokenSecret")
	require(c.PubSub.QuoteTopic == "" || c.PubSub.ProjectID != "", "PubSub.ProjectID")
	require(c.Storage.UploadsBucket == "" || strings.TrimSpace(c.Storage.SignerKey) != "", "Storage.SignerKey")
	require(c.Storage.MaxUploadBytes > 0, "Storage.MaxUploadBytes")
	require(c.Display.Locale != "", "Display.Locale")
	require(len(c.Display.Currency) == 3, "Display.Currency")
	require(c.RateLimits.PerMinute >= 0 && c.RateLimits.Burst >= 0, "RateLimits")
	require(c.Idempotency.Header != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
