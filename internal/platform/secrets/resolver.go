// Package secrets resolves secret:// configuration values (session token key, Postgres DSN, upload
// signer key) through Google Secret Manager, with a local file fallback for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	cache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
)

// AccessClient is the part of the Secret Manager client the resolver uses.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (AccessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// retryAccess retries transient Secret Manager failures with exponential backoff.
var retryAccess = gax.WithRetry(func() gax.Retryer {
	return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	})
})

// Resolver looks a reference up in its cache, then Secret Manager, then the fallback file.
// Secret Manager errors other than auth or availability failures are returned as is and never
// fall back, so a typo in production does not silently pick up a local value.
type Resolver struct {
	client   AccessClient
	owned    bool
	project  string
	cache    *cache.Cache
	fallback *fallbackFile
	logger   *zap.Logger
	latency  metric.Float64Histogram
}

// Option customises NewResolver.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	project    string
	fallback   string
	cacheTTL   time.Duration
	meter      metric.Meter
	client     AccessClient
	clientOpts []option.ClientOption
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProject sets the project for references that do not name one.
func WithProject(projectID string) Option {
	return func(o *options) { o.project = projectID }
}

// WithFallbackFile sets the local secrets file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallback = path }
}

// WithCacheTTL sets how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithMeter sets the meter recording secrets.resolve.latency.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithSecretManagerClient uses client instead of dialling one. The resolver does not close it.
func WithSecretManagerClient(client AccessClient) Option {
	return func(o *options) { o.client = client }
}

// WithClientOptions passes options to the Secret Manager client it dials.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewResolver builds a Resolver. When no Secret Manager client can be created (no credentials on
// a laptop) the resolver serves from the fallback file only.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	o := options{logger: zap.NewNop(), fallback: defaultFallbackPath, cacheTTL: defaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.meter
	if meter == nil {
		meter = otel.Meter("github.com/pv-frame/api/internal/platform/secrets")
	}
	latency, err := meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time to resolve a secret reference by source."),
	)
	if err != nil {
		o.logger.Warn("secrets: latency histogram disabled", zap.Error(err))
	}

	r := &Resolver{
		client:   o.client,
		project:  o.project,
		cache:    cache.New(o.cacheTTL, 2*o.cacheTTL),
		fallback: &fallbackFile{path: o.fallback},
		logger:   o.logger,
		latency:  latency,
	}
	if r.client == nil {
		client, err := newAccessClient(ctx, o.clientOpts...)
		if err != nil {
			o.logger.Warn("secrets: secret manager unavailable, serving fallback file only", zap.Error(err))
		} else {
			r.client, r.owned = client, true
		}
	}
	return r, nil
}

// Close closes a client the resolver dialled itself.
func (r *Resolver) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	if value, ok := r.cache.Get(ref.cacheKey()); ok {
		r.observe(ctx, start, "cache")
		return value.(string), nil
	}

	value, source, err := r.fetch(ctx, ref)
	if err != nil {
		r.observe(ctx, start, "error")
		return "", err
	}
	r.cache.SetDefault(ref.cacheKey(), value)
	r.observe(ctx, start, source)
	return value, nil
}

func (r *Resolver) fetch(ctx context.Context, ref Reference) (value, source string, err error) {
	if name, ok := ref.resource(r.project); ok && r.client != nil {
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, retryAccess)
		switch {
		case err == nil && resp.GetPayload() == nil:
			return "", "", fmt.Errorf("secrets: %s has no payload", ref)
		case err == nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case !fallbackAllowed(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", ref, err)
		}
		r.logger.Debug("secrets: using fallback file", zap.Stringer("ref", ref), zap.Error(err))
	}

	value, ok, err := r.fallback.lookup(ref)
	switch {
	case err != nil:
		return "", "", err
	case !ok:
		return "", "", fmt.Errorf("secrets: %s: %w", ref, ErrNotFound)
	}
	return value, "fallback", nil
}

// ErrNotFound is wrapped when neither Secret Manager nor the fallback file has the secret.
var ErrNotFound = errors.New("secret not found")

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func (r *Resolver) observe(ctx context.Context, start time.Time, source string) {
	if r.latency == nil {
		return
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	r.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}
