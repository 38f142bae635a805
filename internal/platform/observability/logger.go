// Package observability configures structured logging and request tracing for the API process.
package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pv-frame/api/internal/platform/requestctx"
)

type loggerOptions struct {
	level   string
	service string
	version string
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerOptions)

// WithLevel overrides the LOG_LEVEL environment variable.
func WithLevel(level string) LoggerOption {
	return func(o *loggerOptions) {
		o.level = level
	}
}

// WithServiceContext tags every entry with the serviceContext read by Cloud Error Reporting.
func WithServiceContext(service, version string) LoggerOption {
	return func(o *loggerOptions) {
		o.service = strings.TrimSpace(service)
		o.version = strings.TrimSpace(version)
	}
}

// NewLogger builds a JSON logger using Cloud Logging field names (severity, timestamp, message).
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	options := loggerOptions{level: os.Getenv("LOG_LEVEL")}
	for _, opt := range opts {
		opt(&options)
	}

	level, err := zapcore.ParseLevel(strings.TrimSpace(options.level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var buildOpts []zap.Option
	if options.service != "" {
		version := options.version
		if version == "" {
			version = "dev"
		}
		buildOpts = append(buildOpts, zap.Fields(zap.Dict("serviceContext",
			zap.String("service", options.service),
			zap.String("version", version),
		)))
	}
	return cfg.Build(buildOpts...)
}

// WithLogger injects the logger into ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the logger on ctx or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger adapts zap to the event hook accepted by the services. The request-scoped logger
// on ctx is preferred so events carry request and trace ids. Events ending in "_failed" log at warn.
func EventLogger(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			logger = scoped
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		zapFields := make([]zap.Field, 0, len(keys)+1)
		zapFields = append(zapFields, zap.String("event", event))
		for _, key := range keys {
			zapFields = append(zapFields, zap.Any(key, fields[key]))
		}
		if strings.HasSuffix(event, "_failed") {
			logger.Warn(event, zapFields...)
			return
		}
		logger.Info(event, zapFields...)
	}
}
