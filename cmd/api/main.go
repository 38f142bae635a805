package main

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pv-frame/api/internal/catalog"
	"github.com/pv-frame/api/internal/handlers"
	"github.com/pv-frame/api/internal/platform/auth"
	"github.com/pv-frame/api/internal/platform/config"
	pfirestore "github.com/pv-frame/api/internal/platform/firestore"
	"github.com/pv-frame/api/internal/platform/idempotency"
	"github.com/pv-frame/api/internal/platform/jobs"
	"github.com/pv-frame/api/internal/platform/observability"
	"github.com/pv-frame/api/internal/platform/secrets"
	platformstorage "github.com/pv-frame/api/internal/platform/storage"
	"github.com/pv-frame/api/internal/repositories"
	firestoreRepo "github.com/pv-frame/api/internal/repositories/firestore"
	"github.com/pv-frame/api/internal/repositories/memory"
	"github.com/pv-frame/api/internal/repositories/postgres"
	"github.com/pv-frame/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(observability.WithServiceContext("pv-frame-api", os.Getenv("API_BUILD_VERSION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	events := observability.EventLogger(logger)

	frameCatalog, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err), zap.String("file", cfg.Catalog.File))
	}
	formatter, err := services.NewPriceFormatter(cfg.Display.Locale, cfg.Display.Currency)
	if err != nil {
		logger.Fatal("failed to initialise price formatter", zap.Error(err))
	}

	var probes []repositories.DependencyProbe

	var firestoreProvider *pfirestore.Provider
	if cfg.Sessions.Backend == config.SessionBackendFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		if _, err := firestoreProvider.Client(ctx); err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := firestoreProvider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		probes = append(probes, repositories.DependencyProbe{
			Name:     "sessions",
			Required: true,
			Timeout:  1500 * time.Millisecond,
			Check:    firestoreProvider.Ping,
		})
	}

	sessionRepo, err := newSessionRepository(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise session repository", zap.Error(err))
	}

	quoteRepo, db, err := newQuoteRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise quote repository", zap.Error(err))
	}
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("postgres close error", zap.Error(err))
			}
		}()
		if pgQuotes, ok := quoteRepo.(*postgres.QuoteRepository); ok {
			probes = append(probes, repositories.DependencyProbe{
				Name:     "quotes",
				Required: true,
				Timeout:  time.Second,
				Check:    pgQuotes.Ping,
			})
		}
	}

	var publisher services.QuoteEventPublisher
	if topicName := strings.TrimSpace(cfg.PubSub.QuoteTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		defer topic.Stop()
		quotePublisher, err := jobs.NewPubSubQuotePublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise quote publisher", zap.Error(err))
		}
		publisher = quotePublisher
		probes = append(probes, repositories.DependencyProbe{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topicName)
				}
				return nil
			},
		})
	}

	sessionService, err := services.NewSessionService(services.SessionServiceDeps{
		Repository: sessionRepo,
		Catalog:    frameCatalog,
		Formatter:  formatter,
		TTL:        cfg.Sessions.TTL,
		Logger:     events,
	})
	if err != nil {
		logger.Fatal("failed to initialise session service", zap.Error(err))
	}

	quoteService, err := services.NewQuoteService(services.QuoteServiceDeps{
		Sessions:  sessionRepo,
		Quotes:    quoteRepo,
		Catalog:   frameCatalog,
		Formatter: formatter,
		Publisher: publisher,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise quote service", zap.Error(err))
	}

	uploadService, err := newUploadService(cfg, sessionService, events)
	if err != nil {
		logger.Fatal("failed to initialise upload service", zap.Error(err))
	}

	healthRepo, err := repositories.NewProbeHealthRepository(probes)
	if err != nil {
		logger.Fatal("failed to initialise health probes", zap.Error(err))
	}
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Build:            buildInfo,
		Logger:           events,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	tokens, err := auth.NewSessionTokens(cfg.Sessions.TokenSecret,
		auth.WithIssuer(cfg.Sessions.TokenIssuer),
		auth.WithTokenTTL(cfg.Sessions.TokenTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise session tokens", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(tokens)

	idempotencyStore, err := newIdempotencyStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	configurationOpts := []handlers.ConfigurationOption{
		handlers.WithQuoteService(quoteService),
		handlers.WithQuoteMiddlewares(idempotencyMiddleware),
	}
	if uploadService != nil {
		configurationOpts = append(configurationOpts, handlers.WithUploadService(uploadService))
	}
	configurationHandlers := handlers.NewConfigurationHandlers(authenticator, tokens, sessionService, configurationOpts...)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(projectID),
			observability.RequestLoggerMiddleware(projectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithAPIMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.PerMinute, cfg.RateLimits.Burst)),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthSystemService(systemService),
			handlers.WithHealthBuildInfo(buildInfo),
		)),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(frameCatalog, formatter).Routes),
		handlers.WithConfigurationRoutes(configurationHandlers.Routes),
		handlers.WithQuoteRoutes(handlers.NewQuoteHandlers(authenticator, quoteService).Routes),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		logger.Info("api server listening",
			zap.String("addr", server.Addr),
			zap.String("sessions_backend", cfg.Sessions.Backend),
			zap.Bool("uploads_enabled", uploadService != nil),
			zap.Bool("quote_events_enabled", publisher != nil),
			zap.Bool("postgres_quotes", db != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		runJanitor(groupCtx, logger.Named("sessions"), cfg.Sessions.CleanupInterval, func(ctx context.Context) (int, error) {
			return sessionService.PurgeExpired(ctx)
		})
		return nil
	})
	group.Go(func() error {
		runJanitor(groupCtx, logger.Named("idempotency"), cfg.Idempotency.CleanupInterval, func(ctx context.Context) (int, error) {
			return idempotencyStore.CleanupExpired(ctx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		})
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server stopped with error", zap.Error(err))
		return
	}
	logger.Info("api server stopped")
}

// runJanitor calls sweep every interval until ctx is cancelled. A non-positive interval disables it.
func runJanitor(ctx context.Context, logger *zap.Logger, interval time.Duration, sweep func(context.Context) (int, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := sweep(sweepCtx)
			cancel()
			if err != nil {
				logger.Error("cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}

func newSessionRepository(cfg config.Config, provider *pfirestore.Provider) (repositories.ConfigurationSessionRepository, error) {
	if cfg.Sessions.Backend == config.SessionBackendFirestore {
		return firestoreRepo.NewSessionRepository(provider, nil)
	}
	return memory.NewSessionRepository(memory.WithCleanupInterval(cfg.Sessions.CleanupInterval)), nil
}

func newQuoteRepository(ctx context.Context, cfg config.Config) (repositories.QuoteRepository, *sql.DB, error) {
	dsn := strings.TrimSpace(cfg.Postgres.DSN)
	if dsn == "" {
		return memory.NewQuoteRepository(), nil, nil
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	repo, err := postgres.NewQuoteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

func newUploadService(cfg config.Config, sessions services.SessionService, events func(context.Context, string, map[string]any)) (services.UploadService, error) {
	bucket := strings.TrimSpace(cfg.Storage.UploadsBucket)
	if bucket == "" {
		return nil, nil
	}
	signer, err := platformstorage.NewServiceAccountSigner(cfg.Storage.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("parse storage signer key: %w", err)
	}
	uploadSigner, err := platformstorage.NewUploadSigner(bucket, signer,
		platformstorage.WithUploadExpiry(cfg.Storage.UploadExpiry),
		platformstorage.WithMaxUploadSize(cfg.Storage.MaxUploadBytes),
		platformstorage.WithPublicBaseURL(cfg.Storage.PublicBaseURL),
	)
	if err != nil {
		return nil, err
	}
	return services.NewUploadService(services.UploadServiceDeps{
		Sessions:       sessions,
		Signer:         uploadSigner,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Logger:         events,
	})
}

func newIdempotencyStore(provider *pfirestore.Provider) (idempotency.Store, error) {
	if provider == nil {
		return idempotency.NewMemoryStore(), nil
	}
	return idempotency.NewFirestoreStore(provider)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     cmp.Or(strings.TrimSpace(env["API_BUILD_VERSION"]), "dev"),
		CommitSHA:   cmp.Or(strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]), "unknown"),
		Environment: cmp.Or(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	return cmp.Or(cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
}

// newSecretResolver reads its own settings from the merged environment because it must exist
// before config.Load can resolve secret:// values.
func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }
	return secrets.NewResolver(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(cmp.Or(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIRESTORE_PROJECT_ID"))),
		secrets.WithFallbackFile(cmp.Or(get("API_SECRET_FALLBACK_FILE"), ".secrets.local")),
	)
}

// requiredSecretNames lists the secrets the process cannot start without. The signer key is only
// needed once an uploads bucket is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Sessions.TokenSecret"}
	if strings.TrimSpace(env["API_STORAGE_UPLOADS_BUCKET"]) != "" {
		required = append(required, "Storage.SignerKey")
	}
	return required
}
