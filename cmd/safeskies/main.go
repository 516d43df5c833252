package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/async"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/config"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/kv"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/middleware"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/moderation"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/modlog"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/oauth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/permissions"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/profiles"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/storage/postgres"
)

var (
	migrateOnly   = flag.Bool("migrate-only", false, "Apply the database schema and exit")
	purgeSchedule = flag.String("purge-schedule", oauth.DefaultPurgeSchedule, "Cron schedule for purging expired OAuth state")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("safeskies exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return err
	}
	logger.Info("connected to postgres")

	if cfg.Database.AutoMigrate || *migrateOnly {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		logger.Info("database schema applied")
	}
	if *migrateOnly {
		return db.Close()
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("connected to redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	states, sessions, purgers, err := newAuthStores(db, rdb, cfg.Auth)
	if err != nil {
		db.Close()
		return err
	}

	sessionManager, err := auth.NewSessionManager(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	if err != nil {
		db.Close()
		return err
	}

	// Moderation log, permissions and the service registry
	logStore := modlog.NewStore(db, metrics)
	modStore := moderation.NewStore(db)
	services := moderation.NewRegistry(modStore, cfg.Moderation.RegistryTTL, metrics)
	engine := permissions.NewEngine(permissions.NewStore(db), logStore, services,
		cfg.Moderation.UniversalService, logger, metrics)

	if err := seedModeration(ctx, cfg.Moderation, services, modStore, logger); err != nil {
		db.Close()
		return err
	}

	dispatcher := moderation.NewDispatcher(services, engine, logStore, moderation.DispatcherConfig{
		CallTimeout:   cfg.Moderation.CallTimeout,
		Deadline:      cfg.Moderation.Deadline,
		MaxConcurrent: cfg.Moderation.MaxConcurrent,
		Retry:         moderation.RetryConfig{MaxAttempts: cfg.Moderation.RetryAttempts},
	}, logger, metrics)
	if cfg.Moderation.OzoneHost != "" {
		dispatcher.Register(moderation.NewOzoneDestination(cfg.Moderation.OzoneHost, cfg.Moderation.OzoneToken, cfg.Moderation.CallTimeout))
	} else {
		logger.Warn("no ozone host configured, ozone reports will not be delivered")
	}
	dispatcher.Register(moderation.NoopDestination("blacksky"))

	// Profiles and login
	directory := bsky.NewClient(cfg.Bluesky.AppViewHost, cfg.Bluesky.Timeout)
	profileService := profiles.NewService(profiles.NewStore(db), engine, directory,
		cfg.Moderation.DefaultFeedURI, logger)

	oauthClient := oauth.NewClient(oauth.ConfigFromPublicURL(cfg.Auth.PublicURL,
		cfg.Auth.OAuthAuthURL, cfg.Auth.OAuthTokenURL, cfg.Auth.OAuthScopes, cfg.Auth.StateTTL),
		states, sessions)
	if cfg.Auth.DevLogin {
		logger.Warn("dev login is enabled")
	}

	// Routes
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	rateLimit := middleware.RateLimit(newLimiter(limiterCtx, rdb), logger)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	authRoutes := oauth.NewHandlers(oauthClient, profileService, sessionManager, oauth.HandlerConfig{
		ClientURL:    cfg.Auth.ClientURL,
		CookieSecure: cfg.Auth.CookieSecure,
		DevLogin:     cfg.Auth.DevLogin,
	}, logger).RegisterRoutes(router)
	authRoutes.Use(rateLimit)

	profileHandlers := profiles.NewHandlers(profileService)
	profileHandlers.RegisterPublicRoutes(router)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewAuthMiddleware(sessionManager, engine, logger).Handler)
	profileHandlers.RegisterRoutes(api)
	permissions.NewHandlers(engine).RegisterRoutes(api)
	modlog.NewHandlers(logStore, engine).RegisterRoutes(api)
	reportRoute := moderation.NewHandlers(dispatcher, services, modStore).RegisterRoutes(api)
	reportRoute.Handler(rateLimit(reportRoute.GetHandler()))

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "safeskies"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, rdb, cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	purgeJob, err := oauth.StartPurgeJob(*purgeSchedule, logger, purgers)
	if err != nil {
		db.Close()
		return fmt.Errorf("invalid purge schedule: %w", err)
	}
	if len(purgers) > 0 {
		async.SafeGo(ctx, logger, time.Minute, "startup auth state purge", func(ctx context.Context) error {
			oauth.PurgeExpired(ctx, logger, purgers)
			return nil
		})
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.Register(func(ctx context.Context) error {
		select {
		case <-purgeJob.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})
	if rdb != nil {
		shutdown.Register(func(context.Context) error { return rdb.Close() })
	}
	shutdown.Register(func(context.Context) error { return db.Close() })

	serveErr := make(chan error, 2)
	go serve(server, "api", logger, serveErr)
	go serve(healthServer, "health", logger, serveErr)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- shutdown.WaitForSignal() }()

	select {
	case err := <-serveErr:
		shutdown.Shutdown()
		return err
	case err := <-shutdownErr:
		return err
	}
}

func serve(server *http.Server, name string, logger *observability.Logger, errCh chan<- error) {
	defer observability.RecoverPanic(logger, name+" server")

	logger.WithFields(map[string]interface{}{
		"server": name,
		"addr":   server.Addr,
	}).Info("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

// newAuthStores builds the encrypted auth_states and auth_sessions stores on
// the configured backend. Postgres stores are also returned as purge
// targets; Redis expires keys itself.
func newAuthStores(db *sql.DB, rdb *redis.Client, cfg config.AuthConfig) (kv.Store, kv.Store, map[string]oauth.Purger, error) {
	var states, sessions kv.Store
	purgers := map[string]oauth.Purger{}

	switch cfg.KVBackend {
	case "redis":
		states = kv.NewRedisStore(rdb, kv.TableAuthStates+":", cfg.StateTTL)
		sessions = kv.NewRedisStore(rdb, kv.TableAuthSessions+":", cfg.SessionTTL)
	default:
		pgStates, err := kv.NewPostgresStore(db, kv.TableAuthStates, cfg.StateTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		pgSessions, err := kv.NewPostgresStore(db, kv.TableAuthSessions, cfg.SessionTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		states, sessions = pgStates, pgSessions
		purgers[kv.TableAuthStates] = pgStates
		purgers[kv.TableAuthSessions] = pgSessions
	}

	encStates, err := kv.NewEncrypted(states, cfg.EncryptionKey)
	if err != nil {
		return nil, nil, nil, err
	}
	encSessions, err := kv.NewEncrypted(sessions, cfg.EncryptionKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return encStates, encSessions, purgers, nil
}

// seedModeration applies the optional seed file and makes sure the
// universal service exists
func seedModeration(ctx context.Context, cfg config.ModerationConfig, services *moderation.Registry, options moderation.ReportOptionWriter, logger *observability.Logger) error {
	if cfg.SeedFile != "" {
		seed, err := moderation.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := moderation.ApplySeed(ctx, seed, services, options, logger); err != nil {
			return err
		}
	}
	if err := moderation.EnsureUniversal(ctx, services, cfg.UniversalService); err != nil {
		return fmt.Errorf("failed to register universal service: %w", err)
	}
	return nil
}

// newLimiter shares limits across replicas through Redis when it is
// configured and falls back to a per-process limiter otherwise
func newLimiter(ctx context.Context, rdb *redis.Client) middleware.Limiter {
	if rdb != nil {
		return middleware.NewRedisLimiter(rdb, middleware.DefaultRateLimitConfig(), "safeskies:ratelimit:")
	}
	limiter := middleware.NewMemoryLimiter(middleware.DefaultRateLimitConfig())
	limiter.StartCleanup(ctx)
	return limiter
}
