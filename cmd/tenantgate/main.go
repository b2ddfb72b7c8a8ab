package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/api"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/sso"
)

var (
	sweepSchedule = flag.String("sweep-schedule", "@every 1m", "Cron schedule for dropping expired in-memory rate limit counters")
	migrateOnly   = flag.Bool("migrate-only", false, "Run database migrations and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	db, err := openDatabase(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	if err := orgs.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}
	if *migrateOnly {
		logger.Info("Migrations completed successfully")
		db.Close()
		return
	}

	redisClient, err := openRedis(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	sealer, err := auth.NewSealerFromHex(cfg.Session.SealKey)
	if err != nil {
		logger.WithError(err).Error("Invalid session seal key")
		os.Exit(1)
	}

	authority, err := sso.NewOIDCAuthority(ctx, &cfg.Authority, sealer, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize identity authority")
		os.Exit(1)
	}

	accessLog := auth.NewAccessLogger(logger)
	responder := middleware.NewResponder(cfg.Links.LoginURL, logger, metrics)
	store := orgs.NewPostgresStore(db)

	scheduler := cron.New()
	counters, err := newCounterStore(cfg.RateLimit.Backend, redisClient, scheduler, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to configure rate limiting")
		os.Exit(1)
	}

	guards := api.Guards{
		Session:  middleware.NewSessionAuth(authority, cfg.CookieOptions(), responder, accessLog),
		Company:  middleware.NewCompanyResolver(store, responder, accessLog),
		Tenant:   middleware.NewTenantGuards(cfg.Links.Links, responder),
		Admin:    middleware.NewAdminGuard(cfg.AdminEmails, responder, accessLog),
		Limiters: newLimiters(cfg, counters, logger, metrics, accessLog),
	}

	server := api.NewServer(store, guards, logger)
	server.Register(sso.NewHandlers(authority, cfg.CookieOptions(), accessLog, logger))
	// Router middleware runs after matching so metrics carry the route template
	server.Router().Use(observability.HTTPMetricsMiddleware(metrics))

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(server)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "tenantgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on their own port for k8s probes
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("health-server", healthServer.Shutdown)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("database", func(context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	scheduler.Start()

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("Starting tenantgate on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func openDatabase(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
		db.SetMaxIdleConns(cfg.PostgresMaxConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return db, nil
}

// openRedis returns nil when no Redis URL is configured
func openRedis(ctx context.Context, cfg config.StorageConfig) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	var opts *redis.Options
	if strings.HasPrefix(cfg.RedisURL, "redis://") || strings.HasPrefix(cfg.RedisURL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.RedisURL}
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return client, nil
}

func newCounterStore(backend string, redisClient *redis.Client, scheduler *cron.Cron, logger *observability.Logger) (middleware.CounterStore, error) {
	switch backend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis backend selected without a redis connection")
		}
		return middleware.NewRedisCounterStore(redisClient), nil
	case "", "memory":
		store := middleware.NewMemoryCounterStore()
		_, err := scheduler.AddFunc(*sweepSchedule, func() {
			if removed := store.Sweep(time.Now()); removed > 0 {
				logger.Debugf("Swept %d expired rate limit counters, %d live", removed, store.Len())
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid sweep schedule: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
}

func newLimiters(cfg *config.Config, store middleware.CounterStore, logger *observability.Logger, metrics *observability.Metrics, accessLog *auth.AccessLogger) map[string]*middleware.FixedWindowLimiter {
	limiters := make(map[string]*middleware.FixedWindowLimiter, len(cfg.RateLimit.Policies))
	for name, policy := range cfg.RateLimit.Policies {
		limiter := middleware.NewFixedWindowLimiter(store, policy, middleware.RateLimitOptions{
			TrustProxy: cfg.Server.TrustProxy,
			Logger:     logger,
			Metrics:    metrics,
			AccessLog:  accessLog,
		})
		limiter.SetFallbackEnabled(!cfg.RateLimit.FailClosed)
		limiters[name] = limiter
	}
	return limiters
}
