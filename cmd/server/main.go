// Command server boots the real-time resource server: Postgres + migrations,
// the shared Redis-backed store, the channel broadcast fabric, one resource
// engine per registered kind, the webhook dispatcher, the background job
// queue and its workers, the sliding-window rate limiter, and the HTTP/
// WebSocket surface that ties them together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/config"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/database"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/metrics"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/middleware"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/store"
	"github.com/R3E-Network/realtime-resource-server/internal/channel"
	"github.com/R3E-Network/realtime-resource-server/internal/httpapi"
	"github.com/R3E-Network/realtime-resource-server/internal/kinds"
	"github.com/R3E-Network/realtime-resource-server/internal/mail"
	"github.com/R3E-Network/realtime-resource-server/internal/media"
	"github.com/R3E-Network/realtime-resource-server/internal/queue"
	"github.com/R3E-Network/realtime-resource-server/internal/ratelimit"
	"github.com/R3E-Network/realtime-resource-server/internal/resource"
	"github.com/R3E-Network/realtime-resource-server/internal/webhook"
)

const serviceName = "realtime-resource-server"

// registeredKinds is the fixed channel allow-list spec.md §2 names as its
// worked examples. Adding a kind means adding an adapter, a schema and one
// line here and in wireResources — the generics mean nothing else in the
// HTTP layer changes.
var registeredKinds = []string{"users", "media", "posts"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger := logging.NewFromEnv(serviceName)
	m := metrics.Init(serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := database.Open(ctx, database.Config{
		DSN:             config.RequireEnvOrSecret("DATABASE_URL"),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: config.ParseDurationOrDefault(config.GetEnv("DATABASE_CONN_MAX_LIFETIME", ""), 5*time.Minute),
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbConn.Close()

	if err := database.Migrate(dbConn, config.GetEnv("MIGRATIONS_SOURCE", "file://migrations")); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	sharedStore, err := store.New(ctx, store.Config{
		Host:     config.GetEnv("REDIS_HOST", "localhost"),
		Port:     config.GetEnvInt("REDIS_PORT", 6379),
		Password: config.EnvOrSecret("REDIS_PASSWORD", ""),
		DB:       config.GetEnvInt("REDIS_DB", 0),
		Enabled:  config.GetEnvBool("REDIS_ENABLED", true),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to shared store: %w", err)
	}
	defer sharedStore.Close()

	fabric := channel.NewFabric(registeredKinds, logger, m)

	q := queue.New(queue.Config{
		Store:   sharedStore,
		Logger:  logger,
		Metrics: m,
	})

	dispatcher := webhook.New(webhook.Config{
		DB:      dbConn,
		Queue:   q,
		Logger:  logger,
		Metrics: m,
		Source:  serviceName,
	})

	queue.RegisterBuiltins(q, media.NoopStore{}, mail.NoopSender{})

	cacheTTL := time.Duration(config.GetEnvInt("CACHE_TTL", 30)) * time.Second

	manifest := config.LoadKindManifestOrDefault()
	logMissingManifestEntries(logger, manifest)

	router := httpapi.NewRouter(logger, fabric, httpapi.WelcomeInfo{
		Name:         serviceName,
		Version:      config.GetEnv("SERVICE_VERSION", "dev"),
		Kinds:        registeredKinds,
		Descriptions: manifest.Descriptions(),
	})

	wireResources(router, logger, dbConn, sharedStore, fabric, dispatcher, cacheTTL)
	httpapi.RegisterWebhookRoutes(router, logger, dispatcher)
	httpapi.RegisterTaskRoutes(router, logger, q)

	worker := queue.NewWorker(q, logger, queue.WorkerPoolConfig{
		Concurrency:  config.GetEnvInt("WORKER_CONCURRENCY", 0),
		PollInterval: config.ParseDurationOrDefault(config.GetEnv("WORKER_POLL_INTERVAL", ""), 500*time.Millisecond),
		ReapInterval: config.ParseDurationOrDefault(config.GetEnv("WORKER_REAP_INTERVAL", ""), 30*time.Second),
	})
	worker.Start(ctx)

	forwarderCtx, stopForwarder := context.WithCancel(ctx)
	go fabric.RunTaskNotificationForwarder(forwarderCtx, sharedStore)

	handler := wireMiddleware(router, logger, m, sharedStore)

	addr := fmt.Sprintf(":%d", config.GetPort(8080))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 30*time.Second)
	shutdown.OnShutdown(func() { stopForwarder() })
	shutdown.OnShutdown(func() { worker.Stop() })
	shutdown.OnShutdown(func() {
		if err := sharedStore.Close(); err != nil {
			logger.WithError(err).Warn("error closing shared store")
		}
	})
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": addr}).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve http: %w", err)
	}
	shutdown.Wait()
	return nil
}

// wireResources constructs one generic Engine per registered kind, binding
// it to its adapter, the channel fabric (as Broadcaster) and the webhook
// dispatcher (as EventTrigger), and registers its HTTP routes. Go's generics
// mean this registration must be written out once per concrete kind rather
// than looped — the type parameters differ per kind.
func wireResources(
	router *mux.Router,
	logger *logging.Logger,
	dbConn *sqlx.DB,
	sharedStore *store.Store,
	fabric *channel.Fabric,
	dispatcher *webhook.Dispatcher,
	cacheTTL time.Duration,
) {
	userEngine := resource.New(resource.Config[kinds.UserInput, kinds.UserOutput]{
		DB:        dbConn,
		Store:     sharedStore,
		Logger:    logger,
		Adapter:   kinds.NewUserAdapter(),
		Broadcast: fabric.Channel("users"),
		Webhooks:  dispatcher,
		CacheTTL:  cacheTTL,
	})
	httpapi.RegisterResourceRoutes(router, logger, "users", userEngine)

	maxFileSize, _ := config.ParseEnvInt("MAX_FILE_SIZE")
	mediaEngine := resource.New(resource.Config[kinds.MediaInput, kinds.MediaOutput]{
		DB:        dbConn,
		Store:     sharedStore,
		Logger:    logger,
		Adapter:   kinds.NewMediaAdapter(int64(maxFileSize)),
		Broadcast: fabric.Channel("media"),
		Webhooks:  dispatcher,
		CacheTTL:  cacheTTL,
	})
	httpapi.RegisterResourceRoutes(router, logger, "media", mediaEngine)

	postEngine := resource.New(resource.Config[kinds.PostInput, kinds.PostOutput]{
		DB:        dbConn,
		Store:     sharedStore,
		Logger:    logger,
		Adapter:   kinds.NewPostAdapter(),
		Broadcast: fabric.Channel("posts"),
		Webhooks:  dispatcher,
		CacheTTL:  cacheTTL,
	})
	httpapi.RegisterResourceRoutes(router, logger, "posts", postEngine)
	httpapi.RegisterPostRoutes(router, logger, kinds.NewPostService(postEngine))
}

// wireMiddleware layers the teacher's infrastructure/middleware stack around
// router, outermost first: recovery, security headers, CORS, tracing/
// logging, metrics, request timeout, body limit, then the sliding-window
// rate limiter last so denied requests never reach a resource handler.
func wireMiddleware(router *mux.Router, logger *logging.Logger, m *metrics.Metrics, sharedStore *store.Store) http.Handler {
	limiter := ratelimit.New(sharedStore, logger, m)
	rateLimitMW := ratelimit.NewMiddleware(limiter, ratelimit.Config{
		Default:       ratelimit.Rule{Limit: config.GetEnvInt("RATE_LIMIT_DEFAULT", 100), WindowSeconds: config.GetEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)},
		ExcludedPaths: []string{"/health", "/ws/stats"},
	})

	var handler http.Handler = router
	handler = rateLimitMW.Handler(handler)
	handler = middleware.NewBodyLimitMiddleware(mustParseByteSize(config.GetEnv("MAX_REQUEST_BODY", "8MB"))).Handler(handler)
	handler = middleware.NewTimeoutMiddleware(30 * time.Second).Handler(handler)
	handler = middleware.MetricsMiddleware(serviceName, m)(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)
	handler = middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: config.SplitAndTrimCSV(config.GetEnv("CORS_ALLOWED_ORIGINS", "*"))}).Handler(handler)
	handler = middleware.NewSecurityHeadersMiddleware(nil).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)
	return handler
}

// logMissingManifestEntries warns when a registered kind has no entry in
// config/resources.yaml — the welcome endpoint will simply omit its
// description, which is harmless, but worth surfacing to an operator.
func logMissingManifestEntries(logger *logging.Logger, manifest *config.KindManifest) {
	descriptions := manifest.Descriptions()
	for _, kind := range registeredKinds {
		if _, ok := descriptions[kind]; !ok {
			logger.WithFields(map[string]interface{}{"kind": kind}).Warn("registered kind missing from resource manifest")
		}
	}
}

func mustParseByteSize(raw string) int64 {
	size, err := config.ParseByteSize(raw)
	if err != nil {
		return 8 << 20
	}
	return size
}
