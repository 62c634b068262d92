// appmesh-rest is the HTTP frontend of App Mesh. It serves login, token
// verification and permission queries, and forwards every other request to
// the App Mesh daemon over the frame protocol in pkg/forward.
//
// Configuration comes from APPMESH_* environment variables (see pkg/config).
// The flags below override the most common ones.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/appmesh/pkg/api"
	"github.com/platinummonkey/appmesh/pkg/async"
	"github.com/platinummonkey/appmesh/pkg/audit"
	"github.com/platinummonkey/appmesh/pkg/auth"
	"github.com/platinummonkey/appmesh/pkg/config"
	"github.com/platinummonkey/appmesh/pkg/endpoints"
	"github.com/platinummonkey/appmesh/pkg/forward"
	"github.com/platinummonkey/appmesh/pkg/middleware"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/platinummonkey/appmesh/pkg/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("appmesh-rest", pflag.ContinueOnError)
	port := flagSet.String("port", "", "REST port (overrides APPMESH_PORT)")
	healthPort := flagSet.String("health-port", "", "health and metrics port (overrides APPMESH_HEALTH_PORT)")
	forwardTo := flagSet.String("forward", "", "forward requests to this daemon address (overrides APPMESH_FORWARD_ADDRESS)")
	directoryFile := flagSet.String("security-file", "", "YAML user directory (overrides APPMESH_DIRECTORY_FILE)")
	logLevel := flagSet.String("log-level", "", "log level (overrides APPMESH_LOG_LEVEL)")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println("appmesh-rest", version)
		return nil
	}

	overrides := map[string]string{
		"APPMESH_PORT":            *port,
		"APPMESH_HEALTH_PORT":     *healthPort,
		"APPMESH_FORWARD_ADDRESS": *forwardTo,
		"APPMESH_DIRECTORY_FILE":  *directoryFile,
		"APPMESH_LOG_LEVEL":       *logLevel,
	}
	for key, value := range overrides {
		if value != "" {
			os.Setenv(key, value)
		}
	}
	if *forwardTo != "" {
		os.Setenv("APPMESH_FORWARD_ENABLED", "true")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	entry := logger.WithField("service", cfg.Observability.OTelServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, entry)
}

func serve(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry unavailable, continuing without export")
	}
	shutdown.RegisterShutdownFunc("otel", providers.Shutdown)

	directory, db, err := openDirectory(ctx, cfg.Directory, logger)
	if err != nil {
		return err
	}
	if db != nil {
		shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	}

	auditLogger, err := openAudit(cfg.Audit, logger)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return auditLogger.Close() })

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = openRedis(cfg.Redis)
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}

	tokens := auth.NewTokenService(auth.WithIssuer(cfg.Auth.Issuer), auth.WithClockSkew(cfg.Auth.ClockSkew))
	authorizer := auth.NewAuthorizer(tokens, directory,
		auth.WithAuditLogger(auditLogger),
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
	)

	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	handlers := endpoints.NewAuthHandlers(authorizer,
		endpoints.WithLoginGuard(loginGuard(ctx, cfg.Auth, redisClient, metrics, logger)),
		endpoints.WithTrustedProxies(proxies),
		endpoints.WithTokenTTL(cfg.Auth.TokenTTL, cfg.Auth.MaxTokenTTL),
		endpoints.WithMetrics(metrics),
	)

	dispatcherOpts := []rest.Option{
		rest.WithStrictStatus(cfg.Auth.StrictStatus),
		rest.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		rest.WithLogger(logger),
		rest.WithMetrics(metrics),
	}
	local := rest.NewDispatcher(dispatcherOpts...)
	handlers.RegisterRoutes(local)

	front := local
	healthOpts := []observability.HealthOption{observability.WithVersion(version)}
	if db != nil {
		healthOpts = append(healthOpts, observability.WithDatabase(db))
	}
	if redisClient != nil {
		healthOpts = append(healthOpts, observability.WithRedis(redisClient))
	}
	if cfg.Forward.Enabled {
		client := forward.NewClient(cfg.Forward.Address,
			forward.WithTimeout(cfg.Forward.Timeout),
			forward.WithClientLogger(logger),
			forward.WithClientMetrics(metrics),
		)
		front = rest.NewDispatcher(append(dispatcherOpts, rest.WithForwarder(client))...)
		healthOpts = append(healthOpts, observability.WithUpstream(cfg.Forward.Address))
		logger.WithField("upstream", cfg.Forward.Address).Info("forwarding requests upstream")
	}

	if cfg.Forward.ListenAddress != "" {
		upstream, err := forward.NewServer(local, forward.WithServerLogger(logger))
		if err != nil {
			return err
		}
		async.SafeGo(ctx, logger, 0, "forward server", func(ctx context.Context) error {
			return upstream.ListenAndServe(ctx, cfg.Forward.ListenAddress)
		})
		shutdown.RegisterShutdownFunc("forward server", func(context.Context) error { return upstream.Close() })
	}

	if fd, ok := directory.(*users.FileDirectory); ok && cfg.Directory.Watch {
		async.SafeGo(ctx, logger, 0, "directory watch", fd.Watch)
	}

	if err := scheduleDirectoryStats(ctx, cfg.Directory.StatsSchedule, directory, metrics, logger, shutdown); err != nil {
		return err
	}

	var limiter middleware.Limiter
	var limitConfig *middleware.RateLimitConfig
	if cfg.Server.RequestsPerMinute > 0 {
		limitConfig = &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RequestsPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         cfg.Server.RequestsPerMinute / 10,
			TrustedProxies:    proxies,
		}
		memory := middleware.NewRateLimiter(limitConfig)
		memory.StartCleanup(ctx, logger)
		limiter = memory
	}

	routerOpts := api.RouterOptions{
		Logger:          logger,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimiter:     limiter,
		RateLimitConfig: limitConfig,
	}
	if providers != nil {
		routerOpts.TracerProvider = providers.TracerProvider
	}

	server := api.NewServer(cfg.Server,
		api.NewRouter(front, routerOpts),
		api.NewHealthMux(observability.NewHealthChecker(healthOpts...), registry),
		api.WithLogger(logger),
		api.WithShutdownManager(shutdown),
	)
	return server.ListenAndServe(ctx)
}

// openDirectory returns the configured user directory. The SQL directory sits
// behind the lookup cache and its handle is returned for health checks and
// shutdown.
func openDirectory(ctx context.Context, cfg config.DirectoryConfig, logger logrus.FieldLogger) (auth.Directory, *sql.DB, error) {
	if cfg.Type != config.DirectoryPostgres {
		fd, err := users.LoadFile(cfg.File, users.WithFileLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", fd.Path()).Info("user directory loaded")
		return fd, nil, nil
	}

	db, err := users.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := users.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}

	return cacheDirectory(users.NewSQLDirectory(db, cfg.JWTEnabled), cfg, logger), db, nil
}

// cacheDirectory puts an LRU in front of directory when a cache size is
// configured. Cached entries keep old locks and keys for up to CacheTTL.
func cacheDirectory(directory auth.Directory, cfg config.DirectoryConfig, logger logrus.FieldLogger) auth.Directory {
	if cfg.CacheSize <= 0 {
		return directory
	}
	logger.WithField("size", cfg.CacheSize).
		WithField("ttl", cfg.CacheTTL).
		Warn("user directory cache enabled, locks and key rotations apply after the cache TTL")
	return users.NewCachedDirectory(directory, cfg.CacheSize, cfg.CacheTTL)
}

func openAudit(cfg config.AuditConfig, logger logrus.FieldLogger) (audit.Logger, error) {
	logSink := func() audit.Logger {
		return audit.NewLogrusLogger(logger.WithField("component", "audit"))
	}

	switch cfg.Sink {
	case config.AuditNone:
		return audit.NoOp(), nil
	case config.AuditFile, config.AuditBoth:
		file, err := audit.NewFileLogger(cfg.File)
		if err != nil {
			return nil, err
		}
		if cfg.Sink == config.AuditFile {
			return file, nil
		}
		return audit.NewMultiLogger(logSink(), file), nil
	default:
		return logSink(), nil
	}
}

func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	return redis.NewClient(opts), nil
}

// loginGuard limits login attempts in Redis when configured so every frontend
// replica shares the count, and in process otherwise.
func loginGuard(ctx context.Context, cfg config.AuthConfig, client *redis.Client, metrics *observability.Metrics, logger logrus.FieldLogger) *middleware.LoginGuard {
	if cfg.LoginAttemptsPerMinute <= 0 {
		return nil
	}

	limitConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.LoginAttemptsPerMinute,
		WindowDuration:    time.Minute,
	}

	var limiter middleware.Limiter
	if client != nil {
		limiter = middleware.NewDistributedRateLimiter(client, limitConfig, "")
	} else {
		memory := middleware.NewRateLimiter(limitConfig)
		memory.StartCleanup(ctx, logger)
		limiter = memory
	}

	return middleware.NewLoginGuard(limiter,
		middleware.WithFailClosed(cfg.LoginFailClosed),
		middleware.WithGuardLogger(logger),
		middleware.WithGuardMetrics(metrics),
	)
}

func scheduleDirectoryStats(ctx context.Context, schedule string, directory auth.Directory, metrics *observability.Metrics, logger logrus.FieldLogger, shutdown *observability.ShutdownManager) error {
	provider, ok := directory.(users.StatsProvider)
	if !ok || metrics == nil || schedule == "" {
		return nil
	}

	refresh := func() {
		defer observability.RecoverPanic(logger, "directory stats")
		stats, err := provider.Stats(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to count directory users")
			return
		}
		metrics.SetDirectoryUsers(stats.Total, stats.Locked)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, refresh); err != nil {
		return fmt.Errorf("invalid directory stats schedule %q: %w", schedule, err)
	}
	refresh()
	c.Start()

	shutdown.RegisterShutdownFunc("cron", func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
		return nil
	})
	return nil
}
