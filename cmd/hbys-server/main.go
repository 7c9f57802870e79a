package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hbys/hbys/internal/config"
	"github.com/hbys/hbys/internal/domain/license"
	"github.com/hbys/hbys/internal/domain/patient"
	"github.com/hbys/hbys/internal/domain/staff"
	"github.com/hbys/hbys/internal/domain/tenant"
	"github.com/hbys/hbys/internal/platform/auth"
	"github.com/hbys/hbys/internal/platform/cache"
	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/platform/metrics"
	"github.com/hbys/hbys/internal/platform/middleware"
	"github.com/hbys/hbys/internal/tenancy"
	"github.com/hbys/hbys/migrations"
)

// Patient registration is sold as a licensed module.
const (
	patientModule  = "patient"
	patientFeature = "registration"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hbys-server",
		Short:        "Multi-tenant hospital information system API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(licenseCmd())
	rootCmd.AddCommand(adminTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if cfg != nil {
		if l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && l != zerolog.NoLevel {
			level = l
		}
	}
	return logger.Level(level)
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "hbys-server",
		ConnectAttempts: cfg.DBConnectRetries,
	}, logger)
}

func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir != "" {
		return db.NewDirMigrator(pool, dir)
	}
	return db.NewMigrator(pool, migrations.FS)
}

// invalidatorFunc adapts a function to tenancy.Invalidator.
type invalidatorFunc func(ctx context.Context, code string)

func (f invalidatorFunc) Invalidate(ctx context.Context, code string) { f(ctx, code) }

// services bundles the domain services shared by the server and the CLI.
type services struct {
	tenants  *tenant.Service
	licenses *license.Service
	patients *patient.Service
	staff    *staff.Service
	gate     *license.Gate
}

func newServices(pool *pgxpool.Pool, logger zerolog.Logger, observers ...license.DecisionObserver) *services {
	licenseRepo := license.NewRepo(pool)
	s := &services{
		tenants:  tenant.NewService(tenant.NewRepo(pool), logger),
		licenses: license.NewService(licenseRepo, logger),
		patients: patient.NewService(patient.NewRepo(pool), logger),
		staff:    staff.NewService(staff.NewRepo(pool), logger),
		gate:     license.NewGate(licenseRepo, logger, observers...),
	}
	s.licenses.SetUsageCounters(s.staff, s.patients)
	return s
}

// app is everything newRouter needs. Fields are interfaces or handlers so
// tests can build a router without a database.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	resolver *tenancy.Resolver
	tokens   *auth.TokenIssuer
	health   map[string]echo.HandlerFunc

	tenants  *tenant.Handler
	licenses *license.Handler
	patients *patient.Handler
	staff    *staff.Handler
	gate     *license.Gate
}

func newRouter(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(e, a.logger, cfg.TenantHeader)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, cfg.TenantHeader},
	}))
	// Resolution never rejects; RequireTenant on the groups below does.
	e.Use(tenancy.Pipeline(
		tenancy.AttachStage(),
		tenancy.ResolveStage(a.resolver, a.logger, a.metrics),
	))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	for path, h := range a.health {
		e.GET(path, h)
	}
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	api := e.Group("/api/v1")
	tenantAPI := api.Group("", tenancy.RequireTenant(cfg.TenantHeader))
	admin := e.Group("/admin",
		auth.RequireAdmin(a.tokens, auth.ScopeSystemAdmin, cfg.IsDev(), a.logger),
		middleware.Audit(a.logger, auth.AdminSubject),
	)

	a.tenants.RegisterRoutes(api, admin)
	a.licenses.RegisterRoutes(tenantAPI, admin)
	a.patients.RegisterRoutes(tenantAPI, license.RequireFeature(a.gate, patientModule, patientFeature))
	a.staff.RegisterRoutes(tenantAPI)

	return e
}

// newResolver tries the tenant header first, then the host subdomain.
func newResolver(cfg *config.Config, dir tenancy.Directory) *tenancy.Resolver {
	return tenancy.NewResolver(dir,
		tenancy.HeaderCode{Header: cfg.TenantHeader},
		tenancy.HostCode{BaseDomain: cfg.TenantBaseDomain},
	)
}

// directoryCache builds the resolver cache: in-process only, or tiered over
// redis when REDIS_URL is set. The shared tier is returned so the caller can
// subscribe to peer invalidations; both it and the client are nil without
// redis. The caller closes the returned client.
func directoryCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (tenancy.Cache, *cache.DirectoryCache, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return tenancy.NewMemoryCache(cfg.TenantCacheSize), nil, nil, nil
	}

	client, err := cache.Connect(ctx, cache.Config{ConnectionURL: cfg.RedisURL})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	near := tenancy.NewMemoryCache(cfg.TenantCacheSize)
	shared := cache.NewDirectoryCache(client, logger)

	nearTTL := cfg.TenantCacheTTL / 5
	if nearTTL < time.Second {
		nearTTL = time.Second
	}
	return &tenancy.TieredCache{Near: near, Far: shared, NearTTL: nearTTL}, shared, client, nil
}

// listenInvalidations applies invalidations published by peers until ctx ends.
func listenInvalidations(ctx context.Context, shared *cache.DirectoryCache, dir *tenancy.CachedDirectory, m *metrics.Metrics, logger zerolog.Logger) {
	err := shared.Listen(ctx, func(ctx context.Context, code string) {
		dir.InvalidateLocal(ctx, code)
		m.ObserveInvalidation("remote")
	})
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("tenant invalidation listener stopped")
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if cfg.AutoMigrate {
		n, err := newMigrator(pool, cfg.MigrationsDir).Up(ctx)
		if err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations applied")
	}

	m := metrics.New()
	svc := newServices(pool, logger, m)

	dirCache, shared, redisClient, err := directoryCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	health := map[string]echo.HandlerFunc{"/health/db": db.PoolHealth(pool)}
	if redisClient != nil {
		defer redisClient.Close()
		health["/health/redis"] = db.HealthHandler(cache.Pinger{Client: redisClient}, nil)
		logger.Info().Msg("tenant directory cache shared through redis")
	}

	directory := tenancy.NewCachedDirectory(svc.tenants, dirCache, cfg.TenantCacheTTL, logger)
	defer directory.Close()
	svc.tenants.SetInvalidator(invalidatorFunc(func(ctx context.Context, code string) {
		directory.Invalidate(ctx, code)
		m.ObserveInvalidation("local")
	}))
	if shared != nil {
		go listenInvalidations(ctx, shared, directory, m, logger)
	}

	e := newRouter(&app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		resolver: newResolver(cfg, directory),
		tokens:   auth.NewTokenIssuer([]byte(cfg.AdminTokenSecret), cfg.AdminTokenIssuer, cfg.AdminTokenTTL),
		health:   health,
		tenants:  tenant.NewHandler(svc.tenants, cfg.TenantHeader),
		licenses: license.NewHandler(svc.licenses, svc.gate),
		patients: patient.NewHandler(svc.patients),
		staff:    staff.NewHandler(svc.staff),
		gate:     svc.gate,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
