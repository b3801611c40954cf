package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/odontogram/internal/config"
	"github.com/ehr/odontogram/internal/domain/dentalchart"
	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/auth"
	"github.com/ehr/odontogram/internal/platform/cache"
	"github.com/ehr/odontogram/internal/platform/db"
	"github.com/ehr/odontogram/internal/platform/middleware"
	"github.com/ehr/odontogram/internal/platform/telemetry"
	"github.com/ehr/odontogram/migrations"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "odontogram-server",
		Short:        "Dental chart (odontogram) API server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(exportCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the odontogram API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap, _ := cmd.Flags().GetBool("bootstrap")
			return runServer(bootstrap)
		},
	}
	cmd.Flags().Bool("bootstrap", false, "Create and migrate the default tenant schema before serving (postgres)")
	return cmd
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// app holds everything a running server needs.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry *telemetry.TelemetryProvider
	store     *storage
	svc       *dentalchart.Service
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires catalog, storage, the optional Redis cache and the chart
// service from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.telemetry = telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "odontogram-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		RuntimeMetrics: true,
	})

	catalog, err := odontogram.LoadCatalog(cfg.CatalogFile, logger, odontogram.WithMissObserver(a.telemetry.CatalogMiss))
	if err != nil {
		return nil, err
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.close)

	repo := st.repo
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := cache.Ping(ctx, rdb); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, chart cache will fall through until it recovers")
		}
		a.closers = append(a.closers, func() { cache.Close(rdb) })
		repo = dentalchart.NewCachedRepository(repo, rdb, cfg.CacheTTL, logger, a.telemetry)
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("chart cache enabled")
	}

	a.svc = dentalchart.NewService(repo, catalog, odontogram.DefaultTaxonomy(), logger, dentalchart.WithRecorder(a.telemetry),
		dentalchart.WithSessionIdleTTL(cfg.SessionIdleTTL))
	return a, nil
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   a.cfg.AuthIssuer,
		Audience: a.cfg.AuthAudience,
		JWKSURL:  a.cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if a.cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(a.cfg.AuthSigningKey)
	}

	if a.cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		var validate *auth.JWTConfig
		if len(jwtCfg.SigningKey) > 0 || jwtCfg.JWKSURL != "" {
			validate = &jwtCfg
		}
		return auth.DevAuthMiddleware(a.cfg.DefaultTenant, validate)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// router builds the echo instance with the full middleware chain.
func (a *app) router() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))
	e.Use(a.telemetry.MetricsMiddleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.store.pinger))
	e.GET("/metrics", a.telemetry.PrometheusHandler())

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}

	api := e.Group("/api/v1")
	api.Use(a.authMiddleware())
	api.Use(middleware.RateLimit(rl))
	api.Use(db.TenantMiddleware(a.store.pool, cfg.DefaultTenant))
	api.Use(middleware.Audit(a.logger))

	dentalchart.NewHandler(a.svc).RegisterRoutes(api)
	return e
}

func runServer(bootstrap bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Str("tenant", cfg.DefaultTenant).
			Msg("development auth: unauthenticated requests are served as admin")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()
	logger.Info().Str("driver", cfg.StorageDriver).Msg("chart storage ready")

	if bootstrap && a.store.pool != nil {
		if err := db.CreateTenantSchema(ctx, a.store.pool, cfg.DefaultTenant, migrations.FS); err != nil {
			return err
		}
		logger.Info().Str("schema", db.SchemaName(cfg.DefaultTenant)).Msg("default tenant bootstrapped")
	}

	e := a.router()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
