// Package app wires configuration, storage and HTTP routing into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/payments-admin/api/openapi"
	"github.com/bissquit/payments-admin/internal/config"
	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/identity"
	"github.com/bissquit/payments-admin/internal/identity/jwt"
	identitypostgres "github.com/bissquit/payments-admin/internal/identity/postgres"
	"github.com/bissquit/payments-admin/internal/payments"
	paymentspostgres "github.com/bissquit/payments-admin/internal/payments/postgres"
	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
	"github.com/bissquit/payments-admin/internal/pkg/httputil"
	"github.com/bissquit/payments-admin/internal/pkg/metrics"
	"github.com/bissquit/payments-admin/internal/pkg/postgres"
	"github.com/bissquit/payments-admin/internal/realtime"
	"github.com/bissquit/payments-admin/internal/receipts"
	"github.com/bissquit/payments-admin/internal/version"
	"github.com/bissquit/payments-admin/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds every route except the websocket endpoint.
const requestTimeout = 60 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	hub           *realtime.Hub
}

// New connects to the database, applies migrations when enabled and builds
// the HTTP servers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(migrations.FS, cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go metrics.CollectDBPoolMetrics(metricsCtx, db, 15*time.Second)

	router, err := app.setupRouter(connectCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and blocks until the main one stops.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Hijacked websocket connections are not tracked by http.Server.
	if a.hub != nil {
		a.hub.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Hub returns the realtime hub, or nil when realtime is disabled.
func (a *App) Hub() *realtime.Hub {
	return a.hub
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	store, err := newReceiptStore(ctx, a.config.Storage)
	if err != nil {
		return nil, fmt.Errorf("create receipt store: %w", err)
	}
	slog.Info("receipt storage configured", "backend", a.config.Storage.Backend)

	jwtAuth, err := jwt.NewAuthenticator(jwt.Config{
		SecretKey: a.config.JWT.SecretKey,
		TokenTTL:  a.config.JWT.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	var notifier payments.Notifier
	if a.config.Realtime.Enabled {
		hubConfig := realtime.DefaultConfig()
		hubConfig.SendBuffer = a.config.Realtime.SendBuffer
		hubConfig.AllowedOrigins = a.config.CORS.AllowedOrigins
		a.hub = realtime.NewHub(hubConfig, jwtAuth)
		notifier = a.hub

		// Outside the timeout group: chi's Timeout would write to the hijacked connection.
		r.Get("/api/ws", a.hub.ServeHTTP)
	}

	identityService := identity.NewService(identitypostgres.NewRepository(a.db), jwtAuth, notifier)
	identityHandler := identity.NewHandler(identityService)

	paymentsService := payments.NewService(paymentspostgres.NewRepository(a.db), notifier)
	paymentsHandler := payments.NewHandler(paymentsService, store, a.config.Storage.MaxUploadBytes)

	var loginLimiter *httputil.IPRateLimiter
	if a.config.RateLimit.LoginRPS > 0 {
		loginLimiter = httputil.NewIPRateLimiter(a.config.RateLimit.LoginRPS, a.config.RateLimit.LoginBurst)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/healthz", a.healthzHandler)
		r.Get("/readyz", a.readyzHandler)
		r.Get("/version", a.versionHandler)
		r.Get("/api/openapi.yaml", openapiHandler)
		r.Get("/docs", docsHandler)

		r.Route("/api/user", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(httputil.RateLimitMiddleware(loginLimiter))
				identityHandler.RegisterPublicRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.AuthMiddleware(identityService))
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				identityHandler.RegisterRoutes(r)
			})
		})

		r.Route("/api/pay", func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			paymentsHandler.RegisterRoutes(r)
		})
	})

	return r, nil
}

func newReceiptStore(ctx context.Context, cfg config.StorageConfig) (receipts.Store, error) {
	switch cfg.Backend {
	case config.StorageS3:
		return receipts.NewS3Store(ctx, receipts.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	case config.StorageLocal:
		return receipts.NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func openapiHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	_, _ = w.Write(openapi.Spec)
}

func docsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(docsPage))
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
    <title>Payments Admin API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
