package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/gateway"
	"github.com/xenking/edu-backoffice/internal/handler"
	"github.com/xenking/edu-backoffice/internal/storage/postgres"
	"github.com/xenking/edu-backoffice/internal/storage/rediscache"
	"github.com/xenking/edu-backoffice/internal/tenant"
	"github.com/xenking/edu-backoffice/pkg/health"
	"github.com/xenking/edu-backoffice/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.Int("tenants", cfg.Tenants.Count()))
	ctx = zctx.Base(ctx, lg)

	tenants, err := OpenTenants(ctx, cfg.Tenants)
	if err != nil {
		return errors.Wrap(err, "open tenants")
	}
	defer CloseTenants(tenants)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = rediscache.NewClient(ctx, cfg.RedisURL); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
	} else {
		lg.Warn("Redis not configured, course cache disabled")
	}

	srv, err := newServer(ctx, lg, cfg, tenants, rdb, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	srv.health.Start(ctx, 10*time.Second)
	srv.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type server struct {
	health  *health.Health
	handler http.Handler
}

// newServer builds per-tenant services, health probes and the middleware
// chain. The health loop is not started.
func newServer(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	tenants *tenant.Registry[*Tenant],
	rdb *redis.Client,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*server, error) {
	gw := gateway.New(gateway.Options{
		BaseURL:        cfg.Gateway.BaseURL,
		Timeout:        cfg.Gateway.Timeout,
		TracerProvider: tp,
	})

	healthSvc := health.New()
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineLimit(10000))

	services := tenant.NewRegistry[*handler.Services]()
	for _, id := range tenants.IDs() {
		t, _ := tenants.Get(id)
		svc, err := newServices(t, gw, rdb, cfg.CacheTTL, mp)
		if err != nil {
			return nil, errors.Wrapf(err, "tenant %s", id)
		}
		if err := services.Add(id, svc); err != nil {
			return nil, err
		}
		healthSvc.Register(health.Readiness, "postgres/"+string(id), 5*time.Second, health.Ping(t.Store))
	}
	if rdb != nil {
		healthSvc.Register(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// API keys live in the first tenant's database.
	first, err := tenants.Get(tenants.IDs()[0])
	if err != nil {
		return nil, err
	}
	authn := auth.NewAuthenticator(postgres.NewAPIKeyRepository(first.Pool), []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.Livez)
	mux.HandleFunc("GET /readyz", healthSvc.Readyz)
	handler.New(services, authn).Register(mux)

	h := otelhttp.NewHandler(
		httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
		),
		"backoffice",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	)
	return &server{health: healthSvc, handler: h}, nil
}
