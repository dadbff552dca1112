// Package app wires the storefront service together: config, storage,
// remote client, cart manager, HTTP surface, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/handler"
	"storefront/internal/shopify"
	"storefront/internal/storage"
	"storefront/pkg/health"
	"storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("shop", cfg.Shop.Domain),
		zap.String("store_backend", cfg.Store.Backend),
	)

	// Remote commerce backend.
	client := shopify.NewClient(shopify.Config{
		Domain:      cfg.Shop.Domain,
		AccessToken: cfg.Shop.AccessToken,
		APIVersion:  cfg.Shop.APIVersion,
	})

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Identity-to-cart store.
	store, cleanup, err := newStore(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer cleanup()

	// Cart manager + catalog cache.
	carts := cart.NewManager(client, store, lg.Named("cart"), cfg.Cart.DebounceDelay)
	defer carts.Close()
	products := catalog.New(client, cfg.Catalog.Limit, lg.Named("catalog"))

	// HTTP routes.
	h := handler.New(carts, products)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	wrapped := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Customer-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(wrapped, "storefront",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newStore builds the configured identity-to-cart store and registers its
// readiness check. The returned cleanup releases backend resources.
func newStore(ctx context.Context, cfg *Config, healthSvc *health.Health) (storage.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return storage.NewMemory(), func() {}, nil

	case "file":
		store, err := storage.NewFile(cfg.Store.Path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open file store")
		}
		return store, func() {}, nil

	case "postgres":
		pool, err := storage.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := storage.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		return storage.NewPostgres(pool), pool.Close, nil

	default:
		return nil, nil, errors.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
