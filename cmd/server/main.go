package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/checkout-embed/internal"
	"github.com/dukerupert/checkout-embed/internal/billing"
	"github.com/dukerupert/checkout-embed/internal/checkout"
	"github.com/dukerupert/checkout-embed/internal/commerce"
	"github.com/dukerupert/checkout-embed/internal/crypto"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/events"
	"github.com/dukerupert/checkout-embed/internal/handler/api"
	"github.com/dukerupert/checkout-embed/internal/middleware"
	"github.com/dukerupert/checkout-embed/internal/router"
	"github.com/dukerupert/checkout-embed/internal/routes"
	"github.com/dukerupert/checkout-embed/internal/shipping"
	"github.com/dukerupert/checkout-embed/internal/storage"
	"github.com/dukerupert/checkout-embed/internal/tax"
	"github.com/dukerupert/checkout-embed/internal/telemetry"
	"github.com/dukerupert/checkout-embed/internal/validation"
)

const sweepInterval = time.Minute

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := telemetry.NewCheckoutMetrics("", registry)
	httpMetrics := middleware.NewMetrics("", registry)

	// Checkout progress storage
	clients, closeClients, err := openStorageClients(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClients()

	store, err := storage.NewStorage(ctx, cfg.Storage, clients)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Checkout state storage ready", slog.String("provider", cfg.Storage.Provider))

	var sealer crypto.Sealer
	if cfg.EncryptionKey != "" {
		key, err := crypto.DecodeKeyBase64(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid STATE_ENCRYPTION_KEY: %w", err)
		}
		if sealer, err = crypto.NewAESSealer(key); err != nil {
			return fmt.Errorf("invalid STATE_ENCRYPTION_KEY: %w", err)
		}
	}

	// Commerce backend
	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	backend = commerce.Observe(backend, checkoutMetrics.ObserveBackend)

	// Lifecycle events
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		publisher = p
		logger.Info("Publishing checkout events to NATS", slog.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}
	defer publisher.Close()

	// Orchestrators
	validator := validation.New()
	factory := func(checkoutID, clientSecret string) (*checkout.Orchestrator, error) {
		return checkout.New(checkout.Config{
			CheckoutID:         checkoutID,
			ClientSecret:       clientSecret,
			SuccessURL:         cfg.Checkout.SuccessURL,
			CancelURL:          cfg.Checkout.CancelURL,
			RevalidateInterval: cfg.Checkout.RevalidateInterval,
			Locale:             cfg.Checkout.Locale,
		}, checkout.Deps{
			Backend:   backend,
			Storage:   store,
			Sealer:    sealer,
			Validator: validator,
			Publisher: publisher,
			Metrics:   checkoutMetrics,
			Logger:    logger,
		})
	}
	manager := checkout.NewManager(ctx, factory, logger, func(open int) {
		checkoutMetrics.ActiveCheckouts.Set(float64(open))
	})
	defer manager.Shutdown()
	go manager.RunSweeper(ctx, sweepInterval, cfg.Checkout.IdleTimeout)

	// HTTP
	discountLimiter := middleware.NewRateLimiter(middleware.DiscountRateLimiterConfig())
	defer discountLimiter.Stop()

	r := router.New(
		middleware.RequestID,
		telemetry.SentryMiddleware(),
		telemetry.SentryContextMiddleware(middleware.CheckoutID),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
		router.Recovery(logger),
		httpMetrics.Middleware,
		middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()),
		middleware.MaxBodySize(cfg.HTTP.MaxBodyBytes),
		middleware.Timeout(cfg.HTTP.RequestTimeout),
	)
	r.Around(router.CORS(cfg.HTTP.AllowedOrigins))

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		CheckoutHandler: api.NewCheckoutHandler(manager),
		DiscountLimit:   discountLimiter.Middleware,
	})
	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		Health:  healthCheck(clients),
		Metrics: httpMetrics.Handler(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting checkout server", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStorageClients opens the shared connections the configured storage
// provider needs. The returned func closes them.
func openStorageClients(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (storage.Clients, func(), error) {
	var clients storage.Clients
	closeFn := func() {}

	switch cfg.Storage.Provider {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return clients, closeFn, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return clients, closeFn, fmt.Errorf("redis ping failed: %w", err)
		}
		clients.Redis = client
		closeFn = func() { client.Close() }

	case "postgres":
		logger.Info("Connecting to database...")
		pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
		if err != nil {
			return clients, closeFn, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return clients, closeFn, fmt.Errorf("database ping failed: %w", err)
		}

		logger.Info("Running database migrations...")
		if err := internal.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return clients, closeFn, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")

		clients.Postgres = pool
		closeFn = pool.Close
	}

	return clients, closeFn, nil
}

// healthCheck pings whichever storage connection is open.
func healthCheck(clients storage.Clients) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if clients.Redis != nil {
			if err := clients.Redis.Ping(ctx).Err(); err != nil {
				return err
			}
		}
		if clients.Postgres != nil {
			return clients.Postgres.Ping(ctx)
		}
		return nil
	}
}

// newBackend builds the configured commerce backend.
func newBackend(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (commerce.Backend, error) {
	if cfg.Commerce.Backend == "http" {
		client, err := commerce.NewClient(cfg.Commerce.BaseURL, cfg.Commerce.Timeout,
			commerce.WithHTTPClient(&http.Client{
				Timeout:   cfg.Commerce.Timeout,
				Transport: &telemetry.HTTPTransport{},
			}),
			commerce.WithClientLogger(logger),
			commerce.WithBodyLogging(cfg.Env == "dev"),
		)
		if err != nil {
			return nil, fmt.Errorf("commerce client initialization failed: %w", err)
		}
		logger.Info("Using remote commerce backend", slog.String("base_url", cfg.Commerce.BaseURL))
		return client, nil
	}

	var bp billing.Provider
	switch cfg.Local.PaymentProvider {
	case "stripe":
		sp, err := billing.NewStripeProvider(billing.StripeConfig{
			APIKey:         cfg.Stripe.SecretKey,
			PublishableKey: cfg.Stripe.PublishableKey,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe initialization failed: %w", err)
		}
		bp = sp
	default:
		bp = billing.NewMockProvider()
	}

	var tc tax.Calculator
	switch cfg.Local.TaxProvider {
	case "stripe":
		if _, ok := bp.(*billing.StripeProvider); !ok {
			// Stripe Tax needs the SDK key even when payments are mocked.
			if _, err := billing.NewStripeProvider(billing.StripeConfig{
				APIKey:         cfg.Stripe.SecretKey,
				PublishableKey: cfg.Stripe.PublishableKey,
			}); err != nil {
				return nil, fmt.Errorf("stripe initialization failed: %w", err)
			}
		}
		tc = billing.NewStripeTaxCalculator()
	case "none":
		tc = tax.NewNoTaxCalculator()
	default:
		tc = tax.NewPercentageCalculator(cfg.Local.TaxRate)
	}

	local := commerce.NewLocalBackend(bp, shipping.NewFlatRateProvider(shipping.DefaultFlatRates()), tc,
		commerce.WithLocalLogger(logger),
	)

	if cfg.Local.DiscountsFile != "" {
		n, err := local.LoadDiscounts(cfg.Local.DiscountsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded discount catalog", slog.Int("count", n))
	}

	if cfg.Local.SeedDemo {
		if err := seedDemo(ctx, local, cfg.Local.Currency, logger); err != nil {
			return nil, err
		}
	}

	logger.Info("Using local commerce backend",
		slog.String("payment_provider", cfg.Local.PaymentProvider),
		slog.String("tax_provider", cfg.Local.TaxProvider),
	)
	return local, nil
}

// seedDemo opens a sample checkout so the widget can be tried without a
// storefront.
func seedDemo(ctx context.Context, local *commerce.LocalBackend, currency string, logger *slog.Logger) error {
	local.AddDiscount(domain.Discount{
		Code:                "WELCOME10",
		Type:                domain.DiscountPercentage,
		Value:               decimal.NewFromInt(10),
		AllowedProductIDs:   []string{"demo-beans", "demo-mug"},
		AllowedCombinations: []string{"welcome"},
	})
	local.AddDiscount(domain.Discount{
		Code:                "FREESHIP",
		Type:                domain.DiscountFreeShipping,
		AllowedCombinations: []string{"welcome"},
	})

	sess, err := local.CreateCheckout(ctx, currency, []domain.LineItem{
		{ProductID: "demo-beans", Quantity: 2, Product: domain.Product{ID: "demo-beans", Title: "Ethiopia Guji, 340g", PriceInCents: 1800}},
		{ProductID: "demo-mug", Quantity: 1, Product: domain.Product{ID: "demo-mug", Title: "Stoneware mug", PriceInCents: 2400}},
	})
	if err != nil {
		return fmt.Errorf("seed demo checkout: %w", err)
	}
	logger.Info("Demo checkout ready",
		slog.String("checkout_id", sess.ID),
		slog.String("client_secret", sess.ClientSecret),
	)
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
