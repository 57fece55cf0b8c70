// Lumiere Payments Microservice
//
// This is the main entry point for the payment-link service.
// It wires up all dependencies and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/config"
	"github.com/lumiere/lumiere-payments/internal/adapters/backend"
	"github.com/lumiere/lumiere-payments/internal/adapters/kafka"
	"github.com/lumiere/lumiere-payments/internal/adapters/memory"
	"github.com/lumiere/lumiere-payments/internal/adapters/mercadopago"
	"github.com/lumiere/lumiere-payments/internal/adapters/postgres"
	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
	"github.com/lumiere/lumiere-payments/internal/core/service"
	"github.com/lumiere/lumiere-payments/internal/handlers"
	"github.com/lumiere/lumiere-payments/internal/logging"
	"github.com/lumiere/lumiere-payments/internal/pkg/circuit"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn("configuration", zap.String("warning", w))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting lumiere payments",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("sandbox", cfg.MercadoPago.Sandbox),
	)

	// Wire up dependencies (manual dependency injection)
	//
	// Infrastructure Layer
	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway, err := mercadopago.NewAdapter(mercadopago.Options{
		AccessToken:         cfg.MercadoPago.AccessToken,
		Currency:            cfg.MercadoPago.Currency,
		Timeout:             cfg.MercadoPago.Timeout,
		Sandbox:             cfg.MercadoPago.Sandbox,
		PreferenceCacheSize: cfg.MercadoPago.PreferenceCacheCap,
	}, circuit.New("mercadopago", cfg.Breaker, logger.Named("breaker")), logger.Named("mercadopago"))
	if err != nil {
		return err
	}

	var notifiers []ports.StatusNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka publisher close", zap.Error(err))
			}
		}()
		notifiers = append(notifiers, publisher)
	}
	if cfg.Backend.BaseURL != "" {
		notifiers = append(notifiers, backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey))
	}
	if len(notifiers) == 0 {
		logger.Warn("no status notifier configured, status changes are only stored")
	}
	if cfg.MercadoPago.WebhookSecret == "" {
		logger.Warn("MP_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	if cfg.Server.ServiceAPIKey == "" {
		logger.Warn("SERVICE_API_KEY not set, payment link endpoints are unauthenticated")
	}

	// Service Layer
	links := service.NewLinkService(store, gateway, service.CheckoutURLs{
		Back: domain.BackURLs{
			Success: cfg.Checkout.SuccessURL,
			Failure: cfg.Checkout.FailureURL,
			Pending: cfg.Checkout.PendingURL,
		},
		NotificationURL: cfg.Checkout.NotificationURL,
	}, logger.Named("links"))

	reconciler := service.NewReconciler(store, gateway, service.ReconcilerOptions{
		Validator:     mercadopago.NewWebhookValidator(),
		WebhookSecret: cfg.MercadoPago.WebhookSecret,
		Notifiers:     notifiers,
		Retry:         cfg.Retry,
	}, logger.Named("reconciler"))

	// API Layer
	handler := handlers.NewPaymentHandler(links, reconciler, logger.Named("http"))
	router := handlers.SetupRouter(handler, handlers.RouterConfig{
		GinMode:       cfg.Server.GinMode,
		ServiceAPIKey: cfg.Server.ServiceAPIKey,
	}, logger.Named("http"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the configured order store and returns its cleanup func.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (ports.OrderStore, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory order store, orders are lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, int32(cfg.MaxConns), logger.Named("pgx"))
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}
	return postgres.NewOrderStore(pool, logger.Named("orders")), pool.Close, nil
}
