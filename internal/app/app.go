// Package app wires the fulfillment service together: storage, event
// transport, the saga coordinator, and the health endpoint.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oakmart/fulfillment/internal/domain/inventory"
	"github.com/oakmart/fulfillment/internal/domain/order"
	"github.com/oakmart/fulfillment/internal/domain/payment"
	"github.com/oakmart/fulfillment/internal/domain/shipment"
	"github.com/oakmart/fulfillment/internal/events"
	"github.com/oakmart/fulfillment/internal/outbox"
	"github.com/oakmart/fulfillment/internal/repository"
	"github.com/oakmart/fulfillment/internal/saga"
	"github.com/oakmart/fulfillment/pkg/health"
)

// Run creates all dependencies, starts the background loops, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories. The order repository optionally gets a Redis read cache
	// in front of it.
	var orderRepo order.Repository = repository.NewOrderRepository(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		orderRepo = repository.NewCachedOrderRepository(orderRepo, rdb, time.Minute, lg)
	}
	inventoryRepo := repository.NewInventoryRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	shipmentRepo := repository.NewShipmentRepository(pool)

	healthSvc.Start(ctx, 10*time.Second)

	// Domain services.
	orderSvc := order.NewService(orderRepo)
	inventorySvc := inventory.NewService(inventoryRepo)
	paymentSvc := payment.NewService(paymentRepo)
	shipmentSvc := shipment.NewService(shipmentRepo, shipment.NewDeduper(1_000_000, 0.001))

	// Event transport: durable outbox drained to Kafka and the in-process
	// dispatcher.
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, lg)
		if err != nil {
			return errors.Wrap(err, "create kafka publisher")
		}
		defer func() { _ = kafka.Close() }()
		publisher = kafka
	}

	dispatcher := events.NewDispatcher(cfg.Saga.Workers, lg)

	coordinator := saga.New(orderSvc, inventorySvc, paymentSvc, shipmentSvc, saga.Config{
		PaymentTTL: cfg.Saga.PaymentTTL,
		Carrier:    cfg.Saga.Carrier,
		PendingAge: cfg.Saga.PendingAge,
		SweepLimit: cfg.Saga.SweepLimit,
	}, lg)
	coordinator.Instrument(m.TracerProvider().Tracer("fulfillment.saga"))
	coordinator.Register(dispatcher)

	relay := outbox.NewRelay(outbox.NewStore(pool), publisher, dispatcher, lg,
		cfg.Outbox.Interval, cfg.Outbox.Batch)
	if err := relay.Instrument(
		m.TracerProvider().Tracer("fulfillment.outbox"),
		m.MeterProvider().Meter("fulfillment.outbox"),
	); err != nil {
		return errors.Wrap(err, "instrument relay")
	}

	// Health endpoints on a plain mux.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Addr:              cfg.Addr,
		Handler:           mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return coordinator.RunSweeps(gctx, cfg.Saga.SweepInterval) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "health server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	healthSvc.SetReady(true)
	lg.Info("Service running", zap.String("addr", cfg.Addr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
