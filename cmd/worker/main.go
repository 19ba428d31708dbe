package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ramanifashion/order-engine/internal/config"
	"github.com/ramanifashion/order-engine/internal/domain"
	"github.com/ramanifashion/order-engine/internal/messaging"
	"github.com/ramanifashion/order-engine/internal/telemetry"
	"github.com/ramanifashion/order-engine/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("POSTGRES_URL", "KAFKA_BROKERS", "NOTIFICATION_URL")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "order-engine-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   cfg.UpstreamTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	notificationHandler := worker.NewNotificationHandler(cfg.NotificationURL, httpClient, logger)
	projectorHandler := worker.NewProjectorHandler(worker.NewSummaryRepository(db), logger)

	dispatchedConsumer := messaging.NewConsumer(cfg.KafkaBrokers, domain.TopicOrderDispatched, "notification-worker")
	defer func() { _ = dispatchedConsumer.Close() }()
	updatedConsumer := messaging.NewConsumer(cfg.KafkaBrokers, domain.TopicOrderUpdated, "summary-projector")
	defer func() { _ = updatedConsumer.Close() }()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting order worker", "brokers", cfg.KafkaBrokers)

	var wg sync.WaitGroup
	consume := func(consumer *messaging.Consumer, handler func(context.Context, []byte) error, name string) {
		defer wg.Done()
		if err := consumer.Consume(ctx, handler); err != nil {
			if ctx.Err() == context.Canceled {
				logger.Info("consumer stopped", "consumer", name)
				return
			}
			logger.Error("consumer error", "error", err, "consumer", name)
			cancel()
		}
	}

	wg.Add(2)
	go consume(dispatchedConsumer, notificationHandler.Handle, "notification")
	go consume(updatedConsumer, projectorHandler.Handle, "projector")
	wg.Wait()
}
