package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ramanifashion/order-engine/internal/auth"
	"github.com/ramanifashion/order-engine/internal/config"
	"github.com/ramanifashion/order-engine/internal/domain"
	"github.com/ramanifashion/order-engine/internal/messaging"
	"github.com/ramanifashion/order-engine/internal/notify"
	"github.com/ramanifashion/order-engine/internal/orders"
	"github.com/ramanifashion/order-engine/internal/payment"
	"github.com/ramanifashion/order-engine/internal/shipping"
	"github.com/ramanifashion/order-engine/internal/telemetry"
)

// phonepeInitiator adapts the gateway client to the order intake handler,
// carrying the configured browser return URL.
type phonepeInitiator struct {
	client      *payment.Client
	redirectURL string
}

func (p *phonepeInitiator) Initiate(ctx context.Context, merchantOrderID string, amount int64) (*orders.PaymentInitiation, error) {
	returnURL := p.redirectURL + "?merchantOrderId=" + url.QueryEscape(merchantOrderID)
	result, err := p.client.Initiate(ctx, merchantOrderID, amount, returnURL)
	if err != nil {
		return nil, err
	}
	return &orders.PaymentInitiation{
		GatewayOrderID: result.GatewayOrderID,
		RedirectURL:    result.RedirectURL,
	}, nil
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("POSTGRES_URL", "PHONEPE_BASE_URL", "SHIPROCKET_BASE_URL", "ADMIN_TOKEN")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "order-engine", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("order-engine", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

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

	var (
		updatedProducer    *messaging.Producer
		dispatchedProducer *messaging.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		updatedProducer = messaging.NewProducer(cfg.KafkaBrokers, domain.TopicOrderUpdated)
		defer func() { _ = updatedProducer.Close() }()
		dispatchedProducer = messaging.NewProducer(cfg.KafkaBrokers, domain.TopicOrderDispatched)
		defer func() { _ = dispatchedProducer.Close() }()
	}

	httpClient := &http.Client{
		Timeout:   cfg.UpstreamTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	gatewayClient := payment.NewClient(payment.ClientConfig{
		BaseURL:         cfg.PhonePeBaseURL,
		ClientID:        cfg.PhonePeClientID,
		ClientSecret:    cfg.PhonePeClientSecret,
		WebhookUsername: cfg.PhonePeWebhookUsername,
		WebhookPassword: cfg.PhonePeWebhookPassword,
		HTTPClient:      httpClient,
	})
	carrierClient := shipping.NewClient(cfg.ShiprocketBaseURL, cfg.ShiprocketToken, httpClient)

	repo := orders.NewRepository(db)

	var reconcilerPublisher payment.Publisher
	var handlerPublisher orders.Publisher
	var senderPublisher notify.Publisher
	if updatedProducer != nil {
		reconcilerPublisher = updatedProducer
		handlerPublisher = updatedProducer
	}
	if dispatchedProducer != nil {
		senderPublisher = dispatchedProducer
	}

	reconciler := payment.NewReconciler(repo, gatewayClient, reconcilerPublisher, logger)
	sender := notify.NewSender(senderPublisher, cfg.BestEffortTimeout, logger)
	dispatcher := shipping.NewDispatcher(repo, carrierClient, sender, cfg.PickupLocation, cfg.BestEffortTimeout, logger)

	initiator := &phonepeInitiator{client: gatewayClient, redirectURL: cfg.PaymentRedirectURL}
	orderHandler := orders.NewHandler(repo, initiator, dispatcher, handlerPublisher, logger)
	paymentHandler := payment.NewHandler(gatewayClient, reconciler, cfg.OrderStatusPageURL, logger)

	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return telemetry.WithHTTPRoute(auth.RequireAdmin(cfg.AdminToken, logger, h))
	}
	customer := func(h http.HandlerFunc) http.HandlerFunc {
		return telemetry.WithHTTPRoute(auth.RequireCustomer(logger, h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /orders", customer(orderHandler.HandleCreate))
	mux.HandleFunc("GET /my/orders", customer(orderHandler.HandleListMine))
	mux.HandleFunc("GET /payments/{orderNumber}/status", customer(paymentHandler.HandlePoll))

	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(paymentHandler.HandleWebhook))
	mux.HandleFunc("GET /payments/callback", telemetry.WithHTTPRoute(paymentHandler.HandleRedirect))
	mux.HandleFunc("POST /payments/callback", telemetry.WithHTTPRoute(paymentHandler.HandleRedirect))

	mux.HandleFunc("GET /admin/orders", admin(orderHandler.HandleList))
	mux.HandleFunc("GET /admin/orders/{id}", admin(orderHandler.HandleGet))
	mux.HandleFunc("POST /admin/orders/{id}/approve", admin(orderHandler.HandleApprove))
	mux.HandleFunc("POST /admin/orders/{id}/reject", admin(orderHandler.HandleReject))
	mux.HandleFunc("POST /admin/orders/{id}/dispatch", admin(orderHandler.HandleDispatch))
	mux.HandleFunc("PATCH /admin/orders/{id}/status", admin(orderHandler.HandleAdvanceStatus))

	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, "order-engine",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting order engine", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
