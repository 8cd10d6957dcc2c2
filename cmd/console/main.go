package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/kitchen-console/internal/alert"
	"github.com/joao-fontenele/kitchen-console/internal/config"
	"github.com/joao-fontenele/kitchen-console/internal/console"
	"github.com/joao-fontenele/kitchen-console/internal/feed"
	"github.com/joao-fontenele/kitchen-console/internal/lifecycle"
	"github.com/joao-fontenele/kitchen-console/internal/messaging"
	"github.com/joao-fontenele/kitchen-console/internal/notify"
	"github.com/joao-fontenele/kitchen-console/internal/orders"
	"github.com/joao-fontenele/kitchen-console/internal/staff"
	"github.com/joao-fontenele/kitchen-console/internal/telemetry"
)

const (
	serviceName    = "kitchen-console"
	serviceVersion = "0.1.0"
	dbSchema       = "kitchen"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("8080")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.Require("POSTGRES_URL"); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(cfg.PostgresURL, dbSchema)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	var publisher orders.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer = messaging.NewProducer(cfg.KafkaBrokers, cfg.ChangeTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, sessions will rely on periodic refresh")
	}
	service := orders.NewService(orders.NewOrderRepository(db), publisher, logger, orders.WithLocation(cfg.Location))

	var dispatcher lifecycle.Dispatcher
	if cfg.NotifierURL != "" {
		dispatcher = notify.NewClient(cfg.NotifierURL, &http.Client{
			Timeout:   cfg.NotifyTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		})
	} else {
		logger.Warn("NOTIFIER_URL not set, customers will not be notified")
	}

	feeds := func(sessionID string) feed.Feed {
		return messaging.NewConsumer(cfg.KafkaBrokers, cfg.ChangeTopic, "kitchen-console-"+sessionID,
			messaging.WithStartOffset(kafka.LastOffset))
	}

	var player alert.Player
	if len(cfg.AlertPlayer) > 0 {
		player = alert.NewCommandPlayer(cfg.AlertPlayer[0], cfg.AlertPlayer[1:]...)
	}

	manager := console.NewManager(
		staff.NewAuthenticator(staff.NewSQLRepository(db)),
		service,
		dispatcher,
		feeds,
		console.Settings{
			Location:        cfg.Location,
			AlertDuration:   cfg.AlertDuration,
			FeedStartDelay:  cfg.FeedStartDelay,
			RefreshInterval: cfg.RefreshInterval,
			NotifyTimeout:   cfg.NotifyTimeout,
			Player:          player,
		},
		logger,
	)

	mux := http.NewServeMux()
	console.NewHandler(manager, logger).Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, serviceName, otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting kitchen console", "port", cfg.Port, "timezone", cfg.Location.String())
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

	manager.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
