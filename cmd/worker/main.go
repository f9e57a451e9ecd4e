package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-finalizer/internal/config"
	kafkax "github.com/ariefcatur/go-order-finalizer/internal/kafka"
	"github.com/ariefcatur/go-order-finalizer/internal/observability"
	"github.com/ariefcatur/go-order-finalizer/internal/orders"
	"github.com/ariefcatur/go-order-finalizer/internal/postgres"
	"github.com/ariefcatur/go-order-finalizer/internal/redisx"
	"github.com/ariefcatur/go-order-finalizer/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName+"-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka: one producer serves requeue and dead-letter writes
	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()
	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:          cfg.KafkaBrokers,
		Group:            cfg.Worker.Group,
		Topic:            cfg.OrderCreatedTopic,
		DeadLetterTopic:  cfg.OrderDeadLetterTopic,
		MaxDeliveryCount: cfg.Worker.MaxDeliveryCount,
	}, prod)
	defer cons.Close()

	metrics, err := worker.NewMetrics()
	if err != nil {
		return err
	}

	loop := &worker.Loop{
		Transport: cons,
		Handler: &worker.Handler{
			Store:   &orders.Finalizer{DB: db, LockTimeout: cfg.Worker.LockTimeout},
			Cache:   &redisx.Cache{Client: rdb, Service: "finalizer"},
			Delay:   cfg.Worker.ProcessingDelay,
			Logger:  logger,
			Metrics: metrics,
		},
		MaxConcurrency:  cfg.Worker.MaxConcurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		Logger:          logger,
	}

	logger.Info("order finalizer started",
		zap.String("topic", cfg.OrderCreatedTopic),
		zap.String("group", cfg.Worker.Group),
		zap.Int("max_concurrency", cfg.Worker.MaxConcurrency),
	)

	err = loop.Run(ctx)
	logger.Info("order finalizer stopped")
	return err
}
