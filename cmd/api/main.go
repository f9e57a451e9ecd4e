package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-finalizer/internal/config"
	"github.com/ariefcatur/go-order-finalizer/internal/httpx"
	"github.com/ariefcatur/go-order-finalizer/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-finalizer/internal/kafka"
	"github.com/ariefcatur/go-order-finalizer/internal/observability"
	"github.com/ariefcatur/go-order-finalizer/internal/orders"
	"github.com/ariefcatur/go-order-finalizer/internal/postgres"
	"github.com/ariefcatur/go-order-finalizer/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName+"-api")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", zap.Error(err))
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

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()

	repo := &orders.Repo{DB: db}

	stale := jobs.NewStaleOrdersJob(repo, cfg.StaleOrderAfter, cfg.StaleSweepSchedule, logger)
	if err := stale.Start(); err != nil {
		return err
	}
	defer stale.Stop()

	router := httpx.NewRouter(logger)
	oh := &httpx.OrdersHandler{
		Repo:     repo,
		Producer: prod,
		Cache:    &redisx.Cache{Client: rdb, Service: cfg.ServiceName},
		Topic:    cfg.OrderCreatedTopic,
		Logger:   logger,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
