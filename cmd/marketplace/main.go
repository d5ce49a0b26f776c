package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/assets"
	"marketplace/cart"
	"marketplace/catalog"
	"marketplace/checkout"
	"marketplace/config"
	"marketplace/events"
	"marketplace/handlers"
	"marketplace/locker"
	"marketplace/order"
	"marketplace/review"
	"marketplace/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	locks, closeLocks, err := openLocker(cfg)
	if err != nil {
		log.Error("failed to set up cart locks", "error", err)
		os.Exit(1)
	}
	defer closeLocks()

	publisher, err := openPublisher(ctx, cfg)
	if err != nil {
		log.Error("failed to set up event publisher", "events", cfg.Events, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	remover, err := openRemover(ctx, cfg)
	if err != nil {
		log.Error("failed to set up asset storage", "assets", cfg.Assets, "error", err)
		os.Exit(1)
	}
	cleaner := assets.NewCleaner(remover, log)
	defer cleaner.Wait()

	h := handlers.New(handlers.Services{
		Store:     store,
		Carts:     cart.NewEngine(store, locks),
		Validator: checkout.NewValidator(store),
		Orders:    order.NewCommitter(store, locks, publisher, log),
		Reviews:   review.NewGate(store),
		Catalog:   catalog.NewService(store, cleaner),
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("marketplace listening", "port", cfg.Port, "store", cfg.Store, "events", cfg.Events)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.Store != "postgres" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func openLocker(cfg *config.Config) (locker.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return locker.NewKeyedMutex(), func() {}, nil
	}
	l, err := locker.NewRedisLocker(cfg.RedisURL, cfg.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}

func openPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events {
	case "amqp":
		return events.DialAMQP(cfg.RabbitURI, cfg.OrdersQueue)
	case "sqs":
		return events.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	default:
		return events.Discard, nil
	}
}

func openRemover(ctx context.Context, cfg *config.Config) (assets.Remover, error) {
	if cfg.Assets == "s3" {
		return assets.NewS3Remover(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.AssetBaseURL)
	}
	return assets.FileRemover{Root: cfg.AssetRoot, BaseURL: cfg.AssetBaseURL}, nil
}
