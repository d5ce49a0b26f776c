package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace/config"
	"marketplace/events"
	"marketplace/warehouse"
)

type runner interface {
	Run(ctx context.Context, handle warehouse.HandleFunc) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var consumer runner
	switch cfg.Events {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		consumer = warehouse.NewSQSConsumer(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL, log)
		log.Info("warehouse consuming", "source", "sqs", "queue_url", cfg.SQSQueueURL)
	default:
		conn, err := amqp.Dial(cfg.RabbitURI)
		if err != nil {
			log.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		consumer = warehouse.NewAMQPConsumer(conn, cfg.OrdersQueue, cfg.WarehouseWorkers, log)
		log.Info("warehouse consuming", "source", "amqp", "queue", cfg.OrdersQueue, "workers", cfg.WarehouseWorkers)
	}

	tally := warehouse.NewTally()
	err = consumer.Run(ctx, func(_ context.Context, e events.OrderPlaced) error {
		if !tally.Record(e) {
			log.Debug("duplicate order event", "order_id", e.OrderID)
		}
		return nil
	})
	if err != nil {
		log.Error("consumer stopped", "error", err)
	}

	log.Info("shutting down warehouse")
	snap := tally.Snapshot()
	log.Info("warehouse totals", "orders", snap.Orders, "by_product", snap.ByProduct)
	if err != nil {
		os.Exit(1)
	}
}
