// Command worker consumes S3 event notifications from a Kafka topic and
// ingests the named objects one at a time.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvrefinery/internal/application"
	"github.com/JonMunkholm/csvrefinery/internal/config"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
	"github.com/JonMunkholm/csvrefinery/internal/messaging/consumer"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateKafka()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	kc, err := consumer.NewKafkaConsumer(consumer.KafkaOptions{
		Brokers:           cfg.Kafka.Brokers,
		Topic:             cfg.Kafka.Topic,
		GroupID:           cfg.Kafka.GroupID,
		SessionTimeout:    cfg.Kafka.SessionTimeout,
		HeartbeatInterval: cfg.Kafka.HeartbeatInterval,
		AutoOffsetReset:   cfg.Kafka.AutoOffsetReset,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	defer kc.Close()

	runner := &consumer.Runner{
		Consumer: kc,
		Handler:  app.Service,
		Timeout:  cfg.Pipeline.Timeout,
	}

	slog.Info("worker started", "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)
	if err := runner.Run(ctx); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
