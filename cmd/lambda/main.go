// Command lambda runs the ingestion pipeline as an AWS Lambda function
// subscribed to object-created notifications on the raw bucket.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvrefinery/internal/application"
	"github.com/JonMunkholm/csvrefinery/internal/config"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

func main() {
	// A bundled .env is optional; the function environment is authoritative.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	// Built once per cold start and reused across invocations.
	app, err := application.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	lambda.Start(func(ctx context.Context, ev events.S3Event) (*ingest.Outcome, error) {
		obj, err := trigger.FromS3Event(ctx, ev)
		if err != nil {
			return nil, err
		}
		return app.Service.Handle(ctx, obj)
	})
}
