package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/animus-labs/animus-datafabric/internal/app"
	"github.com/animus-labs/animus-datafabric/internal/saga"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "spoke-events")
	ctx := context.Background()

	cfg, err := app.ConfigFromEnv(app.SideSpoke)
	if err != nil {
		logger.Error("invalid spoke config", "error", err)
		os.Exit(2)
	}
	rt, err := app.Open(ctx, logger, cfg)
	if err != nil {
		logger.Error("runtime unavailable", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	svc, err := rt.SpokeService()
	if err != nil {
		logger.Error("invalid spoke config", "error", err)
		os.Exit(2)
	}

	completers := append(svc.Completers(), saga.Completer(svc.RequestProcessor()))
	lambda.Start(app.Route(logger, completers...))
}
