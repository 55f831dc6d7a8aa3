package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/animus-labs/animus-datafabric/internal/app"
	"github.com/animus-labs/animus-datafabric/internal/hub"
	"github.com/animus-labs/animus-datafabric/internal/lineagesink"
	"github.com/animus-labs/animus-datafabric/internal/saga"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "hub-events")
	ctx := context.Background()

	cfg, err := app.ConfigFromEnv(app.SideHub)
	if err != nil {
		logger.Error("invalid hub config", "error", err)
		os.Exit(2)
	}
	rt, err := app.Open(ctx, logger, cfg)
	if err != nil {
		logger.Error("runtime unavailable", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	svc, err := rt.HubService()
	if err != nil {
		logger.Error("invalid hub config", "error", err)
		os.Exit(2)
	}

	completers := []saga.Completer{svc.ResponseProcessor()}
	if rt.DB != nil {
		ingest, err := hub.NewIngestProcessor(logger, lineagesink.NewPostgres(rt.DB))
		if err != nil {
			logger.Error("invalid hub config", "error", err)
			os.Exit(2)
		}
		status, err := hub.NewStatusProcessor(logger, hub.NewTaskStatuses(rt.DB), cfg.HubStateMachineArn)
		if err != nil {
			logger.Error("invalid hub config", "error", err)
			os.Exit(2)
		}
		completers = append(completers, ingest, status)
	} else {
		logger.Warn("lineage ingestion and status tracking disabled", "reason", "DATAFABRIC_DATABASE_URL not set")
	}
	lambda.Start(app.Route(logger, completers...))
}
