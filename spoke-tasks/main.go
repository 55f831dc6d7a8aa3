package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/animus-labs/animus-datafabric/internal/app"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/platform/env"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "spoke-tasks")
	ctx := context.Background()

	task, err := env.Required("DATAFABRIC_TASK")
	if err != nil {
		logger.Error("invalid task config", "error", err)
		os.Exit(2)
	}
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

	if task == string(domain.TaskFailure) {
		logger.Info("starting", "task", task)
		lambda.Start(svc.FailureTask().Process)
		return
	}
	d, err := app.Dispatcher(svc, task)
	if err != nil {
		logger.Error("invalid task config", "error", err)
		os.Exit(2)
	}
	logger.Info("starting", "task", d.Kind())
	lambda.Start(d.Dispatch)
}
