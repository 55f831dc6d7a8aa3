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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "hub-tasks")
	ctx := context.Background()

	task, err := env.Required("DATAFABRIC_TASK")
	if err != nil {
		logger.Error("invalid task config", "error", err)
		os.Exit(2)
	}
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

	logger.Info("starting", "task", task)
	switch domain.TaskKind(task) {
	case domain.TaskCreateProject:
		lambda.Start(svc.ProjectTask().Process)
	case domain.TaskDataAsset:
		lambda.Start(svc.StartTask().Process)
	case domain.TaskDataLineage:
		lambda.Start(svc.LineageTask().Process)
	default:
		logger.Error("invalid task config", "error", "DATAFABRIC_TASK must be df_create_project, df_data_asset or df_data_lineage", "task", task)
		os.Exit(2)
	}
}
