package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"

	"github.com/animus-labs/animus-datafabric/internal/bootstrap"
	"github.com/animus-labs/animus-datafabric/internal/platform/awsconfig"
	"github.com/animus-labs/animus-datafabric/internal/platform/env"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "schema-bootstrap")
	ctx := context.Background()

	awsCfg, err := awsconfig.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid aws config", "error", err)
		os.Exit(2)
	}
	target := bootstrap.TargetFromEnv()
	if err := target.Validate(); err != nil {
		logger.Error("invalid redshift config", "error", err)
		os.Exit(2)
	}
	manifest, err := loadManifest(env.String("DATAFABRIC_BOOTSTRAP_MANIFEST", ""))
	if err != nil {
		logger.Error("invalid manifest", "error", err)
		os.Exit(2)
	}

	sdkCfg, err := awsconfig.Load(ctx, awsCfg)
	if err != nil {
		logger.Error("aws config unavailable", "error", err)
		os.Exit(1)
	}
	runner, err := bootstrap.NewRunner(logger, redshiftdata.NewFromConfig(sdkCfg), target, bootstrap.DefaultBackoff)
	if err != nil {
		logger.Error("invalid redshift config", "error", err)
		os.Exit(2)
	}

	lambda.Start(func(ctx context.Context) error {
		return runner.Run(ctx, manifest)
	})
}

// loadManifest reads a manifest file when path is set and falls back to the
// embedded tables.
func loadManifest(path string) (bootstrap.Manifest, error) {
	if path == "" {
		return bootstrap.DefaultManifest()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return bootstrap.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return bootstrap.ParseManifest(raw)
}
