// Package awsconfig loads the shared AWS SDK configuration for every client
// the handlers build.
package awsconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/animus-labs/animus-datafabric/internal/platform/env"
)

type Config struct {
	Region      string
	MaxAttempts int
}

func ConfigFromEnv() (Config, error) {
	attempts, err := env.Int("DATAFABRIC_AWS_MAX_ATTEMPTS", 4)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Region:      env.String("AWS_REGION", ""),
		MaxAttempts: attempts,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	return nil
}

// Load resolves credentials from the default chain and applies the standard
// retryer bounded at cfg.MaxAttempts.
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	if err := cfg.Validate(); err != nil {
		return aws.Config{}, err
	}
	out, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), cfg.MaxAttempts)
		}),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return out, nil
}
