// Package app wires the saga services to their AWS clients, stores and
// sinks for the Lambda entrypoints.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/hub"
	"github.com/animus-labs/animus-datafabric/internal/platform/awsconfig"
	"github.com/animus-labs/animus-datafabric/internal/platform/env"
	"github.com/animus-labs/animus-datafabric/internal/platform/objectstore"
	"github.com/animus-labs/animus-datafabric/internal/platform/postgres"
	"github.com/animus-labs/animus-datafabric/internal/saga"
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

// Side selects which half of the saga a process runs.
type Side string

const (
	SideHub   Side = "hub"
	SideSpoke Side = "spoke"
)

type LineageConfig struct {
	// Endpoint is the lineage service base URL. Empty disables HTTP delivery.
	Endpoint     string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c LineageConfig) credentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type Config struct {
	Side     Side
	AWS      awsconfig.Config
	Objects  objectstore.Config
	Tasks    taskstore.Config
	Database postgres.Config
	Saga     saga.Config
	HubBus   string
	SpokeBus string
	Lineage  LineageConfig
	Project  hub.ProjectConfig
	// HubStateMachineArn limits status tracking to the hub workflow. Empty
	// tracks every execution the hub bus forwards.
	HubStateMachineArn string
}

func ConfigFromEnv(side Side) (Config, error) {
	awsCfg, err := awsconfig.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("aws: %w", err)
	}
	objCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("object store: %w", err)
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("database: %w", err)
	}
	ttl, err := env.Duration("DATAFABRIC_SIGNED_URL_TTL", time.Hour)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Side:     side,
		AWS:      awsCfg,
		Objects:  objCfg,
		Database: dbCfg,
		Tasks: taskstore.Config{
			Bucket:    objCfg.Bucket,
			Prefix:    objCfg.Prefix,
			SignedTTL: ttl,
		},
		Saga: saga.Config{
			Region:       awsCfg.Region,
			AccountID:    env.String("DATAFABRIC_ACCOUNT_ID", ""),
			GlueDatabase: env.String("DATAFABRIC_GLUE_DATABASE", ""),
			Jobs: saga.Layout{
				Bucket: env.String("DATAFABRIC_JOBS_BUCKET", objCfg.Bucket),
				Prefix: env.String("DATAFABRIC_JOBS_PREFIX", "jobs"),
			},
			StateMachineArn: env.String("DATAFABRIC_SPOKE_STATE_MACHINE_ARN", ""),
		},
		HubBus:   env.String("DATAFABRIC_HUB_EVENT_BUS", ""),
		SpokeBus: env.String("DATAFABRIC_SPOKE_EVENT_BUS", ""),
		Lineage: LineageConfig{
			Endpoint:     env.String("LINEAGE_ENDPOINT", ""),
			IssuerURL:    env.String("OIDC_ISSUER_URL", ""),
			ClientID:     env.String("OIDC_CLIENT_ID", ""),
			ClientSecret: env.String("OIDC_CLIENT_SECRET", ""),
			Scopes:       env.List("OIDC_SCOPES", nil),
		},
		Project: hub.ProjectConfig{
			ProjectName:  env.String("DATAFABRIC_CATALOG_PROJECT", hub.DefaultProjectName),
			FormTypeName: env.String("DATAFABRIC_CATALOG_FORM_TYPE", hub.DefaultFormTypeName),
		},
		HubStateMachineArn: env.String("DATAFABRIC_HUB_STATE_MACHINE_ARN", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Side {
	case SideSpoke:
		if err := c.Saga.Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.HubBus == "" {
			errs = append(errs, errors.New("DATAFABRIC_HUB_EVENT_BUS is required"))
		}
	case SideHub:
		if c.SpokeBus == "" {
			errs = append(errs, errors.New("DATAFABRIC_SPOKE_EVENT_BUS is required"))
		}
		if c.HubBus == "" && c.Lineage.Endpoint == "" && !c.Database.Enabled() {
			errs = append(errs, errors.New("hub lineage needs LINEAGE_ENDPOINT, DATAFABRIC_DATABASE_URL or DATAFABRIC_HUB_EVENT_BUS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown side %q", c.Side))
	}
	if c.Lineage.credentials() && c.Lineage.IssuerURL == "" {
		errs = append(errs, errors.New("OIDC_ISSUER_URL is required with lineage client credentials"))
	}
	return errors.Join(errs...)
}
