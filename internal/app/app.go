package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/databrew"
	"github.com/aws/aws-sdk-go-v2/service/datazone"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/animus-labs/animus-datafabric/internal/coordinator"
	"github.com/animus-labs/animus-datafabric/internal/hub"
	"github.com/animus-labs/animus-datafabric/internal/lineagesink"
	"github.com/animus-labs/animus-datafabric/internal/platform/awsconfig"
	"github.com/animus-labs/animus-datafabric/internal/platform/postgres"
	"github.com/animus-labs/animus-datafabric/internal/relay"
	"github.com/animus-labs/animus-datafabric/internal/saga"
	"github.com/animus-labs/animus-datafabric/internal/storage/objectstore"
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

// Runtime holds the clients shared by every handler of one process. It is
// built once per Lambda cold start.
type Runtime struct {
	Logger   *slog.Logger
	Config   Config
	AWS      aws.Config
	Objects  objectstore.Store
	Tasks    *taskstore.Store
	Fetcher  *taskstore.Fetcher
	SFN      *sfn.Client
	Signaler coordinator.Signaler
	Relay    relay.Publisher
	Lineage  lineagesink.Sink
	// DB is nil unless DATAFABRIC_DATABASE_URL is set.
	DB *sql.DB
}

func Open(ctx context.Context, logger *slog.Logger, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Logger: logger, Config: cfg, AWS: awsCfg}

	store, err := objectstore.NewMinioStore(ctx, cfg.Objects)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	rt.Objects = store
	if rt.Tasks, err = taskstore.New(store, cfg.Tasks); err != nil {
		return nil, fmt.Errorf("task store: %w", err)
	}
	rt.Fetcher = taskstore.NewFetcher(nil)

	if cfg.Database.Enabled() {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		schema := append(coordinator.Schema(), lineagesink.Schema()...)
		if cfg.Side == SideHub {
			schema = append(schema, hub.StatusSchema()...)
		}
		if err := postgres.EnsureSchema(ctx, db, schema...); err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.DB = db
	}

	rt.SFN = sfn.NewFromConfig(awsCfg)
	var signaler coordinator.Signaler = coordinator.NewSFN(rt.SFN)
	if rt.DB != nil {
		signaler = coordinator.NewGuardedSignaler(logger, signaler, coordinator.NewLedger(rt.DB))
	}
	rt.Signaler = signaler

	bus := eventbridge.NewFromConfig(awsCfg)
	target := cfg.HubBus
	if cfg.Side == SideHub {
		target = cfg.SpokeBus
	}
	if rt.Relay, err = relay.NewEventBridgePublisher(bus, target); err != nil {
		rt.Close()
		return nil, fmt.Errorf("relay: %w", err)
	}
	if rt.Lineage, err = rt.lineageSink(ctx, bus); err != nil {
		rt.Close()
		return nil, fmt.Errorf("lineage sink: %w", err)
	}
	return rt, nil
}

// lineageSink delivers to the lineage service and the database when either is
// configured, and falls back to ingestion requests on the hub bus.
func (rt *Runtime) lineageSink(ctx context.Context, bus relay.EventBridgeAPI) (lineagesink.Sink, error) {
	cfg := rt.Config
	var sinks lineagesink.Multi
	if cfg.Lineage.Endpoint != "" {
		client := &http.Client{Timeout: 15 * time.Second}
		if cfg.Lineage.credentials() {
			cc, err := lineagesink.NewClientCredentialsClient(ctx, lineagesink.ClientCredentials{
				IssuerURL:    cfg.Lineage.IssuerURL,
				ClientID:     cfg.Lineage.ClientID,
				ClientSecret: cfg.Lineage.ClientSecret,
				Scopes:       cfg.Lineage.Scopes,
			})
			if err != nil {
				return nil, err
			}
			client = cc
		}
		h, err := lineagesink.NewHTTP(client, cfg.Lineage.Endpoint)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, h)
	}
	if rt.DB != nil {
		sinks = append(sinks, lineagesink.NewPostgres(rt.DB))
	}
	if len(sinks) > 0 {
		return sinks, nil
	}

	if cfg.HubBus == "" {
		return nil, errors.New("no lineage destination configured")
	}
	pub, err := relay.NewEventBridgePublisher(bus, cfg.HubBus)
	if err != nil {
		return nil, err
	}
	if cfg.Side == SideHub {
		return lineagesink.NewBus(pub, relay.HubDataLineageSource, relay.HubLineageIngestionDetailType)
	}
	return lineagesink.NewBus(pub, relay.SpokeDataLineageSource, relay.SpokeLineageIngestionDetailType)
}

func (rt *Runtime) Close() {
	if rt.DB != nil {
		_ = rt.DB.Close()
	}
}

func (rt *Runtime) SpokeService() (*saga.Service, error) {
	return saga.NewService(saga.Deps{
		Logger:        rt.Logger,
		Glue:          glue.NewFromConfig(rt.AWS),
		DataBrew:      databrew.NewFromConfig(rt.AWS),
		StepFunctions: rt.SFN,
		Tasks:         rt.Tasks,
		Objects:       rt.Objects,
		Fetcher:       rt.Fetcher,
		Signaler:      rt.Signaler,
		Relay:         rt.Relay,
		Lineage:       rt.Lineage,
	}, rt.Config.Saga)
}

func (rt *Runtime) HubService() (*hub.Service, error) {
	return hub.NewService(hub.Deps{
		Logger:   rt.Logger,
		Tasks:    rt.Tasks,
		Fetcher:  rt.Fetcher,
		Signaler: rt.Signaler,
		Relay:    rt.Relay,
		Lineage:  rt.Lineage,
		Catalog:  datazone.NewFromConfig(rt.AWS),
		Project:  rt.Config.Project,
	})
}
