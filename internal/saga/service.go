package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-datafabric/internal/coordinator"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/lineagesink"
	"github.com/animus-labs/animus-datafabric/internal/relay"
	"github.com/animus-labs/animus-datafabric/internal/storage/objectstore"
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

// ProcessingError names failure signals raised by this package rather than by
// an external job outcome.
const ProcessingError = "DataFabric.ProcessingError"

type Config struct {
	Region       string
	AccountID    string
	GlueDatabase string
	Jobs         Layout
	// StateMachineArn is the spoke workflow started for hub create requests.
	StateMachineArn string
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if strings.TrimSpace(c.AccountID) == "" {
		errs = append(errs, errors.New("account id is required"))
	}
	if strings.TrimSpace(c.GlueDatabase) == "" {
		errs = append(errs, errors.New("glue database is required"))
	}
	if strings.TrimSpace(c.Jobs.Bucket) == "" {
		errs = append(errs, errors.New("jobs bucket is required"))
	}
	return errors.Join(errs...)
}

// Deps are the collaborators a Service talks to. Lineage and StepFunctions
// are optional; the rest are required.
type Deps struct {
	Logger        *slog.Logger
	Glue          GlueAPI
	DataBrew      DataBrewAPI
	StepFunctions StepFunctionsAPI
	Tasks         *taskstore.Store
	Objects       objectstore.Store
	Fetcher       *taskstore.Fetcher
	Signaler      coordinator.Signaler
	Relay         relay.Publisher
	Lineage       lineagesink.Sink
}

type Service struct {
	logger   *slog.Logger
	glue     GlueAPI
	brew     DataBrewAPI
	sfn      StepFunctionsAPI
	tasks    *taskstore.Store
	objects  objectstore.Store
	fetcher  *taskstore.Fetcher
	signaler coordinator.Signaler
	relay    relay.Publisher
	lineage  lineagesink.Sink
	cfg      Config
	now      func() time.Time
	newRunID func() string
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Glue == nil:
		return nil, errors.New("glue client is required")
	case deps.DataBrew == nil:
		return nil, errors.New("databrew client is required")
	case deps.Tasks == nil:
		return nil, errors.New("task store is required")
	case deps.Objects == nil:
		return nil, errors.New("object store is required")
	case deps.Signaler == nil:
		return nil, errors.New("signaler is required")
	case deps.Relay == nil:
		return nil, errors.New("relay publisher is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = taskstore.NewFetcher(nil)
	}
	return &Service{
		logger:   logger,
		glue:     deps.Glue,
		brew:     deps.DataBrew,
		sfn:      deps.StepFunctions,
		tasks:    deps.Tasks,
		objects:  deps.Objects,
		fetcher:  fetcher,
		signaler: deps.Signaler,
		relay:    deps.Relay,
		lineage:  deps.Lineage,
		cfg:      cfg,
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}, nil
}

func token(task domain.DataAssetTask) (string, error) {
	if task.Execution == nil || strings.TrimSpace(task.Execution.TaskToken) == "" {
		return "", errors.New("task carries no callback token")
	}
	return task.Execution.TaskToken, nil
}

// signalSuccess resumes the step with the task as output. Timeouts and
// duplicate signals are logged and dropped.
func (s *Service) signalSuccess(ctx context.Context, task domain.DataAssetTask) error {
	tok, err := token(task)
	if err != nil {
		return err
	}
	return s.ignorable(s.signaler.Success(ctx, tok, task), "success", task)
}

func (s *Service) signalFailure(ctx context.Context, task domain.DataAssetTask, errorName string, cause domain.FailureCause) error {
	tok, err := token(task)
	if err != nil {
		return err
	}
	body, err := json.Marshal(cause)
	if err != nil {
		return fmt.Errorf("encode failure cause: %w", err)
	}
	return s.ignorable(s.signaler.Failure(ctx, tok, errorName, string(body)), "failure", task)
}

func (s *Service) ignorable(err error, outcome string, task domain.DataAssetTask) error {
	if err == nil {
		return nil
	}
	if coordinator.Ignorable(err) {
		s.logger.Warn("callback signal dropped", "outcome", outcome, "id", task.DataAsset.ContextID(), "error", err)
		return nil
	}
	return err
}

// failTask persists a diagnostic snapshot under kind and failure-signals the
// step with a signed reference to it.
func (s *Service) failTask(ctx context.Context, kind domain.TaskKind, task domain.DataAssetTask, errorName string, cause error) error {
	id := task.DataAsset.ContextID()
	s.logger.Error("task failed", "kind", kind, "id", id, "error", cause)
	signedURL, err := s.tasks.PutAndSign(ctx, kind, id, task)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("persist diagnostic snapshot: %w", err))
	}
	if err := s.signalFailure(ctx, task, errorName, domain.FailureCause{SignedURL: signedURL, Error: cause.Error()}); err != nil {
		return errors.Join(cause, err)
	}
	return nil
}
