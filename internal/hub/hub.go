// Package hub runs the hub half of the saga: it hands a data asset to a
// spoke, waits for the spoke's answer and closes the root lineage run.
package hub

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
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

const (
	ProcessingError = "DataFabric.ProcessingError"
	SpokeFailed     = "DataFabric.SpokeFailed"
)

type Deps struct {
	Logger   *slog.Logger
	Tasks    *taskstore.Store
	Fetcher  *taskstore.Fetcher
	Signaler coordinator.Signaler
	Relay    relay.Publisher
	Lineage  lineagesink.Sink
	// Catalog is only needed by the project task.
	Catalog CatalogAPI
	Project ProjectConfig
}

type Service struct {
	logger   *slog.Logger
	tasks    *taskstore.Store
	fetcher  *taskstore.Fetcher
	signaler coordinator.Signaler
	relay    relay.Publisher
	lineage  lineagesink.Sink
	catalog  CatalogAPI
	project  ProjectConfig
	now      func() time.Time
	newID    func() string
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Tasks == nil:
		return nil, errors.New("task store is required")
	case deps.Signaler == nil:
		return nil, errors.New("signaler is required")
	case deps.Relay == nil:
		return nil, errors.New("relay publisher is required")
	case deps.Lineage == nil:
		return nil, errors.New("lineage sink is required")
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
		tasks:    deps.Tasks,
		fetcher:  fetcher,
		signaler: deps.Signaler,
		relay:    deps.Relay,
		lineage:  deps.Lineage,
		catalog:  deps.Catalog,
		project:  deps.Project.withDefaults(),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (s *Service) ignorable(err error, outcome, id string) error {
	if err == nil {
		return nil
	}
	if coordinator.Ignorable(err) {
		s.logger.Warn("callback signal dropped", "outcome", outcome, "id", id, "error", err)
		return nil
	}
	return err
}

// fail keeps a diagnostic snapshot under kind and failure-signals token.
func (s *Service) fail(ctx context.Context, kind domain.TaskKind, token string, task domain.DataAssetTask, cause error) error {
	id := task.DataAsset.ContextID()
	s.logger.Error("hub task failed", "kind", kind, "id", id, "error", cause)
	if strings.TrimSpace(id) == "" {
		return cause
	}
	signedURL, err := s.tasks.PutAndSign(ctx, kind, id, task)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("persist diagnostic snapshot: %w", err))
	}
	body, err := json.Marshal(domain.FailureCause{SignedURL: signedURL, Error: cause.Error()})
	if err != nil {
		return errors.Join(cause, err)
	}
	if err := s.ignorable(s.signaler.Failure(ctx, token, ProcessingError, string(body)), "failure", id); err != nil {
		return errors.Join(cause, err)
	}
	return nil
}

// runID returns the hub execution as a lineage run id. Step Functions
// execution names are not guaranteed to be UUIDs, so anything else is mapped
// to a stable name-based one.
func runID(executionID string) string {
	name := executionID
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if _, err := uuid.Parse(name); err == nil {
		return name
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(executionID)).String()
}
