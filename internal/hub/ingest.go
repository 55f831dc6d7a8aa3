package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/animus-labs/animus-datafabric/internal/lineagesink"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/relay"
)

// IngestProcessor stores lineage ingestion requests published by either side
// of the bus.
type IngestProcessor struct {
	logger *slog.Logger
	store  lineagesink.Sink
}

func NewIngestProcessor(logger *slog.Logger, store lineagesink.Sink) (*IngestProcessor, error) {
	if store == nil {
		return nil, errors.New("lineage store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestProcessor{logger: logger, store: store}, nil
}

func (p *IngestProcessor) Matches(source, detailType string) bool {
	switch {
	case source == relay.SpokeDataLineageSource && detailType == relay.SpokeLineageIngestionDetailType:
		return true
	case source == relay.HubDataLineageSource && detailType == relay.HubLineageIngestionDetailType:
		return true
	}
	return false
}

func (p *IngestProcessor) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	if len(ev.Detail) == 0 {
		return errors.New("event detail is empty")
	}
	var run openlineage.RunEvent
	if err := json.Unmarshal(ev.Detail, &run); err != nil {
		return fmt.Errorf("decode run event: %w", err)
	}
	if err := p.store.Record(ctx, run); err != nil {
		return fmt.Errorf("store run event %s: %w", run.Run.RunID, err)
	}
	p.logger.Info("lineage ingested", "run_id", run.Run.RunID, "event_type", run.EventType, "job", run.Job.Name, "source", ev.Source)
	return nil
}
