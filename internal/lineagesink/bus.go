package lineagesink

import (
	"context"
	"errors"

	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/relay"
)

// Bus forwards RunEvents as lineage ingestion requests on the event bus.
type Bus struct {
	publisher  relay.Publisher
	source     string
	detailType string
}

func NewBus(publisher relay.Publisher, source, detailType string) (*Bus, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if source == "" || detailType == "" {
		return nil, errors.New("source and detail type are required")
	}
	return &Bus{publisher: publisher, source: source, detailType: detailType}, nil
}

func (b *Bus) Record(ctx context.Context, ev openlineage.RunEvent) error {
	if err := openlineage.Validate(ctx, ev); err != nil {
		return err
	}
	env, err := relay.NewEnvelope(b.source, b.detailType, ev)
	if err != nil {
		return err
	}
	return b.publisher.Publish(ctx, env)
}
