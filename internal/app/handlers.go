package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/saga"
)

// EventHandler is the signature of the event bus Lambdas.
type EventHandler func(ctx context.Context, ev events.CloudWatchEvent) error

// Route hands each event to the first completer that claims its source and
// detail type. Unclaimed events are logged and acknowledged so the rule does
// not retry them.
func Route(logger *slog.Logger, completers ...saga.Completer) EventHandler {
	return func(ctx context.Context, ev events.CloudWatchEvent) error {
		for _, c := range completers {
			if c.Matches(ev.Source, ev.DetailType) {
				return c.Complete(ctx, ev)
			}
		}
		logger.Warn("unrouted event", "id", ev.ID, "source", ev.Source, "detail_type", ev.DetailType)
		return nil
	}
}

// Dispatcher returns the spoke task named by kind. df_failure is not a
// dispatcher; it runs through saga.FailureTask.
func Dispatcher(svc *saga.Service, kind string) (saga.Dispatcher, error) {
	k, err := domain.ParseTaskKind(kind)
	if err != nil {
		return nil, err
	}
	registry, err := saga.NewRegistry(svc.Dispatchers()...)
	if err != nil {
		return nil, err
	}
	d, ok := registry.Lookup(k)
	if !ok {
		return nil, fmt.Errorf("no spoke task handles %s (have %v)", k, registry.Kinds())
	}
	return d, nil
}
