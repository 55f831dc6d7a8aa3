// Package lineagesink delivers built RunEvents to lineage storage.
package lineagesink

import (
	"context"

	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// Sink records one RunEvent. Implementations validate before delivery.
type Sink interface {
	Record(ctx context.Context, ev openlineage.RunEvent) error
}

// Multi fans an event out to every sink and stops at the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev openlineage.RunEvent) error {
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
