package openlineage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed runevent.openapi.yaml
var runEventSpec []byte

var (
	schemaOnce sync.Once
	schema     *openapi3.Schema
	schemaErr  error
)

func runEventSchema(ctx context.Context) (*openapi3.Schema, error) {
	schemaOnce.Do(func() {
		loader := openapi3.NewLoader()
		loader.Context = ctx
		doc, err := loader.LoadFromData(runEventSpec)
		if err != nil {
			schemaErr = fmt.Errorf("load run event schema: %w", err)
			return
		}
		ref, ok := doc.Components.Schemas["RunEvent"]
		if !ok || ref == nil || ref.Value == nil {
			schemaErr = errors.New("run event schema missing")
			return
		}
		schema = ref.Value
	})
	return schema, schemaErr
}

// Validate checks an event against the RunEvent schema before it leaves the process.
func Validate(ctx context.Context, ev RunEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	return ValidateJSON(ctx, raw)
}

// ValidateJSON checks a raw RunEvent document, as received by the ingestion service.
func ValidateJSON(ctx context.Context, raw []byte) error {
	s, err := runEventSchema(ctx)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode run event: %w", err)
	}
	if err := s.VisitJSON(doc); err != nil {
		return fmt.Errorf("invalid run event: %w", err)
	}
	return nil
}
