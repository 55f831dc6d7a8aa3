// Package relay carries saga pointers across the hub/spoke boundary over the
// event bus. Envelopes hold identifiers and signed references only; the full
// task stays in the task context store.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

const (
	HubDataAssetSource     = "com.aws.df.hub.dataAsset"
	SpokeDataAssetSource   = "com.aws.df.spoke.dataAsset"
	HubDataLineageSource   = "com.aws.df.hub.dataLineage"
	SpokeDataLineageSource = "com.aws.df.spoke.dataLineage"

	HubCreateRequestDetailType    = "DF>" + HubDataAssetSource + ">create>request"
	SpokeCreateResponseDetailType = "DF>" + SpokeDataAssetSource + ">create>response"

	HubLineageIngestionDetailType   = "DF>" + HubDataLineageSource + ">ingestion>request"
	SpokeLineageIngestionDetailType = "DF>" + SpokeDataLineageSource + ">ingestion>request"
)

// EventBridge rejects entries larger than this.
const maxEntryBytes = 256 * 1024

// Envelope is the bus message shape on both sides of the boundary.
type Envelope struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Account    string          `json:"account,omitempty"`
	Region     string          `json:"region,omitempty"`
	Detail     json.RawMessage `json:"detail"`
}

// NewEnvelope encodes detail into an envelope.
func NewEnvelope(source, detailType string, detail any) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode detail: %w", err)
	}
	return Envelope{Source: source, DetailType: detailType, Detail: raw}, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher puts envelopes on one bus.
type EventBridgePublisher struct {
	client  EventBridgeAPI
	busName string
}

func NewEventBridgePublisher(client EventBridgeAPI, busName string) (*EventBridgePublisher, error) {
	if client == nil {
		return nil, errors.New("eventbridge client is required")
	}
	if strings.TrimSpace(busName) == "" {
		return nil, errors.New("event bus name is required")
	}
	return &EventBridgePublisher{client: client, busName: busName}, nil
}

func (p *EventBridgePublisher) Publish(ctx context.Context, env Envelope) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("eventbridge publisher not initialized")
	}
	if env.Source == "" || env.DetailType == "" {
		return errors.New("source and detail type are required")
	}
	if len(env.Detail) > maxEntryBytes {
		return fmt.Errorf("detail of %d bytes exceeds the bus limit; publish a signed reference instead", len(env.Detail))
	}
	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(env.Source),
			DetailType:   aws.String(env.DetailType),
			Detail:       aws.String(string(env.Detail)),
		}},
	})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	if out.FailedEntryCount > 0 {
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				return fmt.Errorf("put events: %s: %s", aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("put events: %d entries failed", out.FailedEntryCount)
	}
	return nil
}
