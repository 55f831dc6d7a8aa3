package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/relay"
)

// ResponseProcessor resumes the hub workflow with a spoke's create response.
type ResponseProcessor struct {
	s *Service
}

func (s *Service) ResponseProcessor() *ResponseProcessor {
	return &ResponseProcessor{s: s}
}

func (p *ResponseProcessor) Matches(source, detailType string) bool {
	return source == relay.SpokeDataAssetSource && detailType == relay.SpokeCreateResponseDetailType
}

func (p *ResponseProcessor) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	var resp domain.CreateResponse
	if len(ev.Detail) == 0 {
		return errors.New("event detail is empty")
	}
	if err := json.Unmarshal(ev.Detail, &resp); err != nil {
		return fmt.Errorf("decode create response: %w", err)
	}
	if resp.HubTaskToken == "" {
		return fmt.Errorf("create response %s carries no hub token", resp.ID)
	}

	if resp.WorkflowState != domain.WorkflowSucceeded {
		cause, err := json.Marshal(domain.FailureCause{SignedURL: resp.FullPayloadSignedURL, Error: "spoke workflow " + string(resp.WorkflowState)})
		if err != nil {
			return err
		}
		p.s.logger.Info("spoke reported failure", "id", resp.ID, "state", resp.WorkflowState)
		return p.s.ignorable(p.s.signaler.Failure(ctx, resp.HubTaskToken, SpokeFailed, string(cause)), "failure", resp.ID)
	}

	task, err := p.s.fetcher.Fetch(ctx, resp.FullPayloadSignedURL)
	if err != nil {
		return err
	}
	id := task.DataAsset.ContextID()
	if _, err := p.s.tasks.Put(ctx, domain.TaskDataAsset, id, task); err != nil {
		return fmt.Errorf("persist spoke result: %w", err)
	}
	p.s.logger.Info("spoke reported success", "id", id)
	return p.s.ignorable(p.s.signaler.Success(ctx, resp.HubTaskToken, task), "success", id)
}
