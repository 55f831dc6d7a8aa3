package saga

import (
	"context"
	"fmt"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

// ResponseTask reports a finished spoke saga to the hub. The response holds
// signed references only; the hub fetches the payloads it needs.
type ResponseTask struct {
	s *Service
}

func (t *ResponseTask) Kind() domain.TaskKind { return domain.TaskResponse }

func (t *ResponseTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *ResponseTask) run(ctx context.Context, task domain.DataAssetTask) error {
	a := task.DataAsset
	id := a.ContextID()
	full, err := t.s.tasks.PutAndSign(ctx, t.Kind(), id, domain.DataAssetTask{DataAsset: a})
	if err != nil {
		return fmt.Errorf("persist response payload: %w", err)
	}
	resp := domain.CreateResponse{
		ID:                   a.ID,
		Catalog:              a.Catalog,
		Workflow:             a.Workflow,
		WorkflowState:        domain.WorkflowSucceeded,
		FullPayloadSignedURL: full,
	}
	if e := a.Execution; e != nil {
		resp.HubTaskToken = e.HubTaskToken
		if e.DataProfileJob != nil {
			if resp.DataProfileSignedURL, err = t.s.tasks.SignedReference(ctx, domain.TaskDataProfile, id, 0); err != nil {
				return err
			}
		}
		if e.DataQualityProfileJob != nil {
			if resp.DataQualityProfileSignedURL, err = t.s.tasks.SignedReference(ctx, domain.TaskDataQualityProfile, id, 0); err != nil {
				return err
			}
		}
	}
	if err := t.s.respond(ctx, resp); err != nil {
		return err
	}
	return t.s.signalSuccess(ctx, task)
}
