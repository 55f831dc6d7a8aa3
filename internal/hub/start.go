package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/relay"
)

// StartTask opens the saga for a data asset and asks a spoke to run it. The
// hub token stays parked in the payload until the spoke responds.
type StartTask struct {
	s *Service
}

func (s *Service) StartTask() *StartTask {
	return &StartTask{s: s}
}

func (t *StartTask) Process(ctx context.Context, task domain.DataAssetTask) error {
	if task.Execution == nil || strings.TrimSpace(task.Execution.TaskToken) == "" {
		return errors.New("start task carries no callback token")
	}
	if strings.TrimSpace(task.DataAsset.ID) == "" {
		task.DataAsset.ID = t.s.newID()
	}
	if err := t.run(ctx, &task); err != nil {
		return t.s.fail(ctx, domain.TaskDataAsset, task.Execution.TaskToken, task, err)
	}
	return nil
}

func (t *StartTask) run(ctx context.Context, task *domain.DataAssetTask) error {
	a := &task.DataAsset
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid data asset: %w", err)
	}
	exec := a.EnsureExecution()
	exec.HubTaskToken = task.Execution.TaskToken
	exec.HubExecutionID = runID(task.Execution.ExecutionID)
	exec.HubStartTime = task.Execution.ExecutionStartTime
	exec.HubStateMachineArn = task.Execution.StateMachineArn

	root, err := t.rootStart(*task)
	if err != nil {
		return fmt.Errorf("build root lineage: %w", err)
	}
	a.Lineage.Root = &root

	id := a.ContextID()
	// The spoke only ever sees the asset; the hub's own token block stays here.
	payload := domain.DataAssetTask{DataAsset: *a}
	signedURL, err := t.s.tasks.PutAndSign(ctx, domain.TaskDataAsset, id, payload)
	if err != nil {
		return fmt.Errorf("persist data asset: %w", err)
	}
	if err := t.s.lineage.Record(ctx, root); err != nil {
		t.s.logger.Warn("root lineage publish failed", "id", id, "error", err)
	}
	env, err := relay.NewEnvelope(relay.HubDataAssetSource, relay.HubCreateRequestDetailType, domain.CreateRequest{
		ID:                   a.ID,
		Catalog:              a.Catalog,
		Workflow:             a.Workflow,
		FullPayloadSignedURL: signedURL,
	})
	if err != nil {
		return err
	}
	if err := t.s.relay.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish create request: %w", err)
	}
	t.s.logger.Info("create request sent", "id", id, "run_id", exec.HubExecutionID)
	return nil
}

func (t *StartTask) rootStart(task domain.DataAssetTask) (openlineage.RunEvent, error) {
	a := task.DataAsset
	var users []string
	if a.IDCUserID != "" {
		users = []string{a.IDCUserID}
	}
	producer := a.Execution.HubStateMachineArn
	if producer == "" {
		producer = "urn:datafabric:hub"
	}
	return openlineage.NewBuilder().
		SetContext(a.Catalog.DomainID, a.Catalog.DomainName, producer).
		SetJob(openlineage.JobInput{JobName: string(domain.TaskDataAsset), AssetName: a.Catalog.AssetName, Usernames: users}).
		SetStartJob(openlineage.StartInput{ExecutionID: a.Execution.HubExecutionID, StartTime: t.s.now()}).
		Build()
}
