package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// LineageTask closes the root run once every spoke stage is done. Unlike the
// per-stage events, a root event that cannot be delivered fails the step.
type LineageTask struct {
	s *Service
}

func (s *Service) LineageTask() *LineageTask {
	return &LineageTask{s: s}
}

func (t *LineageTask) Process(ctx context.Context, task domain.DataAssetTask) error {
	if task.Execution == nil || strings.TrimSpace(task.Execution.TaskToken) == "" {
		return errors.New("lineage task carries no callback token")
	}
	out, err := t.run(ctx, task)
	if err != nil {
		return t.s.fail(ctx, domain.TaskDataLineage, task.Execution.TaskToken, task, err)
	}
	return t.s.ignorable(t.s.signaler.Success(ctx, task.Execution.TaskToken, out), "success", out.DataAsset.ContextID())
}

func (t *LineageTask) run(ctx context.Context, task domain.DataAssetTask) (domain.DataAssetTask, error) {
	a := &task.DataAsset
	if a.Lineage.Root == nil {
		return task, errors.New("no root lineage event to close")
	}
	b := openlineage.NewBuilder().
		SetOpenLineageEvent(*a.Lineage.Root).
		SetEndJob(openlineage.EndInput{EndTime: t.s.now(), EventType: openlineage.EventTypeComplete})
	if e := a.Execution; e != nil && e.GlueTableName != "" {
		var users []string
		if a.IDCUserID != "" {
			users = []string{a.IDCUserID}
		}
		b.SetDatasetOutput(openlineage.DatasetOutput{
			Name:      e.GlueTableName,
			Version:   a.Catalog.Revision,
			Usernames: users,
			Storage:   &openlineage.StorageInput{StorageLayer: string(domain.ConnectionGlue), FileFormat: a.Workflow.Dataset.Format},
		})
	}
	ev, err := b.Build()
	if err != nil {
		return task, fmt.Errorf("build root lineage: %w", err)
	}
	if err := t.s.lineage.Record(ctx, ev); err != nil {
		return task, fmt.Errorf("publish root lineage: %w", err)
	}
	a.Lineage.Root = &ev
	if _, err := t.s.tasks.Put(ctx, domain.TaskDataLineage, a.ContextID(), domain.DataAssetTask{DataAsset: *a}); err != nil {
		return task, fmt.Errorf("persist lineage task: %w", err)
	}
	t.s.logger.Info("root lineage closed", "id", a.ContextID(), "run_id", ev.Run.RunID)
	return task, nil
}
