package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/databrew"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/relay"
)

// FailureTask is the spoke workflow's catch-all. It removes what the saga
// created in DataBrew, keeps the failed context for inspection, fails its
// own token and tells the hub the saga is over.
type FailureTask struct {
	s *Service
}

func (s *Service) FailureTask() *FailureTask {
	return &FailureTask{s: s}
}

type cleanup struct {
	name string
	run  func(context.Context) error
}

func (t *FailureTask) Process(ctx context.Context, failure domain.StepFailure) error {
	var errs []error
	task, found := t.payload(ctx, failure)
	a := task.DataAsset
	id := a.ContextID()

	var signedURL string
	if found {
		for _, step := range t.cleanups(a) {
			if err := step.run(ctx); err != nil && !isBrewNotFound(err) {
				t.s.logger.Warn("cleanup step failed", "step", step.name, "id", id, "error", err)
			}
		}
		ref, err := t.s.tasks.PutAndSign(ctx, domain.TaskFailure, id, domain.DataAssetTask{DataAsset: a})
		if err != nil {
			t.s.logger.Error("persist failed task", "id", id, "error", err)
			errs = append(errs, fmt.Errorf("persist failed task: %w", err))
		}
		signedURL = ref
	} else {
		// Nothing names the resources to clean up. The token and the hub are
		// still told, with whatever reference the failure carried.
		t.s.logger.Error("failed task payload unavailable", "error_name", failure.ErrorName)
		errs = append(errs, errNoFailurePayload)
		signedURL = causeReference(failure)
	}

	if failure.Execution != nil && failure.Execution.TaskToken != "" {
		errorName := failure.ErrorName
		if errorName == "" {
			errorName = ProcessingError
		}
		cause := domain.FailureCause{SignedURL: signedURL, Error: failure.ErrorCause}
		if err := t.s.signalFailure(ctx, domain.DataAssetTask{DataAsset: a, Execution: failure.Execution}, errorName, cause); err != nil {
			errs = append(errs, err)
		}
	}

	resp := domain.CreateResponse{
		ID:                          a.ID,
		Catalog:                     a.Catalog,
		Workflow:                    a.Workflow,
		WorkflowState:               domain.WorkflowFailed,
		FullPayloadSignedURL:        signedURL,
		DataProfileSignedURL:        signedURL,
		DataQualityProfileSignedURL: signedURL,
	}
	if a.Execution != nil {
		resp.HubTaskToken = a.Execution.HubTaskToken
	}
	if err := t.s.respond(ctx, resp); err != nil {
		errs = append(errs, err)
	}
	t.s.logger.Info("saga failed", "id", id, "error_name", failure.ErrorName)
	return errors.Join(errs...)
}

var errNoFailurePayload = errors.New("failure carries neither a readable signed reference nor the task")

// payload recovers the failed task. The signed reference in the cause comes
// first; when it cannot be fetched (an expired link, say) the snapshot it
// points at is read from the store directly, and the kept step input is the
// last resort.
func (t *FailureTask) payload(ctx context.Context, failure domain.StepFailure) (domain.DataAssetTask, bool) {
	if ref := causeReference(failure); ref != "" {
		task, err := t.s.fetcher.Fetch(ctx, ref)
		if err == nil {
			return task, true
		}
		t.s.logger.Warn("fetch failed task", "error", err)
		if kind, id, ok := referenceKey(ref); ok {
			snap, err := t.s.tasks.Get(ctx, kind, id)
			if err == nil {
				return snap.Task, true
			}
			t.s.logger.Warn("read failed task", "kind", kind, "id", id, "error", err)
		}
	}
	if failure.Input != nil {
		return *failure.Input, true
	}
	return domain.DataAssetTask{}, false
}

func causeReference(failure domain.StepFailure) string {
	var cause domain.FailureCause
	if err := json.Unmarshal([]byte(failure.ErrorCause), &cause); err != nil {
		return ""
	}
	return cause.SignedURL
}

// referenceKey reads the task kind and id back from the last two path
// segments of a signed reference.
func referenceKey(ref string) (domain.TaskKind, string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	kind, err := domain.ParseTaskKind(parts[len(parts)-2])
	if err != nil || parts[len(parts)-1] == "" {
		return "", "", false
	}
	return kind, parts[len(parts)-1], true
}

// cleanups lists the DataBrew resources to remove, transform first. Each
// step runs regardless of how the previous one went.
func (t *FailureTask) cleanups(a domain.DataAsset) []cleanup {
	var steps []cleanup
	if a.Workflow.Transforms != nil && a.Workflow.Transforms.Recipe != nil {
		steps = append(steps,
			cleanup{"delete recipe job", t.deleteJob(RecipeJobName(a))},
			cleanup{"delete recipe dataset", t.deleteDataset(RecipeDatasetName(a))},
		)
	}
	return append(steps,
		cleanup{"delete profile job", t.deleteJob(ProfileJobName(a))},
		cleanup{"delete profile dataset", t.deleteDataset(ProfileDatasetName(a))},
	)
}

func (t *FailureTask) deleteJob(name string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := t.s.brew.DeleteJob(ctx, &databrew.DeleteJobInput{Name: aws.String(name)})
		return err
	}
}

func (t *FailureTask) deleteDataset(name string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := t.s.brew.DeleteDataset(ctx, &databrew.DeleteDatasetInput{Name: aws.String(name)})
		return err
	}
}

func (s *Service) respond(ctx context.Context, resp domain.CreateResponse) error {
	env, err := relay.NewEnvelope(relay.SpokeDataAssetSource, relay.SpokeCreateResponseDetailType, resp)
	if err != nil {
		return err
	}
	if err := s.relay.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish create response: %w", err)
	}
	return nil
}
