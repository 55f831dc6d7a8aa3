package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/databrew"
	databrewtypes "github.com/aws/aws-sdk-go-v2/service/databrew/types"

	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// JobStateChange is the detail of a DataBrew job state change event.
type JobStateChange struct {
	JobName  string `json:"jobName"`
	JobRunID string `json:"jobRunId"`
	State    string `json:"state"`
	Message  string `json:"message"`
}

// JobCompletion handles DataBrew profile and recipe job runs. The job's type
// selects which task context it belongs to.
type JobCompletion struct {
	s *Service
}

func (c *JobCompletion) Matches(source, detailType string) bool {
	return source == DataBrewSource && detailType == JobStateChangeDetailType
}

func (c *JobCompletion) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	var d JobStateChange
	if err := decodeDetail(ev, &d); err != nil {
		return err
	}
	var succeeded bool
	switch databrewtypes.JobRunState(d.State) {
	case databrewtypes.JobRunStateSucceeded:
		succeeded = true
	case databrewtypes.JobRunStateFailed, databrewtypes.JobRunStateStopped, databrewtypes.JobRunStateTimeout:
	default:
		c.s.logger.Debug("ignoring job state", "job", d.JobName, "state", d.State)
		return nil
	}

	job, err := c.s.brew.DescribeJob(ctx, &databrew.DescribeJobInput{Name: aws.String(d.JobName)})
	if err != nil {
		return fmt.Errorf("describe job %s: %w", d.JobName, err)
	}
	key, err := correlation.ResolveKey(job.Tags)
	if err != nil {
		return fmt.Errorf("job %s: %w", d.JobName, err)
	}
	run, err := c.s.brew.DescribeJobRun(ctx, &databrew.DescribeJobRunInput{Name: aws.String(d.JobName), RunId: aws.String(d.JobRunID)})
	if err != nil {
		return fmt.Errorf("describe job run %s/%s: %w", d.JobName, d.JobRunID, err)
	}

	now := c.s.now().UTC()
	record := &domain.DataAssetJob{
		ID:        d.JobName,
		RunID:     d.JobRunID,
		StartTime: timePtr(run.StartedOn),
		StopTime:  timePtr(run.CompletedOn),
		Status:    d.State,
		Message:   d.Message,
	}
	if record.Message == "" {
		record.Message = aws.ToString(run.ErrorMessage)
	}

	// DataBrew does not report where a job wrote its output; the dispatch
	// side placed it under the job layout, which the tags are enough to rebuild.
	tagged := assetFromTags(job.Tags)
	switch job.Type {
	case databrewtypes.JobTypeProfile:
		var profile *openlineage.ProfilingResult
		prefix := c.s.cfg.Jobs.Key(tagged, stageProfile)
		record.OutputPath = c.s.cfg.Jobs.URI(prefix)
		if succeeded {
			profile = c.s.readProfile(ctx, c.s.cfg.Jobs.Bucket, prefix, d.JobRunID)
		}
		return c.s.complete(ctx, outcome{
			kind:      domain.TaskDataProfile,
			key:       key,
			succeeded: succeeded,
			errorName: "ProfileJobFailed",
			message:   record.Message,
			merge: func(t *domain.DataAssetTask) error {
				t.DataAsset.EnsureExecution().DataProfileJob = record
				return c.s.closeLineage(&t.DataAsset.Lineage.DataProfile, succeeded, record.Message, now, func(b *openlineage.Builder) {
					if profile != nil {
						b.SetProfilingResult(*profile)
					}
				})
			},
			lineage: func(l *domain.Lineage) *openlineage.RunEvent { return l.DataProfile },
		})
	case databrewtypes.JobTypeRecipe:
		record.OutputPath = c.s.cfg.Jobs.URI(c.s.cfg.Jobs.Key(tagged, stageRecipe))
		if len(run.Outputs) > 0 && run.Outputs[0].Location != nil {
			loc := run.Outputs[0].Location
			record.OutputPath = fmt.Sprintf("s3://%s/%s", aws.ToString(loc.Bucket), aws.ToString(loc.Key))
		}
		return c.s.complete(ctx, outcome{
			kind:      domain.TaskRecipe,
			key:       key,
			succeeded: succeeded,
			errorName: "RecipeJobFailed",
			message:   record.Message,
			merge: func(t *domain.DataAssetTask) error {
				t.DataAsset.EnsureExecution().RecipeJob = record
				return c.s.closeLineage(&t.DataAsset.Lineage.Recipe, succeeded, record.Message, now, func(b *openlineage.Builder) {
					if record.OutputPath != "" {
						b.SetDatasetOutput(openlineage.DatasetOutput{
							Name:    record.OutputPath,
							Storage: &openlineage.StorageInput{StorageLayer: "s3", FileFormat: "parquet"},
						})
					}
				})
			},
			lineage: func(l *domain.Lineage) *openlineage.RunEvent { return l.Recipe },
		})
	default:
		return fmt.Errorf("job %s has unsupported type %q", d.JobName, job.Type)
	}
}

// readProfile loads the profile report the run wrote under prefix. Reports
// are enrichment only; a missing or unreadable one is logged and skipped.
func (s *Service) readProfile(ctx context.Context, bucket, prefix, runID string) *openlineage.ProfilingResult {
	objs, err := s.objects.List(ctx, bucket, prefix)
	if err != nil {
		s.logger.Warn("list profile output failed", "run_id", runID, "error", err)
		return nil
	}
	var keys []string
	for _, o := range objs {
		if strings.HasSuffix(o.Key, ".json") {
			keys = append(keys, o.Key)
		}
	}
	if len(keys) == 0 {
		s.logger.Warn("no profile report found", "run_id", runID, "prefix", prefix)
		return nil
	}
	sort.Strings(keys)
	pick := keys[len(keys)-1]
	for _, k := range keys {
		if strings.Contains(k, runID) {
			pick = k
			break
		}
	}
	rc, _, err := s.objects.Get(ctx, bucket, pick)
	if err != nil {
		s.logger.Warn("read profile report failed", "run_id", runID, "error", err)
		return nil
	}
	defer rc.Close()
	var res openlineage.ProfilingResult
	if err := json.NewDecoder(rc).Decode(&res); err != nil {
		s.logger.Warn("decode profile report failed", "run_id", runID, "error", err)
		return nil
	}
	return &res
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
