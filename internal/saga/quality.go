package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/storage/objectstore"
)

const rulesetDescription = "Data quality ruleset generated by Data Fabric."

// QualityTask evaluates the workflow's DQDL ruleset against the cataloged
// table. Workflows without a ruleset pass straight through.
type QualityTask struct {
	s *Service
}

func (t *QualityTask) Kind() domain.TaskKind { return domain.TaskDataQualityProfile }

func (t *QualityTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *QualityTask) run(ctx context.Context, task domain.DataAssetTask) error {
	a := task.DataAsset
	if a.Workflow.DataQuality == nil || a.Workflow.DataQuality.Ruleset == "" {
		return t.s.finish(ctx, t.Kind(), task)
	}
	if a.Execution == nil || a.Execution.GlueTableName == "" {
		return errors.New("no cataloged table to evaluate")
	}
	name := RulesetName(a)
	table := a.Execution.GlueTableName
	tags := correlation.Build(task)

	_, err := t.s.glue.GetDataQualityRuleset(ctx, &glue.GetDataQualityRulesetInput{Name: aws.String(name)})
	switch {
	case err == nil:
		_, err := t.s.glue.UpdateDataQualityRuleset(ctx, &glue.UpdateDataQualityRulesetInput{
			Name:        aws.String(name),
			Ruleset:     aws.String(a.Workflow.DataQuality.Ruleset),
			Description: aws.String(rulesetDescription),
		})
		if err != nil {
			return fmt.Errorf("update ruleset %s: %w", name, err)
		}
		arn := correlation.RulesetArn(t.s.cfg.Region, t.s.cfg.AccountID, name)
		if _, err := t.s.glue.TagResource(ctx, &glue.TagResourceInput{ResourceArn: aws.String(arn), TagsToAdd: tags}); err != nil {
			return fmt.Errorf("tag ruleset %s: %w", name, err)
		}
	case isGlueNotFound(err):
		_, err := t.s.glue.CreateDataQualityRuleset(ctx, &glue.CreateDataQualityRulesetInput{
			Name:        aws.String(name),
			Ruleset:     aws.String(a.Workflow.DataQuality.Ruleset),
			Description: aws.String(rulesetDescription),
			TargetTable: &gluetypes.DataQualityTargetTable{
				DatabaseName: aws.String(t.s.cfg.GlueDatabase),
				TableName:    aws.String(table),
			},
			Tags: tags,
		})
		if err != nil {
			return fmt.Errorf("create ruleset %s: %w", name, err)
		}
	default:
		return fmt.Errorf("get ruleset %s: %w", name, err)
	}

	start := func(ctx context.Context) (string, error) {
		out, err := t.s.glue.StartDataQualityRulesetEvaluationRun(ctx, &glue.StartDataQualityRulesetEvaluationRunInput{
			DataSource: &gluetypes.DataSource{GlueTable: &gluetypes.GlueTable{
				DatabaseName: aws.String(t.s.cfg.GlueDatabase),
				TableName:    aws.String(table),
			}},
			Role:         aws.String(a.Workflow.RoleArn),
			RulesetNames: []string{name},
		})
		if err != nil {
			return "", fmt.Errorf("start ruleset evaluation %s: %w", name, err)
		}
		return aws.ToString(out.RunId), nil
	}
	return t.s.launch(ctx, t.Kind(), task, start, func(l *domain.Lineage, ev *openlineage.RunEvent) {
		l.DataQualityProfile = ev
	})
}

// QualityResults is the detail of a data quality results available event.
type QualityResults struct {
	ResultID       string   `json:"resultId"`
	RulesetNames   []string `json:"rulesetNames"`
	State          string   `json:"state"`
	Score          float64  `json:"score"`
	RulesSucceeded Count    `json:"rulesSucceeded"`
	RulesFailed    Count    `json:"rulesFailed"`
	RulesSkipped   Count    `json:"rulesSkipped"`
	Context        struct {
		RunID string `json:"runId"`
	} `json:"context"`
}

func (d QualityResults) Summary() string {
	return fmt.Sprintf("Rule Failed: %d. Rule Skipped:%d, Rule Succeeded: %d, Score: %s",
		d.RulesFailed, d.RulesSkipped, d.RulesSucceeded, strconv.FormatFloat(d.Score, 'f', -1, 64))
}

type QualityCompletion struct {
	s *Service
}

func (c *QualityCompletion) Matches(source, detailType string) bool {
	return source == GlueDataQualitySource && detailType == QualityResultsDetailType
}

func (c *QualityCompletion) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	var d QualityResults
	if err := decodeDetail(ev, &d); err != nil {
		return err
	}
	if len(d.RulesetNames) == 0 {
		return errors.New("quality results name no ruleset")
	}
	// Only one ruleset is ever attached to an evaluation run.
	ruleset := d.RulesetNames[0]
	arn := correlation.RulesetArn(ev.Region, ev.AccountID, ruleset)
	tags, err := c.s.glue.GetTags(ctx, &glue.GetTagsInput{ResourceArn: aws.String(arn)})
	if err != nil {
		return fmt.Errorf("get ruleset tags %s: %w", ruleset, err)
	}
	key, err := correlation.ResolveKey(tags.Tags)
	if err != nil {
		return fmt.Errorf("ruleset %s: %w", ruleset, err)
	}

	run, err := c.s.glue.GetDataQualityRulesetEvaluationRun(ctx, &glue.GetDataQualityRulesetEvaluationRunInput{RunId: aws.String(d.Context.RunID)})
	if err != nil {
		return fmt.Errorf("get evaluation run %s: %w", d.Context.RunID, err)
	}
	result, err := c.s.glue.GetDataQualityResult(ctx, &glue.GetDataQualityResultInput{ResultId: aws.String(d.ResultID)})
	if err != nil {
		return fmt.Errorf("get quality result %s: %w", d.ResultID, err)
	}
	rules := ruleResults(result.RuleResults)
	outputPath, writeErr := c.s.writeQualityResult(ctx, tags.Tags, d.ResultID, result)

	succeeded := d.State == "SUCCEEDED"
	message := d.Summary()
	now := c.s.now().UTC()
	record := &domain.DataAssetJob{
		ID:         d.Context.RunID,
		RunID:      d.ResultID,
		StartTime:  timePtr(run.StartedOn),
		StopTime:   timePtr(run.CompletedOn),
		Status:     d.State,
		Message:    message,
		OutputPath: outputPath,
	}
	return c.s.complete(ctx, outcome{
		kind:      domain.TaskDataQualityProfile,
		key:       key,
		succeeded: succeeded,
		errorName: "DataQualityFailed",
		message:   message,
		merge: func(t *domain.DataAssetTask) error {
			if writeErr != nil {
				return writeErr
			}
			t.DataAsset.EnsureExecution().DataQualityProfileJob = record
			return c.s.closeLineage(&t.DataAsset.Lineage.DataQualityProfile, succeeded, message, now, func(b *openlineage.Builder) {
				b.SetQualityResult(rules)
			})
		},
		lineage: func(l *domain.Lineage) *openlineage.RunEvent { return l.DataQualityProfile },
	})
}

func ruleResults(in []gluetypes.DataQualityRuleResult) []openlineage.RuleResult {
	out := make([]openlineage.RuleResult, len(in))
	for i, r := range in {
		out[i] = openlineage.RuleResult{
			Name:              aws.ToString(r.Name),
			Description:       aws.ToString(r.Description),
			EvaluationMessage: aws.ToString(r.EvaluationMessage),
			Result:            string(r.Result),
		}
	}
	return out
}

// writeQualityResult keeps the full evaluation result next to the other job
// outputs. The location is derived from the correlation tags because the task
// context has not been loaded yet.
func (s *Service) writeQualityResult(ctx context.Context, tags map[string]string, resultID string, result *glue.GetDataQualityResultOutput) (string, error) {
	a := assetFromTags(tags)
	body, err := json.Marshal(struct {
		ResultID    string                            `json:"resultId"`
		Score       *float64                          `json:"score,omitempty"`
		RuleResults []gluetypes.DataQualityRuleResult `json:"ruleResults"`
	}{resultID, result.Score, result.RuleResults})
	if err != nil {
		return "", fmt.Errorf("encode quality result: %w", err)
	}
	key := s.cfg.Jobs.Key(a, stageQuality) + resultID + ".json"
	if _, err := s.objects.Put(ctx, s.cfg.Jobs.Bucket, key, bytes.NewReader(body), int64(len(body)), objectstore.PutOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("write quality result: %w", err)
	}
	return s.cfg.Jobs.URI(key), nil
}

// assetFromTags rebuilds the identity fields Layout needs from a job's
// correlation tags.
func assetFromTags(tags map[string]string) domain.DataAsset {
	return domain.DataAsset{
		ID: tags[correlation.KeyID],
		Catalog: domain.Catalog{
			DomainID:  tags[correlation.KeyDomainID],
			ProjectID: tags[correlation.KeyProjectID],
			AssetName: tags[correlation.KeyAssetName],
			AssetID:   tags[correlation.KeyAssetID],
		},
	}
}
