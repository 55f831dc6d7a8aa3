package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/databrew"
	databrewtypes "github.com/aws/aws-sdk-go-v2/service/databrew/types"

	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// DataSetTask registers the cataloged table as the DataBrew dataset the
// profile job reads. It completes synchronously.
type DataSetTask struct {
	s *Service
}

func (t *DataSetTask) Kind() domain.TaskKind { return domain.TaskDataSet }

func (t *DataSetTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *DataSetTask) run(ctx context.Context, task domain.DataAssetTask) error {
	a := task.DataAsset
	if a.Execution == nil || a.Execution.GlueTableName == "" {
		return errors.New("no cataloged table to profile")
	}
	db := a.Execution.GlueDatabaseName
	if db == "" {
		db = t.s.cfg.GlueDatabase
	}
	input := &databrewtypes.Input{
		DataCatalogInputDefinition: &databrewtypes.DataCatalogInputDefinition{
			DatabaseName:  aws.String(db),
			TableName:     aws.String(a.Execution.GlueTableName),
			TempDirectory: t.s.jobsLocation(a, stageProfileTemp),
		},
	}
	if err := t.s.upsertDataset(ctx, ProfileDatasetName(a), input, correlation.Build(task)); err != nil {
		return err
	}
	return t.s.finish(ctx, t.Kind(), task)
}

func (s *Service) jobsLocation(a domain.DataAsset, stage string) *databrewtypes.S3Location {
	return &databrewtypes.S3Location{
		Bucket: aws.String(s.cfg.Jobs.Bucket),
		Key:    aws.String(s.cfg.Jobs.Key(a, stage)),
	}
}

func (s *Service) upsertDataset(ctx context.Context, name string, input *databrewtypes.Input, tags correlation.Tags) error {
	out, err := s.brew.DescribeDataset(ctx, &databrew.DescribeDatasetInput{Name: aws.String(name)})
	switch {
	case err == nil:
		if _, err := s.brew.UpdateDataset(ctx, &databrew.UpdateDatasetInput{Name: aws.String(name), Input: input}); err != nil {
			return fmt.Errorf("update dataset %s: %w", name, err)
		}
		return s.tagBrew(ctx, out.ResourceArn, tags)
	case isBrewNotFound(err):
		if _, err := s.brew.CreateDataset(ctx, &databrew.CreateDatasetInput{Name: aws.String(name), Input: input, Tags: tags}); err != nil {
			return fmt.Errorf("create dataset %s: %w", name, err)
		}
		return nil
	default:
		return fmt.Errorf("describe dataset %s: %w", name, err)
	}
}

func (s *Service) tagBrew(ctx context.Context, arn *string, tags correlation.Tags) error {
	if aws.ToString(arn) == "" {
		return nil
	}
	if _, err := s.brew.TagResource(ctx, &databrew.TagResourceInput{ResourceArn: arn, Tags: tags}); err != nil {
		return fmt.Errorf("tag %s: %w", aws.ToString(arn), err)
	}
	return nil
}

func (s *Service) startJobRun(name string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		out, err := s.brew.StartJobRun(ctx, &databrew.StartJobRunInput{Name: aws.String(name)})
		if err != nil {
			return "", fmt.Errorf("start job run %s: %w", name, err)
		}
		return aws.ToString(out.RunId), nil
	}
}

// ProfileJobTask profiles the registered dataset into the jobs bucket.
type ProfileJobTask struct {
	s *Service
}

func (t *ProfileJobTask) Kind() domain.TaskKind { return domain.TaskDataProfile }

func (t *ProfileJobTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *ProfileJobTask) run(ctx context.Context, task domain.DataAssetTask) error {
	a := task.DataAsset
	name := ProfileJobName(a)
	output := t.s.jobsLocation(a, stageProfile)
	tags := correlation.Build(task)

	out, err := t.s.brew.DescribeJob(ctx, &databrew.DescribeJobInput{Name: aws.String(name)})
	switch {
	case err == nil:
		_, err := t.s.brew.UpdateProfileJob(ctx, &databrew.UpdateProfileJobInput{
			Name:           aws.String(name),
			RoleArn:        aws.String(a.Workflow.RoleArn),
			OutputLocation: output,
		})
		if err != nil {
			return fmt.Errorf("update profile job %s: %w", name, err)
		}
		if err := t.s.tagBrew(ctx, out.ResourceArn, tags); err != nil {
			return err
		}
	case isBrewNotFound(err):
		_, err := t.s.brew.CreateProfileJob(ctx, &databrew.CreateProfileJobInput{
			Name:           aws.String(name),
			DatasetName:    aws.String(ProfileDatasetName(a)),
			RoleArn:        aws.String(a.Workflow.RoleArn),
			OutputLocation: output,
			Tags:           tags,
		})
		if err != nil {
			return fmt.Errorf("create profile job %s: %w", name, err)
		}
	default:
		return fmt.Errorf("describe job %s: %w", name, err)
	}

	return t.s.launch(ctx, t.Kind(), task, t.s.startJobRun(name), func(l *domain.Lineage, ev *openlineage.RunEvent) {
		l.DataProfile = ev
	})
}

// RecipeTask applies the workflow's transform recipe to the source and
// writes the result to the jobs bucket, where the crawler picks it up.
// Workflows without a recipe pass straight through.
type RecipeTask struct {
	s *Service
}

func (t *RecipeTask) Kind() domain.TaskKind { return domain.TaskRecipe }

func (t *RecipeTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *RecipeTask) run(ctx context.Context, task domain.DataAssetTask) error {
	a := task.DataAsset
	if a.Workflow.Transforms == nil || a.Workflow.Transforms.Recipe == nil || len(a.Workflow.Transforms.Recipe.Steps) == 0 {
		return t.s.finish(ctx, t.Kind(), task)
	}
	tags := correlation.Build(task)

	input, err := t.s.sourceInput(a)
	if err != nil {
		return err
	}
	dataset := RecipeDatasetName(a)
	if err := t.s.upsertDataset(ctx, dataset, input, tags); err != nil {
		return err
	}
	version, err := t.s.publishRecipe(ctx, a, tags)
	if err != nil {
		return err
	}

	name := RecipeJobName(a)
	outputs := []databrewtypes.Output{{
		Location:  t.s.jobsLocation(a, stageRecipe),
		Format:    databrewtypes.OutputFormatParquet,
		Overwrite: true,
	}}
	out, err := t.s.brew.DescribeJob(ctx, &databrew.DescribeJobInput{Name: aws.String(name)})
	switch {
	case err == nil:
		_, err := t.s.brew.UpdateRecipeJob(ctx, &databrew.UpdateRecipeJobInput{
			Name:    aws.String(name),
			RoleArn: aws.String(a.Workflow.RoleArn),
			Outputs: outputs,
		})
		if err != nil {
			return fmt.Errorf("update recipe job %s: %w", name, err)
		}
		if err := t.s.tagBrew(ctx, out.ResourceArn, tags); err != nil {
			return err
		}
	case isBrewNotFound(err):
		_, err := t.s.brew.CreateRecipeJob(ctx, &databrew.CreateRecipeJobInput{
			Name:        aws.String(name),
			DatasetName: aws.String(dataset),
			RoleArn:     aws.String(a.Workflow.RoleArn),
			RecipeReference: &databrewtypes.RecipeReference{
				Name:          aws.String(RecipeName(a)),
				RecipeVersion: aws.String(version),
			},
			Outputs: outputs,
			Tags:    tags,
		})
		if err != nil {
			return fmt.Errorf("create recipe job %s: %w", name, err)
		}
	default:
		return fmt.Errorf("describe job %s: %w", name, err)
	}

	return t.s.launch(ctx, t.Kind(), task, t.s.startJobRun(name), func(l *domain.Lineage, ev *openlineage.RunEvent) {
		l.Recipe = ev
	})
}

// publishRecipe creates or updates the working recipe, publishes it and
// returns the published version.
func (s *Service) publishRecipe(ctx context.Context, a domain.DataAsset, tags correlation.Tags) (string, error) {
	name := RecipeName(a)
	steps := recipeSteps(a.Workflow.Transforms.Recipe.Steps)
	_, err := s.brew.DescribeRecipe(ctx, &databrew.DescribeRecipeInput{Name: aws.String(name)})
	switch {
	case err == nil:
		if _, err := s.brew.UpdateRecipe(ctx, &databrew.UpdateRecipeInput{Name: aws.String(name), Steps: steps}); err != nil {
			return "", fmt.Errorf("update recipe %s: %w", name, err)
		}
	case isBrewNotFound(err):
		if _, err := s.brew.CreateRecipe(ctx, &databrew.CreateRecipeInput{Name: aws.String(name), Steps: steps, Tags: tags}); err != nil {
			return "", fmt.Errorf("create recipe %s: %w", name, err)
		}
	default:
		return "", fmt.Errorf("describe recipe %s: %w", name, err)
	}
	if _, err := s.brew.PublishRecipe(ctx, &databrew.PublishRecipeInput{Name: aws.String(name)}); err != nil {
		return "", fmt.Errorf("publish recipe %s: %w", name, err)
	}
	out, err := s.brew.DescribeRecipe(ctx, &databrew.DescribeRecipeInput{Name: aws.String(name), RecipeVersion: aws.String("LATEST_PUBLISHED")})
	if err != nil {
		return "", fmt.Errorf("describe published recipe %s: %w", name, err)
	}
	return aws.ToString(out.RecipeVersion), nil
}

func recipeSteps(steps []domain.RecipeStep) []databrewtypes.RecipeStep {
	out := make([]databrewtypes.RecipeStep, 0, len(steps))
	for _, step := range steps {
		rs := databrewtypes.RecipeStep{
			Action: &databrewtypes.RecipeAction{
				Operation:  aws.String(step.Action.Operation),
				Parameters: step.Action.Parameters,
			},
		}
		for _, c := range step.ConditionExpressions {
			ce := databrewtypes.ConditionExpression{
				Condition:    aws.String(c.Condition),
				TargetColumn: aws.String(c.TargetColumn),
			}
			if c.Value != "" {
				ce.Value = aws.String(c.Value)
			}
			rs.ConditionExpressions = append(rs.ConditionExpressions, ce)
		}
		out = append(out, rs)
	}
	return out
}

// sourceInput describes the raw source as DataBrew input.
func (s *Service) sourceInput(a domain.DataAsset) (*databrewtypes.Input, error) {
	conn := a.Workflow.Dataset.Connection
	switch {
	case conn.DataLake != nil:
		bucket, key, err := splitS3URI(conn.DataLake.S3.Path)
		if err != nil {
			return nil, err
		}
		return &databrewtypes.Input{S3InputDefinition: &databrewtypes.S3Location{Bucket: aws.String(bucket), Key: aws.String(key)}}, nil
	case conn.Glue != nil:
		return &databrewtypes.Input{DataCatalogInputDefinition: &databrewtypes.DataCatalogInputDefinition{
			CatalogId:     aws.String(conn.Glue.AccountID),
			DatabaseName:  aws.String(conn.Glue.DatabaseName),
			TableName:     aws.String(conn.Glue.TableName),
			TempDirectory: s.jobsLocation(a, stageProfileTemp),
		}}, nil
	case conn.Redshift != nil:
		return &databrewtypes.Input{DatabaseInputDefinition: &databrewtypes.DatabaseInputDefinition{
			GlueConnectionName: aws.String(ConnectionName(a)),
			DatabaseTableName:  aws.String(conn.Redshift.DatabaseTableName),
			TempDirectory:      s.jobsLocation(a, stageProfileTemp),
		}}, nil
	default:
		return nil, fmt.Errorf("no recipe input for connection type %q", conn.Type())
	}
}

func splitS3URI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri has no bucket: %q", uri)
	}
	return bucket, key, nil
}
