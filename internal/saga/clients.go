package saga

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/databrew"
	databrewtypes "github.com/aws/aws-sdk-go-v2/service/databrew/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// GlueAPI is the subset of the Glue client used for connections, crawlers
// and data quality rulesets.
type GlueAPI interface {
	GetConnection(ctx context.Context, params *glue.GetConnectionInput, optFns ...func(*glue.Options)) (*glue.GetConnectionOutput, error)
	CreateConnection(ctx context.Context, params *glue.CreateConnectionInput, optFns ...func(*glue.Options)) (*glue.CreateConnectionOutput, error)
	UpdateConnection(ctx context.Context, params *glue.UpdateConnectionInput, optFns ...func(*glue.Options)) (*glue.UpdateConnectionOutput, error)

	GetCrawler(ctx context.Context, params *glue.GetCrawlerInput, optFns ...func(*glue.Options)) (*glue.GetCrawlerOutput, error)
	CreateCrawler(ctx context.Context, params *glue.CreateCrawlerInput, optFns ...func(*glue.Options)) (*glue.CreateCrawlerOutput, error)
	UpdateCrawler(ctx context.Context, params *glue.UpdateCrawlerInput, optFns ...func(*glue.Options)) (*glue.UpdateCrawlerOutput, error)
	StartCrawler(ctx context.Context, params *glue.StartCrawlerInput, optFns ...func(*glue.Options)) (*glue.StartCrawlerOutput, error)
	ListCrawls(ctx context.Context, params *glue.ListCrawlsInput, optFns ...func(*glue.Options)) (*glue.ListCrawlsOutput, error)

	GetDataQualityRuleset(ctx context.Context, params *glue.GetDataQualityRulesetInput, optFns ...func(*glue.Options)) (*glue.GetDataQualityRulesetOutput, error)
	CreateDataQualityRuleset(ctx context.Context, params *glue.CreateDataQualityRulesetInput, optFns ...func(*glue.Options)) (*glue.CreateDataQualityRulesetOutput, error)
	UpdateDataQualityRuleset(ctx context.Context, params *glue.UpdateDataQualityRulesetInput, optFns ...func(*glue.Options)) (*glue.UpdateDataQualityRulesetOutput, error)
	StartDataQualityRulesetEvaluationRun(ctx context.Context, params *glue.StartDataQualityRulesetEvaluationRunInput, optFns ...func(*glue.Options)) (*glue.StartDataQualityRulesetEvaluationRunOutput, error)
	GetDataQualityRulesetEvaluationRun(ctx context.Context, params *glue.GetDataQualityRulesetEvaluationRunInput, optFns ...func(*glue.Options)) (*glue.GetDataQualityRulesetEvaluationRunOutput, error)
	GetDataQualityResult(ctx context.Context, params *glue.GetDataQualityResultInput, optFns ...func(*glue.Options)) (*glue.GetDataQualityResultOutput, error)

	GetTags(ctx context.Context, params *glue.GetTagsInput, optFns ...func(*glue.Options)) (*glue.GetTagsOutput, error)
	TagResource(ctx context.Context, params *glue.TagResourceInput, optFns ...func(*glue.Options)) (*glue.TagResourceOutput, error)
}

// DataBrewAPI is the subset of the DataBrew client used for datasets,
// profile jobs and recipe jobs.
type DataBrewAPI interface {
	DescribeDataset(ctx context.Context, params *databrew.DescribeDatasetInput, optFns ...func(*databrew.Options)) (*databrew.DescribeDatasetOutput, error)
	CreateDataset(ctx context.Context, params *databrew.CreateDatasetInput, optFns ...func(*databrew.Options)) (*databrew.CreateDatasetOutput, error)
	UpdateDataset(ctx context.Context, params *databrew.UpdateDatasetInput, optFns ...func(*databrew.Options)) (*databrew.UpdateDatasetOutput, error)
	DeleteDataset(ctx context.Context, params *databrew.DeleteDatasetInput, optFns ...func(*databrew.Options)) (*databrew.DeleteDatasetOutput, error)

	DescribeJob(ctx context.Context, params *databrew.DescribeJobInput, optFns ...func(*databrew.Options)) (*databrew.DescribeJobOutput, error)
	CreateProfileJob(ctx context.Context, params *databrew.CreateProfileJobInput, optFns ...func(*databrew.Options)) (*databrew.CreateProfileJobOutput, error)
	UpdateProfileJob(ctx context.Context, params *databrew.UpdateProfileJobInput, optFns ...func(*databrew.Options)) (*databrew.UpdateProfileJobOutput, error)
	CreateRecipeJob(ctx context.Context, params *databrew.CreateRecipeJobInput, optFns ...func(*databrew.Options)) (*databrew.CreateRecipeJobOutput, error)
	UpdateRecipeJob(ctx context.Context, params *databrew.UpdateRecipeJobInput, optFns ...func(*databrew.Options)) (*databrew.UpdateRecipeJobOutput, error)
	StartJobRun(ctx context.Context, params *databrew.StartJobRunInput, optFns ...func(*databrew.Options)) (*databrew.StartJobRunOutput, error)
	DescribeJobRun(ctx context.Context, params *databrew.DescribeJobRunInput, optFns ...func(*databrew.Options)) (*databrew.DescribeJobRunOutput, error)
	DeleteJob(ctx context.Context, params *databrew.DeleteJobInput, optFns ...func(*databrew.Options)) (*databrew.DeleteJobOutput, error)

	DescribeRecipe(ctx context.Context, params *databrew.DescribeRecipeInput, optFns ...func(*databrew.Options)) (*databrew.DescribeRecipeOutput, error)
	CreateRecipe(ctx context.Context, params *databrew.CreateRecipeInput, optFns ...func(*databrew.Options)) (*databrew.CreateRecipeOutput, error)
	UpdateRecipe(ctx context.Context, params *databrew.UpdateRecipeInput, optFns ...func(*databrew.Options)) (*databrew.UpdateRecipeOutput, error)
	PublishRecipe(ctx context.Context, params *databrew.PublishRecipeInput, optFns ...func(*databrew.Options)) (*databrew.PublishRecipeOutput, error)

	TagResource(ctx context.Context, params *databrew.TagResourceInput, optFns ...func(*databrew.Options)) (*databrew.TagResourceOutput, error)
}

type StepFunctionsAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Not-found answers from the probe calls select the create branch.

func isGlueNotFound(err error) bool {
	var nf *gluetypes.EntityNotFoundException
	return errors.As(err, &nf)
}

func isBrewNotFound(err error) bool {
	var nf *databrewtypes.ResourceNotFoundException
	return errors.As(err, &nf)
}
