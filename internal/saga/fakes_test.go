package saga

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/databrew"
	databrewtypes "github.com/aws/aws-sdk-go-v2/service/databrew/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/relay"
	"github.com/animus-labs/animus-datafabric/internal/storage/objectstore"
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

const (
	testRegion  = "eu-west-1"
	testAccount = "111122223333"
)

// fakeGlue keeps crawlers and rulesets by name and tags by ARN. Methods a
// test does not expect panic through the nil embedded interface.
type fakeGlue struct {
	GlueAPI

	mu             sync.Mutex
	crawlers       map[string]bool
	rulesets       map[string]bool
	tags           map[string]map[string]string
	crawlerCreates int
	crawlerUpdates int
	crawlerStarts  int
	crawlSummary   string
	crawlStarted   *time.Time
	evaluationRun  string
	ruleResults    []gluetypes.DataQualityRuleResult

	connections       map[string]bool
	connectionCreates int
	connectionUpdates int
	rulesetCreates    int
	rulesetUpdates    int
}

func newFakeGlue() *fakeGlue {
	return &fakeGlue{
		crawlers:      map[string]bool{},
		rulesets:      map[string]bool{},
		tags:          map[string]map[string]string{},
		evaluationRun: "dqrun-1",
		connections:   map[string]bool{},
	}
}

func (f *fakeGlue) GetConnection(ctx context.Context, in *glue.GetConnectionInput, _ ...func(*glue.Options)) (*glue.GetConnectionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connections[aws.ToString(in.Name)] {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("no connection")}
	}
	return &glue.GetConnectionOutput{Connection: &gluetypes.Connection{Name: in.Name}}, nil
}

func (f *fakeGlue) CreateConnection(ctx context.Context, in *glue.CreateConnectionInput, _ ...func(*glue.Options)) (*glue.CreateConnectionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.ConnectionInput.Name)
	f.connections[name] = true
	f.connectionCreates++
	f.tags[correlation.ConnectionArn(testRegion, testAccount, name)] = in.Tags
	return &glue.CreateConnectionOutput{}, nil
}

func (f *fakeGlue) UpdateConnection(ctx context.Context, in *glue.UpdateConnectionInput, _ ...func(*glue.Options)) (*glue.UpdateConnectionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectionUpdates++
	return &glue.UpdateConnectionOutput{}, nil
}

func (f *fakeGlue) GetCrawler(ctx context.Context, in *glue.GetCrawlerInput, _ ...func(*glue.Options)) (*glue.GetCrawlerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.crawlers[aws.ToString(in.Name)] {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("no crawler")}
	}
	return &glue.GetCrawlerOutput{Crawler: &gluetypes.Crawler{Name: in.Name}}, nil
}

func (f *fakeGlue) CreateCrawler(ctx context.Context, in *glue.CreateCrawlerInput, _ ...func(*glue.Options)) (*glue.CreateCrawlerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	f.crawlers[name] = true
	f.crawlerCreates++
	f.tags[correlation.CrawlerArn(testRegion, testAccount, name)] = in.Tags
	return &glue.CreateCrawlerOutput{}, nil
}

func (f *fakeGlue) UpdateCrawler(ctx context.Context, in *glue.UpdateCrawlerInput, _ ...func(*glue.Options)) (*glue.UpdateCrawlerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawlerUpdates++
	return &glue.UpdateCrawlerOutput{}, nil
}

func (f *fakeGlue) StartCrawler(ctx context.Context, in *glue.StartCrawlerInput, _ ...func(*glue.Options)) (*glue.StartCrawlerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawlerStarts++
	return &glue.StartCrawlerOutput{}, nil
}

func (f *fakeGlue) ListCrawls(ctx context.Context, in *glue.ListCrawlsInput, _ ...func(*glue.Options)) (*glue.ListCrawlsOutput, error) {
	if f.crawlSummary == "" && f.crawlStarted == nil {
		return &glue.ListCrawlsOutput{}, nil
	}
	crawl := gluetypes.CrawlerHistory{StartTime: f.crawlStarted}
	if f.crawlSummary != "" {
		crawl.Summary = aws.String(f.crawlSummary)
	}
	return &glue.ListCrawlsOutput{Crawls: []gluetypes.CrawlerHistory{crawl}}, nil
}

func (f *fakeGlue) GetDataQualityRuleset(ctx context.Context, in *glue.GetDataQualityRulesetInput, _ ...func(*glue.Options)) (*glue.GetDataQualityRulesetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.rulesets[aws.ToString(in.Name)] {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("no ruleset")}
	}
	return &glue.GetDataQualityRulesetOutput{Name: in.Name}, nil
}

func (f *fakeGlue) CreateDataQualityRuleset(ctx context.Context, in *glue.CreateDataQualityRulesetInput, _ ...func(*glue.Options)) (*glue.CreateDataQualityRulesetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	f.rulesets[name] = true
	f.rulesetCreates++
	f.tags[correlation.RulesetArn(testRegion, testAccount, name)] = in.Tags
	return &glue.CreateDataQualityRulesetOutput{Name: in.Name}, nil
}

func (f *fakeGlue) UpdateDataQualityRuleset(ctx context.Context, in *glue.UpdateDataQualityRulesetInput, _ ...func(*glue.Options)) (*glue.UpdateDataQualityRulesetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rulesetUpdates++
	return &glue.UpdateDataQualityRulesetOutput{Name: in.Name}, nil
}

func (f *fakeGlue) StartDataQualityRulesetEvaluationRun(ctx context.Context, in *glue.StartDataQualityRulesetEvaluationRunInput, _ ...func(*glue.Options)) (*glue.StartDataQualityRulesetEvaluationRunOutput, error) {
	return &glue.StartDataQualityRulesetEvaluationRunOutput{RunId: aws.String(f.evaluationRun)}, nil
}

func (f *fakeGlue) GetDataQualityRulesetEvaluationRun(ctx context.Context, in *glue.GetDataQualityRulesetEvaluationRunInput, _ ...func(*glue.Options)) (*glue.GetDataQualityRulesetEvaluationRunOutput, error) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &glue.GetDataQualityRulesetEvaluationRunOutput{RunId: in.RunId, StartedOn: &started}, nil
}

func (f *fakeGlue) GetDataQualityResult(ctx context.Context, in *glue.GetDataQualityResultInput, _ ...func(*glue.Options)) (*glue.GetDataQualityResultOutput, error) {
	return &glue.GetDataQualityResultOutput{ResultId: in.ResultId, Score: aws.Float64(0.5), RuleResults: f.ruleResults}, nil
}

func (f *fakeGlue) GetTags(ctx context.Context, in *glue.GetTagsInput, _ ...func(*glue.Options)) (*glue.GetTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags, ok := f.tags[aws.ToString(in.ResourceArn)]
	if !ok {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("no resource")}
	}
	return &glue.GetTagsOutput{Tags: tags}, nil
}

func (f *fakeGlue) TagResource(ctx context.Context, in *glue.TagResourceInput, _ ...func(*glue.Options)) (*glue.TagResourceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[aws.ToString(in.ResourceArn)] = in.TagsToAdd
	return &glue.TagResourceOutput{}, nil
}

// fakeBrew keeps datasets, jobs and recipes by name and counts the calls that
// create or update them. Deletions are recorded; a name in failDeletes makes
// its delete fail.
type fakeBrew struct {
	DataBrewAPI

	mu          sync.Mutex
	deleted     []string
	failDeletes map[string]error

	datasets map[string]map[string]string
	jobs     map[string]*brewJob
	recipes  map[string]bool
	creates  map[string]int
	updates  map[string]int
	runs     int
	runError string
}

type brewJob struct {
	typ  databrewtypes.JobType
	tags map[string]string
}

func newFakeBrew() *fakeBrew {
	return &fakeBrew{
		datasets: map[string]map[string]string{},
		jobs:     map[string]*brewJob{},
		recipes:  map[string]bool{},
		creates:  map[string]int{},
		updates:  map[string]int{},
	}
}

func brewArn(kind, name string) *string {
	return aws.String("arn:aws:databrew:" + testRegion + ":" + testAccount + ":" + kind + "/" + name)
}

func brewNotFound(what string) error {
	return &databrewtypes.ResourceNotFoundException{Message: aws.String("no " + what)}
}

func (f *fakeBrew) DescribeDataset(ctx context.Context, in *databrew.DescribeDatasetInput, _ ...func(*databrew.Options)) (*databrew.DescribeDatasetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	if _, ok := f.datasets[name]; !ok {
		return nil, brewNotFound("dataset")
	}
	return &databrew.DescribeDatasetOutput{Name: in.Name, ResourceArn: brewArn("dataset", name)}, nil
}

func (f *fakeBrew) CreateDataset(ctx context.Context, in *databrew.CreateDatasetInput, _ ...func(*databrew.Options)) (*databrew.CreateDatasetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets[aws.ToString(in.Name)] = in.Tags
	f.creates["dataset"]++
	return &databrew.CreateDatasetOutput{Name: in.Name}, nil
}

func (f *fakeBrew) UpdateDataset(ctx context.Context, in *databrew.UpdateDatasetInput, _ ...func(*databrew.Options)) (*databrew.UpdateDatasetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates["dataset"]++
	return &databrew.UpdateDatasetOutput{Name: in.Name}, nil
}

func (f *fakeBrew) DescribeJob(ctx context.Context, in *databrew.DescribeJobInput, _ ...func(*databrew.Options)) (*databrew.DescribeJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	job, ok := f.jobs[name]
	if !ok {
		return nil, brewNotFound("job")
	}
	return &databrew.DescribeJobOutput{Name: in.Name, Type: job.typ, Tags: job.tags, ResourceArn: brewArn("job", name)}, nil
}

func (f *fakeBrew) CreateProfileJob(ctx context.Context, in *databrew.CreateProfileJobInput, _ ...func(*databrew.Options)) (*databrew.CreateProfileJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[aws.ToString(in.Name)] = &brewJob{typ: databrewtypes.JobTypeProfile, tags: in.Tags}
	f.creates["profileJob"]++
	return &databrew.CreateProfileJobOutput{Name: in.Name}, nil
}

func (f *fakeBrew) UpdateProfileJob(ctx context.Context, in *databrew.UpdateProfileJobInput, _ ...func(*databrew.Options)) (*databrew.UpdateProfileJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates["profileJob"]++
	return &databrew.UpdateProfileJobOutput{Name: in.Name}, nil
}

func (f *fakeBrew) CreateRecipeJob(ctx context.Context, in *databrew.CreateRecipeJobInput, _ ...func(*databrew.Options)) (*databrew.CreateRecipeJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[aws.ToString(in.Name)] = &brewJob{typ: databrewtypes.JobTypeRecipe, tags: in.Tags}
	f.creates["recipeJob"]++
	return &databrew.CreateRecipeJobOutput{Name: in.Name}, nil
}

func (f *fakeBrew) UpdateRecipeJob(ctx context.Context, in *databrew.UpdateRecipeJobInput, _ ...func(*databrew.Options)) (*databrew.UpdateRecipeJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates["recipeJob"]++
	return &databrew.UpdateRecipeJobOutput{Name: in.Name}, nil
}

func (f *fakeBrew) StartJobRun(ctx context.Context, in *databrew.StartJobRunInput, _ ...func(*databrew.Options)) (*databrew.StartJobRunOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return &databrew.StartJobRunOutput{RunId: aws.String(fmt.Sprintf("jr-%d", f.runs))}, nil
}

func (f *fakeBrew) DescribeJobRun(ctx context.Context, in *databrew.DescribeJobRunInput, _ ...func(*databrew.Options)) (*databrew.DescribeJobRunOutput, error) {
	started := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)
	out := &databrew.DescribeJobRunOutput{JobName: in.Name, RunId: in.RunId, StartedOn: &started, CompletedOn: &completed}
	if f.runError != "" {
		out.ErrorMessage = aws.String(f.runError)
	}
	return out, nil
}

func (f *fakeBrew) DescribeRecipe(ctx context.Context, in *databrew.DescribeRecipeInput, _ ...func(*databrew.Options)) (*databrew.DescribeRecipeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recipes[aws.ToString(in.Name)] {
		return nil, brewNotFound("recipe")
	}
	return &databrew.DescribeRecipeOutput{Name: in.Name, RecipeVersion: aws.String("1.0")}, nil
}

func (f *fakeBrew) CreateRecipe(ctx context.Context, in *databrew.CreateRecipeInput, _ ...func(*databrew.Options)) (*databrew.CreateRecipeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipes[aws.ToString(in.Name)] = true
	f.creates["recipe"]++
	return &databrew.CreateRecipeOutput{Name: in.Name}, nil
}

func (f *fakeBrew) UpdateRecipe(ctx context.Context, in *databrew.UpdateRecipeInput, _ ...func(*databrew.Options)) (*databrew.UpdateRecipeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates["recipe"]++
	return &databrew.UpdateRecipeOutput{Name: in.Name}, nil
}

func (f *fakeBrew) PublishRecipe(ctx context.Context, in *databrew.PublishRecipeInput, _ ...func(*databrew.Options)) (*databrew.PublishRecipeOutput, error) {
	return &databrew.PublishRecipeOutput{Name: in.Name}, nil
}

func (f *fakeBrew) TagResource(ctx context.Context, in *databrew.TagResourceInput, _ ...func(*databrew.Options)) (*databrew.TagResourceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := aws.ToString(in.ResourceArn)
	name := arn[strings.LastIndex(arn, "/")+1:]
	if job, ok := f.jobs[name]; ok {
		job.tags = in.Tags
	}
	if _, ok := f.datasets[name]; ok {
		f.datasets[name] = in.Tags
	}
	return &databrew.TagResourceOutput{}, nil
}

func (f *fakeBrew) DeleteJob(ctx context.Context, in *databrew.DeleteJobInput, _ ...func(*databrew.Options)) (*databrew.DeleteJobOutput, error) {
	return &databrew.DeleteJobOutput{}, f.delete("job:" + aws.ToString(in.Name))
}

func (f *fakeBrew) DeleteDataset(ctx context.Context, in *databrew.DeleteDatasetInput, _ ...func(*databrew.Options)) (*databrew.DeleteDatasetOutput, error) {
	return &databrew.DeleteDatasetOutput{}, f.delete("dataset:" + aws.ToString(in.Name))
}

func (f *fakeBrew) delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	if err, ok := f.failDeletes[name]; ok {
		return err
	}
	return brewNotFound("resource")
}

type signal struct {
	token     string
	succeeded bool
	output    any
	errorName string
	cause     string
}

type fakeSignaler struct {
	mu      sync.Mutex
	signals []signal
	err     error
}

func (f *fakeSignaler) Success(ctx context.Context, token string, output any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal{token: token, succeeded: true, output: output})
	return f.err
}

func (f *fakeSignaler) Failure(ctx context.Context, token, errorName, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal{token: token, errorName: errorName, cause: cause})
	return f.err
}

type capturePublisher struct {
	mu   sync.Mutex
	envs []relay.Envelope
}

func (c *capturePublisher) Publish(ctx context.Context, env relay.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

// fakeSFN rejects a second start under a name it has seen, as Step
// Functions does for an input that differs.
type fakeSFN struct {
	started []*sfn.StartExecutionInput
}

func (f *fakeSFN) StartExecution(ctx context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	for _, prev := range f.started {
		if aws.ToString(prev.Name) == aws.ToString(in.Name) {
			return nil, &sfntypes.ExecutionAlreadyExists{Message: aws.String("execution exists")}
		}
	}
	f.started = append(f.started, in)
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:aws:states:" + testRegion + ":" + testAccount + ":execution:spoke:" + aws.ToString(in.Name))}, nil
}

type harness struct {
	svc      *Service
	glue     *fakeGlue
	brew     *fakeBrew
	sfn      *fakeSFN
	signaler *fakeSignaler
	relay    *capturePublisher
	tasks    *taskstore.Store
	objects  *objectstore.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		glue:     newFakeGlue(),
		brew:     newFakeBrew(),
		sfn:      &fakeSFN{},
		signaler: &fakeSignaler{},
		relay:    &capturePublisher{},
		objects:  objectstore.NewMemory(),
	}
	tasks, err := taskstore.New(h.objects, taskstore.Config{Bucket: "contexts"})
	if err != nil {
		t.Fatalf("taskstore.New() err=%v", err)
	}
	h.tasks = tasks
	svc, err := NewService(Deps{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Glue:          h.glue,
		DataBrew:      h.brew,
		StepFunctions: h.sfn,
		Tasks:         tasks,
		Objects:       h.objects,
		Signaler:      h.signaler,
		Relay:         h.relay,
	}, Config{
		Region:          testRegion,
		AccountID:       testAccount,
		GlueDatabase:    "df_spoke",
		Jobs:            Layout{Bucket: "jobs", Prefix: "datafabric"},
		StateMachineArn: "arn:aws:states:" + testRegion + ":" + testAccount + ":stateMachine:spoke",
	})
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	var n int
	svc.newRunID = func() string {
		n++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
	}
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	h.svc = svc
	return h
}

func sampleTask(token string) domain.DataAssetTask {
	return domain.DataAssetTask{
		DataAsset: domain.DataAsset{
			ID: "a1",
			Catalog: domain.Catalog{
				DomainID:   "dzd_1",
				DomainName: "sales-domain",
				ProjectID:  "prj_1",
				AssetName:  "orders",
			},
			Workflow: domain.Workflow{
				Name:    "wf",
				RoleArn: "arn:aws:iam::" + testAccount + ":role/df",
				Dataset: domain.Dataset{
					Name:       "orders",
					Format:     "csv",
					Connection: domain.Connection{DataLake: &domain.DataLakeConnection{S3: domain.S3Location{Path: "s3://raw/orders/"}}},
				},
			},
			Execution: &domain.Execution{HubTaskToken: "hub-token", HubExecutionID: "00000000-0000-4000-8000-00000000aaaa"},
		},
		Execution: &domain.TaskExecution{
			ExecutionID:     "arn:aws:states:" + testRegion + ":" + testAccount + ":execution:spoke:run-1",
			StateMachineArn: "arn:aws:states:" + testRegion + ":" + testAccount + ":stateMachine:spoke",
			TaskToken:       token,
		},
	}
}

func (s *fakeSignaler) last(t *testing.T) signal {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.signals) == 0 {
		t.Fatalf("no signal sent")
	}
	return s.signals[len(s.signals)-1]
}
