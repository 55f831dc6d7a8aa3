package saga

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/animus-labs/animus-datafabric/internal/coordinator"
	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/relay"
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

func crawlerEvent(t *testing.T, detail map[string]any) events.CloudWatchEvent {
	t.Helper()
	raw, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("json.Marshal() err=%v", err)
	}
	return events.CloudWatchEvent{
		Source:     GlueSource,
		DetailType: CrawlerStateChangeDetailType,
		Region:     testRegion,
		AccountID:  testAccount,
		Detail:     raw,
	}
}

func TestCrawler_DispatchThenComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok-crawler")

	if err := (&CrawlerTask{s: h.svc}).Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	if len(h.signaler.signals) != 0 {
		t.Fatalf("dispatch spent the token: %+v", h.signaler.signals)
	}
	snap, err := h.tasks.Get(ctx, domain.TaskGlueCrawler, "a1")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if snap.Task.DataAsset.Execution.CrawlerRun != nil {
		t.Fatalf("crawlerRun set at dispatch: %+v", snap.Task.DataAsset.Execution.CrawlerRun)
	}
	start := snap.Task.DataAsset.Lineage.GlueCrawler
	if start == nil || start.EventType != openlineage.EventTypeStart {
		t.Fatalf("start lineage = %+v", start)
	}

	name := CrawlerName(task.DataAsset)
	h.glue.crawlSummary = `{"TABLE":{"ADD":"{\"Details\":{\"names\":[\"df-orders-a1-orders\"]}}"}}`
	ev := crawlerEvent(t, map[string]any{"crawlerName": name, "state": "Succeeded", "tablesCreated": "1"})
	if err := (&CrawlerCompletion{s: h.svc}).Complete(ctx, ev); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}

	sig := h.signaler.last(t)
	if !sig.succeeded || sig.token != "tok-crawler" {
		t.Fatalf("signal = %+v", sig)
	}
	snap, err = h.tasks.Get(ctx, domain.TaskGlueCrawler, "a1")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	a := snap.Task.DataAsset
	if !a.GlueDeltaDetected {
		t.Fatalf("glueDeltaDetected = false")
	}
	if a.Execution.CrawlerRun == nil || a.Execution.CrawlerRun.Status != "Succeeded" {
		t.Fatalf("crawlerRun = %+v", a.Execution.CrawlerRun)
	}
	if a.Execution.GlueTableName != "df-orders-a1-orders" || a.Execution.GlueDatabaseName != "df_spoke" {
		t.Fatalf("table = %s.%s", a.Execution.GlueDatabaseName, a.Execution.GlueTableName)
	}
	end := a.Lineage.GlueCrawler
	if end == nil || end.EventType != openlineage.EventTypeComplete || end.Run.RunID != start.Run.RunID {
		t.Fatalf("end lineage = %+v", end)
	}
}

func TestCrawler_DispatchTwiceCreatesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok")
	for i := 0; i < 2; i++ {
		if err := (&CrawlerTask{s: h.svc}).Dispatch(ctx, task); err != nil {
			t.Fatalf("Dispatch() #%d err=%v", i, err)
		}
	}
	if h.glue.crawlerCreates != 1 || h.glue.crawlerUpdates != 1 || h.glue.crawlerStarts != 2 {
		t.Fatalf("creates=%d updates=%d starts=%d", h.glue.crawlerCreates, h.glue.crawlerUpdates, h.glue.crawlerStarts)
	}
}

func TestCrawler_FailedStateSignalsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok")
	if err := (&CrawlerTask{s: h.svc}).Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	ev := crawlerEvent(t, map[string]any{"crawlerName": CrawlerName(task.DataAsset), "state": "Failed", "errorMessage": "access denied"})
	if err := (&CrawlerCompletion{s: h.svc}).Complete(ctx, ev); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	sig := h.signaler.last(t)
	if sig.succeeded || sig.errorName != "CrawlerFailed" || !strings.Contains(sig.cause, "access denied") {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestCrawler_IgnoresRunningState(t *testing.T) {
	h := newHarness(t)
	ev := crawlerEvent(t, map[string]any{"crawlerName": "wf-a1-crawler", "state": "Started"})
	if err := (&CrawlerCompletion{s: h.svc}).Complete(context.Background(), ev); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	if len(h.signaler.signals) != 0 {
		t.Fatalf("signals = %+v", h.signaler.signals)
	}
}

func TestCompletion_UnresolvableTagsSendNothing(t *testing.T) {
	h := newHarness(t)
	name := "wf-x-crawler"
	h.glue.tags[correlation.CrawlerArn(testRegion, testAccount, name)] = map[string]string{"team": "x"}
	ev := crawlerEvent(t, map[string]any{"crawlerName": name, "state": "Succeeded"})
	if err := (&CrawlerCompletion{s: h.svc}).Complete(context.Background(), ev); err == nil {
		t.Fatalf("Complete() err=nil, want unresolvable")
	}
	if len(h.signaler.signals) != 0 {
		t.Fatalf("signals = %+v", h.signaler.signals)
	}
}

func TestCompletion_MissingContextReturnsNotFound(t *testing.T) {
	h := newHarness(t)
	name := "wf-a9-crawler"
	h.glue.tags[correlation.CrawlerArn(testRegion, testAccount, name)] = map[string]string{"id": "a9"}
	ev := crawlerEvent(t, map[string]any{"crawlerName": name, "state": "Succeeded"})
	err := (&CrawlerCompletion{s: h.svc}).Complete(context.Background(), ev)
	if !errors.Is(err, taskstore.ErrNotFound) {
		t.Fatalf("Complete() err=%v, want ErrNotFound", err)
	}
}

func TestQuality_FailedEvaluationSignalsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok-dq")
	task.DataAsset.Workflow.DataQuality = &domain.DataQuality{Ruleset: `Rules = [ IsComplete "id" ]`}
	task.DataAsset.Execution.GlueTableName = "df-orders-a1-orders"
	if err := (&QualityTask{s: h.svc}).Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}

	h.glue.ruleResults = []gluetypes.DataQualityRuleResult{
		{Name: aws.String("Rule_1"), Description: aws.String(`IsComplete "id"`), Result: gluetypes.DataQualityRuleResultStatusPass},
		{Name: aws.String("Rule_2"), Description: aws.String(`IsUnique "id"`), Result: gluetypes.DataQualityRuleResultStatusFail},
	}
	detail, _ := json.Marshal(map[string]any{
		"resultId":       "dqresult-1",
		"rulesetNames":   []string{RulesetName(task.DataAsset)},
		"state":          "FAILED",
		"score":          0.5,
		"rulesSucceeded": "1",
		"rulesFailed":    "1",
		"rulesSkipped":   "0",
		"context":        map[string]string{"runId": "dqrun-1"},
	})
	ev := events.CloudWatchEvent{Source: GlueDataQualitySource, DetailType: QualityResultsDetailType, Region: testRegion, AccountID: testAccount, Detail: detail}
	if err := (&QualityCompletion{s: h.svc}).Complete(ctx, ev); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}

	sig := h.signaler.last(t)
	if sig.succeeded || sig.errorName != "DataQualityFailed" {
		t.Fatalf("signal = %+v", sig)
	}
	var cause domain.FailureCause
	if err := json.Unmarshal([]byte(sig.cause), &cause); err != nil {
		t.Fatalf("cause err=%v", err)
	}
	if cause.Error != "Rule Failed: 1. Rule Skipped:0, Rule Succeeded: 1, Score: 0.5" || cause.SignedURL == "" {
		t.Fatalf("cause = %+v", cause)
	}
	snap, err := h.tasks.Get(ctx, domain.TaskDataQualityProfile, "a1")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	job := snap.Task.DataAsset.Execution.DataQualityProfileJob
	if job == nil || job.Status != "FAILED" || !strings.HasSuffix(job.OutputPath, "/dataQualityProfile/dqresult-1.json") {
		t.Fatalf("job = %+v", job)
	}
	if _, _, err := h.objects.Get(ctx, "jobs", "datafabric/dzd_1/prj_1/a1/dataQualityProfile/dqresult-1.json"); err != nil {
		t.Fatalf("quality result not written: %v", err)
	}
	end := snap.Task.DataAsset.Lineage.DataQualityProfile
	if end == nil || end.EventType != openlineage.EventTypeFail {
		t.Fatalf("end lineage = %+v", end)
	}
}

func TestQuality_NoRulesetPassesThrough(t *testing.T) {
	h := newHarness(t)
	if err := (&QualityTask{s: h.svc}).Dispatch(context.Background(), sampleTask("tok")); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	if sig := h.signaler.last(t); !sig.succeeded {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestDispatch_ErrorPersistsDiagnosticAndFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok")
	task.DataAsset.Workflow.DataQuality = &domain.DataQuality{Ruleset: "Rules = []"}
	if err := (&QualityTask{s: h.svc}).Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	sig := h.signaler.last(t)
	if sig.succeeded || sig.errorName != ProcessingError {
		t.Fatalf("signal = %+v", sig)
	}
	if _, err := h.tasks.Get(ctx, domain.TaskDataQualityProfile, "a1"); err != nil {
		t.Fatalf("diagnostic snapshot missing: %v", err)
	}
}

func TestDispatch_RequiresToken(t *testing.T) {
	h := newHarness(t)
	task := sampleTask("")
	if err := (&ConnectionTask{s: h.svc}).Dispatch(context.Background(), task); err == nil {
		t.Fatalf("Dispatch() err=nil, want missing token")
	}
}

func TestSignal_DuplicateIsDropped(t *testing.T) {
	h := newHarness(t)
	h.signaler.err = coordinator.ErrAlreadySignaled
	if err := (&ConnectionTask{s: h.svc}).Dispatch(context.Background(), sampleTask("tok")); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
}

func TestFailureTask_CleanupContinuesAfterError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok")
	task.DataAsset.Workflow.Transforms = &domain.Transforms{Recipe: &domain.Recipe{}}
	recipeJob := "job:" + RecipeJobName(task.DataAsset)
	h.brew.failDeletes = map[string]error{recipeJob: errors.New("throttled")}

	failure := domain.StepFailure{
		ErrorName:  "States.TaskFailed",
		ErrorCause: "crawler exploded",
		Execution:  &domain.TaskExecution{TaskToken: "tok-failure"},
		Input:      &task,
	}
	if err := h.svc.FailureTask().Process(ctx, failure); err != nil {
		t.Fatalf("Process() err=%v", err)
	}

	want := []string{
		recipeJob,
		"dataset:" + RecipeDatasetName(task.DataAsset),
		"job:" + ProfileJobName(task.DataAsset),
		"dataset:" + ProfileDatasetName(task.DataAsset),
	}
	if strings.Join(h.brew.deleted, ",") != strings.Join(want, ",") {
		t.Fatalf("deleted = %v, want %v", h.brew.deleted, want)
	}
	if _, err := h.tasks.Get(ctx, domain.TaskFailure, "a1"); err != nil {
		t.Fatalf("failed task not kept: %v", err)
	}
	sig := h.signaler.last(t)
	if sig.succeeded || sig.token != "tok-failure" || sig.errorName != "States.TaskFailed" {
		t.Fatalf("signal = %+v", sig)
	}
	if len(h.relay.envs) != 1 {
		t.Fatalf("published %d envelopes", len(h.relay.envs))
	}
	var resp domain.CreateResponse
	if err := json.Unmarshal(h.relay.envs[0].Detail, &resp); err != nil {
		t.Fatalf("decode response err=%v", err)
	}
	if resp.WorkflowState != domain.WorkflowFailed || resp.HubTaskToken != "hub-token" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestFailureTask_FetchesSignedPayload(t *testing.T) {
	h := newHarness(t)
	task := sampleTask("tok")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(task)
	}))
	defer srv.Close()
	h.svc.fetcher = taskstore.NewFetcher(srv.Client())

	cause, _ := json.Marshal(domain.FailureCause{SignedURL: srv.URL + "/df_glue_crawler/a1", Error: "boom"})
	failure := domain.StepFailure{ErrorName: ProcessingError, ErrorCause: string(cause)}
	if err := h.svc.FailureTask().Process(context.Background(), failure); err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	if len(h.signaler.signals) != 0 {
		t.Fatalf("signaled without a token: %+v", h.signaler.signals)
	}
	if len(h.brew.deleted) != 2 {
		t.Fatalf("deleted = %v", h.brew.deleted)
	}
}

func TestFailureTask_NoPayload(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.FailureTask().Process(context.Background(), domain.StepFailure{ErrorCause: "plain text"}); err == nil {
		t.Fatalf("Process() err=nil, want missing payload")
	}
}

func TestResponseTask_PublishesSignedReferences(t *testing.T) {
	h := newHarness(t)
	task := sampleTask("tok-response")
	task.DataAsset.Execution.DataProfileJob = &domain.DataAssetJob{Status: "SUCCEEDED"}
	if err := (&ResponseTask{s: h.svc}).Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	if len(h.relay.envs) != 1 {
		t.Fatalf("published %d envelopes", len(h.relay.envs))
	}
	env := h.relay.envs[0]
	if env.Source != relay.SpokeDataAssetSource || env.DetailType != relay.SpokeCreateResponseDetailType {
		t.Fatalf("envelope = %s / %s", env.Source, env.DetailType)
	}
	var resp domain.CreateResponse
	if err := json.Unmarshal(env.Detail, &resp); err != nil {
		t.Fatalf("decode response err=%v", err)
	}
	if resp.WorkflowState != domain.WorkflowSucceeded || resp.FullPayloadSignedURL == "" || resp.DataProfileSignedURL == "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.DataQualityProfileSignedURL != "" {
		t.Fatalf("quality reference without a quality run: %s", resp.DataQualityProfileSignedURL)
	}
	if sig := h.signaler.last(t); !sig.succeeded || sig.token != "tok-response" {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestRequestProcessor_StartsSpokeExecution(t *testing.T) {
	h := newHarness(t)
	task := sampleTask("")
	task.Execution = nil
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(task)
	}))
	defer srv.Close()
	h.svc.fetcher = taskstore.NewFetcher(srv.Client())

	p := h.svc.RequestProcessor()
	if !p.Matches(relay.HubDataAssetSource, relay.HubCreateRequestDetailType) {
		t.Fatalf("Matches() = false")
	}
	detail, _ := json.Marshal(domain.CreateRequest{ID: "a1", FullPayloadSignedURL: srv.URL + "/df_data_asset/a1"})
	ev := events.CloudWatchEvent{Source: relay.HubDataAssetSource, DetailType: relay.HubCreateRequestDetailType, Detail: detail}
	if err := p.Complete(context.Background(), ev); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	if len(h.sfn.started) != 1 {
		t.Fatalf("started %d executions", len(h.sfn.started))
	}
	in := h.sfn.started[0]
	if !strings.HasPrefix(aws.ToString(in.Name), "a1-") || len(aws.ToString(in.Name)) > 80 {
		t.Fatalf("execution name = %q", aws.ToString(in.Name))
	}
	got, err := taskstore.Decode(strings.NewReader(aws.ToString(in.Input)))
	if err != nil {
		t.Fatalf("Decode() err=%v", err)
	}
	if got.DataAsset.Catalog.AssetName != "orders" {
		t.Fatalf("input = %+v", got.DataAsset)
	}
}

func TestRegistry(t *testing.T) {
	h := newHarness(t)
	r, err := NewRegistry(h.svc.Dispatchers()...)
	if err != nil {
		t.Fatalf("NewRegistry() err=%v", err)
	}
	kinds := r.Kinds()
	if len(kinds) != 7 {
		t.Fatalf("Kinds() = %v", kinds)
	}
	if _, ok := r.Lookup(domain.TaskGlueCrawler); !ok {
		t.Fatalf("Lookup(%s) missing", domain.TaskGlueCrawler)
	}
	if _, ok := r.Lookup(domain.TaskFailure); ok {
		t.Fatalf("Lookup(%s) found a dispatcher", domain.TaskFailure)
	}
	if _, err := NewRegistry(&CrawlerTask{}, &CrawlerTask{}); err == nil {
		t.Fatalf("NewRegistry() err=nil, want duplicate")
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		raw  string
		want Count
	}{
		{`3`, 3},
		{`"7"`, 7},
		{`""`, 0},
		{`null`, 0},
		{`2.0`, 2},
	}
	for _, tt := range tests {
		var c Count
		if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
			t.Fatalf("Unmarshal(%s) err=%v", tt.raw, err)
		}
		if c != tt.want {
			t.Fatalf("Unmarshal(%s) = %d, want %d", tt.raw, c, tt.want)
		}
	}
	var c Count
	if err := json.Unmarshal([]byte(`"many"`), &c); err == nil {
		t.Fatalf("Unmarshal(many) err=nil")
	}
}

func TestNames(t *testing.T) {
	a := sampleTask("").DataAsset
	checks := map[string]string{
		ConnectionName(a):     "wf-a1-connection",
		CrawlerName(a):        "wf-a1-crawler",
		ProfileDatasetName(a): "a1-profileDataSet",
		ProfileJobName(a):     "wf-a1-dataProfile",
		RulesetName(a):        "df-createDataQualityProfile-a1",
		RecipeName(a):         "df-a1",
		RecipeDatasetName(a):  "a1-recipeDataSet",
		RecipeJobName(a):      "wf-a1-transform",
		tablePrefix(a):        "df-orders-a1-",
	}
	for got, want := range checks {
		if got != want {
			t.Fatalf("name = %q, want %q", got, want)
		}
	}
	l := Layout{Bucket: "jobs", Prefix: "/datafabric/"}
	if got := l.URI(l.Key(a, stageProfile)); got != "s3://jobs/datafabric/dzd_1/prj_1/a1/dataProfile/" {
		t.Fatalf("URI() = %q", got)
	}
}

func TestLatestTable_PlainDetails(t *testing.T) {
	h := newHarness(t)
	h.glue.crawlSummary = `{"TABLE":{"ADD":{"Details":{"names":["t1","t2"]}}}}`
	crawl, err := h.svc.lastCrawl(context.Background(), "c")
	if err != nil {
		t.Fatalf("lastCrawl() err=%v", err)
	}
	got, err := addedTable(crawl)
	if err != nil || got != "t1" {
		t.Fatalf("addedTable() = %q, %v", got, err)
	}
}

func TestFailureTask_ExpiredReferenceFallsBackToInput(t *testing.T) {
	h := newHarness(t)
	task := sampleTask("tok")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Request has expired", http.StatusForbidden)
	}))
	defer srv.Close()
	h.svc.fetcher = taskstore.NewFetcher(srv.Client())

	cause, _ := json.Marshal(domain.FailureCause{SignedURL: srv.URL + "/df_glue_crawler/a1", Error: "boom"})
	failure := domain.StepFailure{
		ErrorName:  "CrawlerFailed",
		ErrorCause: string(cause),
		Execution:  &domain.TaskExecution{TaskToken: "tok-failure"},
		Input:      &task,
	}
	if err := h.svc.FailureTask().Process(context.Background(), failure); err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	if len(h.brew.deleted) != 2 {
		t.Fatalf("deleted = %v", h.brew.deleted)
	}
	sig := h.signaler.last(t)
	if sig.succeeded || sig.token != "tok-failure" || sig.errorName != "CrawlerFailed" {
		t.Fatalf("signal = %+v", sig)
	}
	if len(h.relay.envs) != 1 {
		t.Fatalf("published %d envelopes", len(h.relay.envs))
	}
	var resp domain.CreateResponse
	if err := json.Unmarshal(h.relay.envs[0].Detail, &resp); err != nil {
		t.Fatalf("decode response err=%v", err)
	}
	if resp.WorkflowState != domain.WorkflowFailed || resp.HubTaskToken != "hub-token" || resp.FullPayloadSignedURL == "" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestFailureTask_ExpiredReferenceReadsStoredSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stored := sampleTask("tok")
	stored.DataAsset.Workflow.Transforms = &domain.Transforms{Recipe: &domain.Recipe{}}
	if _, err := h.tasks.Put(ctx, domain.TaskGlueCrawler, "a1", stored); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	h.svc.fetcher = taskstore.NewFetcher(srv.Client())

	cause, _ := json.Marshal(domain.FailureCause{SignedURL: srv.URL + "/df_glue_crawler/a1?X-Amz-Expires=1", Error: "boom"})
	failure := domain.StepFailure{
		ErrorName:  ProcessingError,
		ErrorCause: string(cause),
		Execution:  &domain.TaskExecution{TaskToken: "tok-failure"},
	}
	if err := h.svc.FailureTask().Process(ctx, failure); err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	if len(h.brew.deleted) != 4 {
		t.Fatalf("deleted = %v, want recipe and profile resources", h.brew.deleted)
	}
	if sig := h.signaler.last(t); sig.succeeded || sig.token != "tok-failure" {
		t.Fatalf("signal = %+v", sig)
	}
	if len(h.relay.envs) != 1 {
		t.Fatalf("published %d envelopes", len(h.relay.envs))
	}
}

func TestFailureTask_NoPayloadStillSignalsAndResponds(t *testing.T) {
	h := newHarness(t)
	failure := domain.StepFailure{
		ErrorName:  ProcessingError,
		ErrorCause: "plain text",
		Execution:  &domain.TaskExecution{TaskToken: "tok-failure"},
	}
	if err := h.svc.FailureTask().Process(context.Background(), failure); err == nil {
		t.Fatalf("Process() err=nil, want missing payload")
	}
	if sig := h.signaler.last(t); sig.succeeded || sig.token != "tok-failure" {
		t.Fatalf("signal = %+v", sig)
	}
	if len(h.relay.envs) != 1 {
		t.Fatalf("published %d envelopes", len(h.relay.envs))
	}
}

func TestReferenceKey(t *testing.T) {
	kind, id, ok := referenceKey("https://contexts.s3.amazonaws.com/df_data_profile/a1?X-Amz-Signature=x")
	if !ok || kind != domain.TaskDataProfile || id != "a1" {
		t.Fatalf("referenceKey() = %s, %s, %v", kind, id, ok)
	}
	for _, ref := range []string{"", "https://h/a1", "https://h/unknown_kind/a1"} {
		if _, _, ok := referenceKey(ref); ok {
			t.Fatalf("referenceKey(%q) ok", ref)
		}
	}
}

func TestExecutionName(t *testing.T) {
	hub := "00000000-0000-4000-8000-00000000aaaa"
	first := executionName("a1", hub)
	if first != executionName("a1", hub) {
		t.Fatalf("executionName() not stable")
	}
	if !strings.HasPrefix(first, "a1-") || len(first) != len("a1-")+12 {
		t.Fatalf("executionName() = %q", first)
	}
	if first == executionName("a1", "00000000-0000-4000-8000-00000000bbbb") {
		t.Fatalf("a new hub execution reused the name %q", first)
	}
	if got := executionName("a1", ""); got != "a1" {
		t.Fatalf("executionName() without hub execution = %q", got)
	}
	long := executionName(strings.Repeat("x", 100)+"/y", hub)
	if len(long) > 80 || strings.Contains(long, "/") {
		t.Fatalf("executionName() = %q", long)
	}
}

func TestRequestProcessor_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	task := sampleTask("")
	task.Execution = nil
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(task)
	}))
	defer srv.Close()
	h.svc.fetcher = taskstore.NewFetcher(srv.Client())

	detail, _ := json.Marshal(domain.CreateRequest{ID: "a1", FullPayloadSignedURL: srv.URL + "/df_data_asset/a1"})
	ev := events.CloudWatchEvent{Source: relay.HubDataAssetSource, DetailType: relay.HubCreateRequestDetailType, Detail: detail}
	p := h.svc.RequestProcessor()
	for i := 0; i < 2; i++ {
		if err := p.Complete(context.Background(), ev); err != nil {
			t.Fatalf("Complete() #%d err=%v", i, err)
		}
	}
	if len(h.sfn.started) != 1 {
		t.Fatalf("started %d executions, want 1", len(h.sfn.started))
	}
}

func TestCrawler_CompletionRecordsCrawlStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := sampleTask("tok")
	if err := (&CrawlerTask{s: h.svc}).Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	started := time.Date(2024, 5, 1, 11, 58, 0, 0, time.UTC)
	h.glue.crawlStarted = &started
	ev := crawlerEvent(t, map[string]any{"crawlerName": CrawlerName(task.DataAsset), "state": "Succeeded", "completionDate": "2024-05-01T11:59:30Z"})
	if err := (&CrawlerCompletion{s: h.svc}).Complete(ctx, ev); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	snap, err := h.tasks.Get(ctx, domain.TaskGlueCrawler, "a1")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	run := snap.Task.DataAsset.Execution.CrawlerRun
	if run == nil || run.StartTime == nil || !run.StartTime.Equal(started) {
		t.Fatalf("crawlerRun = %+v", run)
	}
	if run.StopTime == nil || !run.StopTime.Equal(time.Date(2024, 5, 1, 11, 59, 30, 0, time.UTC)) {
		t.Fatalf("stopTime = %v", run.StopTime)
	}
}
