package correlation

import (
	"errors"
	"testing"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

func TestResolveKey(t *testing.T) {
	cases := []struct {
		name    string
		tags    map[string]string
		want    string
		wantErr error
	}{
		{name: "asset id wins", tags: map[string]string{KeyAssetID: "a1", KeyID: "s1"}, want: "a1"},
		{name: "fallback to id", tags: map[string]string{KeyID: "s1"}, want: "s1"},
		{name: "empty asset id falls back", tags: map[string]string{KeyAssetID: " ", KeyID: "s1"}, want: "s1"},
		{name: "neither", tags: map[string]string{KeyDomainID: "d"}, wantErr: ErrUnresolvable},
		{name: "nil", tags: nil, wantErr: ErrUnresolvable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveKey(tc.tags)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ResolveKey() err=%v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveKey() err=%v", err)
			}
			if got != tc.want {
				t.Fatalf("ResolveKey()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuild_RoundTripsToContextID(t *testing.T) {
	task := domain.DataAssetTask{
		DataAsset: domain.DataAsset{
			ID: "saga-1",
			Catalog: domain.Catalog{
				DomainID:  "dom",
				ProjectID: "proj",
				AssetName: "sales",
			},
			Workflow: domain.Workflow{Tags: map[string]string{"team": "finance", KeyID: "spoofed"}},
		},
		Execution: &domain.TaskExecution{ExecutionID: "arn:aws:states:exec"},
	}
	tags := Build(task)
	if _, ok := tags[KeyAssetID]; ok {
		t.Fatalf("empty assetId should be omitted: %v", tags)
	}
	if tags["team"] != "finance" || tags[KeyExecutionArn] != "arn:aws:states:exec" {
		t.Fatalf("tags=%v", tags)
	}
	got, err := ResolveKey(tags)
	if err != nil {
		t.Fatalf("ResolveKey() err=%v", err)
	}
	if got != task.DataAsset.ContextID() {
		t.Fatalf("ResolveKey()=%q, want %q", got, task.DataAsset.ContextID())
	}

	task.DataAsset.Catalog.AssetID = "asset-9"
	got, _ = ResolveKey(Build(task))
	if got != "asset-9" {
		t.Fatalf("ResolveKey()=%q, want asset-9", got)
	}
}

func TestWith_DoesNotMutate(t *testing.T) {
	base := Tags{KeyID: "s1"}
	next := base.With(KeyLineageRunID, "run-1")
	if _, ok := base[KeyLineageRunID]; ok {
		t.Fatalf("With mutated receiver")
	}
	if next[KeyLineageRunID] != "run-1" || next[KeyID] != "s1" {
		t.Fatalf("With()=%v", next)
	}
}

func TestArns(t *testing.T) {
	if got := CrawlerArn("us-west-2", "111", "wf-a1-crawler"); got != "arn:aws:glue:us-west-2:111:crawler/wf-a1-crawler" {
		t.Fatalf("CrawlerArn()=%q", got)
	}
	if got := RulesetArn("us-west-2", "111", "df-r"); got != "arn:aws:glue:us-west-2:111:dataQualityRuleset/df-r" {
		t.Fatalf("RulesetArn()=%q", got)
	}
}
