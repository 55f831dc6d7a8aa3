// Package correlation defines the tag contract that lets a completion
// notification, which only names a job, find the saga state it belongs to.
package correlation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

// Tag keys attached to every dispatched external job.
const (
	KeyDomainID     = "domainId"
	KeyProjectID    = "projectId"
	KeyAssetName    = "assetName"
	KeyAssetID      = "assetId"
	KeyID           = "id"
	KeyExecutionArn = "executionArn"
	KeyLineageRunID = "LineageRunId"
)

var ErrUnresolvable = errors.New("correlation tags do not identify a task context")

type Tags map[string]string

// Build returns the tag set for a task. Workflow tags are included first so the
// correlation keys always win on collision. Empty values are omitted because
// Glue and DataBrew reject empty tag values.
func Build(task domain.DataAssetTask) Tags {
	asset := task.DataAsset
	out := Tags{}
	for k, v := range asset.Workflow.Tags {
		out.set(k, v)
	}
	out.set(KeyDomainID, asset.Catalog.DomainID)
	out.set(KeyProjectID, asset.Catalog.ProjectID)
	out.set(KeyAssetName, asset.Catalog.AssetName)
	out.set(KeyAssetID, asset.Catalog.AssetID)
	out.set(KeyID, asset.ID)
	if task.Execution != nil {
		out.set(KeyExecutionArn, task.Execution.ExecutionID)
	}
	return out
}

// With returns a copy of t with key set to value.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out.set(key, value)
	return out
}

func (t Tags) set(key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		t[key] = value
	}
}

// ResolveKey returns the task context id: assetId when present, else id.
func ResolveKey(tags map[string]string) (string, error) {
	if v := strings.TrimSpace(tags[KeyAssetID]); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(tags[KeyID]); v != "" {
		return v, nil
	}
	return "", ErrUnresolvable
}

func CrawlerArn(region, account, name string) string {
	return fmt.Sprintf("arn:aws:glue:%s:%s:crawler/%s", region, account, name)
}

func RulesetArn(region, account, name string) string {
	return fmt.Sprintf("arn:aws:glue:%s:%s:dataQualityRuleset/%s", region, account, name)
}

func ConnectionArn(region, account, name string) string {
	return fmt.Sprintf("arn:aws:glue:%s:%s:connection/%s", region, account, name)
}
