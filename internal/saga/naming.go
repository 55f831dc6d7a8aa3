package saga

import (
	"fmt"
	"path"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

// External resource names are derived from the workflow name and the context
// id only, so a retried dispatch lands on the resource the first attempt made.

func ConnectionName(a domain.DataAsset) string {
	return fmt.Sprintf("%s-%s-connection", a.Workflow.Name, a.ContextID())
}

func CrawlerName(a domain.DataAsset) string {
	return fmt.Sprintf("%s-%s-crawler", a.Workflow.Name, a.ContextID())
}

func ProfileDatasetName(a domain.DataAsset) string {
	return fmt.Sprintf("%s-profileDataSet", a.ContextID())
}

func ProfileJobName(a domain.DataAsset) string {
	return fmt.Sprintf("%s-%s-dataProfile", a.Workflow.Name, a.ContextID())
}

func RulesetName(a domain.DataAsset) string {
	return fmt.Sprintf("df-createDataQualityProfile-%s", a.ContextID())
}

func RecipeName(a domain.DataAsset) string {
	return fmt.Sprintf("df-%s", a.ContextID())
}

func RecipeDatasetName(a domain.DataAsset) string {
	return fmt.Sprintf("%s-recipeDataSet", a.ContextID())
}

func RecipeJobName(a domain.DataAsset) string {
	return fmt.Sprintf("%s-%s-transform", a.Workflow.Name, a.ContextID())
}

func tablePrefix(a domain.DataAsset) string {
	return fmt.Sprintf("df-%s-%s-", a.Catalog.AssetName, a.ContextID())
}

// Layout places job outputs in the jobs bucket under
// <prefix>/<domainId>/<projectId>/<id>/<stage>/.
type Layout struct {
	Bucket string
	Prefix string
}

const (
	stageProfile     = "dataProfile"
	stageProfileTemp = "dataProfileTemp"
	stageRecipe      = "recipe"
	stageQuality     = "dataQualityProfile"
)

func (l Layout) Key(a domain.DataAsset, stage string) string {
	return path.Join(strings.Trim(l.Prefix, "/"), a.Catalog.DomainID, a.Catalog.ProjectID, a.ContextID(), stage) + "/"
}

func (l Layout) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, key)
}
