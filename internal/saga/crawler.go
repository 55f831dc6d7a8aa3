package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// CrawlerTask catalogs the dataset (or the recipe output, once a transform
// has run) into the spoke Glue database.
type CrawlerTask struct {
	s *Service
}

func (t *CrawlerTask) Kind() domain.TaskKind { return domain.TaskGlueCrawler }

func (t *CrawlerTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *CrawlerTask) run(ctx context.Context, task domain.DataAssetTask) error {
	a := task.DataAsset
	name := CrawlerName(a)
	targets, err := t.targets(a)
	if err != nil {
		return err
	}
	runID := t.s.newRunID()
	tags := correlation.Build(task).With(correlation.KeyLineageRunID, runID)

	var policy *gluetypes.SchemaChangePolicy
	if len(targets.CatalogTargets) > 0 {
		policy = &gluetypes.SchemaChangePolicy{DeleteBehavior: gluetypes.DeleteBehaviorLog}
	}

	_, err = t.s.glue.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(name)})
	switch {
	case err == nil:
		_, err := t.s.glue.UpdateCrawler(ctx, &glue.UpdateCrawlerInput{
			Name:               aws.String(name),
			Role:               aws.String(a.Workflow.RoleArn),
			DatabaseName:       aws.String(t.s.cfg.GlueDatabase),
			Targets:            targets,
			TablePrefix:        aws.String(tablePrefix(a)),
			SchemaChangePolicy: policy,
		})
		if err != nil {
			return fmt.Errorf("update crawler %s: %w", name, err)
		}
		arn := correlation.CrawlerArn(t.s.cfg.Region, t.s.cfg.AccountID, name)
		if _, err := t.s.glue.TagResource(ctx, &glue.TagResourceInput{ResourceArn: aws.String(arn), TagsToAdd: tags}); err != nil {
			return fmt.Errorf("tag crawler %s: %w", name, err)
		}
	case isGlueNotFound(err):
		_, err := t.s.glue.CreateCrawler(ctx, &glue.CreateCrawlerInput{
			Name:               aws.String(name),
			Role:               aws.String(a.Workflow.RoleArn),
			DatabaseName:       aws.String(t.s.cfg.GlueDatabase),
			Targets:            targets,
			TablePrefix:        aws.String(tablePrefix(a)),
			SchemaChangePolicy: policy,
			LakeFormationConfiguration: &gluetypes.LakeFormationConfiguration{
				UseLakeFormationCredentials: aws.Bool(false),
			},
			Tags: tags,
		})
		if err != nil {
			return fmt.Errorf("create crawler %s: %w", name, err)
		}
	default:
		return fmt.Errorf("get crawler %s: %w", name, err)
	}

	start := func(ctx context.Context) (string, error) {
		if _, err := t.s.glue.StartCrawler(ctx, &glue.StartCrawlerInput{Name: aws.String(name)}); err != nil {
			return "", fmt.Errorf("start crawler %s: %w", name, err)
		}
		return runID, nil
	}
	return t.s.launch(ctx, t.Kind(), task, start, func(l *domain.Lineage, ev *openlineage.RunEvent) {
		l.GlueCrawler = ev
	})
}

// targets crawls the recipe output when a transform ran, else the source.
func (t *CrawlerTask) targets(a domain.DataAsset) (*gluetypes.CrawlerTargets, error) {
	if a.Execution != nil && a.Execution.RecipeJob != nil {
		path := a.Execution.RecipeJob.OutputPath
		if path == "" {
			path = t.s.cfg.Jobs.URI(t.s.cfg.Jobs.Key(a, stageRecipe))
		}
		return &gluetypes.CrawlerTargets{S3Targets: []gluetypes.S3Target{{Path: aws.String(path)}}}, nil
	}
	conn := a.Workflow.Dataset.Connection
	switch {
	case conn.DataLake != nil:
		return &gluetypes.CrawlerTargets{S3Targets: []gluetypes.S3Target{{Path: aws.String(conn.DataLake.S3.Path)}}}, nil
	case conn.Glue != nil:
		return &gluetypes.CrawlerTargets{CatalogTargets: []gluetypes.CatalogTarget{{
			DatabaseName: aws.String(conn.Glue.DatabaseName),
			Tables:       []string{conn.Glue.TableName},
		}}}, nil
	case conn.Redshift != nil:
		return &gluetypes.CrawlerTargets{JdbcTargets: []gluetypes.JdbcTarget{{
			ConnectionName: aws.String(ConnectionName(a)),
			Path:           aws.String(conn.Redshift.Path),
		}}}, nil
	default:
		return nil, fmt.Errorf("no crawler target for connection type %q", conn.Type())
	}
}

// CrawlerStateChange is the detail of a Glue crawler state change event.
type CrawlerStateChange struct {
	CrawlerName       string `json:"crawlerName"`
	State             string `json:"state"`
	Message           string `json:"message"`
	ErrorMessage      string `json:"errorMessage"`
	CompletionDate    string `json:"completionDate"`
	TablesCreated     Count  `json:"tablesCreated"`
	TablesUpdated     Count  `json:"tablesUpdated"`
	TablesDeleted     Count  `json:"tablesDeleted"`
	PartitionsCreated Count  `json:"partitionsCreated"`
	PartitionsUpdated Count  `json:"partitionsUpdated"`
	PartitionsDeleted Count  `json:"partitionsDeleted"`
}

// Delta reports whether the crawl changed the catalog.
func (d CrawlerStateChange) Delta() bool {
	return d.TablesCreated > 0 || d.TablesUpdated > 0 || d.TablesDeleted > 0 ||
		d.PartitionsCreated > 0 || d.PartitionsUpdated > 0 || d.PartitionsDeleted > 0
}

type CrawlerCompletion struct {
	s *Service
}

func (c *CrawlerCompletion) Matches(source, detailType string) bool {
	return source == GlueSource && detailType == CrawlerStateChangeDetailType
}

func (c *CrawlerCompletion) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	var d CrawlerStateChange
	if err := decodeDetail(ev, &d); err != nil {
		return err
	}
	var succeeded bool
	switch d.State {
	case "Succeeded":
		succeeded = true
	case "Failed":
	default:
		c.s.logger.Debug("ignoring crawler state", "job", d.CrawlerName, "state", d.State)
		return nil
	}

	arn := correlation.CrawlerArn(ev.Region, ev.AccountID, d.CrawlerName)
	out, err := c.s.glue.GetTags(ctx, &glue.GetTagsInput{ResourceArn: aws.String(arn)})
	if err != nil {
		return fmt.Errorf("get crawler tags %s: %w", d.CrawlerName, err)
	}
	key, err := correlation.ResolveKey(out.Tags)
	if err != nil {
		return fmt.Errorf("crawler %s: %w", d.CrawlerName, err)
	}

	delta := succeeded && d.Delta()
	crawl, crawlErr := c.s.lastCrawl(ctx, d.CrawlerName)
	var table string
	var tableErr error
	if delta && d.TablesCreated > 0 {
		table, tableErr = addedTable(crawl)
		if crawlErr != nil {
			tableErr = crawlErr
		}
	} else if crawlErr != nil {
		c.s.logger.Warn("list crawls failed", "job", d.CrawlerName, "error", crawlErr)
	}
	var started *time.Time
	if crawl != nil {
		started = timePtr(crawl.StartTime)
	}
	message := d.Message
	if !succeeded && d.ErrorMessage != "" {
		message = d.ErrorMessage
	}
	now := c.s.now().UTC()
	stop := parseTime(d.CompletionDate, now)

	return c.s.complete(ctx, outcome{
		kind:      domain.TaskGlueCrawler,
		key:       key,
		succeeded: succeeded,
		errorName: "CrawlerFailed",
		message:   message,
		merge: func(t *domain.DataAssetTask) error {
			if tableErr != nil {
				return tableErr
			}
			t.DataAsset.GlueDeltaDetected = delta
			exec := t.DataAsset.EnsureExecution()
			if table != "" {
				exec.GlueTableName = table
				exec.GlueDatabaseName = c.s.cfg.GlueDatabase
			}
			exec.CrawlerRun = &domain.DataAssetJob{
				ID:        d.CrawlerName,
				RunID:     out.Tags[correlation.KeyLineageRunID],
				StartTime: started,
				StopTime:  &stop,
				Status:    d.State,
				Message:   message,
			}
			output := exec.GlueTableName
			return c.s.closeLineage(&t.DataAsset.Lineage.GlueCrawler, succeeded, message, now, func(b *openlineage.Builder) {
				if output != "" {
					b.SetDatasetOutput(openlineage.DatasetOutput{
						Name:    output,
						Storage: &openlineage.StorageInput{StorageLayer: string(domain.ConnectionGlue)},
					})
				}
			})
		},
		lineage: func(l *domain.Lineage) *openlineage.RunEvent { return l.GlueCrawler },
	})
}

// lastCrawl returns the crawler's most recent crawl, or nil when it has none.
func (s *Service) lastCrawl(ctx context.Context, crawlerName string) (*gluetypes.CrawlerHistory, error) {
	out, err := s.glue.ListCrawls(ctx, &glue.ListCrawlsInput{CrawlerName: aws.String(crawlerName), MaxResults: aws.Int32(1)})
	if err != nil {
		return nil, fmt.Errorf("list crawls %s: %w", crawlerName, err)
	}
	if len(out.Crawls) == 0 {
		return nil, nil
	}
	return &out.Crawls[0], nil
}

// addedTable reads the name of the first table a crawl added. The summary
// nests the per-action details as JSON strings.
func addedTable(crawl *gluetypes.CrawlerHistory) (string, error) {
	if crawl == nil || aws.ToString(crawl.Summary) == "" {
		return "", nil
	}
	var summary map[string]map[string]json.RawMessage
	if err := json.Unmarshal([]byte(aws.ToString(crawl.Summary)), &summary); err != nil {
		return "", fmt.Errorf("decode crawl summary: %w", err)
	}
	raw, ok := summary["TABLE"]["ADD"]
	if !ok {
		return "", nil
	}
	if strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return "", fmt.Errorf("decode crawl summary: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	var added struct {
		Details struct {
			Names []string `json:"names"`
		} `json:"Details"`
	}
	if err := json.Unmarshal(raw, &added); err != nil {
		return "", fmt.Errorf("decode crawl summary: %w", err)
	}
	if len(added.Details.Names) == 0 {
		return "", nil
	}
	return added.Details.Names[0], nil
}
