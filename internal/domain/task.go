package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

type DataAssetTask struct {
	DataAsset DataAsset      `json:"dataAsset"`
	Execution *TaskExecution `json:"execution,omitempty"`
}

// TaskExecution identifies the coordinator step that is waiting on this task.
type TaskExecution struct {
	ExecutionID        string `json:"executionId"`
	ExecutionStartTime string `json:"executionStartTime,omitempty"`
	StateMachineArn    string `json:"stateMachineArn,omitempty"`
	TaskToken          string `json:"taskToken,omitempty"`
}

type DataAsset struct {
	ID        string     `json:"id"`
	IDCUserID string     `json:"idcUserId,omitempty"`
	Catalog   Catalog    `json:"catalog"`
	Workflow  Workflow   `json:"workflow"`
	Execution *Execution `json:"execution,omitempty"`
	Lineage   Lineage    `json:"lineage"`

	// GlueDeltaDetected is set by the crawler completion when the crawl
	// created, updated or deleted any table or partition.
	GlueDeltaDetected bool `json:"glueDeltaDetected"`
}

type Catalog struct {
	DomainID      string `json:"domainId"`
	DomainName    string `json:"domainName"`
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId,omitempty"`
	Region        string `json:"region,omitempty"`
	AssetName     string `json:"assetName"`
	AssetID       string `json:"assetId,omitempty"`
	AccountID     string `json:"accountId,omitempty"`
	AutoPublish   bool   `json:"autoPublish"`
	Revision      string `json:"revision,omitempty"`
}

type Workflow struct {
	Name        string            `json:"name"`
	RoleArn     string            `json:"roleArn"`
	Dataset     Dataset           `json:"dataset"`
	Transforms  *Transforms       `json:"transforms,omitempty"`
	DataQuality *DataQuality      `json:"dataQuality,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type Dataset struct {
	Name       string     `json:"name"`
	Format     string     `json:"format,omitempty"`
	Connection Connection `json:"connection"`
}

type ConnectionType string

const (
	ConnectionDataLake ConnectionType = "dataLake"
	ConnectionGlue     ConnectionType = "glue"
	ConnectionRedshift ConnectionType = "redshift"
)

// Connection holds exactly one of its members.
type Connection struct {
	DataLake *DataLakeConnection `json:"dataLake,omitempty"`
	Glue     *GlueConnection     `json:"glue,omitempty"`
	Redshift *RedshiftConnection `json:"redshift,omitempty"`
}

type DataLakeConnection struct {
	S3 S3Location `json:"s3"`
}

type S3Location struct {
	Path   string `json:"path"`
	Region string `json:"region,omitempty"`
}

type GlueConnection struct {
	AccountID    string `json:"accountId"`
	Region       string `json:"region"`
	DatabaseName string `json:"databaseName"`
	TableName    string `json:"tableName"`
}

type RedshiftConnection struct {
	JDBCConnectionURL   string   `json:"jdbcConnectionUrl"`
	SecretArn           string   `json:"secretArn,omitempty"`
	Username            string   `json:"username,omitempty"`
	Password            string   `json:"password,omitempty"`
	SubnetID            string   `json:"subnetId,omitempty"`
	SecurityGroupIDList []string `json:"securityGroupIdList,omitempty"`
	AvailabilityZone    string   `json:"availabilityZone,omitempty"`
	Path                string   `json:"path"`
	DatabaseTableName   string   `json:"databaseTableName,omitempty"`
}

func (c Connection) Type() ConnectionType {
	switch {
	case c.DataLake != nil:
		return ConnectionDataLake
	case c.Glue != nil:
		return ConnectionGlue
	case c.Redshift != nil:
		return ConnectionRedshift
	default:
		return ""
	}
}

type Transforms struct {
	Recipe *Recipe `json:"recipe,omitempty"`
}

type Recipe struct {
	Steps []RecipeStep `json:"steps"`
}

type RecipeStep struct {
	Action               RecipeAction      `json:"action"`
	ConditionExpressions []RecipeCondition `json:"conditionExpressions,omitempty"`
}

type RecipeAction struct {
	Operation  string            `json:"operation"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type RecipeCondition struct {
	Condition    string `json:"condition"`
	Value        string `json:"value,omitempty"`
	TargetColumn string `json:"targetColumn"`
}

type DataQuality struct {
	Ruleset string `json:"ruleset"`
}

type Execution struct {
	HubExecutionID     string `json:"hubExecutionId,omitempty"`
	HubStartTime       string `json:"hubStartTime,omitempty"`
	HubStateMachineArn string `json:"hubStateMachineArn,omitempty"`
	HubTaskToken       string `json:"hubTaskToken,omitempty"`
	SpokeExecutionID   string `json:"spokeExecutionId,omitempty"`

	DataProfileJob        *DataAssetJob `json:"dataProfileJob,omitempty"`
	DataQualityProfileJob *DataAssetJob `json:"dataQualityProfileJob,omitempty"`
	RecipeJob             *DataAssetJob `json:"recipeJob,omitempty"`
	ConnectionCreation    *DataAssetJob `json:"connectionCreation,omitempty"`
	CrawlerRun            *DataAssetJob `json:"crawlerRun,omitempty"`

	GlueTableName    string `json:"glueTableName,omitempty"`
	GlueDatabaseName string `json:"glueDatabaseName,omitempty"`
}

// DataAssetJob records one external job run. It stays unset through dispatch
// and is filled by the completion processor for that job.
type DataAssetJob struct {
	ID         string     `json:"id,omitempty"`
	RunID      string     `json:"runId,omitempty"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	StopTime   *time.Time `json:"stopTime,omitempty"`
	Status     string     `json:"status,omitempty"`
	Message    string     `json:"message,omitempty"`
	OutputPath string     `json:"outputPath,omitempty"`
}

// Lineage holds the last event emitted per stage. A completion seeds its
// COMPLETE event from the START stored here.
type Lineage struct {
	Root               *openlineage.RunEvent `json:"root,omitempty"`
	DataProfile        *openlineage.RunEvent `json:"dataProfile,omitempty"`
	DataQualityProfile *openlineage.RunEvent `json:"dataQualityProfile,omitempty"`
	GlueCrawler        *openlineage.RunEvent `json:"glueCrawler,omitempty"`
	Recipe             *openlineage.RunEvent `json:"recipe,omitempty"`
}

// ContextID is the task context store id: the catalog asset id once assigned,
// otherwise the saga id.
func (a DataAsset) ContextID() string {
	if id := strings.TrimSpace(a.Catalog.AssetID); id != "" {
		return id
	}
	return a.ID
}

// EnsureExecution returns the execution block, creating it on first use.
func (a *DataAsset) EnsureExecution() *Execution {
	if a.Execution == nil {
		a.Execution = &Execution{}
	}
	return a.Execution
}

func (a DataAsset) Validate() error {
	var errs []error
	if strings.TrimSpace(a.ID) == "" && strings.TrimSpace(a.Catalog.AssetID) == "" {
		errs = append(errs, errors.New("id or catalog.assetId is required"))
	}
	if strings.TrimSpace(a.Catalog.DomainID) == "" {
		errs = append(errs, errors.New("catalog.domainId is required"))
	}
	if strings.TrimSpace(a.Catalog.AssetName) == "" {
		errs = append(errs, errors.New("catalog.assetName is required"))
	}
	if strings.TrimSpace(a.Workflow.Name) == "" {
		errs = append(errs, errors.New("workflow.name is required"))
	}
	if a.Workflow.Dataset.Connection.Type() == "" {
		errs = append(errs, errors.New("workflow.dataset.connection must set one of dataLake, glue, redshift"))
	}
	return errors.Join(errs...)
}

// StepFailure is the coordinator's catch payload for a failed step.
// Input is the failed step's own input when the coordinator keeps it
// alongside the error; it is used when the cause carries no signed reference.
type StepFailure struct {
	ErrorName  string         `json:"errorName"`
	ErrorCause string         `json:"errorCause"`
	Execution  *TaskExecution `json:"execution,omitempty"`
	Input      *DataAssetTask `json:"input,omitempty"`
}

// FailureCause is the JSON carried in a failure signal's cause.
type FailureCause struct {
	SignedURL string `json:"signedUrl,omitempty"`
	Error     string `json:"error"`
}

type WorkflowState string

const (
	WorkflowSucceeded WorkflowState = "SUCCEEDED"
	WorkflowFailed    WorkflowState = "FAILED"
)

// CreateResponse is the spoke's terminal answer to a hub create request.
type CreateResponse struct {
	ID                          string        `json:"id"`
	Catalog                     Catalog       `json:"catalog"`
	Workflow                    Workflow      `json:"workflow"`
	WorkflowState               WorkflowState `json:"workflowState"`
	HubTaskToken                string        `json:"hubTaskToken,omitempty"`
	FullPayloadSignedURL        string        `json:"fullPayloadSignedUrl"`
	DataProfileSignedURL        string        `json:"dataProfileSignedUrl,omitempty"`
	DataQualityProfileSignedURL string        `json:"dataQualityProfileSignedUrl,omitempty"`
}

// CreateRequest is the hub's pointer to a saga it wants a spoke to run.
type CreateRequest struct {
	ID                   string   `json:"id"`
	Catalog              Catalog  `json:"catalog"`
	Workflow             Workflow `json:"workflow"`
	FullPayloadSignedURL string   `json:"fullPayloadSignedUrl"`
}
