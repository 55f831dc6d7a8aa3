package openlineage

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunEventSchemaURL = "https://openlineage.io/spec/1-0-5/OpenLineage.json#/definitions/RunEvent"

	documentationJobFacetURL      = "https://github.com/OpenLineage/OpenLineage/blob/main/spec/facets/DocumentationJobFacet.json"
	ownershipJobFacetURL          = "https://openlineage.io/spec/facets/1-0-0/OwnershipJobFacet.json"
	sourceCodeLocationJobFacetURL = "https://github.com/OpenLineage/OpenLineage/blob/main/spec/facets/SourceCodeLocationJobFacet.json"
	nominalTimeRunFacetURL        = "https://openlineage.io/spec/facets/1-0-0/NominalTimeRunFacet.json"
	parentRunFacetURL             = "https://openlineage.io/spec/facets/1-0-0/ParentRunFacet.json"
	errorMessageRunFacetURL       = "https://openlineage.io/spec/facets/1-0-0/ErrorMessageRunFacet.json"
	lifecycleStateChangeFacetURL  = "https://openlineage.io/spec/facets/1-0-0/LifecycleStateChangeDatasetFacet.json"
	ownershipDatasetFacetURL      = "https://openlineage.io/spec/facets/1-0-0/OwnershipDatasetFacet.json"
	storageDatasetFacetURL        = "https://openlineage.io/spec/facets/1-0-0/StorageDatasetFacet.json"
	datasourceDatasetFacetURL     = "https://openlineage.io/spec/facets/1-0-0/DatasourceDatasetFacet.json"
	datasetVersionFacetURL        = "https://openlineage.io/spec/facets/1-0-0/DatasetVersionDatasetFacet.json"
	columnLineageFacetURL         = "https://openlineage.io/spec/facets/1-0-1/ColumnLineageDatasetFacet.json"
	dataQualityMetricsFacetURL    = "https://openlineage.io/spec/facets/1-0-0/DataQualityMetricsInputDatasetFacet.json"
	dataQualityAssertionsFacetURL = "https://openlineage.io/spec/facets/1-0-0/DataQualityAssertionsDatasetFacet.json"
)

// TimeLayout is the millisecond precision UTC layout used for eventTime and nominal times.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type EventType string

const (
	EventTypeStart    EventType = "START"
	EventTypeRunning  EventType = "RUNNING"
	EventTypeComplete EventType = "COMPLETE"
	EventTypeAbort    EventType = "ABORT"
	EventTypeFail     EventType = "FAIL"
	EventTypeOther    EventType = "OTHER"
)

type RunEvent struct {
	EventType EventType       `json:"eventType,omitempty"`
	EventTime string          `json:"eventTime"`
	Producer  string          `json:"producer"`
	SchemaURL string          `json:"schemaURL"`
	Run       Run             `json:"run"`
	Job       Job             `json:"job"`
	Inputs    []InputDataset  `json:"inputs"`
	Outputs   []OutputDataset `json:"outputs"`
}

// Clone returns a deep copy so a stored event never aliases a builder's working copy.
func (e RunEvent) Clone() RunEvent {
	raw, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("openlineage: marshal run event: %v", err))
	}
	var out RunEvent
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("openlineage: unmarshal run event: %v", err))
	}
	return out
}

type BaseFacet struct {
	Producer  string `json:"_producer"`
	SchemaURL string `json:"_schemaURL"`
}

type Run struct {
	RunID  string    `json:"runId"`
	Facets RunFacets `json:"facets"`
}

type RunFacets struct {
	NominalTime  *NominalTimeRunFacet  `json:"nominalTime,omitempty"`
	Parent       *ParentRunFacet       `json:"parent,omitempty"`
	ErrorMessage *ErrorMessageRunFacet `json:"errorMessage,omitempty"`
}

type NominalTimeRunFacet struct {
	BaseFacet
	NominalStartTime string `json:"nominalStartTime"`
	NominalEndTime   string `json:"nominalEndTime,omitempty"`
}

type ParentRunFacet struct {
	BaseFacet
	Run ParentRun `json:"run"`
	Job ParentJob `json:"job"`
}

type ParentRun struct {
	RunID string `json:"runId"`
}

type ParentJob struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type ErrorMessageRunFacet struct {
	BaseFacet
	Message             string `json:"message"`
	ProgrammingLanguage string `json:"programmingLanguage"`
	StackTrace          string `json:"stackTrace,omitempty"`
}

type Job struct {
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Facets    JobFacets `json:"facets"`
}

type JobFacets struct {
	Documentation      *DocumentationJobFacet      `json:"documentation,omitempty"`
	Ownership          *OwnershipJobFacet          `json:"ownership,omitempty"`
	SourceCodeLocation *SourceCodeLocationJobFacet `json:"sourceCodeLocation,omitempty"`
}

type DocumentationJobFacet struct {
	BaseFacet
	Description string `json:"description"`
}

type Owner struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type OwnershipJobFacet struct {
	BaseFacet
	Owners []Owner `json:"owners"`
}

type SourceCodeLocationJobFacet struct {
	BaseFacet
	Type    string `json:"type"`
	URL     string `json:"url"`
	RepoURL string `json:"repoUrl,omitempty"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type InputDataset struct {
	Namespace   string             `json:"namespace"`
	Name        string             `json:"name"`
	Facets      DatasetFacets      `json:"facets"`
	InputFacets InputDatasetFacets `json:"inputFacets"`
}

type OutputDataset struct {
	Namespace    string              `json:"namespace"`
	Name         string              `json:"name"`
	Facets       DatasetFacets       `json:"facets"`
	OutputFacets OutputDatasetFacets `json:"outputFacets"`
}

type DatasetFacets struct {
	ColumnLineage         *ColumnLineageDatasetFacet         `json:"columnLineage,omitempty"`
	DataSource            *DatasourceDatasetFacet            `json:"dataSource,omitempty"`
	DataQualityAssertions *DataQualityAssertionsDatasetFacet `json:"dataQualityAssertions,omitempty"`
	LifecycleStateChange  *LifecycleStateChangeDatasetFacet  `json:"lifecycleStateChange,omitempty"`
	Ownership             *OwnershipDatasetFacet             `json:"ownership,omitempty"`
	Storage               *StorageDatasetFacet               `json:"storage,omitempty"`
	Version               *DatasetVersionDatasetFacet        `json:"version,omitempty"`
}

type InputDatasetFacets struct {
	DataQualityMetrics *DataQualityMetricsInputDatasetFacet `json:"dataQualityMetrics,omitempty"`
}

type OutputDatasetFacets struct {
	OutputStatistics *OutputStatisticsOutputDatasetFacet `json:"outputStatistics,omitempty"`
}

type ColumnLineageDatasetFacet struct {
	BaseFacet
	Fields map[string]ColumnLineageField `json:"fields"`
}

type ColumnLineageField struct {
	InputFields               []InputField `json:"inputFields"`
	TransformationDescription string       `json:"transformationDescription,omitempty"`
	TransformationType        string       `json:"transformationType,omitempty"`
}

type InputField struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Field     string `json:"field"`
}

type DatasourceDatasetFacet struct {
	BaseFacet
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type Assertion struct {
	Assertion string `json:"assertion"`
	Success   bool   `json:"success"`
	Column    string `json:"column,omitempty"`
}

type DataQualityAssertionsDatasetFacet struct {
	BaseFacet
	Assertions []Assertion `json:"assertions"`
}

type LifecycleStateChangeDatasetFacet struct {
	BaseFacet
	LifecycleStateChange string `json:"lifecycleStateChange"`
}

type OwnershipDatasetFacet struct {
	BaseFacet
	Owners []Owner `json:"owners"`
}

type StorageDatasetFacet struct {
	BaseFacet
	StorageLayer string `json:"storageLayer"`
	FileFormat   string `json:"fileFormat,omitempty"`
}

type DatasetVersionDatasetFacet struct {
	BaseFacet
	DatasetVersion string `json:"datasetVersion"`
}

type ColumnMetric struct {
	NullCount     *int64             `json:"nullCount,omitempty"`
	DistinctCount *int64             `json:"distinctCount,omitempty"`
	Sum           *float64           `json:"sum,omitempty"`
	Count         *int64             `json:"count,omitempty"`
	Min           *float64           `json:"min,omitempty"`
	Max           *float64           `json:"max,omitempty"`
	Quantiles     map[string]float64 `json:"quantiles"`
}

type DataQualityMetricsInputDatasetFacet struct {
	BaseFacet
	RowCount      *int64                  `json:"rowCount,omitempty"`
	Bytes         *int64                  `json:"bytes,omitempty"`
	ColumnMetrics map[string]ColumnMetric `json:"columnMetrics"`
}

type OutputStatisticsOutputDatasetFacet struct {
	BaseFacet
	RowCount int64  `json:"rowCount"`
	Size     *int64 `json:"size,omitempty"`
}
