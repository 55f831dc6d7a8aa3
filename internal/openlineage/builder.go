package openlineage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform is the namespace qualifier shared by every job this module emits.
const Platform = "dm"

const applicationOwner = "application:dm.DataAssetModule"

var ErrOutOfOrder = errors.New("lineage builder call out of order")

type State string

const (
	StateEmpty          State = "empty"
	StateContextualized State = "contextualized"
	StateJobbed         State = "jobbed"
	StateStarted        State = "started"
	StateSeeded         State = "seeded"
	StateEnded          State = "ended"
	StateBuilt          State = "built"
)

// Builder assembles a RunEvent across the two halves of a job lifecycle.
//
// A START event is produced by SetContext, SetJob, SetStartJob, any number of
// SetDatasetInput calls and Build. The matching COMPLETE event is produced by
// seeding a builder with the stored START event (SetOpenLineageEvent), then
// SetEndJob, result setters and Build. Calls made in any other order are
// rejected; the first rejection is kept and returned by Build.
type Builder struct {
	state     State
	err       error
	producer  string
	namespace string
	event     RunEvent
}

func NewBuilder() *Builder {
	return &Builder{state: StateEmpty}
}

func (b *Builder) State() State {
	return b.state
}

func (b *Builder) Err() error {
	return b.err
}

// SetContext starts a fresh event for a domain. producer identifies the emitting workflow.
func (b *Builder) SetContext(domainID, domainName, producer string) *Builder {
	if !b.reset("SetContext") {
		return b
	}
	domainID = strings.TrimSpace(domainID)
	domainName = strings.TrimSpace(domainName)
	if domainID == "" || producer == "" {
		return b.fail(fmt.Errorf("SetContext: domain id and producer are required"))
	}
	b.producer = producer
	b.namespace = Namespace(domainName, domainID)
	b.event = RunEvent{
		Producer:  producer,
		SchemaURL: RunEventSchemaURL,
		Inputs:    []InputDataset{},
		Outputs:   []OutputDataset{},
	}
	b.state = StateContextualized
	return b
}

// SetOpenLineageEvent seeds the builder with a previously built event.
func (b *Builder) SetOpenLineageEvent(ev RunEvent) *Builder {
	if !b.reset("SetOpenLineageEvent") {
		return b
	}
	if ev.Producer == "" || ev.Job.Namespace == "" || ev.Job.Name == "" || ev.Run.RunID == "" {
		return b.fail(fmt.Errorf("SetOpenLineageEvent: seed event is missing producer, job or run id"))
	}
	b.event = ev.Clone()
	if b.event.Inputs == nil {
		b.event.Inputs = []InputDataset{}
	}
	if b.event.Outputs == nil {
		b.event.Outputs = []OutputDataset{}
	}
	b.producer = ev.Producer
	b.namespace = ev.Job.Namespace
	b.state = StateSeeded
	return b
}

type SourceCodeLocation struct {
	Producer string
	Type     string
	URL      string
	RepoURL  string
	Path     string
	Version  string
	Tag      string
	Branch   string
}

type JobInput struct {
	JobName            string
	AssetName          string
	Usernames          []string
	SourceCodeLocation *SourceCodeLocation
}

func (b *Builder) SetJob(in JobInput) *Builder {
	if !b.expect("SetJob", StateContextualized) {
		return b
	}
	if in.JobName == "" || in.AssetName == "" {
		return b.fail(fmt.Errorf("SetJob: job name and asset name are required"))
	}
	b.event.Job = Job{
		Namespace: b.namespace,
		Name:      JobName(in.JobName, in.AssetName),
		Facets: JobFacets{
			Documentation: &DocumentationJobFacet{
				BaseFacet:   b.facet(documentationJobFacetURL),
				Description: fmt.Sprintf("Catalogs the %s within the DataZone catalog for domain %s", in.AssetName, b.namespace),
			},
			Ownership: &OwnershipJobFacet{
				BaseFacet: b.facet(ownershipJobFacetURL),
				Owners:    owners(in.Usernames),
			},
		},
	}
	if loc := in.SourceCodeLocation; loc != nil {
		producer := loc.Producer
		if producer == "" {
			producer = b.producer
		}
		b.event.Job.Facets.SourceCodeLocation = &SourceCodeLocationJobFacet{
			BaseFacet: BaseFacet{Producer: producer, SchemaURL: sourceCodeLocationJobFacetURL},
			Type:      loc.Type,
			URL:       loc.URL,
			RepoURL:   loc.RepoURL,
			Path:      loc.Path,
			Version:   loc.Version,
			Tag:       loc.Tag,
			Branch:    loc.Branch,
		}
	}
	b.state = StateJobbed
	return b
}

// ParentInput links a run to the run that spawned it. Name is the parent's task kind.
type ParentInput struct {
	RunID     string
	Name      string
	AssetName string
}

type StartInput struct {
	ExecutionID string
	StartTime   time.Time
	Parent      *ParentInput
}

func (b *Builder) SetStartJob(in StartInput) *Builder {
	if !b.expect("SetStartJob", StateJobbed) {
		return b
	}
	if in.ExecutionID == "" || in.StartTime.IsZero() {
		return b.fail(fmt.Errorf("SetStartJob: execution id and start time are required"))
	}
	start := FormatTime(in.StartTime)
	b.event.EventType = EventTypeStart
	b.event.EventTime = start
	b.event.Run = Run{
		RunID: in.ExecutionID,
		Facets: RunFacets{
			NominalTime: &NominalTimeRunFacet{
				BaseFacet:        b.facet(nominalTimeRunFacetURL),
				NominalStartTime: start,
			},
		},
	}
	if p := in.Parent; p != nil {
		b.event.Run.Facets.Parent = &ParentRunFacet{
			BaseFacet: b.facet(parentRunFacetURL),
			Run:       ParentRun{RunID: p.RunID},
			Job:       ParentJob{Name: JobName(p.Name, p.AssetName), Namespace: b.namespace},
		}
	}
	b.state = StateStarted
	return b
}

type DatasetInputType string

const (
	// DatasetInputManaged references an asset already cataloged by the platform.
	DatasetInputManaged DatasetInputType = "DataManagement"
	// DatasetInputCustom describes a source outside the catalog by its storage.
	DatasetInputCustom DatasetInputType = "Custom"
)

type DatasetInput struct {
	Type           DatasetInputType
	AssetName      string
	AssetNamespace string
	DataSourceName string
	DataSourceURI  string
	StorageLayer   string
	FileFormat     string
}

func (b *Builder) SetDatasetInput(in DatasetInput) *Builder {
	if !b.expect("SetDatasetInput", StateStarted, StateSeeded) {
		return b
	}
	if in.AssetName == "" {
		return b.fail(fmt.Errorf("SetDatasetInput: asset name is required"))
	}
	ds := InputDataset{
		Namespace: in.AssetNamespace,
		Name:      in.AssetName,
	}
	if ds.Namespace == "" {
		ds.Namespace = b.namespace
	}
	if in.Type == DatasetInputCustom {
		if in.DataSourceName != "" || in.DataSourceURI != "" {
			ds.Facets.DataSource = &DatasourceDatasetFacet{
				BaseFacet: b.facet(datasourceDatasetFacetURL),
				Name:      in.DataSourceName,
				URI:       in.DataSourceURI,
			}
		}
		if in.StorageLayer != "" {
			ds.Facets.Storage = &StorageDatasetFacet{
				BaseFacet:    b.facet(storageDatasetFacetURL),
				StorageLayer: in.StorageLayer,
				FileFormat:   in.FileFormat,
			}
		}
	}
	b.event.Inputs = append(b.event.Inputs, ds)
	return b
}

type EndInput struct {
	EndTime   time.Time
	EventType EventType
}

func (b *Builder) SetEndJob(in EndInput) *Builder {
	if !b.expect("SetEndJob", StateSeeded) {
		return b
	}
	switch in.EventType {
	case EventTypeComplete, EventTypeFail, EventTypeAbort:
	default:
		return b.fail(fmt.Errorf("SetEndJob: unsupported event type %q", in.EventType))
	}
	if in.EndTime.IsZero() {
		return b.fail(fmt.Errorf("SetEndJob: end time is required"))
	}
	end := FormatTime(in.EndTime)
	b.event.EventType = in.EventType
	b.event.EventTime = end
	if b.event.Run.Facets.NominalTime == nil {
		b.event.Run.Facets.NominalTime = &NominalTimeRunFacet{BaseFacet: b.facet(nominalTimeRunFacetURL)}
	}
	b.event.Run.Facets.NominalTime.NominalEndTime = end
	b.state = StateEnded
	return b
}

// SetErrorMessage attaches a failure description to the run.
func (b *Builder) SetErrorMessage(message string) *Builder {
	if !b.expect("SetErrorMessage", StateEnded) {
		return b
	}
	b.event.Run.Facets.ErrorMessage = &ErrorMessageRunFacet{
		BaseFacet:           b.facet(errorMessageRunFacetURL),
		Message:             message,
		ProgrammingLanguage: "go",
	}
	return b
}

type StorageInput struct {
	StorageLayer string
	FileFormat   string
}

type ColumnLineageInput struct {
	Producer string
	Fields   map[string]ColumnLineageField
}

type DatasetOutput struct {
	Name          string
	Version       string
	Usernames     []string
	Storage       *StorageInput
	ColumnLineage *ColumnLineageInput
}

func (b *Builder) SetDatasetOutput(in DatasetOutput) *Builder {
	if !b.expect("SetDatasetOutput", StateSeeded, StateEnded) {
		return b
	}
	if in.Name == "" {
		return b.fail(fmt.Errorf("SetDatasetOutput: name is required"))
	}
	ds := OutputDataset{
		Namespace: b.namespace,
		Name:      in.Name,
		Facets: DatasetFacets{
			LifecycleStateChange: &LifecycleStateChangeDatasetFacet{
				BaseFacet:            b.facet(lifecycleStateChangeFacetURL),
				LifecycleStateChange: "CREATE",
			},
			Ownership: &OwnershipDatasetFacet{
				BaseFacet: b.facet(ownershipDatasetFacetURL),
				Owners:    owners(in.Usernames),
			},
		},
	}
	if in.Storage != nil {
		ds.Facets.Storage = &StorageDatasetFacet{
			BaseFacet:    b.facet(storageDatasetFacetURL),
			StorageLayer: in.Storage.StorageLayer,
			FileFormat:   in.Storage.FileFormat,
		}
	}
	if in.Version != "" {
		ds.Facets.Version = &DatasetVersionDatasetFacet{
			BaseFacet:      b.facet(datasetVersionFacetURL),
			DatasetVersion: in.Version,
		}
	}
	if cl := in.ColumnLineage; cl != nil {
		producer := cl.Producer
		if producer == "" {
			producer = b.producer
		}
		ds.Facets.ColumnLineage = &ColumnLineageDatasetFacet{
			BaseFacet: BaseFacet{Producer: producer, SchemaURL: columnLineageFacetURL},
			Fields:    cl.Fields,
		}
	}
	b.event.Outputs = append(b.event.Outputs, ds)
	return b
}

// RuleResult is one evaluated data quality rule.
type RuleResult struct {
	Name              string `json:"Name"`
	Description       string `json:"Description"`
	EvaluationMessage string `json:"EvaluationMessage,omitempty"`
	Result            string `json:"Result"`
}

// SetQualityResult records one assertion per rule on the first input, in rule order.
func (b *Builder) SetQualityResult(rules []RuleResult) *Builder {
	if !b.expect("SetQualityResult", StateEnded) {
		return b
	}
	if len(b.event.Inputs) == 0 {
		return b.fail(fmt.Errorf("SetQualityResult: %w: no input dataset", ErrOutOfOrder))
	}
	b.event.Inputs[0].Facets.DataQualityAssertions = &DataQualityAssertionsDatasetFacet{
		BaseFacet:  BaseFacet{Producer: b.event.Run.RunID, SchemaURL: dataQualityAssertionsFacetURL},
		Assertions: Assertions(rules),
	}
	return b
}

// Assertions maps PASS to success and every other result to failure.
func Assertions(rules []RuleResult) []Assertion {
	out := make([]Assertion, len(rules))
	for i, rule := range rules {
		out[i] = Assertion{Assertion: rule.Description, Success: rule.Result == "PASS"}
	}
	return out
}

// ColumnProfile is one column of a profiling job result.
type ColumnProfile struct {
	Name                string   `json:"name"`
	Type                string   `json:"type,omitempty"`
	DistinctValuesCount *int64   `json:"distinctValuesCount,omitempty"`
	UniqueValuesCount   *int64   `json:"uniqueValuesCount,omitempty"`
	MissingValuesCount  *int64   `json:"missingValuesCount,omitempty"`
	Max                 *float64 `json:"max,omitempty"`
	Min                 *float64 `json:"min,omitempty"`
	Sum                 *float64 `json:"sum,omitempty"`
	Median              *float64 `json:"median,omitempty"`
	Percentile5         *float64 `json:"percentile5,omitempty"`
	Percentile25        *float64 `json:"percentile25,omitempty"`
	Percentile75        *float64 `json:"percentile75,omitempty"`
	Percentile95        *float64 `json:"percentile95,omitempty"`
}

type ProfilingResult struct {
	SampleSize         int64           `json:"sampleSize"`
	DuplicateRowsCount int64           `json:"duplicateRowsCount"`
	Columns            []ColumnProfile `json:"columns"`
}

// SetProfilingResult records column statistics on the first input.
func (b *Builder) SetProfilingResult(res ProfilingResult) *Builder {
	if !b.expect("SetProfilingResult", StateEnded) {
		return b
	}
	if len(b.event.Inputs) == 0 {
		return b.fail(fmt.Errorf("SetProfilingResult: %w: no input dataset", ErrOutOfOrder))
	}
	rowCount := res.SampleSize
	facet := &DataQualityMetricsInputDatasetFacet{
		BaseFacet:     BaseFacet{Producer: b.event.Run.RunID, SchemaURL: dataQualityMetricsFacetURL},
		RowCount:      &rowCount,
		ColumnMetrics: make(map[string]ColumnMetric, len(res.Columns)),
	}
	for _, col := range res.Columns {
		facet.ColumnMetrics[col.Name] = columnMetric(res.SampleSize, col)
	}
	b.event.Inputs[0].InputFacets.DataQualityMetrics = facet
	return b
}

func columnMetric(sampleSize int64, col ColumnProfile) ColumnMetric {
	m := ColumnMetric{
		Min:           col.Min,
		Max:           col.Max,
		Sum:           col.Sum,
		NullCount:     col.MissingValuesCount,
		DistinctCount: col.DistinctValuesCount,
		Quantiles:     map[string]float64{},
	}
	missing := int64(0)
	if col.MissingValuesCount != nil {
		missing = *col.MissingValuesCount
	}
	count := sampleSize - missing
	if count < 0 {
		count = 0
	}
	m.Count = &count
	for key, v := range map[string]*float64{
		"0.05": col.Percentile5,
		"0.25": col.Percentile25,
		"0.75": col.Percentile75,
		"0.95": col.Percentile95,
	} {
		if v != nil {
			m.Quantiles[key] = *v
		}
	}
	return m
}

// Build returns the accumulated event. It performs no I/O.
func (b *Builder) Build() (RunEvent, error) {
	if b.err != nil {
		return RunEvent{}, b.err
	}
	switch b.state {
	case StateStarted, StateEnded:
	default:
		return RunEvent{}, fmt.Errorf("Build: %w: state %s", ErrOutOfOrder, b.state)
	}
	b.state = StateBuilt
	return b.event.Clone(), nil
}

// Namespace returns the job namespace for a domain.
func Namespace(domainName, domainID string) string {
	return fmt.Sprintf("%s - %s.%s", domainName, Platform, domainID)
}

// JobName returns the job name for a task kind and asset.
func JobName(taskKind, assetName string) string {
	return fmt.Sprintf("%s - %s", taskKind, assetName)
}

func (b *Builder) facet(schemaURL string) BaseFacet {
	return BaseFacet{Producer: b.producer, SchemaURL: schemaURL}
}

func (b *Builder) expect(op string, allowed ...State) bool {
	if b.err != nil {
		return false
	}
	for _, s := range allowed {
		if b.state == s {
			return true
		}
	}
	b.err = fmt.Errorf("%s: %w: state %s", op, ErrOutOfOrder, b.state)
	return false
}

// reset allows a new event to begin from an empty or already built builder.
func (b *Builder) reset(op string) bool {
	if b.state == StateBuilt {
		*b = Builder{state: StateEmpty}
	}
	return b.expect(op, StateEmpty)
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func owners(usernames []string) []Owner {
	out := make([]Owner, 0, len(usernames)+1)
	for _, u := range usernames {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, Owner{Name: "user:" + u})
		}
	}
	return append(out, Owner{Name: applicationOwner})
}
