package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// producer is the workflow that owns the lineage: the hub state machine when
// known, else the spoke execution.
func producer(task domain.DataAssetTask) string {
	if e := task.DataAsset.Execution; e != nil && e.HubStateMachineArn != "" {
		return e.HubStateMachineArn
	}
	if e := task.Execution; e != nil {
		if e.StateMachineArn != "" {
			return e.StateMachineArn
		}
		if e.ExecutionID != "" {
			return e.ExecutionID
		}
	}
	return "urn:datafabric:spoke"
}

func datasetInput(a domain.DataAsset) openlineage.DatasetInput {
	in := openlineage.DatasetInput{
		Type:         openlineage.DatasetInputCustom,
		AssetName:    a.Workflow.Dataset.Name,
		StorageLayer: string(a.Workflow.Dataset.Connection.Type()),
		FileFormat:   a.Workflow.Dataset.Format,
	}
	if in.AssetName == "" {
		in.AssetName = a.Catalog.AssetName
	}
	conn := a.Workflow.Dataset.Connection
	switch {
	case conn.DataLake != nil:
		in.DataSourceName = "s3"
		in.DataSourceURI = conn.DataLake.S3.Path
	case conn.Glue != nil:
		in.DataSourceName = "glue"
		in.DataSourceURI = fmt.Sprintf("glue://%s/%s", conn.Glue.DatabaseName, conn.Glue.TableName)
	case conn.Redshift != nil:
		in.DataSourceName = "redshift"
		in.DataSourceURI = conn.Redshift.JDBCConnectionURL
	}
	return in
}

// startEvent builds the START half for a dispatched job run.
func startEvent(task domain.DataAssetTask, kind domain.TaskKind, runID string, at time.Time) (openlineage.RunEvent, error) {
	a := task.DataAsset
	start := openlineage.StartInput{ExecutionID: runID, StartTime: at}
	if e := a.Execution; e != nil && e.HubExecutionID != "" {
		start.Parent = &openlineage.ParentInput{
			RunID:     e.HubExecutionID,
			Name:      string(domain.TaskDataAsset),
			AssetName: a.Catalog.AssetName,
		}
	}
	var users []string
	if a.IDCUserID != "" {
		users = []string{a.IDCUserID}
	}
	return openlineage.NewBuilder().
		SetContext(a.Catalog.DomainID, a.Catalog.DomainName, producer(task)).
		SetJob(openlineage.JobInput{JobName: string(kind), AssetName: a.Catalog.AssetName, Usernames: users}).
		SetStartJob(start).
		SetDatasetInput(datasetInput(a)).
		Build()
}

// completeEvent closes start. A failed run produces a FAIL event carrying
// message; results is applied to the ended builder.
func completeEvent(start openlineage.RunEvent, succeeded bool, message string, at time.Time, results func(*openlineage.Builder)) (openlineage.RunEvent, error) {
	eventType := openlineage.EventTypeComplete
	if !succeeded {
		eventType = openlineage.EventTypeFail
	}
	b := openlineage.NewBuilder().
		SetOpenLineageEvent(start).
		SetEndJob(openlineage.EndInput{EndTime: at, EventType: eventType})
	if !succeeded && message != "" {
		b.SetErrorMessage(message)
	}
	if results != nil {
		results(b)
	}
	return b.Build()
}

// publishLineage hands an event to the lineage sink. Lineage is a record of
// the saga, not a step in it, so delivery failures are only logged.
func (s *Service) publishLineage(ctx context.Context, ev *openlineage.RunEvent) {
	if s.lineage == nil || ev == nil {
		return
	}
	if err := s.lineage.Record(ctx, *ev); err != nil {
		s.logger.Warn("lineage publish failed", "run_id", ev.Run.RunID, "job", ev.Job.Name, "error", err)
	}
}
