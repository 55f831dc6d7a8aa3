package domain

import "fmt"

// TaskKind names a saga step. It doubles as the task context store folder and
// as the lineage job name prefix.
type TaskKind string

const (
	TaskDataAsset          TaskKind = "df_data_asset"
	TaskDataProfile        TaskKind = "df_data_profile"
	TaskDataQualityProfile TaskKind = "df_data_quality_profile"
	TaskRecipe             TaskKind = "df_recipe"
	TaskGlueCrawler        TaskKind = "df_glue_crawler"
	TaskDataLineage        TaskKind = "df_data_lineage"
	TaskFailure            TaskKind = "df_failure"
	TaskCreateConnection   TaskKind = "df_create_connection"
	TaskDataSet            TaskKind = "df_data_set"
	TaskTransformJob       TaskKind = "df_transform_job"
	TaskSpokeEvent         TaskKind = "df_spoke_event_processor"
	TaskResponse           TaskKind = "df_response"
	TaskCreateProject      TaskKind = "df_create_project"
)

var knownKinds = map[TaskKind]struct{}{
	TaskDataAsset:          {},
	TaskDataProfile:        {},
	TaskDataQualityProfile: {},
	TaskRecipe:             {},
	TaskGlueCrawler:        {},
	TaskDataLineage:        {},
	TaskFailure:            {},
	TaskCreateConnection:   {},
	TaskDataSet:            {},
	TaskTransformJob:       {},
	TaskSpokeEvent:         {},
	TaskResponse:           {},
	TaskCreateProject:      {},
}

func ParseTaskKind(raw string) (TaskKind, error) {
	k := TaskKind(raw)
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("unknown task kind %q", raw)
	}
	return k, nil
}

func (k TaskKind) String() string {
	return string(k)
}
