package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

const (
	StepFunctionsSource             = "aws.states"
	ExecutionStatusChangeDetailType = "Step Functions Execution Status Change"
)

const (
	createTaskStatusTableQuery = `CREATE TABLE IF NOT EXISTS data_asset_tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		execution_arn TEXT NOT NULL,
		state_machine_arn TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`

	// Notifications may arrive out of order; an older one never overwrites a
	// newer status.
	upsertTaskStatusQuery = `INSERT INTO data_asset_tasks (id, status, execution_arn, state_machine_arn, updated_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		execution_arn = EXCLUDED.execution_arn,
		state_machine_arn = EXCLUDED.state_machine_arn,
		updated_at = EXCLUDED.updated_at
	WHERE data_asset_tasks.updated_at <= EXCLUDED.updated_at`
)

// StatusSchema returns the DDL the status table needs.
func StatusSchema() []string {
	return []string{createTaskStatusTableQuery}
}

// TaskStatus is the last known state of one data asset saga.
type TaskStatus struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	ExecutionArn    string    `json:"executionArn"`
	StateMachineArn string    `json:"stateMachineArn"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type StatusStore interface {
	Record(ctx context.Context, st TaskStatus) error
}

type StatusDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TaskStatuses keeps saga statuses in postgres.
type TaskStatuses struct {
	db StatusDB
}

func NewTaskStatuses(db StatusDB) *TaskStatuses {
	return &TaskStatuses{db: db}
}

func (s *TaskStatuses) Record(ctx context.Context, st TaskStatus) error {
	if strings.TrimSpace(st.ID) == "" {
		return errors.New("task id is required")
	}
	_, err := s.db.ExecContext(ctx, upsertTaskStatusQuery, st.ID, st.Status, st.ExecutionArn, st.StateMachineArn, st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record status of %s: %w", st.ID, err)
	}
	return nil
}

// ExecutionStatusChange is the detail of a Step Functions execution status
// change event. Input is the execution input as a JSON string.
type ExecutionStatusChange struct {
	ExecutionArn    string `json:"executionArn"`
	StateMachineArn string `json:"stateMachineArn"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Input           string `json:"input"`
}

// StatusProcessor follows the hub state machine's executions and records each
// status change against the data asset the execution was started for.
type StatusProcessor struct {
	logger *slog.Logger
	store  StatusStore
	// stateMachineArn limits tracking to one state machine when set.
	stateMachineArn string
}

func NewStatusProcessor(logger *slog.Logger, store StatusStore, stateMachineArn string) (*StatusProcessor, error) {
	if store == nil {
		return nil, errors.New("status store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusProcessor{logger: logger, store: store, stateMachineArn: stateMachineArn}, nil
}

func (p *StatusProcessor) Matches(source, detailType string) bool {
	return source == StepFunctionsSource && detailType == ExecutionStatusChangeDetailType
}

func (p *StatusProcessor) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	if len(ev.Detail) == 0 {
		return errors.New("event detail is empty")
	}
	var d ExecutionStatusChange
	if err := json.Unmarshal(ev.Detail, &d); err != nil {
		return fmt.Errorf("decode execution status change: %w", err)
	}
	if p.stateMachineArn != "" && d.StateMachineArn != p.stateMachineArn {
		p.logger.Debug("ignoring foreign execution", "state_machine_arn", d.StateMachineArn)
		return nil
	}
	id := executionTaskID(d.Input)
	if id == "" {
		// Nothing to key the row on; a retry would not change that.
		p.logger.Warn("execution input names no data asset", "execution_arn", d.ExecutionArn, "status", d.Status)
		return nil
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	st := TaskStatus{ID: id, Status: d.Status, ExecutionArn: d.ExecutionArn, StateMachineArn: d.StateMachineArn, UpdatedAt: at}
	if err := p.store.Record(ctx, st); err != nil {
		return err
	}
	p.logger.Info("task status recorded", "id", id, "status", d.Status, "execution_arn", d.ExecutionArn)
	return nil
}

// executionTaskID reads the data asset id from an execution input: a bare
// {"id": ...} or a task payload.
func executionTaskID(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	var in struct {
		ID        string           `json:"id"`
		DataAsset domain.DataAsset `json:"dataAsset"`
	}
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return ""
	}
	if id := strings.TrimSpace(in.ID); id != "" {
		return id
	}
	return strings.TrimSpace(in.DataAsset.ContextID())
}
