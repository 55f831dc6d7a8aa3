package lineagesink

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// ErrDuplicate is returned by Insert when the same event was stored before.
var ErrDuplicate = errors.New("lineage event already recorded")

type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	createEventsTableQuery = `CREATE TABLE IF NOT EXISTS openlineage_events (
		event_id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_time TIMESTAMPTZ NOT NULL,
		job_namespace TEXT NOT NULL,
		job_name TEXT NOT NULL,
		producer TEXT NOT NULL,
		payload JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, event_type, event_time)
	)`

	createEventsJobIndexQuery = `CREATE INDEX IF NOT EXISTS openlineage_events_job_idx
		ON openlineage_events (job_namespace, job_name, event_time DESC)`

	insertEventQuery = `INSERT INTO openlineage_events (
		run_id,
		event_type,
		event_time,
		job_namespace,
		job_name,
		producer,
		payload,
		integrity_sha256,
		received_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (run_id, event_type, event_time) DO NOTHING
	RETURNING event_id`

	listEventsQuery = `SELECT event_id, run_id, event_type, event_time, job_namespace, job_name, payload
	 FROM openlineage_events`
)

func Schema() []string {
	return []string{createEventsTableQuery, createEventsJobIndexQuery}
}

// Postgres stores RunEvents in the openlineage_events table.
type Postgres struct {
	db  DB
	now func() time.Time
}

func NewPostgres(db DB) *Postgres {
	if db == nil {
		return nil
	}
	return &Postgres{db: db, now: time.Now}
}

// Record inserts the event; a repeat delivery of the same event is not an error.
func (p *Postgres) Record(ctx context.Context, ev openlineage.RunEvent) error {
	_, err := p.Insert(ctx, ev)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (p *Postgres) Insert(ctx context.Context, ev openlineage.RunEvent) (int64, error) {
	if p == nil || p.db == nil {
		return 0, fmt.Errorf("lineage store not initialized")
	}
	if err := openlineage.Validate(ctx, ev); err != nil {
		return 0, err
	}
	eventTime, err := time.Parse(time.RFC3339Nano, ev.EventTime)
	if err != nil {
		return 0, fmt.Errorf("parse eventTime: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal run event: %w", err)
	}

	var id int64
	err = p.db.QueryRowContext(
		ctx,
		insertEventQuery,
		ev.Run.RunID,
		string(ev.EventType),
		eventTime.UTC(),
		ev.Job.Namespace,
		ev.Job.Name,
		ev.Producer,
		payload,
		IntegritySHA256(payload),
		p.now().UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert lineage event: %w", err)
	}
	return id, nil
}

type Filter struct {
	RunID         string
	JobNamespace  string
	JobName       string
	BeforeEventID int64
	Limit         int
}

type StoredEvent struct {
	EventID      int64           `json:"event_id"`
	RunID        string          `json:"run_id"`
	EventType    string          `json:"event_type"`
	EventTime    time.Time       `json:"event_time"`
	JobNamespace string          `json:"job_namespace"`
	JobName      string          `json:"job_name"`
	Payload      json.RawMessage `json:"payload"`
}

// List returns stored events newest first.
func (p *Postgres) List(ctx context.Context, f Filter) ([]StoredEvent, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("lineage store not initialized")
	}
	query, args := buildListQuery(f)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lineage events: %w", err)
	}
	defer rows.Close()

	out := make([]StoredEvent, 0, f.Limit)
	for rows.Next() {
		var ev StoredEvent
		var payload []byte
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.EventType, &ev.EventTime, &ev.JobNamespace, &ev.JobName, &payload); err != nil {
			return nil, fmt.Errorf("scan lineage event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lineage events: %w", err)
	}
	return out, nil
}

func buildListQuery(f Filter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	where := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.BeforeEventID > 0 {
		add("event_id < $%d", f.BeforeEventID)
	}
	if v := strings.TrimSpace(f.RunID); v != "" {
		add("run_id = $%d", v)
	}
	if v := strings.TrimSpace(f.JobNamespace); v != "" {
		add("job_namespace = $%d", v)
	}
	if v := strings.TrimSpace(f.JobName); v != "" {
		add("job_name = $%d", v)
	}
	query := listEventsQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY event_id DESC LIMIT $%d", len(args))
	return query, args
}

func IntegritySHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
