// Package auditlog appends tamper-evident records of security relevant
// actions (auth denials, lineage ingestion) to the audit_events table.
//
// Records about lineage carry the run and job they concern in their own
// columns, so the trail for a run can be read next to its stored events.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	createAuditEventsTableQuery = `CREATE TABLE IF NOT EXISTS audit_events (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	run_id TEXT,
	job_namespace TEXT,
	job_name TEXT,
	request_id TEXT,
	ip INET,
	user_agent TEXT,
	payload JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
)`

	createAuditEventsRunIndexQuery = `CREATE INDEX IF NOT EXISTS audit_events_run_idx
	ON audit_events (run_id, occurred_at) WHERE run_id IS NOT NULL`

	insertAuditEventQuery = `INSERT INTO audit_events (
	occurred_at,
	actor,
	action,
	resource_type,
	resource_id,
	run_id,
	job_namespace,
	job_name,
	request_id,
	ip,
	user_agent,
	payload,
	integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING event_id`
)

func Schema() []string {
	return []string{createAuditEventsTableQuery, createAuditEventsRunIndexQuery}
}

// Run names the lineage run an audit record is about.
type Run struct {
	ID           string `json:"run_id"`
	JobNamespace string `json:"job_namespace"`
	JobName      string `json:"job_name"`
}

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	// Run is set for records about a lineage run.
	Run       *Run
	RequestID string
	IP        net.IP
	UserAgent string
	Payload   any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	if e.Run != nil && strings.TrimSpace(e.Run.ID) == "" {
		return errors.New("Run.ID is required when Run is set")
	}
	return nil
}

// record is an Event with every field trimmed and the payload encoded, as it
// is both stored and hashed.
type record struct {
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RunID        string          `json:"run_id,omitempty"`
	JobNamespace string          `json:"job_namespace,omitempty"`
	JobName      string          `json:"job_name,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func normalize(event Event, payloadJSON []byte) record {
	ip := strings.TrimSpace(event.IP.String())
	if ip == "<nil>" {
		ip = ""
	}
	r := record{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ip,
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	}
	if event.Run != nil {
		r.RunID = strings.TrimSpace(event.Run.ID)
		r.JobNamespace = strings.TrimSpace(event.Run.JobNamespace)
		r.JobName = strings.TrimSpace(event.Run.JobName)
	}
	return r
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	payloadJSON, err := encodePayload(event.Payload)
	if err != nil {
		return 0, err
	}
	r := normalize(event, payloadJSON)
	integrity, err := r.integrity()
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, insertAuditEventQuery,
		r.OccurredAt,
		r.Actor,
		r.Action,
		r.ResourceType,
		r.ResourceID,
		nullable(r.RunID),
		nullable(r.JobNamespace),
		nullable(r.JobName),
		nullable(r.RequestID),
		nullable(r.IP),
		nullable(r.UserAgent),
		[]byte(r.Payload),
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the normalized record, so whitespace around a
// field never changes the digest but any stored value does.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	return normalize(event, payloadJSON).integrity()
}

func (r record) integrity() (string, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte(`{}`), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
