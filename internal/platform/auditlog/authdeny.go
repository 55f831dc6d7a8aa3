package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/platform/auth"
)

// DenyPayload is the detail of a rejected request.
type DenyPayload struct {
	Service string   `json:"service"`
	Status  int      `json:"status"`
	Reason  string   `json:"reason"`
	Error   string   `json:"error,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// AuthDeny records a rejected request.
func AuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, authDenyEvent(service, event))
	return err
}

func authDenyEvent(service string, event auth.DenyEvent) Event {
	return Event{
		OccurredAt:   event.Time,
		Actor:        actorOf(event.Subject),
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           remoteIP(event.RemoteAddr),
		UserAgent:    event.UserAgent,
		Payload: DenyPayload{
			Service: service,
			Status:  event.Status,
			Reason:  event.Reason,
			Error:   event.Error,
			Subject: event.Subject,
			Email:   event.Email,
			Roles:   event.Roles,
		},
	}
}

// IngestPayload is the detail of one accepted lineage submission.
type IngestPayload struct {
	EventType   openlineage.EventType `json:"event_type"`
	EventTime   string                `json:"event_time"`
	Producer    string                `json:"producer"`
	ParentRunID string                `json:"parent_run_id,omitempty"`
	Inputs      int                   `json:"inputs"`
	Outputs     int                   `json:"outputs"`
	StoredID    int64                 `json:"stored_id"`
	Duplicate   bool                  `json:"duplicate"`
}

// LineageIngest records who submitted a lineage event and where it landed.
func LineageIngest(ctx context.Context, q QueryRower, identity auth.Identity, requestID, remoteAddr string, ev openlineage.RunEvent, storedID int64, duplicate bool) error {
	_, err := Insert(ctx, q, lineageIngestEvent(identity, requestID, remoteAddr, ev, storedID, duplicate))
	return err
}

func lineageIngestEvent(identity auth.Identity, requestID, remoteAddr string, ev openlineage.RunEvent, storedID int64, duplicate bool) Event {
	payload := IngestPayload{
		EventType: ev.EventType,
		EventTime: ev.EventTime,
		Producer:  ev.Producer,
		Inputs:    len(ev.Inputs),
		Outputs:   len(ev.Outputs),
		StoredID:  storedID,
		Duplicate: duplicate,
	}
	if p := ev.Run.Facets.Parent; p != nil {
		payload.ParentRunID = p.Run.RunID
	}
	action := "lineage.ingest"
	if duplicate {
		action = "lineage.ingest.duplicate"
	}
	return Event{
		Actor:        actorOf(identity.Subject),
		Action:       action,
		ResourceType: "openlineage_run",
		ResourceID:   ev.Run.RunID,
		Run:          &Run{ID: ev.Run.RunID, JobNamespace: ev.Job.Namespace, JobName: ev.Job.Name},
		RequestID:    requestID,
		IP:           remoteIP(remoteAddr),
		Payload:      payload,
	}
}

func actorOf(subject string) string {
	if s := strings.TrimSpace(subject); s != "" {
		return s
	}
	return "anonymous"
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.ParseIP(addr)
	}
	return net.ParseIP(host)
}
