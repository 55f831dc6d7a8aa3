package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/lineagesink"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/platform/auth"
	"github.com/animus-labs/animus-datafabric/internal/platform/httpserver"
)

const maxEventBytes = 1 << 20

type eventStore interface {
	Insert(ctx context.Context, ev openlineage.RunEvent) (int64, error)
	List(ctx context.Context, f lineagesink.Filter) ([]lineagesink.StoredEvent, error)
}

type ingestAudit func(ctx context.Context, identity auth.Identity, r *http.Request, ev openlineage.RunEvent, storedID int64, duplicate bool) error

type lineageAPI struct {
	logger *slog.Logger
	store  eventStore
	audit  ingestAudit
}

func newLineageAPI(logger *slog.Logger, store eventStore, audit ingestAudit) *lineageAPI {
	return &lineageAPI{
		logger: logger,
		store:  store,
		audit:  audit,
	}
}

func (api *lineageAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/lineage", api.handleIngest)
	mux.HandleFunc("GET /api/v1/lineage/events", api.handleListEvents)
}

func (api *lineageAPI) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
		return
	}
	if err := openlineage.ValidateJSON(r.Context(), raw); err != nil {
		api.logger.Warn("rejected lineage event", "request_id", requestID(r), "error", err)
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid_event",
			"detail":     err.Error(),
			"request_id": requestID(r),
		})
		return
	}
	var ev openlineage.RunEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_event")
		return
	}

	id, err := api.store.Insert(r.Context(), ev)
	duplicate := errors.Is(err, lineagesink.ErrDuplicate)
	if err != nil && !duplicate {
		api.logger.Error("store lineage event", "request_id", requestID(r), "run_id", ev.Run.RunID, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if api.audit != nil {
		identity, _ := auth.IdentityFromContext(r.Context())
		if err := api.audit(r.Context(), identity, r, ev, id, duplicate); err != nil {
			api.logger.Warn("audit lineage ingest failed", "request_id", requestID(r), "error", err)
		}
	}

	if duplicate {
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "run_id": ev.Run.RunID})
		return
	}
	api.logger.Info("lineage event stored",
		"request_id", requestID(r),
		"event_id", id,
		"run_id", ev.Run.RunID,
		"event_type", ev.EventType,
		"job", ev.Job.Name,
	)
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{"status": "stored", "event_id": id, "run_id": ev.Run.RunID})
}

func (api *lineageAPI) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := lineagesink.Filter{
		RunID:         strings.TrimSpace(q.Get("run_id")),
		JobNamespace:  strings.TrimSpace(q.Get("job_namespace")),
		JobName:       strings.TrimSpace(q.Get("job_name")),
		BeforeEventID: parseInt64Query(r, "before_event_id", 0),
		Limit:         clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}

	events, err := api.store.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list lineage events", "request_id", requestID(r), "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := map[string]any{"events": events}
	if n := len(events); n == filter.Limit && n > 0 {
		resp["next_before_event_id"] = events[n-1].EventID
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func requestID(r *http.Request) string {
	id, _ := httpserver.RequestIDFromContext(r.Context())
	return id
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
