package saga

import (
	"context"
	"fmt"
	"sort"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// Dispatcher starts one kind of external job for a task. Dispatch returns
// once the job is running and its context persisted; the callback token
// stays parked until the job's completer spends it. Kinds whose work is
// synchronous signal the token themselves.
type Dispatcher interface {
	Kind() domain.TaskKind
	Dispatch(ctx context.Context, task domain.DataAssetTask) error
}

type Registry struct {
	byKind map[domain.TaskKind]Dispatcher
}

func NewRegistry(dispatchers ...Dispatcher) (*Registry, error) {
	r := &Registry{byKind: make(map[domain.TaskKind]Dispatcher, len(dispatchers))}
	for _, d := range dispatchers {
		if _, dup := r.byKind[d.Kind()]; dup {
			return nil, fmt.Errorf("duplicate dispatcher for %s", d.Kind())
		}
		r.byKind[d.Kind()] = d
	}
	return r, nil
}

func (r *Registry) Lookup(kind domain.TaskKind) (Dispatcher, bool) {
	d, ok := r.byKind[kind]
	return d, ok
}

func (r *Registry) Kinds() []domain.TaskKind {
	out := make([]domain.TaskKind, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatchers returns every spoke dispatcher bound to s.
func (s *Service) Dispatchers() []Dispatcher {
	return []Dispatcher{
		&ConnectionTask{s: s},
		&CrawlerTask{s: s},
		&DataSetTask{s: s},
		&ProfileJobTask{s: s},
		&QualityTask{s: s},
		&RecipeTask{s: s},
		&ResponseTask{s: s},
	}
}

// dispatch validates the task, runs fn and routes any error to a failure
// signal carrying a diagnostic snapshot.
func (s *Service) dispatch(ctx context.Context, kind domain.TaskKind, task domain.DataAssetTask, fn func(context.Context, domain.DataAssetTask) error) error {
	if _, err := token(task); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	if err := task.DataAsset.Validate(); err != nil {
		return s.failTask(ctx, kind, task, ProcessingError, fmt.Errorf("invalid task: %w", err))
	}
	if err := fn(ctx, task); err != nil {
		return s.failTask(ctx, kind, task, ProcessingError, err)
	}
	return nil
}

// launch persists the context before the job is started so a completion can
// always be resolved, then records the START lineage against the run.
func (s *Service) launch(ctx context.Context, kind domain.TaskKind, task domain.DataAssetTask, start func(context.Context) (string, error), keep func(*domain.Lineage, *openlineage.RunEvent)) error {
	id := task.DataAsset.ContextID()
	if _, err := s.tasks.Put(ctx, kind, id, task); err != nil {
		return fmt.Errorf("persist task context: %w", err)
	}
	runID, err := start(ctx)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	ev, err := startEvent(task, kind, runID, s.now())
	if err != nil {
		return fmt.Errorf("build start lineage: %w", err)
	}
	if _, err := s.tasks.Update(ctx, kind, id, func(t *domain.DataAssetTask) error {
		keep(&t.DataAsset.Lineage, &ev)
		return nil
	}); err != nil {
		return fmt.Errorf("record start lineage: %w", err)
	}
	s.publishLineage(ctx, &ev)
	s.logger.Info("job dispatched", "kind", kind, "id", id, "run_id", runID)
	return nil
}

// finish persists a synchronous step and resumes the coordinator.
func (s *Service) finish(ctx context.Context, kind domain.TaskKind, task domain.DataAssetTask) error {
	if _, err := s.tasks.Put(ctx, kind, task.DataAsset.ContextID(), task); err != nil {
		return fmt.Errorf("persist task context: %w", err)
	}
	return s.signalSuccess(ctx, task)
}
