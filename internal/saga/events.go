package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/taskstore"
)

// Event sources and detail types of the job state change notifications.
const (
	GlueSource            = "aws.glue"
	DataBrewSource        = "aws.databrew"
	GlueDataQualitySource = "aws.glue-dataquality"

	CrawlerStateChangeDetailType = "Glue Crawler State Change"
	JobStateChangeDetailType     = "DataBrew Job State Change"
	QualityResultsDetailType     = "Data Quality Evaluation Results Available"
)

// Completer folds one kind of job state change into its task context and
// spends the callback token parked there.
type Completer interface {
	Matches(source, detailType string) bool
	Complete(ctx context.Context, ev events.CloudWatchEvent) error
}

// Completers returns every spoke completer bound to s.
func (s *Service) Completers() []Completer {
	return []Completer{
		&CrawlerCompletion{s: s},
		&JobCompletion{s: s},
		&QualityCompletion{s: s},
	}
}

// Count decodes the numeric fields job services send either as numbers or
// as quoted strings.
type Count int64

func (c *Count) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("count %q: %w", b, err)
		}
		n = int64(f)
	}
	*c = Count(n)
	return nil
}

func decodeDetail(ev events.CloudWatchEvent, v any) error {
	if len(ev.Detail) == 0 {
		return errors.New("event detail is empty")
	}
	if err := json.Unmarshal(ev.Detail, v); err != nil {
		return fmt.Errorf("decode %s detail: %w", ev.DetailType, err)
	}
	return nil
}

func parseTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

// outcome is one job result ready to be merged into its task context.
type outcome struct {
	kind      domain.TaskKind
	key       string
	succeeded bool
	errorName string
	message   string
	// merge applies the result to the stored task. It may run more than once
	// when a concurrent writer wins the conditional write.
	merge   func(*domain.DataAssetTask) error
	lineage func(*domain.Lineage) *openlineage.RunEvent
}

// complete loads, merges and persists the context, then spends the token.
// A missing context is returned as is; any other failure after the context is
// found is persisted for inspection and failure-signaled.
func (s *Service) complete(ctx context.Context, o outcome) error {
	snap, err := s.tasks.Update(ctx, o.kind, o.key, o.merge)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			s.logger.Error("task context missing for completion", "kind", o.kind, "id", o.key, "error", err)
			return err
		}
		loaded, getErr := s.tasks.Get(ctx, o.kind, o.key)
		if getErr != nil {
			return errors.Join(err, getErr)
		}
		return s.failTask(ctx, domain.TaskSpokeEvent, loaded.Task, ProcessingError, err)
	}
	task := snap.Task
	if o.lineage != nil {
		s.publishLineage(ctx, o.lineage(&task.DataAsset.Lineage))
	}
	s.logger.Info("job completed", "kind", o.kind, "id", o.key, "succeeded", o.succeeded)
	if o.succeeded {
		return s.signalSuccess(ctx, task)
	}
	signedURL, err := s.tasks.SignedReference(ctx, o.kind, o.key, 0)
	if err != nil {
		return err
	}
	return s.signalFailure(ctx, task, o.errorName, domain.FailureCause{SignedURL: signedURL, Error: o.message})
}

// closeLineage replaces the stored START in slot with its closing event. A
// missing START is skipped: the completion must not fail on lineage alone.
func (s *Service) closeLineage(slot **openlineage.RunEvent, succeeded bool, message string, at time.Time, results func(*openlineage.Builder)) error {
	if *slot == nil {
		s.logger.Warn("no start lineage event to close")
		return nil
	}
	ev, err := completeEvent(**slot, succeeded, message, at, results)
	if err != nil {
		return fmt.Errorf("build complete lineage: %w", err)
	}
	*slot = &ev
	return nil
}
