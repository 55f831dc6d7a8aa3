package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	rstypes "github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"

	"github.com/animus-labs/animus-datafabric/internal/platform/env"
)

type RedshiftDataAPI interface {
	ExecuteStatement(ctx context.Context, params *redshiftdata.ExecuteStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error)
	DescribeStatement(ctx context.Context, params *redshiftdata.DescribeStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error)
}

// Target is the Redshift database the statements run against. Exactly one of
// WorkgroupName (serverless) or ClusterIdentifier is set.
type Target struct {
	WorkgroupName     string
	ClusterIdentifier string
	SecretArn         string
	SchemaName        string
}

func TargetFromEnv() Target {
	return Target{
		WorkgroupName:     env.String("DATAFABRIC_REDSHIFT_WORKGROUP", ""),
		ClusterIdentifier: env.String("DATAFABRIC_REDSHIFT_CLUSTER", ""),
		SecretArn:         env.String("DATAFABRIC_REDSHIFT_SECRET_ARN", ""),
		SchemaName:        env.String("DATAFABRIC_REDSHIFT_SCHEMA", "datafabric"),
	}
}

func (t Target) Validate() error {
	var errs []error
	if (t.WorkgroupName == "") == (t.ClusterIdentifier == "") {
		errs = append(errs, errors.New("exactly one of workgroup or cluster is required"))
	}
	if strings.TrimSpace(t.SecretArn) == "" {
		errs = append(errs, errors.New("secret arn is required"))
	}
	if strings.TrimSpace(t.SchemaName) == "" {
		errs = append(errs, errors.New("schema name is required"))
	}
	return errors.Join(errs...)
}

// Backoff is a linear poll schedule: Min, then Step more per attempt, capped
// at Max, for at most Attempts polls.
type Backoff struct {
	Min      time.Duration
	Max      time.Duration
	Step     time.Duration
	Attempts int
}

var DefaultBackoff = Backoff{Min: 250 * time.Millisecond, Max: 5 * time.Second, Step: 250 * time.Millisecond, Attempts: 120}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Min + time.Duration(attempt)*b.Step
	if d > b.Max {
		return b.Max
	}
	return d
}

var ErrStatementPending = errors.New("statement did not finish in time")

type Runner struct {
	logger  *slog.Logger
	client  RedshiftDataAPI
	target  Target
	backoff Backoff
	sleep   func(context.Context, time.Duration) error
}

func NewRunner(logger *slog.Logger, client RedshiftDataAPI, target Target, backoff Backoff) (*Runner, error) {
	if client == nil {
		return nil, errors.New("redshift data client is required")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if backoff.Attempts <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, client: client, target: target, backoff: backoff, sleep: sleepContext}, nil
}

// Run creates the schema, then each table, stopping at the first failure.
func (r *Runner) Run(ctx context.Context, m Manifest) error {
	for i, sql := range m.Statements(r.target.SchemaName) {
		if err := r.execute(ctx, m.Database, sql); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	r.logger.Info("redshift schema ready", "database", m.Database, "schema", r.target.SchemaName, "tables", len(m.Tables))
	return nil
}

func (r *Runner) execute(ctx context.Context, database, sql string) error {
	in := &redshiftdata.ExecuteStatementInput{
		Database:  aws.String(database),
		SecretArn: aws.String(r.target.SecretArn),
		Sql:       aws.String(sql),
	}
	if r.target.WorkgroupName != "" {
		in.WorkgroupName = aws.String(r.target.WorkgroupName)
	} else {
		in.ClusterIdentifier = aws.String(r.target.ClusterIdentifier)
	}
	out, err := r.client.ExecuteStatement(ctx, in)
	if err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	id := aws.ToString(out.Id)

	for attempt := 0; attempt < r.backoff.Attempts; attempt++ {
		desc, err := r.client.DescribeStatement(ctx, &redshiftdata.DescribeStatementInput{Id: out.Id})
		if err != nil {
			return fmt.Errorf("describe statement %s: %w", id, err)
		}
		switch desc.Status {
		case rstypes.StatusStringFinished:
			r.logger.Debug("statement finished", "id", id)
			return nil
		case rstypes.StatusStringFailed, rstypes.StatusStringAborted:
			return fmt.Errorf("statement %s %s: %s", id, desc.Status, aws.ToString(desc.Error))
		}
		if err := r.sleep(ctx, r.backoff.delay(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrStatementPending, id)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
