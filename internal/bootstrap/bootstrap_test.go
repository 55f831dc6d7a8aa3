package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	rstypes "github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
)

type fakeRedshift struct {
	sql      []string
	statuses []rstypes.StatusString
	polls    int
	errText  string
}

func (f *fakeRedshift) ExecuteStatement(ctx context.Context, in *redshiftdata.ExecuteStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error) {
	f.sql = append(f.sql, aws.ToString(in.Sql))
	return &redshiftdata.ExecuteStatementOutput{Id: aws.String("stmt-" + aws.ToString(in.Database))}, nil
}

func (f *fakeRedshift) DescribeStatement(ctx context.Context, in *redshiftdata.DescribeStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error) {
	status := rstypes.StatusStringFinished
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++
	return &redshiftdata.DescribeStatementOutput{Id: in.Id, Status: status, Error: aws.String(f.errText)}, nil
}

func newRunner(t *testing.T, client RedshiftDataAPI, backoff Backoff) (*Runner, *[]time.Duration) {
	t.Helper()
	r, err := NewRunner(nil, client, Target{WorkgroupName: "wg", SecretArn: "arn:secret", SchemaName: "sales"}, backoff)
	if err != nil {
		t.Fatalf("NewRunner() err=%v", err)
	}
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestDefaultManifest(t *testing.T) {
	m, err := DefaultManifest()
	if err != nil {
		t.Fatalf("DefaultManifest() err=%v", err)
	}
	stmts := m.Statements("sales")
	if len(stmts) != 2 || stmts[0] != "CREATE SCHEMA IF NOT EXISTS sales" {
		t.Fatalf("Statements() = %q", stmts)
	}
	if !strings.Contains(stmts[1], "dm.sales.products") || strings.Contains(stmts[1], SchemaPlaceholder) {
		t.Fatalf("table ddl = %q", stmts[1])
	}
}

func TestParseManifest_Rejects(t *testing.T) {
	tests := map[string]string{
		"schema":      "schema: other\ndatabase: dm\n",
		"database":    "schema: datafabric.bootstrap.v1\n",
		"placeholder": "schema: datafabric.bootstrap.v1\ndatabase: dm\ntables:\n  - name: t\n    ddl: CREATE TABLE t (a int);\n",
		"duplicate":   "schema: datafabric.bootstrap.v1\ndatabase: dm\ntables:\n  - name: t\n    ddl: CREATE TABLE ${schema}.t (a int);\n  - name: t\n    ddl: CREATE TABLE ${schema}.t (a int);\n",
	}
	for name, input := range tests {
		if _, err := ParseManifest([]byte(input)); err == nil {
			t.Fatalf("ParseManifest(%s) err=nil", name)
		}
	}
}

func TestRun_PollsUntilFinished(t *testing.T) {
	client := &fakeRedshift{statuses: []rstypes.StatusString{rstypes.StatusStringSubmitted, rstypes.StatusStringStarted}}
	r, slept := newRunner(t, client, Backoff{Min: 250 * time.Millisecond, Max: 400 * time.Millisecond, Step: 250 * time.Millisecond, Attempts: 10})
	m, _ := DefaultManifest()
	if err := r.Run(context.Background(), m); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if len(client.sql) != 2 {
		t.Fatalf("executed %d statements", len(client.sql))
	}
	want := []time.Duration{250 * time.Millisecond, 400 * time.Millisecond}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("slept = %v, want %v", *slept, want)
	}
}

func TestRun_FailedStatementStops(t *testing.T) {
	client := &fakeRedshift{statuses: []rstypes.StatusString{rstypes.StatusStringFailed}, errText: "permission denied for database dm"}
	r, _ := newRunner(t, client, DefaultBackoff)
	m, _ := DefaultManifest()
	err := r.Run(context.Background(), m)
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("Run() err=%v", err)
	}
	if len(client.sql) != 1 {
		t.Fatalf("executed %d statements after failure", len(client.sql))
	}
}

func TestRun_GivesUpAfterAttempts(t *testing.T) {
	client := &fakeRedshift{statuses: []rstypes.StatusString{rstypes.StatusStringPicked, rstypes.StatusStringPicked, rstypes.StatusStringPicked}}
	r, _ := newRunner(t, client, Backoff{Min: time.Millisecond, Max: time.Millisecond, Step: 0, Attempts: 3})
	m, _ := DefaultManifest()
	if err := r.Run(context.Background(), m); !errors.Is(err, ErrStatementPending) {
		t.Fatalf("Run() err=%v, want ErrStatementPending", err)
	}
}

func TestTargetValidate(t *testing.T) {
	if err := (Target{WorkgroupName: "wg", ClusterIdentifier: "c", SecretArn: "s", SchemaName: "x"}).Validate(); err == nil {
		t.Fatalf("Validate() err=nil for both workgroup and cluster")
	}
	if err := (Target{ClusterIdentifier: "c", SecretArn: "s", SchemaName: "x"}).Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}
