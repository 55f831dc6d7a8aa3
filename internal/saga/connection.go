package saga

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/animus-labs/animus-datafabric/internal/correlation"
	"github.com/animus-labs/animus-datafabric/internal/domain"
)

// ConnectionTask registers the Glue JDBC connection crawlers and DataBrew use
// to reach a Redshift source. Other sources need no connection and pass
// straight through.
type ConnectionTask struct {
	s *Service
}

func (t *ConnectionTask) Kind() domain.TaskKind { return domain.TaskCreateConnection }

func (t *ConnectionTask) Dispatch(ctx context.Context, task domain.DataAssetTask) error {
	return t.s.dispatch(ctx, t.Kind(), task, t.run)
}

func (t *ConnectionTask) run(ctx context.Context, task domain.DataAssetTask) error {
	rs := task.DataAsset.Workflow.Dataset.Connection.Redshift
	if rs == nil {
		return t.s.finish(ctx, t.Kind(), task)
	}
	name := ConnectionName(task.DataAsset)
	input := connectionInput(name, rs)
	tags := correlation.Build(task)

	_, err := t.s.glue.GetConnection(ctx, &glue.GetConnectionInput{Name: aws.String(name), HidePassword: true})
	switch {
	case err == nil:
		if _, err := t.s.glue.UpdateConnection(ctx, &glue.UpdateConnectionInput{Name: aws.String(name), ConnectionInput: input}); err != nil {
			return fmt.Errorf("update connection %s: %w", name, err)
		}
		arn := correlation.ConnectionArn(t.s.cfg.Region, t.s.cfg.AccountID, name)
		if _, err := t.s.glue.TagResource(ctx, &glue.TagResourceInput{ResourceArn: aws.String(arn), TagsToAdd: tags}); err != nil {
			return fmt.Errorf("tag connection %s: %w", name, err)
		}
	case isGlueNotFound(err):
		if _, err := t.s.glue.CreateConnection(ctx, &glue.CreateConnectionInput{ConnectionInput: input, Tags: tags}); err != nil {
			return fmt.Errorf("create connection %s: %w", name, err)
		}
	default:
		return fmt.Errorf("get connection %s: %w", name, err)
	}

	now := t.s.now().UTC()
	task.DataAsset.EnsureExecution().ConnectionCreation = &domain.DataAssetJob{
		ID:        name,
		StartTime: &now,
		StopTime:  &now,
		Status:    "SUCCEEDED",
	}
	return t.s.finish(ctx, t.Kind(), task)
}

func connectionInput(name string, rs *domain.RedshiftConnection) *gluetypes.ConnectionInput {
	props := map[string]string{
		string(gluetypes.ConnectionPropertyKeyJdbcConnectionUrl): rs.JDBCConnectionURL,
	}
	if rs.SecretArn != "" {
		props[string(gluetypes.ConnectionPropertyKeySecretId)] = rs.SecretArn
	} else {
		props[string(gluetypes.ConnectionPropertyKeyUserName)] = rs.Username
		props[string(gluetypes.ConnectionPropertyKeyPassword)] = rs.Password
	}
	in := &gluetypes.ConnectionInput{
		Name:                 aws.String(name),
		ConnectionType:       gluetypes.ConnectionTypeJdbc,
		ConnectionProperties: props,
	}
	if rs.SubnetID != "" || len(rs.SecurityGroupIDList) > 0 {
		in.PhysicalConnectionRequirements = &gluetypes.PhysicalConnectionRequirements{
			SubnetId:            aws.String(rs.SubnetID),
			SecurityGroupIdList: rs.SecurityGroupIDList,
			AvailabilityZone:    aws.String(rs.AvailabilityZone),
		}
	}
	return in
}
