package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/datazone"
	dztypes "github.com/aws/aws-sdk-go-v2/service/datazone/types"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

// CatalogAPI is the subset of the DataZone client the project task uses.
type CatalogAPI interface {
	ListProjects(ctx context.Context, in *datazone.ListProjectsInput, optFns ...func(*datazone.Options)) (*datazone.ListProjectsOutput, error)
	CreateProject(ctx context.Context, in *datazone.CreateProjectInput, optFns ...func(*datazone.Options)) (*datazone.CreateProjectOutput, error)
	GetFormType(ctx context.Context, in *datazone.GetFormTypeInput, optFns ...func(*datazone.Options)) (*datazone.GetFormTypeOutput, error)
	CreateFormType(ctx context.Context, in *datazone.CreateFormTypeInput, optFns ...func(*datazone.Options)) (*datazone.CreateFormTypeOutput, error)
}

// ProjectConfig names the catalog project that owns the profile metadata
// form, and the form type itself.
type ProjectConfig struct {
	ProjectName  string
	FormTypeName string
}

const (
	DefaultProjectName  = "dm-project"
	DefaultFormTypeName = "dm_profile_form"

	projectDescription = "Default project that owns the data fabric metadata forms."
)

func (c ProjectConfig) withDefaults() ProjectConfig {
	if c.ProjectName == "" {
		c.ProjectName = DefaultProjectName
	}
	if c.FormTypeName == "" {
		c.FormTypeName = DefaultFormTypeName
	}
	return c
}

// profileFormModel is the Smithy model of the form the spoke results are
// attached to in the catalog.
func profileFormModel(name string) string {
	return `@amazon.datazone#displayname(defaultName: "DM_Profile_Form")
structure ` + name + ` {
	@amazon.datazone#displayname(defaultName: "Asset namespace")
	lineage_asset_namespace: String

	@documentation("The name of the data asset in OpenLineage")
	@amazon.datazone#displayname(defaultName: "Asset Name")
	lineage_asset_name: String

	@amazon.datazone#displayname(defaultName: "Data Quality Profile Location")
	data_quality_profile_location: String

	@required
	@amazon.datazone#displayname(defaultName: "Task Id")
	@amazon.datazone#searchable
	task_id: String

	@amazon.datazone#displayname(defaultName: "Data Profile Location")
	data_profile_location: String
}`
}

// ProjectTask makes sure the asset's catalog domain has the metadata project
// and the profile form type before the saga starts. Both are created on first
// use and reused afterwards.
type ProjectTask struct {
	s *Service
}

func (s *Service) ProjectTask() *ProjectTask {
	return &ProjectTask{s: s}
}

func (t *ProjectTask) Process(ctx context.Context, task domain.DataAssetTask) error {
	if task.Execution == nil || strings.TrimSpace(task.Execution.TaskToken) == "" {
		return errors.New("project task carries no callback token")
	}
	if err := t.run(ctx, task); err != nil {
		return t.s.fail(ctx, domain.TaskCreateProject, task.Execution.TaskToken, task, err)
	}
	return t.s.ignorable(t.s.signaler.Success(ctx, task.Execution.TaskToken, task), "success", task.DataAsset.ContextID())
}

func (t *ProjectTask) run(ctx context.Context, task domain.DataAssetTask) error {
	if t.s.catalog == nil {
		return errors.New("catalog client is not configured")
	}
	domainID := task.DataAsset.Catalog.DomainID
	if strings.TrimSpace(domainID) == "" {
		return errors.New("data asset has no catalog domain")
	}
	projectID, err := t.ensureProject(ctx, domainID)
	if err != nil {
		return err
	}
	return t.ensureFormType(ctx, domainID, projectID)
}

func (t *ProjectTask) ensureProject(ctx context.Context, domainID string) (string, error) {
	name := t.s.project.ProjectName
	in := &datazone.ListProjectsInput{DomainIdentifier: aws.String(domainID), Name: aws.String(name)}
	for {
		out, err := t.s.catalog.ListProjects(ctx, in)
		if err != nil {
			return "", fmt.Errorf("list projects in %s: %w", domainID, err)
		}
		for _, p := range out.Items {
			if aws.ToString(p.Name) == name {
				t.s.logger.Debug("catalog project exists", "domain_id", domainID, "project_id", aws.ToString(p.Id))
				return aws.ToString(p.Id), nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		in.NextToken = out.NextToken
	}

	out, err := t.s.catalog.CreateProject(ctx, &datazone.CreateProjectInput{
		DomainIdentifier: aws.String(domainID),
		Name:             aws.String(name),
		Description:      aws.String(projectDescription),
	})
	if err != nil {
		return "", fmt.Errorf("create project %s in %s: %w", name, domainID, err)
	}
	t.s.logger.Info("catalog project created", "domain_id", domainID, "project_id", aws.ToString(out.Id))
	return aws.ToString(out.Id), nil
}

func (t *ProjectTask) ensureFormType(ctx context.Context, domainID, projectID string) error {
	name := t.s.project.FormTypeName
	_, err := t.s.catalog.GetFormType(ctx, &datazone.GetFormTypeInput{
		DomainIdentifier:   aws.String(domainID),
		FormTypeIdentifier: aws.String(name),
	})
	var notFound *dztypes.ResourceNotFoundException
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &notFound):
		return fmt.Errorf("get form type %s: %w", name, err)
	}
	_, err = t.s.catalog.CreateFormType(ctx, &datazone.CreateFormTypeInput{
		DomainIdentifier:        aws.String(domainID),
		Name:                    aws.String(name),
		OwningProjectIdentifier: aws.String(projectID),
		Model:                   &dztypes.ModelMemberSmithy{Value: profileFormModel(name)},
		Status:                  dztypes.FormTypeStatusEnabled,
	})
	if err != nil {
		return fmt.Errorf("create form type %s: %w", name, err)
	}
	t.s.logger.Info("catalog form type created", "domain_id", domainID, "form_type", name)
	return nil
}
