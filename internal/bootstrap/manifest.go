// Package bootstrap creates the spoke's demo Redshift schema and tables
// through the Redshift Data API.
package bootstrap

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const ManifestSchemaV1 = "datafabric.bootstrap.v1"

// SchemaPlaceholder is replaced by the target schema name in table DDL.
const SchemaPlaceholder = "${schema}"

//go:embed tables.yaml
var defaultManifest []byte

type Manifest struct {
	Schema   string  `yaml:"schema"`
	Database string  `yaml:"database"`
	Tables   []Table `yaml:"tables"`
}

type Table struct {
	Name string `yaml:"name"`
	DDL  string `yaml:"ddl"`
}

func ParseManifest(input []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(input, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// DefaultManifest is the demo table set shipped with the binary.
func DefaultManifest() (Manifest, error) {
	return ParseManifest(defaultManifest)
}

func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Schema) != ManifestSchemaV1 {
		return fmt.Errorf("manifest.schema must be %q", ManifestSchemaV1)
	}
	if strings.TrimSpace(m.Database) == "" {
		return errors.New("manifest.database is required")
	}
	seen := make(map[string]struct{}, len(m.Tables))
	for i, t := range m.Tables {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("manifest.tables[%d].name is required", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("manifest.tables[%d].name must be unique (duplicate %q)", i, name)
		}
		seen[name] = struct{}{}
		if !strings.Contains(t.DDL, SchemaPlaceholder) {
			return fmt.Errorf("manifest.tables[%d].ddl must reference %s", i, SchemaPlaceholder)
		}
	}
	return nil
}

// Statements returns the DDL to run for schemaName, schema first.
func (m Manifest) Statements(schemaName string) []string {
	out := make([]string, 0, len(m.Tables)+1)
	out = append(out, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	for _, t := range m.Tables {
		out = append(out, strings.TrimSpace(strings.ReplaceAll(t.DDL, SchemaPlaceholder, schemaName)))
	}
	return out
}
