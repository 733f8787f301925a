package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog describes the tables a study database is expected to carry, so
// the model knows what exists before any live introspection.
type Catalog struct {
	Conventions []string `yaml:"conventions"`
	Tables      []Table  `yaml:"tables"`
}

// Table is one expected study table.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
	Notes       string   `yaml:"notes"`
}

// Column is one documented column of an expected table.
type Column struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse decodes a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Tables) == 0 {
		return nil, errors.New("catalog lists no tables")
	}
	for _, t := range c.Tables {
		if t.Name == "" {
			return nil, errors.New("catalog table with empty name")
		}
	}
	return &c, nil
}

// Render formats the catalog as a prompt section. Live schema
// introspection stays the source of truth; this is orientation.
func (c *Catalog) Render() string {
	var b strings.Builder
	b.WriteString("Dataset catalog (tables expected in the study database; verify with describe_schema before relying on exact names):\n")
	for _, t := range c.Tables {
		fmt.Fprintf(&b, "\nTable: %s\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, "  %s\n", t.Description)
		}
		for _, col := range t.Columns {
			fmt.Fprintf(&b, "  - %s: %s\n", col.Name, col.Description)
		}
		if t.Notes != "" {
			fmt.Fprintf(&b, "  Note: %s\n", t.Notes)
		}
	}
	if len(c.Conventions) > 0 {
		b.WriteString("\nNaming conventions:\n")
		for _, conv := range c.Conventions {
			fmt.Fprintf(&b, "- %s\n", conv)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// TableNames returns the expected table names in catalog order.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}
