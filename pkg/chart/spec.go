// Package chart renders the cached result set of a session into
// self-contained HTML documents with inline SVG. Specs are typed per chart
// family; the legacy pipe-delimited form still parses into them.
package chart

import (
	"fmt"
	"strings"
)

// Type tags a chart family variant.
type Type string

const (
	TypeScatter    Type = "scatter"
	TypePCA        Type = "pca"
	TypeVolcano    Type = "volcano"
	TypeHeatmap    Type = "heatmap"
	TypeBar        Type = "bar"
	TypeEnrichment Type = "enrichment"
	TypeDot        Type = "dot"
)

var allowedTypes = []Type{
	TypeScatter, TypePCA, TypeVolcano, TypeHeatmap, TypeBar, TypeEnrichment, TypeDot,
}

// SignificanceThreshold is the fixed cutoff volcano charts apply to their
// y column when labeling points.
const SignificanceThreshold = 0.05

// AllowedTypes returns the chart type allow-list in display order.
func AllowedTypes() []Type {
	out := make([]Type, len(allowedTypes))
	copy(out, allowedTypes)
	return out
}

// ParseType validates a raw chart type tag against the allow-list.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, allowed := range allowedTypes {
		if t == allowed {
			return t, nil
		}
	}
	return "", &UnknownChartTypeError{Requested: strings.TrimSpace(raw)}
}

// Spec describes one chart to render against the cached columns.
type Spec interface {
	Type() Type
	Title() string
	// Validate checks the spec's column references against the columns of
	// the cached result.
	Validate(columns []string) error
}

// ScatterSpec plots numeric x/y points with optional color and size
// encodings. It serves both the scatter and pca families; pca defaults the
// axes to PC1/PC2.
type ScatterSpec struct {
	Kind        Type
	XColumn     string
	YColumn     string
	ColorColumn string
	SizeColumn  string
	ChartTitle  string
}

func (s *ScatterSpec) Type() Type {
	if s.Kind == TypePCA {
		return TypePCA
	}
	return TypeScatter
}

func (s *ScatterSpec) Title() string {
	if s.ChartTitle != "" {
		return s.ChartTitle
	}
	if s.Type() == TypePCA {
		return "PCA Plot"
	}
	return "Scatter Plot"
}

func (s *ScatterSpec) Validate(columns []string) error {
	if s.XColumn == "" || s.YColumn == "" {
		return fmt.Errorf("%s chart requires x_column and y_column parameters", s.Type())
	}
	return checkColumns(columns,
		required(s.XColumn), required(s.YColumn),
		optional(s.ColorColumn), optional(s.SizeColumn))
}

// VolcanoSpec plots effect size against a significance measure. Points are
// labeled by thresholding the y column at SignificanceThreshold; the label
// is the color encoding. The threshold is a convention, not a parameter.
type VolcanoSpec struct {
	XColumn    string
	YColumn    string
	ChartTitle string
}

func (s *VolcanoSpec) Type() Type { return TypeVolcano }

func (s *VolcanoSpec) Title() string {
	if s.ChartTitle != "" {
		return s.ChartTitle
	}
	return "Volcano Plot"
}

func (s *VolcanoSpec) Validate(columns []string) error {
	if s.XColumn == "" || s.YColumn == "" {
		return fmt.Errorf("volcano chart requires x_column and y_column parameters")
	}
	return checkColumns(columns, required(s.XColumn), required(s.YColumn))
}

// HeatmapSpec renders the whole cached result as a color-coded grid. The
// first cached column provides the row labels; every remaining column is
// coerced to numeric.
type HeatmapSpec struct {
	ChartTitle string
}

func (s *HeatmapSpec) Type() Type { return TypeHeatmap }

func (s *HeatmapSpec) Title() string {
	if s.ChartTitle != "" {
		return s.ChartTitle
	}
	return "Heatmap"
}

func (s *HeatmapSpec) Validate(columns []string) error {
	if len(columns) < 2 {
		return fmt.Errorf("heatmap requires at least two columns in the cached result: a label column and one or more value columns")
	}
	return nil
}

// BarSpec plots a category/value pair. It serves the bar, enrichment, and
// dot families: enrichment orders categories by total value and colors them
// on a continuous scale, dot draws size-encoded points instead of bars.
type BarSpec struct {
	Kind        Type
	XColumn     string
	YColumn     string
	ColorColumn string
	SizeColumn  string
	ChartTitle  string
}

func (s *BarSpec) Type() Type {
	switch s.Kind {
	case TypeEnrichment, TypeDot:
		return s.Kind
	default:
		return TypeBar
	}
}

func (s *BarSpec) Title() string {
	if s.ChartTitle != "" {
		return s.ChartTitle
	}
	switch s.Type() {
	case TypeEnrichment:
		return "Enrichment Results"
	case TypeDot:
		return "Dot Plot"
	default:
		return "Bar Chart"
	}
}

func (s *BarSpec) Validate(columns []string) error {
	if s.XColumn == "" || s.YColumn == "" {
		return fmt.Errorf("%s chart requires x_column and y_column parameters", s.Type())
	}
	return checkColumns(columns,
		required(s.XColumn), required(s.YColumn),
		optional(s.ColorColumn), optional(s.SizeColumn))
}

// Parse turns the legacy pipe-delimited form "<type>|key=val|..." into a
// typed spec. Segments without key=value shape and unknown keys are
// ignored; column problems surface later from Validate.
func Parse(raw string) (Spec, error) {
	parts := strings.Split(raw, "|")
	params := make(map[string]string, len(parts))
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return FromArgs(parts[0], params)
}

// FromArgs builds a typed spec from a chart type tag and discrete
// parameters, applying the family defaults.
func FromArgs(chartType string, params map[string]string) (Spec, error) {
	kind, err := ParseType(chartType)
	if err != nil {
		return nil, err
	}

	get := func(key string) string {
		v := strings.TrimSpace(params[key])
		// The model frequently sends literal "None" for unset parameters.
		if strings.EqualFold(v, "none") || strings.EqualFold(v, "null") {
			return ""
		}
		return v
	}

	switch kind {
	case TypeScatter, TypePCA:
		spec := &ScatterSpec{
			Kind:        kind,
			XColumn:     get("x_column"),
			YColumn:     get("y_column"),
			ColorColumn: get("color_column"),
			SizeColumn:  get("size_column"),
			ChartTitle:  get("title"),
		}
		if kind == TypePCA {
			if spec.XColumn == "" {
				spec.XColumn = "PC1"
			}
			if spec.YColumn == "" {
				spec.YColumn = "PC2"
			}
		}
		return spec, nil

	case TypeVolcano:
		spec := &VolcanoSpec{
			XColumn:    get("x_column"),
			YColumn:    get("y_column"),
			ChartTitle: get("title"),
		}
		if spec.XColumn == "" {
			spec.XColumn = "log2FoldChange"
		}
		if spec.YColumn == "" {
			spec.YColumn = "padj"
		}
		return spec, nil

	case TypeHeatmap:
		return &HeatmapSpec{ChartTitle: get("title")}, nil

	default:
		return &BarSpec{
			Kind:        kind,
			XColumn:     get("x_column"),
			YColumn:     get("y_column"),
			ColorColumn: get("color_column"),
			SizeColumn:  get("size_column"),
			ChartTitle:  get("title"),
		}, nil
	}
}

type columnCheck struct {
	name     string
	required bool
}

func required(name string) columnCheck { return columnCheck{name: name, required: true} }
func optional(name string) columnCheck { return columnCheck{name: name} }

func checkColumns(available []string, checks ...columnCheck) error {
	for _, check := range checks {
		if check.name == "" && !check.required {
			continue
		}
		if !hasColumn(available, check.name) {
			return &MissingColumnError{Column: check.name, Available: available}
		}
	}
	return nil
}

func hasColumn(columns []string, name string) bool {
	for _, col := range columns {
		if col == name {
			return true
		}
	}
	return false
}
