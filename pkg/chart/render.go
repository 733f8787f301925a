package chart

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	. "maragu.dev/gomponents"
	"maragu.dev/gomponents/html"

	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

const (
	// DefaultOutputDir is where chart documents land unless configured.
	DefaultOutputDir = "plots"

	maxLegendEntries   = 12
	maxHeatmapRows     = 60
	maxHeatmapColumns  = 30
	maxBarCategories   = 40
	maxHoverColumns    = 8
	filenameTimeLayout = "01_02_15_04_05"
)

type Config struct {
	Logger *slog.Logger

	// OutputDir receives the rendered HTML documents.
	OutputDir string

	// Clock stamps chart filenames. Defaults to the real clock.
	Clock clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Renderer turns the session's cached result set into chart documents.
type Renderer struct {
	log *slog.Logger
	cfg Config
}

func NewRenderer(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Renderer{log: cfg.Logger, cfg: cfg}, nil
}

// OutputDir returns the directory chart documents are written to.
func (r *Renderer) OutputDir() string {
	return r.cfg.OutputDir
}

// Render validates the spec against the session's cached result and writes
// a self-contained HTML document, returning the bare filename. The stages
// fail with distinguishable errors: ErrNoDataAvailable, ErrStaleData,
// MissingColumnError, then wrapped I/O errors.
func (r *Renderer) Render(spec Spec, cache *session.ResultCache) (string, error) {
	cached, ok := cache.Read()
	if !ok {
		return "", ErrNoDataAvailable
	}
	if !cache.IsFresh() {
		return "", ErrStaleData
	}
	if err := spec.Validate(cached.Columns); err != nil {
		return "", err
	}

	var body Node
	var err error
	switch s := spec.(type) {
	case *ScatterSpec:
		body, err = r.buildScatter(s, cached)
	case *VolcanoSpec:
		body, err = r.buildVolcano(s, cached)
	case *HeatmapSpec:
		body, err = r.buildHeatmap(s, cached)
	case *BarSpec:
		body, err = r.buildBar(s, cached)
	default:
		return "", &UnknownChartTypeError{Requested: string(spec.Type())}
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s_%s.html", spec.Type(), r.cfg.Clock.Now().Format(filenameTimeLayout))
	if err := r.write(filename, r.document(spec, cached, body)); err != nil {
		return "", err
	}

	r.log.Info("chart rendered",
		"type", spec.Type(),
		"file", filename,
		"rows", len(cached.Rows),
	)
	return filename, nil
}

func (r *Renderer) write(filename string, doc Node) error {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create plots directory: %w", err)
	}
	f, err := os.Create(filepath.Join(r.cfg.OutputDir, filename))
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()

	if err := doc.Render(f); err != nil {
		return fmt.Errorf("failed to write chart document: %w", err)
	}
	return nil
}

const chartCSS = `
body { margin: 0; background: #f7f8fa; color: #1f2430; font-family: system-ui, sans-serif; }
.wrap { max-width: 960px; margin: 24px auto; padding: 0 16px; }
.card { background: #fff; border: 1px solid #e3e6ea; border-radius: 8px; padding: 16px; }
h1 { font-size: 20px; margin: 0 0 12px; }
svg { width: 100%; height: auto; }
.meta { color: #5b6472; font-size: 13px; margin-top: 12px; }
code { background: #f0f2f5; padding: 2px 4px; border-radius: 4px; }
`

// document wraps the chart SVG in a standalone page. Everything is inline;
// the file needs no external assets.
func (r *Renderer) document(spec Spec, cached session.CachedResultSet, svg Node) Node {
	return html.Doctype(
		html.HTML(
			html.Lang("en"),
			html.Head(
				html.Meta(html.Charset("utf-8")),
				html.TitleEl(Text(spec.Title())),
				html.StyleEl(Raw(chartCSS)),
			),
			html.Body(
				html.Div(html.Class("wrap"),
					html.Div(html.Class("card"),
						html.H1(Text(spec.Title())),
						svg,
						html.P(html.Class("meta"),
							Text(fmt.Sprintf("%d rows rendered at %s from: ",
								len(cached.Rows),
								cached.CreatedAt.Format("2006-01-02 15:04:05 MST"))),
							html.Code(Text(cached.Query)),
						),
					),
				),
			),
		),
	)
}

type point struct {
	x, y     float64
	category string
	size     float64
	hasSize  bool
	hover    string
}

func (r *Renderer) buildScatter(spec *ScatterSpec, cached session.CachedResultSet) (Node, error) {
	points, err := extractPoints(cached, spec.XColumn, spec.YColumn, spec.ColorColumn, spec.SizeColumn)
	if err != nil {
		return nil, err
	}
	return scatterSVG(points, spec.Title(), spec.XColumn, spec.YColumn, nil), nil
}

func (r *Renderer) buildVolcano(spec *VolcanoSpec, cached session.CachedResultSet) (Node, error) {
	points, err := extractPoints(cached, spec.XColumn, spec.YColumn, "", "")
	if err != nil {
		return nil, err
	}

	// Significance is decided on the raw y value; the plot shows -log10(y)
	// so small p-values rise instead of vanishing.
	for i := range points {
		if points[i].y < SignificanceThreshold {
			points[i].category = "Significant"
		} else {
			points[i].category = "Not significant"
		}
		points[i].y = negLog10(points[i].y)
	}

	threshold := svgLineDashed(negLog10(SignificanceThreshold))
	return scatterSVG(points, spec.Title(), spec.XColumn, "-log10("+spec.YColumn+")", threshold), nil
}

// svgLineDashed returns a builder that draws the significance cutoff once
// the y scale is known.
func svgLineDashed(yValue float64) func(area plotArea, ys linearScale) Node {
	return func(area plotArea, ys linearScale) Node {
		if yValue < ys.d0 || yValue > ys.d1 {
			return nil
		}
		y := ys.at(yValue)
		return El("line",
			Attr("x1", fmtCoord(area.x0)), Attr("y1", fmtCoord(y)),
			Attr("x2", fmtCoord(area.x1)), Attr("y2", fmtCoord(y)),
			Attr("stroke", "#888888"), Attr("stroke-width", "1"),
			Attr("stroke-dasharray", "5 4"),
		)
	}
}

func negLog10(v float64) float64 {
	if v <= 0 {
		v = math.SmallestNonzeroFloat64
	}
	return -math.Log10(v)
}

func scatterSVG(points []point, title, xLabel, yLabel string, overlay func(plotArea, linearScale) Node) Node {
	area := plotArea{x0: 70, y0: 50, x1: chartWidth - 170, y1: chartHeight - 70}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	minS, maxS := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.x), math.Max(maxX, p.x)
		minY, maxY = math.Min(minY, p.y), math.Max(maxY, p.y)
		if p.hasSize {
			minS, maxS = math.Min(minS, p.size), math.Max(maxS, p.size)
		}
	}

	xTicks := niceTicks(minX, maxX, 8)
	yTicks := niceTicks(minY, maxY, 7)
	xs := newLinearScale(xTicks[0], xTicks[len(xTicks)-1], area.x0, area.x1)
	ys := newLinearScale(yTicks[0], yTicks[len(yTicks)-1], area.y1, area.y0)

	colors := assignCategoryColors(points)

	nodes := []Node{
		chartTitle(title),
		yAxis(area, ys, yTicks, yLabel),
		xAxis(area, xs, xTicks, xLabel),
	}
	if overlay != nil {
		nodes = append(nodes, overlay(area, ys))
	}
	for _, p := range points {
		radius := 4.0
		if p.hasSize && maxS > minS {
			radius = 3 + 7*math.Sqrt((p.size-minS)/(maxS-minS))
		}
		fill := categoricalPalette[0]
		if p.category != "" {
			fill = colors[p.category]
		}
		nodes = append(nodes, svgCircle(xs.at(p.x), ys.at(p.y), radius, fill, hoverTitle(p.hover)))
	}
	if len(colors) > 0 {
		nodes = append(nodes, legendBox(area.x1+20, area.y0+10, legendEntries(points, colors)))
	}
	return svgRoot(nodes...)
}

// assignCategoryColors maps categories to palette colors in first-seen
// order. Volcano labels keep their fixed colors.
func assignCategoryColors(points []point) map[string]string {
	colors := make(map[string]string)
	next := 0
	for _, p := range points {
		if p.category == "" {
			continue
		}
		if _, ok := colors[p.category]; ok {
			continue
		}
		switch p.category {
		case "Significant":
			colors[p.category] = significantColor
		case "Not significant":
			colors[p.category] = notSignificantColor
		default:
			colors[p.category] = colorFor(next)
			next++
		}
	}
	return colors
}

func legendEntries(points []point, colors map[string]string) []legendEntry {
	seen := make(map[string]bool)
	entries := make([]legendEntry, 0, len(colors))
	for _, p := range points {
		if p.category == "" || seen[p.category] {
			continue
		}
		seen[p.category] = true
		entries = append(entries, legendEntry{label: p.category, color: colors[p.category]})
		if len(entries) == maxLegendEntries {
			break
		}
	}
	return entries
}

func extractPoints(cached session.CachedResultSet, xCol, yCol, colorCol, sizeCol string) ([]point, error) {
	points := make([]point, 0, len(cached.Rows))
	for _, row := range cached.Rows {
		x, okX := toFloat(row[xCol])
		y, okY := toFloat(row[yCol])
		if !okX || !okY {
			continue
		}
		p := point{x: x, y: y, hover: hoverText(row, cached.Columns)}
		if colorCol != "" {
			p.category = asLabel(row[colorCol])
		}
		if sizeCol != "" {
			if s, ok := toFloat(row[sizeCol]); ok {
				p.size = s
				p.hasSize = true
			}
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no numeric values found in columns %q and %q; pick numeric columns from the cached result", xCol, yCol)
	}
	return points, nil
}

func (r *Renderer) buildHeatmap(spec *HeatmapSpec, cached session.CachedResultSet) (Node, error) {
	labelCol := cached.Columns[0]
	valueCols := cached.Columns[1:]
	truncated := ""
	if len(valueCols) > maxHeatmapColumns {
		truncated = fmt.Sprintf("showing first %d of %d value columns", maxHeatmapColumns, len(valueCols))
		valueCols = valueCols[:maxHeatmapColumns]
	}
	rows := cached.Rows
	if len(rows) > maxHeatmapRows {
		note := fmt.Sprintf("showing first %d of %d rows", maxHeatmapRows, len(rows))
		if truncated != "" {
			truncated += "; " + note
		} else {
			truncated = note
		}
		rows = rows[:maxHeatmapRows]
	}

	matrix := make([][]float64, len(rows))
	labels := make([]string, len(rows))
	minV, maxV := math.Inf(1), math.Inf(-1)
	hasValue := false
	for i, row := range rows {
		labels[i] = asLabel(row[labelCol])
		matrix[i] = make([]float64, len(valueCols))
		for j, col := range valueCols {
			v, ok := toFloat(row[col])
			if !ok {
				matrix[i][j] = math.NaN()
				continue
			}
			matrix[i][j] = v
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
			hasValue = true
		}
	}
	if !hasValue {
		return nil, fmt.Errorf("no numeric values found beyond the label column %q; a heatmap needs numeric value columns", labelCol)
	}
	if minV == maxV {
		minV, maxV = minV-1, maxV+1
	}

	area := plotArea{x0: 150, y0: 60, x1: chartWidth - 120, y1: chartHeight - 90}
	cellW := area.width() / float64(len(valueCols))
	cellH := area.height() / float64(len(rows))

	nodes := []Node{chartTitle(spec.Title())}
	if truncated != "" {
		nodes = append(nodes, svgText(chartWidth/2, 46, "middle", truncated, Attr("font-size", "11")))
	}
	for i := range matrix {
		for j := range matrix[i] {
			x := area.x0 + float64(j)*cellW
			y := area.y0 + float64(i)*cellH
			v := matrix[i][j]
			fill := "#f0f0f0"
			hover := fmt.Sprintf("%s / %s: not numeric", labels[i], valueCols[j])
			if !math.IsNaN(v) {
				fill = lerpColor((v - minV) / (maxV - minV))
				hover = fmt.Sprintf("%s / %s: %s", labels[i], valueCols[j], fmtValue(v))
			}
			nodes = append(nodes, svgRect(x, y, cellW, cellH, fill, hoverTitle(hover)))
		}
	}

	if len(rows) <= 30 {
		for i, label := range labels {
			y := area.y0 + (float64(i)+0.5)*cellH + 4
			nodes = append(nodes, svgText(area.x0-6, y, "end", truncateLabel(label, 18)))
		}
	}
	rotate := longestLabel(valueCols) > 8
	for j, col := range valueCols {
		x := area.x0 + (float64(j)+0.5)*cellW
		nodes = append(nodes, categoryTick(x, area.y1+16, col, rotate))
	}
	nodes = append(nodes, gradientLegend(area.x1+30, area.y0, area.height()/2, minV, maxV))
	return svgRoot(nodes...), nil
}

type bar struct {
	category string
	value    float64
	color    string
	colorKey string
	size     float64
	hasSize  bool
	hover    string
}

func (r *Renderer) buildBar(spec *BarSpec, cached session.CachedResultSet) (Node, error) {
	bars, err := extractBars(spec, cached)
	if err != nil {
		return nil, err
	}

	if spec.Type() == TypeEnrichment {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].value > bars[j].value })
	}
	truncated := ""
	if len(bars) > maxBarCategories {
		truncated = fmt.Sprintf("showing first %d of %d categories", maxBarCategories, len(bars))
		bars = bars[:maxBarCategories]
	}

	minV, maxV := 0.0, 0.0
	for _, b := range bars {
		minV = math.Min(minV, b.value)
		maxV = math.Max(maxV, b.value)
	}
	yTicks := niceTicks(minV, maxV, 7)

	area := plotArea{x0: 70, y0: 50, x1: chartWidth - 150, y1: chartHeight - 110}
	ys := newLinearScale(yTicks[0], yTicks[len(yTicks)-1], area.y1, area.y0)
	slot := area.width() / float64(len(bars))

	// Enrichment colors by value on the continuous ramp; the other
	// families use the categorical palette, keyed by the color column
	// when one is set.
	continuous := spec.Type() == TypeEnrichment && spec.ColorColumn == ""
	colors := map[string]string{}
	var legend []legendEntry
	next := 0
	for i := range bars {
		switch {
		case continuous:
			bars[i].color = lerpColor((bars[i].value - minV) / math.Max(maxV-minV, 1e-12))
		case spec.ColorColumn != "":
			key := bars[i].colorKey
			if c, ok := colors[key]; ok {
				bars[i].color = c
			} else {
				bars[i].color = colorFor(next)
				colors[key] = bars[i].color
				if len(legend) < maxLegendEntries {
					legend = append(legend, legendEntry{label: key, color: bars[i].color})
				}
				next++
			}
		default:
			bars[i].color = categoricalPalette[0]
		}
	}

	nodes := []Node{
		chartTitle(spec.Title()),
		yAxis(area, ys, yTicks, spec.YColumn),
		svgLine(area.x0, area.y1, area.x1, area.y1, axisColor, 1),
	}
	if truncated != "" {
		nodes = append(nodes, svgText(chartWidth/2, 46, "middle", truncated, Attr("font-size", "11")))
	}

	minS, maxS := math.Inf(1), math.Inf(-1)
	for _, b := range bars {
		if b.hasSize {
			minS, maxS = math.Min(minS, b.size), math.Max(maxS, b.size)
		}
	}

	zero := ys.at(math.Max(yTicks[0], 0))
	for i, b := range bars {
		center := area.x0 + (float64(i)+0.5)*slot
		if spec.Type() == TypeDot {
			radius := 6.0
			if b.hasSize && maxS > minS {
				radius = 4 + 8*math.Sqrt((b.size-minS)/(maxS-minS))
			}
			nodes = append(nodes, svgCircle(center, ys.at(b.value), radius, b.color, hoverTitle(b.hover)))
		} else {
			top := ys.at(math.Max(b.value, 0))
			bottom := ys.at(math.Min(b.value, 0))
			if b.value >= 0 {
				bottom = zero
			} else {
				top = zero
			}
			nodes = append(nodes, svgRect(center-slot*0.35, top, slot*0.7, bottom-top, b.color, hoverTitle(b.hover)))
		}
	}

	rotate := len(bars) > 12 || longestBarLabel(bars) > 8
	for i, b := range bars {
		center := area.x0 + (float64(i)+0.5)*slot
		nodes = append(nodes, categoryTick(center, area.y1+16, b.category, rotate))
	}
	nodes = append(nodes, svgText((area.x0+area.x1)/2, chartHeight-20, "middle", spec.XColumn,
		Attr("font-weight", "600")))

	if continuous {
		nodes = append(nodes, gradientLegend(area.x1+28, area.y0, (area.y1-area.y0)/2, minV, maxV))
	}
	if len(legend) > 0 {
		nodes = append(nodes, legendBox(area.x1+20, area.y0+10, legend))
	}
	return svgRoot(nodes...), nil
}

func extractBars(spec *BarSpec, cached session.CachedResultSet) ([]bar, error) {
	index := make(map[string]int)
	bars := make([]bar, 0, len(cached.Rows))
	for _, row := range cached.Rows {
		v, ok := toFloat(row[spec.YColumn])
		if !ok {
			continue
		}
		category := asLabel(row[spec.XColumn])
		if i, ok := index[category]; ok {
			bars[i].value += v
			continue
		}
		b := bar{category: category, value: v, hover: hoverText(row, cached.Columns)}
		if spec.ColorColumn != "" {
			b.colorKey = asLabel(row[spec.ColorColumn])
		}
		if spec.SizeColumn != "" {
			if s, ok := toFloat(row[spec.SizeColumn]); ok {
				b.size = s
				b.hasSize = true
			}
		}
		index[category] = len(bars)
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no numeric values found in column %q; pick a numeric y_column from the cached result", spec.YColumn)
	}
	return bars, nil
}

func longestLabel(labels []string) int {
	max := 0
	for _, l := range labels {
		if n := len([]rune(l)); n > max {
			max = n
		}
	}
	return max
}

func longestBarLabel(bars []bar) int {
	labels := make([]string, len(bars))
	for i, b := range bars {
		labels[i] = b.category
	}
	return longestLabel(labels)
}

// toFloat coerces driver values to float64. Strings parse when numeric.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case []byte:
		return parseFloat(string(t))
	case string:
		return parseFloat(t)
	default:
		return 0, false
	}
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asLabel(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return fmtValue(t)
	default:
		return fmt.Sprint(t)
	}
}

// hoverText summarizes a row for the native SVG tooltip.
func hoverText(row store.Row, columns []string) string {
	parts := make([]string, 0, maxHoverColumns)
	for _, col := range columns {
		if len(parts) == maxHoverColumns {
			parts = append(parts, "…")
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", col, asLabel(row[col])))
	}
	return strings.Join(parts, "\n")
}
