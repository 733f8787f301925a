package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	. "maragu.dev/gomponents"
	"maragu.dev/gomponents/html"
)

const (
	chartWidth  = 900
	chartHeight = 560

	axisColor = "#444444"
	gridColor = "#e3e6ea"
)

// categoricalPalette cycles through the point and bar colors.
var categoricalPalette = []string{
	"#636efa", "#ef553b", "#00cc96", "#ab63fa", "#ffa15a",
	"#19d3f3", "#ff6692", "#b6e880", "#ff97ff", "#fecb52",
}

const (
	significantColor    = "#ef553b"
	notSignificantColor = "#636efa"
)

func colorFor(i int) string {
	return categoricalPalette[i%len(categoricalPalette)]
}

// lerpColor maps t in [0,1] onto a cool-to-warm gradient.
func lerpColor(t float64) string {
	t = math.Max(0, math.Min(1, t))
	low := [3]float64{59, 76, 192}
	mid := [3]float64{221, 221, 221}
	high := [3]float64{180, 4, 38}

	var from, to [3]float64
	if t < 0.5 {
		from, to = low, mid
		t = t * 2
	} else {
		from, to = mid, high
		t = (t - 0.5) * 2
	}
	var rgb [3]int
	for i := range rgb {
		rgb[i] = int(math.Round(from[i] + (to[i]-from[i])*t))
	}
	return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2])
}

// plotArea is the drawable region inside the margins.
type plotArea struct {
	x0, y0, x1, y1 float64
}

func (a plotArea) width() float64  { return a.x1 - a.x0 }
func (a plotArea) height() float64 { return a.y1 - a.y0 }

// linearScale maps a data domain onto pixel coordinates. A degenerate
// domain is widened so single-valued data still renders.
type linearScale struct {
	d0, d1 float64
	r0, r1 float64
}

func newLinearScale(d0, d1, r0, r1 float64) linearScale {
	if d0 == d1 {
		d0--
		d1++
	}
	return linearScale{d0: d0, d1: d1, r0: r0, r1: r1}
}

func (s linearScale) at(v float64) float64 {
	return s.r0 + (v-s.d0)/(s.d1-s.d0)*(s.r1-s.r0)
}

// niceTicks picks round tick values covering [min, max].
func niceTicks(min, max float64, count int) []float64 {
	if count < 2 {
		count = 2
	}
	if min == max {
		min--
		max++
	}
	step := niceNum((max-min)/float64(count-1), true)
	lo := math.Floor(min/step) * step
	hi := math.Ceil(max/step) * step

	ticks := make([]float64, 0, count+2)
	for v := lo; v <= hi+step/2; v += step {
		ticks = append(ticks, v)
	}
	return ticks
}

func niceNum(x float64, round bool) float64 {
	if x <= 0 {
		return 1
	}
	exp := math.Floor(math.Log10(x))
	frac := x / math.Pow(10, exp)
	var nice float64
	switch {
	case round && frac < 1.5, !round && frac <= 1:
		nice = 1
	case round && frac < 3, !round && frac <= 2:
		nice = 2
	case round && frac < 7, !round && frac <= 5:
		nice = 5
	default:
		nice = 10
	}
	return nice * math.Pow(10, exp)
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func fmtValue(v float64) string {
	if v == 0 {
		return "0"
	}
	if a := math.Abs(v); a >= 100000 || a < 0.001 {
		return strconv.FormatFloat(v, 'e', 1, 64)
	}
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func svgRoot(children ...Node) Node {
	return html.SVG(
		Attr("viewBox", fmt.Sprintf("0 0 %d %d", chartWidth, chartHeight)),
		Attr("xmlns", "http://www.w3.org/2000/svg"),
		Attr("font-family", "system-ui, sans-serif"),
		Attr("font-size", "12"),
		Group(children),
	)
}

func svgLine(x1, y1, x2, y2 float64, stroke string, width float64) Node {
	return El("line",
		Attr("x1", fmtCoord(x1)), Attr("y1", fmtCoord(y1)),
		Attr("x2", fmtCoord(x2)), Attr("y2", fmtCoord(y2)),
		Attr("stroke", stroke), Attr("stroke-width", fmtCoord(width)),
	)
}

func svgRect(x, y, w, h float64, fill string, extra ...Node) Node {
	return El("rect",
		Attr("x", fmtCoord(x)), Attr("y", fmtCoord(y)),
		Attr("width", fmtCoord(math.Max(w, 0))), Attr("height", fmtCoord(math.Max(h, 0))),
		Attr("fill", fill),
		Group(extra),
	)
}

func svgCircle(cx, cy, r float64, fill string, extra ...Node) Node {
	return El("circle",
		Attr("cx", fmtCoord(cx)), Attr("cy", fmtCoord(cy)),
		Attr("r", fmtCoord(r)),
		Attr("fill", fill), Attr("fill-opacity", "0.8"),
		Group(extra),
	)
}

func svgText(x, y float64, anchor, content string, extra ...Node) Node {
	return El("text",
		Attr("x", fmtCoord(x)), Attr("y", fmtCoord(y)),
		Attr("text-anchor", anchor),
		Attr("fill", axisColor),
		Group(extra),
		Text(content),
	)
}

// hoverTitle attaches the native SVG tooltip to a shape.
func hoverTitle(s string) Node {
	if s == "" {
		return nil
	}
	return El("title", Text(s))
}

func chartTitle(title string) Node {
	return svgText(chartWidth/2, 28, "middle", title,
		Attr("font-size", "18"), Attr("font-weight", "600"))
}

func xAxis(area plotArea, s linearScale, ticks []float64, label string) Node {
	nodes := []Node{svgLine(area.x0, area.y1, area.x1, area.y1, axisColor, 1)}
	for _, t := range ticks {
		if t < s.d0 || t > s.d1 {
			continue
		}
		x := s.at(t)
		nodes = append(nodes,
			svgLine(x, area.y1, x, area.y1+5, axisColor, 1),
			svgText(x, area.y1+19, "middle", fmtValue(t)),
		)
	}
	if label != "" {
		nodes = append(nodes, svgText((area.x0+area.x1)/2, area.y1+44, "middle", label,
			Attr("font-weight", "600")))
	}
	return El("g", Group(nodes))
}

func yAxis(area plotArea, s linearScale, ticks []float64, label string) Node {
	nodes := []Node{svgLine(area.x0, area.y0, area.x0, area.y1, axisColor, 1)}
	for _, t := range ticks {
		if t < s.d0 || t > s.d1 {
			continue
		}
		y := s.at(t)
		nodes = append(nodes,
			svgLine(area.x0, y, area.x1, y, gridColor, 1),
			svgLine(area.x0-5, y, area.x0, y, axisColor, 1),
			svgText(area.x0-8, y+4, "end", fmtValue(t)),
		)
	}
	if label != "" {
		mid := (area.y0 + area.y1) / 2
		nodes = append(nodes, El("text",
			Attr("x", fmtCoord(area.x0-48)), Attr("y", fmtCoord(mid)),
			Attr("text-anchor", "middle"), Attr("fill", axisColor),
			Attr("font-weight", "600"),
			Attr("transform", fmt.Sprintf("rotate(-90 %s %s)", fmtCoord(area.x0-48), fmtCoord(mid))),
			Text(label),
		))
	}
	return El("g", Group(nodes))
}

// categoryTick renders one category label, rotated when labels are long.
func categoryTick(x, y float64, label string, rotate bool) Node {
	label = truncateLabel(label, 24)
	if !rotate {
		return svgText(x, y, "middle", label)
	}
	return El("text",
		Attr("x", fmtCoord(x)), Attr("y", fmtCoord(y)),
		Attr("text-anchor", "end"), Attr("fill", axisColor),
		Attr("transform", fmt.Sprintf("rotate(-40 %s %s)", fmtCoord(x), fmtCoord(y))),
		Text(label),
	)
}

type legendEntry struct {
	label string
	color string
}

func legendBox(x, y float64, entries []legendEntry) Node {
	nodes := make([]Node, 0, len(entries)*2)
	for i, entry := range entries {
		ey := y + float64(i)*20
		nodes = append(nodes,
			svgRect(x, ey, 12, 12, entry.color),
			svgText(x+18, ey+10, "start", truncateLabel(entry.label, 18)),
		)
	}
	return El("g", Group(nodes))
}

// gradientLegend draws a vertical color ramp annotated with the value range.
func gradientLegend(x, y, h float64, minV, maxV float64) Node {
	return El("g",
		El("defs",
			El("linearGradient", Attr("id", "ramp"),
				Attr("x1", "0"), Attr("y1", "1"), Attr("x2", "0"), Attr("y2", "0"),
				El("stop", Attr("offset", "0%"), Attr("stop-color", lerpColor(0))),
				El("stop", Attr("offset", "50%"), Attr("stop-color", lerpColor(0.5))),
				El("stop", Attr("offset", "100%"), Attr("stop-color", lerpColor(1))),
			),
		),
		svgRect(x, y, 14, h, "url(#ramp)", Attr("stroke", axisColor), Attr("stroke-width", "0.5")),
		svgText(x+20, y+10, "start", fmtValue(maxV)),
		svgText(x+20, y+h, "start", fmtValue(minV)),
	)
}

func truncateLabel(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
