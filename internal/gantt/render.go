// SPDX-License-Identifier: Apache-2.0

package gantt

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/adiadia/task-timeline/internal/timeline"
)

type Format string

const (
	FormatSVG  Format = "svg"
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatSVG, FormatHTML, FormatJSON:
		return f, nil
	case "":
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("unknown chart format %q", raw)
	}
}

func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatJSON:
		return "application/json"
	default:
		return "image/svg+xml"
	}
}

var funcMap = template.FuncMap{
	"f": func(v float64) string {
		return strconv.FormatFloat(v, 'f', 2, 64)
	},
	"g": func(v float64) string {
		return strconv.FormatFloat(v, 'g', 6, 64)
	},
	"add":  func(a, b float64) float64 { return a + b },
	"sub":  func(a, b float64) float64 { return a - b },
	"div2": func(v float64) float64 { return v / 2 },
	"utilization": func(busy float64, s timeline.Summary) string {
		span := s.Span()
		if span <= 0 {
			return "—"
		}
		return strconv.FormatFloat(busy/span*100, 'f', 1, 64) + "%"
	},
}

var templates = template.Must(template.New("gantt").Funcs(funcMap).Parse(tmplSVG + tmplHTML))

// Render writes the chart in the requested format.
func Render(w io.Writer, format Format, c Chart) error {
	switch format {
	case FormatSVG:
		return WriteSVG(w, c)
	case FormatHTML:
		return WriteHTML(w, c)
	case FormatJSON:
		return WriteJSON(w, c)
	default:
		return fmt.Errorf("unknown chart format %q", format)
	}
}

func WriteSVG(w io.Writer, c Chart) error {
	return templates.ExecuteTemplate(w, "svg", c)
}

func WriteHTML(w io.Writer, c Chart) error {
	return templates.ExecuteTemplate(w, "page", c)
}

func WriteJSON(w io.Writer, c Chart) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

const tmplSVG = `{{define "svg"}}<svg xmlns="http://www.w3.org/2000/svg" width="{{f .Width}}" height="{{f .Height}}" viewBox="0 0 {{f .Width}} {{f .Height}}" font-family="sans-serif" font-size="12">
<rect x="0" y="0" width="{{f .Width}}" height="{{f .Height}}" fill="#ffffff"/>
<text x="{{f .PlotLeft}}" y="24" font-size="15" font-weight="bold">{{.Title}}</text>
{{- range .Ticks}}
<line x1="{{f .X}}" y1="{{f $.PlotTop}}" x2="{{f .X}}" y2="{{f (add $.PlotTop $.PlotHeight)}}" stroke="#999999" stroke-dasharray="4 4" stroke-opacity="0.4"/>
<text x="{{f .X}}" y="{{f (add (add $.PlotTop $.PlotHeight) 16)}}" text-anchor="middle">{{.Label}}</text>
{{- end}}
{{- range .Lanes}}
<text x="{{f (sub $.PlotLeft 8)}}" y="{{f .Y}}" text-anchor="end" dominant-baseline="middle">{{.Label}}</text>
{{- end}}
{{- range .Bars}}
<rect x="{{f .X}}" y="{{f .Y}}" width="{{f .W}}" height="{{f .H}}" fill="{{.Color}}" fill-opacity="0.9" stroke="#000000" stroke-width="0.5"><title>{{.Label}} tid={{.TID}} addr={{.Addr}} [{{g .Start}}, {{g .End}}]</title></rect>
{{- end}}
<line x1="{{f .PlotLeft}}" y1="{{f (add .PlotTop .PlotHeight)}}" x2="{{f (add .PlotLeft .PlotWidth)}}" y2="{{f (add .PlotTop .PlotHeight)}}" stroke="#000000"/>
<text x="{{f (add .PlotLeft (div2 .PlotWidth))}}" y="{{f (add (add .PlotTop .PlotHeight) 40)}}" text-anchor="middle">Time</text>
<text x="16" y="{{f (add .PlotTop (div2 .PlotHeight))}}" text-anchor="middle" transform="rotate(-90 16 {{f (add .PlotTop (div2 .PlotHeight))}})">Thread ID</text>
<text x="{{f .LegendX}}" y="{{f (sub .PlotTop 10)}}" font-weight="bold">Task Labels</text>
{{- range .Legend}}
<rect x="{{f $.LegendX}}" y="{{f .Y}}" width="24" height="10" fill="{{.Color}}"/>
<text x="{{f (add $.LegendX 30)}}" y="{{f (add .Y 9)}}">{{.Label}}</text>
{{- end}}
</svg>{{end}}`

const tmplHTML = `{{define "page"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 24px; color: #1f2328; }
table { border-collapse: collapse; margin-top: 24px; font-size: 13px; }
th, td { border: 1px solid #d0d7de; padding: 4px 10px; text-align: right; }
th { background: #f6f8fa; }
td.l { text-align: left; }
.chart { overflow-x: auto; }
</style>
</head>
<body>
<div class="chart">{{template "svg" .}}</div>
<table>
<tr><th>Thread</th><th>Intervals</th><th>Busy</th><th>Utilization</th></tr>
{{- range .Summary.Threads}}
<tr><td>{{.TID}}</td><td>{{.Intervals}}</td><td>{{g .Busy}}</td><td>{{utilization .Busy $.Summary}}</td></tr>
{{- end}}
</table>
<table>
<tr><th>Thread</th><th class="l">Label</th><th class="l">Addr</th><th>Start</th><th>End</th><th>Duration</th></tr>
{{- range .Bars}}
<tr><td>{{.TID}}</td><td class="l">{{.Label}}</td><td class="l">{{.Addr}}</td><td>{{g .Start}}</td><td>{{g .End}}</td><td>{{g .Duration}}</td></tr>
{{- end}}
</table>
</body>
</html>
{{end}}`
