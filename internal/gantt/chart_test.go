// SPDX-License-Identifier: Apache-2.0

package gantt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/adiadia/task-timeline/internal/domain"
)

func sampleIntervals() []domain.Interval {
	return []domain.Interval{
		{TID: 7, Label: "gemm", Addr: "0x1", Start: 0, End: 10},
		{TID: 3, Label: "axpy", Addr: "0x2", Start: 5, End: 6},
		{TID: 7, Label: "axpy", Addr: "0x3", Start: 10, End: 10},
	}
}

func TestNewChartLanesSortedByTID(t *testing.T) {
	c := NewChart(sampleIntervals(), Options{})

	if len(c.Lanes) != 2 {
		t.Fatalf("expected 2 lanes got %d", len(c.Lanes))
	}
	if c.Lanes[0].TID != 3 || c.Lanes[1].TID != 7 {
		t.Fatalf("expected lanes [3 7] got [%d %d]", c.Lanes[0].TID, c.Lanes[1].TID)
	}
	if c.Lanes[0].Y >= c.Lanes[1].Y {
		t.Fatal("expected lane 3 above lane 7")
	}
}

func TestNewChartGeometry(t *testing.T) {
	c := NewChart(sampleIntervals(), Options{Width: 1000, LaneHeight: 40})

	for _, b := range c.Bars {
		if b.X < c.PlotLeft || b.X+b.W > c.PlotLeft+c.PlotWidth+minBarWidth {
			t.Fatalf("bar outside plot area: %+v", b)
		}
		if b.W < minBarWidth {
			t.Fatalf("bar narrower than minimum: %+v", b)
		}
		if b.H != 24 {
			t.Fatalf("expected bar height 24 got %v", b.H)
		}
	}

	// The longest bar is drawn first and spans the whole plot.
	if c.Bars[0].Label != "gemm" || c.Bars[0].W != c.PlotWidth {
		t.Fatalf("expected gemm bar to span plot width, got %+v", c.Bars[0])
	}
	if len(c.Ticks) != tickCount || c.Ticks[0].Label != "0" || c.Ticks[tickCount-1].Label != "10" {
		t.Fatalf("unexpected ticks %+v", c.Ticks)
	}
}

func TestNewChartColorsByLabel(t *testing.T) {
	c := NewChart(sampleIntervals(), Options{})

	colors := map[string]string{}
	for _, b := range c.Bars {
		if prev, ok := colors[b.Label]; ok && prev != b.Color {
			t.Fatalf("label %s drawn with two colours", b.Label)
		}
		colors[b.Label] = b.Color
	}
	if colors["axpy"] != palette[0] || colors["gemm"] != palette[1] {
		t.Fatalf("expected colours assigned in label order, got %v", colors)
	}
}

func TestPaletteCycles(t *testing.T) {
	var ivs []domain.Interval
	for i := 0; i < 25; i++ {
		ivs = append(ivs, domain.Interval{TID: 1, Label: fmt.Sprintf("l%02d", i), Addr: "0x1", Start: float64(i), End: float64(i) + 1})
	}

	c := NewChart(ivs, Options{})
	if len(c.Legend) != 25 {
		t.Fatalf("expected 25 legend entries got %d", len(c.Legend))
	}
	if c.Legend[20].Color != c.Legend[0].Color {
		t.Fatalf("expected colour reuse after %d labels", len(palette))
	}
	if c.Height < c.PlotTop+25*legendRow {
		t.Fatalf("expected chart tall enough for legend, got %v", c.Height)
	}
}

func TestWriteSVGEscapesLabels(t *testing.T) {
	ivs := []domain.Interval{{TID: 1, Label: "<script>x</script>", Addr: "0x1", Start: 0, End: 1}}

	var buf bytes.Buffer
	if err := WriteSVG(&buf, NewChart(ivs, Options{Title: "t"})); err != nil {
		t.Fatalf("write svg: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<svg") {
		t.Fatalf("expected svg document, got %q", out[:20])
	}
	if strings.Contains(out, "<script>") {
		t.Fatal("expected label to be escaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Fatal("expected escaped label in output")
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, NewChart(sampleIntervals(), Options{Title: "run 1"})); err != nil {
		t.Fatalf("write html: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<!DOCTYPE html>", "<svg", "run 1", "gemm", "0x3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected html to contain %q", want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, NewChart(sampleIntervals(), Options{})); err != nil {
		t.Fatalf("write json: %v", err)
	}

	var decoded struct {
		Bars []struct {
			TID   int     `json:"tid"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Bars) != 3 {
		t.Fatalf("expected 3 bars got %d", len(decoded.Bars))
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
		ok   bool
	}{
		{in: "", want: FormatSVG, ok: true},
		{in: "SVG", want: FormatSVG, ok: true},
		{in: "html", want: FormatHTML, ok: true},
		{in: "json", want: FormatJSON, ok: true},
		{in: "png"},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseFormat(%q): unexpected error %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseFormat(%q): expected %s got %s", tc.in, tc.want, got)
		}
	}
	if FormatHTML.Ext() != ".html" {
		t.Fatalf("unexpected extension %s", FormatHTML.Ext())
	}
}
