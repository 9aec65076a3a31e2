// SPDX-License-Identifier: Apache-2.0

// Package gantt lays out execution intervals as a per-thread timeline and
// renders it as SVG, HTML or JSON.
package gantt

import (
	"sort"
	"strconv"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/timeline"
)

// palette is a 20-colour categorical scheme; labels beyond 20 reuse colours.
var palette = []string{
	"#1f77b4", "#aec7e8", "#ff7f0e", "#ffbb78", "#2ca02c",
	"#98df8a", "#d62728", "#ff9896", "#9467bd", "#c5b0d5",
	"#8c564b", "#c49c94", "#e377c2", "#f7b6d2", "#7f7f7f",
	"#c7c7c7", "#bcbd22", "#dbdb8d", "#17becf", "#9edae5",
}

const (
	defaultWidth      = 1200
	defaultLaneHeight = 36
	defaultTitle      = "Gantt: tasks plotted on the thread that executed them (executing→completed)"

	marginLeft   = 80.0
	marginTop    = 48.0
	marginBottom = 56.0
	legendWidth  = 220.0
	legendRow    = 18.0
	tickCount    = 6
	minBarWidth  = 1.0
)

type Options struct {
	Title      string
	Width      int
	LaneHeight int
}

type Lane struct {
	TID   int     `json:"tid"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
}

type Bar struct {
	domain.Interval
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Color string  `json:"color"`
}

type Tick struct {
	X     float64 `json:"x"`
	Label string  `json:"label"`
}

type LegendEntry struct {
	Label string  `json:"label"`
	Color string  `json:"color"`
	Y     float64 `json:"y"`
}

// Chart is a fully laid out timeline. Coordinates are SVG user units.
type Chart struct {
	Title      string           `json:"title"`
	Width      float64          `json:"width"`
	Height     float64          `json:"height"`
	PlotLeft   float64          `json:"plot_left"`
	PlotTop    float64          `json:"plot_top"`
	PlotWidth  float64          `json:"plot_width"`
	PlotHeight float64          `json:"plot_height"`
	LegendX    float64          `json:"legend_x"`
	Lanes      []Lane           `json:"lanes"`
	Bars       []Bar            `json:"bars"`
	Ticks      []Tick           `json:"ticks"`
	Legend     []LegendEntry    `json:"legend"`
	Summary    timeline.Summary `json:"summary"`
}

// ColorFor returns the palette colour of the i-th label in sorted order.
func ColorFor(i int) string {
	return palette[i%len(palette)]
}

// NewChart lays out intervals: one lane per thread in ascending tid order,
// one colour per label in ascending label order, x scaled to the global span.
func NewChart(intervals []domain.Interval, opts Options) Chart {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.LaneHeight <= 0 {
		opts.LaneHeight = defaultLaneHeight
	}
	if opts.Title == "" {
		opts.Title = defaultTitle
	}

	summary := timeline.Summarize(intervals)
	laneH := float64(opts.LaneHeight)

	c := Chart{
		Title:     opts.Title,
		Width:     float64(opts.Width),
		PlotLeft:  marginLeft,
		PlotTop:   marginTop,
		PlotWidth: float64(opts.Width) - marginLeft - legendWidth - 20,
		Summary:   summary,
	}
	if c.PlotWidth < 100 {
		c.PlotWidth = 100
		c.Width = marginLeft + c.PlotWidth + legendWidth + 20
	}
	c.LegendX = c.PlotLeft + c.PlotWidth + 20

	laneOf := make(map[int]int, len(summary.Threads))
	for i, th := range summary.Threads {
		laneOf[th.TID] = i
		c.Lanes = append(c.Lanes, Lane{
			TID:   th.TID,
			Y:     c.PlotTop + float64(i)*laneH + laneH/2,
			Label: strconv.Itoa(th.TID),
		})
	}
	c.PlotHeight = float64(len(c.Lanes)) * laneH

	colorOf := make(map[string]string, len(summary.Labels))
	for i, l := range summary.Labels {
		colorOf[l] = ColorFor(i)
		c.Legend = append(c.Legend, LegendEntry{
			Label: l,
			Color: ColorFor(i),
			Y:     c.PlotTop + float64(i)*legendRow,
		})
	}

	span := summary.Span()
	if span <= 0 {
		span = 1
	}
	scale := c.PlotWidth / span

	barH := laneH * 0.6
	for _, iv := range intervals {
		w := iv.Duration() * scale
		if w < minBarWidth {
			w = minBarWidth
		}
		lane := laneOf[iv.TID]
		c.Bars = append(c.Bars, Bar{
			Interval: iv,
			X:        c.PlotLeft + (iv.Start-summary.Start)*scale,
			Y:        c.PlotTop + float64(lane)*laneH + (laneH-barH)/2,
			W:        w,
			H:        barH,
			Color:    colorOf[iv.Label],
		})
	}
	// Draw long bars first so short ones stay visible on top.
	sort.SliceStable(c.Bars, func(i, j int) bool {
		return c.Bars[i].W > c.Bars[j].W
	})

	for i := 0; i < tickCount; i++ {
		frac := float64(i) / float64(tickCount-1)
		c.Ticks = append(c.Ticks, Tick{
			X:     c.PlotLeft + frac*c.PlotWidth,
			Label: strconv.FormatFloat(summary.Start+frac*summary.Span(), 'g', 6, 64),
		})
	}

	c.Height = c.PlotTop + c.PlotHeight + marginBottom
	if legendBottom := c.PlotTop + float64(len(c.Legend))*legendRow + marginBottom; legendBottom > c.Height {
		c.Height = legendBottom
	}

	return c
}
