// SPDX-License-Identifier: Apache-2.0

// Command tasklog-gantt renders a task event table as a per-thread Gantt chart.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adiadia/task-timeline/internal/compress"
	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/gantt"
	"github.com/adiadia/task-timeline/internal/logging"
	"github.com/adiadia/task-timeline/internal/table"
	"github.com/adiadia/task-timeline/internal/timeline"
)

const usage = "Usage: tasklog-gantt [-o OUT] [-format svg|html|json] [-title TITLE] <table_path>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := logging.NewCLILogger(stderr)

	fs := flag.NewFlagSet("tasklog-gantt", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprintln(stdout, usage)
		fs.PrintDefaults()
	}
	outPath := fs.String("o", "", "output path (default: table path with the format extension)")
	formatFlag := fs.String("format", string(gantt.FormatSVG), "output format: svg, html or json")
	title := fs.String("title", "", "chart title")

	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) != 1 {
		fs.Usage()
		return 1
	}
	tablePath := positional[0]

	format, err := gantt.ParseFormat(*formatFlag)
	if err != nil {
		fmt.Fprintln(stdout, err)
		fs.Usage()
		return 1
	}

	events, stats, err := table.ReadFile(tablePath)
	if err != nil {
		logger.Error("read table failed", "path", tablePath, "error", err)
		fmt.Fprintf(stdout, "Cannot read %s: %v\n", tablePath, err)
		return 1
	}
	if stats.Skipped > 0 {
		logger.Warn("skipped malformed table rows", "path", tablePath, "rows", stats.Rows, "skipped", stats.Skipped)
	}

	res, err := timeline.Build(events)
	if errors.Is(err, domain.ErrNoEvents) || errors.Is(err, domain.ErrNoIntervals) {
		fmt.Fprintln(stdout, "No complete executing→completed intervals found.")
		return 1
	}
	if err != nil {
		logger.Error("build timeline failed", "path", tablePath, "error", err)
		return 1
	}
	logger.Debug("timeline reconstructed",
		"intervals", len(res.Intervals),
		"unmatched", res.Stats.Unmatched,
		"pending", res.Stats.Pending,
		"inverted", res.Stats.Inverted,
	)

	chartTitle := strings.TrimSpace(*title)
	if chartTitle == "" {
		chartTitle = "Task timeline: " + filepath.Base(tablePath)
	}
	chart := gantt.NewChart(res.Intervals, gantt.Options{Title: chartTitle})

	var buf bytes.Buffer
	if err := gantt.Render(&buf, format, chart); err != nil {
		logger.Error("render chart failed", "format", format, "error", err)
		return 1
	}

	dest := *outPath
	if dest == "" {
		dest = defaultOutputPath(tablePath, format)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		logger.Error("write chart failed", "path", dest, "error", err)
		fmt.Fprintf(stdout, "Cannot write %s: %v\n", dest, err)
		return 1
	}

	fmt.Fprintf(stdout, "Wrote %d intervals to %s\n", len(res.Intervals), dest)
	return 0
}

// defaultOutputPath swaps the table extension for the chart one, looking
// through a trailing .zst.
func defaultOutputPath(tablePath string, format gantt.Format) string {
	base := tablePath
	if compress.IsCompressedPath(base) {
		base = base[:len(base)-len(compress.Extension)]
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + format.Ext()
}

// parseInterleaved parses fs from args, allowing flags on either side of the
// positional arguments, and returns the positionals in order.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
