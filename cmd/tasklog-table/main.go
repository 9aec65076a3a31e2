// SPDX-License-Identifier: Apache-2.0

// Command tasklog-table extracts task lifecycle events from a runtime log and
// writes them as a colon-separated table.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/adiadia/task-timeline/internal/logging"
	"github.com/adiadia/task-timeline/internal/table"
	"github.com/adiadia/task-timeline/internal/tasklog"
)

const usage = "Usage: tasklog-table <input_log_path> <output_table_path>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := logging.NewCLILogger(stderr)

	if len(args) != 2 {
		fmt.Fprintln(stdout, usage)
		return 1
	}
	inputPath, outputPath := args[0], args[1]

	in, err := table.Open(inputPath)
	if err != nil {
		logger.Error("open log failed", "path", inputPath, "error", err)
		fmt.Fprintf(stdout, "Cannot read %s: %v\n", inputPath, err)
		return 1
	}
	events, stats, err := tasklog.Parse(in)
	_ = in.Close()
	if err != nil {
		logger.Error("parse log failed", "path", inputPath, "error", err)
		fmt.Fprintf(stdout, "Cannot read %s: %v\n", inputPath, err)
		return 1
	}

	logger.Debug("log scanned",
		"path", inputPath,
		"lines", stats.Lines,
		"matched", stats.Matched,
		"skipped", stats.Skipped,
	)

	if len(events) == 0 {
		fmt.Fprintln(stdout, "No matching task entries found.")
		return 1
	}

	if err := table.WriteFile(outputPath, events); err != nil {
		logger.Error("write table failed", "path", outputPath, "error", err)
		fmt.Fprintf(stdout, "Cannot write %s: %v\n", outputPath, err)
		return 1
	}

	fmt.Fprintf(stdout, "Wrote %d entries to %s\n", len(events), outputPath)
	return 0
}
