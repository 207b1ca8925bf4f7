package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"examflow/internal/task"
	"examflow/internal/workflow"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

var titleCaser = cases.Title(language.English)

// stageLabel turns "upload_processing" into "Upload Processing".
func stageLabel(stage workflow.Stage) string {
	if stage == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(string(stage), "_", " "))
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorFor(status string) string {
	switch status {
	case string(workflow.StatusCompleted):
		return ansiGreen
	case string(workflow.StatusFailed), string(task.StatusCancelled):
		return ansiRed
	case string(workflow.StatusInProgress), string(task.StatusRunning), string(task.StatusPaused):
		return ansiYellow
	case string(task.StatusPending):
		return ansiBlue
	}
	return ""
}

func paint(status string, colorize bool) string {
	if !colorize {
		return status
	}
	color := colorFor(status)
	if color == "" {
		return status
	}
	return color + status + ansiReset
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func formatPercent(fraction float64) string {
	return fmt.Sprintf("%.0f%%", fraction*100)
}

func stageRows(stages []workflow.StageSummary, colorize bool) [][]string {
	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		marker := ""
		if s.Current {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			stageLabel(s.Stage),
			paint(string(s.Status), colorize),
			fmt.Sprintf("%d%%", s.Progress),
			s.Failure,
		})
	}
	return rows
}

func renderSummary(out io.Writer, summary workflow.Summary, colorize bool) {
	fmt.Fprintf(out, "Exam:      %s\n", summary.ExamID)
	fmt.Fprintf(out, "Workflow:  %s\n", summary.WorkflowID)
	fmt.Fprintf(out, "Stage:     %s\n", stageLabel(summary.CurrentStage))
	fmt.Fprintf(out, "Progress:  %d%%\n", summary.OverallProgress)
	fmt.Fprintln(out, renderTable("Stages",
		[]string{"", "Stage", "Status", "Progress", "Failure"},
		stageRows(summary.Stages, colorize),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))

	p := summary.Processing
	q := summary.Quality
	fmt.Fprintln(out, renderTable("Processing",
		[]string{"Files", "Tasks", "Completed", "Failed", "Cancelled", "Sheets Ready", "Avg Quality", "Avg Confidence"},
		[][]string{{
			fmt.Sprint(p.Files),
			fmt.Sprint(p.Submitted),
			fmt.Sprint(p.Completed),
			fmt.Sprint(p.Failed),
			fmt.Sprint(p.Cancelled),
			fmt.Sprint(p.SheetsReady),
			formatPercent(q.AverageQuality),
			formatPercent(q.AverageIdentityConfidence),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}
