package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"examflow/internal/logging"
	"examflow/internal/services"
)

func TestConsoleHandlerRendersSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "scheduler")
	logger.Info("task completed",
		logging.String(logging.FieldExamID, "exam-1"),
		logging.String(logging.FieldTaskID, "1a2b3c4d-0000-0000-0000-000000000000"),
		logging.Int("duration_ms", 42),
	)

	line := buf.String()
	if !strings.Contains(line, " INFO [exam-1 · task 1a2b3c4d] scheduler: task completed") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "duration_ms=42") {
		t.Fatalf("expected remaining attrs in line: %q", line)
	}
	if strings.Contains(line, "task_id=") {
		t.Fatalf("subject fields should not repeat as attrs: %q", line)
	}
}

func TestConsoleHandlerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "warn", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("ignored")
	logger.Debug("ignored")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	logger.Warn("kept", logging.String("note", "two words"))
	if !strings.Contains(buf.String(), `note="two words"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestJSONHandlerUsesShortKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error("boom", logging.String(logging.FieldStage, "marking"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json line: %v (%q)", err, buf.String())
	}
	if payload["level"] != "error" || payload["msg"] != "boom" || payload["stage"] != "marking" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestNewWritesAndClosesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "examflow.log")
	logger, closeLog, err := logging.New(logging.Options{Level: "info", Format: "json", OutputPaths: []string{path, path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("workflow created", logging.String("exam_id", "chem-101"))
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Count(string(data), "workflow created"); got != 1 {
		t.Fatalf("expected one line in the log file, got %d:\n%s", got, data)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithExamID(context.Background(), "exam-9")
	ctx = services.WithStage(ctx, "review")
	ctx = services.WithTaskID(ctx, "task-1")

	logging.WithContext(ctx, logger).Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload["exam_id"] != "exam-9" || payload["stage"] != "review" || payload["task_id"] != "task-1" {
		t.Fatalf("context fields missing: %v", payload)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "retrying", "task_retry", logging.String(logging.FieldErrorHint, "inspect processor"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload["event_type"] != "task_retry" {
		t.Fatalf("expected event_type, got %v", payload)
	}
	if payload["error_hint"] != "inspect processor" {
		t.Fatalf("explicit hint should win, got %v", payload["error_hint"])
	}
	if payload["impact"] == nil {
		t.Fatalf("expected default impact, got %v", payload)
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := logging.NewProgressSampler(25)
	steps := []struct {
		percent float64
		want    bool
	}{
		{0, true},
		{10, false},
		{25, true},
		{30, false},
		{75, true},
		{100, true},
		{100, false},
		{-1, false},
	}
	for _, step := range steps {
		if got := s.ShouldLog("a", step.percent); got != step.want {
			t.Fatalf("ShouldLog(%v) = %v, want %v", step.percent, got, step.want)
		}
	}
	if !s.ShouldLog("b", 50) {
		t.Fatal("independent keys should not share state")
	}
	s.Forget("a")
	if !s.ShouldLog("a", 10) {
		t.Fatal("forgotten key should log again")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 100) {
		t.Fatal("nop logger should never be enabled")
	}
	logger.Error("nothing")
}
