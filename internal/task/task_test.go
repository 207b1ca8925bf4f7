package task

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionsFollowLifecycle(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusPaused, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPaused, true},
		{StatusRunning, StatusPending, false},
		{StatusPaused, StatusPending, true},
		{StatusPaused, StatusCancelled, true},
		{StatusPaused, StatusRunning, false},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusRunning, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		task := Task{Status: tc.from, MaxRetries: 3}
		err := task.Transition(tc.to)
		if tc.ok {
			if err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
			}
			if task.Status != tc.to {
				t.Fatalf("%s -> %s: status not applied", tc.from, tc.to)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
		if task.Status != tc.from {
			t.Fatalf("%s -> %s: status mutated on rejection", tc.from, tc.to)
		}
	}
}

func TestRetryTransitionBoundedByBudget(t *testing.T) {
	task := Task{Status: StatusFailed, RetryCount: 3, MaxRetries: 2}
	if err := task.Transition(StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected exhausted budget to reject retry, got %v", err)
	}

	task = Task{Status: StatusRunning, RetryCount: 1, MaxRetries: 2}
	if !task.CanRetry() {
		t.Fatal("expected retry to be allowed below budget")
	}
	task.RetryCount = 2
	if task.CanRetry() {
		t.Fatal("expected retry to be refused at budget")
	}
}

func TestCloneIsolatesPayload(t *testing.T) {
	orig := Task{
		ID: "a",
		Payload: Payload{
			ExamID:  "exam",
			ItemIDs: []string{"1", "2"},
			Files:   []string{"a.png"},
			Options: map[string]string{"dpi": "300"},
		},
	}
	cp := orig.Clone()
	cp.Payload.ItemIDs[0] = "x"
	cp.Payload.Files[0] = "b.png"
	cp.Payload.Options["dpi"] = "72"

	if orig.Payload.ItemIDs[0] != "1" || orig.Payload.Files[0] != "a.png" || orig.Payload.Options["dpi"] != "300" {
		t.Fatalf("clone shares state with original: %+v", orig.Payload)
	}
}

func TestProgressPercent(t *testing.T) {
	if got := (Progress{}).Percent(); got != -1 {
		t.Fatalf("unknown total should report -1, got %v", got)
	}
	if got := (Progress{Total: 4, Completed: 1, Failed: 1}).Percent(); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
	if got := (Progress{Total: 2, Completed: 5}).Percent(); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
}

func TestParseHelpers(t *testing.T) {
	if typ, ok := ParseType(" Quality_Analysis "); !ok || typ != TypeQualityAnalysis {
		t.Fatalf("ParseType: got %q %v", typ, ok)
	}
	if _, ok := ParseType("ocr"); ok {
		t.Fatal("expected unknown type to be rejected")
	}
	if st, ok := ParseStatus("PAUSED"); !ok || st != StatusPaused {
		t.Fatalf("ParseStatus: got %q %v", st, ok)
	}
	if len(AllTypes()) != 6 {
		t.Fatalf("expected six task types, got %d", len(AllTypes()))
	}
}

func TestDurationAndSize(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task := Task{StartedAt: start, CompletedAt: start.Add(1500 * time.Millisecond)}
	if task.Duration() != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", task.Duration())
	}
	if (Task{StartedAt: start}).Duration() != 0 {
		t.Fatal("unfinished task should report zero duration")
	}
	if (Payload{Files: []string{"a", "b"}}).Size() != 2 {
		t.Fatal("expected size from files")
	}
	if (Payload{ItemIDs: []string{"a"}, Files: []string{"a", "b"}}).Size() != 1 {
		t.Fatal("expected item ids to take precedence")
	}
}
