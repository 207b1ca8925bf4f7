package task

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Type identifies which processor executes a task.
type Type string

const (
	TypeIngest              Type = "ingest"
	TypeQualityAnalysis     Type = "quality_analysis"
	TypeIdentityRecognition Type = "identity_recognition"
	TypeStructureAnalysis   Type = "structure_analysis"
	TypeValidation          Type = "validation"
	TypeEnhancement         Type = "enhancement"
)

var allTypes = []Type{
	TypeIngest,
	TypeQualityAnalysis,
	TypeIdentityRecognition,
	TypeStructureAnalysis,
	TypeValidation,
	TypeEnhancement,
}

// AllTypes returns the ordered list of known task types.
func AllTypes() []Type {
	return slices.Clone(allTypes)
}

// ParseType converts a string into a known Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(allTypes, normalized) {
		return normalized, true
	}
	return "", false
}

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(allStatuses, normalized) {
		return normalized, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are expected. Failed
// counts as terminal here; the retry path re-opens it explicitly.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when a status change is not permitted.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled, StatusPaused},
	StatusFailed:  {StatusPending},
	StatusPaused:  {StatusPending, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Payload carries the job-specific input of a task.
type Payload struct {
	ExamID  string            `json:"exam_id,omitempty"`
	ItemIDs []string          `json:"item_ids,omitempty"`
	Files   []string          `json:"files,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	p.ItemIDs = slices.Clone(p.ItemIDs)
	p.Files = slices.Clone(p.Files)
	p.Options = maps.Clone(p.Options)
	return p
}

// Size returns the number of work items covered by the payload.
func (p Payload) Size() int {
	if n := len(p.ItemIDs); n > 0 {
		return n
	}
	return len(p.Files)
}

// Progress is the latest progress snapshot reported by a processor.
type Progress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Current   string `json:"current,omitempty"`
}

// Percent returns completion in the range 0-100, or -1 when Total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	done := min(p.Completed+p.Failed, p.Total)
	return float64(done) * 100 / float64(p.Total)
}

// Options tune a submission.
type Options struct {
	Priority int
	// MaxRetries < 0 selects the scheduler's configured retry budget.
	MaxRetries int
}

// DefaultOptions returns options using the configured retry budget.
func DefaultOptions() Options {
	return Options{MaxRetries: -1}
}

// Task is a unit of work tracked by the scheduler.
type Task struct {
	ID       string
	Type     Type
	Status   Status
	Priority int
	// Seq is the creation sequence used to break priority ties.
	Seq uint64

	Payload  Payload
	Progress Progress
	Result   any
	Error    string

	RetryCount int
	MaxRetries int
	// Attempts counts processor invocations.
	Attempts        int
	CancelRequested bool

	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	NextAttemptAt time.Time
}

// Transition moves the task to status to, or returns ErrInvalidTransition.
// failed -> pending is the retry path: callers bump RetryCount first and the
// move is refused once RetryCount exceeds MaxRetries.
func (t *Task) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	if t.Status == StatusFailed && to == StatusPending && t.RetryCount > t.MaxRetries {
		return fmt.Errorf("%w: retry budget exhausted (%d/%d)", ErrInvalidTransition, t.RetryCount, t.MaxRetries)
	}
	t.Status = to
	return nil
}

// IsTerminal reports whether the task reached a final state.
func (t Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// CanRetry reports whether another attempt fits in the retry budget.
func (t Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Duration returns the elapsed time from start to completion, or zero when
// the task never started or has not finished.
func (t Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Clone returns a snapshot that shares no mutable state with t. Result is
// copied by value; processors should return immutable results.
func (t Task) Clone() Task {
	t.Payload = t.Payload.Clone()
	return t
}
