package events

import (
	"time"

	"examflow/internal/task"
)

// Kind names an event type.
type Kind string

const (
	KindTaskCreated   Kind = "TASK_CREATED"
	KindTaskStarted   Kind = "TASK_STARTED"
	KindTaskProgress  Kind = "TASK_PROGRESS"
	KindTaskCompleted Kind = "TASK_COMPLETED"
	KindTaskFailed    Kind = "TASK_FAILED"
	KindTaskRetrying  Kind = "TASK_RETRYING"
	KindTaskCancelled Kind = "TASK_CANCELLED"
	KindTaskPaused    Kind = "TASK_PAUSED"
	KindTaskResumed   Kind = "TASK_RESUMED"
	KindQueueUpdated  Kind = "QUEUE_UPDATED"
	KindStageChanged  Kind = "STAGE_CHANGED"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// TaskCreated is emitted once a submission is queued.
type TaskCreated struct {
	Task task.Task
}

// TaskStarted is emitted when an attempt is dispatched.
type TaskStarted struct {
	TaskID  string
	Type    task.Type
	Attempt int
}

// TaskProgress carries the latest progress snapshot of a running task.
type TaskProgress struct {
	TaskID   string
	Type     task.Type
	Progress task.Progress
}

// TaskCompleted carries the processor result of a successful task.
type TaskCompleted struct {
	TaskID   string
	Type     task.Type
	ExamID   string
	Result   any
	Duration time.Duration
}

// TaskFailed is emitted when a task fails permanently.
type TaskFailed struct {
	TaskID string
	Type   task.Type
	ExamID string
	Error  string
}

// TaskRetrying is emitted when a failed attempt is scheduled for retry.
// Attempt is the number of the upcoming attempt.
type TaskRetrying struct {
	TaskID  string
	Type    task.Type
	Attempt int
	Delay   time.Duration
	Error   string
}

// TaskCancelled is emitted when a task reaches the cancelled state.
type TaskCancelled struct {
	TaskID string
	Type   task.Type
	ExamID string
	Reason string
}

// TaskPaused is emitted when a running task is paused.
type TaskPaused struct {
	TaskID string
}

// TaskResumed is emitted when a paused task returns to the queue.
type TaskResumed struct {
	TaskID string
}

// QueueStats is a point-in-time summary of the scheduler task set.
type QueueStats struct {
	Total               int     `json:"total"`
	Pending             int     `json:"pending"`
	Running             int     `json:"running"`
	Paused              int     `json:"paused"`
	Completed           int     `json:"completed"`
	Failed              int     `json:"failed"`
	Cancelled           int     `json:"cancelled"`
	QueueLength         int     `json:"queue_length"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	ErrorRate           float64 `json:"error_rate"`
	ThroughputPerMinute float64 `json:"throughput_per_minute"`
}

// QueueUpdated is emitted whenever queue membership changes.
type QueueUpdated struct {
	Stats QueueStats
}

// StageChanged is emitted by the workflow controller when a stage status
// changes.
type StageChanged struct {
	ExamID   string
	Stage    string
	Status   string
	Previous string
}

func (TaskCreated) Kind() Kind   { return KindTaskCreated }
func (TaskStarted) Kind() Kind   { return KindTaskStarted }
func (TaskProgress) Kind() Kind  { return KindTaskProgress }
func (TaskCompleted) Kind() Kind { return KindTaskCompleted }
func (TaskFailed) Kind() Kind    { return KindTaskFailed }
func (TaskRetrying) Kind() Kind  { return KindTaskRetrying }
func (TaskCancelled) Kind() Kind { return KindTaskCancelled }
func (TaskPaused) Kind() Kind    { return KindTaskPaused }
func (TaskResumed) Kind() Kind   { return KindTaskResumed }
func (QueueUpdated) Kind() Kind  { return KindQueueUpdated }
func (StageChanged) Kind() Kind  { return KindStageChanged }

func (TaskCreated) sealed()   {}
func (TaskStarted) sealed()   {}
func (TaskProgress) sealed()  {}
func (TaskCompleted) sealed() {}
func (TaskFailed) sealed()    {}
func (TaskRetrying) sealed()  {}
func (TaskCancelled) sealed() {}
func (TaskPaused) sealed()    {}
func (TaskResumed) sealed()   {}
func (QueueUpdated) sealed()  {}
func (StageChanged) sealed()  {}

// TaskID returns the task an event refers to, or "" for queue and stage
// events.
func TaskID(ev Event) string {
	switch e := ev.(type) {
	case TaskCreated:
		return e.Task.ID
	case TaskStarted:
		return e.TaskID
	case TaskProgress:
		return e.TaskID
	case TaskCompleted:
		return e.TaskID
	case TaskFailed:
		return e.TaskID
	case TaskRetrying:
		return e.TaskID
	case TaskCancelled:
		return e.TaskID
	case TaskPaused:
		return e.TaskID
	case TaskResumed:
		return e.TaskID
	default:
		return ""
	}
}
