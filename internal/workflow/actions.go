package workflow

import "examflow/internal/task"

// Action is a state change request accepted by Reduce.
type Action interface {
	Name() string
	action()
}

// Initialize binds a fresh workflow to an exam.
type Initialize struct {
	ExamID     string
	WorkflowID string
	Settings   Settings
}

// GoToStage moves the workflow to Target.
type GoToStage struct {
	Target Stage
}

// CompleteStudentSetup records the imported students and closes student setup.
type CompleteStudentSetup struct {
	Students StudentInfo
}

// CompleteTemplateSetup records the marking template and closes template setup.
type CompleteTemplateSetup struct {
	Template TemplateInfo
}

// ProcessingReserved accounts for tasks about to be submitted so waiters
// never observe a gap between submission and bookkeeping.
type ProcessingReserved struct {
	Generation int
	Files      int
	Tasks      int
}

// ProcessingSubmitted records the ids of reserved tasks and how many of the
// reservation could not be submitted.
type ProcessingSubmitted struct {
	Generation int
	TaskIDs    []string
	Failed     int
}

// ProcessingTaskFinished folds the terminal outcome of a processing task into
// the statistics. FollowUps reserves the analysis tasks issued for the
// finished task's output in the same commit.
type ProcessingTaskFinished struct {
	Generation int
	TaskID     string
	Type       task.Type
	Status     task.Status
	Result     any
	FollowUps  int
}

// CompleteUploadProcessing closes upload processing once sheets are ready.
type CompleteUploadProcessing struct{}

// CompleteMarking records marking output and closes marking.
type CompleteMarking struct {
	Marking MarkingInfo
}

// CompleteReview records review output and closes review.
type CompleteReview struct {
	Review ReviewInfo
}

// FailStage marks the current stage failed.
type FailStage struct {
	Stage  Stage
	Reason string
}

// Reset returns the workflow to its initial snapshot.
type Reset struct{}

func (Initialize) Name() string               { return "initialize" }
func (GoToStage) Name() string                { return "go_to_stage" }
func (CompleteStudentSetup) Name() string     { return "complete_student_setup" }
func (CompleteTemplateSetup) Name() string    { return "complete_template_setup" }
func (ProcessingReserved) Name() string       { return "processing_reserved" }
func (ProcessingSubmitted) Name() string      { return "processing_submitted" }
func (ProcessingTaskFinished) Name() string   { return "processing_task_finished" }
func (CompleteUploadProcessing) Name() string { return "complete_upload_processing" }
func (CompleteMarking) Name() string          { return "complete_marking" }
func (CompleteReview) Name() string           { return "complete_review" }
func (FailStage) Name() string                { return "fail_stage" }
func (Reset) Name() string                    { return "reset" }

func (Initialize) action()               {}
func (GoToStage) action()                {}
func (CompleteStudentSetup) action()     {}
func (CompleteTemplateSetup) action()    {}
func (ProcessingReserved) action()       {}
func (ProcessingSubmitted) action()      {}
func (ProcessingTaskFinished) action()   {}
func (CompleteUploadProcessing) action() {}
func (CompleteMarking) action()          {}
func (CompleteReview) action()           {}
func (FailStage) action()                {}
func (Reset) action()                    {}
