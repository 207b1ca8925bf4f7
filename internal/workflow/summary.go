package workflow

import (
	"math"
	"time"
)

// StageSummary describes one stage in a Summary.
type StageSummary struct {
	Stage    Stage       `json:"stage"`
	Status   StageStatus `json:"status"`
	Progress int         `json:"progress"`
	Failure  string      `json:"failure,omitempty"`
	Current  bool        `json:"current"`
}

// ProcessingSummary is the processing statistics without per-item detail.
type ProcessingSummary struct {
	Files            int `json:"files"`
	Submitted        int `json:"submitted"`
	Outstanding      int `json:"outstanding"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Cancelled        int `json:"cancelled"`
	SubmitFailures   int `json:"submit_failures"`
	Ingested         int `json:"ingested"`
	QualityChecked   int `json:"quality_checked"`
	IdentityChecked  int `json:"identity_checked"`
	StructureChecked int `json:"structure_checked"`
	SheetsReady      int `json:"sheets_ready"`
}

// Summary is a read-only view of a workflow.
type Summary struct {
	ExamID          string            `json:"exam_id"`
	WorkflowID      string            `json:"workflow_id"`
	CurrentStage    Stage             `json:"current_stage"`
	OverallProgress int               `json:"overall_progress"`
	Stages          []StageSummary    `json:"stages"`
	Students        StudentInfo       `json:"students"`
	Template        TemplateInfo      `json:"template"`
	Processing      ProcessingSummary `json:"processing"`
	Marking         MarkingInfo       `json:"marking"`
	Review          ReviewInfo        `json:"review"`
	Quality         QualitySummary    `json:"quality"`
	Version         int64             `json:"version"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// StageProgress is 100 for a completed stage, 50 while in progress and 0
// otherwise.
func (s State) StageProgress(stage Stage) int {
	switch s.Status(stage) {
	case StatusCompleted:
		return 100
	case StatusInProgress:
		return 50
	default:
		return 0
	}
}

// OverallProgress is the mean stage progress over the active stages.
func (s State) OverallProgress() int {
	active := s.Settings.Graph().Active()
	if !s.Initialized() || len(active) == 0 {
		return 0
	}
	total := 0
	for _, stage := range active {
		total += s.StageProgress(stage)
	}
	return int(math.Round(float64(total) / float64(len(active))))
}

// Summarize builds the read-only summary of s.
func (s State) Summarize() Summary {
	out := Summary{
		ExamID:          s.ExamID,
		WorkflowID:      s.WorkflowID,
		CurrentStage:    s.CurrentStage,
		OverallProgress: s.OverallProgress(),
		Students:        s.Students,
		Template:        s.Template,
		Marking:         s.Marking,
		Review:          s.Review,
		Quality:         s.Quality,
		Version:         s.Version,
		UpdatedAt:       s.UpdatedAt,
		Processing: ProcessingSummary{
			Files:            s.Processing.Files,
			Submitted:        s.Processing.Submitted,
			Outstanding:      s.Processing.Outstanding(),
			Completed:        s.Processing.Completed,
			Failed:           s.Processing.Failed,
			Cancelled:        s.Processing.Cancelled,
			SubmitFailures:   s.Processing.SubmitFailures,
			Ingested:         s.Processing.Ingested,
			QualityChecked:   s.Processing.QualityChecked,
			IdentityChecked:  s.Processing.IdentityChecked,
			StructureChecked: s.Processing.StructureChecked,
			SheetsReady:      s.Processing.SheetsReady,
		},
	}
	if !s.Initialized() {
		return out
	}
	for _, stage := range s.Settings.Graph().Active() {
		out.Stages = append(out.Stages, StageSummary{
			Stage:    stage,
			Status:   s.Status(stage),
			Progress: s.StageProgress(stage),
			Failure:  s.Failures[stage],
			Current:  stage == s.CurrentStage,
		})
	}
	return out
}

// StageProgress reports the progress of stage in the current snapshot.
func (c *Controller) StageProgress(stage Stage) int {
	return c.snapshot().StageProgress(stage)
}

// OverallProgress reports the mean stage progress of the current snapshot.
func (c *Controller) OverallProgress() int {
	return c.snapshot().OverallProgress()
}

// Summary returns a read-only summary of the current snapshot.
func (c *Controller) Summary() Summary {
	return c.snapshot().Summarize()
}
