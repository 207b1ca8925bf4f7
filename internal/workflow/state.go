package workflow

import (
	"maps"
	"slices"
	"time"
)

// Settings fixes the graph shape and readiness thresholds of a workflow.
type Settings struct {
	SkipReview            bool    `json:"skip_review"`
	MinQualityScore       float64 `json:"min_quality_score"`
	MinIdentityConfidence float64 `json:"min_identity_confidence"`
}

// Graph returns the stage graph selected by the settings.
func (s Settings) Graph() Graph {
	return Graph{SkipReview: s.SkipReview}
}

// StudentInfo is recorded when student setup completes.
type StudentInfo struct {
	TotalStudents int    `json:"total_students"`
	Source        string `json:"source,omitempty"`
}

// TemplateInfo is recorded when template setup completes.
type TemplateInfo struct {
	TemplateID string  `json:"template_id"`
	Name       string  `json:"name,omitempty"`
	Questions  int     `json:"questions,omitempty"`
	TotalMarks float64 `json:"total_marks,omitempty"`
}

// MarkingInfo is recorded when marking completes.
type MarkingInfo struct {
	MarkedSheets int     `json:"marked_sheets"`
	AverageScore float64 `json:"average_score,omitempty"`
}

// ReviewInfo is recorded when review completes.
type ReviewInfo struct {
	ReviewedSheets int `json:"reviewed_sheets"`
	Adjustments    int `json:"adjustments,omitempty"`
}

// ItemAnalysis accumulates analysis results for one ingested answer sheet.
type ItemAnalysis struct {
	ItemID       string  `json:"item_id"`
	File         string  `json:"file,omitempty"`
	Pages        int     `json:"pages,omitempty"`
	Quality      float64 `json:"quality"`
	HasQuality   bool    `json:"has_quality"`
	StudentID    string  `json:"student_id,omitempty"`
	Confidence   float64 `json:"confidence"`
	HasIdentity  bool    `json:"has_identity"`
	Regions      int     `json:"regions"`
	HasStructure bool    `json:"has_structure"`
}

// Ready reports whether the sheet can be marked under the given settings.
func (i ItemAnalysis) Ready(settings Settings) bool {
	return i.HasQuality && i.Quality >= settings.MinQualityScore &&
		i.HasIdentity && i.Confidence >= settings.MinIdentityConfidence &&
		i.HasStructure
}

// ProcessingInfo aggregates the ingest and analysis tasks of upload processing.
type ProcessingInfo struct {
	Generation       int                     `json:"generation"`
	Files            int                     `json:"files"`
	Submitted        int                     `json:"submitted"`
	Completed        int                     `json:"completed"`
	Failed           int                     `json:"failed"`
	Cancelled        int                     `json:"cancelled"`
	SubmitFailures   int                     `json:"submit_failures"`
	TaskIDs          []string                `json:"task_ids,omitempty"`
	Ingested         int                     `json:"ingested"`
	QualityChecked   int                     `json:"quality_checked"`
	IdentityChecked  int                     `json:"identity_checked"`
	StructureChecked int                     `json:"structure_checked"`
	SheetsReady      int                     `json:"sheets_ready"`
	Items            map[string]ItemAnalysis `json:"items,omitempty"`
}

// Outstanding is the number of reserved tasks that have not finished yet.
func (p ProcessingInfo) Outstanding() int {
	n := p.Submitted - p.Completed - p.Failed - p.Cancelled - p.SubmitFailures
	return max(n, 0)
}

// QualitySummary holds the quality metrics derived from processing.
type QualitySummary struct {
	AverageQuality            float64 `json:"average_quality"`
	AverageIdentityConfidence float64 `json:"average_identity_confidence"`
	LowQuality                int     `json:"low_quality"`
	LowConfidence             int     `json:"low_confidence"`
}

// State is an immutable snapshot of one exam workflow.
type State struct {
	ExamID       string                `json:"exam_id"`
	WorkflowID   string                `json:"workflow_id"`
	Settings     Settings              `json:"settings"`
	CurrentStage Stage                 `json:"current_stage"`
	Stages       map[Stage]StageStatus `json:"stages"`
	Failures     map[Stage]string      `json:"failures,omitempty"`
	Students     StudentInfo           `json:"students"`
	Template     TemplateInfo          `json:"template"`
	Processing   ProcessingInfo        `json:"processing"`
	Marking      MarkingInfo           `json:"marking"`
	Review       ReviewInfo            `json:"review"`
	Quality      QualitySummary        `json:"quality"`
	Version      int64                 `json:"version"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Initialized reports whether the state belongs to an initialized workflow.
func (s State) Initialized() bool {
	return s.WorkflowID != ""
}

// Status returns the status of stage, defaulting to pending.
func (s State) Status(stage Stage) StageStatus {
	if status, ok := s.Stages[stage]; ok {
		return status
	}
	return StatusPending
}

// Clone returns a deep copy safe to modify.
func (s State) Clone() State {
	clone := s
	clone.Stages = maps.Clone(s.Stages)
	clone.Failures = maps.Clone(s.Failures)
	clone.Processing.TaskIDs = slices.Clone(s.Processing.TaskIDs)
	clone.Processing.Items = maps.Clone(s.Processing.Items)
	return clone
}

func initialState(examID, workflowID string, settings Settings, generation int) State {
	state := State{
		ExamID:       examID,
		WorkflowID:   workflowID,
		Settings:     settings,
		CurrentStage: StageStudentSetup,
		Stages:       make(map[Stage]StageStatus, len(stageOrder)),
		Processing:   ProcessingInfo{Generation: generation},
	}
	for _, stage := range settings.Graph().Active() {
		state.Stages[stage] = StatusPending
	}
	state.Stages[StageStudentSetup] = StatusInProgress
	return state
}

// recompute refreshes the derived processing counters and quality summary.
func (s *State) recompute() {
	p := &s.Processing
	p.Ingested, p.QualityChecked, p.IdentityChecked, p.StructureChecked, p.SheetsReady = 0, 0, 0, 0, 0
	var quality, confidence float64
	summary := QualitySummary{}
	for _, item := range p.Items {
		p.Ingested++
		if item.HasQuality {
			p.QualityChecked++
			quality += item.Quality
			if item.Quality < s.Settings.MinQualityScore {
				summary.LowQuality++
			}
		}
		if item.HasIdentity {
			p.IdentityChecked++
			confidence += item.Confidence
			if item.Confidence < s.Settings.MinIdentityConfidence {
				summary.LowConfidence++
			}
		}
		if item.HasStructure {
			p.StructureChecked++
		}
		if item.Ready(s.Settings) {
			p.SheetsReady++
		}
	}
	if p.QualityChecked > 0 {
		summary.AverageQuality = quality / float64(p.QualityChecked)
	}
	if p.IdentityChecked > 0 {
		summary.AverageIdentityConfidence = confidence / float64(p.IdentityChecked)
	}
	s.Quality = summary
}
