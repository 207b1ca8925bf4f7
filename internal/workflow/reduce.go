package workflow

import (
	"fmt"
	"strings"

	"examflow/internal/processor"
	"examflow/internal/services"
	"examflow/internal/task"
)

const component = "workflow"

// Reduce applies action to state and returns the next snapshot. The input is
// never modified; on error the returned state equals the input. Actions that
// change nothing return the input with the same Version.
func Reduce(state State, action Action) (State, error) {
	if action == nil {
		return state, services.Wrap(services.ErrValidation, component, "reduce", "nil action", nil)
	}
	if init, ok := action.(Initialize); ok {
		return reduceInitialize(state, init)
	}
	if !state.Initialized() {
		return state, services.Wrap(services.ErrValidation, component, action.Name(), "workflow not initialized", nil)
	}

	next := state.Clone()
	var (
		changed bool
		err     error
	)
	switch a := action.(type) {
	case GoToStage:
		changed, err = next.goTo(a.Target)
	case CompleteStudentSetup:
		err = next.complete(StageStudentSetup, func(s *State) error {
			if a.Students.TotalStudents <= 0 {
				return fmt.Errorf("total students must be greater than zero")
			}
			s.Students = a.Students
			return nil
		})
		changed = err == nil
	case CompleteTemplateSetup:
		err = next.complete(StageTemplateSetup, func(s *State) error {
			if strings.TrimSpace(a.Template.TemplateID) == "" {
				return fmt.Errorf("template id is required")
			}
			s.Template = a.Template
			return nil
		})
		changed = err == nil
	case CompleteUploadProcessing:
		err = next.complete(StageUploadProcessing, func(*State) error { return nil })
		changed = err == nil
	case CompleteMarking:
		err = next.complete(StageMarking, func(s *State) error {
			if a.Marking.MarkedSheets <= 0 {
				return fmt.Errorf("marked sheets must be greater than zero")
			}
			if a.Marking.MarkedSheets > s.Processing.SheetsReady {
				return fmt.Errorf("marked sheets %d exceed %d ready sheets", a.Marking.MarkedSheets, s.Processing.SheetsReady)
			}
			s.Marking = a.Marking
			return nil
		})
		changed = err == nil
	case CompleteReview:
		err = next.complete(StageReview, func(s *State) error {
			if a.Review.ReviewedSheets <= 0 {
				return fmt.Errorf("reviewed sheets must be greater than zero")
			}
			if a.Review.ReviewedSheets > s.Marking.MarkedSheets {
				return fmt.Errorf("reviewed sheets %d exceed %d marked sheets", a.Review.ReviewedSheets, s.Marking.MarkedSheets)
			}
			s.Review = a.Review
			return nil
		})
		changed = err == nil
	case ProcessingReserved:
		changed, err = next.reserve(a)
	case ProcessingSubmitted:
		changed = next.submitted(a)
	case ProcessingTaskFinished:
		changed, err = next.finished(a)
	case FailStage:
		changed, err = next.fail(a)
	case Reset:
		next = initialState(state.ExamID, state.WorkflowID, state.Settings, state.Processing.Generation+1)
		changed = true
	default:
		err = services.Wrap(services.ErrValidation, component, "reduce", fmt.Sprintf("unsupported action %T", action), nil)
	}
	if err != nil {
		return state, err
	}
	if !changed {
		return state, nil
	}
	next.Version = state.Version + 1
	return next, nil
}

func reduceInitialize(state State, a Initialize) (State, error) {
	if state.Initialized() {
		return state, services.Wrap(services.ErrValidation, component, a.Name(), "workflow already initialized", nil)
	}
	examID := strings.TrimSpace(a.ExamID)
	workflowID := strings.TrimSpace(a.WorkflowID)
	if examID == "" || workflowID == "" {
		return state, services.Wrap(services.ErrValidation, component, a.Name(), "exam id and workflow id are required", nil)
	}
	next := initialState(examID, workflowID, a.Settings, 1)
	next.Version = state.Version + 1
	return next, nil
}

func dependencyError(operation string, stage, dep Stage) error {
	return services.Wrap(
		services.ErrDependency,
		component,
		operation,
		fmt.Sprintf("stage %s requires %s to be completed", stage, dep),
		nil,
	)
}

func (s *State) checkDependencies(operation string, stage Stage) error {
	for _, dep := range s.Settings.Graph().Dependencies(stage) {
		if s.Status(dep) != StatusCompleted {
			return dependencyError(operation, stage, dep)
		}
	}
	return nil
}

// completionError reports why stage cannot be considered complete.
func (s *State) completionError(stage Stage) string {
	switch stage {
	case StageStudentSetup:
		if s.Students.TotalStudents <= 0 {
			return "no students imported"
		}
	case StageTemplateSetup:
		if strings.TrimSpace(s.Template.TemplateID) == "" {
			return "no template configured"
		}
	case StageUploadProcessing:
		if n := s.Processing.Outstanding(); n > 0 {
			return fmt.Sprintf("%d processing tasks still outstanding", n)
		}
		if s.Processing.SheetsReady <= 0 {
			return "no sheets ready for marking"
		}
	case StageMarking:
		if s.Marking.MarkedSheets <= 0 {
			return "no sheets marked"
		}
	case StageReview:
		if s.Review.ReviewedSheets <= 0 {
			return "no sheets reviewed"
		}
	}
	return ""
}

func (s *State) enter(stage Stage) {
	s.CurrentStage = stage
	delete(s.Failures, stage)
	if stage == StageCompleted {
		s.Stages[stage] = StatusCompleted
		return
	}
	s.Stages[stage] = StatusInProgress
}

func (s *State) goTo(target Stage) (bool, error) {
	const op = "go_to_stage"
	graph := s.Settings.Graph()
	if !graph.Includes(target) {
		return false, services.Wrap(services.ErrValidation, component, op, fmt.Sprintf("stage %q is not part of this workflow", target), nil)
	}
	if target == s.CurrentStage {
		if s.Status(target) != StatusFailed {
			return false, nil
		}
		s.enter(target)
		return true, nil
	}
	if err := s.checkDependencies(op, target); err != nil {
		return false, err
	}
	if target.index() > s.CurrentStage.index() {
		if reason := s.completionError(s.CurrentStage); reason != "" {
			return false, services.Wrap(services.ErrValidation, component, op, fmt.Sprintf("stage %s incomplete: %s", s.CurrentStage, reason), nil)
		}
	} else {
		for _, stage := range graph.Downstream(target) {
			s.Stages[stage] = StatusPending
			delete(s.Failures, stage)
		}
	}
	s.enter(target)
	return true, nil
}

func (s *State) complete(stage Stage, merge func(*State) error) error {
	op := "complete_" + string(stage)
	if s.CurrentStage != stage {
		if err := s.checkDependencies(op, stage); err != nil {
			return err
		}
		return services.Wrap(services.ErrDependency, component, op, fmt.Sprintf("stage %s is not active (current %s)", stage, s.CurrentStage), nil)
	}
	if err := s.checkDependencies(op, stage); err != nil {
		return err
	}
	if err := merge(s); err != nil {
		return services.Wrap(services.ErrValidation, component, op, err.Error(), nil)
	}
	if reason := s.completionError(stage); reason != "" {
		return services.Wrap(services.ErrValidation, component, op, reason, nil)
	}
	s.Stages[stage] = StatusCompleted
	delete(s.Failures, stage)
	if next, ok := s.Settings.Graph().Next(stage); ok {
		s.enter(next)
	}
	return nil
}

func (s *State) fail(a FailStage) (bool, error) {
	if a.Stage != s.CurrentStage || s.Status(a.Stage) != StatusInProgress {
		return false, services.Wrap(services.ErrValidation, component, a.Name(), fmt.Sprintf("stage %s is not in progress", a.Stage), nil)
	}
	reason := strings.TrimSpace(a.Reason)
	if reason == "" {
		reason = "stage failed"
	}
	if s.Failures == nil {
		s.Failures = make(map[Stage]string)
	}
	s.Stages[a.Stage] = StatusFailed
	s.Failures[a.Stage] = reason
	return true, nil
}

func (s *State) reserve(a ProcessingReserved) (bool, error) {
	if a.Generation != s.Processing.Generation {
		return false, services.Wrap(services.ErrValidation, component, a.Name(), "workflow was reset", nil)
	}
	if s.CurrentStage != StageUploadProcessing || s.Status(StageUploadProcessing) != StatusInProgress {
		if err := s.checkDependencies(a.Name(), StageUploadProcessing); err != nil {
			return false, err
		}
		return false, services.Wrap(services.ErrDependency, component, a.Name(), "upload processing is not in progress", nil)
	}
	if a.Tasks <= 0 {
		return false, services.Wrap(services.ErrValidation, component, a.Name(), "no tasks to reserve", nil)
	}
	s.Processing.Files += a.Files
	s.Processing.Submitted += a.Tasks
	return true, nil
}

func (s *State) submitted(a ProcessingSubmitted) bool {
	if a.Generation != s.Processing.Generation || (len(a.TaskIDs) == 0 && a.Failed == 0) {
		return false
	}
	s.Processing.TaskIDs = append(s.Processing.TaskIDs, a.TaskIDs...)
	s.Processing.SubmitFailures += a.Failed
	return true
}

func (s *State) finished(a ProcessingTaskFinished) (bool, error) {
	if a.Generation != s.Processing.Generation {
		return false, nil
	}
	switch a.Status {
	case task.StatusCompleted:
		s.Processing.Completed++
		s.Processing.Submitted += max(a.FollowUps, 0)
		s.mergeResult(a.Result)
	case task.StatusFailed:
		s.Processing.Failed++
	case task.StatusCancelled:
		s.Processing.Cancelled++
	default:
		return false, services.Wrap(services.ErrValidation, component, a.Name(), fmt.Sprintf("task status %s is not terminal", a.Status), nil)
	}
	s.recompute()
	return true, nil
}

func (s *State) item(id string) ItemAnalysis {
	if existing, ok := s.Processing.Items[id]; ok {
		return existing
	}
	return ItemAnalysis{ItemID: id}
}

func (s *State) putItem(item ItemAnalysis) {
	if s.Processing.Items == nil {
		s.Processing.Items = make(map[string]ItemAnalysis)
	}
	s.Processing.Items[item.ItemID] = item
}

func (s *State) mergeResult(result any) {
	switch r := result.(type) {
	case *processor.IngestResult:
		if r != nil {
			s.mergeResult(*r)
		}
	case *processor.QualityResult:
		if r != nil {
			s.mergeResult(*r)
		}
	case *processor.IdentityResult:
		if r != nil {
			s.mergeResult(*r)
		}
	case *processor.StructureResult:
		if r != nil {
			s.mergeResult(*r)
		}
	case processor.IngestResult:
		for _, ingested := range r.Items {
			item := s.item(ingested.ItemID)
			item.File = ingested.File
			item.Pages = ingested.Pages
			s.putItem(item)
		}
	case processor.QualityResult:
		for _, score := range r.Scores {
			item := s.item(score.ItemID)
			item.Quality = score.Score
			item.HasQuality = true
			s.putItem(item)
		}
	case processor.IdentityResult:
		for _, match := range r.Matches {
			item := s.item(match.ItemID)
			item.StudentID = match.StudentID
			item.Confidence = match.Confidence
			item.HasIdentity = true
			s.putItem(item)
		}
	case processor.StructureResult:
		for _, region := range r.Items {
			item := s.item(region.ItemID)
			item.Regions = region.Regions
			item.HasStructure = true
			s.putItem(item)
		}
	}
}
