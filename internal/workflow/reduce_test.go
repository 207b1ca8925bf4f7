package workflow_test

import (
	"errors"
	"testing"

	"examflow/internal/processor"
	"examflow/internal/services"
	"examflow/internal/task"
	"examflow/internal/workflow"
)

var testSettings = workflow.Settings{MinQualityScore: 0.6, MinIdentityConfidence: 0.8}

func mustReduce(t *testing.T, st workflow.State, action workflow.Action) workflow.State {
	t.Helper()
	next, err := workflow.Reduce(st, action)
	if err != nil {
		t.Fatalf("%s: %v", action.Name(), err)
	}
	return next
}

func initialized(t *testing.T, settings workflow.Settings) workflow.State {
	t.Helper()
	return mustReduce(t, workflow.State{}, workflow.Initialize{ExamID: "exam-1", WorkflowID: "wf-1", Settings: settings})
}

// readyState drives a workflow to the marking stage with one ready sheet.
func readyState(t *testing.T, settings workflow.Settings) workflow.State {
	t.Helper()
	st := initialized(t, settings)
	st = mustReduce(t, st, workflow.CompleteStudentSetup{Students: workflow.StudentInfo{TotalStudents: 30}})
	st = mustReduce(t, st, workflow.CompleteTemplateSetup{Template: workflow.TemplateInfo{TemplateID: "tpl-1"}})
	gen := st.Processing.Generation
	st = mustReduce(t, st, workflow.ProcessingReserved{Generation: gen, Files: 1, Tasks: 4})
	results := []struct {
		typ    task.Type
		result any
	}{
		{task.TypeIngest, processor.IngestResult{Items: []processor.IngestedItem{{ItemID: "item-1", File: "a.pdf", Pages: 2}}}},
		{task.TypeQualityAnalysis, processor.QualityResult{Scores: []processor.QualityScore{{ItemID: "item-1", Score: 0.9}}}},
		{task.TypeIdentityRecognition, processor.IdentityResult{Matches: []processor.IdentityMatch{{ItemID: "item-1", StudentID: "S0001", Confidence: 0.95}}}},
		{task.TypeStructureAnalysis, processor.StructureResult{Items: []processor.StructureRegion{{ItemID: "item-1", Regions: 4}}}},
	}
	for i, r := range results {
		st = mustReduce(t, st, workflow.ProcessingTaskFinished{
			Generation: gen,
			TaskID:     string(rune('a' + i)),
			Type:       r.typ,
			Status:     task.StatusCompleted,
			Result:     r.result,
		})
	}
	return mustReduce(t, st, workflow.CompleteUploadProcessing{})
}

func TestInitializeOpensStudentSetup(t *testing.T) {
	st := initialized(t, testSettings)
	if st.CurrentStage != workflow.StageStudentSetup {
		t.Fatalf("unexpected current stage %s", st.CurrentStage)
	}
	if st.Status(workflow.StageStudentSetup) != workflow.StatusInProgress {
		t.Fatalf("student setup should be in progress, got %s", st.Status(workflow.StageStudentSetup))
	}
	for _, stage := range workflow.Stages()[1:] {
		if st.Status(stage) != workflow.StatusPending {
			t.Fatalf("stage %s should be pending, got %s", stage, st.Status(stage))
		}
	}
	if st.Version != 1 {
		t.Fatalf("expected version 1, got %d", st.Version)
	}

	if _, err := workflow.Reduce(st, workflow.Initialize{ExamID: "exam-2", WorkflowID: "wf-2"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected re-initialization to be rejected, got %v", err)
	}
	if _, err := workflow.Reduce(workflow.State{}, workflow.Reset{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected uninitialized reset to be rejected, got %v", err)
	}
}

func TestGoToStageRequiresCompletedDependencies(t *testing.T) {
	st := initialized(t, testSettings)
	for _, stage := range workflow.Stages()[1:] {
		next, err := workflow.Reduce(st, workflow.GoToStage{Target: stage})
		if !errors.Is(err, services.ErrDependency) {
			t.Fatalf("goToStage(%s): expected dependency error, got %v", stage, err)
		}
		if next.Version != st.Version || next.CurrentStage != st.CurrentStage {
			t.Fatalf("goToStage(%s) mutated state", stage)
		}
	}
}

func TestGoToMarkingWithoutUploadFails(t *testing.T) {
	st := initialized(t, testSettings)
	st = mustReduce(t, st, workflow.CompleteStudentSetup{Students: workflow.StudentInfo{TotalStudents: 10}})
	st = mustReduce(t, st, workflow.CompleteTemplateSetup{Template: workflow.TemplateInfo{TemplateID: "tpl"}})
	if st.CurrentStage != workflow.StageUploadProcessing {
		t.Fatalf("expected upload processing, got %s", st.CurrentStage)
	}
	_, err := workflow.Reduce(st, workflow.GoToStage{Target: workflow.StageMarking})
	if !errors.Is(err, services.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestCompleteStudentSetupValidatesCount(t *testing.T) {
	st := initialized(t, testSettings)
	next, err := workflow.Reduce(st, workflow.CompleteStudentSetup{Students: workflow.StudentInfo{TotalStudents: 0}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if next.Status(workflow.StageStudentSetup) != workflow.StatusInProgress || next.Version != st.Version {
		t.Fatal("rejected completion must not mutate state")
	}

	next = mustReduce(t, st, workflow.CompleteStudentSetup{Students: workflow.StudentInfo{TotalStudents: 5, Source: "roster.csv"}})
	if next.Status(workflow.StageStudentSetup) != workflow.StatusCompleted {
		t.Fatalf("student setup should be completed, got %s", next.Status(workflow.StageStudentSetup))
	}
	if next.CurrentStage != workflow.StageTemplateSetup || next.Status(workflow.StageTemplateSetup) != workflow.StatusInProgress {
		t.Fatalf("expected auto-advance to template setup, got %s/%s", next.CurrentStage, next.Status(workflow.StageTemplateSetup))
	}
	if next.Students.TotalStudents != 5 {
		t.Fatalf("students not merged: %+v", next.Students)
	}
	if st.Status(workflow.StageStudentSetup) != workflow.StatusInProgress {
		t.Fatal("input state was modified")
	}
}

func TestCompleteOutOfOrderIsDependencyError(t *testing.T) {
	st := initialized(t, testSettings)
	_, err := workflow.Reduce(st, workflow.CompleteTemplateSetup{Template: workflow.TemplateInfo{TemplateID: "tpl"}})
	if !errors.Is(err, services.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	_, err = workflow.Reduce(st, workflow.CompleteMarking{Marking: workflow.MarkingInfo{MarkedSheets: 1}})
	if !errors.Is(err, services.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestProcessingAggregatesReadySheets(t *testing.T) {
	st := initialized(t, testSettings)
	st = mustReduce(t, st, workflow.CompleteStudentSetup{Students: workflow.StudentInfo{TotalStudents: 3}})
	st = mustReduce(t, st, workflow.CompleteTemplateSetup{Template: workflow.TemplateInfo{TemplateID: "tpl"}})
	gen := st.Processing.Generation
	st = mustReduce(t, st, workflow.ProcessingReserved{Generation: gen, Files: 3, Tasks: 1})
	st = mustReduce(t, st, workflow.ProcessingTaskFinished{
		Generation: gen, TaskID: "ingest", Type: task.TypeIngest, Status: task.StatusCompleted, FollowUps: 3,
		Result: processor.IngestResult{Items: []processor.IngestedItem{{ItemID: "a"}, {ItemID: "b"}, {ItemID: "c"}}},
	})
	if st.Processing.Outstanding() != 3 {
		t.Fatalf("expected follow-ups to be outstanding, got %d", st.Processing.Outstanding())
	}
	if _, err := workflow.Reduce(st, workflow.CompleteUploadProcessing{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected outstanding work to block completion, got %v", err)
	}

	st = mustReduce(t, st, workflow.ProcessingTaskFinished{
		Generation: gen, TaskID: "q", Type: task.TypeQualityAnalysis, Status: task.StatusCompleted,
		Result: &processor.QualityResult{Scores: []processor.QualityScore{{ItemID: "a", Score: 0.9}, {ItemID: "b", Score: 0.4}, {ItemID: "c", Score: 0.7}}},
	})
	st = mustReduce(t, st, workflow.ProcessingTaskFinished{
		Generation: gen, TaskID: "i", Type: task.TypeIdentityRecognition, Status: task.StatusCompleted,
		Result: processor.IdentityResult{Matches: []processor.IdentityMatch{{ItemID: "a", Confidence: 0.9}, {ItemID: "b", Confidence: 0.9}, {ItemID: "c", Confidence: 0.7}}},
	})
	st = mustReduce(t, st, workflow.ProcessingTaskFinished{
		Generation: gen, TaskID: "s", Type: task.TypeStructureAnalysis, Status: task.StatusFailed,
	})

	p := st.Processing
	if p.Outstanding() != 0 || p.Completed != 3 || p.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", p)
	}
	if p.SheetsReady != 0 {
		t.Fatalf("no sheet has structure output, got %d ready", p.SheetsReady)
	}
	if p.Ingested != 3 || p.QualityChecked != 3 || p.IdentityChecked != 3 {
		t.Fatalf("unexpected item counters: %+v", p)
	}
	if st.Quality.LowQuality != 1 || st.Quality.LowConfidence != 1 {
		t.Fatalf("unexpected quality summary: %+v", st.Quality)
	}
	if got := st.Quality.AverageQuality; got < 0.666 || got > 0.667 {
		t.Fatalf("unexpected average quality %f", got)
	}
	if _, err := workflow.Reduce(st, workflow.CompleteUploadProcessing{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected zero ready sheets to block completion, got %v", err)
	}

	// A later structure pass makes only item a ready.
	st = mustReduce(t, st, workflow.ProcessingReserved{Generation: gen, Tasks: 1})
	st = mustReduce(t, st, workflow.ProcessingTaskFinished{
		Generation: gen, TaskID: "s2", Type: task.TypeStructureAnalysis, Status: task.StatusCompleted,
		Result: processor.StructureResult{Items: []processor.StructureRegion{{ItemID: "a", Regions: 4}, {ItemID: "b", Regions: 4}, {ItemID: "c", Regions: 4}}},
	})
	if st.Processing.SheetsReady != 1 {
		t.Fatalf("expected one ready sheet, got %d", st.Processing.SheetsReady)
	}
	st = mustReduce(t, st, workflow.CompleteUploadProcessing{})
	if st.CurrentStage != workflow.StageMarking {
		t.Fatalf("expected marking, got %s", st.CurrentStage)
	}
}

func TestStaleGenerationIsIgnored(t *testing.T) {
	st := initialized(t, testSettings)
	next := mustReduce(t, st, workflow.ProcessingTaskFinished{
		Generation: st.Processing.Generation + 1, TaskID: "x", Type: task.TypeIngest, Status: task.StatusCompleted,
	})
	if next.Version != st.Version {
		t.Fatal("stale result should not change state")
	}
}

func TestMoveBackResetsDownstream(t *testing.T) {
	st := readyState(t, testSettings)
	st = mustReduce(t, st, workflow.CompleteMarking{Marking: workflow.MarkingInfo{MarkedSheets: 1}})
	if st.CurrentStage != workflow.StageReview {
		t.Fatalf("expected review, got %s", st.CurrentStage)
	}

	st = mustReduce(t, st, workflow.GoToStage{Target: workflow.StageTemplateSetup})
	if st.CurrentStage != workflow.StageTemplateSetup || st.Status(workflow.StageTemplateSetup) != workflow.StatusInProgress {
		t.Fatalf("expected reopened template setup, got %s/%s", st.CurrentStage, st.Status(workflow.StageTemplateSetup))
	}
	if st.Status(workflow.StageStudentSetup) != workflow.StatusCompleted {
		t.Fatal("upstream stage should stay completed")
	}
	for _, stage := range []workflow.Stage{workflow.StageUploadProcessing, workflow.StageMarking, workflow.StageReview, workflow.StageCompleted} {
		if st.Status(stage) != workflow.StatusPending {
			t.Fatalf("stage %s should be reset to pending, got %s", stage, st.Status(stage))
		}
	}
	if _, err := workflow.Reduce(st, workflow.GoToStage{Target: workflow.StageMarking}); !errors.Is(err, services.ErrDependency) {
		t.Fatalf("expected dependency error after reset of downstream, got %v", err)
	}
}

func TestSkipReviewCompletesAfterMarking(t *testing.T) {
	settings := testSettings
	settings.SkipReview = true
	st := readyState(t, settings)
	if _, err := workflow.Reduce(st, workflow.GoToStage{Target: workflow.StageReview}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected review to be rejected, got %v", err)
	}
	st = mustReduce(t, st, workflow.CompleteMarking{Marking: workflow.MarkingInfo{MarkedSheets: 1}})
	if st.CurrentStage != workflow.StageCompleted || st.Status(workflow.StageCompleted) != workflow.StatusCompleted {
		t.Fatalf("expected completed workflow, got %s/%s", st.CurrentStage, st.Status(workflow.StageCompleted))
	}
	if st.OverallProgress() != 100 {
		t.Fatalf("expected 100%% progress, got %d", st.OverallProgress())
	}
}

func TestFullWorkflowWithReview(t *testing.T) {
	st := readyState(t, testSettings)
	if _, err := workflow.Reduce(st, workflow.CompleteMarking{Marking: workflow.MarkingInfo{MarkedSheets: 2}}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected marked sheets above ready sheets to fail, got %v", err)
	}
	st = mustReduce(t, st, workflow.CompleteMarking{Marking: workflow.MarkingInfo{MarkedSheets: 1, AverageScore: 72}})
	if _, err := workflow.Reduce(st, workflow.CompleteReview{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected empty review to fail, got %v", err)
	}
	st = mustReduce(t, st, workflow.CompleteReview{Review: workflow.ReviewInfo{ReviewedSheets: 1}})
	for _, stage := range workflow.Stages() {
		if st.Status(stage) != workflow.StatusCompleted {
			t.Fatalf("stage %s should be completed, got %s", stage, st.Status(stage))
		}
	}
}

func TestFailStageAndRetry(t *testing.T) {
	st := initialized(t, testSettings)
	if _, err := workflow.Reduce(st, workflow.FailStage{Stage: workflow.StageMarking}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected non-current stage failure to be rejected, got %v", err)
	}
	st = mustReduce(t, st, workflow.FailStage{Stage: workflow.StageStudentSetup, Reason: "roster unreadable"})
	if st.Status(workflow.StageStudentSetup) != workflow.StatusFailed || st.Failures[workflow.StageStudentSetup] != "roster unreadable" {
		t.Fatalf("unexpected failed state: %+v", st.Stages)
	}
	st = mustReduce(t, st, workflow.GoToStage{Target: workflow.StageStudentSetup})
	if st.Status(workflow.StageStudentSetup) != workflow.StatusInProgress {
		t.Fatalf("expected stage to reopen, got %s", st.Status(workflow.StageStudentSetup))
	}
	if _, ok := st.Failures[workflow.StageStudentSetup]; ok {
		t.Fatal("failure reason should be cleared on reopen")
	}
}

func TestResetReturnsInitialSnapshot(t *testing.T) {
	st := readyState(t, testSettings)
	gen := st.Processing.Generation
	st = mustReduce(t, st, workflow.Reset{})
	if st.CurrentStage != workflow.StageStudentSetup || st.Status(workflow.StageUploadProcessing) != workflow.StatusPending {
		t.Fatalf("unexpected reset state %+v", st.Stages)
	}
	if st.Students.TotalStudents != 0 || st.Processing.SheetsReady != 0 {
		t.Fatal("reset should clear stage data")
	}
	if st.WorkflowID != "wf-1" || st.ExamID != "exam-1" {
		t.Fatal("reset should keep workflow identity")
	}
	if st.Processing.Generation != gen+1 {
		t.Fatalf("expected generation %d, got %d", gen+1, st.Processing.Generation)
	}
}

func TestProgressHelpers(t *testing.T) {
	st := initialized(t, testSettings)
	if got := st.StageProgress(workflow.StageStudentSetup); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	if got := st.StageProgress(workflow.StageMarking); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	st = mustReduce(t, st, workflow.CompleteStudentSetup{Students: workflow.StudentInfo{TotalStudents: 1}})
	// 100 + 50 over six stages.
	if got := st.OverallProgress(); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	summary := st.Summarize()
	if len(summary.Stages) != 6 || !summary.Stages[1].Current {
		t.Fatalf("unexpected summary stages: %+v", summary.Stages)
	}
}

func TestGraph(t *testing.T) {
	g := workflow.Graph{SkipReview: true}
	deps := g.Dependencies(workflow.StageCompleted)
	if len(deps) != 1 || deps[0] != workflow.StageMarking {
		t.Fatalf("completed should depend on marking when review is skipped, got %v", deps)
	}
	if len(g.Active()) != 5 {
		t.Fatalf("expected five active stages, got %v", g.Active())
	}
	full := workflow.Graph{}
	deps = full.Dependencies(workflow.StageCompleted)
	if len(deps) != 1 || deps[0] != workflow.StageReview {
		t.Fatalf("completed should depend on review, got %v", deps)
	}
	if deps := full.Dependencies(workflow.StageStudentSetup); len(deps) != 0 {
		t.Fatalf("student setup has no dependencies, got %v", deps)
	}
	if _, err := workflow.ParseStage(" Marking "); err != nil {
		t.Fatalf("ParseStage: %v", err)
	}
	if _, err := workflow.ParseStage("grading"); err == nil {
		t.Fatal("expected unknown stage error")
	}
}
