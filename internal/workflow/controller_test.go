package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"examflow/internal/config"
	"examflow/internal/events"
	"examflow/internal/logging"
	"examflow/internal/processor"
	"examflow/internal/scheduler"
	"examflow/internal/services"
	"examflow/internal/task"
	"examflow/internal/workflow"
)

type memoryStore struct {
	mu          sync.Mutex
	fail        error
	saved       []workflow.State
	transitions []workflow.Transition
}

func (m *memoryStore) CreateWorkflow(_ context.Context, examID string) (string, error) {
	return "wf-" + examID, nil
}

func (m *memoryStore) SaveWorkflow(_ context.Context, st workflow.State, transitions []workflow.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saved = append(m.saved, st)
	m.transitions = append(m.transitions, transitions...)
	return nil
}

func (m *memoryStore) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *memoryStore) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind events.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	ctrl  *workflow.Controller
	sched *scheduler.Scheduler
	store *memoryStore
	log   *eventLog
}

func itemsFor(t task.Task) []string {
	if len(t.Payload.ItemIDs) > 0 {
		return t.Payload.ItemIDs
	}
	return nil
}

func defaultProcessors() map[task.Type]processor.Func {
	return map[task.Type]processor.Func{
		task.TypeIngest: func(_ context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
			var res processor.IngestResult
			for i, f := range t.Payload.Files {
				res.Items = append(res.Items, processor.IngestedItem{ItemID: "item:" + f, File: f, Pages: 1})
				progress(task.Progress{Total: len(t.Payload.Files), Completed: i + 1})
			}
			return res, nil
		},
		task.TypeQualityAnalysis: func(_ context.Context, t task.Task, _ processor.ProgressFunc) (any, error) {
			var res processor.QualityResult
			for _, id := range itemsFor(t) {
				score := 0.9
				if strings.Contains(id, "blurry") {
					score = 0.3
				}
				res.Scores = append(res.Scores, processor.QualityScore{ItemID: id, Score: score})
			}
			return res, nil
		},
		task.TypeIdentityRecognition: func(_ context.Context, t task.Task, _ processor.ProgressFunc) (any, error) {
			var res processor.IdentityResult
			for i, id := range itemsFor(t) {
				res.Matches = append(res.Matches, processor.IdentityMatch{ItemID: id, StudentID: fmt.Sprintf("S%04d", i), Confidence: 0.95})
			}
			return &res, nil
		},
		task.TypeStructureAnalysis: func(_ context.Context, t task.Task, _ processor.ProgressFunc) (any, error) {
			var res processor.StructureResult
			for _, id := range itemsFor(t) {
				res.Items = append(res.Items, processor.StructureRegion{ItemID: id, Regions: 4})
			}
			return res, nil
		},
	}
}

func newFixture(t *testing.T, procs map[task.Type]processor.Func) *fixture {
	t.Helper()
	reg := processor.NewRegistry()
	for typ, fn := range procs {
		if err := reg.Register(typ, fn); err != nil {
			t.Fatalf("register %s: %v", typ, err)
		}
	}
	bus := events.NewBus(logging.NewNop())
	sched := scheduler.New(scheduler.Options{
		MaxConcurrent:   3,
		RetryAttempts:   0,
		RetryDelay:      time.Millisecond,
		RetryBackoff:    config.BackoffFixed,
		TaskTimeout:     5 * time.Second,
		EnablePriority:  true,
		EnableProgress:  true,
		Retention:       time.Hour,
		CleanupInterval: time.Hour,
	}, reg, bus, logging.NewNop())
	store := &memoryStore{}
	ctrl := workflow.New(workflow.Options{
		Settings:         workflow.Settings{MinQualityScore: 0.6, MinIdentityConfidence: 0.8},
		IngestBatchSize:  2,
		IngestPriority:   10,
		AnalysisPriority: 5,
	}, sched, bus, store, logging.NewNop())
	log := &eventLog{}
	bus.Subscribe(log.handle)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		sched.Stop()
		ctrl.Close()
	})
	return &fixture{ctrl: ctrl, sched: sched, store: store, log: log}
}

func (f *fixture) toUpload(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ctrl.InitializeWorkflow(ctx, "exam-7"); err != nil {
		t.Fatalf("InitializeWorkflow: %v", err)
	}
	if err := f.ctrl.CompleteStudentSetup(ctx, workflow.StudentInfo{TotalStudents: 5}); err != nil {
		t.Fatalf("CompleteStudentSetup: %v", err)
	}
	if err := f.ctrl.CompleteTemplateSetup(ctx, workflow.TemplateInfo{TemplateID: "tpl-1", Questions: 10}); err != nil {
		t.Fatalf("CompleteTemplateSetup: %v", err)
	}
}

func waitProcessing(t *testing.T, ctrl *workflow.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.WaitForProcessing(ctx); err != nil {
		t.Fatalf("WaitForProcessing: %v", err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControllerRunsExamEndToEnd(t *testing.T) {
	f := newFixture(t, defaultProcessors())
	f.toUpload(t)
	ctx := context.Background()

	files := []string{"a.pdf", "b.pdf", "blurry.pdf", "d.pdf", "e.pdf"}
	ids, err := f.ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: files})
	if err != nil {
		t.Fatalf("StartUploadProcessing: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ingest chunks, got %d", len(ids))
	}
	for _, id := range ids {
		tk, ok := f.sched.GetTask(id)
		if !ok || tk.Priority != 10 || tk.Type != task.TypeIngest {
			t.Fatalf("unexpected ingest task %+v", tk)
		}
	}
	waitProcessing(t, f.ctrl)

	st := f.ctrl.State()
	p := st.Processing
	if p.Submitted != 12 || p.Completed != 12 || p.Failed != 0 {
		t.Fatalf("unexpected processing counters: %+v", f.ctrl.Summary().Processing)
	}
	if p.Ingested != 5 || p.SheetsReady != 4 {
		t.Fatalf("expected 5 ingested and 4 ready, got %d/%d", p.Ingested, p.SheetsReady)
	}
	if st.Quality.LowQuality != 1 {
		t.Fatalf("expected one low quality sheet, got %d", st.Quality.LowQuality)
	}

	if err := f.ctrl.CompleteUploadProcessing(ctx); err != nil {
		t.Fatalf("CompleteUploadProcessing: %v", err)
	}
	if err := f.ctrl.CompleteMarking(ctx, workflow.MarkingInfo{MarkedSheets: 4}); err != nil {
		t.Fatalf("CompleteMarking: %v", err)
	}
	if err := f.ctrl.CompleteReview(ctx, workflow.ReviewInfo{ReviewedSheets: 4}); err != nil {
		t.Fatalf("CompleteReview: %v", err)
	}
	if got := f.ctrl.OverallProgress(); got != 100 {
		t.Fatalf("expected 100%% overall progress, got %d", got)
	}
	summary := f.ctrl.Summary()
	if summary.CurrentStage != workflow.StageCompleted || summary.WorkflowID != "wf-exam-7" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if f.log.count(events.KindStageChanged) == 0 {
		t.Fatal("expected stage change events")
	}
	if f.store.savedCount() == 0 {
		t.Fatal("expected stage transitions to be persisted")
	}
}

func TestStoreFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, defaultProcessors())
	ctx := context.Background()
	if _, err := f.ctrl.InitializeWorkflow(ctx, "exam-1"); err != nil {
		t.Fatalf("InitializeWorkflow: %v", err)
	}
	before := f.ctrl.State()
	stageEvents := f.log.count(events.KindStageChanged)

	f.store.setFail(errors.New("disk full"))
	err := f.ctrl.CompleteStudentSetup(ctx, workflow.StudentInfo{TotalStudents: 3})
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
	after := f.ctrl.State()
	if after.Version != before.Version || after.CurrentStage != workflow.StageStudentSetup {
		t.Fatalf("state changed despite store failure: %+v", after)
	}
	if after.Students.TotalStudents != 0 {
		t.Fatal("student data committed despite store failure")
	}
	if f.log.count(events.KindStageChanged) != stageEvents {
		t.Fatal("stage events published despite store failure")
	}

	f.store.setFail(nil)
	if err := f.ctrl.CompleteStudentSetup(ctx, workflow.StudentInfo{TotalStudents: 3}); err != nil {
		t.Fatalf("retry after store recovery: %v", err)
	}
	if f.ctrl.State().CurrentStage != workflow.StageTemplateSetup {
		t.Fatal("expected advance after successful persist")
	}
}

func TestInitializeRejectsEmptyExamAndDuplicates(t *testing.T) {
	f := newFixture(t, defaultProcessors())
	ctx := context.Background()
	if _, err := f.ctrl.InitializeWorkflow(ctx, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.ctrl.InitializeWorkflow(ctx, "exam-1"); err != nil {
		t.Fatalf("InitializeWorkflow: %v", err)
	}
	if _, err := f.ctrl.InitializeWorkflow(ctx, "exam-1"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate initialization error, got %v", err)
	}
}

func TestStartUploadProcessingRequiresStage(t *testing.T) {
	f := newFixture(t, defaultProcessors())
	ctx := context.Background()
	if _, err := f.ctrl.InitializeWorkflow(ctx, "exam-1"); err != nil {
		t.Fatalf("InitializeWorkflow: %v", err)
	}
	_, err := f.ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: []string{"a.pdf"}})
	if !errors.Is(err, services.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if got := f.sched.Stats().Total; got != 0 {
		t.Fatalf("no tasks should be submitted, got %d", got)
	}

	f2 := newFixture(t, defaultProcessors())
	f2.toUpload(t)
	if _, err := f2.ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: []string{" ", ""}}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty batch, got %v", err)
	}
}

func TestFailedIngestBlocksUploadCompletion(t *testing.T) {
	procs := defaultProcessors()
	procs[task.TypeIngest] = func(context.Context, task.Task, processor.ProgressFunc) (any, error) {
		return nil, services.Wrap(services.ErrValidation, "ingest", "decode", "unreadable scan", nil)
	}
	f := newFixture(t, procs)
	f.toUpload(t)
	ctx := context.Background()
	if _, err := f.ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: []string{"a.pdf", "b.pdf", "c.pdf"}}); err != nil {
		t.Fatalf("StartUploadProcessing: %v", err)
	}
	waitProcessing(t, f.ctrl)

	p := f.ctrl.State().Processing
	if p.Failed != 2 || p.Submitted != 2 || p.SheetsReady != 0 {
		t.Fatalf("unexpected processing counters: %+v", f.ctrl.Summary().Processing)
	}
	if err := f.ctrl.CompleteUploadProcessing(ctx); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := f.ctrl.FailStage(ctx, workflow.StageUploadProcessing, "all scans unreadable"); err != nil {
		t.Fatalf("FailStage: %v", err)
	}
	if st := f.ctrl.State(); st.Status(workflow.StageUploadProcessing) != workflow.StatusFailed {
		t.Fatalf("expected failed stage, got %s", st.Status(workflow.StageUploadProcessing))
	}
}

func TestResetIgnoresResultsFromEarlierTasks(t *testing.T) {
	release := make(chan struct{})
	procs := defaultProcessors()
	ingest := procs[task.TypeIngest]
	procs[task.TypeIngest] = func(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
		<-release
		return ingest(ctx, t, progress)
	}
	f := newFixture(t, procs)
	f.toUpload(t)
	ctx := context.Background()
	ids, err := f.ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: []string{"a.pdf"}})
	if err != nil {
		t.Fatalf("StartUploadProcessing: %v", err)
	}
	if err := f.ctrl.ResetWorkflow(ctx); err != nil {
		t.Fatalf("ResetWorkflow: %v", err)
	}
	waitProcessing(t, f.ctrl)
	close(release)

	waitUntil(t, "ingest completion event", func() bool {
		return f.log.count(events.KindTaskCompleted) >= len(ids)
	})
	st := f.ctrl.State()
	if st.Processing.Completed != 0 || st.Processing.Ingested != 0 {
		t.Fatalf("stale results leaked into reset workflow: %+v", f.ctrl.Summary().Processing)
	}
	if st.CurrentStage != workflow.StageStudentSetup {
		t.Fatalf("expected student setup after reset, got %s", st.CurrentStage)
	}
	if got := f.sched.Stats().Total; got != len(ids) {
		t.Fatalf("no analysis tasks should follow a stale ingest, got %d tasks", got)
	}
}

func TestCancelProcessingStopsOutstandingTasks(t *testing.T) {
	procs := defaultProcessors()
	procs[task.TypeIngest] = func(ctx context.Context, _ task.Task, _ processor.ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, procs)
	f.toUpload(t)
	ctx := context.Background()
	ids, err := f.ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: []string{"a", "b", "c", "d", "e", "f", "g", "h"}})
	if err != nil {
		t.Fatalf("StartUploadProcessing: %v", err)
	}
	waitUntil(t, "ingest ids recorded", func() bool {
		return len(f.ctrl.State().Processing.TaskIDs) == len(ids)
	})
	if got := f.ctrl.CancelProcessing(); got != len(ids) {
		t.Fatalf("expected %d cancellations, got %d", len(ids), got)
	}
	waitProcessing(t, f.ctrl)
	if p := f.ctrl.State().Processing; p.Cancelled != len(ids) {
		t.Fatalf("expected %d cancelled, got %+v", len(ids), f.ctrl.Summary().Processing)
	}
}

func TestWaitForProcessingHonoursContext(t *testing.T) {
	procs := defaultProcessors()
	procs[task.TypeIngest] = func(ctx context.Context, _ task.Task, _ processor.ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, procs)
	f.toUpload(t)
	if _, err := f.ctrl.StartUploadProcessing(context.Background(), workflow.Batch{Files: []string{"a"}}); err != nil {
		t.Fatalf("StartUploadProcessing: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.ctrl.WaitForProcessing(ctx); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled wait, got %v", err)
	}
}

func TestGoToStageThroughController(t *testing.T) {
	f := newFixture(t, defaultProcessors())
	f.toUpload(t)
	ctx := context.Background()
	if err := f.ctrl.GoToStage(ctx, workflow.StageMarking); !errors.Is(err, services.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if err := f.ctrl.GoToStage(ctx, workflow.StageStudentSetup); err != nil {
		t.Fatalf("GoToStage back: %v", err)
	}
	if got := f.ctrl.StageProgress(workflow.StageTemplateSetup); got != 0 {
		t.Fatalf("template setup should be reset, progress %d", got)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	last := f.store.transitions[len(f.store.transitions)-1]
	if last.Action != "go_to_stage" || last.WorkflowID != "wf-exam-7" {
		t.Fatalf("unexpected transition %+v", last)
	}
}
