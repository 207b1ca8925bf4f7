// Package examrun wires the store, scheduler, simulated processors and
// workflow controller into a single exam run, driving every stage from
// student setup to completion.
package examrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"examflow/internal/config"
	"examflow/internal/events"
	"examflow/internal/logging"
	"examflow/internal/metrics"
	"examflow/internal/processor"
	"examflow/internal/processor/simulate"
	"examflow/internal/scheduler"
	"examflow/internal/services"
	"examflow/internal/store"
	"examflow/internal/task"
	"examflow/internal/workflow"
)

const component = "examrun"

// ErrAlreadyRunning is returned when another run holds the data directory lock.
var ErrAlreadyRunning = errors.New("another examflow run holds the data directory lock")

// Options describes the exam being run.
type Options struct {
	ExamID       string
	Students     int
	StudentSrc   string
	TemplateID   string
	TemplateName string
	Questions    int
	TotalMarks   float64
	Files        []string

	// Progress, when set, receives scheduler events as they are published.
	Progress events.Handler
}

// Result summarizes a finished run.
type Result struct {
	Summary  workflow.Summary
	Stats    scheduler.Stats
	Archived int
	Elapsed  time.Duration
}

// Run executes one exam workflow end to end against the simulated
// processors. The returned result is populated even when a stage fails.
func Run(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (Result, error) {
	if cfg == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, component, "run", "config is required", nil)
	}
	if err := validate(&opts); err != nil {
		return Result{}, err
	}
	logger = logging.NewComponentLogger(logger, component)
	started := time.Now()

	if err := cfg.EnsureDirectories(); err != nil {
		return Result{}, fmt.Errorf("ensure directories: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return Result{}, ErrAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	st, err := store.Open(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := events.NewBus(logger)
	if opts.Progress != nil {
		defer bus.Subscribe(opts.Progress)()
	}
	if cfg.Metrics.Enabled {
		stopMetrics, err := startMetrics(ctx, cfg.Metrics.Bind, bus, logger)
		if err != nil {
			return Result{}, err
		}
		defer stopMetrics()
	}

	registry := processor.NewRegistry()
	if err := simulate.New(simulate.OptionsFromConfig(cfg), logger).Register(registry); err != nil {
		return Result{}, fmt.Errorf("register processors: %w", err)
	}
	if err := registry.Require(task.TypeIngest, task.TypeQualityAnalysis, task.TypeIdentityRecognition, task.TypeStructureAnalysis); err != nil {
		return Result{}, err
	}

	sched := scheduler.New(scheduler.OptionsFromConfig(cfg), registry, bus, logger)
	sched.SetArchiver(st)
	if err := sched.Start(ctx); err != nil {
		return Result{}, fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	ctrl := workflow.New(workflow.OptionsFromConfig(cfg), sched, bus, st, logger)
	defer ctrl.Close()

	runErr := drive(ctx, ctrl, opts, logger)

	sched.Stop()
	tasks := sched.ListTasks()
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := st.ArchiveTasks(archiveCtx, tasks); err != nil {
		logging.WarnWithContext(logger, "task archive failed", "task_archive_failed",
			logging.String(logging.FieldErrorHint, "task history for this run will be incomplete"),
			logging.Error(err),
		)
	}

	res := Result{
		Summary:  ctrl.Summary(),
		Stats:    sched.Stats(),
		Archived: len(tasks),
		Elapsed:  time.Since(started),
	}
	logger.Info("exam run finished",
		logging.String(logging.FieldEventType, "exam_run_finished"),
		logging.String(logging.FieldExamID, res.Summary.ExamID),
		logging.String("current_stage", string(res.Summary.CurrentStage)),
		logging.Int("overall_progress", res.Summary.OverallProgress),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, runErr
}

func validate(opts *Options) error {
	opts.ExamID = strings.TrimSpace(opts.ExamID)
	if opts.ExamID == "" {
		return services.Wrap(services.ErrValidation, component, "run", "exam id is required", nil)
	}
	if opts.Students <= 0 {
		return services.Wrap(services.ErrValidation, component, "run", "student count must be positive", nil)
	}
	if len(opts.Files) == 0 {
		return services.Wrap(services.ErrValidation, component, "run", "at least one answer sheet is required", nil)
	}
	if strings.TrimSpace(opts.TemplateID) == "" {
		opts.TemplateID = opts.ExamID + "-template"
	}
	if opts.TotalMarks <= 0 {
		opts.TotalMarks = 100
	}
	return nil
}

// drive walks the controller through every active stage.
func drive(ctx context.Context, ctrl *workflow.Controller, opts Options, logger *slog.Logger) error {
	ctx = services.WithExamID(ctx, opts.ExamID)
	if _, err := ctrl.InitializeWorkflow(ctx, opts.ExamID); err != nil {
		return err
	}
	if err := ctrl.CompleteStudentSetup(ctx, workflow.StudentInfo{TotalStudents: opts.Students, Source: opts.StudentSrc}); err != nil {
		return err
	}
	if err := ctrl.CompleteTemplateSetup(ctx, workflow.TemplateInfo{
		TemplateID: opts.TemplateID,
		Name:       opts.TemplateName,
		Questions:  opts.Questions,
		TotalMarks: opts.TotalMarks,
	}); err != nil {
		return err
	}

	if _, err := ctrl.StartUploadProcessing(ctx, workflow.Batch{Files: opts.Files}); err != nil {
		return err
	}
	if err := ctrl.WaitForProcessing(ctx); err != nil {
		ctrl.CancelProcessing()
		return err
	}
	if err := ctrl.CompleteUploadProcessing(ctx); err != nil {
		failStage(ctx, ctrl, workflow.StageUploadProcessing, err, logger)
		return err
	}

	state := ctrl.State()
	marking := workflow.MarkingInfo{
		MarkedSheets: state.Processing.SheetsReady,
		AverageScore: state.Quality.AverageQuality * opts.TotalMarks,
	}
	if err := ctrl.CompleteMarking(ctx, marking); err != nil {
		return err
	}
	if state.Settings.SkipReview {
		return nil
	}
	return ctrl.CompleteReview(ctx, workflow.ReviewInfo{
		ReviewedSheets: marking.MarkedSheets,
		Adjustments:    state.Quality.LowConfidence,
	})
}

func failStage(ctx context.Context, ctrl *workflow.Controller, stage workflow.Stage, cause error, logger *slog.Logger) {
	if err := ctrl.FailStage(ctx, stage, cause.Error()); err != nil {
		logger.Warn("failed to record stage failure",
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(err),
		)
	}
}

func startMetrics(ctx context.Context, bind string, bus *events.Bus, logger *slog.Logger) (func(), error) {
	collector := metrics.New()
	detach := collector.Attach(bus)
	srv, err := metrics.Listen(bind, collector, logger)
	if err != nil {
		detach()
		return nil, fmt.Errorf("start metrics endpoint: %w", err)
	}
	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(serveCtx); err != nil {
			logger.Warn("metrics endpoint stopped", logging.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
		detach()
	}, nil
}
