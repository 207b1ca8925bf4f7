package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"examflow/internal/config"
	"examflow/internal/events"
	"examflow/internal/logging"
	"examflow/internal/services"
	"examflow/internal/task"
)

// Scheduler is the subset of the task scheduler used by the controller.
type Scheduler interface {
	Submit(typ task.Type, payload task.Payload, opts task.Options) (string, error)
	Cancel(id string) bool
	GetTask(id string) (task.Task, bool)
}

// Store persists workflow state. SaveWorkflow must be durable before it
// returns; the controller commits in memory only afterwards.
type Store interface {
	CreateWorkflow(ctx context.Context, examID string) (string, error)
	SaveWorkflow(ctx context.Context, state State, transitions []Transition) error
}

// Loader is implemented by stores that can restore a saved workflow.
type Loader interface {
	LoadWorkflow(ctx context.Context, workflowID string) (State, error)
}

// Transition records a single stage status change.
type Transition struct {
	WorkflowID string      `json:"workflow_id"`
	ExamID     string      `json:"exam_id"`
	Stage      Stage       `json:"stage"`
	From       StageStatus `json:"from"`
	To         StageStatus `json:"to"`
	Action     string      `json:"action"`
	Version    int64       `json:"version"`
	At         time.Time   `json:"at"`
}

// Options configures a Controller.
type Options struct {
	Settings         Settings
	IngestBatchSize  int
	IngestPriority   int
	AnalysisPriority int
}

// OptionsFromConfig maps the workflow section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	w := cfg.Workflow
	return Options{
		Settings: Settings{
			SkipReview:            w.SkipReview,
			MinQualityScore:       w.MinQualityScore,
			MinIdentityConfidence: w.MinIdentityConfidence,
		},
		IngestBatchSize:  w.IngestBatchSize,
		IngestPriority:   w.IngestPriority,
		AnalysisPriority: w.AnalysisPriority,
	}
}

// Task payload option keys used to route task events back to a workflow.
const (
	OptionWorkflowID = "workflow_id"
	OptionGeneration = "workflow_generation"
)

// Controller owns the workflow state of one exam.
type Controller struct {
	opts   Options
	sched  Scheduler
	bus    *events.Bus
	store  Store
	logger *slog.Logger
	now    func() time.Time

	commitMu sync.Mutex
	state    atomic.Pointer[State]
	changed  chan struct{}

	unsubscribe func()
}

// New builds a controller. sched, bus and store may be nil; without a store
// workflow ids are generated locally and nothing is persisted.
func New(opts Options, sched Scheduler, bus *events.Bus, store Store, logger *slog.Logger) *Controller {
	if opts.IngestBatchSize <= 0 {
		opts.IngestBatchSize = config.Default().Workflow.IngestBatchSize
	}
	c := &Controller{
		opts:    opts,
		sched:   sched,
		bus:     bus,
		store:   store,
		logger:  logging.NewComponentLogger(logger, component),
		now:     time.Now,
		changed: make(chan struct{}),
	}
	c.state.Store(&State{})
	if bus != nil && sched != nil {
		c.unsubscribe = bus.SubscribeKinds(c.onTaskEvent,
			events.KindTaskCompleted,
			events.KindTaskFailed,
			events.KindTaskCancelled,
		)
	}
	return c
}

// Close detaches the controller from the event bus.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// State returns a copy of the current snapshot.
func (c *Controller) State() State {
	return c.snapshot().Clone()
}

func (c *Controller) snapshot() State {
	if p := c.state.Load(); p != nil {
		return *p
	}
	return State{}
}

// InitializeWorkflow creates the workflow for examID and opens student setup.
func (c *Controller) InitializeWorkflow(ctx context.Context, examID string) (State, error) {
	if c.snapshot().Initialized() {
		return c.State(), services.Wrap(services.ErrValidation, component, "initialize", "workflow already initialized", nil)
	}
	if examID == "" {
		return c.State(), services.Wrap(services.ErrValidation, component, "initialize", "exam id is required", nil)
	}
	workflowID := uuid.NewString()
	if c.store != nil {
		id, err := c.store.CreateWorkflow(ctx, examID)
		if err != nil {
			return c.State(), services.Wrap(services.ErrTransient, component, "initialize", "create workflow", err)
		}
		workflowID = id
	}
	st, err := c.apply(ctx, Initialize{ExamID: examID, WorkflowID: workflowID, Settings: c.opts.Settings}, true)
	if err != nil {
		return st.Clone(), err
	}
	c.logger.Info("workflow initialized",
		logging.String(logging.FieldEventType, "workflow_initialized"),
		logging.String(logging.FieldExamID, st.ExamID),
		logging.String("workflow_id", st.WorkflowID),
	)
	return st.Clone(), nil
}

// Restore loads a saved workflow into an uninitialized controller. Tasks that
// were outstanding when the state was saved are written off as cancelled.
func (c *Controller) Restore(ctx context.Context, workflowID string) (State, error) {
	loader, ok := c.store.(Loader)
	if !ok {
		return c.State(), services.Wrap(services.ErrConfiguration, component, "restore", "store cannot load workflows", nil)
	}
	loaded, err := loader.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return c.State(), err
	}
	loaded = loaded.Clone()
	if n := loaded.Processing.Outstanding(); n > 0 {
		loaded.Processing.Cancelled += n
	}
	loaded.Processing.Generation++

	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.snapshot().Initialized() {
		return c.State(), services.Wrap(services.ErrValidation, component, "restore", "workflow already initialized", nil)
	}
	c.state.Store(&loaded)
	c.notifyLocked()
	return loaded.Clone(), nil
}

// GoToStage moves the workflow to target.
func (c *Controller) GoToStage(ctx context.Context, target Stage) error {
	_, err := c.apply(ctx, GoToStage{Target: target}, true)
	return err
}

// CompleteStudentSetup records students and advances to template setup.
func (c *Controller) CompleteStudentSetup(ctx context.Context, info StudentInfo) error {
	_, err := c.apply(ctx, CompleteStudentSetup{Students: info}, true)
	return err
}

// CompleteTemplateSetup records the template and advances to upload processing.
func (c *Controller) CompleteTemplateSetup(ctx context.Context, info TemplateInfo) error {
	_, err := c.apply(ctx, CompleteTemplateSetup{Template: info}, true)
	return err
}

// CompleteUploadProcessing closes upload processing once every processing
// task has finished and at least one sheet is ready for marking.
func (c *Controller) CompleteUploadProcessing(ctx context.Context) error {
	_, err := c.apply(ctx, CompleteUploadProcessing{}, true)
	return err
}

// CompleteMarking records marking output and advances.
func (c *Controller) CompleteMarking(ctx context.Context, info MarkingInfo) error {
	_, err := c.apply(ctx, CompleteMarking{Marking: info}, true)
	return err
}

// CompleteReview records review output and completes the workflow.
func (c *Controller) CompleteReview(ctx context.Context, info ReviewInfo) error {
	_, err := c.apply(ctx, CompleteReview{Review: info}, true)
	return err
}

// FailStage marks the current stage failed with reason.
func (c *Controller) FailStage(ctx context.Context, stage Stage, reason string) error {
	_, err := c.apply(ctx, FailStage{Stage: stage, Reason: reason}, true)
	return err
}

// ResetWorkflow returns the workflow to its initial snapshot. Scheduled tasks
// are not cancelled; call CancelProcessing first when they should stop.
// Results of tasks issued before the reset are ignored.
func (c *Controller) ResetWorkflow(ctx context.Context) error {
	_, err := c.apply(ctx, Reset{}, true)
	return err
}

// apply reduces action under the commit mutex. When persist is set the new
// state is saved before it becomes visible; a store failure leaves the
// in-memory state untouched.
func (c *Controller) apply(ctx context.Context, action Action, persist bool) (State, error) {
	c.commitMu.Lock()
	cur := c.snapshot()
	next, err := Reduce(cur, action)
	if err != nil {
		c.commitMu.Unlock()
		return cur, err
	}
	if next.Version == cur.Version {
		c.commitMu.Unlock()
		return cur, nil
	}
	now := c.now()
	next.UpdatedAt = now
	transitions := diffTransitions(cur, next, action.Name(), now)
	if persist && c.store != nil {
		if err := c.store.SaveWorkflow(ctx, next, transitions); err != nil {
			c.commitMu.Unlock()
			logging.WarnWithContext(c.logger, "workflow persist failed", "workflow_persist_failed",
				logging.String(logging.FieldErrorHint, "retry the action once the store is reachable"),
				logging.String(logging.FieldImpact, "workflow state left unchanged"),
				logging.String("action", action.Name()),
				logging.Error(err),
			)
			return cur, services.Wrap(services.ErrTransient, component, action.Name(), "persist workflow", err)
		}
	}
	c.state.Store(&next)
	c.notifyLocked()
	c.commitMu.Unlock()

	c.publish(ctx, transitions)
	return next, nil
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) publish(ctx context.Context, transitions []Transition) {
	logger := logging.WithContext(ctx, c.logger)
	for _, tr := range transitions {
		logger.Info("stage changed",
			logging.String(logging.FieldEventType, "stage_changed"),
			logging.String(logging.FieldExamID, tr.ExamID),
			logging.String(logging.FieldStage, string(tr.Stage)),
			logging.String("from", string(tr.From)),
			logging.String("to", string(tr.To)),
			logging.String("action", tr.Action),
		)
		c.bus.Publish(events.StageChanged{
			ExamID:   tr.ExamID,
			Stage:    string(tr.Stage),
			Status:   string(tr.To),
			Previous: string(tr.From),
		})
	}
}

func diffTransitions(prev, next State, action string, at time.Time) []Transition {
	var out []Transition
	for _, stage := range stageOrder {
		from, to := prev.Status(stage), next.Status(stage)
		if from == to {
			continue
		}
		out = append(out, Transition{
			WorkflowID: next.WorkflowID,
			ExamID:     next.ExamID,
			Stage:      stage,
			From:       from,
			To:         to,
			Action:     action,
			Version:    next.Version,
			At:         at,
		})
	}
	return out
}
