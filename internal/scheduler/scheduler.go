package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"examflow/internal/events"
	"examflow/internal/logging"
	"examflow/internal/processor"
	"examflow/internal/services"
	"examflow/internal/task"
)

// StopReason is recorded on tasks interrupted by Stop.
const StopReason = "scheduler stopped"

// CancelReason is recorded on tasks cancelled through Cancel.
const CancelReason = "cancelled by request"

// Stats is a point-in-time summary of the task set.
type Stats = events.QueueStats

// Archiver receives terminal tasks before they are evicted from memory.
type Archiver interface {
	ArchiveTasks(ctx context.Context, tasks []task.Task) error
}

// Scheduler dispatches tasks to processors.
type Scheduler struct {
	opts     Options
	registry *processor.Registry
	bus      *events.Bus
	logger   *slog.Logger
	sampler  *logging.ProgressSampler
	archiver Archiver
	now      func() time.Time

	mu         sync.Mutex
	tasks      map[string]*entry
	queue      []*entry
	running    map[string]*entry
	waiting    map[string]*entry
	seq        uint64
	outbox     []events.Event
	delivering bool
	changed    chan struct{}
	started    bool
	stopping   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	wake     chan struct{}
	outcomes chan outcome
	progress chan progressReport
	retries  chan retryDue
	quit     chan struct{}
	stopped  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
}

type outcome struct {
	id      string
	attempt int
	value   any
	err     error
}

type progressReport struct {
	id       string
	attempt  int
	progress task.Progress
}

type retryDue struct {
	id    string
	retry int
}

type dispatch struct {
	t       task.Task
	attempt int
	proc    processor.Processor
	ctx     context.Context
}

// New constructs a scheduler. The registry must already hold a processor for
// every task type that will be submitted.
func New(opts Options, registry *processor.Registry, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if registry == nil {
		registry = processor.NewRegistry()
	}
	return &Scheduler{
		opts:     opts.normalized(),
		registry: registry,
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		sampler:  logging.NewProgressSampler(25),
		now:      time.Now,
		tasks:    make(map[string]*entry),
		running:  make(map[string]*entry),
		waiting:  make(map[string]*entry),
		changed:  make(chan struct{}),
		wake:     make(chan struct{}, 1),
		outcomes: make(chan outcome),
		progress: make(chan progressReport),
		retries:  make(chan retryDue),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetArchiver installs the archiver used by retention sweeps.
func (s *Scheduler) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiver = a
}

// Start launches the dispatch loop. Tasks submitted earlier are dispatched
// immediately. Cancelling ctx has the same effect as Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return services.Wrap(services.ErrConfiguration, "scheduler", "start", "scheduler already started", nil)
	}
	select {
	case <-s.quit:
		s.mu.Unlock()
		return services.Wrap(services.ErrCancelled, "scheduler", "start", StopReason, nil)
	default:
	}
	s.started = true
	s.baseCtx, s.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		logging.String(logging.FieldEventType, "scheduler_start"),
		logging.Int("max_concurrent", s.opts.MaxConcurrent),
		logging.Int("retry_attempts", s.opts.RetryAttempts),
		logging.Duration("task_timeout", s.opts.TaskTimeout),
		logging.Bool("priority", s.opts.EnablePriority),
	)
	go s.loop(ctx)
	return nil
}

// Stop halts dispatch, cancels in-flight attempts and records them as
// cancelled, then waits for worker goroutines to exit. Queued tasks stay
// pending.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.quit) })
	if !started {
		return
	}
	<-s.done
	s.workers.Wait()
}

// Submit queues a new task and returns its id. It never waits for work to
// run. Unknown task types fail immediately with a configuration error.
func (s *Scheduler) Submit(typ task.Type, payload task.Payload, opts task.Options) (string, error) {
	if _, ok := s.registry.Lookup(typ); !ok {
		return "", services.Wrap(services.ErrConfiguration, "scheduler", "submit",
			fmt.Sprintf("no processor registered for task type %q", typ), nil)
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = s.opts.RetryAttempts
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return "", services.Wrap(services.ErrCancelled, "scheduler", "submit", StopReason, nil)
	}
	s.seq++
	e := &entry{t: task.Task{
		ID:         uuid.NewString(),
		Type:       typ,
		Status:     task.StatusPending,
		Priority:   opts.Priority,
		Seq:        s.seq,
		Payload:    payload.Clone(),
		Progress:   task.Progress{Total: payload.Size()},
		MaxRetries: maxRetries,
		CreatedAt:  s.now(),
	}}
	s.tasks[e.t.ID] = e
	s.insertLocked(e, false)
	s.emitLocked(events.TaskCreated{Task: e.t.Clone()})
	s.emitQueueLocked()
	id := e.t.ID
	s.mu.Unlock()

	s.logger.Debug("task submitted", logging.Args(append(logging.TaskAttrs(id, string(typ), 0),
		logging.String(logging.FieldExamID, payload.ExamID),
		logging.Int("priority", opts.Priority),
		logging.Int("items", payload.Size()),
	)...)...)

	s.signal()
	s.flush()
	return id, nil
}

// Cancel stops a task. It returns false when the task is unknown or already
// terminal. Queued, paused and retry-waiting tasks are cancelled at once; a
// running task has its context cancelled and is recorded as cancelled when
// the attempt ends.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok || e.t.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	switch {
	case s.running[id] == e:
		if !e.t.CancelRequested {
			e.t.CancelRequested = true
			if e.cancel != nil {
				e.cancel()
			}
		}
	case s.waiting[id] == e:
		delete(s.waiting, id)
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		s.cancelledLocked(e, CancelReason)
	default:
		s.removeQueuedLocked(id)
		s.cancelledLocked(e, CancelReason)
	}
	s.mu.Unlock()

	s.signal()
	s.flush()
	return true
}

// Pause interrupts a running task. The attempt's context is cancelled and its
// outcome discarded; the task keeps its identity and retry budget.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "scheduler", "pause", fmt.Sprintf("task %s not found", id), nil)
	}
	if s.running[id] != e || e.t.CancelRequested {
		status := e.t.Status
		s.mu.Unlock()
		return services.Wrap(services.ErrValidation, "scheduler", "pause",
			fmt.Sprintf("task %s is %s", id, status), task.ErrInvalidTransition)
	}
	if err := e.t.Transition(task.StatusPaused); err != nil {
		s.mu.Unlock()
		return services.Wrap(services.ErrValidation, "scheduler", "pause", "", err)
	}
	delete(s.running, id)
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	s.emitLocked(events.TaskPaused{TaskID: id})
	s.emitQueueLocked()
	s.mu.Unlock()

	s.logger.Info("task paused", logging.String(logging.FieldTaskID, id))
	s.signal()
	s.flush()
	return nil
}

// Resume returns a paused task to the front of its priority tier.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "scheduler", "resume", fmt.Sprintf("task %s not found", id), nil)
	}
	if e.t.Status != task.StatusPaused {
		status := e.t.Status
		s.mu.Unlock()
		return services.Wrap(services.ErrValidation, "scheduler", "resume",
			fmt.Sprintf("task %s is %s", id, status), task.ErrInvalidTransition)
	}
	if err := e.t.Transition(task.StatusPending); err != nil {
		s.mu.Unlock()
		return services.Wrap(services.ErrValidation, "scheduler", "resume", "", err)
	}
	s.insertLocked(e, true)
	s.emitLocked(events.TaskResumed{TaskID: id})
	s.emitQueueLocked()
	s.mu.Unlock()

	s.logger.Info("task resumed", logging.String(logging.FieldTaskID, id))
	s.signal()
	s.flush()
	return nil
}

// GetTask returns a snapshot of the task.
func (s *Scheduler) GetTask(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return e.t.Clone(), true
}

// ListTasks returns snapshots in submission order, optionally filtered by
// status.
func (s *Scheduler) ListTasks(statuses ...task.Status) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		if len(statuses) > 0 && !containsStatus(statuses, e.t.Status) {
			continue
		}
		out = append(out, e.t.Clone())
	}
	sortBySeq(out)
	return out
}

// PendingTasks returns queued tasks in dispatch order. Tasks waiting out a
// retry delay are not included until they re-enter the queue.
func (s *Scheduler) PendingTasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, e.t.Clone())
	}
	return out
}

// Stats returns aggregate counters computed from the current task set.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// Wait blocks until every named task is terminal or has been evicted. With
// no ids it waits for every task currently known. Unknown ids return a
// not-found error. Events for the final transition may still be in delivery
// when Wait returns.
func (s *Scheduler) Wait(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	if len(ids) == 0 {
		for id := range s.tasks {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if _, ok := s.tasks[id]; !ok {
			s.mu.Unlock()
			return services.Wrap(services.ErrNotFound, "scheduler", "wait", fmt.Sprintf("task %s not found", id), nil)
		}
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		open := false
		for _, id := range ids {
			if e, ok := s.tasks[id]; ok && !e.t.IsTerminal() {
				open = true
				break
			}
		}
		changed := s.changed
		s.mu.Unlock()
		if !open {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()

	for {
		s.dispatchReady()
		select {
		case <-s.quit:
			s.shutdown()
			return
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.wake:
		case out := <-s.outcomes:
			s.handleOutcome(out)
		case rep := <-s.progress:
			s.handleProgress(rep)
		case due := <-s.retries:
			s.handleRetryDue(due)
		case <-cleanup.C:
			if _, err := s.Sweep(s.baseCtx); err != nil {
				logging.WarnWithContext(s.logger, "retention sweep failed", "retention_sweep",
					logging.Error(err),
					logging.String(logging.FieldImpact, "terminal tasks kept in memory until the next sweep"),
				)
			}
		}
	}
}

// dispatchReady fills free slots from the head of the queue.
func (s *Scheduler) dispatchReady() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	var batch []dispatch
	for len(s.running) < s.opts.MaxConcurrent {
		e := s.popLocked()
		if e == nil {
			break
		}
		proc, ok := s.registry.Lookup(e.t.Type)
		if !ok {
			s.failLocked(e, services.Wrap(services.ErrConfiguration, "scheduler", "dispatch",
				fmt.Sprintf("no processor registered for task type %q", e.t.Type), nil))
			continue
		}
		if err := e.t.Transition(task.StatusRunning); err != nil {
			s.logger.Error("dequeued task in unexpected state", logging.String(logging.FieldTaskID, e.t.ID), logging.Error(err))
			continue
		}
		e.t.Attempts++
		e.t.StartedAt = s.now()
		e.t.CompletedAt = time.Time{}
		e.attempt = e.t.Attempts
		ctx := services.WithTaskID(s.baseCtx, e.t.ID)
		ctx = services.WithExamID(ctx, e.t.Payload.ExamID)
		ctx, e.cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		s.running[e.t.ID] = e
		s.emitLocked(events.TaskStarted{TaskID: e.t.ID, Type: e.t.Type, Attempt: e.attempt})
		batch = append(batch, dispatch{t: e.t.Clone(), attempt: e.attempt, proc: proc, ctx: ctx})
	}
	if len(batch) > 0 {
		s.emitQueueLocked()
	}
	s.mu.Unlock()

	for _, d := range batch {
		s.logger.Debug("task started", logging.Args(logging.TaskAttrs(d.t.ID, string(d.t.Type), d.attempt)...)...)
		s.workers.Add(1)
		go s.execute(d)
	}
	s.flush()
}

// execute runs one attempt and reports its outcome to the loop. The attempt
// ends when the processor returns or its context is done, whichever comes
// first; a processor that ignores cancellation is abandoned.
func (s *Scheduler) execute(d dispatch) {
	defer s.workers.Done()

	report := func(p task.Progress) {
		select {
		case s.progress <- progressReport{id: d.t.ID, attempt: d.attempt, progress: p}:
		case <-d.ctx.Done():
		case <-s.stopped:
		}
	}

	result := make(chan outcome, 1)
	go func() {
		out := outcome{id: d.t.ID, attempt: d.attempt}
		defer func() {
			if r := recover(); r != nil {
				out.value = nil
				out.err = services.Wrap(services.ErrTransient, "scheduler", "process",
					fmt.Sprintf("processor panicked: %v", r), nil)
			}
			result <- out
		}()
		out.value, out.err = d.proc.Process(d.ctx, d.t, report)
	}()

	var out outcome
	select {
	case out = <-result:
		if out.err != nil && errors.Is(d.ctx.Err(), context.DeadlineExceeded) {
			out.err = s.timeoutError()
		}
	case <-d.ctx.Done():
		out = outcome{id: d.t.ID, attempt: d.attempt}
		if errors.Is(d.ctx.Err(), context.DeadlineExceeded) {
			out.err = s.timeoutError()
		} else {
			out.err = services.Wrap(services.ErrCancelled, "scheduler", "process", "attempt interrupted", d.ctx.Err())
		}
	}

	select {
	case s.outcomes <- out:
	case <-s.stopped:
	}
}

func (s *Scheduler) timeoutError() error {
	return services.Wrap(services.ErrTimeout, "scheduler", "process",
		fmt.Sprintf("timeout after %s", s.opts.TaskTimeout), nil)
}

func (s *Scheduler) handleOutcome(out outcome) {
	s.mu.Lock()
	e, ok := s.running[out.id]
	if !ok || e.attempt != out.attempt {
		s.mu.Unlock()
		return
	}
	delete(s.running, out.id)
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	switch {
	case e.t.CancelRequested:
		s.cancelledLocked(e, CancelReason)
	case out.err == nil:
		s.completeLocked(e, out.value)
	default:
		s.failLocked(e, out.err)
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Scheduler) handleProgress(rep progressReport) {
	s.mu.Lock()
	e, ok := s.running[rep.id]
	if !ok || e.attempt != rep.attempt {
		s.mu.Unlock()
		return
	}
	e.t.Progress = rep.progress
	typ := e.t.Type
	if s.opts.EnableProgress {
		s.emitLocked(events.TaskProgress{TaskID: rep.id, Type: typ, Progress: rep.progress})
	}
	s.mu.Unlock()

	if s.sampler.ShouldLog(rep.id, rep.progress.Percent()) {
		s.logger.Debug("task progress",
			logging.String(logging.FieldTaskID, rep.id),
			logging.String(logging.FieldTaskType, string(typ)),
			logging.Int("completed", rep.progress.Completed),
			logging.Int("total", rep.progress.Total),
			logging.String("current", rep.progress.Current),
		)
	}
	s.flush()
}

func (s *Scheduler) handleRetryDue(due retryDue) {
	s.mu.Lock()
	e, ok := s.waiting[due.id]
	if !ok || e.t.RetryCount != due.retry || s.stopping {
		s.mu.Unlock()
		return
	}
	delete(s.waiting, due.id)
	e.timer = nil
	e.t.NextAttemptAt = time.Time{}
	s.insertLocked(e, false)
	s.emitQueueLocked()
	s.mu.Unlock()
	s.flush()
}

func (s *Scheduler) completeLocked(e *entry, value any) {
	if err := e.t.Transition(task.StatusCompleted); err != nil {
		s.logger.Error("complete rejected", logging.String(logging.FieldTaskID, e.t.ID), logging.Error(err))
		return
	}
	total := e.t.Progress.Total
	if total <= 0 {
		total = max(e.t.Payload.Size(), 1)
	}
	e.t.Progress = task.Progress{Total: total, Completed: total, Failed: e.t.Progress.Failed}
	e.t.Result = value
	e.t.Error = ""
	e.t.CompletedAt = s.now()
	s.sampler.Forget(e.t.ID)

	s.logger.Info("task completed", logging.Args(append(logging.TaskAttrs(e.t.ID, string(e.t.Type), e.t.Attempts),
		logging.String(logging.FieldEventType, "task_complete"),
		logging.String(logging.FieldExamID, e.t.Payload.ExamID),
		logging.Int64("duration_ms", e.t.Duration().Milliseconds()),
	)...)...)

	s.emitLocked(events.TaskCompleted{
		TaskID:   e.t.ID,
		Type:     e.t.Type,
		ExamID:   e.t.Payload.ExamID,
		Result:   value,
		Duration: e.t.Duration(),
	})
	s.emitQueueLocked()
	s.notifyLocked()
}

// failLocked records a failed attempt and either schedules a retry or marks
// the task failed for good.
func (s *Scheduler) failLocked(e *entry, err error) {
	message := services.Message(err)
	e.t.Error = message
	if e.t.Status == task.StatusPending {
		// Dispatch never started the attempt.
		e.t.Status = task.StatusRunning
	}
	if transErr := e.t.Transition(task.StatusFailed); transErr != nil {
		s.logger.Error("fail rejected", logging.String(logging.FieldTaskID, e.t.ID), logging.Error(transErr))
		return
	}

	if e.t.CanRetry() && services.Retryable(err) {
		e.t.RetryCount++
		if transErr := e.t.Transition(task.StatusPending); transErr == nil {
			delay := s.opts.retryDelay(e.t.RetryCount)
			e.t.NextAttemptAt = s.now().Add(delay)
			s.waiting[e.t.ID] = e
			due := retryDue{id: e.t.ID, retry: e.t.RetryCount}
			e.timer = time.AfterFunc(delay, func() {
				select {
				case s.retries <- due:
				case <-s.stopped:
				}
			})

			logging.WarnWithContext(s.logger, "task attempt failed; retrying", "task_retry",
				logging.String(logging.FieldTaskID, e.t.ID),
				logging.String(logging.FieldTaskType, string(e.t.Type)),
				logging.Int(logging.FieldAttempt, e.t.Attempts),
				logging.Int("retry", e.t.RetryCount),
				logging.Int("max_retries", e.t.MaxRetries),
				logging.Duration("delay", delay),
				logging.String("error_message", message),
				logging.String(logging.FieldErrorHint, "retry scheduled automatically"),
				logging.String(logging.FieldImpact, "task completion delayed"),
			)
			s.emitLocked(events.TaskRetrying{
				TaskID:  e.t.ID,
				Type:    e.t.Type,
				Attempt: e.t.Attempts + 1,
				Delay:   delay,
				Error:   message,
			})
			s.emitQueueLocked()
			return
		}
	}

	e.t.CompletedAt = s.now()
	s.sampler.Forget(e.t.ID)
	logging.ErrorWithContext(s.logger, "task failed", "task_failed",
		logging.String(logging.FieldTaskID, e.t.ID),
		logging.String(logging.FieldTaskType, string(e.t.Type)),
		logging.String(logging.FieldExamID, e.t.Payload.ExamID),
		logging.Int(logging.FieldAttempt, e.t.Attempts),
		logging.String("error_kind", string(services.Kind(err))),
		logging.String(logging.FieldErrorHint, "inspect the processor for this task type"),
		logging.Error(err),
	)
	s.emitLocked(events.TaskFailed{TaskID: e.t.ID, Type: e.t.Type, ExamID: e.t.Payload.ExamID, Error: message})
	s.emitQueueLocked()
	s.notifyLocked()
}

func (s *Scheduler) cancelledLocked(e *entry, reason string) {
	e.t.Status = task.StatusCancelled
	e.t.CompletedAt = s.now()
	e.t.NextAttemptAt = time.Time{}
	e.t.Error = reason
	s.sampler.Forget(e.t.ID)

	s.logger.Info("task cancelled",
		logging.String(logging.FieldTaskID, e.t.ID),
		logging.String(logging.FieldTaskType, string(e.t.Type)),
		logging.String("reason", reason),
	)
	s.emitLocked(events.TaskCancelled{TaskID: e.t.ID, Type: e.t.Type, ExamID: e.t.Payload.ExamID, Reason: reason})
	s.emitQueueLocked()
	s.notifyLocked()
}

// shutdown runs on the loop goroutine once Stop is requested.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopping = true
	for id, e := range s.running {
		delete(s.running, id)
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		s.cancelledLocked(e, StopReason)
	}
	for id, e := range s.waiting {
		delete(s.waiting, id)
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.t.NextAttemptAt = time.Time{}
		s.insertLocked(e, false)
	}
	if s.baseCancel != nil {
		s.baseCancel()
	}
	close(s.stopped)
	queued := len(s.queue)
	s.mu.Unlock()

	s.flush()
	s.logger.Info("scheduler stopped",
		logging.String(logging.FieldEventType, "scheduler_stop"),
		logging.Int("queued", queued),
	)
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) emitLocked(ev events.Event) {
	s.outbox = append(s.outbox, ev)
}

func (s *Scheduler) emitQueueLocked() {
	s.emitLocked(events.QueueUpdated{Stats: s.statsLocked()})
}

// flush delivers queued events in order. Only one goroutine delivers at a
// time; events appended meanwhile are picked up by that goroutine.
func (s *Scheduler) flush() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()
		for _, ev := range batch {
			s.bus.Publish(ev)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}
