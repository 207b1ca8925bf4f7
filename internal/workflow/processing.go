package workflow

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"examflow/internal/events"
	"examflow/internal/logging"
	"examflow/internal/processor"
	"examflow/internal/services"
	"examflow/internal/task"
)

// Batch is a set of uploaded answer sheet files. A zero Priority uses the
// configured ingest priority.
type Batch struct {
	Files    []string
	Priority int
}

// analysisTypes run for every ingested chunk.
var analysisTypes = []task.Type{
	task.TypeQualityAnalysis,
	task.TypeIdentityRecognition,
	task.TypeStructureAnalysis,
}

type submission struct {
	typ     task.Type
	payload task.Payload
}

// StartUploadProcessing submits ingest tasks for batch in chunks of the
// configured batch size. Analysis tasks follow automatically as ingest tasks
// complete. It returns the ids of the submitted ingest tasks.
func (c *Controller) StartUploadProcessing(ctx context.Context, batch Batch) ([]string, error) {
	const op = "start_upload_processing"
	if c.sched == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, op, "no scheduler configured", nil)
	}
	files := make([]string, 0, len(batch.Files))
	for _, f := range batch.Files {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrValidation, component, op, "no files to process", nil)
	}

	cur := c.snapshot()
	gen := cur.Processing.Generation
	chunks := slices.Collect(slices.Chunk(files, c.opts.IngestBatchSize))
	if _, err := c.apply(ctx, ProcessingReserved{Generation: gen, Files: len(files), Tasks: len(chunks)}, false); err != nil {
		return nil, err
	}

	priority := batch.Priority
	if priority == 0 {
		priority = c.opts.IngestPriority
	}
	subs := make([]submission, 0, len(chunks))
	for _, chunk := range chunks {
		subs = append(subs, submission{
			typ:     task.TypeIngest,
			payload: c.payload(cur, gen, nil, chunk),
		})
	}
	ids, err := c.submit(ctx, gen, subs, priority)
	if err != nil {
		return ids, err
	}
	logging.WithContext(services.WithExamID(ctx, cur.ExamID), c.logger).Info("upload processing started",
		logging.String(logging.FieldEventType, "upload_processing_started"),
		logging.Int("files", len(files)),
		logging.Int("ingest_tasks", len(ids)),
	)
	return ids, nil
}

func (c *Controller) payload(st State, gen int, items, files []string) task.Payload {
	return task.Payload{
		ExamID:  st.ExamID,
		ItemIDs: slices.Clone(items),
		Files:   slices.Clone(files),
		Options: map[string]string{
			OptionWorkflowID: st.WorkflowID,
			OptionGeneration: strconv.Itoa(gen),
		},
	}
}

// submit hands reserved work to the scheduler and records the outcome. The
// commit mutex is never held here: a scheduler flush on this goroutine may
// deliver task events back into the controller.
func (c *Controller) submit(ctx context.Context, gen int, subs []submission, priority int) ([]string, error) {
	ids := make([]string, 0, len(subs))
	failed := 0
	var firstErr error
	for _, sub := range subs {
		id, err := c.sched.Submit(sub.typ, sub.payload, task.Options{Priority: priority, MaxRetries: -1})
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			logging.ErrorWithContext(c.logger, "processing task submit failed", "processing_submit_failed",
				logging.String(logging.FieldTaskType, string(sub.typ)),
				logging.String(logging.FieldErrorHint, "check that a processor is registered and the scheduler is running"),
				logging.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}
	if _, err := c.apply(ctx, ProcessingSubmitted{Generation: gen, TaskIDs: ids, Failed: failed}, false); err != nil {
		return ids, err
	}
	return ids, firstErr
}

func isProcessingType(typ task.Type) bool {
	return typ == task.TypeIngest || slices.Contains(analysisTypes, typ)
}

func ingestedItems(result any) []string {
	switch r := result.(type) {
	case processor.IngestResult:
		return r.ItemIDs()
	case *processor.IngestResult:
		if r != nil {
			return r.ItemIDs()
		}
	}
	return nil
}

// onTaskEvent folds terminal task events into the processing statistics and
// issues analysis tasks for completed ingests.
func (c *Controller) onTaskEvent(ev events.Event) {
	var finished ProcessingTaskFinished
	switch e := ev.(type) {
	case events.TaskCompleted:
		finished = ProcessingTaskFinished{TaskID: e.TaskID, Type: e.Type, Status: task.StatusCompleted, Result: e.Result}
	case events.TaskFailed:
		finished = ProcessingTaskFinished{TaskID: e.TaskID, Type: e.Type, Status: task.StatusFailed}
	case events.TaskCancelled:
		finished = ProcessingTaskFinished{TaskID: e.TaskID, Type: e.Type, Status: task.StatusCancelled}
	default:
		return
	}
	if !isProcessingType(finished.Type) {
		return
	}
	t, ok := c.sched.GetTask(finished.TaskID)
	if !ok {
		return
	}
	cur := c.snapshot()
	if !cur.Initialized() || t.Payload.Options[OptionWorkflowID] != cur.WorkflowID {
		return
	}
	gen, err := strconv.Atoi(t.Payload.Options[OptionGeneration])
	if err != nil {
		return
	}
	finished.Generation = gen

	var items []string
	if finished.Type == task.TypeIngest && finished.Status == task.StatusCompleted {
		items = ingestedItems(finished.Result)
		if len(items) > 0 {
			finished.FollowUps = len(analysisTypes)
		}
	}
	ctx := services.WithExamID(context.Background(), cur.ExamID)
	next, err := c.apply(ctx, finished, false)
	if err != nil {
		c.logger.Warn("processing result rejected",
			logging.String(logging.FieldTaskID, finished.TaskID),
			logging.Error(err),
		)
		return
	}
	if next.Processing.Generation != gen || finished.FollowUps == 0 {
		return
	}

	subs := make([]submission, 0, len(analysisTypes))
	for _, typ := range analysisTypes {
		subs = append(subs, submission{typ: typ, payload: c.payload(next, gen, items, nil)})
	}
	if ids, err := c.submit(ctx, gen, subs, c.opts.AnalysisPriority); err != nil {
		c.logger.Warn("analysis follow-ups incomplete",
			logging.String(logging.FieldTaskID, finished.TaskID),
			logging.Int("submitted", len(ids)),
			logging.Int("requested", len(subs)),
			logging.Error(err),
		)
	}
}

// WaitForProcessing blocks until every processing task issued by the
// controller has finished or ctx is done.
func (c *Controller) WaitForProcessing(ctx context.Context) error {
	for {
		c.commitMu.Lock()
		st := c.snapshot()
		changed := c.changed
		c.commitMu.Unlock()
		if st.Processing.Outstanding() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrCancelled, component, "wait_for_processing", "wait aborted", ctx.Err())
		case <-changed:
		}
	}
}

// CancelProcessing cancels every processing task issued in the current
// generation and returns how many cancellations were accepted.
func (c *Controller) CancelProcessing() int {
	if c.sched == nil {
		return 0
	}
	cancelled := 0
	for _, id := range c.snapshot().Processing.TaskIDs {
		if c.sched.Cancel(id) {
			cancelled++
		}
	}
	return cancelled
}
