package scheduler

import (
	"context"
	"fmt"

	"examflow/internal/logging"
	"examflow/internal/services"
	"examflow/internal/task"
)

// Sweep evicts terminal tasks older than the retention window and returns
// how many were removed. When an archiver is installed the tasks are handed
// to it first; an archive failure keeps them in memory.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	cutoff := s.now().Add(-s.opts.Retention)
	var expired []task.Task
	for _, e := range s.tasks {
		if e.t.IsTerminal() && !e.t.CompletedAt.IsZero() && e.t.CompletedAt.Before(cutoff) {
			expired = append(expired, e.t.Clone())
		}
	}
	archiver := s.archiver
	s.mu.Unlock()

	if len(expired) == 0 {
		return 0, nil
	}
	sortBySeq(expired)
	if archiver != nil {
		if err := archiver.ArchiveTasks(ctx, expired); err != nil {
			return 0, services.Wrap(services.ErrTransient, "scheduler", "archive",
				fmt.Sprintf("archive %d tasks", len(expired)), err)
		}
	}

	s.mu.Lock()
	for _, t := range expired {
		delete(s.tasks, t.ID)
	}
	s.notifyLocked()
	s.mu.Unlock()

	s.logger.Debug("terminal tasks evicted",
		logging.String(logging.FieldEventType, "retention_sweep"),
		logging.Int("evicted", len(expired)),
	)
	return len(expired), nil
}
