package scheduler

import (
	"context"
	"slices"
	"time"

	"examflow/internal/task"
)

// entry is the scheduler-owned record behind a task.
type entry struct {
	t task.Task

	// attempt identifies the in-flight run; outcomes and progress from other
	// attempts are ignored.
	attempt int
	cancel  context.CancelFunc
	timer   *time.Timer
}

// insertLocked places e into the pending queue. front puts it ahead of its
// priority tier (used by Resume); otherwise ordering is priority then Seq.
func (s *Scheduler) insertLocked(e *entry, front bool) {
	idx := slices.IndexFunc(s.queue, func(other *entry) bool {
		return s.before(e, other, front)
	})
	if idx < 0 {
		s.queue = append(s.queue, e)
		return
	}
	s.queue = slices.Insert(s.queue, idx, e)
}

// before reports whether e must be dispatched ahead of other.
func (s *Scheduler) before(e, other *entry, front bool) bool {
	if s.opts.EnablePriority && e.t.Priority != other.t.Priority {
		return e.t.Priority > other.t.Priority
	}
	if front {
		return true
	}
	return e.t.Seq < other.t.Seq
}

func (s *Scheduler) removeQueuedLocked(id string) bool {
	idx := slices.IndexFunc(s.queue, func(e *entry) bool { return e.t.ID == id })
	if idx < 0 {
		return false
	}
	s.queue = slices.Delete(s.queue, idx, idx+1)
	return true
}

func (s *Scheduler) popLocked() *entry {
	if len(s.queue) == 0 {
		return nil
	}
	e := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return e
}
