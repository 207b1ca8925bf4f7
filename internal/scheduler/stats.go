package scheduler

import (
	"slices"
	"time"

	"examflow/internal/task"
)

const throughputWindow = time.Minute

func (s *Scheduler) statsLocked() Stats {
	var (
		stats    Stats
		busy     time.Duration
		finished int
		recent   int
	)
	now := s.now()
	stats.Total = len(s.tasks)
	for _, e := range s.tasks {
		switch e.t.Status {
		case task.StatusPending:
			stats.Pending++
		case task.StatusRunning:
			stats.Running++
		case task.StatusPaused:
			stats.Paused++
		case task.StatusCompleted:
			stats.Completed++
			busy += e.t.Duration()
			finished++
			if now.Sub(e.t.CompletedAt) <= throughputWindow {
				recent++
			}
		case task.StatusFailed:
			stats.Failed++
		case task.StatusCancelled:
			stats.Cancelled++
		}
	}
	stats.QueueLength = len(s.queue)
	if finished > 0 {
		stats.AvgProcessingTimeMs = float64(busy.Milliseconds()) / float64(finished)
	}
	if stats.Total > 0 {
		stats.ErrorRate = float64(stats.Failed) / float64(stats.Total)
	}
	stats.ThroughputPerMinute = float64(recent) / throughputWindow.Minutes()
	return stats
}

func containsStatus(statuses []task.Status, status task.Status) bool {
	return slices.Contains(statuses, status)
}

func sortBySeq(tasks []task.Task) {
	slices.SortFunc(tasks, func(a, b task.Task) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
}
