// Package scheduler runs tasks against their registered processors with
// bounded concurrency.
//
// A single dispatch loop owns every status change caused by execution: it
// starts attempts, applies progress reports, records outcomes and re-queues
// retries. Submit, Cancel, Pause, Resume and the query methods only take a
// short mutex and wake the loop. Pending tasks are ordered by priority, then
// by submission order.
//
// Events are appended to an ordered outbox while the mutex is held and
// delivered after it is released, so bus handlers may call back into the
// scheduler (for example to submit follow-up work).
package scheduler
