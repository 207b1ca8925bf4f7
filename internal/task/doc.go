// Package task defines the unit of work executed by the scheduler: its
// identity, type, lifecycle status, payload and progress record.
//
// Only the scheduler mutates a Task. Everyone else receives value snapshots
// produced by Clone, so reading a Task never races with dispatch.
package task
