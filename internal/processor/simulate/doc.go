// Package simulate provides stand-in processors for every built-in task type.
//
// Each processor sleeps for a random delay per item, fans items out with a
// bounded errgroup and fails a configurable fraction of attempts with a
// transient error, so scheduler retries and progress reporting can be
// exercised without real image analysis.
package simulate
