// Package services defines shared utilities consumed by the scheduler, the
// workflow controller and task processors.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, exam IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (validation, configuration, dependency, timeout, transient)
//     with errors.Is instead of string matching.
//   - Retryable, which decides whether a processor failure consumes the retry
//     budget or is terminal.
//
// Use these helpers when wiring new processors so operational behaviour (error
// handling, observability, retries) stays uniform across the engine.
package services
