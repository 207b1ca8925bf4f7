// Package logging assembles structured slog loggers and formatting helpers used
// across examflow.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so scheduler and workflow code
// can tag log lines with exam IDs, stages, and task IDs. The console handler
// renders those identifiers as a compact subject prefix. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
