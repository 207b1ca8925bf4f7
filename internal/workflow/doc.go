// Package workflow drives an exam through its grading stages.
//
// The stage graph runs student_setup, template_setup, upload_processing,
// marking, review and completed, with review optional. All state changes go
// through the pure Reduce function; the Controller serializes writers,
// persists stage transitions through a Store before committing them, issues
// ingest and analysis tasks to the scheduler and folds their results into the
// processing statistics.
//
// Readers always observe an immutable State snapshot, so Summary and the
// progress helpers never block on in-flight commits.
package workflow
