// Package processor defines the contract between the scheduler and the code
// that performs a task, and the registry that maps task types to processors.
//
// Processors are opaque to the scheduler. They receive a snapshot of the task,
// report progress through the supplied callback and return a result or an
// error. Package simulate provides stand-in processors for every task type.
package processor
