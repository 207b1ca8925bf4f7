// Package store persists workflows, stage transitions and archived tasks in
// SQLite.
//
// Workflow state is stored as a JSON snapshot alongside the columns the CLI
// filters on; every saved snapshot carries the stage transitions that produced
// it so the history of an exam can be replayed. Terminal scheduler tasks are
// archived here before they are evicted from memory.
//
// Schema changes bump schemaVersion in schema.go; users delete the database to
// adopt the new schema.
package store
