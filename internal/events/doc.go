// Package events carries task, queue and stage lifecycle notifications from
// the scheduler and workflow controller to subscribers.
//
// Event is a closed union: every concrete type lives in this package. Bus
// delivers synchronously in registration order and recovers handler panics
// so one faulty subscriber cannot disturb the others or the publisher. Stream
// adapts the bus to a buffered channel for consumers that prefer to range
// over events.
package events
