// Package engine replays a list of document keys through an automation
// backend.
//
// ARCHITECTURE:
//
// Single Worker:
// A run executes on one goroutine, started through the Supervisor. Every
// wait is a blocking sleep on that goroutine; the display side only sees
// one-way notifications published to a notify.Publisher.
//
// Run Lifecycle:
//  1. Preflight the backend (missing configuration fails the run before
//     any browser is opened)
//  2. Open the backend
//  3. Attempt each key in order; each attempt yields a decided outcome
//  4. Close the backend, whatever happened
//  5. Publish the terminal done event
//
// Stopping:
// Stop is cooperative and checked between keys, never inside an attempt.
// Cancelling the run context is the hard abort.
//
// Outcome Policy:
// Delivered, NotFound and AttemptError continue the run. A result carrying
// a backend.FatalError aborts it with remediation text.
package engine
