// Package notify carries one-way notifications from the worker running a
// capture or replay to whatever is displaying it.
//
// The worker never blocks on the display. Publish appends to an unbounded
// FIFO and returns; a separate goroutine runs Bus.Run to drain the queue
// into one or more Sinks. Every event is stamped with a strictly
// increasing sequence number so sinks can order and de-duplicate.
package notify
