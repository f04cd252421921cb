package notify

import "sync"

// queue is a thread-safe unbounded FIFO of events.
//
// Unbounded so a slow display never stalls the worker. A buffered signal
// channel of size 1 lets the consumer wait with select alongside a
// context.
type queue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds e to the back, calling stamp (if non-nil) under the lock
// so stamp order equals queue order. Returns false once closed.
func (q *queue) enqueue(e Event, stamp func(*Event)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if stamp != nil {
		stamp(&e)
	}
	q.events = append(q.events, e)

	// Coalesce: one pending signal is enough to wake the consumer.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front event without blocking.
func (q *queue) tryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// drained reports whether the queue is closed and empty.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// wait returns the channel signalled on enqueue and closed on close.
func (q *queue) wait() <-chan struct{} {
	return q.signal
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
