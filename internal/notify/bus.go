package notify

import (
	"context"
	"sync"
)

// Publisher is the worker-side half of the bus.
type Publisher interface {
	Publish(e Event) bool
}

// Sink receives events on the display goroutine.
type Sink interface {
	Deliver(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Deliver(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) bool { return true }

// Bus fans published events out to sinks, in publish order, on the
// goroutine that calls Run.
type Bus struct {
	q     *queue
	seq   Sequence
	sinks []Sink
}

// NewBus creates a bus delivering to sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{q: newQueue(), sinks: sinks}
}

// Publish stamps e with the next sequence number and queues it. It never
// blocks. Returns false after Close.
func (b *Bus) Publish(e Event) bool {
	return b.q.enqueue(e, func(e *Event) { e.Seq = b.seq.Next() })
}

// Close stops accepting events. Run delivers what is already queued and
// then returns.
func (b *Bus) Close() {
	b.q.close()
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return b.q.len()
}

// Run delivers events until the bus is closed and drained, or ctx is
// cancelled. Must be called from exactly one goroutine.
func (b *Bus) Run(ctx context.Context) error {
	for {
		if e, ok := b.q.tryDequeue(); ok {
			for _, s := range b.sinks {
				s.Deliver(e)
			}
			continue
		}
		if b.q.drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.q.wait():
		}
	}
}

// Start runs the bus on a new goroutine and returns a function that
// closes the bus and waits for the remaining events to be delivered.
func (b *Bus) Start(ctx context.Context) (stop func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Run(ctx)
	}()
	return func() {
		b.Close()
		wg.Wait()
	}
}

// Collector is a Sink (and Publisher) that records events for inspection.
type Collector struct {
	mu     sync.Mutex
	seq    Sequence
	events []Event
}

func (c *Collector) Deliver(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Publish records e directly, stamping a sequence number if it has none.
func (c *Collector) Publish(e Event) bool {
	if e.Seq == 0 {
		e.Seq = c.seq.Next()
	}
	c.Deliver(e)
	return true
}

// Events returns a copy of everything received so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfKind returns the received events of kind k.
func (c *Collector) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
