package notify

import "sync/atomic"

// Sequence is a monotonic logical clock for event ordering.
//
// Every published event gets the next value, so sinks see a strictly
// increasing Seq regardless of wall time.
//
// Thread-safety: safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// Next returns the next sequence number. The first call returns 1.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
