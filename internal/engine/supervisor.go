package engine

import (
	"context"
	"log/slog"
	"sync"
)

// Supervisor runs at most one job (a replay run or a capture) at a time
// on its own worker goroutine.
type Supervisor struct {
	logger *slog.Logger

	mu     sync.Mutex
	active string
	done   chan struct{}
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{logger: logger}
}

// Go starts fn on the worker goroutine and returns a channel that
// receives its result. It returns ErrBusy while another job is active.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		s.logger.Warn("job rejected", "job", name, "active", s.active)
		return nil, ErrBusy
	}
	s.active = name
	s.done = make(chan struct{})
	result := make(chan error, 1)

	go func(done chan struct{}) {
		err := fn(ctx)
		s.mu.Lock()
		s.active = ""
		s.done = nil
		s.mu.Unlock()
		close(done)
		result <- err
	}(s.done)

	s.logger.Debug("job started", "job", name)
	return result, nil
}

// Active returns the name of the running job.
func (s *Supervisor) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.done != nil
}

// Wait blocks until no job is running or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
