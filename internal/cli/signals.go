package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// withInterrupt derives a context for a long-running job. The first
// SIGINT or SIGTERM calls stop so the job can finish its current key; the
// second cancels the context.
func withInterrupt(parent context.Context, logger *slog.Logger, stop func()) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		stopped := false
		for {
			select {
			case sig := <-sigChan:
				if !stopped && stop != nil {
					stopped = true
					logger.Info("stop requested, finishing current key", "signal", sig)
					stop()
					continue
				}
				logger.Info("received signal, aborting", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
