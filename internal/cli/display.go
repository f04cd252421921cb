package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/roach88/nfefetch/internal/notify"
)

// terminalSink renders notifications as human-readable lines.
type terminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *terminalSink) Deliver(e notify.Event) {
	line := renderEvent(e)
	if line == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

func renderEvent(e notify.Event) string {
	switch e.Kind {
	case notify.KindProgress:
		return fmt.Sprintf("[%3d%%] %d/%d", e.Percent, e.Index, e.Total)
	case notify.KindStatus:
		return "  " + e.Text
	case notify.KindNotFound:
		return fmt.Sprintf("  NFe %d not found: %s", e.Index, e.Key)
	case notify.KindError:
		return "ERROR: " + e.Text
	case notify.KindDone:
		return e.Text
	case notify.KindCaptureStep:
		return fmt.Sprintf("Step %s: %s", e.Step.Label(), e.Step.Instruction())
	case notify.KindPositionRecorded:
		if e.Position == nil {
			return ""
		}
		return fmt.Sprintf("  recorded %s at %s", e.Step.Name(), e.Position)
	}
	return ""
}
