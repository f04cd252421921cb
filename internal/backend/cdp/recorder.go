package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/roach88/nfefetch/internal/model"
)

const bindingName = "nfefetchRecord"

// clickScript reports every click in the page. Clicks inside a
// cross-origin iframe (the captcha widget) never reach the parent
// document, so focus moving into an iframe is reported as a click on
// the iframe's centre.
const clickScript = `(() => {
  if (window.__nfefetchRecorder) return;
  window.__nfefetchRecorder = true;
  const send = (x, y) => {
    try { window.` + bindingName + `(JSON.stringify({x: x, y: y})); } catch (e) {}
  };
  document.addEventListener('click', (ev) => send(ev.clientX, ev.clientY), true);
  window.addEventListener('blur', () => {
    const el = document.activeElement;
    if (el && el.tagName === 'IFRAME') {
      const r = el.getBoundingClientRect();
      send(r.left + r.width / 2, r.top + r.height / 2);
    }
  });
})();`

// Recorder turns the user's clicks in the browser into positions.
type Recorder struct {
	b      *Browser
	clicks chan model.Position
	logger *slog.Logger
}

// NewRecorder records clicks made in b.
func NewRecorder(b *Browser, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{b: b, clicks: make(chan model.Position, 16), logger: logger}
}

// Open launches the browser with the click listener installed on every
// document the portal loads.
func (r *Recorder) Open(ctx context.Context) error {
	r.b.Listen(func(ev any) {
		e, ok := ev.(*runtime.EventBindingCalled)
		if !ok || e.Name != bindingName {
			return
		}
		pos, err := decodeClick(e.Payload)
		if err != nil {
			r.logger.Warn("bad click payload", "payload", e.Payload, "error", err)
			return
		}
		select {
		case r.clicks <- pos:
		default:
			r.logger.Warn("click dropped", "position", pos.String())
		}
	})
	return r.b.Open(ctx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(clickScript).Do(ctx)
			return err
		}),
	)
}

// Next blocks until the user clicks or ctx is done.
func (r *Recorder) Next(ctx context.Context) (model.Position, error) {
	select {
	case <-ctx.Done():
		return model.Position{}, ctx.Err()
	case pos := <-r.clicks:
		return pos, nil
	}
}

func (r *Recorder) Close() error {
	return r.b.Close()
}

func decodeClick(payload string) (model.Position, error) {
	var p struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return model.Position{}, err
	}
	if p.X == nil || p.Y == nil {
		return model.Position{}, fmt.Errorf("missing coordinate in %q", payload)
	}
	return model.Position{X: int(math.Round(*p.X)), Y: int(math.Round(*p.Y))}, nil
}
