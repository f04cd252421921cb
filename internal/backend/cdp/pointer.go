package cdp

import (
	"context"
	"fmt"
	"os"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/model"
)

// Pointer implements backend.Pointer with synthetic mouse and keyboard
// input at viewport coordinates.
type Pointer struct {
	b *Browser
}

var _ backend.Pointer = (*Pointer)(nil)

// NewPointer drives b.
func NewPointer(b *Browser) *Pointer {
	return &Pointer{b: b}
}

func (p *Pointer) Open(ctx context.Context) error {
	return p.b.Open(ctx)
}

func (p *Pointer) ClickAt(ctx context.Context, pos model.Position) error {
	if err := p.b.Run(ctx, chromedp.MouseClickXY(float64(pos.X), float64(pos.Y))); err != nil {
		return fmt.Errorf("click at %s: %w", pos, err)
	}
	return nil
}

// SelectAll sends Ctrl+A carrying the selectAll editing command, which
// synthetic key events do not trigger on their own.
func (p *Pointer) SelectAll(ctx context.Context) error {
	return p.b.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		down := input.DispatchKeyEvent(input.KeyDown).
			WithKey("a").
			WithCode("KeyA").
			WithWindowsVirtualKeyCode(65).
			WithModifiers(input.ModifierCtrl).
			WithCommands([]string{"selectAll"})
		if err := down.Do(ctx); err != nil {
			return err
		}
		return input.DispatchKeyEvent(input.KeyUp).
			WithKey("a").
			WithCode("KeyA").
			WithWindowsVirtualKeyCode(65).
			WithModifiers(input.ModifierCtrl).
			Do(ctx)
	}))
}

func (p *Pointer) TypeText(ctx context.Context, text string) error {
	return p.b.Run(ctx, chromedp.KeyEvent(text))
}

// Reload is the browser's own reload, the same as pressing F5.
func (p *Pointer) Reload(ctx context.Context) error {
	if err := p.b.Run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload page: %w", err)
	}
	return nil
}

func (p *Pointer) Alive(context.Context) error {
	return p.b.Alive()
}

func (p *Pointer) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.b.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func (p *Pointer) Close() error {
	return p.b.Close()
}
