// Package rodpage adapts a go-rod page to the captcha.Page interface. It is
// the adapter of choice when the host application already drives the browser
// with rod; chromepage covers the chromedp case.
package rodpage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/okto-sec/tiksolve/internal/captcha"
)

// Page drives one rod tab.
type Page struct {
	page   *rod.Page
	logger *zap.Logger
}

// New wraps an existing rod page. The caller keeps ownership of the browser
// and the page lifecycle.
func New(page *rod.Page, logger *zap.Logger) *Page {
	return &Page{page: page, logger: logger.Named("rodpage")}
}

var _ captcha.Page = (*Page)(nil)

// scoped resolves the document to query against: the page itself, or the
// content of the captcha iframe. A frame that has not attached yet is
// reported as absent via ErrNoBoundingBox so pollers treat it as "not there
// yet" rather than a hard failure.
func (p *Page) scoped(ctx context.Context, scope captcha.Scope) (*rod.Page, error) {
	page := p.page.Context(ctx)
	if scope.Frame == "" {
		return page, nil
	}
	has, el, err := page.Has(scope.Frame)
	if err != nil {
		return nil, fmt.Errorf("locating frame %q: %w", scope.Frame, err)
	}
	if !has {
		return nil, fmt.Errorf("frame %q not attached: %w", scope.Frame, captcha.ErrNoBoundingBox)
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("entering frame %q: %w", scope.Frame, err)
	}
	return frame.Context(ctx), nil
}

// element finds a selector inside the scope without waiting.
func (p *Page) element(ctx context.Context, scope captcha.Scope, selector string) (*rod.Element, error) {
	page, err := p.scoped(ctx, scope)
	if err != nil {
		return nil, err
	}
	has, el, err := page.Has(selector)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	if !has {
		return nil, fmt.Errorf("no element matches %q: %w", selector, captcha.ErrNoBoundingBox)
	}
	return el, nil
}

// URL returns the current page location.
func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("reading page info: %w", err)
	}
	return info.URL, nil
}

// AnyVisible reports whether any selector matches a rendered element inside
// the scope. Lookup failures count as "not visible" because the classifier
// polls this against pages that are still loading.
func (p *Page) AnyVisible(ctx context.Context, scope captcha.Scope, selectors ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	page, err := p.scoped(ctx, scope)
	if err != nil {
		return false, nil
	}
	for _, sel := range selectors {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		visible, err := el.Visible()
		if err == nil && visible {
			return true, nil
		}
	}
	return false, nil
}

// Box measures a selector's bounding box from its content quads, the same
// source the pointer events are resolved against.
func (p *Page) Box(ctx context.Context, scope captcha.Scope, selector string) (*captcha.BoundingBox, error) {
	el, err := p.element(ctx, scope, selector)
	if err != nil {
		return nil, err
	}
	shape, err := el.Shape()
	if err != nil {
		return nil, fmt.Errorf("reading shape of %q: %w", selector, err)
	}
	if len(shape.Quads) == 0 {
		return nil, fmt.Errorf("%q is not rendered: %w", selector, captcha.ErrNoBoundingBox)
	}
	box := shape.Box()
	return &captcha.BoundingBox{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// Text returns a selector's trimmed text content.
func (p *Page) Text(ctx context.Context, scope captcha.Scope, selector string) (string, error) {
	el, err := p.element(ctx, scope, selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("reading text of %q: %w", selector, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%q has no text: %w", selector, captcha.ErrMissingAttribute)
	}
	return text, nil
}

// SourceURL returns an image element's src attribute.
func (p *Page) SourceURL(ctx context.Context, scope captcha.Scope, selector string) (string, error) {
	el, err := p.element(ctx, scope, selector)
	if err != nil {
		return "", err
	}
	src, err := el.Attribute("src")
	if err != nil {
		return "", fmt.Errorf("reading source of %q: %w", selector, err)
	}
	if src == nil || *src == "" {
		return "", fmt.Errorf("%q has no source: %w", selector, captcha.ErrMissingAttribute)
	}
	return *src, nil
}

// Click performs rod's own element click, which moves the pointer to the
// element before pressing.
func (p *Page) Click(ctx context.Context, scope captcha.Scope, selector string) error {
	el, err := p.element(ctx, scope, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// MoveMouse jumps the pointer to the given viewport coordinates.
func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	if err := p.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	return nil
}

// MoveMouseSteps moves the pointer linearly in discrete steps.
func (p *Page) MoveMouseSteps(ctx context.Context, x, y float64, steps int) error {
	if steps < 1 {
		steps = 1
	}
	if err := p.page.Context(ctx).Mouse.MoveLinear(proto.Point{X: x, Y: y}, steps); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	return nil
}

// PressMouse holds the left button down.
func (p *Page) PressMouse(ctx context.Context, x, y float64) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("mouse press: %w", err)
	}
	return nil
}

// ReleaseMouse lets the left button go.
func (p *Page) ReleaseMouse(ctx context.Context, x, y float64) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("mouse release: %w", err)
	}
	return nil
}

// Sleep pauses without touching the browser.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
