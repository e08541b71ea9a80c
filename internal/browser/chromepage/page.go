// Package chromepage adapts a chromedp browser context to the captcha.Page
// interface. All pointer input goes through raw CDP Input events so the page
// sees trusted events with viewport-global coordinates, which also makes
// iframe content reachable without switching execution contexts.
package chromepage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/okto-sec/tiksolve/internal/captcha"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page drives one chromedp tab.
type Page struct {
	// ctx is the chromedp tab context, not a per-call context. Per-call
	// contexts gate entry into each method; the tab context owns the
	// underlying CDP session so a released pointer never depends on a
	// caller's deadline.
	ctx    context.Context
	logger *zap.Logger

	mu      sync.Mutex
	lastX   float64
	lastY   float64
	pressed bool
}

// New wraps an existing chromedp context. The caller keeps ownership of the
// context and its cancel functions.
func New(ctx context.Context, logger *zap.Logger) *Page {
	return &Page{ctx: ctx, logger: logger.Named("chromepage")}
}

var _ captcha.Page = (*Page)(nil)

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(p.ctx, actions...)
}

// rootExpr yields a JS expression for the document to query: the top-level
// document, or an iframe's contentDocument (null until the frame loads, and
// permanently null cross-origin).
func rootExpr(scope captcha.Scope) string {
	if scope.Frame == "" {
		return "document"
	}
	return fmt.Sprintf("(((document.querySelector(%s) || {}).contentDocument) || null)", strconv.Quote(scope.Frame))
}

// URL returns the current top-level document location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading page location: %w", err)
	}
	return url, nil
}

// AnyVisible reports whether any of the selectors matches a rendered element
// inside the scope. A missing or not-yet-loaded frame is simply "not
// visible", never an error, because the classifier polls this.
func (p *Page) AnyVisible(ctx context.Context, scope captcha.Scope, selectors ...string) (bool, error) {
	sels, err := json.MarshalToString(selectors)
	if err != nil {
		return false, err
	}
	expr := fmt.Sprintf(`(() => {
		const root = %s;
		if (!root) return false;
		for (const sel of %s) {
			const el = root.querySelector(sel);
			if (!el) continue;
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) return true;
		}
		return false;
	})()`, rootExpr(scope), sels)

	var visible bool
	if err := p.run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, fmt.Errorf("visibility probe: %w", err)
	}
	return visible, nil
}

type boxResult struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box measures a selector's bounding box in top-level viewport coordinates.
// For frame-scoped selectors the frame element's own offset is added so the
// result can be fed straight into pointer dispatch.
func (p *Page) Box(ctx context.Context, scope captcha.Scope, selector string) (*captcha.BoundingBox, error) {
	frameOffset := ""
	if scope.Frame != "" {
		frameOffset = fmt.Sprintf(`
		const fr = document.querySelector(%s);
		if (fr) { const fb = fr.getBoundingClientRect(); ox = fb.x; oy = fb.y; }`, strconv.Quote(scope.Frame))
	}
	expr := fmt.Sprintf(`(() => {
		const root = %s;
		if (!root) return null;
		const el = root.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return null;
		let ox = 0, oy = 0;%s
		return {x: r.x + ox, y: r.y + oy, width: r.width, height: r.height};
	})()`, rootExpr(scope), strconv.Quote(selector), frameOffset)

	var res *boxResult
	if err := p.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, fmt.Errorf("measuring %q: %w", selector, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%q: %w", selector, captcha.ErrNoBoundingBox)
	}
	return &captcha.BoundingBox{X: res.X, Y: res.Y, Width: res.Width, Height: res.Height}, nil
}

// Text returns a selector's trimmed text content.
func (p *Page) Text(ctx context.Context, scope captcha.Scope, selector string) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const root = %s;
		if (!root) return null;
		const el = root.querySelector(%s);
		if (!el) return null;
		return el.textContent;
	})()`, rootExpr(scope), strconv.Quote(selector))

	var text *string
	if err := p.run(ctx, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("reading text of %q: %w", selector, err)
	}
	if text == nil || strings.TrimSpace(*text) == "" {
		return "", fmt.Errorf("%q has no text: %w", selector, captcha.ErrMissingAttribute)
	}
	return strings.TrimSpace(*text), nil
}

// SourceURL returns an image element's effective source URL. currentSrc is
// preferred because it reflects srcset resolution.
func (p *Page) SourceURL(ctx context.Context, scope captcha.Scope, selector string) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const root = %s;
		if (!root) return null;
		const el = root.querySelector(%s);
		if (!el) return null;
		return el.currentSrc || el.getAttribute("src") || null;
	})()`, rootExpr(scope), strconv.Quote(selector))

	var src *string
	if err := p.run(ctx, chromedp.Evaluate(expr, &src)); err != nil {
		return "", fmt.Errorf("reading source of %q: %w", selector, err)
	}
	if src == nil || *src == "" {
		return "", fmt.Errorf("%q has no source: %w", selector, captcha.ErrMissingAttribute)
	}
	return *src, nil
}

// Click presses and releases the left button at the element's center. Raw
// input events keep the click indistinguishable from the drag primitives the
// rest of the package emits.
func (p *Page) Click(ctx context.Context, scope captcha.Scope, selector string) error {
	box, err := p.Box(ctx, scope, selector)
	if err != nil {
		return err
	}
	cx := box.X + box.Width/2
	cy := box.Y + box.Height/2
	if err := p.MoveMouse(ctx, cx, cy); err != nil {
		return err
	}
	if err := p.PressMouse(ctx, cx, cy); err != nil {
		return err
	}
	return p.ReleaseMouse(ctx, cx, cy)
}

// MoveMouse dispatches a single pointer move. While a button is held the
// event carries the left-button state so the browser treats the motion as a
// drag.
func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	ev := input.DispatchMouseEvent(input.MouseMoved, x, y)
	p.mu.Lock()
	if p.pressed {
		ev = ev.WithButton(input.MouseButtonLeft).WithButtons(1)
	}
	p.mu.Unlock()

	if err := p.run(ctx, chromedp.ActionFunc(ev.Do)); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	p.setLast(x, y)
	return nil
}

// MoveMouseSteps interpolates linearly from the last known pointer position,
// dispatching one move per step.
func (p *Page) MoveMouseSteps(ctx context.Context, x, y float64, steps int) error {
	if steps < 1 {
		steps = 1
	}
	p.mu.Lock()
	fromX, fromY := p.lastX, p.lastY
	p.mu.Unlock()

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		if err := p.MoveMouse(ctx, fromX+(x-fromX)*t, fromY+(y-fromY)*t); err != nil {
			return err
		}
	}
	return nil
}

// PressMouse dispatches a left-button press at the given coordinates.
func (p *Page) PressMouse(ctx context.Context, x, y float64) error {
	ev := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.MouseButtonLeft).
		WithClickCount(1)
	if err := p.run(ctx, chromedp.ActionFunc(ev.Do)); err != nil {
		return fmt.Errorf("mouse press: %w", err)
	}
	p.mu.Lock()
	p.pressed = true
	p.lastX, p.lastY = x, y
	p.mu.Unlock()
	return nil
}

// ReleaseMouse dispatches a left-button release at the given coordinates.
func (p *Page) ReleaseMouse(ctx context.Context, x, y float64) error {
	ev := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.MouseButtonLeft).
		WithClickCount(1)
	if err := p.run(ctx, chromedp.ActionFunc(ev.Do)); err != nil {
		return fmt.Errorf("mouse release: %w", err)
	}
	p.mu.Lock()
	p.pressed = false
	p.lastX, p.lastY = x, y
	p.mu.Unlock()
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

func (p *Page) setLast(x, y float64) {
	p.mu.Lock()
	p.lastX, p.lastY = x, y
	p.mu.Unlock()
}
