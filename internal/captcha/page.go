package captcha

import (
	"context"
	"time"
)

// BoundingBox is an element's position and size in page pixel coordinates.
// Boxes are always measured immediately before use and never reused across
// solve attempts; page layout can shift between attempts.
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Scope narrows element lookups to a nested browsing context. The zero value
// targets the top-level page; a non-empty Frame is a selector for an iframe
// whose document should be searched instead.
type Scope struct {
	Frame string
}

// PageScope targets the top-level document.
var PageScope = Scope{}

// DouyinScope targets the Douyin captcha iframe.
var DouyinScope = Scope{Frame: DouyinFrame}

// Page is the browser capability boundary consumed by the classifier, the
// interaction driver and the orchestrator. Implementations live in
// internal/browser and adapt a concrete automation back-end (chromedp,
// go-rod). The interface is deliberately small: element queries return data,
// pointer primitives move a shared virtual mouse, and Sleep is the only
// suspension point, so every implementation inherits the same cancellation
// behavior.
type Page interface {
	// URL returns the current top-level document URL.
	URL(ctx context.Context) (string, error)

	// AnyVisible reports whether at least one element matching any of the
	// given selectors is attached and visible. It does not wait.
	AnyVisible(ctx context.Context, scope Scope, selectors ...string) (bool, error)

	// Box measures the first element matching selector. It returns
	// ErrNoBoundingBox when the element exists but is not rendered, and a
	// back-end error when no element matches at all.
	Box(ctx context.Context, scope Scope, selector string) (*BoundingBox, error)

	// Text returns the text content of the first matching element.
	// An empty result is reported as ErrMissingAttribute.
	Text(ctx context.Context, scope Scope, selector string) (string, error)

	// SourceURL returns the src attribute of the first matching element.
	// An absent or empty attribute is reported as ErrMissingAttribute.
	SourceURL(ctx context.Context, scope Scope, selector string) (string, error)

	// Click performs a plain element click (used for submit buttons, where
	// humanized pointer choreography is not required).
	Click(ctx context.Context, scope Scope, selector string) error

	// MoveMouse moves the virtual pointer to page coordinates in a single
	// step. MoveMouseSteps interpolates the move over n intermediate steps.
	MoveMouse(ctx context.Context, x, y float64) error
	MoveMouseSteps(ctx context.Context, x, y float64, steps int) error

	// PressMouse and ReleaseMouse operate the left button at the pointer's
	// target coordinates.
	PressMouse(ctx context.Context, x, y float64) error
	ReleaseMouse(ctx context.Context, x, y float64) error

	// Sleep pauses for d, returning early with ctx.Err() on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}
