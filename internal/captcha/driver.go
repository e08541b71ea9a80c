package captcha

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Timing bands of the interaction choreography. These are behaviorally
// significant: detection heuristics flag perfectly uniform pointer timing, so
// none of these may be collapsed or evened out.
const (
	// clickHold is how long the button stays pressed during a click.
	clickHold = 1337 * time.Microsecond
	// dragStepDelay paces the per-pixel forward sweep.
	dragStepDelay = 10 * time.Millisecond
	// dragOvershoot is how many pixels the forward sweep runs past target.
	dragOvershoot = 5
	// wobbleStepDelay paces the backward correction wobble.
	wobbleStepDelay = 50 * time.Millisecond
	// settleSteps is the interpolation count of the final smooth move.
	settleSteps = 75
	// anchorDivisor offsets the grab point from the element origin. The
	// non-round value keeps the anchor off the element center, which is a
	// common fingerprinting probe.
	anchorDivisor = 1.337
)

// Driver converts abstract solutions into pointer choreography against
// freshly measured element boxes. A Driver owns the page's single virtual
// pointer; callers must not run two interactions concurrently.
type Driver struct {
	page   Page
	logger *zap.Logger
	rng    *rand.Rand
}

// NewDriver builds a Driver over the given page.
func NewDriver(page Page, logger *zap.Logger) *Driver {
	return &Driver{
		page:   page,
		logger: logger.Named("driver"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// humanPause returns a short randomized pause, uniform over 1/11..10/11 of a
// second in 1/11 steps.
func (d *Driver) humanPause() time.Duration {
	return time.Duration(1+d.rng.Intn(10)) * time.Second / 11
}

// ClickAtProportion clicks inside box at the point defined by the proportions
// px and py of the box's width and height. The pauses around the press are
// randomized so repeated clicks never share an exact cadence.
func (d *Driver) ClickAtProportion(ctx context.Context, box *BoundingBox, px, py float64) error {
	if box == nil {
		return ErrNoBoundingBox
	}
	x := box.X + px*box.Width
	y := box.Y + py*box.Height

	if err := d.page.MoveMouse(ctx, x, y); err != nil {
		return err
	}
	if err := d.page.Sleep(ctx, d.humanPause()); err != nil {
		return err
	}

	// Once the button goes down the sequence must run to completion even if
	// the caller is cancelled, or the pointer would be left pressed.
	ictx := context.WithoutCancel(ctx)
	if err := d.page.PressMouse(ictx, x, y); err != nil {
		return err
	}
	_ = d.page.Sleep(ictx, clickHold)
	if err := d.page.ReleaseMouse(ictx, x, y); err != nil {
		return err
	}
	if err := d.page.Sleep(ictx, d.humanPause()); err != nil {
		return err
	}
	return ctx.Err()
}

// DragHorizontal grabs the element at selector and drags it offset pixels to
// the right using a three-phase overshoot, correct, settle profile:
//
//  1. a per-pixel forward sweep that deliberately runs dragOvershoot pixels
//     past the target,
//  2. a slow backward wobble that drifts on both axes,
//  3. one smooth interpolated move onto the exact target.
//
// The grab anchor sits at width/anchorDivisor, height/anchorDivisor from the
// element's top-left, not at its center. The element box is measured fresh on
// every call; a stale box from an earlier attempt must never be passed in,
// which is why this method takes a selector rather than a box.
func (d *Driver) DragHorizontal(ctx context.Context, scope Scope, selector string, offset float64) error {
	box, err := d.page.Box(ctx, scope, selector)
	if err != nil {
		return err
	}
	if box == nil {
		return ErrNoBoundingBox
	}

	startX := box.X + box.Width/anchorDivisor
	startY := box.Y + box.Height/anchorDivisor

	d.logger.Debug("Dragging element",
		zap.String("selector", selector),
		zap.Float64("offset_px", offset),
		zap.Float64("start_x", startX),
		zap.Float64("start_y", startY))

	if err := d.page.MoveMouse(ctx, startX, startY); err != nil {
		return err
	}
	if err := d.page.Sleep(ctx, d.humanPause()); err != nil {
		return err
	}

	// The pressed segment is not interruptible; see ClickAtProportion.
	ictx := context.WithoutCancel(ctx)
	if err := d.page.PressMouse(ictx, startX, startY); err != nil {
		return err
	}
	released := false
	defer func() {
		if !released {
			_ = d.page.ReleaseMouse(ictx, startX+offset, startY)
		}
	}()

	// Phase 1: forward sweep, one pixel per step, past the target.
	for px := 0; px <= int(offset)+dragOvershoot; px++ {
		if err := d.page.MoveMouse(ictx, startX+float64(px), startY); err != nil {
			return err
		}
		_ = d.page.Sleep(ictx, dragStepDelay)
	}
	_ = d.page.Sleep(ictx, 250*time.Millisecond)

	// Phase 2: backward wobble. x walks back from offset+5 to offset-1
	// while y drifts from -5 to +1, imitating an imprecise correction.
	for p := -dragOvershoot; p <= 1; p++ {
		if err := d.page.MoveMouse(ictx, startX+offset-float64(p), startY+float64(p)); err != nil {
			return err
		}
		_ = d.page.Sleep(ictx, wobbleStepDelay)
	}
	_ = d.page.Sleep(ictx, 200*time.Millisecond)

	// Phase 3: settle smoothly onto the exact target.
	if err := d.page.MoveMouseSteps(ictx, startX+offset, startY, settleSteps); err != nil {
		return err
	}
	_ = d.page.Sleep(ictx, 300*time.Millisecond)

	released = true
	if err := d.page.ReleaseMouse(ictx, startX+offset, startY); err != nil {
		return err
	}
	return ctx.Err()
}
