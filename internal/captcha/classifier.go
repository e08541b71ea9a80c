package captcha

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// identifyPolls and identifyInterval bound the classification window: up to
// 60 polls spaced 0.5s apart, roughly 30 seconds.
const (
	identifyPolls    = 60
	identifyInterval = 500 * time.Millisecond
)

// presenceInterval spaces the presence/absence polls.
const presenceInterval = 500 * time.Millisecond

// Classifier determines which captcha variant, if any, is currently shown.
// It only reads the page; it never interacts.
type Classifier struct {
	page   Page
	logger *zap.Logger
}

// NewClassifier builds a Classifier over the given page.
func NewClassifier(page Page, logger *zap.Logger) *Classifier {
	return &Classifier{page: page, logger: logger.Named("classifier")}
}

// Identify polls the page for variant markers in a fixed priority order and
// returns the first match. Marker sets are mutually exclusive by
// construction, so first-match-wins cannot misfire on priority. It returns
// ErrNotIdentified once the polling window is exhausted.
func (c *Classifier) Identify(ctx context.Context) (Variant, error) {
	for i := 0; i < identifyPolls; i++ {
		if err := ctx.Err(); err != nil {
			return VariantUnknown, err
		}

		if c.visible(ctx, PuzzleV1Unique) {
			c.logger.Debug("Detected puzzle v1")
			return VariantPuzzleV1, nil
		}
		if c.visible(ctx, PuzzleV2Unique) {
			c.logger.Debug("Detected puzzle v2")
			return VariantPuzzleV2, nil
		}
		if c.visible(ctx, RotateV1Unique) {
			c.logger.Debug("Detected rotate v1")
			return VariantRotateV1, nil
		}
		if c.visible(ctx, RotateV2Unique) {
			c.logger.Debug("Detected rotate v2")
			return VariantRotateV2, nil
		}
		if c.visible(ctx, ShapesV1Unique) {
			return c.disambiguateShapes(ctx, ShapesV1Image, VariantShapesV1, VariantIconV1)
		}
		if c.visible(ctx, ShapesV2Unique) {
			return c.disambiguateShapes(ctx, ShapesV2Image, VariantShapesV2, VariantIconV2)
		}

		if err := c.page.Sleep(ctx, identifyInterval); err != nil {
			return VariantUnknown, err
		}
	}
	return VariantUnknown, ErrNotIdentified
}

// disambiguateShapes tells a shapes challenge apart from an icon challenge.
// The two share identical structure; only the image source URL differs:
// "/icon" marks icon challenges and "/3d" marks shapes. Anything else is
// treated as shapes, which mirrors the upstream heuristic but is logged
// loudly because it may well be a misclassification.
func (c *Classifier) disambiguateShapes(ctx context.Context, imageSel string, shapes, icon Variant) (Variant, error) {
	imgURL, err := c.page.SourceURL(ctx, PageScope, imageSel)
	if err != nil {
		return VariantUnknown, err
	}
	switch {
	case strings.Contains(imgURL, "/icon"):
		c.logger.Debug("Detected icon variant", zap.Stringer("variant", icon))
		return icon, nil
	case strings.Contains(imgURL, "/3d"):
		c.logger.Debug("Detected shapes variant", zap.Stringer("variant", shapes))
		return shapes, nil
	default:
		c.logger.Warn("Image URL matched neither /icon nor /3d, defaulting to shapes",
			zap.Stringer("variant", shapes),
			zap.String("image_url", imgURL))
		return shapes, nil
	}
}

// CaptchaPresent polls for any variant's outer wrapper (or, on Douyin, any
// element inside the captcha iframe) until timeout. Timeout means false, not
// an error.
func (c *Classifier) CaptchaPresent(ctx context.Context, timeout time.Duration) bool {
	return c.pollPresence(ctx, timeout, true)
}

// CaptchaAbsent is the inverse: it polls until no wrapper remains visible.
func (c *Classifier) CaptchaAbsent(ctx context.Context, timeout time.Duration) bool {
	return c.pollPresence(ctx, timeout, false)
}

func (c *Classifier) pollPresence(ctx context.Context, timeout time.Duration, want bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return false
		}

		present := c.anyWrapperVisible(ctx)
		if present == want {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := c.page.Sleep(ctx, presenceInterval); err != nil {
			return false
		}
	}
}

func (c *Classifier) anyWrapperVisible(ctx context.Context) bool {
	if c.PageIsDouyin(ctx) {
		present, err := c.page.AnyVisible(ctx, DouyinScope, "*")
		return err == nil && present
	}
	present, err := c.page.AnyVisible(ctx, PageScope, WrapperV1, WrapperV2)
	return err == nil && present
}

// PageIsDouyin classifies the current page origin. Douyin pages route to a
// separate puzzle-only solve path scoped to the captcha iframe.
func (c *Classifier) PageIsDouyin(ctx context.Context) bool {
	url, err := c.page.URL(ctx)
	if err != nil {
		return false
	}
	return strings.Contains(url, "douyin")
}

func (c *Classifier) visible(ctx context.Context, selector string) bool {
	present, err := c.page.AnyVisible(ctx, PageScope, selector)
	return err == nil && present
}
