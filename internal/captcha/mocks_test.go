package captcha

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mouseEvent records one pointer primitive issued against the fake page.
type mouseEvent struct {
	kind  string // "move", "press", "release"
	x, y  float64
	steps int
}

// fakePage is a scripted Page implementation. Visibility, boxes, sources and
// texts are keyed by "frame|selector" ("" frame means the top-level page).
// Sleeps record their duration and return immediately so choreography tests
// run at full speed.
type fakePage struct {
	mu sync.Mutex

	url     string
	visible map[string]bool
	boxes   map[string]*BoundingBox
	sources map[string]string
	texts   map[string]string

	events []mouseEvent
	clicks []string
	sleeps []time.Duration

	// onRelease runs after every mouse release and onClick after every
	// element click, letting tests flip page state the way a successful
	// drag or submit would.
	onRelease func(p *fakePage)
	onClick   func(p *fakePage, key string)
}

func newFakePage() *fakePage {
	return &fakePage{
		url:     "https://www.tiktok.com/@someone",
		visible: make(map[string]bool),
		boxes:   make(map[string]*BoundingBox),
		sources: make(map[string]string),
		texts:   make(map[string]string),
	}
}

func key(scope Scope, selector string) string {
	return scope.Frame + "|" + selector
}

func (p *fakePage) setVisible(scope Scope, selector string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[key(scope, selector)] = v
}

func (p *fakePage) setBox(scope Scope, selector string, b *BoundingBox) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boxes[key(scope, selector)] = b
}

func (p *fakePage) setSource(scope Scope, selector, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[key(scope, selector)] = url
}

func (p *fakePage) setText(scope Scope, selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[key(scope, selector)] = text
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) AnyVisible(ctx context.Context, scope Scope, selectors ...string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sel := range selectors {
		if p.visible[key(scope, sel)] {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePage) Box(ctx context.Context, scope Scope, selector string) (*BoundingBox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	box, ok := p.boxes[key(scope, selector)]
	if !ok {
		return nil, fmt.Errorf("no element matches %q: %w", selector, ErrNoBoundingBox)
	}
	if box == nil {
		return nil, ErrNoBoundingBox
	}
	copied := *box
	return &copied, nil
}

func (p *fakePage) Text(ctx context.Context, scope Scope, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.texts[key(scope, selector)]
	if !ok || text == "" {
		return "", ErrMissingAttribute
	}
	return text, nil
}

func (p *fakePage) SourceURL(ctx context.Context, scope Scope, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[key(scope, selector)]
	if !ok || src == "" {
		return "", ErrMissingAttribute
	}
	return src, nil
}

func (p *fakePage) Click(ctx context.Context, scope Scope, selector string) error {
	k := key(scope, selector)
	p.mu.Lock()
	p.clicks = append(p.clicks, k)
	hook := p.onClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, k)
	}
	return nil
}

func (p *fakePage) MoveMouse(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, mouseEvent{kind: "move", x: x, y: y})
	return nil
}

func (p *fakePage) MoveMouseSteps(ctx context.Context, x, y float64, steps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, mouseEvent{kind: "move", x: x, y: y, steps: steps})
	return nil
}

func (p *fakePage) PressMouse(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, mouseEvent{kind: "press", x: x, y: y})
	return nil
}

func (p *fakePage) ReleaseMouse(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	p.events = append(p.events, mouseEvent{kind: "release", x: x, y: y})
	hook := p.onRelease
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleeps = append(p.sleeps, d)
	return nil
}

func (p *fakePage) recordedEvents() []mouseEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]mouseEvent, len(p.events))
	copy(out, p.events)
	return out
}

var _ Page = (*fakePage)(nil)

// fakeClient is a scripted SolveClient.
type fakeClient struct {
	mu sync.Mutex

	puzzleSolution PuzzleSolution
	rotateSolution RotateSolution
	shapesSolution ShapesSolution
	iconSolution   IconSolution
	err            error

	puzzleCalls int
	rotateCalls int
	shapesCalls int
	iconCalls   int
}

func (c *fakeClient) Puzzle(ctx context.Context, puzzle, piece ImageAsset) (PuzzleSolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puzzleCalls++
	return c.puzzleSolution, c.err
}

func (c *fakeClient) Rotate(ctx context.Context, outer, inner ImageAsset) (RotateSolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotateCalls++
	return c.rotateSolution, c.err
}

func (c *fakeClient) Shapes(ctx context.Context, image ImageAsset) (ShapesSolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shapesCalls++
	return c.shapesSolution, c.err
}

func (c *fakeClient) Icon(ctx context.Context, challenge string, image ImageAsset) (IconSolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iconCalls++
	return c.iconSolution, c.err
}

func (c *fakeClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puzzleCalls + c.rotateCalls + c.shapesCalls + c.iconCalls
}

var _ SolveClient = (*fakeClient)(nil)

// fakeFetcher returns a canned payload for every URL and records requests.
type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (ImageAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.err != nil {
		return ImageAsset{}, f.err
	}
	return ImageAsset{B64: "aW1hZ2U=", URL: url}, nil
}

var _ Fetcher = (*fakeFetcher)(nil)
