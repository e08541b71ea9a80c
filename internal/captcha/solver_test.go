package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestSolver builds a Solver with polling windows shrunk to keep the
// retry loops off wall-clock scale.
func newTestSolver(page *fakePage, client *fakeClient, fetcher *fakeFetcher) *Solver {
	s := New(page, client, fetcher, zap.NewNop())
	s.reverify = 5 * time.Millisecond
	s.backoff = time.Millisecond
	return s
}

// fakePuzzleSolver is a scripted PuzzleSolver standing in for the vision
// service.
type fakePuzzleSolver struct {
	solution PuzzleSolution
	err      error
	calls    int
}

func (f *fakePuzzleSolver) Puzzle(ctx context.Context, puzzle, piece ImageAsset) (PuzzleSolution, error) {
	f.calls++
	return f.solution, f.err
}

var _ PuzzleSolver = (*fakePuzzleSolver)(nil)

func TestSolveIfPresentNoCaptcha(t *testing.T) {
	page := newFakePage()
	client := &fakeClient{}
	fetcher := &fakeFetcher{}
	s := newTestSolver(page, client, fetcher)

	err := s.SolveIfPresent(context.Background(), 30*time.Millisecond, 3)
	require.NoError(t, err)

	assert.Zero(t, client.totalCalls(), "no solve requests expected without a captcha")
	assert.Empty(t, page.recordedEvents(), "no pointer activity expected without a captcha")
	assert.Nil(t, fetcher.urls)
}

func TestSolveIfPresentPuzzleResolvedFirstAttempt(t *testing.T) {
	page := newFakePage()
	page.setVisible(PageScope, WrapperV1, true)
	page.setVisible(PageScope, PuzzleV1Unique, true)
	page.setSource(PageScope, PuzzleV1Image, "https://cdn.example/puzzle.jpg")
	page.setSource(PageScope, PuzzleV1Piece, "https://cdn.example/piece.png")
	page.setBox(PageScope, PuzzleV1Image, &BoundingBox{X: 120, Y: 80, Width: 200, Height: 200})
	page.setBox(PageScope, PuzzleV1Drag, &BoundingBox{X: 10, Y: 500, Width: 40, Height: 40})

	// A successful drag makes the captcha disappear.
	page.onRelease = func(p *fakePage) {
		p.setVisible(PageScope, WrapperV1, false)
		p.setVisible(PageScope, PuzzleV1Unique, false)
	}

	client := &fakeClient{puzzleSolution: PuzzleSolution{SlideXProportion: 0.5}}
	fetcher := &fakeFetcher{}
	s := newTestSolver(page, client, fetcher)

	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, client.puzzleCalls)
	assert.Equal(t, []string{"https://cdn.example/puzzle.jpg", "https://cdn.example/piece.png"}, fetcher.urls)

	events := page.recordedEvents()
	var presses, releases []mouseEvent
	for _, ev := range events {
		switch ev.kind {
		case "press":
			presses = append(presses, ev)
		case "release":
			releases = append(releases, ev)
		}
	}
	require.Len(t, presses, 1, "exactly one interaction expected")
	require.Len(t, releases, 1)

	// Proportion 0.5 of a 200px track is a 100px slide from the anchor.
	anchorX := 10 + 40/anchorDivisor
	assert.InDelta(t, anchorX, presses[0].x, 1e-9)
	assert.InDelta(t, anchorX+100, releases[0].x, 1e-9)
}

func TestSolveIfPresentGivesUpSilently(t *testing.T) {
	page := newFakePage()
	page.setVisible(PageScope, WrapperV1, true)
	page.setVisible(PageScope, PuzzleV1Unique, true)
	page.setSource(PageScope, PuzzleV1Image, "https://cdn.example/puzzle.jpg")
	page.setSource(PageScope, PuzzleV1Piece, "https://cdn.example/piece.png")
	page.setBox(PageScope, PuzzleV1Image, &BoundingBox{X: 0, Y: 0, Width: 200, Height: 200})
	page.setBox(PageScope, PuzzleV1Drag, &BoundingBox{X: 0, Y: 300, Width: 40, Height: 40})

	// No onRelease hook: every interaction leaves the captcha in place.
	client := &fakeClient{puzzleSolution: PuzzleSolution{SlideXProportion: 0.3}}
	fetcher := &fakeFetcher{}
	s := newTestSolver(page, client, fetcher)

	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.NoError(t, err, "retry exhaustion must be silent")

	// Three outer attempts, each running the routine's three internal tries.
	assert.Equal(t, 9, client.puzzleCalls)
}

func TestSolveIfPresentUnidentifiableSurfaces(t *testing.T) {
	page := newFakePage()
	page.setVisible(PageScope, WrapperV1, true)
	// Wrapper present but no variant marker ever appears.

	s := newTestSolver(page, &fakeClient{}, &fakeFetcher{})
	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.ErrorIs(t, err, ErrNotIdentified)
}

func TestSolveIfPresentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSolver(newFakePage(), &fakeClient{}, &fakeFetcher{})
	err := s.SolveIfPresent(ctx, time.Second, 3)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSolveIfPresentPrefersPuzzleSolver(t *testing.T) {
	page := newFakePage()
	page.setVisible(PageScope, WrapperV1, true)
	page.setVisible(PageScope, PuzzleV1Unique, true)
	page.setSource(PageScope, PuzzleV1Image, "https://cdn.example/puzzle.jpg")
	page.setSource(PageScope, PuzzleV1Piece, "https://cdn.example/piece.png")
	page.setBox(PageScope, PuzzleV1Image, &BoundingBox{X: 0, Y: 0, Width: 200, Height: 200})
	page.setBox(PageScope, PuzzleV1Drag, &BoundingBox{X: 0, Y: 300, Width: 40, Height: 40})
	page.onRelease = func(p *fakePage) {
		p.setVisible(PageScope, WrapperV1, false)
		p.setVisible(PageScope, PuzzleV1Unique, false)
	}

	client := &fakeClient{}
	vision := &fakePuzzleSolver{solution: PuzzleSolution{SlideXProportion: 0.25}}
	s := newTestSolver(page, client, &fakeFetcher{}).WithPuzzleSolver(vision)

	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, vision.calls)
	assert.Zero(t, client.puzzleCalls, "service must not be consulted when the preferred solver answers")

	events := page.recordedEvents()
	release := events[len(events)-1]
	require.Equal(t, "release", release.kind)
	assert.InDelta(t, 0+40/anchorDivisor+50, release.x, 1e-9, "0.25 of a 200px track")
}

func TestSolveIfPresentPuzzleSolverFallsBack(t *testing.T) {
	page := newFakePage()
	page.setVisible(PageScope, WrapperV1, true)
	page.setVisible(PageScope, PuzzleV1Unique, true)
	page.setSource(PageScope, PuzzleV1Image, "https://cdn.example/puzzle.jpg")
	page.setSource(PageScope, PuzzleV1Piece, "https://cdn.example/piece.png")
	page.setBox(PageScope, PuzzleV1Image, &BoundingBox{X: 0, Y: 0, Width: 200, Height: 200})
	page.setBox(PageScope, PuzzleV1Drag, &BoundingBox{X: 0, Y: 300, Width: 40, Height: 40})
	page.onRelease = func(p *fakePage) {
		p.setVisible(PageScope, WrapperV1, false)
		p.setVisible(PageScope, PuzzleV1Unique, false)
	}

	client := &fakeClient{puzzleSolution: PuzzleSolution{SlideXProportion: 0.5}}
	vision := &fakePuzzleSolver{err: errors.New("low confidence")}
	s := newTestSolver(page, client, &fakeFetcher{}).WithPuzzleSolver(vision)

	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, vision.calls)
	assert.Equal(t, 1, client.puzzleCalls, "service takes over when the preferred solver fails")
}

func TestSolveIfPresentIconSingleShot(t *testing.T) {
	page := newFakePage()
	page.setVisible(PageScope, WrapperV1, true)
	page.setVisible(PageScope, ShapesV1Unique, true)
	page.setSource(PageScope, ShapesV1Image, "https://cdn.example/icon/challenge.jpg")
	page.setText(PageScope, IconV1Text, "Select 2 objects that are the same shape")
	page.setBox(PageScope, ShapesV1Image, &BoundingBox{X: 100, Y: 100, Width: 300, Height: 200})

	// Submitting the answer dismisses the captcha regardless of pointer
	// activity, so resolution hangs off the click hook here.
	page.onClick = func(p *fakePage, k string) {
		if k == key(PageScope, IconV1Submit) {
			p.setVisible(PageScope, WrapperV1, false)
		}
	}

	client := &fakeClient{iconSolution: IconSolution{Points: []Point{{X: 0.1, Y: 0.2}, {X: 0.7, Y: 0.8}}}}
	s := newTestSolver(page, client, &fakeFetcher{})

	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, client.iconCalls, "icon routines do not retry internally")
	assert.Zero(t, client.shapesCalls, "an /icon image URL must route to the icon routine")

	var presses int
	for _, ev := range page.recordedEvents() {
		if ev.kind == "press" {
			presses++
		}
	}
	assert.Equal(t, 2, presses, "one click per returned point")
	assert.Contains(t, page.clicks, key(PageScope, IconV1Submit))
}

func TestSolveIfPresentDouyinNotReady(t *testing.T) {
	page := newFakePage()
	page.url = "https://www.douyin.com/video/123"
	page.setVisible(DouyinScope, "*", true)
	// No image sources: the iframe has not finished loading.

	client := &fakeClient{}
	fetcher := &fakeFetcher{}
	s := newTestSolver(page, client, fetcher)

	err := s.SolveIfPresent(context.Background(), time.Second, 2)
	require.NoError(t, err, "a perpetually unready frame must exhaust retries silently")
	assert.Zero(t, client.totalCalls())
	assert.Nil(t, fetcher.urls)
}

func TestSolveIfPresentDouyinPuzzle(t *testing.T) {
	page := newFakePage()
	page.url = "https://www.douyin.com/video/123"
	page.setVisible(DouyinScope, "*", true)
	page.setSource(DouyinScope, DouyinPuzzle, "https://cdn.example/douyin/puzzle.jpg")
	page.setSource(DouyinScope, DouyinPiece, "https://cdn.example/douyin/piece.png")
	page.setBox(DouyinScope, DouyinPuzzle, &BoundingBox{X: 50, Y: 50, Width: 300, Height: 200})
	page.setBox(DouyinScope, DouyinDrag, &BoundingBox{X: 20, Y: 400, Width: 40, Height: 40})
	page.onRelease = func(p *fakePage) {
		p.setVisible(DouyinScope, "*", false)
	}

	client := &fakeClient{puzzleSolution: PuzzleSolution{SlideXProportion: 0.5}}
	s := newTestSolver(page, client, &fakeFetcher{})

	err := s.SolveIfPresent(context.Background(), time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, client.puzzleCalls)

	events := page.recordedEvents()
	release := events[len(events)-1]
	require.Equal(t, "release", release.kind)
	assert.InDelta(t, 20+40/anchorDivisor+150, release.x, 1e-9, "0.5 of the 300px puzzle image")
}
