package captcha

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okto-sec/tiksolve/internal/geometry"
)

// Orchestrator defaults. The outer loop and the per-routine loops have
// separate retry budgets on purpose; a routine exhausting its budget hands
// control back so the orchestrator can re-detect from scratch.
const (
	// DefaultDetectTimeout bounds the initial presence poll.
	DefaultDetectTimeout = 15 * time.Second
	// DefaultMaxRetries bounds the outer solve loop.
	DefaultMaxRetries = 3
	// routineRetries bounds each variant routine's internal loop. Icon
	// routines are single-shot and ignore it: a click-sequence answer is
	// taken as authoritative after one pass.
	routineRetries = 3
	// reverifyTimeout is how long a routine waits for the captcha to
	// disappear after an interaction before calling the attempt failed.
	reverifyTimeout = 5 * time.Second
	// retryBackoff separates consecutive attempts.
	retryBackoff = 5 * time.Second
)

// Solver is the top-level state machine. It waits for a captcha, dispatches
// to the matching variant routine, re-verifies absence and retries on
// failure. One Solver drives one page; solve attempts never run concurrently
// against the same page because the pointer is shared mutable state.
type Solver struct {
	page       Page
	classifier *Classifier
	driver     *Driver
	fetcher    Fetcher
	client     SolveClient
	// puzzle is an optional cheaper solver consulted before client for
	// puzzle variants. Nil means always use client.
	puzzle PuzzleSolver
	logger *zap.Logger

	// reverify and backoff default to reverifyTimeout and retryBackoff;
	// tests shrink them so polling windows do not run on wall-clock scale.
	reverify time.Duration
	backoff  time.Duration
}

// New wires a Solver over the given page and collaborators.
func New(page Page, client SolveClient, fetcher Fetcher, logger *zap.Logger) *Solver {
	return &Solver{
		page:       page,
		classifier: NewClassifier(page, logger),
		driver:     NewDriver(page, logger),
		fetcher:    fetcher,
		client:     client,
		logger:     logger.Named("solver"),
		reverify:   reverifyTimeout,
		backoff:    retryBackoff,
	}
}

// WithPuzzleSolver installs a preferred puzzle solver (the vision fallback
// service). Returns the Solver for chaining during construction.
func (s *Solver) WithPuzzleSolver(p PuzzleSolver) *Solver {
	s.puzzle = p
	return s
}

// SolveIfPresent solves whatever captcha is on the page, if any. It returns
// nil both when no captcha appeared within detectTimeout and when retries are
// exhausted without resolution; callers needing certainty must re-check page
// state. The only non-nil returns are context cancellation and a present
// captcha that could not be classified.
func (s *Solver) SolveIfPresent(ctx context.Context, detectTimeout time.Duration, maxRetries int) error {
	if detectTimeout <= 0 {
		detectTimeout = DefaultDetectTimeout
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	runID := uuid.NewString()[:8]
	logger := s.logger.With(zap.String("run_id", runID))

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !s.classifier.CaptchaPresent(ctx, detectTimeout) {
			logger.Debug("Captcha is not present")
			return nil
		}

		if s.classifier.PageIsDouyin(ctx) {
			logger.Debug("Solving douyin puzzle", zap.Int("attempt", attempt))
			if err := s.solveDouyinPuzzle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, ErrNotReady) {
					logger.Debug("Douyin puzzle was not ready, backing off", zap.Error(err))
				} else {
					logger.Warn("Douyin solve attempt failed", zap.Error(err))
				}
			}
		} else {
			variant, err := s.classifier.Identify(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// A wrapper is present but nothing matched; this is
				// the one failure the caller has to hear about.
				return err
			}

			logger.Debug("Dispatching solve routine", zap.Stringer("variant", variant), zap.Int("attempt", attempt))
			if err := s.dispatch(ctx, variant); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Measurement, attribute, fetch and service errors all
				// abort the attempt and consume one outer retry.
				logger.Warn("Solve attempt failed",
					zap.Stringer("variant", variant),
					zap.Error(err))
			}
		}

		if s.classifier.CaptchaAbsent(ctx, s.reverify) {
			logger.Info("Captcha resolved", zap.Int("attempt", attempt))
			return nil
		}
		if err := s.page.Sleep(ctx, s.backoff); err != nil {
			return err
		}
	}

	// Retries exhausted. Deliberately silent; see the method contract.
	logger.Debug("Giving up after retry budget exhausted", zap.Int("max_retries", maxRetries))
	return nil
}

func (s *Solver) dispatch(ctx context.Context, variant Variant) error {
	switch variant {
	case VariantPuzzleV1:
		return s.solvePuzzle(ctx, PuzzleV1Piece, PuzzleV1Image, PuzzleV1Drag)
	case VariantPuzzleV2:
		return s.solvePuzzle(ctx, PuzzleV2Piece, PuzzleV2Image, PuzzleV2Drag)
	case VariantRotateV1:
		return s.solveRotate(ctx, RotateV1Inner, RotateV1Outer, RotateV1Bar, RotateV1Drag)
	case VariantRotateV2:
		return s.solveRotate(ctx, RotateV2Inner, RotateV2Outer, RotateV2Bar, RotateV2Drag)
	case VariantShapesV1:
		return s.solveShapes(ctx, ShapesV1Image, ShapesV1Submit)
	case VariantShapesV2:
		return s.solveShapes(ctx, ShapesV2Image, ShapesV2Submit)
	case VariantIconV1:
		return s.solveIcon(ctx, IconV1Text, ShapesV1Image, IconV1Submit)
	case VariantIconV2:
		return s.solveIcon(ctx, IconV2Text, ShapesV2Image, IconV2Submit)
	default:
		return ErrNotIdentified
	}
}

// solvePuzzleImages routes a puzzle to the preferred solver first, falling
// back to the remote service when it fails for any reason.
func (s *Solver) solvePuzzleImages(ctx context.Context, puzzle, piece ImageAsset) (PuzzleSolution, error) {
	if s.puzzle != nil {
		sol, err := s.puzzle.Puzzle(ctx, puzzle, piece)
		if err == nil {
			return sol, nil
		}
		if ctx.Err() != nil {
			return PuzzleSolution{}, ctx.Err()
		}
		s.logger.Debug("Preferred puzzle solver failed, falling back to service", zap.Error(err))
	}
	return s.client.Puzzle(ctx, puzzle, piece)
}

func (s *Solver) solvePuzzle(ctx context.Context, pieceSel, imageSel, dragSel string) error {
	for i := 0; i < routineRetries; i++ {
		present, err := s.page.AnyVisible(ctx, PageScope, pieceSel)
		if err != nil {
			return err
		}
		if !present {
			// Someone (or something) resolved it mid-attempt. Benign.
			s.logger.Debug("Puzzle piece no longer present, nothing to solve")
			return nil
		}

		puzzleURL, err := s.page.SourceURL(ctx, PageScope, imageSel)
		if err != nil {
			return err
		}
		pieceURL, err := s.page.SourceURL(ctx, PageScope, pieceSel)
		if err != nil {
			return err
		}
		puzzle, err := s.fetcher.Fetch(ctx, puzzleURL)
		if err != nil {
			return err
		}
		piece, err := s.fetcher.Fetch(ctx, pieceURL)
		if err != nil {
			return err
		}

		sol, err := s.solvePuzzleImages(ctx, puzzle, piece)
		if err != nil {
			return err
		}

		// Measure the track immediately before use; layout may have
		// shifted since the previous iteration.
		box, err := s.page.Box(ctx, PageScope, imageSel)
		if err != nil {
			return err
		}
		distance := geometry.PuzzleSlideDistance(sol.SlideXProportion, box.Width)
		s.logger.Debug("Computed puzzle slide distance",
			zap.Float64("proportion", sol.SlideXProportion),
			zap.Float64("track_width", box.Width),
			zap.Float64("distance", distance))

		if err := s.driver.DragHorizontal(ctx, PageScope, dragSel, distance); err != nil {
			return err
		}

		if s.classifier.CaptchaAbsent(ctx, s.reverify) {
			return nil
		}
		if err := s.page.Sleep(ctx, s.backoff); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) solveRotate(ctx context.Context, innerSel, outerSel, barSel, dragSel string) error {
	for i := 0; i < routineRetries; i++ {
		present, err := s.page.AnyVisible(ctx, PageScope, innerSel)
		if err != nil {
			return err
		}
		if !present {
			s.logger.Debug("Rotate inner image no longer present, nothing to solve")
			return nil
		}

		outerURL, err := s.page.SourceURL(ctx, PageScope, outerSel)
		if err != nil {
			return err
		}
		innerURL, err := s.page.SourceURL(ctx, PageScope, innerSel)
		if err != nil {
			return err
		}
		outer, err := s.fetcher.Fetch(ctx, outerURL)
		if err != nil {
			return err
		}
		inner, err := s.fetcher.Fetch(ctx, innerURL)
		if err != nil {
			return err
		}

		sol, err := s.client.Rotate(ctx, outer, inner)
		if err != nil {
			return err
		}

		barBox, err := s.page.Box(ctx, PageScope, barSel)
		if err != nil {
			return err
		}
		dragBox, err := s.page.Box(ctx, PageScope, dragSel)
		if err != nil {
			return err
		}
		distance := geometry.RotateSlideDistance(sol.Angle, barBox.Width, dragBox.Width)
		s.logger.Debug("Computed rotate slide distance",
			zap.Float64("angle", sol.Angle),
			zap.Float64("bar_width", barBox.Width),
			zap.Float64("handle_width", dragBox.Width),
			zap.Float64("distance", distance))

		if err := s.driver.DragHorizontal(ctx, PageScope, dragSel, distance); err != nil {
			return err
		}

		if s.classifier.CaptchaAbsent(ctx, s.reverify) {
			return nil
		}
		if err := s.page.Sleep(ctx, s.backoff); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) solveShapes(ctx context.Context, imageSel, submitSel string) error {
	for i := 0; i < routineRetries; i++ {
		present, err := s.page.AnyVisible(ctx, PageScope, imageSel)
		if err != nil {
			return err
		}
		if !present {
			s.logger.Debug("Shapes image no longer present, nothing to solve")
			return nil
		}

		imgURL, err := s.page.SourceURL(ctx, PageScope, imageSel)
		if err != nil {
			return err
		}
		image, err := s.fetcher.Fetch(ctx, imgURL)
		if err != nil {
			return err
		}

		sol, err := s.client.Shapes(ctx, image)
		if err != nil {
			return err
		}

		box, err := s.page.Box(ctx, PageScope, imageSel)
		if err != nil {
			return err
		}
		if err := s.driver.ClickAtProportion(ctx, box, sol.PointOne.X, sol.PointOne.Y); err != nil {
			return err
		}
		if err := s.driver.ClickAtProportion(ctx, box, sol.PointTwo.X, sol.PointTwo.Y); err != nil {
			return err
		}
		if err := s.page.Click(ctx, PageScope, submitSel); err != nil {
			return err
		}

		if s.classifier.CaptchaAbsent(ctx, s.reverify) {
			return nil
		}
		if err := s.page.Sleep(ctx, s.backoff); err != nil {
			return err
		}
	}
	return nil
}

// solveIcon is single-shot: the click sequence the service returns is taken
// as authoritative, so there is no internal retry loop.
func (s *Solver) solveIcon(ctx context.Context, textSel, imageSel, submitSel string) error {
	present, err := s.page.AnyVisible(ctx, PageScope, imageSel)
	if err != nil {
		return err
	}
	if !present {
		s.logger.Debug("Icon image no longer present, nothing to solve")
		return nil
	}

	challenge, err := s.page.Text(ctx, PageScope, textSel)
	if err != nil {
		return err
	}
	imgURL, err := s.page.SourceURL(ctx, PageScope, imageSel)
	if err != nil {
		return err
	}
	image, err := s.fetcher.Fetch(ctx, imgURL)
	if err != nil {
		return err
	}

	sol, err := s.client.Icon(ctx, challenge, image)
	if err != nil {
		return err
	}

	box, err := s.page.Box(ctx, PageScope, imageSel)
	if err != nil {
		return err
	}
	for _, point := range sol.Points {
		if err := s.driver.ClickAtProportion(ctx, box, point.X, point.Y); err != nil {
			return err
		}
	}
	return s.page.Click(ctx, PageScope, submitSel)
}

// solveDouyinPuzzle handles the alternate-site variant: puzzle only, every
// lookup scoped to the captcha iframe, and the slide distance derived from
// the puzzle image's own width. A missing image URL means the frame has not
// finished loading; that maps to ErrNotReady so the orchestrator backs off
// instead of burning the attempt on a hard error.
func (s *Solver) solveDouyinPuzzle(ctx context.Context) error {
	puzzleURL, err := s.page.SourceURL(ctx, DouyinScope, DouyinPuzzle)
	if err != nil {
		if errors.Is(err, ErrMissingAttribute) {
			return ErrNotReady
		}
		return err
	}
	pieceURL, err := s.page.SourceURL(ctx, DouyinScope, DouyinPiece)
	if err != nil {
		if errors.Is(err, ErrMissingAttribute) {
			return ErrNotReady
		}
		return err
	}

	puzzle, err := s.fetcher.Fetch(ctx, puzzleURL)
	if err != nil {
		return err
	}
	piece, err := s.fetcher.Fetch(ctx, pieceURL)
	if err != nil {
		return err
	}

	sol, err := s.solvePuzzleImages(ctx, puzzle, piece)
	if err != nil {
		return err
	}

	box, err := s.page.Box(ctx, DouyinScope, DouyinPuzzle)
	if err != nil {
		return err
	}
	distance := geometry.PuzzleSlideDistance(sol.SlideXProportion, box.Width)
	return s.driver.DragHorizontal(ctx, DouyinScope, DouyinDrag, distance)
}
