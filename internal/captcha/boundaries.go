package captcha

import "context"

// ImageAsset is an encoded image payload plus its originating URL. Assets are
// fetched fresh per solve attempt and never persisted; the URL travels along
// for diagnostics only.
type ImageAsset struct {
	// B64 is the standard base64 encoding of the raw image bytes.
	B64 string
	// URL is where the asset came from.
	URL string
}

// Fetcher retrieves an image resource as a transportable encoded blob,
// honoring any configured custom headers and proxy. Implemented by
// internal/fetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (ImageAsset, error)
}

// Point is a proportional coordinate, each component in [0, 1] relative to an
// element's width and height.
type Point struct {
	X float64
	Y float64
}

// PuzzleSolution is the answer to a slide-puzzle challenge: how far along the
// track's horizontal axis the piece belongs, as a proportion in [0, 1].
type PuzzleSolution struct {
	SlideXProportion float64
}

// RotateSolution is the answer to a rotation challenge, in degrees.
type RotateSolution struct {
	Angle float64
}

// ShapesSolution is the answer to a two-point shapes challenge.
type ShapesSolution struct {
	PointOne Point
	PointTwo Point
}

// IconSolution is an ordered click sequence, one point per requested icon.
type IconSolution struct {
	Points []Point
}

// SolveClient is the remote solving-service boundary. All images cross the
// boundary as encoded payloads. Implementations fail with a typed error on a
// non-success response; no retrying happens at this layer.
type SolveClient interface {
	Puzzle(ctx context.Context, puzzle, piece ImageAsset) (PuzzleSolution, error)
	Rotate(ctx context.Context, outer, inner ImageAsset) (RotateSolution, error)
	Shapes(ctx context.Context, image ImageAsset) (ShapesSolution, error)
	Icon(ctx context.Context, challenge string, image ImageAsset) (IconSolution, error)
}

// PuzzleSolver is the puzzle-only subset of SolveClient. The vision fallback
// service implements just this; the orchestrator consults it before the paid
// API for puzzle variants.
type PuzzleSolver interface {
	Puzzle(ctx context.Context, puzzle, piece ImageAsset) (PuzzleSolution, error)
}
