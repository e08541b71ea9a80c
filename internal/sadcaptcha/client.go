// Package sadcaptcha implements the remote solving-service boundary. The
// service receives challenge images as base64 payloads and returns typed
// solutions: a slide proportion for puzzles, an angle for rotations,
// proportional points for shapes and icon challenges.
package sadcaptcha

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/okto-sec/tiksolve/internal/captcha"
)

// DefaultBaseURL is the production solving-service endpoint.
const DefaultBaseURL = "https://www.sadcaptcha.com/api/v1"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIError reports a non-success response from the solving service.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sadcaptcha %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Options configure a Client.
type Options struct {
	// APIKey authenticates every request (licenseKey query parameter).
	APIKey string
	// BaseURL overrides DefaultBaseURL, mainly for tests.
	BaseURL string
	// Timeout bounds a single API call. Zero means 30 seconds.
	Timeout time.Duration
	// RequestsPerMinute throttles outbound calls so a retry storm cannot
	// burn through the API quota. Zero disables throttling.
	RequestsPerMinute int
}

// Client talks to the solving service. It satisfies captcha.SolveClient.
type Client struct {
	base    string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ captcha.SolveClient = (*Client)(nil)

// New builds a Client from opts.
func New(opts Options, logger *zap.Logger) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), opts.RequestsPerMinute)
	}

	return &Client{
		base:    base,
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

type puzzleRequest struct {
	PuzzleImageB64 string `json:"puzzleImageB64"`
	PieceImageB64  string `json:"pieceImageB64"`
}

type puzzleResponse struct {
	SlideXProportion float64 `json:"slideXProportion"`
}

type rotateRequest struct {
	OuterImageB64 string `json:"outerImageB64"`
	InnerImageB64 string `json:"innerImageB64"`
}

type rotateResponse struct {
	Angle float64 `json:"angle"`
}

type shapesRequest struct {
	ImageB64 string `json:"imageB64"`
}

type shapesResponse struct {
	PointOneProportionX float64 `json:"pointOneProportionX"`
	PointOneProportionY float64 `json:"pointOneProportionY"`
	PointTwoProportionX float64 `json:"pointTwoProportionX"`
	PointTwoProportionY float64 `json:"pointTwoProportionY"`
}

type iconRequest struct {
	Challenge string `json:"challenge"`
	ImageB64  string `json:"imageB64"`
}

type iconResponse struct {
	ProportionalPoints []struct {
		ProportionX float64 `json:"proportionX"`
		ProportionY float64 `json:"proportionY"`
	} `json:"proportionalPoints"`
}

// Puzzle asks the service where along the track the puzzle piece belongs.
func (c *Client) Puzzle(ctx context.Context, puzzle, piece captcha.ImageAsset) (captcha.PuzzleSolution, error) {
	var resp puzzleResponse
	err := c.post(ctx, "puzzle", puzzleRequest{
		PuzzleImageB64: puzzle.B64,
		PieceImageB64:  piece.B64,
	}, &resp)
	if err != nil {
		return captcha.PuzzleSolution{}, err
	}
	c.logger.Debug("Puzzle solved",
		zap.Float64("slide_x_proportion", resp.SlideXProportion),
		zap.String("puzzle_url", puzzle.URL))
	return captcha.PuzzleSolution{SlideXProportion: resp.SlideXProportion}, nil
}

// Rotate asks the service for the angle that aligns the inner image with the
// outer one.
func (c *Client) Rotate(ctx context.Context, outer, inner captcha.ImageAsset) (captcha.RotateSolution, error) {
	var resp rotateResponse
	err := c.post(ctx, "rotate", rotateRequest{
		OuterImageB64: outer.B64,
		InnerImageB64: inner.B64,
	}, &resp)
	if err != nil {
		return captcha.RotateSolution{}, err
	}
	c.logger.Debug("Rotate solved",
		zap.Float64("angle", resp.Angle),
		zap.String("outer_url", outer.URL))
	return captcha.RotateSolution{Angle: resp.Angle}, nil
}

// Shapes asks the service for the two points to click.
func (c *Client) Shapes(ctx context.Context, image captcha.ImageAsset) (captcha.ShapesSolution, error) {
	var resp shapesResponse
	if err := c.post(ctx, "shapes", shapesRequest{ImageB64: image.B64}, &resp); err != nil {
		return captcha.ShapesSolution{}, err
	}
	return captcha.ShapesSolution{
		PointOne: captcha.Point{X: resp.PointOneProportionX, Y: resp.PointOneProportionY},
		PointTwo: captcha.Point{X: resp.PointTwoProportionX, Y: resp.PointTwoProportionY},
	}, nil
}

// Icon asks the service which points satisfy the challenge instruction.
func (c *Client) Icon(ctx context.Context, challenge string, image captcha.ImageAsset) (captcha.IconSolution, error) {
	var resp iconResponse
	if err := c.post(ctx, "icon", iconRequest{Challenge: challenge, ImageB64: image.B64}, &resp); err != nil {
		return captcha.IconSolution{}, err
	}
	points := make([]captcha.Point, 0, len(resp.ProportionalPoints))
	for _, p := range resp.ProportionalPoints {
		points = append(points, captcha.Point{X: p.ProportionX, Y: p.ProportionY})
	}
	return captcha.IconSolution{Points: points}, nil
}

// post sends one authenticated JSON request and decodes the response into out.
func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	reqURL := fmt.Sprintf("%s/%s?licenseKey=%s", c.base, endpoint, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sadcaptcha %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("sadcaptcha %s: reading response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("sadcaptcha %s: decoding response: %w", endpoint, err)
	}
	return nil
}
