// Package vision is an in-house puzzle solver reached over NATS
// request-reply. It only understands slide puzzles; when it is configured the
// orchestrator consults it before the paid solving service and falls back on
// any failure or low-confidence answer.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/okto-sec/tiksolve/internal/captcha"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrLowConfidence is returned when the service answered but its confidence
// is below the configured floor. Callers treat it like any other failure and
// fall back.
var ErrLowConfidence = errors.New("vision: solution confidence below threshold")

// DefaultSubject is the request-reply subject the solver listens on.
const DefaultSubject = "jobs.captcha.slider"

// Options configure a Client.
type Options struct {
	// URL is the NATS server URL, e.g. nats://localhost:4222.
	URL string
	// Subject overrides DefaultSubject.
	Subject string
	// Timeout bounds a single request-reply round trip. Zero means 30s.
	Timeout time.Duration
	// MinConfidence rejects answers below this confidence. Zero means 0.3.
	MinConfidence float64
}

// Client talks to the vision solver. It satisfies captcha.PuzzleSolver.
type Client struct {
	conn          *nats.Conn
	subject       string
	timeout       time.Duration
	minConfidence float64
	logger        *zap.Logger
}

var _ captcha.PuzzleSolver = (*Client)(nil)

// Connect dials the NATS server and returns a ready Client.
func Connect(opts Options, logger *zap.Logger) (*Client, error) {
	conn, err := nats.Connect(opts.URL,
		nats.Name("tiksolve-vision"),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("vision: connecting to %s: %w", opts.URL, err)
	}

	subject := opts.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.3
	}

	return &Client{
		conn:          conn,
		subject:       subject,
		timeout:       timeout,
		minConfidence: minConfidence,
		logger:        logger,
	}, nil
}

// Close drains the NATS connection.
func (c *Client) Close() {
	c.conn.Close()
}

type request struct {
	BackgroundB64 string `json:"background_b64"`
	PieceB64      string `json:"piece_b64"`
}

type response struct {
	XOffset    float64 `json:"x_offset"`
	ImageWidth float64 `json:"image_width"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

// Puzzle sends both images to the solver and converts its pixel offset into
// a proportion of the background image width, matching the solving-service
// contract so the two backends are interchangeable.
func (c *Client) Puzzle(ctx context.Context, puzzle, piece captcha.ImageAsset) (captcha.PuzzleSolution, error) {
	payload, err := json.Marshal(request{BackgroundB64: puzzle.B64, PieceB64: piece.B64})
	if err != nil {
		return captcha.PuzzleSolution{}, fmt.Errorf("vision: encoding request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(reqCtx, c.subject, payload)
	if err != nil {
		return captcha.PuzzleSolution{}, fmt.Errorf("vision: request on %s: %w", c.subject, err)
	}

	var resp response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return captcha.PuzzleSolution{}, fmt.Errorf("vision: decoding response: %w", err)
	}
	if !resp.Success {
		return captcha.PuzzleSolution{}, fmt.Errorf("vision: solver reported failure: %s", resp.Error)
	}
	if resp.ImageWidth <= 0 {
		return captcha.PuzzleSolution{}, fmt.Errorf("vision: solver returned image width %v", resp.ImageWidth)
	}
	if resp.Confidence < c.minConfidence {
		c.logger.Warn("Vision solution below confidence floor",
			zap.Float64("confidence", resp.Confidence),
			zap.Float64("floor", c.minConfidence))
		return captcha.PuzzleSolution{}, ErrLowConfidence
	}

	proportion := resp.XOffset / resp.ImageWidth
	c.logger.Debug("Vision puzzle solved",
		zap.Float64("x_offset", resp.XOffset),
		zap.Float64("proportion", proportion),
		zap.Float64("confidence", resp.Confidence))

	return captcha.PuzzleSolution{SlideXProportion: proportion}, nil
}
