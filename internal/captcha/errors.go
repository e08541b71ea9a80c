package captcha

import "errors"

var (
	// ErrNotIdentified is returned by Classifier.Identify when a captcha
	// wrapper is present but no variant marker matched within the
	// classification window.
	ErrNotIdentified = errors.New("captcha: no known variant marker matched")

	// ErrNoBoundingBox is returned when an element required for an
	// interaction exists but cannot be measured (detached or hidden).
	// It aborts the current solve attempt, not the whole retry loop.
	ErrNoBoundingBox = errors.New("captcha: element has no bounding box")

	// ErrMissingAttribute is returned when an expected text or source-URL
	// attribute is absent on an element assumed present.
	ErrMissingAttribute = errors.New("captcha: expected attribute missing")

	// ErrNotReady signals that the Douyin puzzle frame exists but its
	// assets are not loadable yet. The orchestrator backs off and retries.
	ErrNotReady = errors.New("captcha: challenge not ready")
)
