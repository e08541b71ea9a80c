package captcha

// Structural markers for each captcha variant. The Unique selector of each
// set is mutually exclusive with every other variant's Unique selector; the
// classifier relies on that to make first-match-wins identification safe.
//
// These track the live TikTok/Douyin DOM and change when the counterparty
// ships a new captcha build. Keep them in one place.

// WrapperV1 and WrapperV2 are the outer containers shared by every variant of
// the respective generation. Presence of either means "a captcha is showing".
const (
	WrapperV1 = ".captcha-disable-scroll"
	WrapperV2 = ".captcha-verify-container"
)

// PuzzleV1 selectors.
const (
	PuzzleV1Unique = "img.captcha_verify_img_slide"
	PuzzleV1Piece  = "img.captcha_verify_img_slide"
	PuzzleV1Image  = "#captcha-verify-image"
	PuzzleV1Drag   = ".secsdk-captcha-drag-icon"
)

// PuzzleV2 selectors.
const (
	PuzzleV2Unique = ".captcha-verify-container > div > div > div > div > img"
	PuzzleV2Piece  = ".captcha-verify-container > div > div > div > div > img"
	PuzzleV2Image  = "#captcha-verify-image"
	PuzzleV2Drag   = ".secsdk-captcha-drag-icon"
)

// RotateV1 selectors.
const (
	RotateV1Unique = "[data-testid=whirl-inner-img]"
	RotateV1Inner  = "[data-testid=whirl-inner-img]"
	RotateV1Outer  = "[data-testid=whirl-outer-img]"
	RotateV1Bar    = ".captcha_verify_slide--slidebar"
	RotateV1Drag   = ".secsdk-captcha-drag-icon"
)

// RotateV2 selectors.
const (
	RotateV2Unique = ".captcha-verify-container > div > div > div > img.cap-absolute"
	RotateV2Inner  = ".captcha-verify-container > div > div > div > img.cap-absolute"
	RotateV2Outer  = ".captcha-verify-container > div > div > div > img:first-child"
	RotateV2Bar    = ".captcha-verify-container > div > div > div.cap-w-full > div.cap-rounded-full"
	RotateV2Drag   = ".secsdk-captcha-drag-icon"
)

// ShapesV1 selectors. The same markers cover IconV1; the two are told apart
// by the image source URL (see Classifier.Identify).
const (
	ShapesV1Unique = "#captcha-verify-image"
	ShapesV1Image  = "#captcha-verify-image"
	ShapesV1Submit = ".verify-captcha-submit-button"
)

// ShapesV2 selectors, likewise shared with IconV2.
const (
	ShapesV2Unique = ".captcha-verify-container > div > div > div > img.cap-absolute"
	ShapesV2Image  = ".captcha-verify-container > div > div > div > img.cap-absolute"
	ShapesV2Submit = ".captcha-verify-container > div > div > div > button.cap-w-full"
)

// Icon variant text prompts and submit buttons.
const (
	IconV1Text   = ".captcha_verify_bar"
	IconV1Submit = ".verify-captcha-submit-button"
	IconV2Text   = ".captcha-verify-container > div > div > span"
	IconV2Submit = ".captcha-verify-container > div > div > div > button.cap-w-full"
)

// Douyin serves its puzzle inside a dedicated iframe; every lookup for that
// variant is scoped to DouyinFrame.
const (
	DouyinFrame  = "#captcha_container > iframe"
	DouyinPuzzle = "#captcha_verify_image"
	DouyinPiece  = "#captcha-verify_img_slide"
	DouyinDrag   = ".captcha-slider-btn"
)
