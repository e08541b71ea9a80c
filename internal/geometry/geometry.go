// Package geometry converts solved captcha answers (angles, proportions)
// into pixel drag distances. Everything here is pure and stateless so it can
// be exercised without a browser.
package geometry

// PuzzleSlideDistance maps a solved slide proportion onto the puzzle track.
// A proportion of 0 yields 0 px, a proportion of 1 yields the full track
// width, linear in between.
func PuzzleSlideDistance(proportion, trackWidth float64) float64 {
	return proportion * trackWidth
}

// RotateSlideDistance maps a rotation angle in degrees onto the linear travel
// of a slider handle. The handle's own width reduces the usable travel range:
// at 360 degrees the handle sits flush against the far end of the track.
func RotateSlideDistance(angle, trackWidth, handleWidth float64) float64 {
	return (trackWidth - handleWidth) * angle / 360.0
}
