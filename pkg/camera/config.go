// Package camera holds the capture constraints requested from the camera
// when the gaze engine acquires a stream. Constraints are "ideal" values:
// the device may settle on something close but not identical.
package camera

import "fmt"

// Facing modes.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// Constraints describes the stream requested from the capture device.
type Constraints struct {
	Width     int    `json:"width"`      // Ideal frame width in pixels
	Height    int    `json:"height"`     // Ideal frame height in pixels
	FrameRate int    `json:"frame_rate"` // Ideal frames per second
	Facing    string `json:"facing"`     // "user" or "environment"
}

// Limits accepted by Validate.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFrameRate = 120
)

// DefaultConstraints returns the constraints used by the gaze engine.
// 640x480 keeps face-landmark inference cheap while leaving enough eye detail.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:     640,
		Height:    480,
		FrameRate: 30,
		Facing:    FacingUser,
	}
}

// AspectRatio returns width/height, or 0 when height is unset.
func (c Constraints) AspectRatio() float64 {
	if c.Height == 0 {
		return 0
	}
	return float64(c.Width) / float64(c.Height)
}

// String implements fmt.Stringer.
func (c Constraints) String() string {
	return fmt.Sprintf("%dx%d@%d(%s)", c.Width, c.Height, c.FrameRate, c.Facing)
}

// Validate checks that the constraints are within range.
// Returns a list of validation errors, or nil if valid.
func (c *Constraints) Validate() []string {
	var errors []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}
	if c.FrameRate < 1 || c.FrameRate > MaxFrameRate {
		errors = append(errors, fmt.Sprintf("frame_rate must be between 1 and %d", MaxFrameRate))
	}
	if c.Facing != "" && c.Facing != FacingUser && c.Facing != FacingEnvironment {
		errors = append(errors, "facing must be user or environment")
	}

	return errors
}
