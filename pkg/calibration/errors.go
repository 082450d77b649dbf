package calibration

import "errors"

var (
	// ErrNoModel is returned when a model is required but none exists.
	ErrNoModel = errors.New("calibration: no model")

	// ErrInvalidGrid is returned for grids that violate the size invariants.
	ErrInvalidGrid = errors.New("calibration: invalid residual grid")

	// ErrTooFewSamples is returned when fitting with fewer than 3 samples.
	ErrTooFewSamples = errors.New("calibration: need at least 3 samples")

	// ErrDegenerate is returned when samples do not constrain an affine fit.
	ErrDegenerate = errors.New("calibration: samples are degenerate")
)
