package gaze

import "github.com/teslashibe/go-gaze/pkg/calibration"

// Source names the engine that produced a point.
type Source string

const (
	SourceFaceGaze Source = "facegaze"
	SourceRemote   Source = "remote"
	SourceMock     Source = "mock"
)

// RawPoint is an uncorrected estimate in viewport pixels.
type RawPoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Confidence  float64 `json:"confidence"` // 0-1
	TimestampMs int64   `json:"t"`
	Source      Source  `json:"source"`
}

// CalibratedPoint is a RawPoint after calibration and viewport clamping.
type CalibratedPoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Confidence  float64 `json:"confidence"`
	TimestampMs int64   `json:"t"`
	Source      Source  `json:"source"`
}

// Calibrate applies m to p for viewport vp. A nil model passes the point
// through (clamped to the viewport).
func Calibrate(p RawPoint, m *calibration.Model, vp calibration.Viewport) CalibratedPoint {
	x, y := calibration.Apply(p.X, p.Y, m, vp)
	return CalibratedPoint{
		X:           x,
		Y:           y,
		Confidence:  p.Confidence,
		TimestampMs: p.TimestampMs,
		Source:      p.Source,
	}
}
