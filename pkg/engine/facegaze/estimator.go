package facegaze

import "math"

// Point is a landmark in frame pixels.
type Point struct {
	X, Y float64
}

// Face is one YuNet detection in frame pixels.
type Face struct {
	X, Y, W, H float64 // Bounding box, top-left origin
	Landmarks  [5]Point // Right eye, left eye, nose tip, right mouth, left mouth
	Score      float64
}

// Area returns the area of the bounding box
func (f Face) Area() float64 {
	return f.W * f.H
}

// SelectBest picks the face to track from multiple detections.
// Priority: score * 0.7 + relative area * 0.3
func SelectBest(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}
	if len(faces) == 1 {
		return &faces[0]
	}

	maxArea := 0.0
	for _, f := range faces {
		maxArea = math.Max(maxArea, f.Area())
	}
	if maxArea == 0 {
		maxArea = 1
	}

	bestScore := -1.0
	var best *Face
	for i := range faces {
		score := faces[i].Score*0.7 + (faces[i].Area()/maxArea)*0.3
		if score > bestScore {
			bestScore = score
			best = &faces[i]
		}
	}
	return best
}

// HeadPose returns the nose offset from the eye midpoint in the eye-line
// frame, in units of inter-eye distance. Positive yaw is toward the
// subject's left eye, positive pitch is downward. Roll is cancelled.
func HeadPose(f Face) (yaw, pitch float64, ok bool) {
	re, le, nose := f.Landmarks[0], f.Landmarks[1], f.Landmarks[2]

	dx, dy := le.X-re.X, le.Y-re.Y
	dist := math.Hypot(dx, dy)
	if dist < 1e-6 {
		return 0, 0, false
	}
	ux, uy := dx/dist, dy/dist

	nx := nose.X - (re.X+le.X)/2
	ny := nose.Y - (re.Y+le.Y)/2

	yaw = (nx*ux + ny*uy) / dist
	pitch = (ny*ux - nx*uy) / dist
	return yaw, pitch, true
}

// EstimatorOptions tunes the head-pose to screen mapping.
type EstimatorOptions struct {
	GainX         float64 // Screen widths per unit of yaw
	GainY         float64 // Screen heights per unit of pitch
	PitchBaseline float64 // Pitch when looking at the screen center
	Smoothing     float64 // EMA factor in (0, 1]; 1 disables smoothing
	Mirror        bool    // Camera faces the user
}

// DefaultEstimatorOptions returns values tuned for a laptop webcam above
// the screen.
func DefaultEstimatorOptions() EstimatorOptions {
	return EstimatorOptions{
		GainX:         2.5,
		GainY:         3.0,
		PitchBaseline: 0.55,
		Smoothing:     0.35,
		Mirror:        true,
	}
}

// Estimator turns faces into smoothed screen points. Not safe for
// concurrent use.
type Estimator struct {
	opts EstimatorOptions
	x, y float64
	has  bool
}

// NewEstimator creates an estimator.
func NewEstimator(opts EstimatorOptions) *Estimator {
	if opts.Smoothing <= 0 || opts.Smoothing > 1 {
		opts.Smoothing = 1
	}
	return &Estimator{opts: opts}
}

// SetMirror flips horizontal mapping for user-facing cameras.
func (e *Estimator) SetMirror(mirror bool) {
	e.opts.Mirror = mirror
	e.Reset()
}

// Estimate maps f onto a screenW x screenH screen. Points are not clamped.
func (e *Estimator) Estimate(f Face, screenW, screenH float64) (float64, float64, bool) {
	yaw, pitch, ok := HeadPose(f)
	if !ok {
		return 0, 0, false
	}
	if e.opts.Mirror {
		yaw = -yaw
	}

	x := screenW/2 + yaw*e.opts.GainX*screenW
	y := screenH/2 + (pitch-e.opts.PitchBaseline)*e.opts.GainY*screenH

	if e.has {
		a := e.opts.Smoothing
		x = e.x + a*(x-e.x)
		y = e.y + a*(y-e.y)
	}
	e.x, e.y, e.has = x, y, true
	return x, y, true
}

// Reset forgets the smoothing state, e.g. after the face was lost.
func (e *Estimator) Reset() {
	e.has = false
}
