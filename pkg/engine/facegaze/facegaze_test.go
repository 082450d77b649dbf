package facegaze

import (
	"context"
	"math"
	"testing"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// frontal is a face looking straight at a user-facing camera with the nose
// at the pitch baseline.
func frontal() Face {
	return Face{
		X: 270, Y: 180, W: 100, H: 120, Score: 0.9,
		Landmarks: [5]Point{
			{X: 300, Y: 220}, // right eye
			{X: 340, Y: 220}, // left eye
			{X: 320, Y: 242}, // nose
			{X: 305, Y: 260},
			{X: 335, Y: 260},
		},
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHeadPose_Frontal(t *testing.T) {
	yaw, pitch, ok := HeadPose(frontal())
	if !ok {
		t.Fatal("HeadPose failed")
	}
	if !approx(yaw, 0) {
		t.Errorf("yaw = %v, want 0", yaw)
	}
	if !approx(pitch, 0.55) {
		t.Errorf("pitch = %v, want 0.55", pitch)
	}
}

func TestHeadPose_CancelsRoll(t *testing.T) {
	f := frontal()
	// Rotate every landmark 30 degrees around the eye midpoint.
	cx, cy := 320.0, 220.0
	sin, cos := math.Sincos(math.Pi / 6)
	for i, p := range f.Landmarks {
		dx, dy := p.X-cx, p.Y-cy
		f.Landmarks[i] = Point{X: cx + dx*cos - dy*sin, Y: cy + dx*sin + dy*cos}
	}

	yaw, pitch, ok := HeadPose(f)
	if !ok {
		t.Fatal("HeadPose failed")
	}
	if math.Abs(yaw) > 1e-9 || math.Abs(pitch-0.55) > 1e-9 {
		t.Errorf("rolled pose = (%v, %v), want (0, 0.55)", yaw, pitch)
	}
}

func TestHeadPose_Degenerate(t *testing.T) {
	f := Face{}
	if _, _, ok := HeadPose(f); ok {
		t.Error("coincident eyes should fail")
	}
}

func TestEstimator_CenterAndMirror(t *testing.T) {
	opts := DefaultEstimatorOptions()
	opts.Smoothing = 1

	e := NewEstimator(opts)
	x, y, ok := e.Estimate(frontal(), 1920, 1080)
	if !ok || !approx(x, 960) || !approx(y, 540) {
		t.Errorf("frontal = (%v, %v), want screen center", x, y)
	}

	// Nose toward the subject's left eye.
	turned := frontal()
	turned.Landmarks[2].X += 8

	x, _, _ = e.Estimate(turned, 1920, 1080)
	if x >= 960 {
		t.Errorf("mirrored x = %v, want left of center", x)
	}

	e.SetMirror(false)
	x, _, _ = e.Estimate(turned, 1920, 1080)
	if x <= 960 {
		t.Errorf("unmirrored x = %v, want right of center", x)
	}
}

func TestEstimator_Smoothing(t *testing.T) {
	opts := DefaultEstimatorOptions()
	opts.Smoothing = 0.5
	opts.Mirror = false
	e := NewEstimator(opts)

	e.Estimate(frontal(), 1000, 1000)

	turned := frontal()
	turned.Landmarks[2].X += 4 // yaw 0.1 -> 250px right of center
	x, _, _ := e.Estimate(turned, 1000, 1000)
	if !approx(x, 500+125) {
		t.Errorf("smoothed x = %v, want 625", x)
	}

	e.Reset()
	x, _, _ = e.Estimate(turned, 1000, 1000)
	if !approx(x, 750) {
		t.Errorf("after reset x = %v, want 750", x)
	}
}

func TestSelectBest(t *testing.T) {
	if SelectBest(nil) != nil {
		t.Error("no faces should select nil")
	}

	faces := []Face{
		{W: 10, H: 10, Score: 0.95},
		{W: 100, H: 100, Score: 0.85},
	}
	best := SelectBest(faces)
	if best != &faces[1] {
		t.Errorf("expected the large face, got %+v", best)
	}
}

func TestLoader_MissingModel(t *testing.T) {
	cfg := gaze.DefaultConfig()
	cfg.ModelBasePath = t.TempDir()

	load := Loader(cfg, gaze.NewVideoSink(gaze.SinkID), log.Discard())
	e, err := load(context.Background())
	if err == nil || e != nil {
		t.Errorf("Loader = %v, %v; want error", e, err)
	}
}

func TestNewDetector_MissingModel(t *testing.T) {
	if _, err := NewDetector(DefaultDetectorConfig("/nonexistent/model.onnx")); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestEngine_BeginWithoutModel(t *testing.T) {
	e := New(gaze.NewVideoSink(gaze.SinkID), DefaultEstimatorOptions(), log.Discard())
	e.Params().Set(gaze.ParamModelBasePath, t.TempDir())

	if err := e.Begin(context.Background()); err == nil {
		t.Fatal("Begin should fail without a model")
	}
	if err := e.Pause(); err == nil {
		t.Error("Pause should fail when not running")
	}
	if err := e.End(); err != nil {
		t.Errorf("End on idle engine = %v", err)
	}
	if _, ok := e.Preview(); ok {
		t.Error("no preview expected")
	}
}
