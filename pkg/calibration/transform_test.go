package calibration

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyAffine_NilIsIdentity(t *testing.T) {
	x, y := ApplyAffine(12.5, -3, nil)
	if x != 12.5 || y != -3 {
		t.Errorf("Expected (12.5, -3), got (%v, %v)", x, y)
	}
}

func TestApplyAffine(t *testing.T) {
	tr := &AffineTransform{A: 2, B: 0.5, C: 10, D: -1, E: 3, F: -4}
	x, y := ApplyAffine(4, 2, tr)
	if !approx(x, 2*4+0.5*2+10) || !approx(y, -4+6-4) {
		t.Errorf("Expected (19, -2), got (%v, %v)", x, y)
	}

	id := IdentityTransform()
	x, y = ApplyAffine(7, 9, &id)
	if x != 7 || y != 9 {
		t.Errorf("Expected identity transform to keep (7, 9), got (%v, %v)", x, y)
	}
}

func TestApplyGridResidual_NoGrid(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}

	x, y := ApplyGridResidual(100, 200, nil, vp)
	if x != 100 || y != 200 {
		t.Errorf("Expected nil model passthrough, got (%v, %v)", x, y)
	}

	m := &Model{ReferenceWidth: 800, ReferenceHeight: 600}
	x, y = ApplyGridResidual(100, 200, m, vp)
	if x != 100 || y != 200 {
		t.Errorf("Expected no-grid passthrough, got (%v, %v)", x, y)
	}

	// Size < 2 counts as absent
	m.Grid = &ResidualGrid{Size: 1, DX: []float64{50}, DY: []float64{50}}
	x, y = ApplyGridResidual(100, 200, m, vp)
	if x != 100 || y != 200 {
		t.Errorf("Expected size-1 grid passthrough, got (%v, %v)", x, y)
	}

	// Length mismatch counts as absent
	m.Grid = &ResidualGrid{Size: 2, DX: []float64{1, 2, 3}, DY: []float64{1, 2, 3, 4}}
	x, y = ApplyGridResidual(100, 200, m, vp)
	if x != 100 || y != 200 {
		t.Errorf("Expected malformed grid passthrough, got (%v, %v)", x, y)
	}
}

func TestNilCalibrationIsIdentity(t *testing.T) {
	vp := Viewport{Width: 1920, Height: 1080}
	for _, p := range [][2]float64{{0, 0}, {960, 540}, {1919.5, 3}, {12, 1079}} {
		x, y := ApplyAffine(p[0], p[1], nil)
		x, y = ApplyGridResidual(x, y, nil, vp)
		if x != p[0] || y != p[1] {
			t.Errorf("Expected %v unchanged, got (%v, %v)", p, x, y)
		}
	}
}

func TestBilinear_ExactNode(t *testing.T) {
	dx := []float64{0, 10, 0, 10}

	if got := Bilinear(dx, 2, 1, 0); got != 10 {
		t.Errorf("Expected 10 at node (1,0), got %v", got)
	}
	if got := Bilinear(dx, 2, 0, 0); got != 0 {
		t.Errorf("Expected 0 at node (0,0), got %v", got)
	}
	if got := Bilinear(dx, 2, 1, 1); got != 10 {
		t.Errorf("Expected 10 at node (1,1), got %v", got)
	}

	// 3x3 interior node
	grid := []float64{
		1, 2, 3,
		4, 5.123456789, 6,
		7, 8, 9,
	}
	if got := Bilinear(grid, 3, 0.5, 0.5); got != 5.123456789 {
		t.Errorf("Expected exact centre node value, got %v", got)
	}
}

func TestBilinear_Interpolates(t *testing.T) {
	dx := []float64{0, 10, 20, 30}
	// Halfway along x on the top row
	if got := Bilinear(dx, 2, 0.5, 0); !approx(got, 5) {
		t.Errorf("Expected 5, got %v", got)
	}
	// Centre averages all four corners
	if got := Bilinear(dx, 2, 0.5, 0.5); !approx(got, 15) {
		t.Errorf("Expected 15, got %v", got)
	}
	// Out of range clamps to the edge
	if got := Bilinear(dx, 2, 2, -1); got != 10 {
		t.Errorf("Expected clamped 10, got %v", got)
	}
	// NaN never indexes out of range
	if got := Bilinear(dx, 2, math.NaN(), math.NaN()); got != 0 {
		t.Errorf("Expected NaN to clamp to origin node, got %v", got)
	}
}

func TestApplyGridResidual_ScalesWithViewport(t *testing.T) {
	m := &Model{
		ReferenceWidth:  1000,
		ReferenceHeight: 500,
		Grid: &ResidualGrid{
			Size: 2,
			DX:   []float64{10, 10, 10, 10},
			DY:   []float64{-4, -4, -4, -4},
		},
	}

	// Same size as reference: raw offsets
	x, y := ApplyGridResidual(100, 100, m, Viewport{Width: 1000, Height: 500})
	if !approx(x, 110) || !approx(y, 96) {
		t.Errorf("Expected (110, 96), got (%v, %v)", x, y)
	}

	// Window doubled in width, halved in height
	x, y = ApplyGridResidual(100, 100, m, Viewport{Width: 2000, Height: 250})
	if !approx(x, 120) || !approx(y, 98) {
		t.Errorf("Expected (120, 98), got (%v, %v)", x, y)
	}
}

func TestApplyGridResidual_FallsBackToViewport(t *testing.T) {
	m := &Model{
		Grid: &ResidualGrid{Size: 2, DX: []float64{0, 8, 0, 8}, DY: []float64{0, 0, 0, 0}},
	}
	x, _ := ApplyGridResidual(400, 0, m, Viewport{Width: 400, Height: 300})
	if !approx(x, 408) {
		t.Errorf("Expected right-edge offset 8 using viewport as reference, got %v", x)
	}
}

func TestApply_Clamps(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}
	m := &Model{
		Transform:       &AffineTransform{A: 1, C: 500, E: 1, F: -900},
		ReferenceWidth:  800,
		ReferenceHeight: 600,
	}

	x, y := Apply(600, 100, m, vp)
	if x != 800 || y != 0 {
		t.Errorf("Expected clamp to (800, 0), got (%v, %v)", x, y)
	}

	m.Transform = nil
	m.Grid = &ResidualGrid{Size: 2, DX: []float64{-1e6, -1e6, -1e6, -1e6}, DY: []float64{1e6, 1e6, 1e6, 1e6}}
	x, y = Apply(10, 10, m, vp)
	if x != 0 || y != 600 {
		t.Errorf("Expected grid push clamped to (0, 600), got (%v, %v)", x, y)
	}

	x, y = Apply(math.NaN(), math.Inf(1), nil, vp)
	if x != 0 || y != 600 {
		t.Errorf("Expected non-finite input clamped to (0, 600), got (%v, %v)", x, y)
	}
}

func TestApply_CenterAveragesCorners(t *testing.T) {
	vp := Viewport{Width: 1280, Height: 720}
	id := IdentityTransform()
	m := &Model{
		Transform:       &id,
		ReferenceWidth:  1280,
		ReferenceHeight: 720,
		Grid: &ResidualGrid{
			Size: 2,
			DX:   []float64{5, -5, 5, -5},
			DY:   []float64{0, 0, 0, 0},
		},
	}

	x, y := Apply(640, 360, m, vp)
	if !approx(x, 640) || y != 360 {
		t.Errorf("Expected centre unchanged at (640, 360), got (%v, %v)", x, y)
	}
}
