package calibration

import "math"

// ApplyAffine applies t to (x, y). A nil transform is the identity.
func ApplyAffine(x, y float64, t *AffineTransform) (float64, float64) {
	if t == nil {
		return x, y
	}
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// ApplyGridResidual adds the interpolated grid offset at (x, y).
//
// The point is normalized by the model's reference size (the viewport when
// the model has none). Offsets are scaled by viewport/reference per axis so a
// grid captured at one window size keeps working after a resize.
func ApplyGridResidual(x, y float64, m *Model, vp Viewport) (float64, float64) {
	if m == nil || !m.Grid.Valid() {
		return x, y
	}

	refW, refH := float64(m.ReferenceWidth), float64(m.ReferenceHeight)
	if refW <= 0 {
		refW = vp.Width
	}
	if refH <= 0 {
		refH = vp.Height
	}
	if refW <= 0 || refH <= 0 {
		return x, y
	}

	nx, ny := x/refW, y/refH
	dx := Bilinear(m.Grid.DX, m.Grid.Size, nx, ny)
	dy := Bilinear(m.Grid.DY, m.Grid.Size, nx, ny)

	sx, sy := 1.0, 1.0
	if vp.Width > 0 {
		sx = vp.Width / refW
	}
	if vp.Height > 0 {
		sy = vp.Height / refH
	}

	return x + dx*sx, y + dy*sy
}

// Bilinear samples a row-major size x size lattice at normalized (nx, ny).
// Coordinates outside [0,1] are clamped to the lattice edge. At an exact
// lattice node the stored value is returned unchanged.
func Bilinear(values []float64, size int, nx, ny float64) float64 {
	if size < 2 || len(values) < size*size {
		return 0
	}

	last := float64(size - 1)
	gx := clamp(nx*last, 0, last)
	gy := clamp(ny*last, 0, last)

	x0 := int(math.Floor(gx))
	y0 := int(math.Floor(gy))
	x1 := min(size-1, x0+1)
	y1 := min(size-1, y0+1)
	tx := gx - float64(x0)
	ty := gy - float64(y0)

	v00 := values[y0*size+x0]
	v10 := values[y0*size+x1]
	v01 := values[y1*size+x0]
	v11 := values[y1*size+x1]

	if tx == 0 && ty == 0 {
		return v00
	}

	top := v00 + (v10-v00)*tx
	bottom := v01 + (v11-v01)*tx
	return top + (bottom-top)*ty
}

// Apply runs the affine transform, then the grid residual, then clamps to
// the viewport. A gaze estimate never points off-screen. Axes with unknown
// viewport size are left unclamped.
func Apply(x, y float64, m *Model, vp Viewport) (float64, float64) {
	if m != nil {
		x, y = ApplyAffine(x, y, m.Transform)
		x, y = ApplyGridResidual(x, y, m, vp)
	}
	if vp.Width > 0 {
		x = clamp(x, 0, vp.Width)
	}
	if vp.Height > 0 {
		y = clamp(y, 0, vp.Height)
	}
	return x, y
}

// clamp limits value to [lo, hi]. NaN collapses to lo.
func clamp(value, lo, hi float64) float64 {
	if math.IsNaN(value) || value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
