// Package calibration converts raw gaze estimates into on-screen coordinates.
//
// A Model is an affine transform plus an optional residual grid captured at
// a reference viewport size. Models are immutable once published: stores
// swap whole models by pointer, so a frame being transformed always sees a
// complete model.
package calibration

import (
	"fmt"
	"time"
)

// AffineTransform maps (x, y) to (A*x + B*y + C, D*x + E*y + F).
type AffineTransform struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
	D float64 `json:"d"`
	E float64 `json:"e"`
	F float64 `json:"f"`
}

// IdentityTransform returns the transform that leaves points unchanged.
func IdentityTransform() AffineTransform {
	return AffineTransform{A: 1, E: 1}
}

// ResidualGrid is a row-major Size x Size lattice of per-axis offsets over
// normalized [0,1]x[0,1] screen space. Offsets are in reference pixels.
type ResidualGrid struct {
	Size int       `json:"size"`
	DX   []float64 `json:"dx"`
	DY   []float64 `json:"dy"`
}

// Valid reports whether the grid can be interpolated.
// Grids with Size < 2 or mismatched lengths are treated as absent.
func (g *ResidualGrid) Valid() bool {
	if g == nil || g.Size < 2 {
		return false
	}
	n := g.Size * g.Size
	return len(g.DX) == n && len(g.DY) == n
}

// Model is a calibration snapshot.
type Model struct {
	ID              string           `json:"id,omitempty"`
	Transform       *AffineTransform `json:"transform,omitempty"`
	Grid            *ResidualGrid    `json:"grid,omitempty"`
	ReferenceWidth  int              `json:"reference_width"`
	ReferenceHeight int              `json:"reference_height"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Validate checks structural invariants before a model is stored.
func (m *Model) Validate() error {
	if m == nil {
		return ErrNoModel
	}
	if m.Grid != nil && !m.Grid.Valid() {
		return fmt.Errorf("%w: size=%d dx=%d dy=%d", ErrInvalidGrid, m.Grid.Size, len(m.Grid.DX), len(m.Grid.DY))
	}
	if m.ReferenceWidth < 0 || m.ReferenceHeight < 0 {
		return fmt.Errorf("calibration: negative reference size %dx%d", m.ReferenceWidth, m.ReferenceHeight)
	}
	return nil
}

// Viewport is the current drawable area in pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Known reports whether both dimensions are positive.
func (v Viewport) Known() bool {
	return v.Width > 0 && v.Height > 0
}
