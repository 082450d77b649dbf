package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Sample pairs a raw engine estimate with the on-screen target the user
// was fixating when it was recorded.
type Sample struct {
	RawX    float64 `json:"raw_x"`
	RawY    float64 `json:"raw_y"`
	TargetX float64 `json:"target_x"`
	TargetY float64 `json:"target_y"`
}

// FitOptions tunes Fit.
type FitOptions struct {
	// GridSize is the residual lattice size. Values below 2 skip the grid.
	GridSize int

	// Falloff is the inverse-distance power used when spreading residuals
	// onto lattice nodes. Higher values keep corrections more local.
	Falloff float64
}

// DefaultFitOptions returns a 5x5 grid with squared-distance falloff.
func DefaultFitOptions() FitOptions {
	return FitOptions{GridSize: 5, Falloff: 2}
}

// Fit builds a model from calibration samples captured at viewport vp.
// The affine part is a least-squares fit; whatever it cannot explain is
// spread onto the residual grid.
func Fit(samples []Sample, vp Viewport, opts FitOptions) (*Model, error) {
	if len(samples) < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSamples, len(samples))
	}
	if !vp.Known() {
		return nil, fmt.Errorf("calibration: viewport %vx%v is not usable", vp.Width, vp.Height)
	}

	t, err := fitAffine(samples)
	if err != nil {
		return nil, err
	}

	m := &Model{
		ID:              uuid.New().String(),
		Transform:       &t,
		ReferenceWidth:  int(math.Round(vp.Width)),
		ReferenceHeight: int(math.Round(vp.Height)),
		CreatedAt:       time.Now().UTC(),
	}

	if opts.GridSize >= 2 {
		m.Grid = fitResidualGrid(samples, t, vp, opts)
	}

	return m, nil
}

// fitAffine solves the overdetermined system
// [x', y'] = [a b c; d e f] * [x, y, 1] with a QR decomposition.
func fitAffine(samples []Sample) (AffineTransform, error) {
	n := len(samples)
	A := mat.NewDense(n*2, 6, nil)
	b := mat.NewVecDense(n*2, nil)

	for i, s := range samples {
		A.Set(i*2, 0, s.RawX)
		A.Set(i*2, 1, s.RawY)
		A.Set(i*2, 2, 1)
		b.SetVec(i*2, s.TargetX)

		A.Set(i*2+1, 3, s.RawX)
		A.Set(i*2+1, 4, s.RawY)
		A.Set(i*2+1, 5, 1)
		b.SetVec(i*2+1, s.TargetY)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, b); err != nil {
		return AffineTransform{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	t := AffineTransform{
		A: params.AtVec(0),
		B: params.AtVec(1),
		C: params.AtVec(2),
		D: params.AtVec(3),
		E: params.AtVec(4),
		F: params.AtVec(5),
	}
	for _, v := range []float64{t.A, t.B, t.C, t.D, t.E, t.F} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return AffineTransform{}, ErrDegenerate
		}
	}
	return t, nil
}

// fitResidualGrid interpolates post-affine residuals onto lattice nodes by
// inverse-distance weighting in normalized space.
func fitResidualGrid(samples []Sample, t AffineTransform, vp Viewport, opts FitOptions) *ResidualGrid {
	size := opts.GridSize
	power := opts.Falloff
	if power <= 0 {
		power = 2
	}

	type residual struct{ nx, ny, rx, ry float64 }
	res := make([]residual, len(samples))
	for i, s := range samples {
		ax, ay := ApplyAffine(s.RawX, s.RawY, &t)
		res[i] = residual{
			nx: ax / vp.Width,
			ny: ay / vp.Height,
			rx: s.TargetX - ax,
			ry: s.TargetY - ay,
		}
	}

	g := &ResidualGrid{
		Size: size,
		DX:   make([]float64, size*size),
		DY:   make([]float64, size*size),
	}

	last := float64(size - 1)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			px, py := float64(col)/last, float64(row)/last

			var wsum, dx, dy float64
			exact := -1
			for i, r := range res {
				d := math.Hypot(r.nx-px, r.ny-py)
				if d < 1e-9 {
					exact = i
					break
				}
				w := 1 / math.Pow(d, power)
				wsum += w
				dx += w * r.rx
				dy += w * r.ry
			}

			idx := row*size + col
			switch {
			case exact >= 0:
				g.DX[idx] = res[exact].rx
				g.DY[idx] = res[exact].ry
			case wsum > 0:
				g.DX[idx] = dx / wsum
				g.DY[idx] = dy / wsum
			}
		}
	}

	return g
}
