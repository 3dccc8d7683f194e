package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// WorldLookup maps every pixel to the world-space point where the camera ray
// through that pixel meets the laser plane, for zero turntable rotation.
// X, Y and Z are Height x Width matrices indexed (row, column). Pixels whose
// ray never meets the plane hold NaN. A lookup is read-only once built and is
// safe for concurrent readers.
type WorldLookup struct {
	X, Y, Z *mat.Dense

	width, height int
}

// NewWorldLookup wraps precomputed coordinate matrices, which must share the
// same shape.
func NewWorldLookup(x, y, z *mat.Dense) (*WorldLookup, error) {
	if x == nil || y == nil || z == nil {
		return nil, fmt.Errorf("%w: lookup matrices must not be nil", ErrInvalidCalibration)
	}
	h, w := x.Dims()
	if yh, yw := y.Dims(); yh != h || yw != w {
		return nil, fmt.Errorf("%w: lookup Y is %dx%d, want %dx%d", ErrInvalidCalibration, yh, yw, h, w)
	}
	if zh, zw := z.Dims(); zh != h || zw != w {
		return nil, fmt.Errorf("%w: lookup Z is %dx%d, want %dx%d", ErrInvalidCalibration, zh, zw, h, w)
	}
	return &WorldLookup{X: x, Y: y, Z: z, width: w, height: h}, nil
}

// Dims returns the image resolution the lookup was built for.
func (w *WorldLookup) Dims() (width, height int) {
	return w.width, w.height
}

// At returns the world point for pixel (row, col). ok is false when the pixel
// is out of range or has no plane intersection.
func (w *WorldLookup) At(row, col int) (x, y, z float64, ok bool) {
	if row < 0 || col < 0 || row >= w.height || col >= w.width {
		return 0, 0, 0, false
	}
	x, y, z = w.X.At(row, col), w.Y.At(row, col), w.Z.At(row, col)
	if !finite(x, y, z) {
		return 0, 0, 0, false
	}
	return x, y, z, true
}

// BuildLookup computes the WorldLookup for c. It is an O(width*height)
// one-time computation performed when calibration or resolution changes.
func BuildLookup(c *Context) (*WorldLookup, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	width, height := c.Width, c.Height
	tanAlpha := math.Tan(c.Alpha * math.Pi / 180.0)
	u11 := c.LaserCoordinates[0][0]
	u12 := c.LaserCoordinates[0][1]

	// world = R^T*camera - R^T*T
	var rt mat.Dense
	rt.CloneFrom(c.Rotation.T())
	var rtT mat.VecDense
	rtT.MulVec(&rt, c.Translation)

	r00, r01, r02 := rt.At(0, 0), rt.At(0, 1), rt.At(0, 2)
	r10, r11, r12 := rt.At(1, 0), rt.At(1, 1), rt.At(1, 2)
	r20, r21, r22 := rt.At(2, 0), rt.At(2, 1), rt.At(2, 2)
	t0, t1, t2 := rtT.AtVec(0), rtT.AtVec(1), rtT.AtVec(2)

	// Per-column ray slope and plane denominator.
	a := make([]float64, width)
	denom := make([]float64, width)
	for col := 0; col < width; col++ {
		a[col] = (float64(col) - c.Cx) / c.Fx
		denom[col] = 1 + a[col]/tanAlpha
	}

	xs := make([]float64, width*height)
	ys := make([]float64, width*height)
	zs := make([]float64, width*height)

	slope := (u12 - u11) / float64(height)
	for row := 0; row < height; row++ {
		r := float64(row)
		b := (r - c.Cy) / c.Fy
		zl := c.LaserDepth * (1 + (u11-c.Cx+slope*r)/(c.Fx*tanAlpha))

		base := row * width
		for col := 0; col < width; col++ {
			i := base + col
			if math.Abs(denom[col]) < 1e-12 {
				xs[i], ys[i], zs[i] = math.NaN(), math.NaN(), math.NaN()
				continue
			}
			zc := zl / denom[col]
			xc := a[col] * zc
			yc := b * zc

			xs[i] = r00*xc + r01*yc + r02*zc - t0
			ys[i] = r10*xc + r11*yc + r12*zc - t1
			zs[i] = r20*xc + r21*yc + r22*zc - t2
		}
	}

	return &WorldLookup{
		X:      mat.NewDense(height, width, xs),
		Y:      mat.NewDense(height, width, ys),
		Z:      mat.NewDense(height, width, zs),
		width:  width,
		height: height,
	}, nil
}

// Side identifies one of the scanner's two line lasers.
type Side int

const (
	LeftLaser Side = iota
	RightLaser
)

func (s Side) String() string {
	switch s {
	case LeftLaser:
		return "left"
	case RightLaser:
		return "right"
	default:
		return "unknown"
	}
}

// LookupSet holds the lookup for each laser. Right may be nil when both lasers
// share one calibrated plane, in which case For falls back to Left.
type LookupSet struct {
	Left  *WorldLookup
	Right *WorldLookup
}

// For returns the lookup to use for the given laser side.
func (s LookupSet) For(side Side) *WorldLookup {
	if side == RightLaser && s.Right != nil {
		return s.Right
	}
	return s.Left
}
