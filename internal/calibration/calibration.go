package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidCalibration is returned when a required matrix is absent,
	// malformed or singular.
	ErrInvalidCalibration = errors.New("invalid calibration")

	// ErrDegenerateGeometry is returned when the laser plane tilt makes the
	// plane/ray intersection undefined.
	ErrDegenerateGeometry = errors.New("degenerate laser geometry")
)

// DefaultAlpha is the laser plane tilt in degrees used when a calibration
// file does not specify one.
const DefaultAlpha = 30.0

// singularTolerance bounds |det(R)| below which the rotation is rejected.
const singularTolerance = 1e-9

// Context holds the intrinsic and extrinsic calibration for one laser.
// It is treated as immutable once BuildLookup has accepted it.
type Context struct {
	// Camera intrinsics.
	Fx, Fy float64
	Cx, Cy float64

	// LaserCoordinates is laid out as [[u11, u12], [u21, u22]]. Row 0 holds
	// the laser line column at the top (u11) and bottom (u12) of the image
	// and drives the plane interpolation; row 1 is kept so calibration files
	// round-trip.
	LaserCoordinates [2][2]float64
	LaserDepth       float64

	// Alpha is the fixed laser plane tilt in degrees.
	Alpha float64

	// Rotation is the 3x3 camera rotation and Translation the 3-vector
	// camera translation (camera = R*world + T).
	Rotation    *mat.Dense
	Translation *mat.VecDense

	Width, Height int
}

// NewContext builds a Context from the row-major matrices stored in
// calibration files. cameraMatrix is the 3x3 intrinsic matrix and
// laserCoordinates the 2x2 [[u11, u12], [u21, u22]] sample block.
func NewContext(cameraMatrix [][]float64, laserCoordinates [][]float64, laserDepth float64,
	rotation [][]float64, translation []float64, width, height int, alpha float64) (*Context, error) {

	if len(cameraMatrix) < 2 || len(cameraMatrix[0]) < 3 || len(cameraMatrix[1]) < 3 {
		return nil, fmt.Errorf("%w: camera matrix must be 3x3", ErrInvalidCalibration)
	}
	if len(laserCoordinates) != 2 || len(laserCoordinates[0]) < 2 || len(laserCoordinates[1]) < 2 {
		return nil, fmt.Errorf("%w: laser coordinates must be 2x2", ErrInvalidCalibration)
	}
	if len(rotation) != 3 {
		return nil, fmt.Errorf("%w: rotation matrix must be 3x3", ErrInvalidCalibration)
	}
	flat := make([]float64, 0, 9)
	for i, row := range rotation {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: rotation row %d has %d columns", ErrInvalidCalibration, i, len(row))
		}
		flat = append(flat, row...)
	}
	if len(translation) != 3 {
		return nil, fmt.Errorf("%w: translation vector must have 3 elements", ErrInvalidCalibration)
	}

	c := &Context{
		Fx:          cameraMatrix[0][0],
		Fy:          cameraMatrix[1][1],
		Cx:          cameraMatrix[0][2],
		Cy:          cameraMatrix[1][2],
		LaserDepth:  laserDepth,
		Alpha:       alpha,
		Rotation:    mat.NewDense(3, 3, flat),
		Translation: mat.NewVecDense(3, append([]float64(nil), translation...)),
		Width:       width,
		Height:      height,
	}
	c.LaserCoordinates[0] = [2]float64{laserCoordinates[0][0], laserCoordinates[0][1]}
	c.LaserCoordinates[1] = [2]float64{laserCoordinates[1][0], laserCoordinates[1][1]}
	return c, nil
}

// Validate checks that the context can produce a lookup.
func (c *Context) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidCalibration)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidCalibration, c.Width, c.Height)
	}
	if c.Fx == 0 || c.Fy == 0 || !finite(c.Fx, c.Fy, c.Cx, c.Cy) {
		return fmt.Errorf("%w: focal length fx=%g fy=%g", ErrInvalidCalibration, c.Fx, c.Fy)
	}
	if !finite(c.LaserCoordinates[0][0], c.LaserCoordinates[0][1],
		c.LaserCoordinates[1][0], c.LaserCoordinates[1][1]) {
		return fmt.Errorf("%w: laser coordinates are not finite", ErrInvalidCalibration)
	}
	if c.LaserDepth == 0 || !finite(c.LaserDepth) {
		return fmt.Errorf("%w: laser depth %g", ErrInvalidCalibration, c.LaserDepth)
	}
	if c.Rotation == nil {
		return fmt.Errorf("%w: missing rotation matrix", ErrInvalidCalibration)
	}
	if r, cols := c.Rotation.Dims(); r != 3 || cols != 3 {
		return fmt.Errorf("%w: rotation matrix is %dx%d", ErrInvalidCalibration, r, cols)
	}
	if math.Abs(mat.Det(c.Rotation)) < singularTolerance {
		return fmt.Errorf("%w: rotation matrix is singular", ErrInvalidCalibration)
	}
	if c.Translation == nil || c.Translation.Len() != 3 {
		return fmt.Errorf("%w: missing translation vector", ErrInvalidCalibration)
	}

	alpha := c.Alpha * math.Pi / 180.0
	if math.Abs(math.Cos(alpha)) < 1e-12 || math.Abs(math.Sin(alpha)) < 1e-12 {
		return fmt.Errorf("%w: alpha=%g", ErrDegenerateGeometry, c.Alpha)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
