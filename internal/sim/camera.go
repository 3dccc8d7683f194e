package sim

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/camera"
)

var _ camera.Camera = (*Camera)(nil)

// Camera renders what a camera would see of a textured cylinder on the
// turntable: a dim ambient scene, plus a bright red stripe for every lit
// laser. The stripe position follows the turntable angle so successive
// frames triangulate to different points.
type Camera struct {
	rig           *Rig
	width, height int

	mu        sync.Mutex
	connected bool
	captures  int
	failAfter int
	connErr   error
}

// NewCamera returns a camera observing rig.
func NewCamera(rig *Rig, width, height int) *Camera {
	return &Camera{rig: rig, width: width, height: height, failAfter: -1}
}

// FailAfter makes every capture after the first n fail. A negative n
// disables the fault.
func (c *Camera) FailAfter(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAfter = n
}

// FailConnect makes Connect return err until cleared with nil.
func (c *Camera) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connErr = err
}

func (c *Camera) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connErr != nil {
		return fmt.Errorf("%w: %v", camera.ErrCapture, c.connErr)
	}
	c.connected = true
	return nil
}

func (c *Camera) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// Connected reports whether Connect succeeded and Disconnect was not called.
func (c *Camera) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Captures returns the number of successful captures.
func (c *Camera) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

func (c *Camera) CaptureImage(flush bool, flushCount int) (image.Image, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, camera.ErrNotConnected
	}
	if c.failAfter >= 0 && c.captures >= c.failAfter {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: simulated frame loss", camera.ErrCapture)
	}
	c.captures++
	c.mu.Unlock()

	return c.render(), nil
}

func (c *Camera) render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	theta := c.rig.angle() * math.Pi / 180

	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			// Low-contrast checker texture so ambient colour varies.
			v := uint8(40)
			if (x/16+y/16)%2 == 0 {
				v = 60
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v + 10, B: v + 20, A: 255})
		}
	}

	for _, side := range []calibration.Side{calibration.LeftLaser, calibration.RightLaser} {
		if !c.rig.lit(side) {
			continue
		}
		offset := -0.12
		if side == calibration.RightLaser {
			offset = 0.12
		}
		for y := 0; y < c.height; y++ {
			// Surface bulge varies with height and turntable angle.
			bulge := 0.05 * math.Sin(theta+float64(y)/float64(c.height)*math.Pi)
			centre := float64(c.width) * (0.5 + offset + bulge)
			for dx := -1; dx <= 1; dx++ {
				x := int(math.Round(centre)) + dx
				if x < 0 || x >= c.width {
					continue
				}
				img.SetRGBA(x, y, color.RGBA{R: 250, G: 40, B: 40, A: 255})
			}
		}
	}
	return img
}

// Calibration returns a plausible calibration for a width x height camera:
// 1000 px focal length at 640 px width, laser plane crossing the optical
// axis 300 mm away at 30 degrees. The world frame has z up from the
// turntable surface, 100 mm below the optical axis, and the turntable axis
// 300 mm in front of the camera.
func Calibration(width, height int) (*calibration.Context, error) {
	fx := 1000.0 * float64(width) / 640
	cx, cy := float64(width)/2, float64(height)/2
	return calibration.NewContext(
		[][]float64{{fx, 0, cx}, {0, fx, cy}, {0, 0, 1}},
		[][]float64{{cx, cx}, {cx, cx}},
		300,
		[][]float64{{1, 0, 0}, {0, 0, -1}, {0, 1, 0}},
		[]float64{0, 100, 300},
		width, height, calibration.DefaultAlpha,
	)
}
