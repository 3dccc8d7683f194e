//go:build gocv

package camera

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// VideoCapture reads frames from a V4L2/UVC device through OpenCV.
type VideoCapture struct {
	device        int
	width, height int

	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// NewVideoCapture returns a camera for device. Zero width or height keeps
// the driver default resolution.
func NewVideoCapture(device, width, height int) *VideoCapture {
	return &VideoCapture{device: device, width: width, height: height}
}

func (v *VideoCapture) Connect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cap != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(v.device)
	if err != nil {
		return fmt.Errorf("%w: open device %d: %v", ErrCapture, v.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: device %d did not open", ErrCapture, v.device)
	}
	if v.width > 0 && v.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(v.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(v.height))
	}
	v.cap = vc
	v.mat = gocv.NewMat()
	return nil
}

func (v *VideoCapture) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cap == nil {
		return nil
	}
	v.mat.Close()
	err := v.cap.Close()
	v.cap = nil
	if err != nil {
		return fmt.Errorf("%w: close device %d: %v", ErrCapture, v.device, err)
	}
	return nil
}

func (v *VideoCapture) CaptureImage(flush bool, flushCount int) (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cap == nil {
		return nil, ErrNotConnected
	}
	if flush && flushCount > 0 {
		v.cap.Grab(flushCount)
	}
	if ok := v.cap.Read(&v.mat); !ok || v.mat.Empty() {
		return nil, fmt.Errorf("%w: cannot read device %d", ErrCapture, v.device)
	}
	img, err := v.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: convert frame: %v", ErrCapture, err)
	}
	return img, nil
}
