// Package camera defines the image source the scanner captures from.
package camera

import (
	"errors"
	"image"
)

var (
	// ErrCapture wraps every failure to open or read a camera.
	ErrCapture = errors.New("camera capture failed")
	// ErrNotConnected is returned by CaptureImage before Connect.
	ErrNotConnected = errors.New("camera not connected")
)

// Camera is a frame source. CaptureImage with flush set discards flushCount
// buffered frames first so the returned image reflects the current laser and
// turntable state rather than a stale frame.
type Camera interface {
	Connect() error
	Disconnect() error
	CaptureImage(flush bool, flushCount int) (image.Image, error)
}
