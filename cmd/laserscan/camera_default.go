//go:build !gocv

package main

import (
	"errors"

	"github.com/banshee-data/laserscan/internal/camera"
)

func openCamera(int, int, int) (camera.Camera, error) {
	return nil, errors.New("built without camera support: rebuild with -tags gocv, or run with -sim")
}
