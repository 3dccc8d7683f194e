//go:build gocv

package main

import "github.com/banshee-data/laserscan/internal/camera"

func openCamera(index, width, height int) (camera.Camera, error) {
	return camera.NewVideoCapture(index, width, height), nil
}
