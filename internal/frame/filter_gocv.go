//go:build gocv

package frame

import (
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// filterFrame returns the saturating red-channel difference laser - ambient
// and the binary image derived from it by the optional opening and
// threshold. Both are packed width*height slices.
func filterFrame(ambient, laser image.Image, w, h int, p Params) (diff, bin []uint8, err error) {
	laserRed, err := redMat(laser, w, h)
	if err != nil {
		return nil, nil, err
	}
	defer laserRed.Close()
	ambientRed, err := redMat(ambient, w, h)
	if err != nil {
		return nil, nil, err
	}
	defer ambientRed.Close()

	d := gocv.NewMat()
	defer d.Close()
	gocv.Subtract(laserRed, ambientRed, &d)
	diff = d.ToBytes()

	b := d.Clone()
	defer b.Close()
	if p.OpenEnable && p.OpenValue > 1 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: p.OpenValue, Y: p.OpenValue})
		defer kernel.Close()
		opened := gocv.NewMat()
		defer opened.Close()
		gocv.MorphologyEx(b, &opened, gocv.MorphOpen, kernel)
		opened.CopyTo(&b)
	}
	if p.ThresholdEnable {
		// THRESH_BINARY keeps v > thresh; one below keeps v >= ThresholdValue.
		binary := gocv.NewMat()
		defer binary.Close()
		gocv.Threshold(b, &binary, float32(p.ThresholdValue)-1, lit, gocv.ThresholdBinary)
		binary.CopyTo(&b)
	}
	return diff, b.ToBytes(), nil
}

// redMat splits the red channel of img into a single-channel 8-bit Mat.
func redMat(img image.Image, w, h int) (gocv.Mat, error) {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Rect, img, img.Bounds().Min, draw.Src)

	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer m.Close()

	channels := gocv.Split(m)
	for _, c := range channels[1:] {
		c.Close()
	}
	return channels[0], nil
}
