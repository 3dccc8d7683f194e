//go:build !gocv

package frame

import (
	"image"
	"image/color"
	"math"
)

// filterFrame returns the saturating red-channel difference laser - ambient
// and the binary image derived from it by the optional opening and
// threshold. Both are packed width*height slices.
func filterFrame(ambient, laser image.Image, w, h int, p Params) (diff, bin []uint8, err error) {
	laserRed := redChannel(laser)
	ambientRed := redChannel(ambient)
	diff = make([]uint8, w*h)
	for i := range diff {
		if laserRed[i] > ambientRed[i] {
			diff[i] = laserRed[i] - ambientRed[i]
		}
	}

	bin = make([]uint8, len(diff))
	copy(bin, diff)
	if p.OpenEnable && p.OpenValue > 1 {
		open(bin, w, h, p.OpenValue)
	}
	if p.ThresholdEnable {
		threshold(bin, p.ThresholdValue)
	}
	return diff, bin, nil
}

func threshold(pix []uint8, t uint8) {
	for i, v := range pix {
		if v >= t {
			pix[i] = lit
		} else {
			pix[i] = 0
		}
	}
}

// open applies a morphological opening (erosion then dilation) with a k x k
// rectangle anchored at (k/2, k/2), the same window for both operations as
// cv::morphologyEx uses. The rectangle is separable, so each operation runs
// as a horizontal then a vertical pass. Pixels outside the image do not
// take part in either operation.
func open(pix []uint8, w, h, k int) {
	anchor := k / 2
	lo, hi := -anchor, k-1-anchor
	tmp := make([]uint8, len(pix))

	pass(pix, tmp, w, h, lo, hi, true, false)
	pass(tmp, pix, w, h, lo, hi, true, true)
	pass(pix, tmp, w, h, lo, hi, false, false)
	pass(tmp, pix, w, h, lo, hi, false, true)
}

// pass writes to dst the min (erode) or max (dilate) of src over the window
// [i+lo, i+hi] along rows, or along columns when vertical is set.
func pass(src, dst []uint8, w, h, lo, hi int, erode, vertical bool) {
	n, lines := w, h
	if vertical {
		n, lines = h, w
	}
	for line := 0; line < lines; line++ {
		at := func(i int) int {
			if vertical {
				return i*w + line
			}
			return line*w + i
		}
		for i := 0; i < n; i++ {
			var acc uint8
			if erode {
				acc = math.MaxUint8
			}
			for j := i + lo; j <= i+hi; j++ {
				if j < 0 || j >= n {
					continue
				}
				v := src[at(j)]
				if erode && v < acc {
					acc = v
				} else if !erode && v > acc {
					acc = v
				}
			}
			dst[at(i)] = acc
		}
	}
}

// redChannel returns the red channel of img as a packed width*height slice.
// Gray images contribute their single channel.
func redChannel(img image.Image) []uint8 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				out[y*w+x] = row[x*4]
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				out[y*w+x] = row[x*4]
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				out[y*w+x] = c.R
			}
		}
	}
	return out
}
