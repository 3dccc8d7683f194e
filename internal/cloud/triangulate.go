package cloud

import (
	"image"
	"image/color"
	"math"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/frame"
)

// Triangulate maps each extracted line pixel through lookup, rotates it about
// the vertical axis by theta degrees and shifts it by zOffset. Colours are
// sampled from ambient at the same pixel; a nil ambient yields opaque black.
// Pixels without a valid lookup entry are skipped. With no lines the result
// is an empty batch, never nil slices.
func Triangulate(lines []frame.Line, lookup *calibration.WorldLookup, ambient image.Image, theta, zOffset float64) Batch {
	b := emptyBatch(0, theta, 0)
	if len(lines) == 0 || lookup == nil {
		return b
	}
	width, _ := lookup.Dims()
	sin, cos := math.Sincos(theta * math.Pi / 180)

	b.Points = make([]Point, 0, len(lines))
	b.Colors = make([]color.RGBA, 0, len(lines))
	for _, l := range lines {
		col := frame.PixelColumn(l.Col, width)
		x, y, z, ok := lookup.At(l.Row, col)
		if !ok {
			continue
		}
		b.Points = append(b.Points, Point{
			X: x*cos - y*sin,
			Y: x*sin + y*cos,
			Z: z + zOffset,
		})
		b.Colors = append(b.Colors, sample(ambient, l.Row, col))
	}
	return b
}

func sample(img image.Image, row, col int) color.RGBA {
	if img == nil {
		return color.RGBA{A: 255}
	}
	min := img.Bounds().Min
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba.RGBAAt(min.X+col, min.Y+row)
	}
	return color.RGBAModel.Convert(img.At(min.X+col, min.Y+row)).(color.RGBA)
}
