package frame

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrNoImage is returned when the ambient or laser image is missing.
	ErrNoImage = errors.New("missing image")
	// ErrSizeMismatch is returned when the ambient and laser images differ in size.
	ErrSizeMismatch = errors.New("image size mismatch")
)

// lit is the value of a foreground pixel after binarisation.
const lit = 255

// Extraction is the result of reducing one laser image. Lines is empty, never
// nil, when no row contains a lit pixel.
type Extraction struct {
	Lines []Line

	Ambient image.Image
	Laser   image.Image
	Diff    *image.Gray
	Binary  *image.Gray
	Mask    *image.Gray
}

// Empty reports whether no laser line was detected.
func (e *Extraction) Empty() bool {
	return len(e.Lines) == 0
}

// Image returns the intermediate image of the given kind.
func (e *Extraction) Image(kind Kind) image.Image {
	switch kind {
	case KindRaw:
		return e.Ambient
	case KindLaser:
		return e.Laser
	case KindDiff:
		return e.Diff
	case KindBinary:
		return e.Binary
	case KindLine:
		return e.Mask
	default:
		return nil
	}
}

// Extract reduces an ambient/laser pair to a per-row line position.
func Extract(ambient, laser image.Image, p Params) (*Extraction, error) {
	if ambient == nil || laser == nil {
		return nil, ErrNoImage
	}
	ab, lb := ambient.Bounds(), laser.Bounds()
	if ab.Dx() != lb.Dx() || ab.Dy() != lb.Dy() {
		return nil, fmt.Errorf("%w: ambient %dx%d, laser %dx%d",
			ErrSizeMismatch, ab.Dx(), ab.Dy(), lb.Dx(), lb.Dy())
	}
	w, h := ab.Dx(), ab.Dy()

	rect := image.Rect(0, 0, w, h)
	diffPix, binPix, err := filterFrame(ambient, laser, w, h, p)
	if err != nil {
		return nil, fmt.Errorf("filter frame: %w", err)
	}
	diff := &image.Gray{Pix: diffPix, Stride: w, Rect: rect}
	bin := &image.Gray{Pix: binPix, Stride: w, Rect: rect}

	lines := reduceRows(bin.Pix, w, h, p.Algorithm)
	mask := image.NewGray(rect)
	for _, l := range lines {
		mask.Pix[l.Row*w+PixelColumn(l.Col, w)] = lit
	}

	return &Extraction{
		Lines:   lines,
		Ambient: ambient,
		Laser:   laser,
		Diff:    diff,
		Binary:  bin,
		Mask:    mask,
	}, nil
}

// PixelColumn rounds a sub-pixel column to the nearest pixel inside [0, width).
func PixelColumn(col float64, width int) int {
	c := math.Round(col)
	switch {
	case !(c >= 0):
		return 0
	case c >= float64(width):
		return width - 1
	}
	return int(c)
}

// reduceRows estimates the line position on every row with a non-zero sum.
func reduceRows(pix []uint8, w, h int, alg Algorithm) []Line {
	lines := make([]Line, 0, h)
	for row := 0; row < h; row++ {
		data := pix[row*w : (row+1)*w]

		var sum, weighted int
		argmax, maxVal := 0, uint8(0)
		for col, v := range data {
			if v == 0 {
				continue
			}
			sum += int(v)
			weighted += col * int(v)
			if v > maxVal {
				maxVal, argmax = v, col
			}
		}
		if sum == 0 {
			continue
		}

		var col float64
		switch alg {
		case Weighted:
			col = float64(weighted) / float64(sum)
		default:
			// Centre of a single contiguous run starting at argmax.
			n := float64(sum) / lit
			col = float64(argmax) + (n-1)/2
		}
		lines = append(lines, Line{Row: row, Col: col})
	}
	return lines
}
