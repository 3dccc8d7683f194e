package cloud

import (
	"fmt"
	"image/color"
	"math"
)

// Bounds is a cylindrical region around the turntable axis. Rho is the
// horizontal distance from the axis and H the height, both in millimetres.
type Bounds struct {
	RhoMin, RhoMax float64
	HMin, HMax     float64
}

// DefaultBounds mirrors the factory profile of the scanner.
var DefaultBounds = Bounds{RhoMin: -100, RhoMax: 100, HMin: 0, HMax: 200}

// Validate rejects inverted or non-finite ranges.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.RhoMin, b.RhoMax, b.HMin, b.HMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bounds must be finite: %+v", b)
		}
	}
	if b.RhoMin > b.RhoMax {
		return fmt.Errorf("rho_min %.2f exceeds rho_max %.2f", b.RhoMin, b.RhoMax)
	}
	if b.HMin > b.HMax {
		return fmt.Errorf("h_min %.2f exceeds h_max %.2f", b.HMin, b.HMax)
	}
	return nil
}

// Contains reports whether p lies inside the cylinder, boundaries included.
func (b Bounds) Contains(p Point) bool {
	if p.Z < b.HMin || p.Z > b.HMax {
		return false
	}
	rho := math.Hypot(p.X, p.Y)
	return rho >= b.RhoMin && rho <= b.RhoMax
}

// Within reports whether b is a subset of other.
func (b Bounds) Within(other Bounds) bool {
	return b.RhoMin >= other.RhoMin && b.RhoMax <= other.RhoMax &&
		b.HMin >= other.HMin && b.HMax <= other.HMax
}

// Filter returns a new batch holding only the points of batch inside b, in
// their original order with their colours. The input is not modified.
func (b Bounds) Filter(batch Batch) Batch {
	out := emptyBatch(batch.Seq, batch.Theta, batch.Step)
	for i, p := range batch.Points {
		if !b.Contains(p) {
			continue
		}
		out.Points = append(out.Points, p)
		if i < len(batch.Colors) {
			out.Colors = append(out.Colors, batch.Colors[i])
		} else {
			out.Colors = append(out.Colors, color.RGBA{A: 255})
		}
	}
	return out
}
