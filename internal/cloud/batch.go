package cloud

import "image/color"

// Point is a world-space position in millimetres.
type Point struct {
	X, Y, Z float64
}

// Batch is the set of points produced from one captured frame. Points and
// Colors are parallel slices. A Batch is never modified after it has been
// handed to the Accumulator.
type Batch struct {
	Seq    uint64
	Theta  float64 // turntable angle the frame was captured at
	Step   float64 // angle advanced after the frame
	Points []Point
	Colors []color.RGBA
}

// Len returns the number of points in the batch.
func (b Batch) Len() int { return len(b.Points) }

// Empty reports whether the batch carries no points.
func (b Batch) Empty() bool { return len(b.Points) == 0 }

// emptyBatch returns a batch with non-nil zero-length slices.
func emptyBatch(seq uint64, theta, step float64) Batch {
	return Batch{
		Seq:    seq,
		Theta:  theta,
		Step:   step,
		Points: []Point{},
		Colors: []color.RGBA{},
	}
}

// Merge concatenates other onto b, keeping b's metadata.
func (b Batch) Merge(other Batch) Batch {
	out := Batch{
		Seq:    b.Seq,
		Theta:  b.Theta,
		Step:   b.Step,
		Points: make([]Point, 0, len(b.Points)+len(other.Points)),
		Colors: make([]color.RGBA, 0, len(b.Colors)+len(other.Colors)),
	}
	out.Points = append(append(out.Points, b.Points...), other.Points...)
	out.Colors = append(append(out.Colors, b.Colors...), other.Colors...)
	return out
}
