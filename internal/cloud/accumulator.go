package cloud

import (
	"image/color"
	"sync"
)

// Accumulator collects batches in arrival order. Append is called by a
// single writer; Snapshot, Len and Theta may be called from any goroutine.
type Accumulator struct {
	mu      sync.RWMutex
	batches []Batch
	count   int
	theta   float64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds batch to the cloud and advances the angle by batch.Step.
// Empty batches still advance the angle but add no points.
func (a *Accumulator) Append(batch Batch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.theta += batch.Step
	if batch.Empty() {
		return
	}
	a.batches = append(a.batches, batch)
	a.count += batch.Len()
}

// Reset clears all points and the angle.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = nil
	a.count = 0
	a.theta = 0
}

// Len returns the total number of points.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

// Theta returns the cumulative angle of the appended batches.
func (a *Accumulator) Theta() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.theta
}

// Snapshot returns a consistent view of the cloud. Batches are shared with
// the accumulator; they are immutable once appended.
func (a *Accumulator) Snapshot() Cloud {
	a.mu.RLock()
	defer a.mu.RUnlock()
	batches := make([]Batch, len(a.batches))
	copy(batches, a.batches)
	return Cloud{Batches: batches, Theta: a.theta, count: a.count}
}

// Cloud is a point-in-time view of an Accumulator.
type Cloud struct {
	Batches []Batch
	Theta   float64
	count   int
}

// NewCloud builds a cloud from batches, for example when reloading a stored
// session.
func NewCloud(batches []Batch) Cloud {
	c := Cloud{Batches: batches}
	for _, b := range batches {
		c.count += b.Len()
		c.Theta += b.Step
	}
	return c
}

// Len returns the number of points in the cloud.
func (c Cloud) Len() int { return c.count }

// Complete reports whether a full revolution has been accumulated.
func (c Cloud) Complete() bool {
	return c.Theta >= 360 || c.Theta <= -360
}

// Points flattens the cloud into a single slice.
func (c Cloud) Points() []Point {
	out := make([]Point, 0, c.count)
	for _, b := range c.Batches {
		out = append(out, b.Points...)
	}
	return out
}

// Colors flattens the colours, parallel to Points.
func (c Cloud) Colors() []color.RGBA {
	out := make([]color.RGBA, 0, c.count)
	for _, b := range c.Batches {
		out = append(out, b.Colors...)
	}
	return out
}
