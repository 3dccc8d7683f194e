package frame

import (
	"fmt"
	"image"
	"strings"
)

// Pair is one capture step: the ambient image and the image taken with each
// enabled laser lit. Unused lasers leave their image nil.
type Pair struct {
	Seq        uint64
	Theta      float64 // turntable angle (degrees) at capture
	Step       float64 // degrees the turntable advanced after capture
	Ambient    image.Image
	LaserLeft  image.Image
	LaserRight image.Image
}

// Algorithm selects the per-row line position estimator.
type Algorithm int

const (
	// Compact estimates the line centre from the first brightest pixel and
	// the lit run length. O(1) per row after the row sum.
	Compact Algorithm = iota
	// Weighted computes the intensity-weighted mean column of the row.
	Weighted
)

func (a Algorithm) String() string {
	switch a {
	case Compact:
		return "compact"
	case Weighted:
		return "weighted"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ParseAlgorithm accepts "compact" and "weighted" ("complete" is accepted as
// an alias of weighted).
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compact", "":
		return Compact, nil
	case "weighted", "complete":
		return Weighted, nil
	default:
		return Compact, fmt.Errorf("unknown line algorithm %q", s)
	}
}

// Params are the image-processing settings applied to one frame.
type Params struct {
	OpenEnable      bool
	OpenValue       int
	ThresholdEnable bool
	ThresholdValue  uint8
	Algorithm       Algorithm
}

// Line is the detected laser position on one image row.
type Line struct {
	Row int
	Col float64
}

// Kind names one of the intermediate images kept for preview.
type Kind int

const (
	KindRaw Kind = iota
	KindLaser
	KindDiff
	KindBinary
	KindLine
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindLaser:
		return "las"
	case KindDiff:
		return "diff"
	case KindBinary:
		return "bin"
	case KindLine:
		return "line"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses the short image kind names used by the preview API.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw":
		return KindRaw, nil
	case "las", "laser":
		return KindLaser, nil
	case "diff":
		return KindDiff, nil
	case "bin", "binary":
		return KindBinary, nil
	case "line":
		return KindLine, nil
	default:
		return KindRaw, fmt.Errorf("unknown image kind %q", s)
	}
}
