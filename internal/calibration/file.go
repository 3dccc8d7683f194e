package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxFileSize caps calibration files; real files are a few hundred bytes.
const maxFileSize = 1 * 1024 * 1024

// LaserFile is the persisted calibration of one laser plane.
type LaserFile struct {
	Coordinates [][]float64 `json:"laser_coordinates" yaml:"laser_coordinates"` // [[u11, u12], [u21, u22]]
	Depth       float64     `json:"laser_depth" yaml:"laser_depth"`
}

// File is the on-disk calibration format. Right is optional.
type File struct {
	CameraMatrix      [][]float64 `json:"calibration_matrix" yaml:"calibration_matrix"`
	RotationMatrix    [][]float64 `json:"rotation_matrix" yaml:"rotation_matrix"`
	TranslationVector []float64   `json:"translation_vector" yaml:"translation_vector"`
	Width             int         `json:"width" yaml:"width"`
	Height            int         `json:"height" yaml:"height"`
	Alpha             *float64    `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Left              LaserFile   `json:"left" yaml:"left"`
	Right             *LaserFile  `json:"right,omitempty" yaml:"right,omitempty"`
}

// Load reads a calibration file. The format is chosen by extension:
// .json, .yaml or .yml.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json":
		err = json.Unmarshal(data, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("calibration file must be .json, .yaml or .yml, got %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}
	return &f, nil
}

// Context returns the calibration context for one laser side.
func (f *File) Context(side Side) (*Context, error) {
	laser := f.Left
	if side == RightLaser {
		if f.Right == nil {
			return nil, fmt.Errorf("%w: no right laser calibration", ErrInvalidCalibration)
		}
		laser = *f.Right
	}
	alpha := DefaultAlpha
	if f.Alpha != nil {
		alpha = *f.Alpha
	}
	return NewContext(f.CameraMatrix, laser.Coordinates, laser.Depth,
		f.RotationMatrix, f.TranslationVector, f.Width, f.Height, alpha)
}

// BuildLookupSet builds the lookups for every laser present in the file.
func (f *File) BuildLookupSet() (LookupSet, error) {
	var set LookupSet
	left, err := f.Context(LeftLaser)
	if err != nil {
		return set, err
	}
	if set.Left, err = BuildLookup(left); err != nil {
		return set, fmt.Errorf("left laser: %w", err)
	}
	if f.Right != nil {
		right, err := f.Context(RightLaser)
		if err != nil {
			return set, err
		}
		if set.Right, err = BuildLookup(right); err != nil {
			return set, fmt.Errorf("right laser: %w", err)
		}
	}
	return set, nil
}
